package fblin

import (
	"math"

	"github.com/pkg/errors"
)

// Trajectory is a desired shaft angle as a function of time since the start of the run.
type Trajectory interface {
	Angle(t float64) float64
}

// Quintic is the profile Offset + t^3*(C2*t^2 + C1*t + C0).
type Quintic struct {
	Offset float64
	C0     float64
	C1     float64
	C2     float64
}

// Angle implements Trajectory.
func (q Quintic) Angle(t float64) float64 {
	t3 := t * t * t
	return q.Offset + t3*(q.C2*t*t+q.C1*t+q.C0)
}

// NewMinimumJerk returns the quintic that moves from start to target in duration seconds with
// zero velocity and acceleration at both ends.
func NewMinimumJerk(start, target, duration float64) (Quintic, error) {
	if duration <= 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		return Quintic{}, errors.Errorf("trajectory duration must be positive and finite, got %v", duration)
	}
	d := target - start
	t3 := duration * duration * duration
	return Quintic{
		Offset: start,
		C0:     10 * d / t3,
		C1:     -15 * d / (t3 * duration),
		C2:     6 * d / (t3 * duration * duration),
	}, nil
}

// MinimumJerkDuration is the duration for which a minimum-jerk move of distance rad peaks at
// maxVelocity rad/s.
func MinimumJerkDuration(distance, maxVelocity float64) float64 {
	return 1.875 * math.Abs(distance) / math.Abs(maxVelocity)
}

// DefaultTrajectory is the rig's mission: one revolution in the default mission duration.
func DefaultTrajectory() Quintic {
	q, _ := NewMinimumJerk(0, 2*math.Pi, DefaultMissionDuration.Seconds())
	return q
}

// Ramp is a constant-velocity profile.
type Ramp struct {
	Offset   float64
	Velocity float64 // rad/s
}

// Angle implements Trajectory.
func (r Ramp) Angle(t float64) float64 {
	return r.Offset + r.Velocity*t
}

// DesiredState is the reference the controller tracks on one tick.
type DesiredState struct {
	Angle        float64
	Velocity     float64
	Acceleration float64
	Jerk         float64
}

// Generator samples a Trajectory once per tick. Velocity (and the higher derivatives) come from
// backward differences of the sampled angle, never from the closed form, so the reference and the
// measured velocity carry the same differentiation error.
type Generator struct {
	traj    Trajectory
	invTick float64
	prev    DesiredState
}

// NewGenerator returns a generator whose history starts at the trajectory's value at t=0.
func NewGenerator(traj Trajectory, p Params) *Generator {
	return &Generator{
		traj:    traj,
		invTick: 1 / p.TickSeconds(),
		prev:    DesiredState{Angle: traj.Angle(0)},
	}
}

// Next returns the desired state at elapsed seconds and advances the history by one tick.
func (g *Generator) Next(elapsed float64) DesiredState {
	d := DesiredState{Angle: g.traj.Angle(elapsed)}
	d.Velocity = (d.Angle - g.prev.Angle) * g.invTick
	d.Acceleration = (d.Velocity - g.prev.Velocity) * g.invTick
	d.Jerk = (d.Acceleration - g.prev.Acceleration) * g.invTick
	g.prev = d
	return d
}
