package fblin

import (
	"sync/atomic"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// TickResult describes one control cycle.
type TickResult struct {
	Tick    int64
	Elapsed float64
	Shaft   ShaftState
	Desired DesiredState
	Output  ControlOutput
	DriveA  PhaseDrive
	DriveB  PhaseDrive
	Logged  bool
	State   RunState
}

// Rig is the state of one run: every piece of pipeline state lives here and is created when the
// run starts. Tick is the only writer of estimator, reference, log and supervisor state.
// OnPhaseASample and OnPhaseBSample are the only writers of the phase current cells and may run
// concurrently with Tick. A stopped Rig cannot be restarted; start a new one.
type Rig struct {
	params     Params
	hw         Hardware
	logger     logging.Logger
	estimator  *Estimator
	generator  *Generator
	controller Controller
	mapper     Mapper
	log        *SampleLog
	supervisor *Supervisor
	tickSec    float64
	scale      float64
	tick       int64

	currentA Float64Cell
	currentB Float64Cell

	abort atomic.Bool
	done  chan struct{}

	// published for readers outside the tick
	pubState    atomic.Int32
	pubReason   atomic.Int32
	pubTick     Int64Cell
	pubAngle    Float64Cell
	pubVelocity Float64Cell
	pubError    Float64Cell
}

// NewRig builds a run context. The returned Rig is Running.
func NewRig(p Params, traj Trajectory, ctrl Controller, hw Hardware, logger logging.Logger) (*Rig, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if traj == nil || ctrl == nil {
		return nil, errors.New("trajectory and controller are required")
	}
	if hw.Encoder == nil || hw.PWMA == nil || hw.PWMB == nil || hw.DirA == nil || hw.DirB == nil {
		return nil, errors.New("encoder, both pulse generators and both direction pins are required")
	}
	return &Rig{
		params:     p,
		hw:         hw,
		logger:     logger,
		estimator:  NewEstimator(p),
		generator:  NewGenerator(traj, p),
		controller: ctrl,
		mapper:     NewMapper(p),
		log:        NewSampleLog(p.LogCapacity, p.LogPolicy),
		supervisor: NewSupervisor(p, hw.Heartbeat),
		tickSec:    p.TickSeconds(),
		scale:      p.CurrentScale,
		done:       make(chan struct{}),
	}, nil
}

// Seed aligns the estimator history with angle, for runs that do not start at zero.
func (r *Rig) Seed(angle float64) {
	r.estimator.Seed(angle)
	r.pubAngle.Store(angle)
}

// OnPhaseASample is the phase A sampling-completion handler.
func (r *Rig) OnPhaseASample(raw uint16) {
	r.currentA.Store(float64(raw) * r.scale)
}

// OnPhaseBSample is the phase B sampling-completion handler.
func (r *Rig) OnPhaseBSample(raw uint16) {
	r.currentB.Store(float64(raw) * r.scale)
}

// RequestStop asks the next tick to end the run. Safe to call from any goroutine.
func (r *Rig) RequestStop() {
	r.abort.Store(true)
}

// Tick runs one control cycle. Once the run has stopped it does nothing.
func (r *Rig) Tick() TickResult {
	if r.supervisor.State() == Stopped {
		return TickResult{Tick: r.tick, Elapsed: float64(r.tick) * r.tickSec, State: Stopped}
	}
	r.tick++
	res := TickResult{Tick: r.tick, Elapsed: float64(r.tick) * r.tickSec}
	r.pubTick.Store(r.tick)

	if r.abort.Load() {
		res.DriveA, res.DriveB = r.shutdown(StopAborted)
		res.State = Stopped
		return res
	}

	res.Shaft = r.estimator.Update(r.hw.Encoder.Count())
	res.Desired = r.generator.Next(res.Elapsed)
	r.pubAngle.Store(res.Shaft.Angle)
	r.pubVelocity.Store(res.Shaft.AngularVelocity)
	r.pubError.Store(res.Shaft.Angle - res.Desired.Angle)

	if r.supervisor.Due(r.tick) {
		res.DriveA, res.DriveB = r.shutdown(StopMissionComplete)
		res.State = Stopped
		return res
	}

	in := ControlInput{
		Shaft:    res.Shaft,
		Desired:  res.Desired,
		CurrentA: r.currentA.Load(),
		CurrentB: r.currentB.Load(),
	}
	res.Output = r.controller.Compute(in)
	res.DriveA = r.mapper.Apply(res.Output.VoltageA, r.hw.PWMA, r.hw.DirA)
	res.DriveB = r.mapper.Apply(res.Output.VoltageB, r.hw.PWMB, r.hw.DirB)

	logged, err := r.log.Record(Sample{
		Tick:            r.tick,
		Time:            res.Elapsed,
		Angle:           res.Shaft.Angle,
		AngularVelocity: res.Shaft.AngularVelocity,
		CurrentA:        in.CurrentA,
		CurrentB:        in.CurrentB,
		VoltageA:        res.Output.VoltageA,
		VoltageB:        res.Output.VoltageB,
	})
	res.Logged = logged
	if err != nil {
		res.DriveA, res.DriveB = r.shutdown(StopLogFull)
		res.State = Stopped
		return res
	}

	r.supervisor.Beat()
	res.State = Running
	return res
}

// Shutdown ends the run from outside the clock, e.g. after the clock source died. It must not
// run concurrently with Tick. It does nothing if the run already stopped.
func (r *Rig) Shutdown() {
	r.shutdown(StopAborted)
}

func (r *Rig) shutdown(reason StopReason) (PhaseDrive, PhaseDrive) {
	if !r.supervisor.Stop(reason) {
		return PhaseDrive{}, PhaseDrive{}
	}
	a := r.mapper.Apply(0, r.hw.PWMA, r.hw.DirA)
	b := r.mapper.Apply(0, r.hw.PWMB, r.hw.DirB)
	if r.hw.Clock != nil {
		r.hw.Clock.Stop()
	}
	r.pubReason.Store(int32(reason))
	r.pubState.Store(int32(Stopped))
	if r.logger != nil {
		r.logger.Infow("run stopped",
			"reason", reason.String(),
			"tick", r.tick,
			"elapsed_sec", float64(r.tick)*r.tickSec,
			"samples", r.log.Len(),
			"dropped_samples", r.log.Dropped(),
		)
	}
	close(r.done)
	return a, b
}

// Done is closed when the run stops.
func (r *Rig) Done() <-chan struct{} {
	return r.done
}

// Status is a snapshot of a run that is safe to take from any goroutine.
type Status struct {
	State         RunState
	Reason        StopReason
	Tick          int64
	Elapsed       float64
	Angle         float64
	Velocity      float64
	TrackingError float64
}

// Status returns the published run state.
func (r *Rig) Status() Status {
	tick := r.pubTick.Load()
	return Status{
		State:         RunState(r.pubState.Load()),
		Reason:        StopReason(r.pubReason.Load()),
		Tick:          tick,
		Elapsed:       float64(tick) * r.tickSec,
		Angle:         r.pubAngle.Load(),
		Velocity:      r.pubVelocity.Load(),
		TrackingError: r.pubError.Load(),
	}
}

// Samples returns the logged samples. It errors while the run is in progress because the log is
// owned by the tick until then.
func (r *Rig) Samples() ([]Sample, error) {
	select {
	case <-r.done:
		return r.log.Samples(), nil
	default:
		return nil, errors.New("run in progress")
	}
}

// LogStats returns the number of held and dropped samples. It returns zeros while the run is in
// progress because the log is owned by the tick until then.
func (r *Rig) LogStats() (held, dropped int) {
	select {
	case <-r.done:
		return r.log.Len(), r.log.Dropped()
	default:
		return 0, 0
	}
}

// CurrentA returns the last phase A current seen by the cell.
func (r *Rig) CurrentA() float64 {
	return r.currentA.Load()
}

// CurrentB returns the last phase B current seen by the cell.
func (r *Rig) CurrentB() float64 {
	return r.currentB.Load()
}

// Params returns the parameters the rig was built with.
func (r *Rig) Params() Params {
	return r.params
}
