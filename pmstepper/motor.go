// Package pmstepper implements a two-phase permanent-magnet stepper driven by a feedback-linearizing
// controller through two PWM H-bridges, two phase current shunts and a quadrature encoder.
package pmstepper

import (
	"context"
	"math"
	"sync"
	"time"

	movingaverage "github.com/RobinUS2/golang-moving-average"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/components/board"
	"go.viam.com/rdk/components/encoder"
	"go.viam.com/rdk/components/motor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/operation"
	"go.viam.com/rdk/resource"

	"github.com/viam-modules/pm-stepper/fblin"
)

// Model is the model triplet of the feedback-linearized stepper.
var Model = resource.NewModel("viam", "pm-stepper", "fblin")

func init() {
	resource.RegisterComponent(motor.API, Model, resource.Registration[motor.Motor, *Config]{
		Constructor: newMotor,
	})
}

// trackingWindow is the number of flusher periods averaged into the reported tracking error.
const trackingWindow = 100

// trackingAverage is a rolling mean of the absolute tracking error of the current run.
type trackingAverage struct {
	mu  sync.Mutex
	avg *movingaverage.MovingAverage
	n   int
}

func newTrackingAverage() *trackingAverage {
	return &trackingAverage{avg: movingaverage.New(trackingWindow)}
}

func (t *trackingAverage) add(err float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.avg.Add(math.Abs(err))
	t.n++
}

func (t *trackingAverage) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.avg = movingaverage.New(trackingWindow)
	t.n = 0
}

// mean returns the rolling mean, or 0 before the first value.
func (t *trackingAverage) mean() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.n == 0 {
		return 0
	}
	return t.avg.Avg()
}

// A Motor is a two-phase stepper whose phase voltages are computed each tick by a control law.
type Motor struct {
	resource.Named
	resource.AlwaysRebuild
	hw             hardware
	enc            *encoderInput
	params         fblin.Params
	controllerName string
	maxRPM         float64
	pwmFreqHz      uint
	logger         logging.Logger
	opMgr          *operation.SingleOperationManager
	tracking       *trackingAverage

	mu       sync.Mutex
	current  *mission
	powerPct float64
}

// newMotor returns a stepper wired to board pins, analog readers and an encoder.
func newMotor(ctx context.Context, deps resource.Dependencies, c resource.Config, logger logging.Logger,
) (motor.Motor, error) {
	conf, err := resource.NativeConfig[*Config](c)
	if err != nil {
		return nil, err
	}
	b, err := board.FromDependencies(deps, conf.BoardName)
	if err != nil {
		return nil, errors.Wrap(err, "expected board name in config for motor")
	}
	enc, err := encoder.FromDependencies(deps, conf.Encoder)
	if err != nil {
		return nil, errors.Wrap(err, "expected encoder name in config for motor")
	}
	hw := hardware{encoder: enc}
	for _, p := range []struct {
		name string
		dst  *board.GPIOPin
	}{
		{conf.Pins.PWMA, &hw.pwmA},
		{conf.Pins.DirA, &hw.dirA},
		{conf.Pins.PWMB, &hw.pwmB},
		{conf.Pins.DirB, &hw.dirB},
		{conf.Pins.Heartbeat, &hw.heartbeat},
	} {
		if p.name == "" {
			continue
		}
		if *p.dst, err = b.GPIOPinByName(p.name); err != nil {
			return nil, errors.Wrapf(err, "pin %s", p.name)
		}
	}
	if hw.currentA, err = b.AnalogByName(conf.Analogs.CurrentA); err != nil {
		return nil, errors.Wrapf(err, "analog %s", conf.Analogs.CurrentA)
	}
	if hw.currentB, err = b.AnalogByName(conf.Analogs.CurrentB); err != nil {
		return nil, errors.Wrapf(err, "analog %s", conf.Analogs.CurrentB)
	}
	return makeMotor(ctx, *conf, c.ResourceName(), logger, hw)
}

// makeMotor is separate from newMotor so tests can inject fake pins, readers and encoders.
func makeMotor(ctx context.Context, c Config, name resource.Name, logger logging.Logger, hw hardware,
) (*Motor, error) {
	if hw.encoder == nil || hw.pwmA == nil || hw.dirA == nil || hw.pwmB == nil || hw.dirB == nil {
		return nil, errors.New("encoder, pwm and direction pins are required")
	}
	if hw.currentA == nil || hw.currentB == nil {
		return nil, errors.New("both phase current readers are required")
	}
	c.applyDefaults(ctx, logger)
	params, err := c.params()
	if err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if c.Controller == "" {
		c.Controller = fblin.ControllerFeedbackLinearization
	}
	if _, err := fblin.NewController(c.Controller, params); err != nil {
		return nil, err
	}

	m := &Motor{
		Named:          name.AsNamed(),
		hw:             hw,
		enc:            newEncoderInput(hw.encoder, c.EncoderReversed),
		params:         params,
		controllerName: c.Controller,
		maxRPM:         c.MaxRPM,
		pwmFreqHz:      c.PWMFreqHz,
		logger:         logger,
		opMgr:          operation.NewSingleOperationManager(),
		tracking:       newTrackingAverage(),
	}
	logger.Debugf("motor %s: controller %s, tick %v, mission %v, log %d samples (%s)",
		name.ShortName(), c.Controller, params.TickPeriod, params.MissionDuration,
		params.LogCapacity, params.LogPolicy)
	return m, nil
}

// stopMission ends the last mission, if any, and waits for its outputs to be zeroed. Callers
// hold m.mu.
func (m *Motor) stopMission() error {
	if m.current == nil {
		return nil
	}
	return m.current.stop()
}

// planner returns the trajectory of a run starting at start and the parameters to run it with.
type planner func(start float64) (fblin.Trajectory, fblin.Params, error)

// run replaces the current mission with the one plan returns.
func (m *Motor) run(ctx context.Context, plan planner) (*mission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.stopMission(); err != nil {
		return nil, err
	}
	count, err := m.enc.read(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading encoder of motor (%s)", m.Name().ShortName())
	}
	t, p, err := plan(float64(count) * m.params.CountToRadians())
	if err != nil {
		return nil, err
	}
	ms, err := m.startMission(ctx, t, p, count)
	if err != nil {
		return nil, err
	}
	m.current = ms
	return ms, nil
}

// wait blocks until ms ends or ctx is done, in which case the run is stopped.
func (m *Motor) wait(ctx context.Context, ms *mission) error {
	select {
	case <-ms.done:
		if ms.err != nil {
			return ms.err
		}
		if st := ms.rig.Status(); st.Reason == fblin.StopLogFull {
			return errors.Errorf("motor (%s) stopped early: sample log full", m.Name().ShortName())
		}
		return nil
	case <-ctx.Done():
		return multierr.Combine(ms.stop(), ctx.Err())
	}
}

// ticksFor rounds seconds up to a whole number of control ticks, at least one.
func ticksFor(seconds float64, tick time.Duration) time.Duration {
	n := math.Ceil(seconds / tick.Seconds())
	if n < 1 {
		n = 1
	}
	return time.Duration(n) * tick
}

// Position reports the last estimated angle in revolutions while a run is active and the encoder
// position otherwise.
func (m *Motor) Position(ctx context.Context, extra map[string]interface{}) (float64, error) {
	m.mu.Lock()
	ms := m.current
	m.mu.Unlock()
	if ms != nil && ms.running() {
		return ms.rig.Status().Angle / (2 * math.Pi), nil
	}
	count, err := m.enc.read(ctx)
	if err != nil {
		return 0, errors.Wrapf(err, "error in Position from motor (%s)", m.Name().ShortName())
	}
	return float64(count) / float64(m.params.CountsPerRevolution), nil
}

// Properties returns the status of optional properties on the motor.
func (m *Motor) Properties(ctx context.Context, extra map[string]interface{}) (motor.Properties, error) {
	return motor.Properties{
		PositionReporting: true,
	}, nil
}

// SetPower runs the motor at a percent of max_rpm supplied by powerPct (between -1 and 1).
func (m *Motor) SetPower(ctx context.Context, powerPct float64, extra map[string]interface{}) error {
	m.opMgr.CancelRunning(ctx)
	return m.SetRPM(ctx, powerPct*m.maxRPM, extra)
}

// SetRPM tracks a constant-velocity profile from the current angle for the mission duration. It
// returns once the run has started. An rpm of zero stops the motor.
func (m *Motor) SetRPM(ctx context.Context, rpm float64, extra map[string]interface{}) error {
	m.opMgr.CancelRunning(ctx)
	if rpm == 0 {
		return m.Stop(ctx, extra)
	}
	warning, err := motor.CheckSpeed(rpm, m.maxRPM)
	if warning != "" {
		m.logger.CWarn(ctx, warning)
	}
	if err != nil {
		return err
	}
	velocity := math.Copysign(rpmToRadPerSec(math.Min(math.Abs(rpm), m.maxRPM)), rpm)
	_, err = m.run(ctx, func(start float64) (fblin.Trajectory, fblin.Params, error) {
		return fblin.Ramp{Offset: start, Velocity: velocity}, m.params, nil
	})
	if err != nil {
		return errors.Wrapf(err, "error in SetRPM from motor (%s)", m.Name().ShortName())
	}
	m.mu.Lock()
	m.powerPct = math.Max(-1, math.Min(1, rpm/m.maxRPM))
	m.mu.Unlock()
	return nil
}

// GoFor moves the given number of revolutions relative to the current position. The direction is
// the product of the signs of rpm and revolutions, so two negatives move forward.
func (m *Motor) GoFor(ctx context.Context, rpm, rotations float64, extra map[string]interface{}) error {
	warning, err := motor.CheckSpeed(rpm, m.maxRPM)
	if warning != "" {
		m.logger.CWarn(ctx, warning)
	}
	if err != nil {
		return err
	}

	curPos, err := m.Position(ctx, extra)
	if err != nil {
		return errors.Wrapf(err, "error in GoFor from motor (%s)", m.Name().ShortName())
	}

	reverse := math.Signbit(rotations) != math.Signbit(rpm)
	rotations = math.Abs(rotations)
	if reverse {
		rotations = -rotations
	}
	return m.GoTo(ctx, math.Abs(rpm), curPos+rotations, extra)
}

// GoTo moves to positionRevolutions along a minimum-jerk profile that peaks at rpm. Regardless of
// the sign of rpm the motor moves towards the target. It blocks until the run ends.
func (m *Motor) GoTo(ctx context.Context, rpm, positionRevolutions float64, extra map[string]interface{}) error {
	ctx, done := m.opMgr.New(ctx)
	defer done()

	warning, err := motor.CheckSpeed(rpm, m.maxRPM)
	if warning != "" {
		m.logger.CWarn(ctx, warning)
	}
	if err != nil {
		return err
	}

	target := positionRevolutions * 2 * math.Pi
	velocity := rpmToRadPerSec(math.Min(math.Abs(rpm), m.maxRPM))
	ms, err := m.run(ctx, func(start float64) (fblin.Trajectory, fblin.Params, error) {
		p := m.params
		p.MissionDuration = ticksFor(fblin.MinimumJerkDuration(target-start, velocity), p.TickPeriod)
		traj, err := fblin.NewMinimumJerk(start, target, p.MissionDuration.Seconds())
		return traj, p, err
	})
	if err != nil {
		return errors.Wrapf(err, "error in GoTo from motor (%s)", m.Name().ShortName())
	}
	return m.wait(ctx, ms)
}

// Stop aborts the current run and drives both phases to zero.
func (m *Motor) Stop(ctx context.Context, extra map[string]interface{}) error {
	m.opMgr.CancelRunning(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.powerPct = 0
	return m.stopMission()
}

// IsMoving returns true while a run is active.
func (m *Motor) IsMoving(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && m.current.running(), nil
}

// IsPowered returns true while a run is active.
func (m *Motor) IsPowered(ctx context.Context, extra map[string]interface{}) (bool, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	on := m.current != nil && m.current.running()
	if !on {
		return false, 0, nil
	}
	return true, m.powerPct, nil
}

// ResetZeroPosition sets the current position of the motor (adjusted by a given offset) to be its
// new zero position.
func (m *Motor) ResetZeroPosition(ctx context.Context, offset float64, extra map[string]interface{}) error {
	on, _, err := m.IsPowered(ctx, extra)
	if err != nil {
		return errors.Wrapf(err, "error in ResetZeroPosition from motor (%s)", m.Name().ShortName())
	} else if on {
		return errors.Errorf("can't zero motor (%s) while moving", m.Name().ShortName())
	}
	m.enc.offset.Store(0)
	count, err := m.enc.read(ctx)
	if err != nil {
		return errors.Wrapf(err, "error in ResetZeroPosition from motor (%s)", m.Name().ShortName())
	}
	m.enc.offset.Store(count + int64(math.Round(offset*float64(m.params.CountsPerRevolution))))
	return nil
}

// DoCommand keys and commands.
const (
	Command = "command"
	Status  = "status"
	Samples = "samples"
)

// DoCommand executes additional commands beyond the Motor{} interface.
func (m *Motor) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	name, ok := cmd[Command]
	if !ok {
		return nil, errors.Errorf("missing %s value", Command)
	}
	m.mu.Lock()
	ms := m.current
	m.mu.Unlock()
	switch name {
	case Status:
		return m.status(ms), nil
	case Samples:
		if ms == nil {
			return nil, errors.New("no run has started")
		}
		samples, err := ms.rig.Samples()
		if err != nil {
			return nil, err
		}
		out := make([]interface{}, 0, len(samples))
		for _, s := range samples {
			out = append(out, map[string]interface{}{
				"tick":                     s.Tick,
				"time_sec":                 s.Time,
				"angle_rad":                s.Angle,
				"angular_velocity_rad_sec": s.AngularVelocity,
				"current_a":                s.CurrentA,
				"current_b":                s.CurrentB,
				"voltage_a":                s.VoltageA,
				"voltage_b":                s.VoltageB,
			})
		}
		return map[string]interface{}{Samples: out}, nil
	default:
		return nil, errors.Errorf("no such command: %s", name)
	}
}

func (m *Motor) status(ms *mission) map[string]interface{} {
	if ms == nil {
		return map[string]interface{}{"state": "idle"}
	}
	st := ms.rig.Status()
	out := map[string]interface{}{
		"state":                       st.State.String(),
		"reason":                      st.Reason.String(),
		"tick":                        st.Tick,
		"elapsed_sec":                 st.Elapsed,
		"angle_rad":                   st.Angle,
		"angular_velocity_rad_sec":    st.Velocity,
		"tracking_error_rad":          st.TrackingError,
		"mean_abs_tracking_error_rad": m.tracking.mean(),
	}
	if !ms.running() {
		held, dropped := ms.rig.LogStats()
		out["samples"] = held
		out["dropped_samples"] = dropped
	}
	return out
}

// Close stops the current run and drives both phases to zero.
func (m *Motor) Close(ctx context.Context) error {
	return m.Stop(ctx, nil)
}
