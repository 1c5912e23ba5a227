// Package fblin implements the discrete-time control pipeline of a two-phase permanent-magnet
// stepper driven by electrical-angle feedback linearization: encoder decoding, trajectory
// generation, the current/voltage law, duty-cycle synthesis, decimated logging and end-of-run
// shutdown.
package fblin

import (
	"math"
	"time"

	"github.com/pkg/errors"
)

// Outer position/velocity loop gains.
const (
	DefaultKp = 0.07
	DefaultKd = 0.00001
)

// Inner current loop gains (V/A).
const (
	DefaultAlphaA = 2.0
	DefaultAlphaB = 2.0
)

// Motor electrical and mechanical parameters of the rig.
const (
	DefaultResistance     = 5.0       // phase winding resistance (ohm)
	DefaultInductance     = 0.006     // phase winding inductance (H)
	DefaultTorqueConstant = 0.15      // N*m/A
	DefaultInertia        = 0.0001872 // rotor inertia (kg*m^2)
	DefaultDamping        = 0.002     // rotor damping (N*m/(rad/s))
	DefaultTeeth          = 100       // rotor teeth; electrical angle = teeth * mechanical angle
)

// Run and actuation limits.
const (
	DefaultVMax            = 12.0 // supply rail (V)
	DefaultTickPeriod      = time.Millisecond
	DefaultMissionDuration = 10 * time.Second
	DefaultLogCapacity     = 5000
	// DefaultPWMPeriod is the compare period of the phase PWM generators: writing the period
	// gives 0% active time, writing 0 gives 100%.
	DefaultPWMPeriod = 5000
)

// Calibration constants.
const (
	// DefaultCountsPerRevolution is the quadrature edge count of one shaft turn
	// (10000 line encoder, x4 decoding).
	DefaultCountsPerRevolution = 40000
	// CurrentScale converts a raw 12 bit sample to phase current (A). It folds the sense
	// resistor and amplifier gain of the rig and is not a tuning knob.
	CurrentScale = 0.000791452315
	// VoltageHeadroom is added to VMax in the duty cycle denominator so that a saturated
	// command never drives the compare register all the way to the rail.
	VoltageHeadroom = 0.5
)

// Params holds every constant the pipeline is built from.
type Params struct {
	Kp     float64
	Kd     float64
	AlphaA float64
	AlphaB float64

	Resistance     float64
	Inductance     float64
	TorqueConstant float64
	Inertia        float64
	Damping        float64
	Teeth          int

	VMax      float64
	PWMPeriod uint32

	TickPeriod      time.Duration
	MissionDuration time.Duration
	LogCapacity     int
	LogPolicy       LogPolicy

	CountsPerRevolution int64
	CurrentScale        float64
}

// DefaultParams returns the parameters of the reference rig.
func DefaultParams() Params {
	return Params{
		Kp:                  DefaultKp,
		Kd:                  DefaultKd,
		AlphaA:              DefaultAlphaA,
		AlphaB:              DefaultAlphaB,
		Resistance:          DefaultResistance,
		Inductance:          DefaultInductance,
		TorqueConstant:      DefaultTorqueConstant,
		Inertia:             DefaultInertia,
		Damping:             DefaultDamping,
		Teeth:               DefaultTeeth,
		VMax:                DefaultVMax,
		PWMPeriod:           DefaultPWMPeriod,
		TickPeriod:          DefaultTickPeriod,
		MissionDuration:     DefaultMissionDuration,
		LogCapacity:         DefaultLogCapacity,
		LogPolicy:           LogStop,
		CountsPerRevolution: DefaultCountsPerRevolution,
		CurrentScale:        CurrentScale,
	}
}

// Validate checks that the parameters describe a runnable pipeline.
func (p Params) Validate() error {
	switch {
	case p.TickPeriod <= 0:
		return errors.Errorf("tick period must be positive, got %v", p.TickPeriod)
	case p.MissionDuration < p.TickPeriod:
		return errors.Errorf("mission duration %v is shorter than one tick (%v)", p.MissionDuration, p.TickPeriod)
	case p.TorqueConstant <= 0:
		return errors.Errorf("torque constant must be positive, got %v", p.TorqueConstant)
	case p.VMax <= 0:
		return errors.Errorf("supply limit must be positive, got %v", p.VMax)
	case p.PWMPeriod == 0:
		return errors.New("pwm period must be non-zero")
	case p.LogCapacity <= 0:
		return errors.Errorf("log capacity must be positive, got %d", p.LogCapacity)
	case p.CountsPerRevolution <= 0:
		return errors.Errorf("counts per revolution must be positive, got %d", p.CountsPerRevolution)
	case p.Teeth <= 0:
		return errors.Errorf("teeth count must be positive, got %d", p.Teeth)
	case p.CurrentScale <= 0:
		return errors.Errorf("current scale must be positive, got %v", p.CurrentScale)
	}
	return p.LogPolicy.validate()
}

// TickSeconds is the tick period in seconds.
func (p Params) TickSeconds() float64 {
	return p.TickPeriod.Seconds()
}

// CountToRadians is the mechanical angle of one encoder count.
func (p Params) CountToRadians() float64 {
	return 2 * math.Pi / float64(p.CountsPerRevolution)
}

// MissionTicks is the number of ticks after which the run ends. The run clock is kept as an
// integer tick count so that the terminal tick does not depend on accumulated rounding.
func (p Params) MissionTicks() int64 {
	return int64(math.Round(float64(p.MissionDuration) / float64(p.TickPeriod)))
}
