// Package sim models a two-phase permanent-magnet stepper, its H-bridges, shunt ADCs and
// quadrature encoder closely enough to close the loop around the fblin pipeline without hardware.
package sim

import (
	"math"

	"github.com/pkg/errors"

	"github.com/viam-modules/pm-stepper/fblin"
)

// adcMax is the full-scale reading of the 12 bit converters.
const adcMax = 4095

// Config describes the motor and its drive electronics.
type Config struct {
	Resistance     float64 // ohm
	Inductance     float64 // H
	TorqueConstant float64 // N*m/A
	Inertia        float64 // kg*m^2
	Damping        float64 // N*m/(rad/s)
	Teeth          int
	// BridgeVoltage is the phase voltage at 100% duty.
	BridgeVoltage       float64
	CountsPerRevolution int64
	CurrentScale        float64 // A per ADC count
	PWMPeriod           uint32
	LoadTorque          float64 // constant load opposing positive rotation (N*m)
	// Substeps is the number of integration steps per Step call.
	Substeps int
}

// ConfigFromParams returns the plant that matches the pipeline parameters. The bridge voltage is
// VMax plus the mapper headroom, so a compare value decodes back to the commanded voltage.
func ConfigFromParams(p fblin.Params) Config {
	return Config{
		Resistance:          p.Resistance,
		Inductance:          p.Inductance,
		TorqueConstant:      p.TorqueConstant,
		Inertia:             p.Inertia,
		Damping:             p.Damping,
		Teeth:               p.Teeth,
		BridgeVoltage:       p.VMax + fblin.VoltageHeadroom,
		CountsPerRevolution: p.CountsPerRevolution,
		CurrentScale:        p.CurrentScale,
		PWMPeriod:           p.PWMPeriod,
		Substeps:            20,
	}
}

// Phase is one H-bridge: a PWM compare register plus a direction input.
type Phase struct {
	period  uint32
	compare uint32
	forward bool
}

// Period implements fblin.PulseGenerator.
func (ph *Phase) Period() uint32 { return ph.period }

// SetCompare implements fblin.PulseGenerator.
func (ph *Phase) SetCompare(compare uint32) {
	if compare > ph.period {
		compare = ph.period
	}
	ph.compare = compare
}

// Set implements fblin.Pin for the direction input.
func (ph *Phase) Set(high bool) { ph.forward = high }

func (ph *Phase) voltage(bridge float64) float64 {
	v := float64(ph.period-ph.compare) / float64(ph.period) * bridge
	if !ph.forward {
		return -v
	}
	return v
}

// State is the continuous plant state.
type State struct {
	Angle    float64
	Velocity float64
	CurrentA float64
	CurrentB float64
	VoltageA float64
	VoltageB float64
}

// Plant integrates the motor model
//
//	L dia/dt = va - R ia + km w sin(N theta)
//	L dib/dt = vb - R ib - km w cos(N theta)
//	J dw/dt  = -km ia sin(N theta) + km ib cos(N theta) - b w - load
//
// with forward Euler.
type Plant struct {
	cfg    Config
	state  State
	phaseA *Phase
	phaseB *Phase
}

// New returns a plant at rest with both bridges off.
func New(cfg Config) (*Plant, error) {
	switch {
	case cfg.Inductance <= 0 || cfg.Inertia <= 0:
		return nil, errors.New("inductance and inertia must be positive")
	case cfg.PWMPeriod == 0:
		return nil, errors.New("pwm period must be non-zero")
	case cfg.CountsPerRevolution <= 0 || cfg.CurrentScale <= 0:
		return nil, errors.New("encoder and current scales must be positive")
	}
	if cfg.Substeps <= 0 {
		cfg.Substeps = 1
	}
	return &Plant{
		cfg:    cfg,
		phaseA: &Phase{period: cfg.PWMPeriod, compare: cfg.PWMPeriod, forward: true},
		phaseB: &Phase{period: cfg.PWMPeriod, compare: cfg.PWMPeriod, forward: true},
	}, nil
}

// PhaseA returns the phase A bridge.
func (p *Plant) PhaseA() *Phase { return p.phaseA }

// PhaseB returns the phase B bridge.
func (p *Plant) PhaseB() *Phase { return p.phaseB }

// SetAngle places the rotor, e.g. to start a run away from zero.
func (p *Plant) SetAngle(angle float64) { p.state.Angle = angle }

// DecoderCount is the raw quadrature decoder reading. The decoder is wired so it counts down for
// positive rotation.
func (p *Plant) DecoderCount() int64 {
	return -int64(math.Floor(p.state.Angle / (2 * math.Pi) * float64(p.cfg.CountsPerRevolution)))
}

// Count implements fblin.Encoder. It is the decoder count negated, as the controller reads it.
func (p *Plant) Count() int64 {
	return -p.DecoderCount()
}

// SampleA is the phase A shunt converter reading. The shunt sits in the low side of the bridge,
// so it sees the current magnitude.
func (p *Plant) SampleA() uint16 { return p.adc(p.state.CurrentA) }

// SampleB is the phase B shunt converter reading.
func (p *Plant) SampleB() uint16 { return p.adc(p.state.CurrentB) }

func (p *Plant) adc(current float64) uint16 {
	raw := math.Abs(current) / p.cfg.CurrentScale
	if raw > adcMax {
		return adcMax
	}
	return uint16(raw)
}

// State returns the current plant state.
func (p *Plant) State() State { return p.state }

// Step advances the plant by dt seconds with the bridge outputs held.
func (p *Plant) Step(dt float64) {
	c := p.cfg
	s := &p.state
	s.VoltageA = p.phaseA.voltage(c.BridgeVoltage)
	s.VoltageB = p.phaseB.voltage(c.BridgeVoltage)
	h := dt / float64(c.Substeps)
	n := float64(c.Teeth)
	for i := 0; i < c.Substeps; i++ {
		sin, cos := math.Sincos(n * s.Angle)
		dia := (s.VoltageA - c.Resistance*s.CurrentA + c.TorqueConstant*s.Velocity*sin) / c.Inductance
		dib := (s.VoltageB - c.Resistance*s.CurrentB - c.TorqueConstant*s.Velocity*cos) / c.Inductance
		torque := -c.TorqueConstant*s.CurrentA*sin + c.TorqueConstant*s.CurrentB*cos
		dw := (torque - c.Damping*s.Velocity - c.LoadTorque) / c.Inertia
		s.CurrentA += h * dia
		s.CurrentB += h * dib
		s.Velocity += h * dw
		s.Angle += h * s.Velocity
	}
}

// Hardware returns the plant wired as rig collaborators. The clock is left to the caller.
func (p *Plant) Hardware(heartbeat fblin.Pin, clock fblin.Clock) fblin.Hardware {
	return fblin.Hardware{
		Encoder:   p,
		PWMA:      p.phaseA,
		PWMB:      p.phaseB,
		DirA:      p.phaseA,
		DirB:      p.phaseB,
		Heartbeat: heartbeat,
		Clock:     clock,
	}
}

// Run drives rig against the plant one tick at a time until the rig stops or maxTicks elapse.
// Each tick's sampling completions are delivered before the tick, as the converters are
// triggered ahead of the control interrupt. onTick, if set, sees every tick result.
func Run(rig *fblin.Rig, p *Plant, maxTicks int64, onTick func(fblin.TickResult, State)) fblin.TickResult {
	dt := rig.Params().TickSeconds()
	var res fblin.TickResult
	for i := int64(0); i < maxTicks; i++ {
		rig.OnPhaseASample(p.SampleA())
		rig.OnPhaseBSample(p.SampleB())
		res = rig.Tick()
		p.Step(dt)
		if onTick != nil {
			onTick(res, p.state)
		}
		if res.State == fblin.Stopped {
			break
		}
	}
	return res
}
