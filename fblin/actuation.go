package fblin

import "math"

// PhaseDrive is what the mapper wrote to one phase.
type PhaseDrive struct {
	Forward bool
	Compare uint32
}

// Mapper turns signed phase voltages into direction levels and PWM compare values.
type Mapper struct {
	vmax float64
}

// NewMapper returns a mapper for the supply limit in p.
func NewMapper(p Params) Mapper {
	return Mapper{vmax: p.VMax}
}

// Compare returns the direction and compare value for v on a generator with the given period.
// Magnitudes above the supply limit saturate silently.
func (m Mapper) Compare(v float64, period uint32) PhaseDrive {
	forward := v >= 0
	mag := math.Abs(v)
	if mag > m.vmax {
		mag = m.vmax
	}
	if math.IsNaN(mag) {
		mag = 0
	}
	p := float64(period)
	return PhaseDrive{
		Forward: forward,
		Compare: uint32(p - mag*p/(m.vmax+VoltageHeadroom)),
	}
}

// Apply writes v to one phase.
func (m Mapper) Apply(v float64, pwm PulseGenerator, dir Pin) PhaseDrive {
	d := m.Compare(v, pwm.Period())
	dir.Set(d.Forward)
	pwm.SetCompare(d.Compare)
	return d
}
