package fblin

// Encoder exposes the signed count of the quadrature decoder. Wrap-around of the count is the
// decoder's business.
type Encoder interface {
	Count() int64
}

// PulseGenerator is one phase PWM output. The compare register ranges over [0, Period()]:
// Period() is 0% active time and 0 is 100%.
type PulseGenerator interface {
	Period() uint32
	SetCompare(compare uint32)
}

// Pin is a binary output.
type Pin interface {
	Set(high bool)
}

// Clock is the fixed-rate source that fires the control tick.
type Clock interface {
	Stop()
}

// Hardware bundles the collaborators a Rig drives. Heartbeat may be nil.
type Hardware struct {
	Encoder   Encoder
	PWMA      PulseGenerator
	PWMB      PulseGenerator
	DirA      Pin
	DirB      Pin
	Heartbeat Pin
	Clock     Clock
}
