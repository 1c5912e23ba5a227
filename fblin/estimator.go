package fblin

// ShaftState is the measured motion of the rotor.
type ShaftState struct {
	Angle           float64 // rad, unwrapped
	AngularVelocity float64 // rad/s
}

// Estimator turns raw encoder counts into angle and backward-difference velocity.
type Estimator struct {
	countToRadians float64
	invTick        float64
	previousAngle  float64
}

// NewEstimator returns an estimator with zero history.
func NewEstimator(p Params) *Estimator {
	return &Estimator{
		countToRadians: p.CountToRadians(),
		invTick:        1 / p.TickSeconds(),
	}
}

// Seed sets the angle the next velocity is differenced against.
func (e *Estimator) Seed(angle float64) {
	e.previousAngle = angle
}

// Update decodes count and advances the velocity history by one tick.
func (e *Estimator) Update(count int64) ShaftState {
	angle := float64(count) * e.countToRadians
	s := ShaftState{
		Angle:           angle,
		AngularVelocity: (angle - e.previousAngle) * e.invTick,
	}
	e.previousAngle = angle
	return s
}
