package fblin

import (
	"math"

	"github.com/pkg/errors"
)

// ControlInput is everything a control law sees on one tick.
type ControlInput struct {
	Shaft    ShaftState
	Desired  DesiredState
	CurrentA float64
	CurrentB float64
}

// ControlOutput is recomputed every tick and never persisted.
type ControlOutput struct {
	Torque          float64
	ElectricalAngle float64
	DesiredCurrentA float64
	DesiredCurrentB float64
	VoltageA        float64
	VoltageB        float64
}

// Controller maps measured and desired state to phase voltage commands.
type Controller interface {
	Compute(in ControlInput) ControlOutput
}

// ControllerFeedbackLinearization names the feedback-linearization law.
const ControllerFeedbackLinearization = "feedback_linearization"

var controllers = map[string]func(Params) Controller{
	ControllerFeedbackLinearization: func(p Params) Controller { return NewFeedbackLinearization(p) },
}

// NewController returns the control law registered under name. An empty name selects feedback
// linearization.
func NewController(name string, p Params) (Controller, error) {
	if name == "" {
		name = ControllerFeedbackLinearization
	}
	ctor, ok := controllers[name]
	if !ok {
		return nil, errors.Errorf("unknown controller %q", name)
	}
	return ctor(p), nil
}

// FeedbackLinearization is a PD torque loop followed by sinusoidal commutation into two
// quadrature current references and a proportional current loop with resistive and back-EMF
// feedforward evaluated at the desired operating point.
type FeedbackLinearization struct {
	kp, kd         float64
	alphaA, alphaB float64
	r              float64
	km             float64
	invKm          float64
	teeth          float64
}

// NewFeedbackLinearization builds the law from p.
func NewFeedbackLinearization(p Params) *FeedbackLinearization {
	return &FeedbackLinearization{
		kp:     p.Kp,
		kd:     p.Kd,
		alphaA: p.AlphaA,
		alphaB: p.AlphaB,
		r:      p.Resistance,
		km:     p.TorqueConstant,
		invKm:  1 / p.TorqueConstant,
		teeth:  float64(p.Teeth),
	}
}

// Torque is the outer PD law on tracking error.
func (c *FeedbackLinearization) Torque(shaft ShaftState, desired DesiredState) float64 {
	return -c.kp*(shaft.Angle-desired.Angle) - c.kd*(shaft.AngularVelocity-desired.Velocity)
}

// Compute implements Controller. The electrical angle is not wrapped.
func (c *FeedbackLinearization) Compute(in ControlInput) ControlOutput {
	out := ControlOutput{
		Torque:          c.Torque(in.Shaft, in.Desired),
		ElectricalAngle: c.teeth * in.Shaft.Angle,
	}
	sin, cos := math.Sincos(out.ElectricalAngle)
	out.DesiredCurrentA = -out.Torque * sin * c.invKm
	out.DesiredCurrentB = out.Torque * cos * c.invKm

	backEMF := c.km * in.Desired.Velocity
	out.VoltageA = -c.alphaA*(in.CurrentA-out.DesiredCurrentA) + c.r*out.DesiredCurrentA - backEMF*sin
	out.VoltageB = -c.alphaB*(in.CurrentB-out.DesiredCurrentB) + c.r*out.DesiredCurrentB + backEMF*cos
	return out
}
