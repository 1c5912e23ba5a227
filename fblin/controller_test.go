package fblin

import (
	"math"
	"testing"

	"go.viam.com/test"
)

func TestNewController(t *testing.T) {
	p := DefaultParams()

	c, err := NewController("", p)
	test.That(t, err, test.ShouldBeNil)
	_, ok := c.(*FeedbackLinearization)
	test.That(t, ok, test.ShouldBeTrue)

	c, err = NewController(ControllerFeedbackLinearization, p)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c, test.ShouldNotBeNil)

	_, err = NewController("adaptive", p)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "adaptive")
}

func TestZeroErrorZeroTorque(t *testing.T) {
	c := NewFeedbackLinearization(DefaultParams())
	for _, in := range []ControlInput{
		{Shaft: ShaftState{Angle: 1.25, AngularVelocity: -3}, Desired: DesiredState{Angle: 1.25, Velocity: -3}},
		{Shaft: ShaftState{Angle: -40, AngularVelocity: 0}, Desired: DesiredState{Angle: -40, Velocity: 0}},
	} {
		out := c.Compute(in)
		test.That(t, out.Torque, test.ShouldEqual, 0)
		test.That(t, out.DesiredCurrentA, test.ShouldEqual, 0)
		test.That(t, out.DesiredCurrentB, test.ShouldEqual, 0)
	}
}

func TestCommutationOrthogonality(t *testing.T) {
	p := DefaultParams()
	c := NewFeedbackLinearization(p)

	for _, angle := range []float64{0, 0.0013, 0.25, 1, 2 * math.Pi, -7.3} {
		for _, errAngle := range []float64{-0.5, -0.01, 0.02, 3} {
			out := c.Compute(ControlInput{
				Shaft:   ShaftState{Angle: angle},
				Desired: DesiredState{Angle: angle + errAngle},
			})
			magnitude := out.DesiredCurrentA*out.DesiredCurrentA + out.DesiredCurrentB*out.DesiredCurrentB
			expected := out.Torque * out.Torque / (p.TorqueConstant * p.TorqueConstant)
			test.That(t, magnitude, test.ShouldAlmostEqual, expected, 1e-12)
			test.That(t, out.ElectricalAngle, test.ShouldEqual, float64(p.Teeth)*angle)
		}
	}
}

func TestVoltageLaw(t *testing.T) {
	p := DefaultParams()
	c := NewFeedbackLinearization(p)

	in := ControlInput{
		Shaft:    ShaftState{Angle: 0.01, AngularVelocity: 0.4},
		Desired:  DesiredState{Angle: 0.02, Velocity: 0.5},
		CurrentA: 0.3,
		CurrentB: -0.1,
	}
	out := c.Compute(in)

	tau := -p.Kp*(0.01-0.02) - p.Kd*(0.4-0.5)
	test.That(t, out.Torque, test.ShouldAlmostEqual, tau)

	theta := float64(p.Teeth) * 0.01
	iaD := -tau * math.Sin(theta) / p.TorqueConstant
	ibD := tau * math.Cos(theta) / p.TorqueConstant
	test.That(t, out.DesiredCurrentA, test.ShouldAlmostEqual, iaD)
	test.That(t, out.DesiredCurrentB, test.ShouldAlmostEqual, ibD)

	va := -p.AlphaA*(0.3-iaD) + p.Resistance*iaD - p.TorqueConstant*0.5*math.Sin(theta)
	vb := -p.AlphaB*(-0.1-ibD) + p.Resistance*ibD + p.TorqueConstant*0.5*math.Cos(theta)
	test.That(t, out.VoltageA, test.ShouldAlmostEqual, va)
	test.That(t, out.VoltageB, test.ShouldAlmostEqual, vb)
}
