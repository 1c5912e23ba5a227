package sim

import (
	"math"
	"testing"

	"go.viam.com/rdk/logging"
	"go.viam.com/test"

	"github.com/viam-modules/pm-stepper/fblin"
)

func newPlant(t *testing.T) *Plant {
	t.Helper()
	p, err := New(ConfigFromParams(fblin.DefaultParams()))
	test.That(t, err, test.ShouldBeNil)
	return p
}

func TestNewValidation(t *testing.T) {
	cfg := ConfigFromParams(fblin.DefaultParams())
	cfg.Inertia = 0
	_, err := New(cfg)
	test.That(t, err, test.ShouldNotBeNil)

	cfg = ConfigFromParams(fblin.DefaultParams())
	cfg.PWMPeriod = 0
	_, err = New(cfg)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPhaseDecodesMapperOutput(t *testing.T) {
	params := fblin.DefaultParams()
	p := newPlant(t)
	m := fblin.NewMapper(params)

	for _, v := range []float64{0, 3, -7.5, 12, -12} {
		m.Apply(v, p.PhaseA(), p.PhaseA())
		got := p.PhaseA().voltage(params.VMax + fblin.VoltageHeadroom)
		test.That(t, got, test.ShouldAlmostEqual, v, 0.01)
	}
	p.PhaseA().SetCompare(params.PWMPeriod + 10)
	test.That(t, p.PhaseA().voltage(12.5), test.ShouldEqual, 0)
}

func TestSensors(t *testing.T) {
	p := newPlant(t)

	p.SetAngle(2 * math.Pi)
	test.That(t, p.Count(), test.ShouldEqual, fblin.DefaultCountsPerRevolution)
	// the decoder itself counts down
	test.That(t, p.DecoderCount(), test.ShouldEqual, -fblin.DefaultCountsPerRevolution)
	p.SetAngle(-math.Pi)
	test.That(t, p.Count(), test.ShouldEqual, -fblin.DefaultCountsPerRevolution/2)
	test.That(t, p.DecoderCount(), test.ShouldEqual, fblin.DefaultCountsPerRevolution/2)

	p.state.CurrentA = -1
	p.state.CurrentB = 100
	test.That(t, p.SampleA(), test.ShouldEqual, 1263)
	test.That(t, p.SampleB(), test.ShouldEqual, 4095)
}

func TestPlantAtRestStaysAtRest(t *testing.T) {
	p := newPlant(t)
	for i := 0; i < 100; i++ {
		p.Step(0.001)
	}
	test.That(t, p.State(), test.ShouldResemble, State{})
}

func TestClosedLoopTracksDefaultMission(t *testing.T) {
	params := fblin.DefaultParams()
	p := newPlant(t)
	rig, err := fblin.NewRig(params, fblin.DefaultTrajectory(), fblin.NewFeedbackLinearization(params),
		p.Hardware(nil, nil), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	maxErr := 0.0
	last := Run(rig, p, 20000, func(res fblin.TickResult, _ State) {
		if res.State == fblin.Running {
			maxErr = math.Max(maxErr, math.Abs(res.Shaft.Angle-res.Desired.Angle))
		}
	})

	test.That(t, last.State, test.ShouldEqual, fblin.Stopped)
	test.That(t, last.Tick, test.ShouldEqual, 10000)
	test.That(t, maxErr, test.ShouldBeLessThan, 0.1)
	test.That(t, p.State().Angle, test.ShouldAlmostEqual, 2*math.Pi, 0.05)

	samples, err := rig.Samples()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, samples, test.ShouldHaveLength, 5000)
}
