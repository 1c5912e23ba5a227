package pmstepper

import (
	"context"
	"math"
	"testing"

	"go.viam.com/test"

	"github.com/viam-modules/pm-stepper/fblin"
)

func TestDutyCycle(t *testing.T) {
	test.That(t, dutyCycle(5000, 5000), test.ShouldEqual, 0)
	test.That(t, dutyCycle(0, 5000), test.ShouldEqual, 1)
	test.That(t, dutyCycle(2500, 5000), test.ShouldEqual, 0.5)
	// full supply on the rig maps to compare 200
	test.That(t, dutyCycle(200, 5000), test.ShouldAlmostEqual, 0.96)
}

func TestOutputsFlush(t *testing.T) {
	ctx := context.Background()
	fb := newFakeBoard()
	outs := newOutputs(fb.hw, 5000)

	test.That(t, outs.setFrequency(ctx, 10000), test.ShouldBeNil)
	test.That(t, fb.pwmA.frequency(), test.ShouldEqual, 10000)
	test.That(t, fb.pwmB.frequency(), test.ShouldEqual, 10000)

	// idle outputs are pushed once
	test.That(t, outs.flush(ctx), test.ShouldBeNil)
	duty, ok := fb.pwmA.lastDuty()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, duty, test.ShouldEqual, 0)
	level, ok := fb.dirA.lastLevel()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, level, test.ShouldBeTrue)

	// unchanged latches are not rewritten
	test.That(t, outs.flush(ctx), test.ShouldBeNil)
	test.That(t, fb.pwmA.dutyWrites(), test.ShouldEqual, 1)

	mapper := fblin.NewMapper(fblin.DefaultParams())
	hw := outs.hardware(newEncoderInput(fb.encoder, false), nil)
	drive := mapper.Apply(-12, hw.PWMA, hw.DirA)
	test.That(t, drive.Forward, test.ShouldBeFalse)
	test.That(t, drive.Compare, test.ShouldEqual, 200)
	test.That(t, outs.flush(ctx), test.ShouldBeNil)
	duty, _ = fb.pwmA.lastDuty()
	test.That(t, duty, test.ShouldAlmostEqual, 0.96)
	level, _ = fb.dirA.lastLevel()
	test.That(t, level, test.ShouldBeFalse)
	test.That(t, fb.pwmA.dutyWrites(), test.ShouldEqual, 2)
	test.That(t, fb.pwmB.dutyWrites(), test.ShouldEqual, 1)

	t.Run("compare is clamped to the period", func(t *testing.T) {
		outs.pwmB.SetCompare(9000)
		test.That(t, outs.pwmB.compare.Load(), test.ShouldEqual, 5000)
	})

	t.Run("no heartbeat pin", func(t *testing.T) {
		fb := newFakeBoard()
		fb.hw.heartbeat = nil
		outs := newOutputs(fb.hw, 5000)
		test.That(t, outs.hardware(nil, nil).Heartbeat, test.ShouldBeNil)
		test.That(t, outs.flush(ctx), test.ShouldBeNil)
	})
}

func TestEncoderInput(t *testing.T) {
	ctx := context.Background()
	fb := newFakeBoard()
	fb.encoder.ticks.Store(1234)

	in := newEncoderInput(fb.encoder, false)
	test.That(t, in.Count(), test.ShouldEqual, 0)
	test.That(t, in.poll(ctx), test.ShouldBeNil)
	test.That(t, in.Count(), test.ShouldEqual, 1234)

	reversed := newEncoderInput(fb.encoder, true)
	count, err := reversed.read(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, count, test.ShouldEqual, -1234)

	in.offset.Store(34)
	count, err = in.read(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, count, test.ShouldEqual, 1200)
}

func TestReadRaw(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		value int
		raw   uint16
	}{
		{1263, 1263},
		{-5, 0},
		{math.MaxUint16 + 10, math.MaxUint16},
	} {
		raw, err := readRaw(ctx, newFakeAnalog(tc.value))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, raw, test.ShouldEqual, tc.raw)
	}
}
