package main

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.viam.com/rdk/logging"
	"go.viam.com/test"

	"github.com/viam-modules/pm-stepper/fblin"
)

func TestMissionFromArgs(t *testing.T) {
	p, traj, err := missionFromArgs(Arguments{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p, test.ShouldResemble, fblin.DefaultParams())
	test.That(t, traj.Angle(p.MissionDuration.Seconds()), test.ShouldAlmostEqual, 2*math.Pi)

	p, traj, err = missionFromArgs(Arguments{Seconds: 2, Revolutions: -0.5, LogPolicy: "wrap"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.MissionDuration, test.ShouldEqual, 2*time.Second)
	test.That(t, p.LogPolicy, test.ShouldEqual, fblin.LogWrap)
	test.That(t, traj.Angle(2), test.ShouldAlmostEqual, -math.Pi)

	_, _, err = missionFromArgs(Arguments{Seconds: -1})
	test.That(t, err, test.ShouldNotBeNil)
	_, _, err = missionFromArgs(Arguments{LogPolicy: "sometimes"})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSimulate(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	p, traj, err := missionFromArgs(Arguments{Seconds: 0.5, Revolutions: 0.05})
	test.That(t, err, test.ShouldBeNil)

	rec, err := simulate(ctx, p, traj, "", 0, logger)
	test.That(t, err, test.ShouldBeNil)

	s := rec.summarize()
	test.That(t, s.Reason, test.ShouldEqual, fblin.StopMissionComplete)
	test.That(t, s.Ticks, test.ShouldEqual, 500)
	test.That(t, s.Samples, test.ShouldEqual, 250)
	test.That(t, s.Dropped, test.ShouldEqual, 0)
	test.That(t, s.TargetAngle, test.ShouldAlmostEqual, 0.1*math.Pi)
	test.That(t, s.MaxAbsError, test.ShouldBeLessThan, 0.1)
	test.That(t, s.MeanAbsError, test.ShouldBeLessThanOrEqualTo, s.MaxAbsError)
	test.That(t, s.FinalAngle, test.ShouldAlmostEqual, s.TargetAngle, 0.05)
	test.That(t, rec.times, test.ShouldHaveLength, 499)

	smoothed := rec.smoothedError()
	test.That(t, smoothed, test.ShouldHaveLength, len(rec.errs))
	test.That(t, smoothed[0], test.ShouldAlmostEqual, math.Abs(rec.errs[0]))

	t.Run("plots", func(t *testing.T) {
		dir := t.TempDir()
		files, err := rec.writePlots(dir)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, files, test.ShouldResemble, []string{
			"angle.png", "tracking_error.png", "torque.png", "currents.png", "voltages.png",
		})
		for _, f := range files {
			info, err := os.Stat(filepath.Join(dir, f))
			test.That(t, err, test.ShouldBeNil)
			test.That(t, info.Size(), test.ShouldBeGreaterThan, 0)
		}
	})

	t.Run("cancelled run", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		rec, err := simulate(cancelled, p, traj, "", 0, logger)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, rec.reason, test.ShouldNotEqual, fblin.StopNone)
	})

	t.Run("unknown controller", func(t *testing.T) {
		_, err := simulate(ctx, p, traj, "adaptive", 0, logger)
		test.That(t, err, test.ShouldNotBeNil)
	})
}
