// Package main runs the feedback-linearization controller against the simulated stepper and
// renders the run to PNG plots.
package main

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"

	"github.com/viam-modules/pm-stepper/fblin"
	"github.com/viam-modules/pm-stepper/sim"
)

// Arguments for the command.
type Arguments struct {
	Out         string  `flag:"out,usage=directory the PNG plots are written to (default: no plots)"`
	Revolutions float64 `flag:"revolutions,usage=target of the minimum-jerk move in revolutions (default 1)"`
	Seconds     float64 `flag:"seconds,usage=mission duration in seconds (default 10)"`
	Load        float64 `flag:"load,usage=constant load torque in N*m"`
	LogPolicy   string  `flag:"log_policy,usage=what to do when the sample log fills: stop or wrap or fail_fast"`
	Controller  string  `flag:"controller,usage=control law (default feedback_linearization)"`
}

func main() {
	utils.ContextualMain(mainWithArgs, logging.NewLogger("pmsim"))
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) error {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	p, traj, err := missionFromArgs(argsParsed)
	if err != nil {
		return err
	}
	rec, err := simulate(ctx, p, traj, argsParsed.Controller, argsParsed.Load, logger)
	if err != nil {
		return err
	}
	s := rec.summarize()
	logger.Infow("simulation finished",
		"reason", s.Reason.String(),
		"ticks", s.Ticks,
		"final_angle_rad", s.FinalAngle,
		"target_angle_rad", s.TargetAngle,
		"max_abs_error_rad", s.MaxAbsError,
		"mean_abs_error_rad", s.MeanAbsError,
		"error_std_dev_rad", s.ErrorStdDev,
		"samples", s.Samples,
		"dropped_samples", s.Dropped,
	)
	if argsParsed.Out == "" {
		return nil
	}
	if err := os.MkdirAll(argsParsed.Out, 0o755); err != nil {
		return errors.Wrap(err, "cannot create output directory")
	}
	files, err := rec.writePlots(argsParsed.Out)
	if err != nil {
		return err
	}
	for _, f := range files {
		logger.Infof("wrote %s", filepath.Join(argsParsed.Out, f))
	}
	return nil
}

// missionFromArgs returns the parameters and trajectory of the simulated run.
func missionFromArgs(args Arguments) (fblin.Params, fblin.Trajectory, error) {
	p := fblin.DefaultParams()
	if args.Seconds < 0 {
		return p, nil, errors.New("seconds cannot be negative")
	}
	if args.Seconds > 0 {
		p.MissionDuration = time.Duration(args.Seconds * float64(time.Second))
	}
	policy, err := fblin.ParseLogPolicy(args.LogPolicy)
	if err != nil {
		return p, nil, err
	}
	p.LogPolicy = policy
	if err := p.Validate(); err != nil {
		return p, nil, err
	}
	revolutions := args.Revolutions
	if revolutions == 0 {
		revolutions = 1
	}
	traj, err := fblin.NewMinimumJerk(0, revolutions*2*math.Pi, p.MissionDuration.Seconds())
	if err != nil {
		return p, nil, err
	}
	return p, traj, nil
}

// simulate runs one mission against the plant, ticking as fast as the host allows.
func simulate(ctx context.Context, p fblin.Params, traj fblin.Trajectory, controller string, load float64,
	logger logging.Logger,
) (*recording, error) {
	cfg := sim.ConfigFromParams(p)
	cfg.LoadTorque = load
	plant, err := sim.New(cfg)
	if err != nil {
		return nil, err
	}
	ctrl, err := fblin.NewController(controller, p)
	if err != nil {
		return nil, err
	}
	rig, err := fblin.NewRig(p, traj, ctrl, plant.Hardware(nil, nil), logger)
	if err != nil {
		return nil, err
	}

	rec := newRecording(p, traj)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	utils.PanicCapturingGo(func() {
		<-runCtx.Done()
		rig.RequestStop()
	})
	res := sim.Run(rig, plant, p.MissionTicks()+1, rec.onTick)
	if res.State != fblin.Stopped {
		rig.Shutdown()
	}
	samples, err := rig.Samples()
	if err != nil {
		return nil, err
	}
	rec.samples = samples
	rec.reason = rig.Status().Reason
	rec.held, rec.dropped = rig.LogStats()
	return rec, nil
}
