// Package main is a module that serves a feedback-linearized two-phase stepper motor.
package main

import (
	"context"

	"go.viam.com/rdk/components/motor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/module"
	"go.viam.com/utils"

	"github.com/viam-modules/pm-stepper/pmstepper"
)

func main() {
	utils.ContextualMain(mainWithArgs, module.NewLoggerFromArgs("pm-stepper"))
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) error {
	pmModule, err := module.NewModuleFromArgs(ctx)
	if err != nil {
		return err
	}

	if err = pmModule.AddModelFromRegistry(ctx, motor.API, pmstepper.Model); err != nil {
		return err
	}

	err = pmModule.Start(ctx)
	defer pmModule.Close(ctx)
	if err != nil {
		return err
	}

	logger.Infof("serving %s", pmstepper.Model)
	<-ctx.Done()
	return nil
}
