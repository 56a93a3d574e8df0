// cmd/controller runs one scenario to completion and reports timing and
// exit status. Scenario file parsing is out of scope for the core (§1), so
// this binary selects from the built-in demonstration scenarios of §8
// rather than reading a network/plans file from disk; a real deployment
// wires its own scenario loader ahead of controller.Controller.Run the
// same way this binary wires simharness's.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/matsim-go/qsim/internal/simharness"
	"github.com/matsim-go/qsim/pkg/config"
	"github.com/matsim-go/qsim/pkg/controller"
	"github.com/matsim-go/qsim/pkg/events"
	"github.com/matsim-go/qsim/pkg/model"
	"github.com/matsim-go/qsim/pkg/qsimerrors"
)

func main() {
	os.Exit(run())
}

func run() int {
	scenarioName := flag.String("scenario", "s1", "built-in scenario to run (s1-s6)")
	numPartitions := flag.Int("num-partitions", 0, "override the scenario's partition count (0 = use scenario default)")
	stuckThreshold := flag.Uint("stuck-threshold", 0, "override stuck_threshold in seconds (0 = use scenario default)")
	verbose := flag.Bool("v", false, "debug-level logging")
	flag.Parse()

	logger, err := newLogger(*verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "controller: failed to build logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	scenario, err := scenarioByName(*scenarioName)
	if err != nil {
		logger.Error("unknown scenario", zap.String("scenario", *scenarioName), zap.Error(err))
		return 1
	}
	if *numPartitions > 0 {
		scenario.Config.NumPartitions = *numPartitions
		if *numPartitions > 1 {
			scenario.Config.PartitionMethod = config.PartitionGraphCut
		}
	}
	if *stuckThreshold > 0 {
		scenario.Config.StuckThreshold = uint32(*stuckThreshold)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c := controller.New(scenario.Config, logger)
	start := time.Now()
	res, err := c.Run(ctx, controller.Scenario{Network: scenario.Net, Agents: scenario.Agents}, func(p model.PartitionID) model.EventSink {
		return events.NewZapSink(logger, p)
	})

	if err != nil {
		logger.Error("run failed before any worker started", zap.Error(err))
		return exitCode(err)
	}
	if res.Err != nil {
		logger.Error("run finished with a worker error", zap.Error(res.Err), zap.Duration("elapsed", time.Since(start)))
		return exitCode(res.Err)
	}

	logger.Info("run complete", zap.String("scenario", scenario.Name), zap.Duration("elapsed", res.Duration))
	return 0
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func scenarioByName(name string) (simharness.Scenario, error) {
	switch name {
	case "s1":
		return simharness.S1(), nil
	case "s2":
		return simharness.S2(), nil
	case "s3":
		return simharness.S3(), nil
	case "s4":
		return simharness.S4(), nil
	case "s5":
		return simharness.S5(), nil
	case "s6":
		return simharness.S6(), nil
	default:
		return simharness.Scenario{}, fmt.Errorf("no such scenario %q", name)
	}
}

// exitCode maps a typed qsim error to the exit codes named by §6: 1 for
// configuration/scenario errors, 2 for an internal invariant violation
// (a stuck agent that still escalated, or any Fatal not otherwise
// classified), 3 for an IPC/protocol error.
func exitCode(err error) int {
	var fatal *qsimerrors.Fatal
	if errors.As(err, &fatal) {
		err = fatal.Unwrap()
	}
	switch {
	case errors.Is(err, qsimerrors.ErrConfigInvalid), errors.Is(err, qsimerrors.ErrScenarioInconsistent):
		return 1
	case errors.Is(err, qsimerrors.ErrPartitionProtocol), errors.Is(err, qsimerrors.ErrChannelClosed), errors.Is(err, qsimerrors.ErrUnknownPartition):
		return 3
	default:
		return 2
	}
}
