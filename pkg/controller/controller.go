// Package controller orchestrates a full qsim run (§4.10): partitions the
// scenario, scatters partitions and agent subsets to one Worker per
// partition, runs every worker to completion, and reports wall-clock timing.
// The controller itself never touches the per-second hot path.
package controller

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/matsim-go/qsim/pkg/broker"
	"github.com/matsim-go/qsim/pkg/cluster"
	"github.com/matsim-go/qsim/pkg/config"
	"github.com/matsim-go/qsim/pkg/model"
	"github.com/matsim-go/qsim/pkg/network"
	"github.com/matsim-go/qsim/pkg/qsimerrors"
	"github.com/matsim-go/qsim/pkg/router"
	"github.com/matsim-go/qsim/pkg/ttcollector"
	"github.com/matsim-go/qsim/pkg/worker"
)

// Scenario is the parsed, in-memory scenario the controller reads once
// (§6 "the core consumes parsed in-memory structures"): a Network and the
// full Population as a flat agent list. Garage (vehicle types) is out of
// scope for the controller — vehicles use the zero VehicleType (free-flow
// speed, no cap) unless a caller's agent construction already set one.
type Scenario struct {
	Network *network.Network
	Agents  []*model.Agent
}

// SinkFactory builds the event sink a given partition's worker should use.
// Called once per partition at spawn time.
type SinkFactory func(model.PartitionID) model.EventSink

// Result reports what a completed run produced.
type Result struct {
	Duration time.Duration
	// Err is the first non-success any worker returned, or nil. The
	// controller "aggregates worker results and returns the first
	// non-success" per §7.
	Err error
}

// Controller runs one scenario end to end.
type Controller struct {
	cfg     config.EngineConfig
	logger  *zap.Logger
	members *cluster.Manager
}

// New builds a Controller. logger may be nil (a no-op logger is used).
func New(cfg config.EngineConfig, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{cfg: cfg, logger: logger, members: cluster.NewManager()}
}

// Members exposes the controller's partition roster — repurposing the
// teacher's raft cluster.Manager from tracking raft node membership to
// tracking which partition-workers are registered, active, or finished for
// this run (DESIGN.md has the full accounting of this adaptation).
func (c *Controller) Members() *cluster.Manager { return c.members }

// Run partitions scenario per c.cfg, spawns one worker per partition, joins
// every worker, and reports the outcome. partitionMethod's choice of
// partitioner comes entirely from c.cfg — callers never pick one directly.
func (c *Controller) Run(ctx context.Context, scenario Scenario, sinks SinkFactory) (Result, error) {
	start := time.Now()
	if err := c.cfg.Validate(); err != nil {
		return Result{}, err
	}

	assignment, err := c.partitionScenario(scenario.Network)
	if err != nil {
		return Result{}, err
	}

	owners := network.BuildLinkOwners(scenario.Network, assignment)
	partitions := make(map[model.PartitionID]*network.Partition, c.cfg.NumPartitions)
	var ids []model.PartitionID
	for i := 0; i < c.cfg.NumPartitions; i++ {
		pid := model.PartitionID(i)
		ids = append(ids, pid)
		partitions[pid] = network.BuildPartition(scenario.Network, assignment, pid, c.cfg.SampleSize)
	}

	var b broker.MessageBroker
	if c.cfg.NumPartitions > 1 {
		b = broker.NewLocalBroker(ids, c.cfg.InboxDepth)
	}

	workers := make(map[model.PartitionID]*worker.Worker, len(ids))
	for _, pid := range ids {
		if err := c.members.AddMember(strconv.Itoa(int(pid)), "", true); err != nil {
			return Result{}, fmt.Errorf("controller: register partition %d: %w", pid, err)
		}
		var sink model.EventSink = model.NopSink{}
		if sinks != nil {
			sink = sinks(pid)
		}
		w := worker.New(pid, c.cfg, partitions[pid], owners, b, sink, c.logger)
		switch c.cfg.RoutingMode {
		case config.RoutingReplanningInterval:
			r := router.NewDijkstraRouter(scenario.Network)
			w = w.WithRouter(r, ttcollector.NewCollector(scenario.Network), scenario.Network)
		case config.RoutingAdHoc:
			r := router.NewDijkstraRouter(scenario.Network)
			w = w.WithRouter(r, nil, scenario.Network)
		}
		workers[pid] = w
	}

	if err := c.seedAgents(workers, worker.LinkOwners(owners), scenario.Agents); err != nil {
		return Result{}, err
	}

	// Startup barrier: every worker is fully constructed and seeded before
	// any of them takes its first step (§4.10).
	for _, pid := range ids {
		if err := c.members.ActivateMember(strconv.Itoa(int(pid))); err != nil {
			return Result{}, err
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(ids))
	for _, pid := range ids {
		wg.Add(1)
		go func(pid model.PartitionID, w *worker.Worker) {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				errs <- fmt.Errorf("partition %d: %w", pid, err)
			}
			_ = c.members.RemoveMember(strconv.Itoa(int(pid)))
		}(pid, workers[pid])
	}

	// Shutdown barrier: the controller joins every worker before returning
	// (§4.10 "collects worker handles, joins them").
	wg.Wait()
	if b != nil {
		_ = b.Close()
	}
	close(errs)

	var first error
	for err := range errs {
		if first == nil {
			first = err
		}
	}

	return Result{Duration: time.Since(start), Err: first}, nil
}

// partitionScenario assigns every node in net to a partition per c.cfg.
func (c *Controller) partitionScenario(net *network.Network) (network.Assignment, error) {
	if c.cfg.NumPartitions == 1 || c.cfg.PartitionMethod == config.PartitionNone {
		if c.cfg.NumPartitions != 1 {
			return nil, qsimerrors.NewFatal(-1, c.cfg.StartTime, "partition_method None requires num_partitions == 1", qsimerrors.ErrConfigInvalid)
		}
		assignment := make(network.Assignment, len(net.NodeOrder))
		for _, n := range net.NodeOrder {
			assignment[n] = 0
		}
		return assignment, nil
	}

	partitioner := network.GraphCutPartitioner{}
	return partitioner.Partition(net, c.cfg.NumPartitions, network.PartitionOptions{
		Imbalance: c.cfg.GraphCut.Imbalance,
	})
}

// seedAgents hands each agent to the worker owning its starting activity's
// link (§4.10 "scatters... agent subsets to workers").
func (c *Controller) seedAgents(workers map[model.PartitionID]*worker.Worker, owners worker.LinkOwners, agents []*model.Agent) error {
	for _, a := range agents {
		act, ok := a.CurrentActivity()
		if !ok {
			return qsimerrors.NewFatal(-1, c.cfg.StartTime, "agent does not start at an activity: "+string(a.ID), qsimerrors.ErrScenarioInconsistent)
		}
		owner, ok := owners[act.Link]
		if !ok {
			return qsimerrors.NewFatal(-1, c.cfg.StartTime, "agent starts on unknown link: "+string(act.Link), qsimerrors.ErrScenarioInconsistent)
		}
		w, ok := workers[owner]
		if !ok {
			return qsimerrors.NewFatal(-1, c.cfg.StartTime, "agent's starting link owned by unregistered partition", qsimerrors.ErrScenarioInconsistent)
		}
		if err := w.Seed(a); err != nil {
			return err
		}
	}
	return nil
}
