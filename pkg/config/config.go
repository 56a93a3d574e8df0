// Package config holds the engine's external configuration surface (§6): a
// plain struct validated once before any worker spawns, in the same shape as
// the teacher's raft.Config/DefaultConfig.
package config

import (
	"time"

	"github.com/matsim-go/qsim/pkg/qsimerrors"
)

// PartitionMethod selects how nodes are assigned to partitions (§6).
type PartitionMethod int

const (
	PartitionNone PartitionMethod = iota
	PartitionGraphCut
)

// RoutingMode selects how a departing agent obtains its NetworkRoute (§6).
type RoutingMode int

const (
	RoutingUsePlans RoutingMode = iota
	RoutingAdHoc
	RoutingReplanningInterval
)

// GraphCutOptions configures PartitionGraphCut (§6).
type GraphCutOptions struct {
	Imbalance        float64
	Contiguous       bool
	VertexWeighting  bool
	EdgeWeighting    bool
}

// EngineConfig is the complete configuration surface consumed by the core
// (§6). It is validated once, at Controller startup, never re-read mid-run.
type EngineConfig struct {
	StartTime uint32
	EndTime   uint32

	NumPartitions   int
	PartitionMethod PartitionMethod
	GraphCut        GraphCutOptions

	RoutingMode         RoutingMode
	ReplanningInterval  uint32

	SampleSize     float64
	StuckThreshold uint32
	MainModes      map[string]bool

	// InboxDepth bounds how many pending messages a partition's broker inbox
	// buffers before Send blocks; ambient tuning knob, not named by spec.md.
	InboxDepth int
	// RouterTimeout bounds an AdHoc/replanning router query (§9 "async router
	// client ... synchronous call with timeout").
	RouterTimeout time.Duration
}

// DefaultEngineConfig returns a single-partition, UsePlans configuration:
// the smallest config that can run a scenario end to end, matching the
// teacher's DefaultConfig role of "the one every test builds on and overrides
// from."
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		StartTime:       0,
		EndTime:         30 * 3600,
		NumPartitions:   1,
		PartitionMethod: PartitionNone,
		GraphCut: GraphCutOptions{
			Imbalance: 0.03,
		},
		RoutingMode:    RoutingUsePlans,
		SampleSize:     1.0,
		StuckThreshold: 3600,
		MainModes:      map[string]bool{"car": true},
		InboxDepth:     64,
		RouterTimeout:  5 * time.Second,
	}
}

// Validate rejects an inconsistent configuration before any worker spawns
// (§7 ConfigInvalid).
func (c EngineConfig) Validate() error {
	if c.StartTime > c.EndTime {
		return qsimerrors.ErrConfigInvalid
	}
	if c.NumPartitions < 1 {
		return qsimerrors.ErrConfigInvalid
	}
	if c.SampleSize <= 0 || c.SampleSize > 1 {
		return qsimerrors.ErrConfigInvalid
	}
	if c.PartitionMethod == PartitionGraphCut && (c.GraphCut.Imbalance < 0 || c.GraphCut.Imbalance >= 1) {
		return qsimerrors.ErrConfigInvalid
	}
	if c.RoutingMode == RoutingReplanningInterval && c.ReplanningInterval == 0 {
		return qsimerrors.ErrConfigInvalid
	}
	return nil
}
