// Package model holds the engine's core data model: nodes, links, vehicles, agents
// and their plans. Ids are opaque strings interned upstream (id-interning is out of
// scope for the core, §1); the model never parses or validates id shape.
package model

// NodeID identifies a node. Immutable after load.
type NodeID string

// LinkID identifies a link. A link id is owned (for simulation purposes) by exactly
// one partition: the partition of its to-node.
type LinkID string

// AgentID identifies an agent (a person/driver).
type AgentID string

// VehicleID identifies a vehicle. Vehicles materialize on departure and are
// destroyed on arrival; the id itself is caller-supplied (interned upstream).
type VehicleID string

// PartitionID identifies a worker's partition in [0, P).
type PartitionID int
