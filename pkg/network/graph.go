// Package network builds per-partition subgraphs from a full scenario network
// and assigns nodes to partitions via a multilevel graph cut (§4.4, §4.5).
package network

import "github.com/matsim-go/qsim/pkg/model"

// NodeRecord is one node as loaded from the scenario, before partition
// assignment.
type NodeRecord struct {
	ID model.NodeID
}

// LinkRecord is one link as loaded from the scenario, before partition
// assignment. StorageCapacity, when zero, is derived from Length at
// construction time (model.StorageCapacityFromLength).
type LinkRecord struct {
	ID              model.LinkID
	From            model.NodeID
	To              model.NodeID
	Length          float64
	FreeSpeed       float64
	FlowCapVehH     float64
	StorageCapacity float64
	Modes           map[string]bool
}

// Network is the full, unpartitioned scenario graph: every node and link the
// scenario loader produced, plus the in/out adjacency needed to build each
// Node's ordered link lists once partition assignment is known.
type Network struct {
	NodeOrder []model.NodeID // insertion order; determinism per §9
	Nodes     map[model.NodeID]NodeRecord
	LinkOrder []model.LinkID
	Links     map[model.LinkID]LinkRecord
	outLinks  map[model.NodeID][]model.LinkID
	inLinks   map[model.NodeID][]model.LinkID
}

// NewNetwork constructs an empty Network ready for AddNode/AddLink calls.
func NewNetwork() *Network {
	return &Network{
		Nodes:    make(map[model.NodeID]NodeRecord),
		Links:    make(map[model.LinkID]LinkRecord),
		outLinks: make(map[model.NodeID][]model.LinkID),
		inLinks:  make(map[model.NodeID][]model.LinkID),
	}
}

// AddNode registers a node. Nodes must be added before any link referencing them.
func (n *Network) AddNode(id model.NodeID) {
	if _, exists := n.Nodes[id]; exists {
		return
	}
	n.Nodes[id] = NodeRecord{ID: id}
	n.NodeOrder = append(n.NodeOrder, id)
}

// AddLink registers a link and updates from/to adjacency in insertion order.
func (n *Network) AddLink(rec LinkRecord) {
	if rec.StorageCapacity <= 0 {
		rec.StorageCapacity = model.StorageCapacityFromLength(rec.Length)
	}
	n.Links[rec.ID] = rec
	n.LinkOrder = append(n.LinkOrder, rec.ID)
	n.outLinks[rec.From] = append(n.outLinks[rec.From], rec.ID)
	n.inLinks[rec.To] = append(n.inLinks[rec.To], rec.ID)
}

// OutLinks returns the ordered out-link ids of a node.
func (n *Network) OutLinks(id model.NodeID) []model.LinkID { return n.outLinks[id] }

// InLinks returns the ordered in-link ids of a node.
func (n *Network) InLinks(id model.NodeID) []model.LinkID { return n.inLinks[id] }
