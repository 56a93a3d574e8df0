package network

import "github.com/matsim-go/qsim/pkg/model"

// Partition is one worker's owned subgraph: every node assigned to it, plus
// every link incident to one of those nodes, materialized as the correct
// Link variant per §3. Built once at startup from a Network and an assignment.
type Partition struct {
	ID model.PartitionID

	nodeOrder []model.NodeID
	nodes     map[model.NodeID]*model.Node
	links     model.LinkStore
	linkOrder []model.LinkID
}

// Assignment maps every node id to the partition that owns it (§4.5's output).
type Assignment map[model.NodeID]model.PartitionID

// BuildPartition materializes the subgraph owned by id: every node assigned to
// id, and every incident link as LocalLink, SplitInLink, or SplitOutLink
// depending on which side of the cut its endpoints fall on (§3, §4.4).
// sampleSize scales flow and storage capacity once, at construction (§9).
func BuildPartition(net *Network, assignment Assignment, id model.PartitionID, sampleSize float64) *Partition {
	p := &Partition{
		ID:    id,
		nodes: make(map[model.NodeID]*model.Node),
		links: make(model.LinkStore),
	}

	for _, nid := range net.NodeOrder {
		if assignment[nid] != id {
			continue
		}
		p.nodeOrder = append(p.nodeOrder, nid)
		p.nodes[nid] = &model.Node{
			ID:       nid,
			InLinks:  append([]model.LinkID(nil), net.InLinks(nid)...),
			OutLinks: append([]model.LinkID(nil), net.OutLinks(nid)...),
		}
	}

	for _, lid := range net.LinkOrder {
		rec := net.Links[lid]
		fromOwner := assignment[rec.From]
		toOwner := assignment[rec.To]

		switch {
		case fromOwner == id && toOwner == id:
			p.links[lid] = model.NewLocalLink(lid, rec.From, rec.To, rec.Length, rec.FreeSpeed, rec.FlowCapVehH, rec.StorageCapacity, sampleSize, rec.Modes)
			p.linkOrder = append(p.linkOrder, lid)
		case fromOwner == id && toOwner != id:
			p.links[lid] = &model.SplitOutLink{LinkID_: lid, FromNode_: rec.From, ToNode_: rec.To, RemotePartition: toOwner}
		case toOwner == id && fromOwner != id:
			local := model.NewLocalLink(lid, rec.From, rec.To, rec.Length, rec.FreeSpeed, rec.FlowCapVehH, rec.StorageCapacity, sampleSize, rec.Modes)
			p.links[lid] = &model.SplitInLink{Local: local, RemotePartition: fromOwner}
			p.linkOrder = append(p.linkOrder, lid)
		}
	}

	return p
}

// BuildLinkOwners maps every link in net to the partition that owns it for
// simulation purposes: the partition of its to-node (model.LinkID's own
// doc comment), regardless of which partition(s) can see it as a
// SplitOutLink. Built once alongside Assignment and shared read-only
// across every worker (§9).
func BuildLinkOwners(net *Network, assignment Assignment) map[model.LinkID]model.PartitionID {
	owners := make(map[model.LinkID]model.PartitionID, len(net.LinkOrder))
	for _, lid := range net.LinkOrder {
		owners[lid] = assignment[net.Links[lid].To]
	}
	return owners
}

// Node resolves a node id owned by this partition.
func (p *Partition) Node(id model.NodeID) (*model.Node, bool) {
	n, ok := p.nodes[id]
	return n, ok
}

// Links exposes the partition's link store to the worker loop.
func (p *Partition) Links() model.LinkStore { return p.links }

// NodeOrder returns owned node ids in deterministic (insertion) order, the
// order the worker loop's move_nodes phase must iterate in (§4.3, §9).
func (p *Partition) NodeOrder() []model.NodeID { return p.nodeOrder }

// OwnedLinkOrder returns the ids of every link this partition can queue
// vehicles on (LocalLink or SplitInLink), in deterministic network insertion
// order. Used by the stuck-agent safety valve, which must scan every locally
// queueable link each second (§6 stuck_threshold).
func (p *Partition) OwnedLinkOrder() []model.LinkID { return p.linkOrder }

// Neighbours returns the set of peer partitions referenced by any
// SplitOutLink or SplitInLink on this partition (§4.4).
func (p *Partition) Neighbours() map[model.PartitionID]bool {
	out := make(map[model.PartitionID]bool)
	for _, l := range p.links {
		switch v := l.(type) {
		case *model.SplitOutLink:
			out[v.RemotePartition] = true
		case *model.SplitInLink:
			out[v.RemotePartition] = true
		}
	}
	return out
}
