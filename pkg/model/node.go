package model

import "github.com/matsim-go/qsim/pkg/qsimerrors"

// ExitReason tells a worker why a vehicle left the network at a given node.
type ExitReason int

const (
	// ExitFinishRoute means the vehicle had no next link: its driver's leg ends here.
	ExitFinishRoute ExitReason = iota
	// ExitReachedBoundary means the vehicle's next link is a SplitOutLink: it must
	// be handed to the MessageBroker for the remote partition to pick up.
	ExitReachedBoundary
)

// Moved describes one vehicle that MoveVehicles pulled off an in-link.
type Moved struct {
	Vehicle    Vehicle
	FromLink   LinkID
	NextLink   LinkID // valid iff Reason == ExitReachedBoundary
	Reason     ExitReason
	RemoteDest PartitionID // valid iff Reason == ExitReachedBoundary
}

// Node is a network vertex. InLinks and OutLinks are ordered, fixed at
// construction time, and never carry back-pointers to Link values (§9):
// resolution always goes through the partition's LinkStore.
type Node struct {
	ID       NodeID
	InLinks  []LinkID
	OutLinks []LinkID
}

// outSet indexes OutLinks for the membership test MoveVehicles needs; it is
// rebuilt at the start of every MoveVehicles call.
func (n *Node) outSet() map[LinkID]bool {
	set := make(map[LinkID]bool, len(n.OutLinks))
	for _, id := range n.OutLinks {
		set[id] = true
	}
	return set
}

// MoveVehicles implements the node automaton (§4.3): for every in-link, in
// a fixed order, pop every vehicle whose earliest-exit-time and the in-link's
// flow capacity both admit it, in strict FIFO order, and attempt to advance it
// onto its next link. A vehicle that cannot advance — its destination LocalLink
// is at storage capacity — and every vehicle still behind it in that in-link's
// batch are re-queued at the in-link's head (spillback, SPEC_FULL §12.4), so a
// later call can retry them once the destination has room.
//
// The caller supplies links so Node stays free of any LinkStore dependency; this
// keeps Node trivially testable without constructing a partition.
func (n *Node) MoveVehicles(now uint32, links LinkStore, sink EventSink) ([]Moved, error) {
	outs := n.outSet()
	var moved []Moved

	for _, inID := range n.InLinks {
		link, err := links.Get(inID)
		if err != nil {
			return moved, err
		}
		in, ok := link.(*LocalLink)
		if !ok {
			if sil, isSplit := link.(*SplitInLink); isSplit {
				in = sil.Local
			} else {
				return moved, qsimerrors.NewFatal(0, now, "in-link is not queueable: "+string(inID), qsimerrors.ErrLinkNotFound)
			}
		}

		ready := in.PopReady(now)
		for i, qv := range ready {
			v := qv.Vehicle

			nextID, hasNext := v.Route.NextLink(v.RouteIndex)
			if !hasNext {
				sink.OnEvent(Event{Kind: EventLinkLeave, Time: now, Link: inID, Vehicle: v.ID})
				moved = append(moved, Moved{Vehicle: v, FromLink: inID, Reason: ExitFinishRoute})
				continue
			}
			if !outs[nextID] {
				return moved, qsimerrors.NewFatal(0, now, "route leaves node via unconnected link: "+string(nextID), qsimerrors.ErrScenarioInconsistent)
			}

			nextLink, err := links.Get(nextID)
			if err != nil {
				return moved, err
			}

			if out, isOut := nextLink.(*SplitOutLink); isOut {
				sink.OnEvent(Event{Kind: EventLinkLeave, Time: now, Link: inID, Vehicle: v.ID})
				v.AdvanceRouteIndex()
				moved = append(moved, Moved{
					Vehicle:    v,
					FromLink:   inID,
					NextLink:   nextID,
					Reason:     ExitReachedBoundary,
					RemoteDest: out.RemotePartition,
				})
				continue
			}

			nextLocal, err := links.AsLocal(nextID)
			if err != nil {
				return moved, err
			}
			v.AdvanceRouteIndex()
			if !nextLocal.Push(v, now, sink) {
				// Destination at storage capacity: spillback. The vehicle never left
				// this in-link, so no LinkLeave is emitted for it. Re-queue it and
				// every vehicle still behind it in this batch at the in-link's head,
				// in original order, so FIFO position and inventory are both preserved.
				in.requeueFront(ready[i:])
				break
			}
			sink.OnEvent(Event{Kind: EventLinkLeave, Time: now, Link: inID, Vehicle: v.ID})
		}
	}
	return moved, nil
}

// requeueFront restores a batch of vehicles to the front of the queue, in the
// order given. Used only by MoveVehicles when the destination link is full
// (spillback, SPEC_FULL §12.4): these vehicles were popped speculatively,
// couldn't advance, and must hold their FIFO position rather than lose their
// place behind vehicles that will be retried on a later call.
func (l *LocalLink) requeueFront(batch []QueuedVehicle) {
	rest := l.queue.items[l.queue.head:]
	merged := make([]QueuedVehicle, 0, len(batch)+len(rest))
	merged = append(merged, batch...)
	merged = append(merged, rest...)
	l.queue.items = merged
	l.queue.head = 0
}
