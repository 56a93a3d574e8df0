package model

import (
	"math"

	"github.com/matsim-go/qsim/pkg/qsimerrors"
)

// LinkKind discriminates a Link's variant (§3, §9 "a tagged-union type with a
// single dispatch point inside the node's move routine").
type LinkKind int

const (
	LinkLocal LinkKind = iota
	LinkSplitIn
	LinkSplitOut
)

// Link is the tagged-union interface every link variant satisfies. Nodes never
// hold a pointer to a Link directly (§9 "never store back-pointers"); they hold a
// LinkID and resolve it through the partition's link store on every access.
type Link interface {
	ID() LinkID
	Kind() LinkKind
	FromNode() NodeID
	ToNode() NodeID
}

// LocalLink is a link whose from-node and to-node are both on this partition
// (§3). It owns a VehicleQueue and a FlowCap and is the only variant vehicles are
// ever physically queued on: a SplitInLink delegates to an embedded LocalLink, and
// a SplitOutLink never queues vehicles at all.
type LocalLink struct {
	LinkID_      LinkID
	FromNode_    NodeID
	ToNode_      NodeID
	Length       float64 // meters
	FreeSpeed    float64 // m/s
	FlowCapVehH  float64 // configured veh/h, pre sample-size scaling
	Modes        map[string]bool
	SampleSize   float64

	queue              VehicleQueue
	flowCap            *FlowCap
	storageCapacityEff float64 // vehicle count ceiling (spillback, SPEC_FULL §12.4)
}

// StorageCapacityFromLength derives a default storage capacity from link length
// when the scenario does not supply one explicitly: one passenger-car-unit every
// 7.5m of link length is the conventional queue-model default.
func StorageCapacityFromLength(length float64) float64 {
	cap := math.Floor(length / 7.5)
	if cap < 1 {
		return 1
	}
	return cap
}

// NewLocalLink constructs a LocalLink, scaling flow and storage capacity by
// sampleSize once at construction time (§9 "apply once at link construction; do
// not re-scale per step").
func NewLocalLink(id LinkID, from, to NodeID, length, freeSpeed, flowCapVehH, storageCapacity, sampleSize float64, modes map[string]bool) *LocalLink {
	effFlowPerSecond := (flowCapVehH * sampleSize) / 3600.0
	return &LocalLink{
		LinkID_:            id,
		FromNode_:          from,
		ToNode_:            to,
		Length:             length,
		FreeSpeed:          freeSpeed,
		FlowCapVehH:        flowCapVehH,
		Modes:              modes,
		SampleSize:         sampleSize,
		flowCap:            NewFlowCap(effFlowPerSecond),
		storageCapacityEff: storageCapacity * sampleSize,
	}
}

func (l *LocalLink) ID() LinkID      { return l.LinkID_ }
func (l *LocalLink) Kind() LinkKind  { return LinkLocal }
func (l *LocalLink) FromNode() NodeID { return l.FromNode_ }
func (l *LocalLink) ToNode() NodeID   { return l.ToNode_ }

// Len reports how many vehicles are currently queued on the link.
func (l *LocalLink) Len() int { return l.queue.Len() }

// Push places a vehicle at the tail of the link's queue (§4.2). It stamps
// EarliestExitTime, emits LinkEnter through sink, and returns false (without
// mutating the queue) if the link's storage capacity is exhausted — spillback,
// SPEC_FULL.md §12.4 — in which case the caller must hold the vehicle at its
// current location.
func (l *LocalLink) Push(v Vehicle, now uint32, sink EventSink) bool {
	if l.storageCapacityEff > 0 && float64(l.queue.Len()) >= l.storageCapacityEff {
		return false
	}
	speed := v.EffectiveSpeed(l.FreeSpeed)
	travel := uint32(math.Ceil(l.Length / speed))
	v.EarliestExitTime = now + travel
	l.queue.Push(QueuedVehicle{Vehicle: v, EarliestExitTime: v.EarliestExitTime, EnterTime: now})
	if sink != nil {
		sink.OnEvent(Event{Kind: EventLinkEnter, Time: now, Link: l.LinkID_, Vehicle: v.ID})
	}
	return true
}

// PopReady dequeues every vehicle at the head of the queue whose
// EarliestExitTime has arrived and for which the FlowCap still has capacity,
// stopping at the first vehicle that fails either test (§4.2). The caller, not
// PopReady, emits LinkLeave for each returned vehicle.
func (l *LocalLink) PopReady(now uint32) []QueuedVehicle {
	l.flowCap.Update(now)
	var out []QueuedVehicle
	for {
		head, ok := l.queue.Front()
		if !ok {
			break
		}
		if head.EarliestExitTime > now {
			break
		}
		if !l.flowCap.HasCapacity() {
			break
		}
		qv, _ := l.queue.PopFront()
		l.flowCap.Consume(1.0)
		out = append(out, qv)
	}
	return out
}

// HeadWaitSince returns the EnterTime of the vehicle currently at the head of the
// queue (used to detect stuck vehicles, SPEC_FULL §12.1) and whether one exists.
func (l *LocalLink) HeadWaitSince(now uint32) (waitedSince uint32, id VehicleID, ok bool) {
	head, exists := l.queue.Front()
	if !exists {
		return 0, "", false
	}
	return head.EnterTime, head.Vehicle.ID, true
}

// RemoveHead forcibly removes the head-of-queue vehicle (used when a StuckAgent
// safety valve fires, §7/§9).
func (l *LocalLink) RemoveHead() (QueuedVehicle, bool) {
	return l.queue.PopFront()
}

// SplitOutLink is a link whose from-node is local and whose to-node is remote.
// It holds only the remote partition id: vehicles reaching it are handed to the
// MessageBroker rather than queued (§3, §4.3).
type SplitOutLink struct {
	LinkID_         LinkID
	FromNode_       NodeID
	ToNode_         NodeID
	RemotePartition PartitionID
}

func (l *SplitOutLink) ID() LinkID       { return l.LinkID_ }
func (l *SplitOutLink) Kind() LinkKind   { return LinkSplitOut }
func (l *SplitOutLink) FromNode() NodeID { return l.FromNode_ }
func (l *SplitOutLink) ToNode() NodeID   { return l.ToNode_ }

// SplitInLink is a link whose to-node is local and whose from-node is remote. It
// wraps a full LocalLink, fed exclusively by messages arriving from the remote
// partition (never by a local push), so FIFO/flow-cap semantics carry across the
// partition boundary unchanged (§3).
type SplitInLink struct {
	Local           *LocalLink
	RemotePartition PartitionID
}

func (l *SplitInLink) ID() LinkID       { return l.Local.ID() }
func (l *SplitInLink) Kind() LinkKind   { return LinkSplitIn }
func (l *SplitInLink) FromNode() NodeID { return l.Local.FromNode() }
func (l *SplitInLink) ToNode() NodeID   { return l.Local.ToNode() }

// LinkStore resolves link ids to Link values within a partition. A map keyed by
// LinkID is sufficient here (§9 permits "sorted-key maps" for deterministic
// iteration; LinkStore is never iterated in simulation order — only Node's
// in-link/out-link slices are, and those are plain ordered slices).
type LinkStore map[LinkID]Link

func (s LinkStore) Get(id LinkID) (Link, error) {
	l, ok := s[id]
	if !ok {
		return nil, qsimerrors.ErrLinkNotFound
	}
	return l, nil
}

// AsLocal resolves id and asserts it is a LocalLink, following or un-wrapping a
// SplitInLink as needed (both are physically queueable).
func (s LinkStore) AsLocal(id LinkID) (*LocalLink, error) {
	l, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	switch v := l.(type) {
	case *LocalLink:
		return v, nil
	case *SplitInLink:
		return v.Local, nil
	default:
		return nil, qsimerrors.ErrLinkNotFound
	}
}
