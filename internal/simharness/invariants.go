package simharness

import (
	"fmt"
	"math"
	"sync"

	"github.com/matsim-go/qsim/pkg/model"
	"github.com/matsim-go/qsim/pkg/network"
)

// Violation is one invariant failure, grounded on the teacher's
// InvariantViolation{Type, Description, Details} shape.
type Violation struct {
	Type        string
	Description string
	Details     map[string]interface{}
}

// InvariantChecker accumulates the event stream produced by one or more
// partitions and checks it against §8's quantified invariants 1-5
// (determinism, invariant 6, is a property of two runs and is not checked
// here).
// Grounded on pkg/testing.InvariantChecker: instead of committed raft log
// entries keyed by node, it groups qsim events keyed by link and vehicle.
type InvariantChecker struct {
	mu         sync.Mutex
	events     []model.Event
	sendCounts map[sendKey]int
	violations []Violation
}

type sendKey struct {
	from, to model.PartitionID
	time     uint32
}

// NewInvariantChecker creates an empty checker.
func NewInvariantChecker() *InvariantChecker {
	return &InvariantChecker{sendCounts: make(map[sendKey]int)}
}

// RecordEvents appends one partition's recorded events. Order across
// partitions does not matter; each invariant check re-sorts or groups by
// the key it cares about.
func (c *InvariantChecker) RecordEvents(events []model.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, events...)
}

// RecordSend notes that a partition sent exactly one message to a peer at
// time t, used by checkBarrier (invariant 5). Callers that don't
// instrument their broker can skip this and checkBarrier becomes a no-op.
func (c *InvariantChecker) RecordSend(from, to model.PartitionID, t uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendCounts[sendKey{from, to, t}]++
}

// CheckAll runs every invariant check against net and returns the combined
// violation list (empty means every invariant held).
func (c *InvariantChecker) CheckAll(net *network.Network) []Violation {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.violations = nil
	c.checkConservation()
	c.checkFIFOPerLink()
	c.checkFlowCap(net)
	c.checkNoPrematureExit(net)
	c.checkBarrier()
	return c.violations
}

// checkConservation checks one side of invariant 1: no vehicle leaves links
// more often than it entered them (no vehicle is duplicated). A vehicle that
// enters a link and never leaves it is not reported.
func (c *InvariantChecker) checkConservation() {
	entered := make(map[model.VehicleID]int)
	left := make(map[model.VehicleID]int)
	for _, e := range c.events {
		switch e.Kind {
		case model.EventLinkEnter:
			entered[e.Vehicle]++
		case model.EventLinkLeave:
			left[e.Vehicle]++
		}
	}
	for v, n := range entered {
		if left[v] > n {
			c.violations = append(c.violations, Violation{
				Type:        "CONSERVATION_VIOLATION",
				Description: fmt.Sprintf("vehicle %s left more links (%d) than it entered (%d)", v, left[v], n),
				Details:     map[string]interface{}{"vehicle": v, "entered": n, "left": left[v]},
			})
		}
	}
}

// checkFIFOPerLink verifies invariant 2: for any link, vehicles leave in
// the same order they entered.
func (c *InvariantChecker) checkFIFOPerLink() {
	type entry struct {
		vehicle model.VehicleID
		time    uint32
	}
	enters := make(map[model.LinkID][]entry)
	leaves := make(map[model.LinkID][]entry)
	for _, e := range c.events {
		switch e.Kind {
		case model.EventLinkEnter:
			enters[e.Link] = append(enters[e.Link], entry{e.Vehicle, e.Time})
		case model.EventLinkLeave:
			leaves[e.Link] = append(leaves[e.Link], entry{e.Vehicle, e.Time})
		}
	}
	for link, enterList := range enters {
		leaveList := leaves[link]
		order := make(map[model.VehicleID]int, len(enterList))
		for i, en := range enterList {
			order[en.vehicle] = i
		}
		lastLeaveOrder := -1
		for _, lv := range leaveList {
			o, ok := order[lv.vehicle]
			if !ok {
				continue
			}
			if o < lastLeaveOrder {
				c.violations = append(c.violations, Violation{
					Type:        "FIFO_VIOLATION",
					Description: fmt.Sprintf("link %s: vehicle %s left out of entry order", link, lv.vehicle),
					Details:     map[string]interface{}{"link": link, "vehicle": lv.vehicle},
				})
			}
			lastLeaveOrder = o
		}
	}
}

// checkFlowCap verifies invariant 3: for every link and every one-second
// window, the count of LinkLeave events is <= ceil(capacity) + 1.
func (c *InvariantChecker) checkFlowCap(net *network.Network) {
	if net == nil {
		return
	}
	leavesByLinkTime := make(map[model.LinkID]map[uint32]int)
	for _, e := range c.events {
		if e.Kind != model.EventLinkLeave {
			continue
		}
		if leavesByLinkTime[e.Link] == nil {
			leavesByLinkTime[e.Link] = make(map[uint32]int)
		}
		leavesByLinkTime[e.Link][e.Time]++
	}
	for link, byTime := range leavesByLinkTime {
		rec, ok := net.Links[link]
		if !ok {
			continue
		}
		capPerSecond := rec.FlowCapVehH / 3600
		limit := int(math.Ceil(capPerSecond)) + 1
		for t, n := range byTime {
			if n > limit {
				c.violations = append(c.violations, Violation{
					Type:        "FLOW_CAP_VIOLATION",
					Description: fmt.Sprintf("link %s: %d LinkLeave events at t=%d exceeds limit %d", link, n, t, limit),
					Details:     map[string]interface{}{"link": link, "time": t, "count": n, "limit": limit},
				})
			}
		}
	}
}

// checkNoPrematureExit verifies invariant 4: a vehicle never leaves a link
// sooner than its free-flow traversal time allows.
func (c *InvariantChecker) checkNoPrematureExit(net *network.Network) {
	if net == nil {
		return
	}
	entries := make(map[linkVehicleKey]uint32)
	for _, e := range c.events {
		key := linkVehicleKey{e.Link, e.Vehicle}
		switch e.Kind {
		case model.EventLinkEnter:
			entries[key] = e.Time
		case model.EventLinkLeave:
			enterTime, ok := entries[key]
			if !ok {
				continue
			}
			rec, ok := net.Links[e.Link]
			if !ok {
				continue
			}
			minTravel := uint32(math.Floor(rec.Length / rec.FreeSpeed))
			if e.Time-enterTime < minTravel {
				c.violations = append(c.violations, Violation{
					Type:        "PREMATURE_EXIT_VIOLATION",
					Description: fmt.Sprintf("link %s: vehicle %s left after %d seconds, less than minimum %d", e.Link, e.Vehicle, e.Time-enterTime, minTravel),
					Details:     map[string]interface{}{"link": e.Link, "vehicle": e.Vehicle, "travel": e.Time - enterTime, "minimum": minTravel},
				})
			}
			delete(entries, key)
		}
	}
}

type linkVehicleKey struct {
	link    model.LinkID
	vehicle model.VehicleID
}

// checkBarrier verifies invariant 5 against whatever sends were recorded
// via RecordSend: every (from, to, t) triple recorded exactly once.
func (c *InvariantChecker) checkBarrier() {
	for key, n := range c.sendCounts {
		if n != 1 {
			c.violations = append(c.violations, Violation{
				Type:        "BARRIER_VIOLATION",
				Description: fmt.Sprintf("partition %d sent %d messages to %d at t=%d, expected exactly 1", key.from, n, key.to, key.time),
				Details:     map[string]interface{}{"from": key.from, "to": key.to, "time": key.time, "count": n},
			})
		}
	}
}
