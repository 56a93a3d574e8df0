// Package ttcollector observes LinkEnter/LinkLeave pairs and aggregates
// per-link travel times, feeding Router.Customize on a replanning interval
// (§4.12).
package ttcollector

import (
	"github.com/matsim-go/qsim/pkg/model"
	"github.com/matsim-go/qsim/pkg/network"
)

// Collector is an EventSink that only cares about LinkEnter/LinkLeave;
// everything else is ignored. Install it alongside the engine's primary sink
// via events.MultiSink.
type Collector struct {
	net *network.Network

	// enterTimes tracks the most recent LinkEnter time per (link, vehicle),
	// needed to pair it with the matching LinkLeave.
	enterTimes map[model.LinkID]map[model.VehicleID]uint32

	// window accumulates (sum, count) per link since the last Reset, the
	// sliding aggregation window named in §4.12.
	window map[model.LinkID]*aggregate
}

type aggregate struct {
	sumSeconds uint64
	count      uint64
}

// NewCollector builds a collector that falls back to free-flow time
// (length / free_speed) for any link with no observations (§4.12).
func NewCollector(net *network.Network) *Collector {
	return &Collector{
		net:        net,
		enterTimes: make(map[model.LinkID]map[model.VehicleID]uint32),
		window:     make(map[model.LinkID]*aggregate),
	}
}

// OnEvent implements model.EventSink.
func (c *Collector) OnEvent(e model.Event) {
	switch e.Kind {
	case model.EventLinkEnter:
		byVehicle, ok := c.enterTimes[e.Link]
		if !ok {
			byVehicle = make(map[model.VehicleID]uint32)
			c.enterTimes[e.Link] = byVehicle
		}
		byVehicle[e.Vehicle] = e.Time
	case model.EventLinkLeave:
		byVehicle, ok := c.enterTimes[e.Link]
		if !ok {
			return
		}
		enter, ok := byVehicle[e.Vehicle]
		if !ok {
			return
		}
		delete(byVehicle, e.Vehicle)

		agg, ok := c.window[e.Link]
		if !ok {
			agg = &aggregate{}
			c.window[e.Link] = agg
		}
		agg.sumSeconds += uint64(e.Time - enter)
		agg.count++
	}
}

// Finish implements model.EventSink; the collector has nothing to flush.
func (c *Collector) Finish() {}

// Weights returns the current per-link average travel time for every link in
// the network: the measured average where this window has at least one
// observation, FreeFlowWeight otherwise (§4.12).
func (c *Collector) Weights() map[model.LinkID]float64 {
	out := make(map[model.LinkID]float64, len(c.net.LinkOrder))
	for _, id := range c.net.LinkOrder {
		if agg, ok := c.window[id]; ok && agg.count > 0 {
			out[id] = float64(agg.sumSeconds) / float64(agg.count)
			continue
		}
		out[id] = c.FreeFlowWeight(id)
	}
	return out
}

// Reset clears the aggregation window, called at the start of each
// replanning interval so averages don't drift across the whole run.
func (c *Collector) Reset() {
	c.window = make(map[model.LinkID]*aggregate)
}

// FreeFlowWeight returns length/free_speed for a link, the fallback §4.12
// specifies for links with no measured traversals.
func (c *Collector) FreeFlowWeight(id model.LinkID) float64 {
	rec, ok := c.net.Links[id]
	if !ok || rec.FreeSpeed <= 0 {
		return 0
	}
	return rec.Length / rec.FreeSpeed
}
