package ttcollector_test

import (
	"testing"

	"github.com/matsim-go/qsim/pkg/model"
	"github.com/matsim-go/qsim/pkg/network"
	"github.com/matsim-go/qsim/pkg/ttcollector"
	"github.com/stretchr/testify/assert"
)

func TestCollectorAveragesTraversalTime(t *testing.T) {
	net := network.NewNetwork()
	net.AddNode("N1")
	net.AddNode("N2")
	net.AddLink(network.LinkRecord{ID: "L1", From: "N1", To: "N2", Length: 1000, FreeSpeed: 10})

	c := ttcollector.NewCollector(net)
	c.OnEvent(model.Event{Kind: model.EventLinkEnter, Link: "L1", Vehicle: "v1", Time: 0})
	c.OnEvent(model.Event{Kind: model.EventLinkLeave, Link: "L1", Vehicle: "v1", Time: 100})
	c.OnEvent(model.Event{Kind: model.EventLinkEnter, Link: "L1", Vehicle: "v2", Time: 10})
	c.OnEvent(model.Event{Kind: model.EventLinkLeave, Link: "L1", Vehicle: "v2", Time: 130})

	weights := c.Weights()
	assert.InDelta(t, 110.0, weights["L1"], 0.001)
}

func TestCollectorFreeFlowFallback(t *testing.T) {
	net := network.NewNetwork()
	net.AddNode("N1")
	net.AddNode("N2")
	net.AddLink(network.LinkRecord{ID: "L1", From: "N1", To: "N2", Length: 1000, FreeSpeed: 10})

	c := ttcollector.NewCollector(net)
	assert.Equal(t, 100.0, c.FreeFlowWeight("L1"))
	assert.Equal(t, map[model.LinkID]float64{"L1": 100.0}, c.Weights())
}

func TestCollectorResetClearsWindow(t *testing.T) {
	net := network.NewNetwork()
	net.AddNode("N1")
	net.AddNode("N2")
	net.AddLink(network.LinkRecord{ID: "L1", From: "N1", To: "N2", Length: 1000, FreeSpeed: 10})

	c := ttcollector.NewCollector(net)
	c.OnEvent(model.Event{Kind: model.EventLinkEnter, Link: "L1", Vehicle: "v1", Time: 0})
	c.OnEvent(model.Event{Kind: model.EventLinkLeave, Link: "L1", Vehicle: "v1", Time: 50})
	assert.Equal(t, 50.0, c.Weights()["L1"])

	c.Reset()
	assert.Equal(t, 100.0, c.Weights()["L1"], "after Reset the window is empty, so Weights falls back to free-flow time")
}
