package controller_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matsim-go/qsim/pkg/config"
	"github.com/matsim-go/qsim/pkg/controller"
	"github.com/matsim-go/qsim/pkg/events"
	"github.com/matsim-go/qsim/pkg/model"
	"github.com/matsim-go/qsim/pkg/network"
)

func lineNetwork() *network.Network {
	net := network.NewNetwork()
	for _, n := range []model.NodeID{"N1", "N2", "N3", "N4"} {
		net.AddNode(n)
	}
	net.AddLink(network.LinkRecord{ID: "L1", From: "N1", To: "N2", Length: 1000, FreeSpeed: 10, FlowCapVehH: 3600})
	net.AddLink(network.LinkRecord{ID: "L2", From: "N2", To: "N3", Length: 1000, FreeSpeed: 10, FlowCapVehH: 3600})
	net.AddLink(network.LinkRecord{ID: "L3", From: "N3", To: "N4", Length: 1000, FreeSpeed: 10, FlowCapVehH: 3600})
	return net
}

func singleAgent() *model.Agent {
	return &model.Agent{
		ID: "A1",
		Plan: model.Plan{Elements: []model.PlanElement{
			{Kind: model.ElementActivity, Activity: model.Activity{Type: "home", Link: "L1", HasEndTime: true, EndTime: 0}},
			{Kind: model.ElementLeg, Leg: model.Leg{Mode: "car", Kind: model.RouteKindNetwork, Net: model.NetworkRoute{VehicleID: "V1", LinkIDs: []model.LinkID{"L1", "L2", "L3"}}}},
			{Kind: model.ElementActivity, Activity: model.Activity{Type: "work", Link: "L3"}},
		}},
	}
}

func TestControllerSinglePartitionS1(t *testing.T) {
	cfg := config.DefaultEngineConfig()
	cfg.EndTime = 400

	sink := events.NewRecordingSink()
	c := controller.New(cfg, nil)
	res, err := c.Run(context.Background(), controller.Scenario{Network: lineNetwork(), Agents: []*model.Agent{singleAgent()}}, func(model.PartitionID) model.EventSink {
		return sink
	})
	require.NoError(t, err)
	assert.NoError(t, res.Err)

	var sawArrival bool
	for _, e := range sink.Events() {
		if e.Kind == model.EventArrival {
			sawArrival = true
			assert.EqualValues(t, 300, e.Time)
		}
	}
	assert.True(t, sawArrival)
	assert.Equal(t, 0, c.Members().Count(), "every partition should be removed from the roster once its worker joins")
}

func TestControllerTwoPartitionsS2(t *testing.T) {
	cfg := config.DefaultEngineConfig()
	cfg.NumPartitions = 2
	cfg.PartitionMethod = config.PartitionGraphCut
	cfg.EndTime = 400

	net := lineNetwork()
	sinkA := events.NewRecordingSink()
	sinkB := events.NewRecordingSink()
	sinks := map[model.PartitionID]*events.RecordingSink{0: sinkA, 1: sinkB}

	c := controller.New(cfg, nil)
	res, err := c.Run(context.Background(), controller.Scenario{Network: net, Agents: []*model.Agent{singleAgent()}}, func(p model.PartitionID) model.EventSink {
		return sinks[p]
	})
	require.NoError(t, err)
	assert.NoError(t, res.Err)

	var sawArrival bool
	for _, s := range sinks {
		for _, e := range s.Events() {
			if e.Kind == model.EventArrival {
				sawArrival = true
			}
		}
	}
	assert.True(t, sawArrival, "the agent must arrive regardless of which partition owns its destination")
}
