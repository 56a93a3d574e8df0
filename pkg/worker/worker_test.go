package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matsim-go/qsim/pkg/config"
	"github.com/matsim-go/qsim/pkg/events"
	"github.com/matsim-go/qsim/pkg/model"
	"github.com/matsim-go/qsim/pkg/network"
	"github.com/matsim-go/qsim/pkg/router"
	"github.com/matsim-go/qsim/pkg/worker"
)

func newTestWorker(t *testing.T, cfg config.EngineConfig, p *network.Partition, owners worker.LinkOwners, sink model.EventSink) *worker.Worker {
	t.Helper()
	return worker.New(0, cfg, p, owners, nil, sink, nil)
}

// buildLine builds the S1/S4 network: N1 -> L1 -> N2 -> L2 -> N3 -> L3 -> N4.
func buildLine(t *testing.T, flowCapVehH float64) *network.Network {
	t.Helper()
	net := network.NewNetwork()
	for _, n := range []model.NodeID{"N1", "N2", "N3", "N4"} {
		net.AddNode(n)
	}
	net.AddLink(network.LinkRecord{ID: "L1", From: "N1", To: "N2", Length: 1000, FreeSpeed: 10, FlowCapVehH: flowCapVehH})
	net.AddLink(network.LinkRecord{ID: "L2", From: "N2", To: "N3", Length: 1000, FreeSpeed: 10, FlowCapVehH: flowCapVehH})
	net.AddLink(network.LinkRecord{ID: "L3", From: "N3", To: "N4", Length: 1000, FreeSpeed: 10, FlowCapVehH: flowCapVehH})
	return net
}

func singlePartition(t *testing.T, net *network.Network) *network.Partition {
	t.Helper()
	assignment := make(network.Assignment, len(net.NodeOrder))
	for _, n := range net.NodeOrder {
		assignment[n] = 0
	}
	return network.BuildPartition(net, assignment, 0, 1.0)
}

func networkAgent(id model.AgentID, vehicle model.VehicleID, homeLink, workLink model.LinkID, route []model.LinkID) *model.Agent {
	return &model.Agent{
		ID: id,
		Plan: model.Plan{Elements: []model.PlanElement{
			{Kind: model.ElementActivity, Activity: model.Activity{Type: "home", Link: homeLink, HasEndTime: true, EndTime: 0}},
			{Kind: model.ElementLeg, Leg: model.Leg{Mode: "car", Kind: model.RouteKindNetwork, Net: model.NetworkRoute{VehicleID: vehicle, LinkIDs: route}}},
			{Kind: model.ElementActivity, Activity: model.Activity{Type: "work", Link: workLink}},
		}},
	}
}

func TestWorkerS1SingleAgentThreeLinks(t *testing.T) {
	net := buildLine(t, 3600)
	p := singlePartition(t, net)
	owners := network.BuildLinkOwners(net, network.Assignment{"N1": 0, "N2": 0, "N3": 0, "N4": 0})

	cfg := config.DefaultEngineConfig()
	cfg.EndTime = 400
	sink := events.NewRecordingSink()

	w := newTestWorker(t, cfg, p, owners, sink)
	require.NoError(t, w.Seed(networkAgent("A1", "V1", "L1", "L3", []model.LinkID{"L1", "L2", "L3"})))
	require.NoError(t, w.Run(context.Background()))

	byKind := map[model.EventKind][]model.Event{}
	for _, e := range sink.Events() {
		byKind[e.Kind] = append(byKind[e.Kind], e)
	}

	require.Len(t, byKind[model.EventDeparture], 1)
	assert.EqualValues(t, 0, byKind[model.EventDeparture][0].Time)

	require.Len(t, byKind[model.EventLinkEnter], 3)
	require.Len(t, byKind[model.EventLinkLeave], 3)
	assert.EqualValues(t, 0, byKind[model.EventLinkEnter][0].Time)
	assert.EqualValues(t, 100, byKind[model.EventLinkLeave][0].Time)
	assert.EqualValues(t, 100, byKind[model.EventLinkEnter][1].Time)
	assert.EqualValues(t, 200, byKind[model.EventLinkLeave][1].Time)
	assert.EqualValues(t, 200, byKind[model.EventLinkEnter][2].Time)

	require.Len(t, byKind[model.EventArrival], 1)
	assert.EqualValues(t, 300, byKind[model.EventArrival][0].Time)
}

func TestWorkerS3GenericRouteTeleport(t *testing.T) {
	net := network.NewNetwork()
	net.AddNode("N1")
	net.AddNode("N2")
	net.AddLink(network.LinkRecord{ID: "L1", From: "N1", To: "N2", Length: 1000, FreeSpeed: 10})
	net.AddLink(network.LinkRecord{ID: "L20", From: "N1", To: "N2", Length: 1000, FreeSpeed: 10})
	p := singlePartition(t, net)
	owners := network.BuildLinkOwners(net, network.Assignment{"N1": 0, "N2": 0})

	cfg := config.DefaultEngineConfig()
	cfg.EndTime = 700
	sink := events.NewRecordingSink()

	w := newTestWorker(t, cfg, p, owners, sink)
	agent := &model.Agent{
		ID: "A1",
		Plan: model.Plan{Elements: []model.PlanElement{
			{Kind: model.ElementActivity, Activity: model.Activity{Type: "home", Link: "L1", HasEndTime: true, EndTime: 0}},
			{Kind: model.ElementLeg, Leg: model.Leg{Mode: "walk", Kind: model.RouteKindGeneric, Gen: model.GenericRoute{StartLink: "L1", EndLink: "L20", TraversalTime: 600, Distance: 5000}}},
			{Kind: model.ElementActivity, Activity: model.Activity{Type: "work", Link: "L20"}},
		}},
	}
	require.NoError(t, w.Seed(agent))
	require.NoError(t, w.Run(context.Background()))

	var departure, travelled, arrival, actStart *model.Event
	for i, e := range sink.Events() {
		switch e.Kind {
		case model.EventDeparture:
			departure = &sink.Events()[i]
		case model.EventTravelled:
			travelled = &sink.Events()[i]
		case model.EventArrival:
			arrival = &sink.Events()[i]
		case model.EventActStart:
			actStart = &sink.Events()[i]
		}
	}
	require.NotNil(t, departure)
	require.NotNil(t, travelled)
	require.NotNil(t, arrival)
	require.NotNil(t, actStart)
	assert.EqualValues(t, 0, departure.Time)
	assert.EqualValues(t, 0, travelled.Time)
	assert.Equal(t, 5000.0, travelled.Distance)
	assert.EqualValues(t, 600, arrival.Time)
	assert.EqualValues(t, 600, actStart.Time)
}

func TestWorkerS4StuckVehicleTeleportsOut(t *testing.T) {
	net := network.NewNetwork()
	net.AddNode("N1")
	net.AddNode("N2")
	// cap=1 veh/h ⇒ FlowCap admits roughly one vehicle per 3600s; the second
	// vehicle's wait at the head will badly exceed a small stuck_threshold.
	net.AddLink(network.LinkRecord{ID: "L1", From: "N1", To: "N2", Length: 10, FreeSpeed: 10, FlowCapVehH: 1, StorageCapacity: 10})
	p := singlePartition(t, net)
	owners := network.BuildLinkOwners(net, network.Assignment{"N1": 0, "N2": 0})

	cfg := config.DefaultEngineConfig()
	cfg.EndTime = 200
	cfg.StuckThreshold = 50
	sink := events.NewRecordingSink()

	w := newTestWorker(t, cfg, p, owners, sink)
	// Two agents, two vehicles, both departing at t=0 onto the same link: the
	// near-empty flow-cap bucket admits the first and leaves the second stuck
	// at the head of the queue (S4).
	require.NoError(t, w.Seed(networkAgent("A1", "V1", "L1", "L1", []model.LinkID{"L1"})))
	require.NoError(t, w.Seed(networkAgent("A2", "V2", "L1", "L1", []model.LinkID{"L1"})))
	require.NoError(t, w.Run(context.Background()))

	var sawStuck bool
	for _, e := range sink.Events() {
		if e.Kind == model.EventStuckAgent {
			sawStuck = true
			assert.Contains(t, []model.VehicleID{"V1", "V2"}, e.Vehicle)
			assert.GreaterOrEqual(t, e.Time, uint32(50))
		}
	}
	assert.True(t, sawStuck, "expected a StuckAgent event once the second vehicle waited past stuck_threshold")
}

// diamondNetwork builds H:N1->N2, then two N2->N4 paths (S direct, A+B via
// N3 and twice as long), then W:N4->N5. Used to tell a queried route apart
// from a baked one by length.
func diamondNetwork(t *testing.T) *network.Network {
	t.Helper()
	net := network.NewNetwork()
	for _, n := range []model.NodeID{"N1", "N2", "N3", "N4", "N5"} {
		net.AddNode(n)
	}
	net.AddLink(network.LinkRecord{ID: "H", From: "N1", To: "N2", Length: 1000, FreeSpeed: 10, FlowCapVehH: 3600})
	net.AddLink(network.LinkRecord{ID: "S", From: "N2", To: "N4", Length: 1000, FreeSpeed: 10, FlowCapVehH: 3600})
	net.AddLink(network.LinkRecord{ID: "A", From: "N2", To: "N3", Length: 1000, FreeSpeed: 10, FlowCapVehH: 3600})
	net.AddLink(network.LinkRecord{ID: "B", From: "N3", To: "N4", Length: 1000, FreeSpeed: 10, FlowCapVehH: 3600})
	net.AddLink(network.LinkRecord{ID: "W", From: "N4", To: "N5", Length: 1000, FreeSpeed: 10, FlowCapVehH: 3600})
	return net
}

// TestWorkerAdHocRoutingOverridesBakedRoute guards §4.8/§6 RoutingAdHoc:
// depart must query the router for a fresh path rather than trust leg.Net,
// even when leg.Net itself is populated (and, as here, wrong).
func TestWorkerAdHocRoutingOverridesBakedRoute(t *testing.T) {
	net := diamondNetwork(t)
	p := singlePartition(t, net)
	owners := network.BuildLinkOwners(net, network.Assignment{"N1": 0, "N2": 0, "N3": 0, "N4": 0, "N5": 0})

	cfg := config.DefaultEngineConfig()
	cfg.EndTime = 400
	cfg.RoutingMode = config.RoutingAdHoc
	cfg.RouterTimeout = time.Second
	sink := events.NewRecordingSink()

	w := worker.New(0, cfg, p, owners, nil, sink, nil)
	w = w.WithRouter(router.NewDijkstraRouter(net), nil, net)

	// leg.Net deliberately takes the long way (H, A, B, W); the router should
	// override it with the short way (H, S, W).
	require.NoError(t, w.Seed(networkAgent("A1", "V1", "H", "W", []model.LinkID{"H", "A", "B", "W"})))
	require.NoError(t, w.Run(context.Background()))

	var entered []model.LinkID
	for _, e := range sink.Events() {
		if e.Kind == model.EventLinkEnter {
			entered = append(entered, e.Link)
		}
	}
	assert.Equal(t, []model.LinkID{"H", "S", "W"}, entered)
}
