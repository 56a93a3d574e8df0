package model_test

import (
	"testing"

	"github.com/matsim-go/qsim/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func routedVehicle(id model.VehicleID, links ...model.LinkID) model.Vehicle {
	return model.Vehicle{
		ID:   id,
		Type: model.VehicleType{ID: "car", MaxSpeed: 100},
		Route: model.NetworkRoute{
			VehicleID: id,
			LinkIDs:   links,
		},
	}
}

func TestMoveVehiclesAdvancesOntoNextLocalLink(t *testing.T) {
	l1 := model.NewLocalLink("L1", "N1", "N2", 1000, 10, 3600, 10, 1.0, nil)
	l2 := model.NewLocalLink("L2", "N2", "N3", 1000, 10, 3600, 10, 1.0, nil)
	store := model.LinkStore{"L1": l1, "L2": l2}
	var sink model.NopSink

	v := routedVehicle("v1", "L1", "L2")
	v.RouteIndex = 0
	require.True(t, l1.Push(v, 0, sink))

	node := &model.Node{ID: "N2", InLinks: []model.LinkID{"L1"}, OutLinks: []model.LinkID{"L2"}}
	moved, err := node.MoveVehicles(100, store, sink)
	require.NoError(t, err)
	assert.Empty(t, moved)

	ready := l2.PopReady(200)
	require.Len(t, ready, 1)
	assert.Equal(t, model.VehicleID("v1"), ready[0].Vehicle.ID)
}

func TestMoveVehiclesFinishRouteWhenNoNextLink(t *testing.T) {
	l1 := model.NewLocalLink("L1", "N1", "N2", 1000, 10, 3600, 10, 1.0, nil)
	store := model.LinkStore{"L1": l1}
	var sink model.NopSink

	v := routedVehicle("v1", "L1")
	require.True(t, l1.Push(v, 0, sink))

	node := &model.Node{ID: "N2", InLinks: []model.LinkID{"L1"}, OutLinks: nil}
	moved, err := node.MoveVehicles(100, store, sink)
	require.NoError(t, err)
	require.Len(t, moved, 1)
	assert.Equal(t, model.ExitFinishRoute, moved[0].Reason)
}

func TestMoveVehiclesReachedBoundaryOnSplitOutLink(t *testing.T) {
	l1 := model.NewLocalLink("L1", "N1", "N2", 1000, 10, 3600, 10, 1.0, nil)
	out := &model.SplitOutLink{LinkID_: "L2", FromNode_: "N2", ToNode_: "N3", RemotePartition: 7}
	store := model.LinkStore{"L1": l1, "L2": out}
	var sink model.NopSink

	v := routedVehicle("v1", "L1", "L2")
	require.True(t, l1.Push(v, 0, sink))

	node := &model.Node{ID: "N2", InLinks: []model.LinkID{"L1"}, OutLinks: []model.LinkID{"L2"}}
	moved, err := node.MoveVehicles(100, store, sink)
	require.NoError(t, err)
	require.Len(t, moved, 1)
	assert.Equal(t, model.ExitReachedBoundary, moved[0].Reason)
	assert.Equal(t, model.PartitionID(7), moved[0].RemoteDest)
	assert.Equal(t, model.LinkID("L2"), moved[0].NextLink)
}

func TestMoveVehiclesSpillbackRequeuesAtHead(t *testing.T) {
	l1 := model.NewLocalLink("L1", "N1", "N2", 1000, 10, 3600, 10, 1.0, nil)
	full := model.NewLocalLink("L2", "N2", "N3", 1000, 10, 3600, 1, 1.0, nil)
	store := model.LinkStore{"L1": l1, "L2": full}
	var sink model.NopSink

	// Pre-fill the destination link so the incoming vehicle cannot advance.
	blocker := routedVehicle("blocker", "L2")
	require.True(t, full.Push(blocker, 0, sink))

	v := routedVehicle("v1", "L1", "L2")
	require.True(t, l1.Push(v, 0, sink))

	node := &model.Node{ID: "N2", InLinks: []model.LinkID{"L1"}, OutLinks: []model.LinkID{"L2"}}
	moved, err := node.MoveVehicles(100, store, sink)
	require.NoError(t, err)
	assert.Empty(t, moved)

	// v1 must still be queryable from L1's head on a later call once L2 has
	// room (FIFO position preserved, not lost).
	assert.Equal(t, 1, l1.Len())
}
