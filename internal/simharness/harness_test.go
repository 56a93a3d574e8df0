package simharness_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matsim-go/qsim/internal/simharness"
	"github.com/matsim-go/qsim/pkg/events"
	"github.com/matsim-go/qsim/pkg/model"
)

func runAndRecord(t *testing.T, s simharness.Scenario) (*events.RecordingSink, map[model.PartitionID]*events.RecordingSink) {
	t.Helper()
	sinks := make(map[model.PartitionID]*events.RecordingSink)
	merged := events.NewRecordingSink()
	res, err := simharness.Run(s, func(p model.PartitionID) model.EventSink {
		sink := events.NewRecordingSink()
		sinks[p] = sink
		return events.NewMultiSink(sink, merged)
	})
	require.NoError(t, err)
	require.NoError(t, res.Err)
	return merged, sinks
}

func TestS1ThreeLinksOnePartition(t *testing.T) {
	s := simharness.S1()
	merged, _ := runAndRecord(t, s)

	byKind := map[model.EventKind][]model.Event{}
	for _, e := range merged.Events() {
		byKind[e.Kind] = append(byKind[e.Kind], e)
	}
	require.Len(t, byKind[model.EventDeparture], 1)
	assert.EqualValues(t, 0, byKind[model.EventDeparture][0].Time)
	require.Len(t, byKind[model.EventArrival], 1)
	assert.EqualValues(t, 300, byKind[model.EventArrival][0].Time)

	checker := simharness.NewInvariantChecker()
	checker.RecordEvents(merged.Events())
	assert.Empty(t, checker.CheckAll(s.Net))
}

func TestS2ThreeLinksTwoPartitions(t *testing.T) {
	s := simharness.S2()
	merged, _ := runAndRecord(t, s)

	var sawArrival bool
	for _, e := range merged.Events() {
		if e.Kind == model.EventArrival {
			sawArrival = true
			assert.EqualValues(t, 300, e.Time)
		}
	}
	assert.True(t, sawArrival)

	checker := simharness.NewInvariantChecker()
	checker.RecordEvents(merged.Events())
	assert.Empty(t, checker.CheckAll(s.Net))
}

func TestS3GenericRouteTeleport(t *testing.T) {
	s := simharness.S3()
	merged, _ := runAndRecord(t, s)

	var arrival, actStart *model.Event
	for i, e := range merged.Events() {
		switch e.Kind {
		case model.EventArrival:
			arrival = &merged.Events()[i]
		case model.EventActStart:
			actStart = &merged.Events()[i]
		}
	}
	require.NotNil(t, arrival)
	require.NotNil(t, actStart)
	assert.EqualValues(t, 600, arrival.Time)
	assert.EqualValues(t, 600, actStart.Time)
}

func TestS4StuckVehicle(t *testing.T) {
	s := simharness.S4()
	merged, _ := runAndRecord(t, s)

	var sawStuck, sawArrival bool
	for _, e := range merged.Events() {
		if e.Kind == model.EventStuckAgent {
			sawStuck = true
			assert.GreaterOrEqual(t, e.Time, uint32(50))
		}
		if e.Kind == model.EventArrival {
			sawArrival = true
		}
	}
	assert.True(t, sawStuck)
	assert.True(t, sawArrival)
}

func TestS5FlowCapCumulativeRate(t *testing.T) {
	s := simharness.S5()
	merged, _ := runAndRecord(t, s)

	leavesByTime := map[uint32]int{}
	for _, e := range merged.Events() {
		if e.Kind == model.EventLinkLeave {
			leavesByTime[e.Time]++
		}
	}
	var total int
	for _, n := range leavesByTime {
		assert.LessOrEqual(t, n, 1, "flow cap of 3600 veh/h admits at most one vehicle per second")
		total += n
	}
	assert.Equal(t, 10, total)

	checker := simharness.NewInvariantChecker()
	checker.RecordEvents(merged.Events())
	assert.Empty(t, checker.CheckAll(s.Net))
}

func TestS6BarrierUnderAsymmetricLoad(t *testing.T) {
	s := simharness.S6()
	merged, _ := runAndRecord(t, s)

	var arrivals int
	for _, e := range merged.Events() {
		if e.Kind == model.EventArrival {
			arrivals++
		}
	}
	assert.Equal(t, 100, arrivals, "the simulation must complete without deadlock and every agent must arrive")

	checker := simharness.NewInvariantChecker()
	checker.RecordEvents(merged.Events())
	assert.Empty(t, checker.CheckAll(s.Net))
}

func TestS6Determinism(t *testing.T) {
	s := simharness.S6()
	_, first := runAndRecord(t, s)
	_, second := runAndRecord(t, simharness.S6())

	require.Equal(t, len(first), len(second))
	for p, firstSink := range first {
		secondSink, ok := second[p]
		require.True(t, ok)
		require.Equal(t, len(firstSink.Events()), len(secondSink.Events()))
		for i := range firstSink.Events() {
			assert.Equal(t, firstSink.Events()[i], secondSink.Events()[i], "identical inputs must produce byte-identical per-partition event sequences (invariant 6)")
		}
	}
}
