// Package worker implements the per-partition simulation main loop (§4.9): the
// second-by-second wakeup/teleport/move_nodes/send/receive cycle every worker
// runs independently, synchronized only through its MessageBroker.
package worker

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matsim-go/qsim/pkg/broker"
	"github.com/matsim-go/qsim/pkg/config"
	"github.com/matsim-go/qsim/pkg/events"
	"github.com/matsim-go/qsim/pkg/model"
	"github.com/matsim-go/qsim/pkg/network"
	"github.com/matsim-go/qsim/pkg/qsimerrors"
	"github.com/matsim-go/qsim/pkg/router"
	"github.com/matsim-go/qsim/pkg/timequeue"
	"github.com/matsim-go/qsim/pkg/ttcollector"
)

// LinkOwners maps every link id in the scenario (not just this partition's
// own) to the partition that owns it for simulation purposes. Built once at
// scenario load (network.BuildLinkOwners) and shared read-only across every
// worker (§9 "write-once... then read-only").
type LinkOwners map[model.LinkID]model.PartitionID

// activityWake is a TimeQueue entry: an agent whose current activity ends at
// a fixed, already-known time.
type activityWake struct {
	agent model.AgentID
	end   uint32
}

func (w activityWake) EndTime(uint32) uint32 { return w.end }

// teleportWake is a TimeQueue entry: an agent mid-GenericRoute, due to arrive
// at a fixed, already-known time.
type teleportWake struct {
	agent model.AgentID
	end   uint32
}

func (w teleportWake) EndTime(uint32) uint32 { return w.end }

// Worker runs one partition's main loop. Not safe for concurrent use: a
// Worker is meant to run on its own goroutine/thread, one per partition,
// communicating with its peers only through its MessageBroker (§5).
type Worker struct {
	id        model.PartitionID
	cfg       config.EngineConfig
	partition *network.Partition
	owners    LinkOwners

	agents map[model.AgentID]*model.Agent

	activityQ timequeue.TimeQueue[activityWake]
	teleportQ timequeue.TimeQueue[teleportWake]

	broker     broker.MessageBroker
	neighbours []model.PartitionID
	sink       model.EventSink
	logger     *zap.Logger

	net       *network.Network
	router    router.Router
	collector *ttcollector.Collector

	outVehicles map[model.PartitionID][]broker.VehicleCrossing
	outHandoffs map[model.PartitionID][]broker.AgentHandoff
}

// New builds a Worker for partition id. sink must not be nil; use
// model.NopSink{} if events are unwanted. b may be nil only for a
// single-partition run with no neighbours.
func New(id model.PartitionID, cfg config.EngineConfig, partition *network.Partition, owners LinkOwners, b broker.MessageBroker, sink model.EventSink, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	var neighbours []model.PartitionID
	for peer := range partition.Neighbours() {
		neighbours = append(neighbours, peer)
	}
	return &Worker{
		id:          id,
		cfg:         cfg,
		partition:   partition,
		owners:      owners,
		agents:      make(map[model.AgentID]*model.Agent),
		broker:      b,
		neighbours:  neighbours,
		sink:        sink,
		outVehicles: make(map[model.PartitionID][]broker.VehicleCrossing),
		outHandoffs: make(map[model.PartitionID][]broker.AgentHandoff),
		logger:      logger.With(zap.Int("partition", int(id))),
	}
}

// WithRouter installs a router for AdHoc or ReplanningInterval routing (§4.8,
// §4.12); omit for UsePlans/None. net is the full scenario graph the router
// was built over, needed to resolve a leg's origin/destination link endpoints
// into the node ids Router.Query takes. c may be nil (AdHoc has no measured-
// weight feedback loop); when non-nil it is chained onto the worker's event
// sink via events.MultiSink so it measures the same LinkEnter/LinkLeave
// stream the caller's own sink sees, not a separate feed.
func (w *Worker) WithRouter(r router.Router, c *ttcollector.Collector, net *network.Network) *Worker {
	w.router = r
	w.collector = c
	w.net = net
	if c != nil {
		w.sink = events.NewMultiSink(w.sink, c)
	}
	return w
}

// isMainMode reports whether mode should be simulated on the network rather
// than teleported regardless of its Leg's Kind (§6 main_modes). An empty
// MainModes set means no restriction: every mode is main.
func (w *Worker) isMainMode(mode string) bool {
	if len(w.cfg.MainModes) == 0 {
		return true
	}
	return w.cfg.MainModes[mode]
}

// Seed registers an agent owned by this partition at scenario load, enqueuing
// its first activity's wakeup if it has one.
func (w *Worker) Seed(a *model.Agent) error {
	w.agents[a.ID] = a
	a.State = model.AgentAtActivity
	act, ok := a.CurrentActivity()
	if !ok {
		return qsimerrors.NewFatal(int(w.id), w.cfg.StartTime, "seeded agent does not start at an activity: "+string(a.ID), qsimerrors.ErrScenarioInconsistent)
	}
	last := len(a.Plan.Elements) - 1
	for i, el := range a.Plan.Elements {
		want := model.ElementActivity
		if i%2 == 1 {
			want = model.ElementLeg
		}
		if el.Kind != want || (i == last && el.Kind != model.ElementActivity) {
			return qsimerrors.NewFatal(int(w.id), w.cfg.StartTime, "plan does not alternate activity/leg from and to an activity: "+string(a.ID), qsimerrors.ErrScenarioInconsistent)
		}
	}
	end, wakes := w.activityEnd(act, w.cfg.StartTime)
	if !wakes {
		return nil
	}
	w.activityQ.Add(activityWake{agent: a.ID, end: end}, w.cfg.StartTime)
	return nil
}

// activityEnd resolves the wake time of an activity that starts at start. An
// activity with neither end_time nor max_duration never wakes (§4.9's
// final-activity case); callers must only treat that as valid when the
// activity really is the agent's last plan element.
func (w *Worker) activityEnd(act *model.Activity, start uint32) (uint32, bool) {
	if act.HasEndTime {
		return act.EndTime, true
	}
	if act.HasMaxDuration {
		return start + act.MaxDuration, true
	}
	return 0, false
}

// Run executes the main loop for [cfg.StartTime, cfg.EndTime] (§4.9),
// returning the first fatal error encountered, or nil on normal completion.
// ctx cancellation is observed once per simulated second, between steps; it
// does not interrupt a step already in progress (§5 "no soft cancellation").
func (w *Worker) Run(ctx context.Context) error {
	for t := w.cfg.StartTime; t <= w.cfg.EndTime; t++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := w.step(t); err != nil {
			w.logger.Error("worker step failed", zap.Uint32("time", t), zap.Error(err))
			return err
		}
		w.maybeReplan(t)
	}
	w.sink.Finish()
	return nil
}

func (w *Worker) step(t uint32) error {
	if err := w.stepStuck(t); err != nil {
		return err
	}
	if err := w.wakeup(t); err != nil {
		return err
	}
	if err := w.teleport(t); err != nil {
		return err
	}
	if err := w.moveNodes(t); err != nil {
		return err
	}
	if err := w.send(t); err != nil {
		return err
	}
	return w.receive(t)
}

// maybeReplan hands the collector's accumulated weights to the router on
// each elapsed ReplanningInterval boundary, then resets the window (§4.12).
func (w *Worker) maybeReplan(t uint32) {
	if w.router == nil || w.collector == nil || w.cfg.RoutingMode != config.RoutingReplanningInterval || w.cfg.ReplanningInterval == 0 {
		return
	}
	if t == w.cfg.StartTime || (t-w.cfg.StartTime)%w.cfg.ReplanningInterval != 0 {
		return
	}
	w.router.Customize(w.collector.Weights())
	w.collector.Reset()
}

// stepStuck implements the stuck-agent safety valve: any LocalLink or
// SplitInLink whose head-of-queue vehicle has waited at least
// stuck_threshold seconds is forcibly drained and its driver teleported
// straight to its next activity (§6 stuck_threshold, §7 StuckAgent, S4).
// SplitOutLink heads are never checked: a SplitOutLink never queues a
// vehicle in the first place (node.MoveVehicles hands it to the broker the
// instant it reaches the node), so there is no queue head to get stuck on —
// this engine's answer to the open question in §9 about stuck-threshold
// applicability across split links.
func (w *Worker) stepStuck(t uint32) error {
	if w.cfg.StuckThreshold == 0 {
		return nil
	}
	for _, id := range w.partition.OwnedLinkOrder() {
		link, err := w.partition.Links().Get(id)
		if err != nil {
			return err
		}
		local, ok := asQueueable(link)
		if !ok {
			continue
		}
		waitedSince, vehID, hasHead := local.HeadWaitSince(t)
		if !hasHead || t < waitedSince+w.cfg.StuckThreshold {
			continue
		}
		qv, popped := local.RemoveHead()
		if !popped {
			continue
		}
		w.sink.OnEvent(model.Event{Kind: model.EventStuckAgent, Time: t, Link: id, Vehicle: vehID, Agent: qv.Vehicle.Driver})
		if err := w.finishRoute(qv.Vehicle, t); err != nil {
			return err
		}
	}
	return nil
}

func asQueueable(l model.Link) (*model.LocalLink, bool) {
	switch v := l.(type) {
	case *model.LocalLink:
		return v, true
	case *model.SplitInLink:
		return v.Local, true
	default:
		return nil, false
	}
}

// wakeup implements §4.9's wakeup phase.
func (w *Worker) wakeup(t uint32) error {
	for _, aw := range w.activityQ.Pop(t) {
		a, ok := w.agents[aw.agent]
		if !ok {
			return qsimerrors.NewFatal(int(w.id), t, "wakeup for unknown agent: "+string(aw.agent), qsimerrors.ErrScenarioInconsistent)
		}
		act, _ := a.CurrentActivity()
		w.sink.OnEvent(model.Event{Kind: model.EventActEnd, Time: t, Agent: a.ID, Link: act.Link, ActType: act.Type})

		a.Advance()
		leg, ok := a.CurrentLeg()
		if !ok {
			return qsimerrors.NewFatal(int(w.id), t, "activity wakeup did not advance to a leg: "+string(a.ID), qsimerrors.ErrScenarioInconsistent)
		}

		w.sink.OnEvent(model.Event{Kind: model.EventDeparture, Time: t, Agent: a.ID, Link: act.Link, Mode: leg.Mode})

		if err := w.depart(a, leg, t); err != nil {
			return err
		}
	}
	return nil
}

// depart dispatches a departing agent's leg per §4.9's wakeup rules.
func (w *Worker) depart(a *model.Agent, leg *model.Leg, t uint32) error {
	useNetwork := leg.Kind == model.RouteKindNetwork
	if useNetwork && !w.isMainMode(leg.Mode) {
		return qsimerrors.NewFatal(int(w.id), t, "leg mode not in main_modes but route is NetworkRoute: "+leg.Mode, qsimerrors.ErrScenarioInconsistent)
	}

	if !useNetwork {
		a.State = model.AgentOnTeleport
		w.sink.OnEvent(model.Event{Kind: model.EventTravelled, Time: t, Agent: a.ID, Mode: leg.Mode, Distance: leg.Gen.Distance})
		end := t + leg.Gen.TraversalTime
		if owner, ok := w.owners[leg.Gen.EndLink]; ok && owner != w.id {
			w.outHandoffs[owner] = append(w.outHandoffs[owner], broker.AgentHandoff{Agent: *a, ArrivalTime: end})
			delete(w.agents, a.ID)
			return nil
		}
		w.teleportQ.Add(teleportWake{agent: a.ID, end: end}, t)
		return nil
	}

	a.State = model.AgentOnNetwork
	route, err := w.resolveRoute(a, leg, t)
	if err != nil {
		return err
	}
	startLink, ok := route.CurrentLink(0)
	if !ok {
		return qsimerrors.NewFatal(int(w.id), t, "NetworkRoute has no links: "+string(a.ID), qsimerrors.ErrScenarioInconsistent)
	}
	v := model.Vehicle{ID: route.VehicleID, Driver: a.ID, Route: route, RouteIndex: 0}

	owner, known := w.owners[startLink]
	if known && owner != w.id {
		w.outVehicles[owner] = append(w.outVehicles[owner], broker.VehicleCrossing{Vehicle: v, IntoLink: startLink})
		return nil
	}

	local, err := w.partition.Links().AsLocal(startLink)
	if err != nil {
		return err
	}
	w.sink.OnEvent(model.Event{Kind: model.EventPersonEntersVehicle, Time: t, Agent: a.ID, Vehicle: v.ID})
	if !local.Push(v, t, w.sink) {
		return qsimerrors.NewFatal(int(w.id), t, "departure link at storage capacity: "+string(startLink), qsimerrors.ErrLinkBlocked)
	}
	return nil
}

// resolveRoute returns the NetworkRoute a departing network leg should drive:
// the scenario's own baked leg.Net, unless RoutingAdHoc is configured and a
// router is attached, in which case it queries the router fresh (§4.8, §6
// "query router on departure"). A query that fails or an agent whose plan
// doesn't expose the activity either side of this leg falls back to the
// baked route rather than stranding the agent.
func (w *Worker) resolveRoute(a *model.Agent, leg *model.Leg, t uint32) (model.NetworkRoute, error) {
	if w.cfg.RoutingMode != config.RoutingAdHoc || w.router == nil || w.net == nil {
		return leg.Net, nil
	}
	originLink, destLink, ok := adHocEndpoints(a)
	if !ok {
		return leg.Net, nil
	}
	route, err := w.queryRoute(originLink, destLink, leg.Net.VehicleID)
	if err != nil {
		w.logger.Warn("ad-hoc router query failed, falling back to planned route",
			zap.Uint32("time", t), zap.String("agent", string(a.ID)), zap.Error(err))
		return leg.Net, nil
	}
	return route, nil
}

// adHocEndpoints returns the links of the activities immediately before and
// after a's current leg (a plan's Activity/Leg/Activity shape, §3), or false
// if a's CurrentElement isn't a leg with an activity on both sides.
func adHocEndpoints(a *model.Agent) (origin, dest model.LinkID, ok bool) {
	elems := a.Plan.Elements
	i := a.CurrentElement
	if i <= 0 || i+1 >= len(elems) {
		return "", "", false
	}
	prev, next := elems[i-1], elems[i+1]
	if prev.Kind != model.ElementActivity || next.Kind != model.ElementActivity {
		return "", "", false
	}
	return prev.Activity.Link, next.Activity.Link, true
}

// queryRoute asks the router for a path between originLink and destLink's
// endpoints and splices it between those two links, mirroring how a baked
// NetworkRoute always starts and ends on the trip's own activity links.
func (w *Worker) queryRoute(originLink, destLink model.LinkID, vehID model.VehicleID) (model.NetworkRoute, error) {
	from := w.net.Links[originLink].To
	to := w.net.Links[destLink].From
	if from == to {
		return model.NetworkRoute{VehicleID: vehID, LinkIDs: []model.LinkID{originLink, destLink}}, nil
	}
	path, err := router.QueryWithTimeout(w.router, from, to, w.cfg.RouterTimeout)
	if err != nil {
		return model.NetworkRoute{}, err
	}
	links := make([]model.LinkID, 0, len(path.Links)+2)
	links = append(links, originLink)
	links = append(links, path.Links...)
	links = append(links, destLink)
	return model.NetworkRoute{VehicleID: vehID, LinkIDs: links}, nil
}

// teleport implements §4.9's teleport phase.
func (w *Worker) teleport(t uint32) error {
	for _, tw := range w.teleportQ.Pop(t) {
		a, ok := w.agents[tw.agent]
		if !ok {
			return qsimerrors.NewFatal(int(w.id), t, "teleport pop for unknown agent: "+string(tw.agent), qsimerrors.ErrScenarioInconsistent)
		}
		if err := w.arriveAtNextActivity(a, t); err != nil {
			return err
		}
	}
	return nil
}

// arriveAtNextActivity advances a's plan past its leg to the next activity,
// emitting Arrival/ActStart and enqueuing the activity's own wakeup if it has
// one, or marking the agent Done if that was the plan's last element.
func (w *Worker) arriveAtNextActivity(a *model.Agent, t uint32) error {
	var link model.LinkID
	if leg, ok := a.CurrentLeg(); ok && leg.Kind == model.RouteKindGeneric {
		link = leg.Gen.EndLink
	}
	w.sink.OnEvent(model.Event{Kind: model.EventArrival, Time: t, Agent: a.ID, Link: link})

	a.Advance()
	if a.State == model.AgentDone {
		return nil
	}
	act, ok := a.CurrentActivity()
	if !ok {
		return qsimerrors.NewFatal(int(w.id), t, "arrival did not advance to an activity: "+string(a.ID), qsimerrors.ErrScenarioInconsistent)
	}
	a.State = model.AgentAtActivity
	w.sink.OnEvent(model.Event{Kind: model.EventActStart, Time: t, Agent: a.ID, Link: act.Link, ActType: act.Type})

	end, wakes := w.activityEnd(act, t)
	if !wakes {
		return nil
	}
	w.activityQ.Add(activityWake{agent: a.ID, end: end}, t)
	return nil
}

// finishRoute is the ExitFinishRoute handler shared by move_nodes and the
// stuck-agent safety valve: both cases end a vehicle's NetworkRoute leg and
// advance its driver to the next activity. Arrival fires here, on the
// vehicle's last LinkLeave, resolving the open question in §9 about whether
// arrival fires on last-leave or node-finish.
func (w *Worker) finishRoute(v model.Vehicle, t uint32) error {
	a, ok := w.agents[v.Driver]
	if !ok {
		return qsimerrors.NewFatal(int(w.id), t, "finish-route for unknown driver: "+string(v.Driver), qsimerrors.ErrScenarioInconsistent)
	}
	w.sink.OnEvent(model.Event{Kind: model.EventPersonLeavesVehicle, Time: t, Agent: a.ID, Vehicle: v.ID})
	return w.arriveAtNextActivity(a, t)
}

// moveNodes implements §4.9's move_nodes phase: run every node's automaton,
// finish routes locally, and queue boundary crossers for the next send.
func (w *Worker) moveNodes(t uint32) error {
	for _, nid := range w.partition.NodeOrder() {
		node, ok := w.partition.Node(nid)
		if !ok {
			return qsimerrors.NewFatal(int(w.id), t, "node vanished from own partition: "+string(nid), qsimerrors.ErrNodeNotFound)
		}
		moved, err := node.MoveVehicles(t, w.partition.Links(), w.sink)
		if err != nil {
			return err
		}
		for _, m := range moved {
			switch m.Reason {
			case model.ExitFinishRoute:
				if err := w.finishRoute(m.Vehicle, t); err != nil {
					return err
				}
			case model.ExitReachedBoundary:
				w.outVehicles[m.RemoteDest] = append(w.outVehicles[m.RemoteDest], broker.VehicleCrossing{Vehicle: m.Vehicle, IntoLink: m.NextLink})
			}
		}
	}
	return nil
}

// send implements §4.7's send: exactly one message to every neighbour
// (heartbeat if nothing queued for it) plus one to every other partition
// with a non-empty outbox.
func (w *Worker) send(t uint32) error {
	defer func() {
		w.outVehicles = make(map[model.PartitionID][]broker.VehicleCrossing)
		w.outHandoffs = make(map[model.PartitionID][]broker.AgentHandoff)
	}()
	if w.broker == nil {
		return nil
	}

	sentTo := make(map[model.PartitionID]bool, len(w.neighbours))
	for _, peer := range w.neighbours {
		vehicles := w.outVehicles[peer]
		handoffs := w.outHandoffs[peer]
		msg := broker.Message{
			From:          w.id,
			To:            peer,
			Time:          t,
			Vehicles:      vehicles,
			Handoffs:      handoffs,
			Heartbeat:     len(vehicles) == 0 && len(handoffs) == 0,
			CorrelationID: uuid.NewString(),
		}
		if err := w.broker.Send(msg); err != nil {
			return fmt.Errorf("worker %d: send to neighbour %d at t=%d: %w", w.id, peer, t, err)
		}
		sentTo[peer] = true
	}

	remotes := make(map[model.PartitionID]bool)
	for peer := range w.outVehicles {
		remotes[peer] = true
	}
	for peer := range w.outHandoffs {
		remotes[peer] = true
	}
	for peer := range remotes {
		if sentTo[peer] {
			continue
		}
		msg := broker.Message{From: w.id, To: peer, Time: t, Vehicles: w.outVehicles[peer], Handoffs: w.outHandoffs[peer], CorrelationID: uuid.NewString()}
		if err := w.broker.Send(msg); err != nil {
			return fmt.Errorf("worker %d: send to remote %d at t=%d: %w", w.id, peer, t, err)
		}
	}
	return nil
}

// receive implements §4.7's receive: block until every neighbour has been
// heard from at time t, then drain any further non-blocking messages from
// non-neighbour partitions.
func (w *Worker) receive(t uint32) error {
	if w.broker == nil {
		return nil
	}
	inbox, err := w.broker.Inbox(w.id)
	if err != nil {
		return err
	}

	isNeighbour := make(map[model.PartitionID]bool, len(w.neighbours))
	for _, p := range w.neighbours {
		isNeighbour[p] = true
	}
	seen := make(map[model.PartitionID]bool, len(w.neighbours))

	recvOne := func() error {
		msg, ok := <-inbox
		if !ok {
			return qsimerrors.NewFatal(int(w.id), t, "neighbour channel closed", qsimerrors.ErrChannelClosed)
		}
		if msg.Time != t {
			return qsimerrors.NewFatal(int(w.id), t, fmt.Sprintf("message from %d carries time %d, want %d", msg.From, msg.Time, t), qsimerrors.ErrPartitionProtocol)
		}
		if err := w.applyMessage(msg, t); err != nil {
			return err
		}
		if isNeighbour[msg.From] {
			seen[msg.From] = true
		}
		return nil
	}

	for len(seen) < len(w.neighbours) {
		if err := recvOne(); err != nil {
			return err
		}
	}

	for {
		select {
		case msg, ok := <-inbox:
			if !ok {
				return qsimerrors.NewFatal(int(w.id), t, "neighbour channel closed", qsimerrors.ErrChannelClosed)
			}
			if msg.Time != t {
				return qsimerrors.NewFatal(int(w.id), t, fmt.Sprintf("message from %d carries time %d, want %d", msg.From, msg.Time, t), qsimerrors.ErrPartitionProtocol)
			}
			if err := w.applyMessage(msg, t); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// applyMessage pushes every crossing vehicle onto its destination link and
// resumes every handed-off agent's teleport in this partition.
func (w *Worker) applyMessage(msg broker.Message, t uint32) error {
	for _, c := range msg.Vehicles {
		local, err := w.partition.Links().AsLocal(c.IntoLink)
		if err != nil {
			return qsimerrors.NewFatal(int(w.id), t, "crossing vehicle addressed to non-owned link: "+string(c.IntoLink), qsimerrors.ErrPartitionProtocol)
		}
		w.sink.OnEvent(model.Event{Kind: model.EventLinkEnter, Time: t, Link: c.IntoLink, Vehicle: c.Vehicle.ID})
		if !local.Push(c.Vehicle, t, model.NopSink{}) {
			return qsimerrors.NewFatal(int(w.id), t, "crossing vehicle's destination link at storage capacity: "+string(c.IntoLink), qsimerrors.ErrLinkBlocked)
		}
	}
	for _, h := range msg.Handoffs {
		a := h.Agent
		w.agents[a.ID] = &a
		w.teleportQ.Add(teleportWake{agent: a.ID, end: h.ArrivalTime}, t)
	}
	return nil
}
