package model

// ActivityType names an activity kind (e.g. "home", "work"). Opaque to the core.
type ActivityType string

// Activity is a stay at a link, optionally bounded by an end time and/or a max
// duration. A MAX end time marks the day's final activity: it never wakes up, and
// the worker loop exits on simulated time rather than by inventory (§4.9).
type Activity struct {
	Type        ActivityType
	Link        LinkID
	EndTime     uint32 // valid iff HasEndTime
	HasEndTime  bool
	MaxDuration uint32 // valid iff HasMaxDuration
	HasMaxDuration bool
}

// GenericRoute represents a teleported leg: simulated time advances by
// TraversalTime without touching the network model.
type GenericRoute struct {
	StartLink     LinkID
	EndLink       LinkID
	TraversalTime uint32
	Distance      float64
}

// RouteKind discriminates a Leg's Route variant.
type RouteKind int

const (
	RouteKindNetwork RouteKind = iota
	RouteKindGeneric
)

// Leg is a mode + route between two activities.
type Leg struct {
	Mode  string
	Kind  RouteKind
	Net   NetworkRoute
	Gen   GenericRoute
}

// PlanElementKind discriminates a plan element.
type PlanElementKind int

const (
	ElementActivity PlanElementKind = iota
	ElementLeg
)

// PlanElement is one alternating slot of an Agent's Plan.
type PlanElement struct {
	Kind     PlanElementKind
	Activity Activity
	Leg      Leg
}

// Plan is an alternating sequence of Activity and Leg, always starting and ending
// with an Activity (§3, §12.2: malformed otherwise, a ScenarioInconsistent load-time
// error, not a runtime restriction on consecutive teleport legs).
type Plan struct {
	Elements []PlanElement
}

// AgentState is the per-agent state machine driven by the worker loop (§4.9).
type AgentState int

const (
	AgentAtActivity AgentState = iota
	AgentOnNetwork
	AgentOnTeleport
	AgentDone
)

func (s AgentState) String() string {
	switch s {
	case AgentAtActivity:
		return "AtActivity"
	case AgentOnNetwork:
		return "OnNetwork"
	case AgentOnTeleport:
		return "OnTeleport"
	case AgentDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// Agent is a person executing a Plan.
type Agent struct {
	ID             AgentID
	Plan           Plan
	CurrentElement int
	State          AgentState
}

// CurrentActivity returns the activity at CurrentElement, if that slot holds one.
func (a *Agent) CurrentActivity() (*Activity, bool) {
	if a.CurrentElement < 0 || a.CurrentElement >= len(a.Plan.Elements) {
		return nil, false
	}
	el := &a.Plan.Elements[a.CurrentElement]
	if el.Kind != ElementActivity {
		return nil, false
	}
	return &el.Activity, true
}

// CurrentLeg returns the leg at CurrentElement, if that slot holds one.
func (a *Agent) CurrentLeg() (*Leg, bool) {
	if a.CurrentElement < 0 || a.CurrentElement >= len(a.Plan.Elements) {
		return nil, false
	}
	el := &a.Plan.Elements[a.CurrentElement]
	if el.Kind != ElementLeg {
		return nil, false
	}
	return &el.Leg, true
}

// IsLastElement reports whether CurrentElement is the plan's final slot.
func (a *Agent) IsLastElement() bool {
	return a.CurrentElement >= len(a.Plan.Elements)-1
}

// Advance moves CurrentElement to the next plan slot, transitioning to Done if
// that was the last element (§4.9 state machine).
func (a *Agent) Advance() {
	if a.IsLastElement() {
		a.CurrentElement = len(a.Plan.Elements)
		a.State = AgentDone
		return
	}
	a.CurrentElement++
}
