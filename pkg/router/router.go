// Package router implements shortest-path queries over the scenario network,
// re-weighted as measured travel times arrive (§4.8).
package router

import (
	"container/heap"
	"fmt"
	"time"

	"github.com/matsim-go/qsim/pkg/model"
	"github.com/matsim-go/qsim/pkg/network"
	"github.com/matsim-go/qsim/pkg/qsimerrors"
)

// Path is the result of a successful Query: the node and link sequence from
// source to destination, and its total weight.
type Path struct {
	Nodes  []model.NodeID
	Links  []model.LinkID
	Weight float64
}

// Router is the shortest-path query service the worker consults in AdHoc or
// ReplanningInterval routing mode (§4.8, §6).
type Router interface {
	// Query returns the shortest path from `from` to `to`, or false if no
	// path exists.
	Query(from, to model.NodeID) (Path, bool)
	// Customize re-runs the metric stage with new per-link weights: topology
	// is unchanged, only edge costs are swapped. Weights for links not named
	// fall back to the static free-flow time the router was built with.
	Customize(weights map[model.LinkID]float64)
}

// DijkstraRouter answers Query with a plain Dijkstra search over the
// network's own adjacency (§9: "never store back-pointers" — the router reads
// Network.OutLinks/Links rather than building a second graph
// representation). The algorithm's shape — a min-heap keyed by tentative
// distance with a lazy decrease-key (push duplicates, skip stale pops on
// extraction) — is grounded on the pack's only shortest-path implementation,
// katalvlaran/lvlath/dijkstra; the data structure is this engine's own
// handle/array model rather than lvlath's string-keyed core.Graph, since
// Network already represents exactly the graph the worker steps over and a
// second representation would violate the "two arrays, integer handles" rule
// node.go and link.go follow (DESIGN.md has the full accounting).
//
// A full contraction-hierarchy preprocessing stage (as in spec.md's "query
// service over a CSR forward/backward graph") is not implemented: DESIGN.md
// records this as the one algorithmic simplification in the router, since no
// pack repo ships a CH construction routine to ground it on. Customize still
// honors the "topology/order unchanged, only weights swap" contract.
type DijkstraRouter struct {
	net          *network.Network
	staticWeight map[model.LinkID]float64
	liveWeight   map[model.LinkID]float64
}

// NewDijkstraRouter builds a router over net. Each link's static weight is its
// free-flow traversal time (length / free_speed); Customize overrides a subset
// of these with measured times.
func NewDijkstraRouter(net *network.Network) *DijkstraRouter {
	static := make(map[model.LinkID]float64, len(net.LinkOrder))
	for _, id := range net.LinkOrder {
		rec := net.Links[id]
		speed := rec.FreeSpeed
		if speed <= 0 {
			speed = 1
		}
		static[id] = rec.Length / speed
	}
	return &DijkstraRouter{net: net, staticWeight: static, liveWeight: make(map[model.LinkID]float64)}
}

func (r *DijkstraRouter) weight(id model.LinkID) float64 {
	if w, ok := r.liveWeight[id]; ok {
		return w
	}
	return r.staticWeight[id]
}

// Customize implements Router.
func (r *DijkstraRouter) Customize(weights map[model.LinkID]float64) {
	live := make(map[model.LinkID]float64, len(weights))
	for id, w := range weights {
		live[id] = w
	}
	r.liveWeight = live
}

type heapItem struct {
	node model.NodeID
	dist float64
}

type nodeHeap []heapItem

func (h nodeHeap) Len() int            { return len(h) }
func (h nodeHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h nodeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *nodeHeap) Push(x interface{}) { *h = append(*h, x.(heapItem)) }
func (h *nodeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Query implements Router with a standard lazy-decrease-key Dijkstra search.
func (r *DijkstraRouter) Query(from, to model.NodeID) (Path, bool) {
	dist := make(map[model.NodeID]float64)
	prevNode := make(map[model.NodeID]model.NodeID)
	prevLink := make(map[model.NodeID]model.LinkID)
	visited := make(map[model.NodeID]bool)

	dist[from] = 0
	pq := &nodeHeap{{node: from, dist: 0}}
	heap.Init(pq)

	for pq.Len() > 0 {
		item := heap.Pop(pq).(heapItem)
		u := item.node
		if visited[u] {
			continue
		}
		visited[u] = true
		if u == to {
			break
		}

		for _, lid := range r.net.OutLinks(u) {
			rec := r.net.Links[lid]
			v := rec.To
			if visited[v] {
				continue
			}
			nd := dist[u] + r.weight(lid)
			if existing, ok := dist[v]; !ok || nd < existing {
				dist[v] = nd
				prevNode[v] = u
				prevLink[v] = lid
				heap.Push(pq, heapItem{node: v, dist: nd})
			}
		}
	}

	if _, ok := dist[to]; !ok || (to != from && prevNode[to] == "") {
		return Path{}, false
	}

	var nodes []model.NodeID
	var links []model.LinkID
	for n := to; ; {
		nodes = append([]model.NodeID{n}, nodes...)
		if n == from {
			break
		}
		links = append([]model.LinkID{prevLink[n]}, links...)
		n = prevNode[n]
	}

	return Path{Nodes: nodes, Links: links, Weight: dist[to]}, true
}

// QueryWithTimeout wraps Query with the request/response-channel + timeout
// shape spec.md §9 describes for the (out-of-scope) external router client:
// the in-process DijkstraRouter never actually blocks, but callers that treat
// every router as a potentially-remote service — AdHoc query-on-departure
// (§4.8, §6 RouterTimeout) among them — can use this uniformly, including
// against a future out-of-process router that really can stall.
func QueryWithTimeout(r Router, from, to model.NodeID, timeout time.Duration) (Path, error) {
	type result struct {
		path Path
		ok   bool
	}
	ch := make(chan result, 1)
	go func() {
		p, ok := r.Query(from, to)
		ch <- result{path: p, ok: ok}
	}()
	select {
	case res := <-ch:
		if !res.ok {
			return Path{}, fmt.Errorf("%w: no path from %s to %s", qsimerrors.ErrRouterUnavailable, from, to)
		}
		return res.path, nil
	case <-time.After(timeout):
		return Path{}, fmt.Errorf("%w: query from %s to %s exceeded %s", qsimerrors.ErrRouterUnavailable, from, to, timeout)
	}
}
