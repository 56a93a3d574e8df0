// Package timequeue provides a time-ordered wakeup queue for entries keyed by
// an end time (§4.6). It backs activity wake-ups and teleport-leg completions
// in the worker loop: each partition holds one TimeQueue per concern rather than
// scanning every agent every tick.
package timequeue

import "container/heap"

// EndTimer is the single method a value stored in a TimeQueue must implement.
// now is the time the value was added; EndTime may depend on it (e.g. "now plus
// remaining activity duration") or be an absolute time fixed at construction.
type EndTimer interface {
	EndTime(now uint32) uint32
}

// entry wraps a value with the end time computed for it at insertion, so
// later mutation of the value (if T is a pointer type) cannot silently break
// heap ordering — matching the original's own caution against mutating a
// stored end time after insertion.
type entry[T EndTimer] struct {
	endTime uint32
	value   T
}

// entryHeap is a min-heap over entry.endTime, implementing container/heap.Interface.
type entryHeap[T EndTimer] []entry[T]

func (h entryHeap[T]) Len() int            { return len(h) }
func (h entryHeap[T]) Less(i, j int) bool  { return h[i].endTime < h[j].endTime }
func (h entryHeap[T]) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap[T]) Push(x interface{}) { *h = append(*h, x.(entry[T])) }
func (h *entryHeap[T]) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// TimeQueue is a min-heap of values ordered by end time. Zero value is ready
// to use.
type TimeQueue[T EndTimer] struct {
	h entryHeap[T]
}

// Add inserts value, computing its end time relative to now.
func (q *TimeQueue[T]) Add(value T, now uint32) {
	heap.Push(&q.h, entry[T]{endTime: value.EndTime(now), value: value})
}

// Pop removes and returns every value whose end time is <= now, in
// non-decreasing end-time order. Returns nil if nothing is due.
func (q *TimeQueue[T]) Pop(now uint32) []T {
	var out []T
	for q.h.Len() > 0 && q.h[0].endTime <= now {
		e := heap.Pop(&q.h).(entry[T])
		out = append(out, e.value)
	}
	return out
}

// Peek reports the smallest end time currently queued, and whether the queue
// is non-empty, without removing anything.
func (q *TimeQueue[T]) Peek() (uint32, bool) {
	if q.h.Len() == 0 {
		return 0, false
	}
	return q.h[0].endTime, true
}

// Len reports the number of values currently queued.
func (q *TimeQueue[T]) Len() int { return q.h.Len() }
