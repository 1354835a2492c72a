// Package timerheap implements a min-heap of deadline-ordered callbacks,
// used by the bus to schedule user callbacks and the PendingConnect
// disconnect re-checks onto the event loop.
//
// Grounded directly on
// vendor/github.com/xtaci/kcp-go/v5/timedsched.go's container/heap
// min-heap of (deadline, execute func()) pairs — that scheduler fans
// popped callbacks out to a worker pool; this one is single-threaded and
// leaves execution to its caller (the bus's EventLoop), matching
// spec.md §4.3/§4.6.
package timerheap

import (
	"container/heap"
	"time"
)

// Callback is a scheduled closure.
type Callback func()

type entry struct {
	deadline time.Time
	seq      uint64 // insertion order, breaks deadline ties
	cb       Callback
	index    int // heap.Interface bookkeeping
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Heap is a min-heap of (deadline, callback) pairs. It is not safe for
// concurrent use; the bus guards it with a mutex of its own (timersMu).
type Heap struct {
	h       entryHeap
	nextSeq uint64
}

// New creates an empty Heap.
func New() *Heap {
	return &Heap{}
}

// Schedule inserts cb to run at deadline. Ties among equal deadlines are
// broken by insertion order (spec.md §5, ordering guarantee 5).
func (t *Heap) Schedule(deadline time.Time, cb Callback) {
	e := &entry{deadline: deadline, seq: t.nextSeq, cb: cb}
	t.nextSeq++
	heap.Push(&t.h, e)
}

// PopDue removes and returns every callback whose deadline is at or before
// now, in deadline order (ties broken by insertion order).
func (t *Heap) PopDue(now time.Time) []Callback {
	var due []Callback
	for t.h.Len() > 0 && !t.h[0].deadline.After(now) {
		e := heap.Pop(&t.h).(*entry)
		due = append(due, e.cb)
	}
	return due
}

// NextDeadline reports the deadline of the earliest pending callback, if
// any.
func (t *Heap) NextDeadline() (time.Time, bool) {
	if t.h.Len() == 0 {
		return time.Time{}, false
	}
	return t.h[0].deadline, true
}

// Len reports how many callbacks are pending.
func (t *Heap) Len() int {
	return t.h.Len()
}
