// Package bytequeue implements a FIFO bounded by total buffered payload
// bytes rather than by item count: producers block in Put while adding
// their item would take the queued bytes over the configured cap.
//
// Grounded on vendor/github.com/xtaci/kcp-go/v5/timedsched.go's
// mutex-gated handoff of work to a bounded pool of workers (there the gate
// is a worker-count budget; here it is a byte budget) and on
// std/copy.go's sync.Once-guarded shutdown idiom.
package bytequeue

import (
	"sync"
	"time"
)

// Item is one entry in the queue: a connection identifier and the payload
// bound for it. ConnID is an opaque int64 so this package does not need to
// import the registry package that defines the real ConnectionId type.
//
// Kind is an opaque tag the caller may use to interleave control
// sentinels (a connect trigger, a disconnect trigger) with real payload
// bytes while preserving their relative FIFO order; this package never
// inspects it.
type Item struct {
	ConnID  int64
	Payload []byte
	Kind    int
}

// Sizer reports the byte weight of an Item for the purpose of the byte
// budget. Items with Sizer(item) == 0 (control sentinels such as
// TriggerConnect/TriggerDisconnect) never block a producer.
type Sizer func(Item) int

// Queue is a FIFO of Item bounded by total buffered bytes.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	items       []Item
	sizeOf      Sizer
	currentSize int
	maxBytes    int // 0 means unbounded
	blocked     int // count of producers currently parked in Put
	closed      bool
}

// New creates a Queue. maxBytes of 0 means unbounded.
func New(sizeOf Sizer, maxBytes int) *Queue {
	q := &Queue{sizeOf: sizeOf, maxBytes: maxBytes}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Put appends item to the queue, blocking the caller while the queued
// bytes plus item's size would exceed the byte cap. An item whose size is
// 0 is never blocked on, matching the bus's control-sentinel contract
// (TriggerConnect, TriggerDisconnect).
func (q *Queue) Put(item Item) {
	size := q.sizeOf(item)

	q.mu.Lock()
	defer q.mu.Unlock()

	for size > 0 && q.maxBytes > 0 && q.currentSize+size > q.maxBytes && !q.closed {
		q.blocked++
		q.cond.Wait()
		q.blocked--
	}

	q.items = append(q.items, item)
	q.currentSize += size
	q.cond.Broadcast()
}

// Get blocks until an item is available or timeout elapses, returning
// ok=false in the latter case (or if the queue is closed and drained). A
// negative timeout blocks with no deadline.
func (q *Queue) Get(timeout time.Duration) (item Item, ok bool) {
	q.mu.Lock()

	if len(q.items) == 0 && !q.closed && timeout >= 0 {
		// Cond has no timed wait; a helper goroutine turns the timeout into
		// a Broadcast so the waiter here only ever blocks on the condvar.
		timer := time.AfterFunc(timeout, func() {
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		})
		defer timer.Stop()

		deadline := time.Now().Add(timeout)
		for len(q.items) == 0 && !q.closed && time.Now().Before(deadline) {
			q.cond.Wait()
		}
	} else {
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
	}

	if len(q.items) == 0 {
		q.mu.Unlock()
		return Item{}, false
	}

	item = q.items[0]
	q.items = q.items[1:]
	q.currentSize -= q.sizeOf(item)
	q.cond.Broadcast() // may unblock producers waiting in Put
	q.mu.Unlock()
	return item, true
}

// SetMaxBytes changes the byte cap, waking any producer that can now
// proceed.
func (q *Queue) SetMaxBytes(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.maxBytes = n
	q.cond.Broadcast()
}

// IsBlocked reports whether any producer is currently parked in Put.
func (q *Queue) IsBlocked() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.blocked > 0
}

// PendingBytes reports the current sum of sizeOf(item) across queued items.
func (q *Queue) PendingBytes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.currentSize
}

// Len reports the current number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close unblocks every producer and consumer permanently; subsequent Get
// calls on an empty queue return ok=false immediately.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
