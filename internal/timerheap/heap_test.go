package timerheap

import (
	"testing"
	"time"
)

func TestPopDueOrdersByDeadline(t *testing.T) {
	h := New()
	base := time.Now()

	var order []int
	for i := 0; i < 10; i++ {
		i := i
		h.Schedule(base.Add(50*time.Millisecond-time.Duration(i)*time.Millisecond), func() {
			order = append(order, i)
		})
	}

	due := h.PopDue(base.Add(time.Hour))
	for _, cb := range due {
		cb()
	}

	want := []int{9, 8, 7, 6, 5, 4, 3, 2, 1, 0}
	if len(order) != len(want) {
		t.Fatalf("expected %d callbacks, got %d", len(want), len(order))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order[%d] = %d, want %d (full: %v)", i, order[i], want[i], order)
		}
	}
}

func TestEqualDeadlinesRunInInsertionOrder(t *testing.T) {
	h := New()
	deadline := time.Now()

	var order []string
	h.Schedule(deadline, func() { order = append(order, "first") })
	h.Schedule(deadline, func() { order = append(order, "second") })
	h.Schedule(deadline, func() { order = append(order, "third") })

	for _, cb := range h.PopDue(deadline) {
		cb()
	}

	want := []string{"first", "second", "third"}
	for i, w := range want {
		if order[i] != w {
			t.Fatalf("order[%d] = %q, want %q", i, order[i], w)
		}
	}
}

func TestNextDeadlineAndNotYetDue(t *testing.T) {
	h := New()
	now := time.Now()
	h.Schedule(now.Add(time.Hour), func() {})

	if _, ok := h.NextDeadline(); !ok {
		t.Fatalf("expected a next deadline")
	}

	due := h.PopDue(now)
	if len(due) != 0 {
		t.Fatalf("expected no due callbacks yet, got %d", len(due))
	}
	if h.Len() != 1 {
		t.Fatalf("expected the callback to remain pending, Len()=%d", h.Len())
	}
}

func TestNowCallbackRunsBeforePositiveDelta(t *testing.T) {
	h := New()
	now := time.Now()

	var order []string
	h.Schedule(now, func() { order = append(order, "at-now") })
	h.Schedule(now.Add(10*time.Millisecond), func() { order = append(order, "later") })

	for _, cb := range h.PopDue(now) {
		cb()
	}
	if len(order) != 1 || order[0] != "at-now" {
		t.Fatalf("expected only the now-callback to fire, got %v", order)
	}

	for _, cb := range h.PopDue(now.Add(time.Second)) {
		cb()
	}
	if len(order) != 2 || order[1] != "later" {
		t.Fatalf("expected later callback to run second, got %v", order)
	}
}

func TestEmptyHeapHasNoNextDeadline(t *testing.T) {
	h := New()
	if _, ok := h.NextDeadline(); ok {
		t.Fatalf("expected no next deadline on an empty heap")
	}
}
