package msgbus

import (
	"time"

	"github.com/oddb/msgbus/internal/timerheap"
)

// idleTimerWait is the wait used when no callback is currently scheduled;
// it is purely a parking duration; scheduleOnEventLoop always interrupts
// it immediately via wakeCh when a sooner deadline appears (spec.md §4.3:
// "the IOLoop must be woken via the general self-pipe").
const idleTimerWait = time.Hour

// eventLoop is the single goroutine that invokes the user Handler, in
// total order, and runs every scheduled Callback at its deadline,
// interleaved by deadline the way spec.md §4.6 describes a single queue
// of (event | closure) items. Here the interleaving is done with a
// select over the event channel and a timer sized to the next deadline,
// rather than literally sharing one queue — the one-goroutine, total-
// order guarantee is identical either way.
func (b *Bus[T]) eventLoop() {
	defer b.wg.Done()
	for {
		timer := time.NewTimer(b.nextTimerDelay())

		select {
		case ev, open := <-b.eventCh:
			timer.Stop()
			if !open {
				return
			}
			b.dispatchEvent(ev)
		case <-timer.C:
			b.runDueTimers()
		case <-b.wakeCh:
			timer.Stop()
		}
	}
}

// nextTimerDelay reports how long the event loop should wait before the
// earliest scheduled Callback becomes due.
func (b *Bus[T]) nextTimerDelay() time.Duration {
	b.timersMu.Lock()
	next, ok := b.timers.NextDeadline()
	b.timersMu.Unlock()
	if !ok {
		return idleTimerWait
	}
	if d := time.Until(next); d > 0 {
		return d
	}
	return 0
}

// runDueTimers pops every Callback whose deadline has arrived, in
// deadline order with ties broken by insertion order (spec.md §4.3, §5
// ordering guarantee 5), and runs each in turn on this goroutine.
func (b *Bus[T]) runDueTimers() {
	b.timersMu.Lock()
	due := b.timers.PopDue(time.Now())
	b.timersMu.Unlock()

	for _, cb := range due {
		b.invokeCallback(cb)
	}
}

// invokeCallback runs cb, recovering and logging a panic rather than
// letting it take the event loop down (spec.md §4.6 applies the same
// contract to user callbacks; a scheduled Callback is no different).
func (b *Bus[T]) invokeCallback(cb timerheap.Callback) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Printf("scheduled callback panicked: %v", r)
		}
	}()
	cb()
}

// dispatchEvent invokes the user Handler, recovering and logging a panic
// so that a misbehaving callback can never terminate the event loop
// (spec.md §4.6: "User callback exceptions must be caught and logged;
// they never terminate the loop").
func (b *Bus[T]) dispatchEvent(ev Event[T]) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Printf("event handler for %s on connection %d panicked: %v", ev.Kind, ev.ID, r)
		}
	}()
	b.handler(ev)
}
