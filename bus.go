package msgbus

import (
	"crypto/subtle"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/oddb/msgbus/internal/bytequeue"
	"github.com/oddb/msgbus/internal/frame"
	"github.com/oddb/msgbus/internal/netutil"
	"github.com/oddb/msgbus/internal/registry"
	"github.com/oddb/msgbus/internal/stats"
	"github.com/oddb/msgbus/internal/timerheap"
)

// outbound item kinds, interleaved on the single send queue so that
// TriggerConnect/TriggerDisconnect preserve FIFO order against ordinary
// sendMessage payloads for the same connection (spec.md §4.5's "auth
// sequencing contract").
const (
	itemData = iota
	itemConnect
	itemDisconnect
)

func sendQueueSizer(item bytequeue.Item) int {
	return len(item.Payload)
}

// Bus is one message bus instance, parameterized over the application's
// message type T.
type Bus[T any] struct {
	cfg     Config
	codec   Codec[T]
	handler Handler[T]
	logger  *log.Logger

	reg       *registry.Registry
	sendQueue *bytequeue.Queue
	eventCh   chan Event[T]
	wakeCh    chan struct{}

	timersMu sync.Mutex
	timers   *timerheap.Heap

	listener  net.Listener
	counters  *stats.Counters
	statsStop chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	stopped   atomic.Bool

	wg sync.WaitGroup
}

// New constructs a Bus. Call Start to begin accepting/dispatching.
func New[T any](cfg Config, codec Codec[T], handler Handler[T]) *Bus[T] {
	cfg = cfg.withDefaults()

	prefix := cfg.Identity
	if prefix == "" {
		prefix = "msgbus"
	}
	out := io.Writer(os.Stderr)
	if cfg.Log != "" {
		if f, err := os.OpenFile(cfg.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666); err == nil {
			out = f
		}
	}
	logger := log.New(out, fmt.Sprintf("[%s] ", prefix), log.LstdFlags)

	return &Bus[T]{
		cfg:       cfg,
		codec:     codec,
		handler:   handler,
		logger:    logger,
		reg:       registry.New(),
		sendQueue: bytequeue.New(sendQueueSizer, cfg.MaxWriteQueueBytes),
		eventCh:   make(chan Event[T], 1024),
		wakeCh:    make(chan struct{}, 1),
		timers:    timerheap.New(),
		counters:  &stats.Counters{},
		statsStop: make(chan struct{}),
	}
}

// Start idempotently binds the accept socket (if Config.Listen is set)
// and starts the dispatcher and event-loop goroutines. Returns an error
// if the listener fails to bind (spec.md §4.7, FailedToStart).
func (b *Bus[T]) Start() error {
	var startErr error
	b.startOnce.Do(func() {
		if b.cfg.Listen != "" {
			ln, err := net.Listen("tcp", b.cfg.Listen)
			if err != nil {
				startErr = errors.Wrapf(err, "msgbus: failed to bind listener on %s", b.cfg.Listen)
				return
			}
			b.listener = ln
			b.wg.Add(1)
			go b.acceptLoop()
		}

		b.wg.Add(1)
		go b.dispatchLoop()

		b.wg.Add(1)
		go b.eventLoop()

		if b.cfg.StatsLog != "" {
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				stats.Logger(b.cfg.StatsLog, b.cfg.StatsPeriod, b.counters, b.statsStop)
			}()
		}

		b.started.Store(true)
	})
	return startErr
}

// Stop sets the stopped flag, tears down every live connection, posts the
// Stopped event as the final event on this bus's event stream, and joins
// every goroutine the bus started. Safe to call more than once; only the
// first call does anything. timeout bounds how long Stop waits for
// goroutines to join before returning anyway.
func (b *Bus[T]) Stop(timeout time.Duration) {
	b.stopOnce.Do(func() {
		b.stopped.Store(true)

		if b.listener != nil {
			b.listener.Close()
		}
		for _, conn := range b.reg.AllConnections() {
			if b.reg.StateOf(conn) == registry.PendingConnect {
				// Never reached Established, so the closing event must be
				// OutgoingConnectionFailed, not a Closed (spec.md §3
				// invariant 6's event regex never allows Closed without a
				// prior Established/NewIncoming).
				b.failConnect(conn, ErrBusStopped)
				continue
			}
			b.finishConnection(conn)
		}

		b.sendQueue.Close()
		close(b.statsStop)

		b.emit(Event[T]{Kind: Stopped})
		close(b.eventCh)

		joined := make(chan struct{})
		go func() {
			b.wg.Wait()
			close(joined)
		}()
		select {
		case <-joined:
		case <-time.After(timeout):
			b.logger.Printf("stop: timed out after %s waiting for goroutines to join", timeout)
		}
	})
}

// Connect initiates an outgoing connection to endpoint ("host:port"),
// returning a ConnectionId immediately; the caller may SendMessage on it
// before the connection is established (spec.md §4.7).
func (b *Bus[T]) Connect(endpoint string) (registry.ID, error) {
	if b.stopped.Load() {
		return 0, ErrBusStopped
	}
	ep, err := netutil.Parse(endpoint)
	if err != nil {
		return 0, err
	}

	// An outgoing connection never authenticates its peer's first frame
	// (it's the one sending the token, not checking one) — NeedsAuth only
	// ever gates an incoming reader (spec.md §4.5, §6).
	conn := b.reg.Allocate(registry.Outgoing, registry.Endpoint{Host: ep.Host, Port: ep.Port}, false, registry.PendingConnect)

	if b.cfg.AuthToken != "" {
		b.reg.AppendPreconnect(conn, b.encodeFrame([]byte(b.cfg.AuthToken)))
	}

	b.sendQueue.Put(bytequeue.Item{ConnID: int64(conn.ID), Kind: itemConnect})
	return conn.ID, nil
}

// CloseConnection requests that id be torn down. No-op if id is already
// dead. If id is still PendingConnect, the request is retried every
// Config.PendingConnectRecheck until the state transitions (spec.md
// §4.7).
func (b *Bus[T]) CloseConnection(id registry.ID) {
	conn := b.reg.Get(id)
	if conn == nil {
		return
	}
	b.sendQueue.Put(bytequeue.Item{ConnID: int64(id), Kind: itemDisconnect})
}

// SendMessage serializes msg with the bus's codec and enqueues it for id.
// Returns false if id is definitively dead (a false return means
// "known-dead"; a true return means "might succeed" — spec.md §4.7).
func (b *Bus[T]) SendMessage(id registry.ID, msg T) bool {
	conn := b.reg.Get(id)
	if conn == nil {
		b.logger.Printf("connection %d: %v", id, ErrUnknownConnection)
		return false
	}
	payload, err := b.codec.Encode(msg)
	if err != nil {
		b.logger.Printf("connection %d: failed to serialize outgoing message: %v", id, err)
		return false
	}

	b.sendQueue.Put(bytequeue.Item{ConnID: int64(id), Payload: b.encodeFrame(payload), Kind: itemData})
	return true
}

// ScheduleCallbackAt schedules cb to run on the event loop at the given
// absolute time.
func (b *Bus[T]) ScheduleCallbackAt(cb Callback, at time.Time) {
	b.scheduleOnEventLoop(at, timerheap.Callback(cb))
}

// ScheduleCallbackAfter schedules cb to run on the event loop after delay
// elapses.
func (b *Bus[T]) ScheduleCallbackAfter(cb Callback, delay time.Duration) {
	b.scheduleOnEventLoop(time.Now().Add(delay), timerheap.Callback(cb))
}

// SetMaxWriteQueueSize changes the cap on total bytes pending across the
// bus's outbound send queue.
func (b *Bus[T]) SetMaxWriteQueueSize(n int) {
	b.sendQueue.SetMaxBytes(n)
}

// Stats returns a snapshot of this bus's running counters.
func (b *Bus[T]) Stats() stats.Counters {
	b.counters.SetBytesPending(int64(b.sendQueue.PendingBytes()))
	return *b.counters
}

func (b *Bus[T]) encodeFrame(payload []byte) []byte {
	return frame.Encode(payload, !b.cfg.NoExtraSizeCheck)
}

// checkAuthToken performs a constant-time comparison of a freshly
// decoded first payload against the configured auth token, hardening the
// comparison in the original object_database message bus (a plain
// string == check) against timing side channels.
func checkAuthToken(expected string, payload []byte) bool {
	return subtle.ConstantTimeCompare([]byte(expected), payload) == 1
}

func (b *Bus[T]) emit(ev Event[T]) {
	defer func() {
		// The event channel is closed exactly once, by Stop, after every
		// connection's teardown has already synchronously emitted. A late
		// emit racing Stop on a misused Bus would panic on a closed
		// channel; recovering here turns that into a log line instead of
		// taking the process down.
		if r := recover(); r != nil {
			b.logger.Printf("dropped event after stop: %v", r)
		}
	}()
	b.eventCh <- ev
}

func (b *Bus[T]) scheduleOnEventLoop(at time.Time, cb timerheap.Callback) {
	b.timersMu.Lock()
	b.timers.Schedule(at, cb)
	b.timersMu.Unlock()
	select {
	case b.wakeCh <- struct{}{}:
	default:
	}
}
