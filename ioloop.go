package msgbus

import (
	"crypto/tls"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/oddb/msgbus/internal/bytequeue"
	"github.com/oddb/msgbus/internal/comp"
	"github.com/oddb/msgbus/internal/frame"
	"github.com/oddb/msgbus/internal/registry"
)

// dialTimeout bounds how long a single outgoing TCP dial may block before
// the attempt is treated as a failure. A failed dial is reported as
// OutgoingConnectionFailed and is not retried.
const dialTimeout = 30 * time.Second

// getQueueTimeout bounds how long the dispatcher parks in sendQueue.Get
// between checking the stopped flag; this is this codebase's substitute
// for the distilled spec's epoll_timeout sleep budget (spec.md §4.4).
const getQueueTimeout = 250 * time.Millisecond

// dispatchLoop is the single goroutine that owns the send queue: every
// Connect, SendMessage, and CloseConnection call ultimately lands here as
// one queued item, preserving the FIFO ordering spec.md §4.5's auth
// sequencing contract depends on (TriggerConnect ahead of any
// sendMessage issued after Connect returns).
func (b *Bus[T]) dispatchLoop() {
	defer b.wg.Done()
	for {
		item, ok := b.sendQueue.Get(getQueueTimeout)
		if !ok {
			if b.stopped.Load() {
				return
			}
			continue
		}

		conn := b.reg.Get(registry.ID(item.ConnID))
		if conn == nil {
			continue
		}

		switch item.Kind {
		case itemConnect:
			b.wg.Add(1)
			go b.doConnect(conn)
		case itemDisconnect:
			b.handleDisconnectRequest(conn)
		case itemData:
			b.routeOutbound(conn, item.Payload)
		}
	}
}

// routeOutbound hands a wire-ready frame either to the registry's
// preconnect buffer (socket doesn't exist yet), to the connection's
// writer goroutine, or drops it if the connection is already dead
// (spec.md §3 invariant 3, §4.2).
func (b *Bus[T]) routeOutbound(conn *registry.Connection, payload []byte) {
	switch b.reg.RouteOutbound(conn, payload) {
	case registry.RouteToWriter:
		select {
		case conn.WriteCh <- payload:
		case <-conn.Done:
		}
	case registry.RouteBuffered, registry.RouteDropped:
		// RouteBuffered already appended payload to conn.Preconnect under
		// the registry lock; RouteDropped means conn.State == Closed and
		// there is nothing left to do with payload.
	}
}

// handleDisconnectRequest implements spec.md §4.7's closeConnection
// contract: a live connection is torn down immediately, and a
// PendingConnect one has its teardown rescheduled
// Config.PendingConnectRecheck later, looping until the state
// transitions. A dead id never reaches here at all: dispatchLoop's
// b.reg.Get already returns nil for an id MarkClosed has removed from
// the registry, so there is no Closed case to handle.
func (b *Bus[T]) handleDisconnectRequest(conn *registry.Connection) {
	if b.reg.StateOf(conn) == registry.PendingConnect {
		b.scheduleOnEventLoop(time.Now().Add(b.cfg.PendingConnectRecheck), func() {
			b.sendQueue.Put(bytequeue.Item{ConnID: int64(conn.ID), Kind: itemDisconnect})
		})
		return
	}
	b.finishConnection(conn)
}

// acceptLoop owns the listener and spawns one handleAccepted goroutine
// per accepted socket. FD exhaustion (EMFILE/ENFILE) is logged and the
// loop continues; it only exits once the listener is closed by Stop
// (spec.md §4.4 accept path, §5 FD pressure).
func (b *Bus[T]) acceptLoop() {
	defer b.wg.Done()
	for {
		sock, err := b.listener.Accept()
		if err != nil {
			if b.stopped.Load() {
				return
			}
			b.logger.Printf("accept: %v", err)
			if errors.Is(err, net.ErrClosed) {
				return
			}
			// FD exhaustion (EMFILE/ENFILE) and other transient accept
			// errors are logged and the loop keeps spinning; there is no
			// direct signal distinguishing them from a permanently broken
			// listener, matching spec.md §5's "log and continue" guidance
			// for accept-side FD pressure.
			continue
		}

		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.handleAccepted(sock)
		}()
	}
}

// handleAccepted completes the TLS handshake (if configured), registers
// the new incoming Connection, and starts its reader/writer goroutines.
// A handshake failure closes the raw socket and emits nothing: the spec
// gives incoming connections no "failed" event, only NewIncomingConnection
// once fully ready (spec.md §6 event surface).
func (b *Bus[T]) handleAccepted(sock net.Conn) {
	if tcpConn, ok := sock.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	wire, err := b.wrapServerSide(sock)
	if err != nil {
		b.logger.Printf("incoming connection from %s: %v", sock.RemoteAddr(), err)
		sock.Close()
		return
	}

	host, port := splitHostPort(sock.RemoteAddr())
	needsAuth := b.cfg.AuthToken != ""
	initial := registry.Established
	if needsAuth {
		initial = registry.AwaitingAuth
	}

	conn := b.reg.Allocate(registry.Incoming, registry.Endpoint{Host: host, Port: port}, needsAuth, initial)
	conn.Decoder = frame.NewDecoder(!b.cfg.NoExtraSizeCheck)
	b.reg.BindSocket(conn, wire)
	b.counters.IncConnectionsEstablished()

	// Emit before spawning the reader: readLoop sends IncomingMessage on
	// this same eventCh from a different goroutine, and Go's memory model
	// only orders "goroutine created" before "goroutine body starts," not
	// the reverse. A peer that writes the instant its own connect/accept
	// returns can otherwise get its first message decoded and emitted
	// ahead of NewIncomingConnection (spec.md §3 invariant 6, §5 ordering
	// guarantees 3/4). Emitting here first, before the go statements
	// below, makes the enqueue order a genuine happens-before relation.
	b.emit(Event[T]{Kind: NewIncomingConnection, ID: conn.ID, Source: conn.Peer})

	b.wg.Add(2)
	go b.readLoop(conn)
	go b.writeLoop(conn)
}

// wrapServerSide applies the accepting side's TLS and compression layers
// to a freshly accepted socket, in that order (TLS below, compression
// above — spec.md §6: "the listener performs wrap_socket(server_side=true)
// ... before any application bytes").
func (b *Bus[T]) wrapServerSide(sock net.Conn) (net.Conn, error) {
	var wire net.Conn = sock
	if b.cfg.TLSConfig != nil {
		tlsConn := tls.Server(sock, b.cfg.TLSConfig)
		if err := tlsConn.Handshake(); err != nil {
			return nil, newConnectError(err)
		}
		wire = tlsConn
	}
	if b.cfg.WantCompression {
		wire = comp.Wrap(wire)
	}
	return wire, nil
}

// doConnect dials conn's peer, TLS-handshakes if configured, binds the
// socket and drains the preconnect buffer (auth token first, then
// whatever the caller queued before the dial resolved), and finally
// posts OutgoingConnectionEstablished. Runs off the dispatcher goroutine
// (spec.md §4.5 "Connect executes off the IOLoop thread") since the
// handshake may block for the dial's full timeout.
func (b *Bus[T]) doConnect(conn *registry.Connection) {
	defer b.wg.Done()

	raw, err := net.DialTimeout("tcp", conn.Peer.String(), dialTimeout)
	if err != nil {
		b.failConnect(conn, err)
		return
	}
	if tcpConn, ok := raw.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	wire, err := b.wrapClientSide(raw)
	if err != nil {
		raw.Close()
		b.failConnect(conn, err)
		return
	}

	conn.Decoder = frame.NewDecoder(!b.cfg.NoExtraSizeCheck)
	drained := b.reg.CompleteOutgoingConnect(conn, wire, registry.Established)
	b.counters.IncConnectionsEstablished()

	// Emit before spawning the reader, for the same reason as
	// handleAccepted: readLoop can decode and emit IncomingMessage on an
	// outgoing connection just as well as an incoming one, and nothing
	// but program order guarantees this send lands in eventCh first.
	b.emit(Event[T]{Kind: OutgoingConnectionEstablished, ID: conn.ID})

	// writeLoop starts before the preconnect buffer is drained into
	// WriteCh, so a drain larger than WriteCh's buffer still has a
	// consumer; readLoop only starts once the event above is already
	// enqueued, which is the property that actually needs protecting.
	b.wg.Add(1)
	go b.writeLoop(conn)

	for _, wireFrame := range drained {
		select {
		case conn.WriteCh <- wireFrame:
		case <-conn.Done:
		}
	}

	b.wg.Add(1)
	go b.readLoop(conn)
}

// wrapClientSide applies the connecting side's TLS and compression
// layers to a freshly dialed socket, symmetric with wrapServerSide
// (spec.md §6: "the client performs wrap_socket before sending anything").
func (b *Bus[T]) wrapClientSide(raw net.Conn) (net.Conn, error) {
	var wire net.Conn = raw
	if b.cfg.TLSConfig != nil {
		tlsConn := tls.Client(raw, b.cfg.TLSConfig)
		if err := tlsConn.Handshake(); err != nil {
			return nil, newConnectError(err)
		}
		wire = tlsConn
	}
	if b.cfg.WantCompression {
		wire = comp.Wrap(wire)
	}
	return wire, nil
}

// failConnect transitions conn straight to Closed and emits
// OutgoingConnectionFailed, discarding whatever sat in the preconnect
// buffer (spec.md §4.5 state table, §3 invariant 5).
func (b *Bus[T]) failConnect(conn *registry.Connection, cause error) {
	b.reg.MarkClosed(conn)
	b.logger.Printf("connection %d: outgoing connect to %s failed: %v", conn.ID, conn.Peer, newConnectError(cause))
	b.emit(Event[T]{Kind: OutgoingConnectionFailed, ID: conn.ID})
}

// finishConnection closes conn's socket (if any) and emits the matching
// *ConnectionClosed event exactly once, no matter how many goroutines
// race to tear the same connection down (registry.MarkClosed is the
// idempotence point, spec.md §3 invariant 5).
func (b *Bus[T]) finishConnection(conn *registry.Connection) {
	if already := b.reg.MarkClosed(conn); already {
		return
	}
	if conn.Socket != nil {
		if stream, ok := conn.Socket.(*comp.Stream); ok {
			raw, wire := stream.Ratio()
			b.logger.Printf("connection %d: compression ratio %d raw -> %d wire bytes written", conn.ID, raw, wire)
		}
		conn.Socket.Close()
	}
	b.counters.IncConnectionsClosed()

	kind := IncomingConnectionClosed
	if conn.Direction == registry.Outgoing {
		kind = OutgoingConnectionClosed
	}
	b.emit(Event[T]{Kind: kind, ID: conn.ID})
}

// splitHostPort extracts a (host, port) pair from a net.Addr for
// recording as a Connection's peer Endpoint. If addr doesn't carry a
// parseable "host:port" (e.g. a net.Pipe() endpoint in tests), the whole
// addr.String() is used as the host and the port is 0.
func splitHostPort(addr net.Addr) (string, uint16) {
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return host, 0
	}
	return host, uint16(port)
}
