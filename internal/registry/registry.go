// Package registry is the authoritative map of live bus connections: their
// ids, sockets, and per-connection buffering state (spec.md §3, §4.4).
//
// Grounded on the teacher's timedSession bookkeeping in client/main.go
// (a small struct tracked per live session, reconciled under a loop) and
// on the katzenpost client2/connection.go connSendCtx pattern for handing
// a preconnect buffer across to the goroutine that completes a dial.
package registry

import (
	"fmt"
	"net"
	"sync"

	"github.com/oddb/msgbus/internal/frame"
)

// ID is an opaque, monotonically increasing connection identifier, unique
// within one bus instance and never reused (spec.md §3).
type ID int64

// Direction distinguishes who initiated a Connection.
type Direction int

const (
	Incoming Direction = iota
	Outgoing
)

// State is a Connection's position in the state machine of spec.md §4.5.
type State int

const (
	PendingConnect State = iota
	AwaitingAuth
	Established
	Closed
)

func (s State) String() string {
	switch s {
	case PendingConnect:
		return "PendingConnect"
	case AwaitingAuth:
		return "AwaitingAuth"
	case Established:
		return "Established"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Endpoint is a (host, port) pair a bus can connect to or was connected
// from.
type Endpoint struct {
	Host string
	Port uint16
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Connection is the unit of ownership for one directed TCP(+TLS)
// connection (spec.md §3). Its decode_buffer/write_buffer/preconnect_buffer
// fields are guarded by the Registry's mutex except where noted.
type Connection struct {
	ID        ID
	Direction Direction
	State     State
	Socket    net.Conn // nil while PendingConnect
	Peer      Endpoint
	NeedsAuth bool

	// Decoder is owned exclusively by this connection's reader goroutine
	// once the connection reaches AwaitingAuth/Established; nothing else
	// touches it, so it needs no lock of its own (invariant 1, spec.md §3).
	Decoder *frame.Decoder

	// Preconnect is the FIFO of wire-ready frames queued before Socket
	// exists; non-empty only while State == PendingConnect (invariant 3).
	Preconnect [][]byte

	// PendingDisconnect marks that closeConnection was requested while
	// still PendingConnect (set by MarkPendingDisconnect). The bus's
	// disconnect re-check does not read it; it re-checks the State.
	PendingDisconnect bool

	// WriteCh is the per-connection writer goroutine's inbox; the
	// dispatcher forwards wire-ready frames here once a connection has
	// left PendingConnect. Buffered so a handful of preconnect frames
	// flush without blocking the caller.
	WriteCh chan []byte

	// Done is closed exactly once, by MarkClosed, so any goroutine
	// selecting on WriteCh sends can bail out instead of leaking.
	Done chan struct{}
}

// Registry is the authoritative ID -> Connection map plus the
// socket-keyed index required by invariant 2 (spec.md §3): a Connection
// appears in the socket index iff its socket is non-nil and its state is
// AwaitingAuth or Established.
type Registry struct {
	mu sync.Mutex

	nextID      ID
	connections map[ID]*Connection
	bySocket    map[net.Conn]ID
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		connections: make(map[ID]*Connection),
		bySocket:    make(map[net.Conn]ID),
	}
}

// Allocate creates a new Connection in the given initial state and
// direction, assigning it the next monotonically increasing ID.
func (r *Registry) Allocate(dir Direction, peer Endpoint, needsAuth bool, initial State) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	conn := &Connection{
		ID:        r.nextID,
		Direction: dir,
		Peer:      peer,
		NeedsAuth: needsAuth,
		State:     initial,
		WriteCh:   make(chan []byte, 256),
		Done:      make(chan struct{}),
	}
	r.connections[conn.ID] = conn
	return conn
}

// CompleteOutgoingConnect atomically binds socket, drains the preconnect
// buffer, and transitions conn to nextState, all under one lock
// acquisition. This is the single synchronization point that makes the
// auth-sequencing contract of spec.md §4.5 safe against a dispatcher
// goroutine concurrently routing a later sendMessage for the same id: any
// RouteOutbound call either observes PendingConnect and lands in the
// preconnect buffer before this drain, or observes nextState and is
// routed straight to WriteCh after it — never both and never neither.
func (r *Registry) CompleteOutgoingConnect(conn *Connection, socket net.Conn, nextState State) (drained [][]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn.Socket = socket
	r.bySocket[socket] = conn.ID
	drained = conn.Preconnect
	conn.Preconnect = nil
	conn.State = nextState
	return drained
}

// outcome values returned by RouteOutbound.
type RouteOutcome int

const (
	// RouteBuffered means payload was appended to conn's preconnect
	// buffer because the socket does not exist yet.
	RouteBuffered RouteOutcome = iota
	// RouteToWriter means the caller must hand payload to conn.WriteCh.
	RouteToWriter
	// RouteDropped means conn is already Closed; payload was discarded.
	RouteDropped
)

// RouteOutbound decides, under the registry lock, whether payload should
// be buffered for a not-yet-connected socket, handed to the writer, or
// dropped because the connection is already dead.
func (r *Registry) RouteOutbound(conn *Connection, payload []byte) RouteOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch conn.State {
	case PendingConnect:
		conn.Preconnect = append(conn.Preconnect, payload)
		return RouteBuffered
	case Closed:
		return RouteDropped
	default:
		return RouteToWriter
	}
}

// MarkClosed transitions conn to Closed and removes it from both indexes,
// exactly once; subsequent calls report already=true and do nothing. The
// first caller is responsible for closing the socket and emitting the
// connection-closed event.
func (r *Registry) MarkClosed(conn *Connection) (already bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn.State == Closed {
		return true
	}
	conn.State = Closed
	if conn.Socket != nil {
		delete(r.bySocket, conn.Socket)
	}
	delete(r.connections, conn.ID)
	close(conn.Done)
	return false
}

// Get returns the Connection for id, or nil if it is unknown or already
// closed and forgotten.
func (r *Registry) Get(id ID) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connections[id]
}

// StateOf returns conn's current state under the registry lock. Used by
// goroutines other than conn's own reader/writer that need a consistent
// snapshot (e.g. the dispatcher deciding whether a close request should
// fire now or be rescheduled against a still-PendingConnect id).
func (r *Registry) StateOf(conn *Connection) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return conn.State
}

// BindSocket attaches socket to conn and indexes it, transitioning conn
// into the socket index per invariant 2. Call this exactly when a
// Connection enters AwaitingAuth or Established with a live socket.
func (r *Registry) BindSocket(conn *Connection, socket net.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn.Socket = socket
	r.bySocket[socket] = conn.ID
}

// SetState transitions conn to state under the registry lock.
func (r *Registry) SetState(conn *Connection, state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn.State = state
}

// AppendPreconnect appends a wire-ready frame to conn's preconnect buffer.
// Only meaningful while conn.State == PendingConnect.
func (r *Registry) AppendPreconnect(conn *Connection, wireFrame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn.Preconnect = append(conn.Preconnect, wireFrame)
}

// DrainPreconnect removes and returns every buffered preconnect frame, in
// FIFO order, clearing the buffer (invariant 3).
func (r *Registry) DrainPreconnect(conn *Connection) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	drained := conn.Preconnect
	conn.Preconnect = nil
	return drained
}

// MarkPendingDisconnect records that a disconnect was requested while
// still PendingConnect.
func (r *Registry) MarkPendingDisconnect(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn.PendingDisconnect = true
}

// Remove deletes id from both maps permanently (invariant 5: once Closed,
// an id never returns to any map).
func (r *Registry) Remove(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn.Socket != nil {
		delete(r.bySocket, conn.Socket)
	}
	delete(r.connections, conn.ID)
}

// ConnectionForSocket resolves a live socket back to its Connection, or
// nil if the socket is not currently indexed (invariant 2).
func (r *Registry) ConnectionForSocket(socket net.Conn) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.bySocket[socket]
	if !ok {
		return nil
	}
	return r.connections[id]
}

// AllConnections returns a snapshot slice of every currently live
// connection, for bus shutdown teardown.
func (r *Registry) AllConnections() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]*Connection, 0, len(r.connections))
	for _, c := range r.connections {
		all = append(all, c)
	}
	return all
}

// Snapshot returns the live connection count and per-state breakdown, for
// diagnostics (internal/stats).
func (r *Registry) Snapshot() (total int, byState map[State]int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byState = make(map[State]int, 4)
	for _, c := range r.connections {
		byState[c.State]++
	}
	return len(r.connections), byState
}
