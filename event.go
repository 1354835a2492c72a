package msgbus

import "github.com/oddb/msgbus/internal/registry"

// Codec serializes and deserializes a bus's application message type. It
// is injected at Bus construction (spec.md §9, "the serialization codec
// is injected at bus construction").
type Codec[T any] interface {
	Encode(msg T) ([]byte, error)
	Decode(payload []byte) (T, error)
}

// EventKind tags the closed variant an Event carries.
type EventKind int

const (
	// Stopped is the last event ever delivered on a bus, posted once by
	// Stop (spec.md §6, stop).
	Stopped EventKind = iota
	// NewIncomingConnection is emitted when a remote peer's TCP/TLS
	// handshake completes on an accepting bus.
	NewIncomingConnection
	// IncomingConnectionClosed is emitted at most once per incoming
	// connection id, after all of its IncomingMessage events.
	IncomingConnectionClosed
	// IncomingMessage carries one successfully decoded and deserialized
	// payload, in wire order for its connection.
	IncomingMessage
	// OutgoingConnectionEstablished is emitted when an outgoing dial and
	// TLS handshake both succeed.
	OutgoingConnectionEstablished
	// OutgoingConnectionFailed is emitted when an outgoing dial or TLS
	// handshake fails; the connection transitions directly to Closed.
	OutgoingConnectionFailed
	// OutgoingConnectionClosed is emitted at most once per outgoing
	// connection id that reached Established, after all of its
	// IncomingMessage events.
	OutgoingConnectionClosed
)

func (k EventKind) String() string {
	switch k {
	case Stopped:
		return "Stopped"
	case NewIncomingConnection:
		return "NewIncomingConnection"
	case IncomingConnectionClosed:
		return "IncomingConnectionClosed"
	case IncomingMessage:
		return "IncomingMessage"
	case OutgoingConnectionEstablished:
		return "OutgoingConnectionEstablished"
	case OutgoingConnectionFailed:
		return "OutgoingConnectionFailed"
	case OutgoingConnectionClosed:
		return "OutgoingConnectionClosed"
	default:
		return "Unknown"
	}
}

// Event is the closed tagged variant delivered to the user callback, in
// total order, from the single EventLoop goroutine (spec.md §4.6, §9
// "Dynamic event type"). Only the fields relevant to Kind are populated;
// the rest are zero values.
type Event[T any] struct {
	Kind EventKind

	// ID identifies the connection this event concerns. Unset (zero) for
	// Stopped.
	ID registry.ID

	// Source is the remote endpoint a NewIncomingConnection arrived from.
	Source registry.Endpoint

	// Message is the decoded payload for an IncomingMessage event.
	Message T
}

// Handler is the single callback a Bus invokes for every event, on one
// dedicated goroutine, in total order.
type Handler[T any] func(Event[T])

// Callback is a closure scheduled via Bus.ScheduleCallbackAt or
// Bus.ScheduleCallbackAfter, delivered on
// the same EventLoop goroutine and interleaved with Events in deadline
// order.
type Callback func()
