package msgbus

import "github.com/pkg/errors"

// ConnectError wraps failures while dialing an outgoing connection or
// TLS-handshaking an outgoing or incoming one (spec.md §4.5,
// OutgoingConnectionFailed).
type ConnectError struct {
	cause error
}

func (e *ConnectError) Error() string { return "msgbus: connect failed: " + e.cause.Error() }
func (e *ConnectError) Unwrap() error { return e.cause }

func newConnectError(cause error) *ConnectError {
	return &ConnectError{cause: errors.WithStack(cause)}
}

// ProtocolError reports a wire-level violation; the bus raises it for a
// failed auth token comparison (spec.md §7). Corrupt frame streams are
// reported with frame.ErrCorruptStream, and no message size limit exists.
type ProtocolError struct {
	cause error
}

func (e *ProtocolError) Error() string { return "msgbus: protocol error: " + e.cause.Error() }
func (e *ProtocolError) Unwrap() error { return e.cause }

func newProtocolError(cause error) *ProtocolError {
	return &ProtocolError{cause: errors.WithStack(cause)}
}

// Sentinel errors identifying specific failure conditions, wrapped by
// ConnectError/ProtocolError where a cause is needed and compared against
// directly with errors.Is elsewhere.
var (
	// ErrAuthMismatch is the cause of a ProtocolError raised when a peer's
	// first frame does not match the shared auth token.
	ErrAuthMismatch = errors.New("auth token mismatch")

	// ErrBusStopped is returned by Connect once Stop has been called, and
	// is the logged cause when Stop fails a still-pending connect.
	ErrBusStopped = errors.New("bus has been stopped")

	// ErrUnknownConnection is logged by SendMessage when it names a
	// ConnectionId that the registry has never seen or has already
	// forgotten.
	ErrUnknownConnection = errors.New("unknown connection id")
)
