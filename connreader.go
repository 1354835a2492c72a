package msgbus

import (
	"github.com/oddb/msgbus/internal/registry"
)

// readBufSize is the scratch buffer size for each Read call; it bounds
// neither message size nor decode-buffer growth (internal/frame imposes
// no cap of its own — spec.md §4.1, §6).
const readBufSize = 64 * 1024

// readLoop is the single goroutine that owns conn's socket read side and
// its FrameCodec Decoder (spec.md §3 invariant 1: decode_buffer is
// exclusive to one owner). It is also the sole writer of the local
// authenticated flag, which stands in for the distilled spec's
// AwaitingAuth→Established transition without requiring this goroutine
// to take the registry lock on every payload (only the one transition
// does).
func (b *Bus[T]) readLoop(conn *registry.Connection) {
	defer b.wg.Done()

	authenticated := !conn.NeedsAuth
	buf := make([]byte, readBufSize)

	for {
		n, readErr := conn.Socket.Read(buf)
		if n > 0 {
			payloads, decErr := conn.Decoder.Write(buf[:n])
			for _, payload := range payloads {
				if !authenticated {
					if !checkAuthToken(b.cfg.AuthToken, payload) {
						b.logger.Printf("connection %d: %v", conn.ID, newProtocolError(ErrAuthMismatch))
						b.finishConnection(conn)
						return
					}
					authenticated = true
					b.reg.SetState(conn, registry.Established)
					continue
				}

				msg, decodeErr := b.codec.Decode(payload)
				if decodeErr != nil {
					// spec.md §7/§9: a message that fails application-level
					// deserialization is logged and dropped, but the
					// connection stays open — a deliberate departure from
					// the object_database original, which closes the
					// connection in this case (see SPEC_FULL.md).
					b.logger.Printf("connection %d: error: dropping undecodable payload: %v", conn.ID, decodeErr)
					b.counters.IncMessagesDropped()
					continue
				}

				b.counters.IncMessagesDelivered()
				b.emit(Event[T]{Kind: IncomingMessage, ID: conn.ID, Message: msg})
			}

			if decErr != nil {
				b.logger.Printf("connection %d: corrupt frame stream: %v", conn.ID, decErr)
				b.finishConnection(conn)
				return
			}
		}

		if readErr != nil {
			b.finishConnection(conn)
			return
		}
	}
}

// writeLoop is the single goroutine that owns conn's socket write side
// (spec.md §3 invariant 1: write_buffer is exclusive to one owner). It
// drains conn.WriteCh in the order the dispatcher fed it, which is the
// order payloads were accepted onto the send queue (spec.md §5 ordering
// guarantee 1).
func (b *Bus[T]) writeLoop(conn *registry.Connection) {
	defer b.wg.Done()

	for {
		select {
		case payload, ok := <-conn.WriteCh:
			if !ok {
				return
			}
			if _, err := conn.Socket.Write(payload); err != nil {
				b.logger.Printf("connection %d: write failed: %v", conn.ID, err)
				b.finishConnection(conn)
				return
			}
		case <-conn.Done:
			return
		}
	}
}
