// Package frame implements the length-prefixed wire encoding used by the
// bus: a 4-byte little-endian length prefix, the payload, and (when the
// extra size check is enabled) a duplicate trailing length used to detect a
// corrupted stream.
//
// Grounded on vendor/github.com/xtaci/smux/frame.go's fixed-header
// encode/decode style, adapted from smux's multi-field stream header
// (version/cmd/stream id/length) down to the bus's single length prefix.
package frame

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// lengthPrefixSize is the size, in bytes, of the little-endian length
// prefix (and, in extra-check mode, the trailing duplicate).
const lengthPrefixSize = 4

// ErrCorruptStream is returned by Decoder.Write when the trailing length
// check (extra-size-check mode) does not match the leading length prefix.
var ErrCorruptStream = errors.New("frame: corrupt stream")

// Encode serializes a payload with a leading 4-byte little-endian length
// prefix, and, when extraSizeCheck is set, a duplicate trailing length.
func Encode(payload []byte, extraSizeCheck bool) []byte {
	out := make([]byte, 0, lengthPrefixSize+len(payload)+lengthPrefixSize)
	var lenBuf [lengthPrefixSize]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))

	out = append(out, lenBuf[:]...)
	out = append(out, payload...)
	if extraSizeCheck {
		out = append(out, lenBuf[:]...)
	}
	return out
}

// Decoder is the stateful inverse of Encode: bytes arrive in arbitrary
// chunks via Write, and completed payloads are returned as they become
// available. A Decoder is not safe for concurrent use — the bus gives each
// connection exactly one owner for its Decoder (the connection's reader).
type Decoder struct {
	extraSizeCheck bool
	buf            []byte
	curLen         int
	haveCurLen     bool
	messagesEver   uint64
}

// NewDecoder creates a Decoder matching the given extra-size-check mode.
// Both ends of a connection must agree on this setting.
func NewDecoder(extraSizeCheck bool) *Decoder {
	return &Decoder{extraSizeCheck: extraSizeCheck}
}

// PendingBytes reports how many undecoded bytes are currently buffered.
func (d *Decoder) PendingBytes() int {
	return len(d.buf)
}

// MessagesEver reports the total number of payloads this Decoder has ever
// emitted, for diagnostics.
func (d *Decoder) MessagesEver() uint64 {
	return d.messagesEver
}

// Write appends bytesIn to the rolling buffer and extracts every payload
// that the new bytes complete. It returns ErrCorruptStream, with whatever
// payloads were extracted before the mismatch, if extra-size-check mode
// detects a trailing length that disagrees with the leading one.
func (d *Decoder) Write(bytesIn []byte) ([][]byte, error) {
	d.buf = append(d.buf, bytesIn...)

	var out [][]byte
	for {
		if !d.haveCurLen {
			if len(d.buf) < lengthPrefixSize {
				return out, nil
			}
			d.curLen = int(binary.LittleEndian.Uint32(d.buf[:lengthPrefixSize]))
			d.buf = d.buf[lengthPrefixSize:]
			d.haveCurLen = true
		}

		need := d.curLen
		if d.extraSizeCheck {
			need += lengthPrefixSize
		}
		if len(d.buf) < need {
			return out, nil
		}

		payload := make([]byte, d.curLen)
		copy(payload, d.buf[:d.curLen])

		if d.extraSizeCheck {
			trailing := int(binary.LittleEndian.Uint32(d.buf[d.curLen : d.curLen+lengthPrefixSize]))
			d.buf = d.buf[need:]
			d.haveCurLen = false
			d.curLen = 0
			if trailing != len(payload) {
				return out, errors.Wrapf(ErrCorruptStream, "trailing length %d != leading length %d", trailing, len(payload))
			}
		} else {
			d.buf = d.buf[need:]
			d.haveCurLen = false
			d.curLen = 0
		}

		d.messagesEver++
		out = append(out, payload)
	}
}
