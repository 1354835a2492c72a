// Package comp provides an optional per-connection snappy compression
// wrapper, applied when a bus Connection is opened with want_compression.
// Unlike a plain passthrough wrapper, Stream tracks the raw-versus-wire
// byte counts of its write direction so a connection's compression ratio
// can be logged when the connection closes. Reads are not counted.
package comp

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// Stream wraps a net.Conn, transparently snappy-compressing writes and
// decompressing reads. Framing (length prefixes, auth tokens) sits above
// this layer and is unaware of it.
type Stream struct {
	conn net.Conn
	w    *snappy.Writer
	r    *snappy.Reader

	counted    *countingWriter
	rawWritten int64
}

// countingWriter sits between the snappy.Writer and the raw socket,
// recording exactly how many post-compression bytes actually cross the
// wire. snappy.Writer exposes no compressed-size callback of its own.
type countingWriter struct {
	net.Conn
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	atomic.AddInt64(&c.n, int64(n))
	return n, err
}

// Wrap returns conn wrapped in snappy compression.
func Wrap(conn net.Conn) *Stream {
	counted := &countingWriter{Conn: conn}
	return &Stream{
		conn:    conn,
		w:       snappy.NewBufferedWriter(counted),
		r:       snappy.NewReader(conn),
		counted: counted,
	}
}

func (s *Stream) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

// Write compresses and flushes p in one call. Flush, not just Write, is
// required after every call: without it, snappy's internal block buffer
// can hold bytes back indefinitely, which would stall delivery of a
// frame that's already been handed to this Stream.
func (s *Stream) Write(p []byte) (int, error) {
	if _, err := s.w.Write(p); err != nil {
		return 0, errors.WithStack(err)
	}
	if err := s.w.Flush(); err != nil {
		return 0, errors.WithStack(err)
	}
	atomic.AddInt64(&s.rawWritten, int64(len(p)))
	return len(p), nil
}

// Ratio reports the raw bytes handed to Write against the compressed
// bytes that actually reached the socket, for this Stream's lifetime.
func (s *Stream) Ratio() (rawWritten, wireWritten int64) {
	return atomic.LoadInt64(&s.rawWritten), atomic.LoadInt64(&s.counted.n)
}

func (s *Stream) Close() error {
	return s.conn.Close()
}

func (s *Stream) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
func (s *Stream) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

func (s *Stream) SetDeadline(t time.Time) error      { return s.conn.SetDeadline(t) }
func (s *Stream) SetReadDeadline(t time.Time) error  { return s.conn.SetReadDeadline(t) }
func (s *Stream) SetWriteDeadline(t time.Time) error { return s.conn.SetWriteDeadline(t) }
