// Package msgbus implements a bidirectional, strongly-typed message bus.
//
// A Bus listens on an optional TCP endpoint, accepts inbound connections,
// dials outbound ones, and exchanges length-framed application messages,
// optionally over TLS and behind a shared-secret auth handshake. One
// callback, invoked from a single dedicated goroutine, observes every
// connection lifecycle transition and every inbound message in a total
// order.
//
// See bus.go for the public surface, ioloop.go for the send-queue/dial
// machinery, eventloop.go for callback dispatch, and connreader.go for
// the per-connection read path.
package msgbus
