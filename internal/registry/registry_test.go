package registry

import (
	"net"
	"testing"
)

func TestAllocateAssignsIncreasingIDs(t *testing.T) {
	r := New()
	a := r.Allocate(Outgoing, Endpoint{Host: "h", Port: 1}, true, PendingConnect)
	b := r.Allocate(Incoming, Endpoint{}, true, AwaitingAuth)

	if a.ID == b.ID {
		t.Fatalf("expected distinct ids, got %d and %d", a.ID, b.ID)
	}
	if b.ID <= a.ID {
		t.Fatalf("expected monotonically increasing ids, got %d then %d", a.ID, b.ID)
	}
}

func TestGetUnknownIDReturnsNil(t *testing.T) {
	r := New()
	if r.Get(999) != nil {
		t.Fatalf("expected nil for unknown id")
	}
}

func TestBindSocketIndexesConnection(t *testing.T) {
	r := New()
	conn := r.Allocate(Incoming, Endpoint{}, false, AwaitingAuth)

	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	r.BindSocket(conn, c1)

	found := r.ConnectionForSocket(c1)
	if found == nil || found.ID != conn.ID {
		t.Fatalf("expected socket to resolve back to connection %d, got %+v", conn.ID, found)
	}
}

func TestRemoveDropsBothIndexes(t *testing.T) {
	r := New()
	conn := r.Allocate(Incoming, Endpoint{}, false, AwaitingAuth)

	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()
	r.BindSocket(conn, c1)

	r.Remove(conn)

	if r.Get(conn.ID) != nil {
		t.Fatalf("expected connection to be gone after Remove")
	}
	if r.ConnectionForSocket(c1) != nil {
		t.Fatalf("expected socket index to be gone after Remove")
	}
}

func TestPreconnectBufferFIFO(t *testing.T) {
	r := New()
	conn := r.Allocate(Outgoing, Endpoint{Host: "x", Port: 2}, true, PendingConnect)

	r.AppendPreconnect(conn, []byte("first"))
	r.AppendPreconnect(conn, []byte("second"))

	drained := r.DrainPreconnect(conn)
	if len(drained) != 2 || string(drained[0]) != "first" || string(drained[1]) != "second" {
		t.Fatalf("expected FIFO drain of 2 frames, got %v", drained)
	}
	if more := r.DrainPreconnect(conn); len(more) != 0 {
		t.Fatalf("expected empty buffer after drain, got %v", more)
	}
}

func TestSetStateTransitions(t *testing.T) {
	r := New()
	conn := r.Allocate(Outgoing, Endpoint{}, true, PendingConnect)

	r.SetState(conn, Established)
	if got := r.Get(conn.ID).State; got != Established {
		t.Fatalf("expected state Established, got %v", got)
	}
}

func TestMarkPendingDisconnect(t *testing.T) {
	r := New()
	conn := r.Allocate(Outgoing, Endpoint{}, true, PendingConnect)
	r.MarkPendingDisconnect(conn)
	if !r.Get(conn.ID).PendingDisconnect {
		t.Fatalf("expected PendingDisconnect to be set")
	}
}

func TestSnapshotCountsByState(t *testing.T) {
	r := New()
	r.Allocate(Outgoing, Endpoint{}, true, PendingConnect)
	r.Allocate(Incoming, Endpoint{}, false, AwaitingAuth)
	r.Allocate(Incoming, Endpoint{}, false, Established)

	total, byState := r.Snapshot()
	if total != 3 {
		t.Fatalf("expected 3 live connections, got %d", total)
	}
	if byState[PendingConnect] != 1 || byState[AwaitingAuth] != 1 || byState[Established] != 1 {
		t.Fatalf("unexpected state breakdown: %+v", byState)
	}
}

func TestCompleteOutgoingConnectDrainsAndTransitions(t *testing.T) {
	r := New()
	conn := r.Allocate(Outgoing, Endpoint{}, true, PendingConnect)
	r.AppendPreconnect(conn, []byte("token"))

	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	drained := r.CompleteOutgoingConnect(conn, c1, AwaitingAuth)
	if len(drained) != 1 || string(drained[0]) != "token" {
		t.Fatalf("expected drained preconnect buffer, got %v", drained)
	}
	if conn.State != AwaitingAuth {
		t.Fatalf("expected state AwaitingAuth, got %v", conn.State)
	}
	if r.ConnectionForSocket(c1) == nil {
		t.Fatalf("expected socket to be indexed")
	}
}

func TestRouteOutboundStates(t *testing.T) {
	r := New()
	conn := r.Allocate(Outgoing, Endpoint{}, true, PendingConnect)

	if outcome := r.RouteOutbound(conn, []byte("a")); outcome != RouteBuffered {
		t.Fatalf("expected RouteBuffered while PendingConnect, got %v", outcome)
	}

	r.SetState(conn, Established)
	if outcome := r.RouteOutbound(conn, []byte("b")); outcome != RouteToWriter {
		t.Fatalf("expected RouteToWriter once established, got %v", outcome)
	}

	r.MarkClosed(conn)
	if outcome := r.RouteOutbound(conn, []byte("c")); outcome != RouteDropped {
		t.Fatalf("expected RouteDropped once closed, got %v", outcome)
	}
}

func TestMarkClosedIsIdempotent(t *testing.T) {
	r := New()
	conn := r.Allocate(Incoming, Endpoint{}, false, Established)

	if already := r.MarkClosed(conn); already {
		t.Fatalf("expected first MarkClosed to report already=false")
	}
	if already := r.MarkClosed(conn); !already {
		t.Fatalf("expected second MarkClosed to report already=true")
	}
	select {
	case <-conn.Done:
	default:
		t.Fatalf("expected Done to be closed")
	}
	if r.Get(conn.ID) != nil {
		t.Fatalf("expected connection removed from registry")
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		PendingConnect: "PendingConnect",
		AwaitingAuth:   "AwaitingAuth",
		Established:    "Established",
		Closed:         "Closed",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
