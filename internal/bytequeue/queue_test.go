package bytequeue

import (
	"sync"
	"testing"
	"time"
)

func payloadSizer(item Item) int {
	return len(item.Payload)
}

func TestPutGetFIFO(t *testing.T) {
	q := New(payloadSizer, 0)
	q.Put(Item{ConnID: 1, Payload: []byte("a")})
	q.Put(Item{ConnID: 2, Payload: []byte("b")})

	first, ok := q.Get(time.Second)
	if !ok || first.ConnID != 1 {
		t.Fatalf("expected first item from conn 1, got %+v ok=%v", first, ok)
	}
	second, ok := q.Get(time.Second)
	if !ok || second.ConnID != 2 {
		t.Fatalf("expected second item from conn 2, got %+v ok=%v", second, ok)
	}
}

func TestGetTimesOutWhenEmpty(t *testing.T) {
	q := New(payloadSizer, 0)
	start := time.Now()
	_, ok := q.Get(50 * time.Millisecond)
	if ok {
		t.Fatalf("expected timeout, got an item")
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Fatalf("returned too early: %v", time.Since(start))
	}
}

func TestZeroSizeItemsNeverBlock(t *testing.T) {
	q := New(payloadSizer, 1)
	q.Put(Item{ConnID: 1, Payload: []byte("x")}) // fills the 1-byte cap

	done := make(chan struct{})
	go func() {
		q.Put(Item{ConnID: 2, Payload: nil}) // size 0, must not block
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("zero-size Put blocked")
	}
}

func TestPutBlocksUntilByteCapFrees(t *testing.T) {
	q := New(payloadSizer, 4)
	q.Put(Item{ConnID: 1, Payload: []byte("aaaa")}) // exactly fills the cap

	var wg sync.WaitGroup
	wg.Add(1)
	producerDone := make(chan struct{})
	go func() {
		defer wg.Done()
		q.Put(Item{ConnID: 2, Payload: []byte("bb")})
		close(producerDone)
	}()

	// Give the producer a chance to park.
	time.Sleep(30 * time.Millisecond)
	if !q.IsBlocked() {
		t.Fatalf("expected producer to be blocked")
	}

	select {
	case <-producerDone:
		t.Fatalf("producer should still be blocked")
	default:
	}

	// Drain the first item, freeing 4 bytes, which admits the 2-byte item.
	if _, ok := q.Get(time.Second); !ok {
		t.Fatalf("expected an item")
	}

	select {
	case <-producerDone:
	case <-time.After(time.Second):
		t.Fatalf("producer did not unblock after cap freed")
	}
	wg.Wait()
}

func TestSetMaxBytesUnblocksProducer(t *testing.T) {
	q := New(payloadSizer, 1)
	q.Put(Item{ConnID: 1, Payload: []byte("x")})

	done := make(chan struct{})
	go func() {
		q.Put(Item{ConnID: 2, Payload: []byte("longer payload")})
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	q.SetMaxBytes(1024)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("SetMaxBytes did not unblock producer")
	}
}

func TestPendingBytesInvariant(t *testing.T) {
	q := New(payloadSizer, 0)
	q.Put(Item{Payload: []byte("abc")})
	q.Put(Item{Payload: []byte("de")})
	if got := q.PendingBytes(); got != 5 {
		t.Fatalf("expected 5 pending bytes, got %d", got)
	}
	q.Get(time.Second)
	if got := q.PendingBytes(); got != 2 {
		t.Fatalf("expected 2 pending bytes after one Get, got %d", got)
	}
}

func TestKindTagPreservedInFIFOOrder(t *testing.T) {
	q := New(payloadSizer, 0)
	q.Put(Item{ConnID: 1, Kind: 7})
	q.Put(Item{ConnID: 1, Payload: []byte("data"), Kind: 0})

	first, _ := q.Get(time.Second)
	if first.Kind != 7 {
		t.Fatalf("expected first item to carry Kind=7, got %d", first.Kind)
	}
	second, _ := q.Get(time.Second)
	if second.Kind != 0 || string(second.Payload) != "data" {
		t.Fatalf("expected second item to be the data payload, got %+v", second)
	}
}

func TestCloseUnblocksGet(t *testing.T) {
	q := New(payloadSizer, 0)
	done := make(chan bool)
	go func() {
		_, ok := q.Get(10 * time.Second)
		done <- ok
	}()
	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Fatalf("expected ok=false after Close on empty queue")
		}
	case <-time.After(time.Second):
		t.Fatalf("Close did not unblock Get")
	}
}
