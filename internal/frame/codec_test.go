package frame

import (
	"bytes"
	"testing"
)

func TestRoundTripSingleMessage(t *testing.T) {
	payload := []byte("hello bus")
	wire := Encode(payload, false)

	dec := NewDecoder(false)
	msgs, err := dec.Write(wire)
	if err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if len(msgs) != 1 || !bytes.Equal(msgs[0], payload) {
		t.Fatalf("unexpected decode result: %+v", msgs)
	}
	if dec.MessagesEver() != 1 {
		t.Fatalf("expected MessagesEver 1, got %d", dec.MessagesEver())
	}
}

func TestRoundTripEmptyPayload(t *testing.T) {
	wire := Encode(nil, true)
	dec := NewDecoder(true)
	msgs, err := dec.Write(wire)
	if err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if len(msgs) != 1 || len(msgs[0]) != 0 {
		t.Fatalf("expected one empty payload, got %+v", msgs)
	}
}

func TestDecodeAcrossFragments(t *testing.T) {
	payload := []byte("fragmented message body")
	wire := Encode(payload, true)

	dec := NewDecoder(true)
	var got [][]byte
	for i := 0; i < len(wire); i++ {
		msgs, err := dec.Write(wire[i : i+1])
		if err != nil {
			t.Fatalf("Write returned error at byte %d: %v", i, err)
		}
		got = append(got, msgs...)
	}
	if len(got) != 1 || !bytes.Equal(got[0], payload) {
		t.Fatalf("unexpected decode result across fragments: %+v", got)
	}
}

func TestMultipleMessagesInOneWrite(t *testing.T) {
	var wire []byte
	wire = append(wire, Encode([]byte("one"), false)...)
	wire = append(wire, Encode([]byte("two"), false)...)
	wire = append(wire, Encode([]byte("three"), false)...)

	dec := NewDecoder(false)
	msgs, err := dec.Write(wire)
	if err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	want := []string{"one", "two", "three"}
	if len(msgs) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(msgs))
	}
	for i, w := range want {
		if string(msgs[i]) != w {
			t.Fatalf("message %d: got %q want %q", i, msgs[i], w)
		}
	}
}

func TestCorruptStreamOnLeadingLengthBitFlip(t *testing.T) {
	payload := []byte("a payload long enough to survive a bit flip")
	wire := Encode(payload, true)
	// Pad with slack bytes so a shorter mis-decoded length still has a
	// trailing 4-byte field available to mismatch against, instead of the
	// decoder simply waiting for bytes that will never arrive.
	wire = append(wire, make([]byte, lengthPrefixSize)...)
	wire[0] ^= 0x01 // flip the low bit of the leading length prefix

	dec := NewDecoder(true)
	_, err := dec.Write(wire)
	if err == nil {
		t.Fatalf("expected ErrCorruptStream, got nil")
	}
}

func TestCorruptStreamOnTrailingLengthBitFlip(t *testing.T) {
	payload := []byte("another payload")
	wire := Encode(payload, true)
	// trailing length starts right after the 4-byte prefix and the payload.
	trailingStart := lengthPrefixSize + len(payload)
	wire[trailingStart] ^= 0x01

	dec := NewDecoder(true)
	_, err := dec.Write(wire)
	if err == nil {
		t.Fatalf("expected ErrCorruptStream, got nil")
	}
}

func TestNoExtraCheckIgnoresTrailingGarbage(t *testing.T) {
	payload := []byte("no check")
	wire := Encode(payload, false)
	// Fewer than 4 trailing bytes: too short to be the next length prefix,
	// so they stay buffered without being checked against anything.
	wire = append(wire, 0xde, 0xad, 0xbe)
	dec := NewDecoder(false)
	msgs, err := dec.Write(wire)
	if err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if len(msgs) != 1 || !bytes.Equal(msgs[0], payload) {
		t.Fatalf("unexpected decode: %+v", msgs)
	}
}
