package wire

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	h := Header{
		Version:     Version,
		Flags:       FlagSessionOpen | FlagRepair,
		SessionID:   42,
		BlockSeq:    7,
		SymbolIndex: 3,
		K:           10,
	}
	payload := []byte("hello symbol")

	datagram := Encode(h, payload)
	if len(datagram) != HeaderSize+len(payload) {
		t.Fatalf("datagram length = %d, want %d", len(datagram), HeaderSize+len(payload))
	}

	got, gotPayload, err := Decode(datagram)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if got != h {
		t.Fatalf("decoded header = %+v, want %+v", got, h)
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Fatalf("decoded payload = %q, want %q", gotPayload, payload)
	}
	if !got.SessionOpen() || !got.Repair() {
		t.Fatalf("flag accessors disagree with encoded flags: %+v", got)
	}
	if got.EndOfSession() || got.Heartbeat() || got.Compressed() {
		t.Fatalf("unexpected flag set: %+v", got)
	}
}

func TestDecodeRejectsUnsupportedVersion(t *testing.T) {
	datagram := Encode(Header{Version: Version + 1}, []byte("x"))
	if _, _, err := Decode(datagram); err == nil {
		t.Fatalf("expected error decoding unsupported version")
	}
}

func TestDecodeRejectsShortDatagram(t *testing.T) {
	if _, _, err := Decode(make([]byte, HeaderSize-1)); err == nil {
		t.Fatalf("expected error decoding short datagram")
	}
}

func TestHeartbeatDatagram(t *testing.T) {
	hb := Heartbeat()
	h, payload, err := Decode(hb)
	if err != nil {
		t.Fatalf("Decode(Heartbeat()) error: %v", err)
	}
	if !h.Heartbeat() {
		t.Fatalf("heartbeat flag not set")
	}
	if h.SessionID != HeartbeatSessionID || h.BlockSeq != 0 || h.SymbolIndex != 0 {
		t.Fatalf("heartbeat identity fields not reserved: %+v", h)
	}
	if len(payload) != 0 {
		t.Fatalf("heartbeat payload should be empty, got %d bytes", len(payload))
	}
}

func TestSymbolSize(t *testing.T) {
	if got := SymbolSize(1500); got != 1500-20-8-HeaderSize {
		t.Fatalf("SymbolSize(1500) = %d", got)
	}
}
