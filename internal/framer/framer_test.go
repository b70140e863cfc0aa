package framer

import (
	"io"
	"net"
	"testing"

	"github.com/diodelink/godiode/internal/session"
	"github.com/diodelink/godiode/internal/transport"
)

// pipePair returns a Dialer that hands back one side of an in-memory
// net.Pipe, and the other side for the test to read from.
func pipePair() (Dialer, net.Conn) {
	client, server := net.Pipe()
	return func() (transport.Conn, error) { return client, nil }, server
}

func newManager(id uint32) *session.Receiver {
	m := session.NewManager()
	r, _ := m.GetOrCreate(id)
	return r
}

func TestDeliverInOrderWritesImmediately(t *testing.T) {
	dial, server := pipePair()
	state := newManager(1)
	f := New(dial, state, 4)

	go func() {
		f.Deliver(Block{Seq: 0, SessionOpen: true})
		f.Deliver(Block{Seq: 1, Payload: []byte("abc")})
		f.Deliver(Block{Seq: 2, Payload: []byte("def"), EndOfSession: true})
	}()

	buf := make([]byte, 6)
	n, _ := io.ReadFull(server, buf)
	if string(buf[:n]) != "abcdef" {
		t.Fatalf("expected abcdef, got %q", buf[:n])
	}
	if state.State() != session.StateRecvClosed {
		t.Fatalf("expected closed after end-of-session, got %v", state.State())
	}
}

func TestDeliverReordersWithinWindow(t *testing.T) {
	dial, server := pipePair()
	state := newManager(1)
	f := New(dial, state, 4)

	errCh := make(chan error, 3)
	go func() {
		errCh <- f.Deliver(Block{Seq: 0, SessionOpen: true})
		errCh <- f.Deliver(Block{Seq: 2, Payload: []byte("second")})
		errCh <- f.Deliver(Block{Seq: 1, Payload: []byte("first-")})
	}()

	buf := make([]byte, 12)
	n, _ := io.ReadFull(server, buf)
	for i := 0; i < 3; i++ {
		if err := <-errCh; err != nil {
			t.Fatalf("unexpected Deliver error: %v", err)
		}
	}
	if string(buf[:n]) != "first-second" {
		t.Fatalf("expected reordered first-second, got %q", buf[:n])
	}
}

func TestDeliverBreaksOnGapBeyondWindow(t *testing.T) {
	dial, _ := pipePair()
	state := newManager(1)
	f := New(dial, state, 2)

	if err := f.Deliver(Block{Seq: 0, SessionOpen: true}); err != nil {
		t.Fatalf("open: %v", err)
	}
	err := f.Deliver(Block{Seq: 10, Payload: []byte("far ahead")})
	if err != ErrGapExceedsWindow {
		t.Fatalf("expected ErrGapExceedsWindow, got %v", err)
	}
	if state.State() != session.StateBroken {
		t.Fatalf("expected broken after out-of-window gap, got %v", state.State())
	}
}

func TestMarkLostBreaksSessionForFutureBlock(t *testing.T) {
	dial, _ := pipePair()
	state := newManager(1)
	f := New(dial, state, 4)

	f.Deliver(Block{Seq: 0, SessionOpen: true})
	f.MarkLost(1)
	if state.State() != session.StateBroken {
		t.Fatalf("expected broken after losing the next expected block, got %v", state.State())
	}

	if err := f.Deliver(Block{Seq: 2, Payload: []byte("x")}); err != ErrSessionTerminal {
		t.Fatalf("expected ErrSessionTerminal after break, got %v", err)
	}
}

func TestMarkLostIgnoresAlreadyDeliveredSequence(t *testing.T) {
	dial, server := pipePair()
	state := newManager(1)
	f := New(dial, state, 4)

	go func() {
		f.Deliver(Block{Seq: 0, SessionOpen: true})
		f.Deliver(Block{Seq: 1, Payload: []byte("x")})
	}()
	buf := make([]byte, 1)
	io.ReadFull(server, buf)

	f.MarkLost(0) // already delivered, must be a no-op
	if state.State() == session.StateBroken {
		t.Fatalf("marking an already-delivered sequence lost must not break the session")
	}
}

func TestDeliverDataBeforeOpenMarkerIsError(t *testing.T) {
	dial, _ := pipePair()
	state := newManager(1)
	f := New(dial, state, 4)

	err := f.Deliver(Block{Seq: 1, Payload: []byte("x")})
	if err != ErrNoOpenMarker {
		t.Fatalf("expected ErrNoOpenMarker, got %v", err)
	}
	if state.State() != session.StateBroken {
		t.Fatalf("expected broken, got %v", state.State())
	}
}
