// Package framer implements the receiver-side session framer of spec.md
// §4.7: it takes decoded blocks, which may arrive slightly out of order
// across UDP, and delivers their payload to a TCP egress connection in
// strict sequence order within a small reorder window. A sequence gap
// wider than that window, or a block the decoder reports lost, breaks the
// session permanently — there is no reverse channel to request a resend.
package framer

import (
	"net"
	"sync"

	"github.com/pkg/errors"

	"github.com/diodelink/godiode/internal/session"
	"github.com/diodelink/godiode/internal/transport"
)

// ErrGapExceedsWindow is returned (and the session broken) when a block
// arrives far enough ahead of the next expected sequence that it cannot be
// buffered for reordering.
var ErrGapExceedsWindow = errors.New("framer: sequence gap exceeds reorder window")

// ErrNoOpenMarker is returned when a data block for a session arrives
// before its session-open marker has ever been observed.
var ErrNoOpenMarker = errors.New("framer: data block before session-open marker")

// ErrSessionTerminal is returned when Deliver is called against a session
// that has already closed or broken. MarkLost on such a session is a no-op.
var ErrSessionTerminal = errors.New("framer: session already closed or broken")

// Block is the reassembled form the decoder pool hands to the framer: one
// fully reconstructed (and, if flagged, decompressed) block of session payload.
type Block struct {
	Seq          uint32
	Payload      []byte
	SessionOpen  bool
	EndOfSession bool
}

// Dialer opens the TCP (or UNIX) egress connection for a newly opened
// session. It is ordinary transport.Dial bound to the receiver's
// configured --to-tcp destination.
type Dialer func() (transport.Conn, error)

// Framer owns one session's reorder buffer and egress connection.
type Framer struct {
	dial          Dialer
	state         *session.Receiver
	reorderWindow uint32

	mu      sync.Mutex
	conn    transport.Conn
	nextSeq uint32
	pending map[uint32]Block
}

// New creates a Framer for a session, bound to state (shared with the
// dispatcher's session table so expiry and gap detection stay consistent)
// and to dial, used once to open the egress connection on the session-open
// marker.
func New(dial Dialer, state *session.Receiver, reorderWindow uint32) *Framer {
	return &Framer{
		dial:          dial,
		state:         state,
		reorderWindow: reorderWindow,
		pending:       make(map[uint32]Block),
	}
}

// Deliver hands one decoded block to the framer. Blocks may arrive out of
// order; Deliver buffers anything within the reorder window and commits
// in-order runs to the egress connection as they become contiguous.
func (f *Framer) Deliver(b Block) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.terminal() {
		return ErrSessionTerminal
	}

	if b.SessionOpen {
		if f.conn == nil {
			conn, err := f.dial()
			if err != nil {
				f.state.OnGap()
				return errors.Wrap(err, "framer: open egress connection")
			}
			f.conn = conn
		}
		f.state.OnSessionOpen()
		f.nextSeq = b.Seq + 1
		return nil
	}

	if f.conn == nil {
		f.state.OnGap()
		return ErrNoOpenMarker
	}

	switch {
	case b.Seq < f.nextSeq:
		return nil // duplicate or already-superseded sequence, drop silently
	case b.Seq == f.nextSeq:
		if err := f.commit(b); err != nil {
			return err
		}
		return f.drainPending()
	case b.Seq-f.nextSeq <= f.reorderWindow:
		f.pending[b.Seq] = b
		return nil
	default:
		f.state.OnGap()
		f.closeAbrupt()
		return ErrGapExceedsWindow
	}
}

// MarkLost tells the framer that the decoder pool gave up reconstructing
// the block at seq (spec.md §4.6 Failure outcome). Because delivery is
// strictly in order, any lost block at or after the next expected sequence
// makes the rest of the session undeliverable.
func (f *Framer) MarkLost(seq uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.terminal() || seq < f.nextSeq {
		return
	}
	f.state.OnGap()
	f.closeAbrupt()
}

func (f *Framer) terminal() bool {
	switch f.state.State() {
	case session.StateRecvClosed, session.StateBroken:
		return true
	default:
		return false
	}
}

func (f *Framer) commit(b Block) error {
	if len(b.Payload) > 0 {
		if _, err := f.conn.Write(b.Payload); err != nil {
			f.state.OnGap()
			f.closeAbrupt()
			return errors.Wrap(err, "framer: write to egress connection")
		}
	}
	f.state.OnBlockDelivered(b.Seq)
	f.nextSeq = b.Seq + 1
	if b.EndOfSession {
		f.state.OnSessionClose()
		f.closeClean()
	}
	return nil
}

func (f *Framer) drainPending() error {
	for {
		next, ok := f.pending[f.nextSeq]
		if !ok {
			return nil
		}
		delete(f.pending, f.nextSeq)
		if err := f.commit(next); err != nil {
			return err
		}
	}
}

// closeClean closes the egress connection with an ordinary FIN, the normal
// end of a successfully delivered session (spec.md §4.7).
func (f *Framer) closeClean() {
	if f.conn == nil {
		return
	}
	f.conn.Close()
	f.conn = nil
}

// closeAbrupt closes the egress connection without a graceful FIN, signaling
// to the downstream TCP peer that the stream ended incompletely. On a real
// TCP socket this sets a zero linger so the kernel sends RST instead of FIN,
// matching spec.md §4.7's "abrupt close" outcome for a broken session.
func (f *Framer) closeAbrupt() {
	if f.conn == nil {
		return
	}
	if tcp, ok := f.conn.(*net.TCPConn); ok {
		tcp.SetLinger(0)
	}
	f.conn.Close()
	f.conn = nil
}
