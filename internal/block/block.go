// Package block implements the sender-side block model: a fixed-size
// contiguous window of session payload plus framing (spec.md §3, §4.2).
package block

// Block is an immutable, sealed window of one session's byte stream.
// Once sealed on the sender it is never mutated again (spec.md §3 Invariants).
type Block struct {
	SessionID    uint32
	Seq          uint32 // monotone, starting at 0, dense within a session
	Payload      []byte
	Compressed   bool // payload was snappy-compressed before this Block was sealed
	SessionOpen  bool // this is the session's dedicated opening marker block
	EndOfSession bool // this is the session's closing marker block
}

// Former groups an ingress byte stream into sealed blocks of at most
// maxPayload bytes, emitting an explicit session-open marker at construction
// and an explicit session-close marker (possibly empty) on Close.
//
// One Former exists per session on the sender; it has no concurrent access
// from more than one goroutine (spec.md §3 Ownership: blocks are handed off
// by queue move, never shared).
type Former struct {
	sessionID  uint32
	maxPayload int
	nextSeq    uint32
	buf        []byte
	openSent   bool
	closed     bool
}

// NewFormer creates a Former for sessionID, sealing blocks at maxPayload bytes.
func NewFormer(sessionID uint32, maxPayload int) *Former {
	return &Former{sessionID: sessionID, maxPayload: maxPayload}
}

// Open returns the session's dedicated opening marker block: zero payload,
// SessionOpen set, sequence 0. Callers emit this exactly once, before any
// data the Former later seals (spec.md §4.2).
func (f *Former) Open() Block {
	f.openSent = true
	b := Block{SessionID: f.sessionID, Seq: f.nextSeq, SessionOpen: true}
	f.nextSeq++
	return b
}

// Write appends bytes read from the ingress connection, sealing and
// returning as many full blocks as the accumulated buffer now supports.
// Returns nil and buffers nothing once Close has been called.
func (f *Former) Write(p []byte) []Block {
	if f.closed {
		return nil
	}
	f.buf = append(f.buf, p...)

	var sealed []Block
	for len(f.buf) >= f.maxPayload {
		sealed = append(sealed, f.seal(f.buf[:f.maxPayload], false))
		f.buf = f.buf[f.maxPayload:]
	}
	return sealed
}

// Close seals any residual buffered bytes (possibly zero) into the session's
// final block with EndOfSession set, per spec.md §4.2: "a session-close
// block with end-of-session flag is always emitted at session end, even if
// empty." Subsequent calls to Write or Close are no-ops.
func (f *Former) Close() Block {
	if f.closed {
		return Block{}
	}
	f.closed = true
	b := f.seal(f.buf, true)
	f.buf = nil
	return b
}

// Closed reports whether Close has already sealed the session's final block.
func (f *Former) Closed() bool { return f.closed }

func (f *Former) seal(payload []byte, eos bool) Block {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	b := Block{
		SessionID:    f.sessionID,
		Seq:          f.nextSeq,
		Payload:      cp,
		EndOfSession: eos,
	}
	f.nextSeq++
	return b
}
