// Package reassembly implements the receiver-side per-block decoder context
// and its pool (spec.md §4.6). Each block in flight gets exactly one
// Context, which accumulates unique symbols as datagrams arrive for it.
// Decode is attempted once a context crosses either of the two triggers
// spec.md names: enough distinct symbols to reach K, or a flush timeout.
// This mirrors the way the teacher's kcp-go FEC decoder groups shards by
// a rolling "fec group", except here groups never span more than one
// block and are owned by (session id, block seq) rather than a sequence
// window.
package reassembly

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/diodelink/godiode/internal/compress"
	"github.com/diodelink/godiode/internal/fountain"
	"github.com/diodelink/godiode/internal/wire"
)

// Meta carries the block-level flags learned from the first datagram seen
// for a context, needed to interpret the block once decoded.
type Meta struct {
	SessionOpen  bool
	EndOfSession bool
	Compressed   bool
}

// Key identifies one block's reassembly context.
type Key struct {
	SessionID uint32
	BlockSeq  uint32
}

// Context accumulates symbols for exactly one (session, block) pair.
type Context struct {
	Key Key

	mu       sync.Mutex
	k        int
	meta     Meta
	symbols  map[int][]byte
	created  time.Time
	lastSeen time.Time

	enqueued bool // guards against pushing the same context onto the ready queue twice
}

func newContext(key Key) *Context {
	now := time.Now()
	return &Context{
		Key:      key,
		symbols:  make(map[int][]byte),
		created:  now,
		lastSeen: now,
	}
}

// addSymbol records a symbol, keyed by its wire index, learning K and the
// block's meta flags from the first datagram observed. It returns true the
// first time the context crosses the K-symbol trigger (spec.md §4.6,
// trigger 1), so the caller enqueues the context for decoding exactly once.
func (c *Context) addSymbol(h wire.Header, payload []byte) (crossedK bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastSeen = time.Now()
	if c.k == 0 {
		c.k = int(h.K)
		c.meta = Meta{
			SessionOpen:  h.SessionOpen(),
			EndOfSession: h.EndOfSession(),
			Compressed:   h.Compressed(),
		}
	}

	if _, dup := c.symbols[int(h.SymbolIndex)]; !dup {
		cp := make([]byte, len(payload))
		copy(cp, payload)
		c.symbols[int(h.SymbolIndex)] = cp
	}

	if c.enqueued || len(c.symbols) < c.k {
		return false
	}
	c.enqueued = true
	return true
}

// idleFor reports how long it has been since the context last received a symbol.
func (c *Context) idleFor(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastSeen)
}

// hasAnySymbol reports whether at least one symbol has arrived for this context.
func (c *Context) hasAnySymbol() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.symbols) > 0
}

// markEnqueued flips the enqueue guard for a forced (timeout-triggered)
// flush, returning false if the context was already queued via the K trigger.
func (c *Context) markEnqueued() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enqueued {
		return false
	}
	c.enqueued = true
	return true
}

// Decode attempts reconstruction with whatever symbols have arrived so far.
// Callers only reach this after a trigger fires; a context with fewer than K
// symbols still attempts and fails cleanly with fountain.ErrInsufficientSymbols,
// which the caller maps to the block-lost outcome (spec.md §4.6, Failure).
func (c *Context) Decode(params fountain.Params) ([]byte, Meta, error) {
	c.mu.Lock()
	k := c.k
	meta := c.meta
	symbols := make(map[int][]byte, len(c.symbols))
	for idx, sym := range c.symbols {
		symbols[idx] = sym
	}
	c.mu.Unlock()

	if k == 0 {
		return nil, meta, fountain.ErrInsufficientSymbols
	}

	r := params.RepairFor(k)
	payload, err := fountain.Decode(params.SymbolSize, k, r, symbols)
	if err != nil {
		return nil, meta, err
	}

	if meta.Compressed {
		payload, err = compress.Decode(payload)
		if err != nil {
			return nil, meta, errors.Wrap(err, "reassembly: decompress reconstructed block")
		}
	}
	return payload, meta, nil
}

// Pool owns the live reassembly contexts and the queue of contexts ready
// for a decoder worker to pick up. Handoff from dispatcher to decoder pool
// is lock-free in the sense spec.md §4.6 asks for: the channel send is the
// only synchronization point, and each context's enqueued flag guarantees
// it is handed to exactly one worker.
type Pool struct {
	flushTimeout time.Duration

	mu       sync.Mutex
	contexts map[Key]*Context

	ready chan *Context
}

// NewPool creates an empty pool. flushTimeout is spec.md §4.6's per-block
// flush timeout; queueDepth sizes the ready channel decoder workers drain.
func NewPool(flushTimeout time.Duration, queueDepth int) *Pool {
	return &Pool{
		flushTimeout: flushTimeout,
		contexts:     make(map[Key]*Context),
		ready:        make(chan *Context, queueDepth),
	}
}

// Ready returns the channel decoder pool workers range over.
func (p *Pool) Ready() <-chan *Context {
	return p.ready
}

// Dispatch routes one received datagram's symbol to its block's context,
// creating the context lazily if this is the first symbol seen for it
// (spec.md §4.5: "routed to the reassembly context for (session id, block
// seq). If none exists, one is created"). When the context crosses its K
// threshold for the first time, it is pushed onto the ready queue.
func (p *Pool) Dispatch(h wire.Header, payload []byte) {
	key := Key{SessionID: h.SessionID, BlockSeq: h.BlockSeq}

	p.mu.Lock()
	ctx, ok := p.contexts[key]
	if !ok {
		ctx = newContext(key)
		p.contexts[key] = ctx
	}
	p.mu.Unlock()

	if ctx.addSymbol(h, payload) {
		p.ready <- ctx
	}
}

// Remove drops a context from the table once a decode outcome (success or
// failure) has been handled, freeing its symbol buffers.
func (p *Pool) Remove(key Key) {
	p.mu.Lock()
	delete(p.contexts, key)
	p.mu.Unlock()
}

// SweepFlush implements trigger 2 of spec.md §4.6: a block that has gone
// flushTimeout without a new symbol is forced to decode attempt if either
// the next-higher block in its session has started arriving, or the block
// is the head of its session (isHead reports the latter; the dispatcher
// tracks per-session delivery order and knows which block seq is blocking
// in-order delivery to the framer). Forced contexts are pushed onto the
// ready queue even if they haven't reached K; Decode on them fails cleanly
// and the caller marks the block lost.
func (p *Pool) SweepFlush(now time.Time, isHead func(sessionID, blockSeq uint32) bool) {
	var due []*Context

	p.mu.Lock()
	for key, ctx := range p.contexts {
		if ctx.idleFor(now) < p.flushTimeout {
			continue
		}
		nextKey := Key{SessionID: key.SessionID, BlockSeq: key.BlockSeq + 1}
		nextStarted := false
		if next, ok := p.contexts[nextKey]; ok {
			nextStarted = next.hasAnySymbol()
		}
		if nextStarted || isHead(key.SessionID, key.BlockSeq) {
			due = append(due, ctx)
		}
	}
	p.mu.Unlock()

	for _, ctx := range due {
		if ctx.markEnqueued() {
			p.ready <- ctx
		}
	}
}

// HasPending reports whether any reassembly context is still in flight for
// sessionID, used by the session-expiration policy to decide whether an
// idle session closes cleanly or is marked broken (spec.md §4.8).
func (p *Pool) HasPending(sessionID uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key := range p.contexts {
		if key.SessionID == sessionID {
			return true
		}
	}
	return false
}

// Count returns the number of contexts currently tracked, for tests and metrics.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.contexts)
}
