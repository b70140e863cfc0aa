// Package receiver wires the receiver-side stages of spec.md §2 together:
// UDP ingress, dispatcher, decoder pool, and session framer/TCP egress.
// It mirrors server/main.go's accept-and-bridge loop, generalized from one
// smux mux per KCP conversation to this repo's per-(session,block)
// reassembly contexts feeding per-session framers.
package receiver

import (
	"context"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/diodelink/godiode/internal/fountain"
	"github.com/diodelink/godiode/internal/framer"
	"github.com/diodelink/godiode/internal/metrics"
	"github.com/diodelink/godiode/internal/reassembly"
	"github.com/diodelink/godiode/internal/session"
	"github.com/diodelink/godiode/internal/transport"
	"github.com/diodelink/godiode/internal/wire"
)

// Config fixes everything the pipeline needs to run, populated from CLI
// flags or a JSON override file by cmd/diode-receive.
type Config struct {
	BindUDP                string
	ToTCP                  string
	UDPMTU                 int
	EncodingBlockSize      int
	RepairBlockSize        int
	FlushTimeout           time.Duration
	SessionExpirationDelay time.Duration
	NBThreads              int
	NBClients              int
	Heartbeat              time.Duration
	UDPBufferSize          int
	Quiet                  bool
}

// Pipeline owns the UDP listener, the reassembly pool, the decoder worker
// pool, and the per-session framers needed to run the receiver side of one
// diode link.
type Pipeline struct {
	cfg    Config
	params fountain.Params
	m      *metrics.Receiver

	conn     *net.UDPConn
	sessions *session.Manager
	pool     *reassembly.Pool

	mu      sync.Mutex
	framers map[uint32]*framer.Framer

	lastActivityNano atomic.Int64 // unix nanos of last valid datagram seen, for the heartbeat-absence warning

	ready chan net.Addr
}

// New validates cfg, derives the fountain Params identically to the
// sender's (spec.md §4.3's K/R formula only depends on configuration both
// sides share), and binds the UDP ingress socket.
func New(cfg Config, m *metrics.Receiver) (*Pipeline, error) {
	symbolSize := wire.SymbolSize(cfg.UDPMTU)
	repairRatio := 0.0
	if cfg.EncodingBlockSize > 0 {
		repairRatio = float64(cfg.RepairBlockSize) / float64(cfg.EncodingBlockSize)
	}
	params := fountain.Params{SymbolSize: symbolSize, RepairRatio: repairRatio}
	if err := params.Validate(); err != nil {
		return nil, errors.Wrap(err, "receiver: invalid block/MTU configuration")
	}

	laddr, err := net.ResolveUDPAddr("udp", cfg.BindUDP)
	if err != nil {
		return nil, errors.Wrap(err, "receiver: resolve udp bind address")
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, errors.Wrap(err, "receiver: listen udp")
	}
	if cfg.UDPBufferSize > 0 {
		if err := conn.SetReadBuffer(cfg.UDPBufferSize); err != nil {
			log.Println("receiver: SetReadBuffer:", err)
		}
	}

	threads := cfg.NBThreads
	if threads < 1 {
		threads = 1
	}

	p := &Pipeline{
		cfg:      cfg,
		params:   params,
		m:        m,
		conn:     conn,
		sessions: session.NewManager(),
		pool:     reassembly.NewPool(cfg.FlushTimeout, 2*threads),
		framers:  make(map[uint32]*framer.Framer),
		ready:    make(chan net.Addr, 1),
	}
	p.ready <- conn.LocalAddr()
	p.lastActivityNano.Store(time.Now().UnixNano())
	return p, nil
}

// Addr returns the bound UDP listen address.
func (p *Pipeline) Addr() net.Addr {
	addr := <-p.ready
	p.ready <- addr
	return addr
}

// Run reads datagrams until shutdown is closed, dispatching them to the
// reassembly pool and draining decoded blocks to the session framers.
func (p *Pipeline) Run(ctx context.Context, shutdown <-chan struct{}) error {
	defer p.conn.Close()

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	threads := p.cfg.NBThreads
	if threads < 1 {
		threads = 1
	}
	var workers sync.WaitGroup
	for i := 0; i < threads; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			p.decodeWorker(workerCtx)
		}()
	}

	go p.sweepLoop(workerCtx, shutdown)
	go p.heartbeatWatchdog(workerCtx, shutdown)

	go func() {
		<-shutdown
		cancelWorkers()
		p.conn.Close()
	}()

	buf := make([]byte, p.cfg.UDPMTU)
	for {
		n, _, err := p.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-shutdown:
				workers.Wait()
				return nil
			default:
				return errors.Wrap(err, "receiver: read udp")
			}
		}
		p.m.UDPPkts.Inc()
		p.m.UDPBytes.Add(float64(n))
		p.dispatch(buf[:n])
	}
}

func (p *Pipeline) dispatch(datagram []byte) {
	h, payload, err := wire.Decode(datagram)
	if err != nil {
		p.m.UDPPktsErr.Inc()
		return
	}
	p.lastActivityNano.Store(time.Now().UnixNano())

	if h.Heartbeat() {
		return
	}

	recv, created := p.sessions.GetOrCreate(h.SessionID)
	if created {
		p.m.Sessions.Inc()
		p.logln("receiver: session open", h.SessionID)
	}
	recv.Touch()
	if recv.Terminal() {
		return
	}

	p.pool.Dispatch(h, payload)
}

// decodeWorker is one of the nb_decoding_threads pool workers (spec.md
// §4.6): it decodes a reassembly context once it becomes ready and hands
// the result (success or lost) to the owning session's framer.
func (p *Pipeline) decodeWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rc, ok := <-p.pool.Ready():
			if !ok {
				return
			}
			p.handleReady(rc)
		}
	}
}

func (p *Pipeline) handleReady(rc *reassembly.Context) {
	defer p.pool.Remove(rc.Key)

	recv, ok := p.sessions.Get(rc.Key.SessionID)
	if !ok {
		return
	}

	payload, meta, err := rc.Decode(p.params)
	fr := p.framerFor(rc.Key.SessionID, recv)

	if err != nil {
		p.m.DecodingBlocksErr.Inc()
		log.Printf("receiver: decode failed session=%d seq=%d: %+v", rc.Key.SessionID, rc.Key.BlockSeq, err)
		fr.MarkLost(rc.Key.BlockSeq)
		p.cleanupIfTerminal(rc.Key.SessionID, recv)
		return
	}
	p.m.DecodingBlocks.Inc()

	if err := fr.Deliver(framer.Block{
		Seq:          rc.Key.BlockSeq,
		Payload:      payload,
		SessionOpen:  meta.SessionOpen,
		EndOfSession: meta.EndOfSession,
	}); err != nil {
		log.Printf("receiver: deliver failed session=%d seq=%d: %+v", rc.Key.SessionID, rc.Key.BlockSeq, err)
	}
	p.cleanupIfTerminal(rc.Key.SessionID, recv)
}

func (p *Pipeline) framerFor(sessionID uint32, recv *session.Receiver) *framer.Framer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fr, ok := p.framers[sessionID]; ok {
		return fr
	}
	dial := func() (transport.Conn, error) { return transport.Dial(p.cfg.ToTCP) }
	fr := framer.New(dial, recv, reorderWindow)
	p.framers[sessionID] = fr
	return fr
}

func (p *Pipeline) cleanupIfTerminal(sessionID uint32, recv *session.Receiver) {
	if !recv.Terminal() {
		return
	}
	p.mu.Lock()
	delete(p.framers, sessionID)
	p.mu.Unlock()
	p.sessions.Remove(sessionID)
	p.logln("receiver: session closed", sessionID)
}

// logln prints session open/close messages unless cfg.Quiet suppresses
// them, mirroring the teacher's quiet-mode logging in server/main.go.
func (p *Pipeline) logln(v ...any) {
	if !p.cfg.Quiet {
		log.Println(v...)
	}
}

// reorderWindow bounds how far ahead of the next expected sequence a
// decoded block may arrive before the framer declares the session broken
// (spec.md §4.7). A handful of blocks of slack absorbs ordinary UDP
// reordering without requiring a configuration knob spec.md doesn't name.
const reorderWindow = 8

// sweepLoop periodically forces flush-timeout decode attempts (spec.md
// §4.6 trigger 2) and expires idle sessions (spec.md §4.5).
func (p *Pipeline) sweepLoop(ctx context.Context, shutdown <-chan struct{}) {
	interval := p.cfg.FlushTimeout
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-shutdown:
			return
		case <-ticker.C:
			p.pool.SweepFlush(time.Now(), p.isHead)
			p.expireSessions()
		}
	}
}

func (p *Pipeline) isHead(sessionID, blockSeq uint32) bool {
	recv, ok := p.sessions.Get(sessionID)
	if !ok {
		return false
	}
	return recv.NextExpected() == blockSeq
}

// heartbeatWatchdog warns, but never tears a session down, when no
// datagram of any kind (data or heartbeat) has been seen for a few
// heartbeat intervals (spec.md §5: "Heartbeat-absence timer on the
// receiver emits warnings; it does not by itself tear down sessions").
func (p *Pipeline) heartbeatWatchdog(ctx context.Context, shutdown <-chan struct{}) {
	if p.cfg.Heartbeat <= 0 {
		return
	}
	threshold := 3 * p.cfg.Heartbeat
	ticker := time.NewTicker(p.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-shutdown:
			return
		case <-ticker.C:
			idle := time.Since(time.Unix(0, p.lastActivityNano.Load()))
			if idle >= threshold {
				log.Printf("receiver: no datagrams (including heartbeats) for %s, link may be down", idle.Round(time.Second))
			}
		}
	}
}

func (p *Pipeline) expireSessions() {
	for _, id := range p.sessions.Expired(time.Now(), p.cfg.SessionExpirationDelay) {
		recv, ok := p.sessions.Get(id)
		if !ok {
			continue
		}
		recv.OnExpire(p.pool.HasPending(id))
		p.cleanupIfTerminal(id, recv)
	}
}
