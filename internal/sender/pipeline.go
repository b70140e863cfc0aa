// Package sender wires the sender-side stages of spec.md §2 together: TCP
// acceptor, block former, fountain encoder pool, and rate-limited UDP
// egress. It plays the role client/main.go's accept loop and handleClient
// play in the teacher, generalized from a single smux stream per
// connection to this repo's block-former/fountain-encode-per-connection
// pipeline.
package sender

import (
	"context"
	"log"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/diodelink/godiode/internal/block"
	"github.com/diodelink/godiode/internal/compress"
	"github.com/diodelink/godiode/internal/fountain"
	"github.com/diodelink/godiode/internal/metrics"
	"github.com/diodelink/godiode/internal/pacer"
	"github.com/diodelink/godiode/internal/session"
	"github.com/diodelink/godiode/internal/transport"
	"github.com/diodelink/godiode/internal/wire"
)

// Config fixes everything the pipeline needs to run, populated from CLI
// flags or a JSON override file by cmd/diode-send.
type Config struct {
	BindTCP           string
	ToUDP             string
	BindUDP           string
	UDPMTU            int
	EncodingBlockSize int
	RepairBlockSize   int
	MaxBandwidthBps   int
	NBThreads         int
	NBClients         int
	Heartbeat         time.Duration
	Compress          bool
	Quiet             bool
}

// Pipeline owns the TCP listener, the UDP egress socket, the fountain
// encoder worker pool, and the per-session Formers needed to run the
// sender side of one diode link.
type Pipeline struct {
	cfg    Config
	params fountain.Params
	m      *metrics.Sender
	pace   *pacer.Pacer
	conn   udpWriter

	sessions *session.Manager
	jobs     chan job
	sem      chan struct{}

	ready chan net.Addr // publishes the bound TCP listen address once Run starts listening
}

type udpWriter interface {
	Write([]byte) (int, error)
	Close() error
}

type job struct {
	sessionID uint32
	blk       block.Block
}

// New validates cfg, derives the fountain Params from UDPMTU/EncodingBlockSize/
// RepairBlockSize (spec.md §4.3), and dials the UDP egress socket.
func New(cfg Config, m *metrics.Sender) (*Pipeline, error) {
	symbolSize := wire.SymbolSize(cfg.UDPMTU)
	repairRatio := 0.0
	if cfg.EncodingBlockSize > 0 {
		repairRatio = float64(cfg.RepairBlockSize) / float64(cfg.EncodingBlockSize)
	}
	params := fountain.Params{SymbolSize: symbolSize, RepairRatio: repairRatio}
	if err := params.Validate(); err != nil {
		return nil, errors.Wrap(err, "sender: invalid block/MTU configuration")
	}

	conn, err := dialUDP(cfg.BindUDP, cfg.ToUDP)
	if err != nil {
		return nil, errors.Wrap(err, "sender: dial udp egress")
	}

	burst := cfg.EncodingBlockSize
	if burst < symbolSize {
		burst = symbolSize
	}
	pace := pacer.New(cfg.MaxBandwidthBps, burst, cfg.Heartbeat)

	threads := cfg.NBThreads
	if threads < 1 {
		threads = 1
	}

	p := &Pipeline{
		cfg:      cfg,
		params:   params,
		m:        m,
		pace:     pace,
		conn:     conn,
		sessions: session.NewManager(),
		jobs:     make(chan job, 2*threads),
		sem:      make(chan struct{}, maxClients(cfg.NBClients)),
		ready:    make(chan net.Addr, 1),
	}
	return p, nil
}

// Addr blocks until the TCP listener is bound (useful for tests and for
// logging the ephemeral port when BindTCP uses port 0), then returns it.
func (p *Pipeline) Addr() net.Addr {
	addr := <-p.ready
	p.ready <- addr
	return addr
}

func maxClients(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// Run accepts TCP connections on cfg.BindTCP until shutdown is closed,
// spawning one session goroutine per connection and a fixed pool of
// encoder worker goroutines per spec.md §4.3.
func (p *Pipeline) Run(ctx context.Context, shutdown <-chan struct{}) error {
	listener, err := transport.Listen(p.cfg.BindTCP)
	if err != nil {
		return errors.Wrap(err, "sender: listen tcp")
	}
	defer listener.Close()
	defer p.conn.Close()
	p.ready <- listener.Addr()

	var encoders, sessions sync.WaitGroup
	for i := 0; i < cap(p.jobs)/2; i++ {
		encoders.Add(1)
		go func() {
			defer encoders.Done()
			p.encodeWorker(ctx)
		}()
	}

	go p.heartbeatLoop(ctx, shutdown)

	go func() {
		<-shutdown
		listener.Close()
	}()

	// drain stops accepting, waits for every in-flight session to finish
	// enqueueing its final block, then lets the encoder pool drain and exit.
	drain := func() error {
		sessions.Wait()
		close(p.jobs)
		encoders.Wait()
		return nil
	}

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-shutdown:
				return drain()
			default:
				log.Printf("sender: accept: %+v", err)
				continue
			}
		}

		select {
		case p.sem <- struct{}{}:
		case <-shutdown:
			conn.Close()
			return drain()
		}

		sessions.Add(1)
		go func() {
			defer sessions.Done()
			defer func() { <-p.sem }()
			p.handleSession(conn)
		}()
	}
}

// handleSession reads one accepted TCP connection to completion, forming
// and enqueueing blocks per spec.md §4.1/§4.2.
func (p *Pipeline) handleSession(conn transport.Conn) {
	defer conn.Close()

	logln := func(v ...any) {
		if !p.cfg.Quiet {
			log.Println(v...)
		}
	}

	sess := p.sessions.New()
	sess.Accept()
	p.m.Sessions.Inc()
	logln("sender: session open", sess.ID, "from", conn.RemoteAddr())
	defer func() {
		sess.Closed()
		p.sessions.Remove(sess.ID)
		logln("sender: session closed", sess.ID)
	}()

	former := block.NewFormer(sess.ID, p.cfg.EncodingBlockSize)
	p.jobs <- job{sessionID: sess.ID, blk: former.Open()}

	buf := make([]byte, p.cfg.EncodingBlockSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			sess.Activity()
			p.m.TCPBytes.Add(float64(n))
			for _, b := range former.Write(buf[:n]) {
				p.jobs <- job{sessionID: sess.ID, blk: b}
			}
		}
		if err != nil {
			break
		}
	}

	sess.EndOfStream()
	p.jobs <- job{sessionID: sess.ID, blk: former.Close()}
}

// encodeWorker is one of the nb_encoding_threads pool workers (spec.md
// §4.3): it fountain-encodes a sealed block and writes its symbols to the
// paced UDP egress. Workers pull from a shared channel, so blocks from
// different sessions (and even different blocks of the same session) may
// be encoded and transmitted out of relative order; the wire header's
// (session id, block seq) pair is what lets the receiver demultiplex them,
// exactly as §4.3 permits.
func (p *Pipeline) encodeWorker(ctx context.Context) {
	for j := range p.jobs {
		p.encodeAndSend(ctx, j)
	}
}

func (p *Pipeline) encodeAndSend(ctx context.Context, j job) {
	payload := j.blk.Payload
	ingressBytes := len(payload)
	compressed := false
	if p.cfg.Compress && len(payload) > 0 {
		if c, ok := compress.Encode(payload); ok {
			payload = c
			compressed = true
		}
	}

	symbols, k, _, err := fountain.Encode(p.params, payload)
	if err != nil {
		p.m.EncodingBlocksErr.Inc()
		log.Printf("sender: encode block session=%d seq=%d: %+v", j.sessionID, j.blk.Seq, err)
		return
	}
	p.m.EncodingBlocks.Inc()

	// Pace by TCP-ingress bytes, not wire bytes (spec.md §4.4): the token
	// bucket is charged once per block for the useful payload it carries,
	// so the wire rate (which also carries repair symbols and headers) is
	// allowed to exceed max_bandwidth by (R+headers)/K, while the rate
	// measured at TCP ingress stays within it.
	if ingressBytes > 0 {
		if err := p.pace.Wait(ctx, ingressBytes); err != nil {
			return // context canceled: shutting down
		}
	}

	var flags byte
	if j.blk.SessionOpen {
		flags |= wire.FlagSessionOpen
	}
	if j.blk.EndOfSession {
		flags |= wire.FlagEndOfSession
	}
	if compressed {
		flags |= wire.FlagCompressed
	}

	for i, sym := range symbols {
		symFlags := flags
		if i >= k {
			symFlags |= wire.FlagRepair
		}
		h := wire.Header{
			Version:     wire.Version,
			Flags:       symFlags,
			SessionID:   j.sessionID,
			BlockSeq:    j.blk.Seq,
			SymbolIndex: uint16(i),
			K:           uint16(k),
		}
		datagram := wire.Encode(h, sym)

		if _, err := p.conn.Write(datagram); err != nil {
			p.m.UDPPktsErr.Inc()
			continue
		}
		p.m.UDPPkts.Inc()
		p.m.UDPBytes.Add(float64(len(datagram)))
	}
}

// heartbeatLoop sends a content-less heartbeat datagram whenever the pacer
// reports one is due (spec.md §4.4: "every heartbeat_interval, if no data
// datagram has been transmitted in the last interval").
func (p *Pipeline) heartbeatLoop(ctx context.Context, shutdown <-chan struct{}) {
	if p.cfg.Heartbeat <= 0 {
		return
	}
	ticker := time.NewTicker(p.pace.NextHeartbeatCheck())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-shutdown:
			return
		case <-ticker.C:
			if p.pace.HeartbeatDue() {
				if _, err := p.conn.Write(wire.Heartbeat()); err != nil {
					p.m.UDPPktsErr.Inc()
				} else {
					p.m.UDPPkts.Inc()
					p.pace.MarkSent()
				}
			}
		}
	}
}
