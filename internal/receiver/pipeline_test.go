package receiver

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/diodelink/godiode/internal/fountain"
	"github.com/diodelink/godiode/internal/metrics"
	"github.com/diodelink/godiode/internal/wire"
)

// sendBlock fountain-encodes payload and fires every resulting symbol at
// the pipeline's UDP socket, exactly as the sender side would.
func sendBlock(t *testing.T, conn *net.UDPConn, to net.Addr, params fountain.Params, sessionID, seq uint32, payload []byte, flags byte) {
	t.Helper()
	symbols, k, _, err := fountain.Encode(params, payload)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for i, sym := range symbols {
		f := flags
		if i >= k {
			f |= wire.FlagRepair
		}
		h := wire.Header{Version: wire.Version, Flags: f, SessionID: sessionID, BlockSeq: seq, SymbolIndex: uint16(i), K: uint16(k)}
		datagram := wire.Encode(h, sym)
		if _, err := conn.WriteTo(datagram, to); err != nil {
			t.Fatalf("write datagram: %v", err)
		}
	}
}

func TestPipelineDeliversSessionToTCPEgress(t *testing.T) {
	tcpListener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen tcp: %v", err)
	}
	defer tcpListener.Close()

	cfg := Config{
		BindUDP:                "127.0.0.1:0",
		ToTCP:                  tcpListener.Addr().String(),
		UDPMTU:                 1500,
		EncodingBlockSize:      32,
		RepairBlockSize:        4,
		FlushTimeout:           50 * time.Millisecond,
		SessionExpirationDelay: time.Minute,
		NBThreads:              2,
		NBClients:              4,
	}
	reg := prometheus.NewRegistry()
	p, err := New(cfg, metrics.NewReceiver(reg))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	shutdown := make(chan struct{})
	defer close(shutdown)

	go p.Run(ctx, shutdown)

	egress := make(chan net.Conn, 1)
	go func() {
		conn, err := tcpListener.Accept()
		if err == nil {
			egress <- conn
		}
	}()

	udpAddr := p.Addr()
	srcConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	defer srcConn.Close()

	params := fountain.Params{SymbolSize: wire.SymbolSize(cfg.UDPMTU), RepairRatio: float64(cfg.RepairBlockSize) / float64(cfg.EncodingBlockSize)}

	sendBlock(t, srcConn, udpAddr, params, 42, 0, nil, wire.FlagSessionOpen)
	sendBlock(t, srcConn, udpAddr, params, 42, 1, []byte("payload bytes"), wire.FlagEndOfSession)

	var conn net.Conn
	select {
	case conn = <-egress:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for receiver to open egress TCP connection")
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	got, err := io.ReadAll(conn)
	if err != nil && err != io.EOF {
		t.Fatalf("read egress: %v", err)
	}
	if string(got) != "payload bytes" {
		t.Fatalf("expected %q, got %q", "payload bytes", got)
	}
}
