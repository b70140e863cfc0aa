package sender

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/diodelink/godiode/internal/metrics"
	"github.com/diodelink/godiode/internal/wire"
)

func TestPipelineEmitsSessionOpenAndDataBlocks(t *testing.T) {
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	defer udpConn.Close()

	cfg := Config{
		BindTCP:           "127.0.0.1:0",
		ToUDP:             udpConn.LocalAddr().String(),
		UDPMTU:            1500,
		EncodingBlockSize: 32,
		RepairBlockSize:   4,
		NBThreads:         2,
		NBClients:         4,
	}
	reg := prometheus.NewRegistry()
	p, err := New(cfg, metrics.NewSender(reg))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	shutdown := make(chan struct{})
	defer close(shutdown)

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, shutdown) }()

	tcpAddr := p.Addr()
	conn, err := net.Dial("tcp", tcpAddr.String())
	if err != nil {
		t.Fatalf("dial sender: %v", err)
	}
	payload := []byte("hello diode")
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.Close()

	// Expect at least two blocks worth of datagrams: the session-open
	// marker (symbols with no payload) and the data+close block.
	udpConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	sawOpen := false
	sawData := false
	for i := 0; i < 32; i++ {
		n, _, err := udpConn.ReadFrom(buf)
		if err != nil {
			break
		}
		h, symbolPayload, decErr := wire.Decode(buf[:n])
		if decErr != nil {
			t.Fatalf("decode datagram: %v", decErr)
		}
		if h.SessionOpen() {
			sawOpen = true
		}
		if h.EndOfSession() && len(symbolPayload) > 0 {
			sawData = true
		}
		if sawOpen && sawData {
			break
		}
	}
	if !sawOpen {
		t.Fatalf("expected to observe a session-open marker datagram")
	}
	if !sawData {
		t.Fatalf("expected to observe a data datagram carrying the end-of-session block")
	}
}
