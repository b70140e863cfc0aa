// Package metrics exposes the tx_*/rx_* Prometheus counters spec.md §6
// names, served over the optional --metrics <ip:port> scrape endpoint.
// Grounded on syncthing's metrics wiring (cmd/infra/stupgrades/metrics.go's
// promauto.NewCounter(Vec) pattern, cmd/strelaypoolsrv/main.go's /metrics
// handler built on promhttp.Handler()).
package metrics

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sender holds the sender-side counters (spec.md §6's tx_* names).
type Sender struct {
	Sessions          prometheus.Counter
	TCPBytes          prometheus.Counter
	EncodingBlocks    prometheus.Counter
	EncodingBlocksErr prometheus.Counter
	UDPPkts           prometheus.Counter
	UDPBytes          prometheus.Counter
	UDPPktsErr        prometheus.Counter
}

// NewSender registers and returns the sender counter set. reg may be nil to
// use the default global registry (as promauto does by default).
func NewSender(reg prometheus.Registerer) *Sender {
	f := promauto.With(reg)
	ns := prometheus.CounterOpts{Subsystem: "tx"}
	return &Sender{
		Sessions:          f.NewCounter(withName(ns, "sessions")),
		TCPBytes:          f.NewCounter(withName(ns, "tcp_bytes")),
		EncodingBlocks:    f.NewCounter(withName(ns, "encoding_blocks")),
		EncodingBlocksErr: f.NewCounter(withName(ns, "encoding_blocks_err")),
		UDPPkts:           f.NewCounter(withName(ns, "udp_pkts")),
		UDPBytes:          f.NewCounter(withName(ns, "udp_bytes")),
		UDPPktsErr:        f.NewCounter(withName(ns, "udp_pkts_err")),
	}
}

// Receiver holds the receiver-side counters (spec.md §6's symmetric rx_* names).
type Receiver struct {
	Sessions          prometheus.Counter
	TCPBytes          prometheus.Counter
	DecodingBlocks    prometheus.Counter
	DecodingBlocksErr prometheus.Counter
	UDPPkts           prometheus.Counter
	UDPBytes          prometheus.Counter
	UDPPktsErr        prometheus.Counter
}

// NewReceiver registers and returns the receiver counter set.
func NewReceiver(reg prometheus.Registerer) *Receiver {
	f := promauto.With(reg)
	ns := prometheus.CounterOpts{Subsystem: "rx"}
	return &Receiver{
		Sessions:          f.NewCounter(withName(ns, "sessions")),
		TCPBytes:          f.NewCounter(withName(ns, "tcp_bytes")),
		DecodingBlocks:    f.NewCounter(withName(ns, "decoding_blocks")),
		DecodingBlocksErr: f.NewCounter(withName(ns, "decoding_blocks_err")),
		UDPPkts:           f.NewCounter(withName(ns, "udp_pkts")),
		UDPBytes:          f.NewCounter(withName(ns, "udp_bytes")),
		UDPPktsErr:        f.NewCounter(withName(ns, "udp_pkts_err")),
	}
}

func withName(base prometheus.CounterOpts, name string) prometheus.CounterOpts {
	base.Name = name
	return base
}

// Serve starts an HTTP server exposing /metrics on addr until ctx is
// cancelled, exactly like the teacher's optional --pprof server but for
// Prometheus scraping instead of profiling.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "metrics: serve")
		}
		return nil
	}
}
