// Package pacer implements the sender's rate-limited UDP egress discipline
// (spec.md §4.4): a token bucket shaped to TCP-ingress bytes/sec
// (max_bandwidth), plus the heartbeat timer that keeps a diode link alive
// when no session has data in flight.
//
// The token-bucket pattern is grounded on syncthing's relay server, which
// uses the same golang.org/x/time/rate primitive to shape per-session and
// global transfer rates (cmd/syncthing/relaysrv/session.go's
// makeRateLimitFunc/take helpers).
package pacer

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Pacer paces outgoing datagram bytes to a configured bits-per-second budget
// and tracks whether a heartbeat is due.
type Pacer struct {
	limiter           *rate.Limiter
	heartbeatInterval time.Duration
	lastSendNano      atomic.Int64
}

// New builds a Pacer. maxBandwidthBitsPerSec <= 0 means unlimited (the
// limiter allows bursts of any size immediately). burstBytes should be at
// least as large as the largest n the caller will ever pass to Wait, since
// x/time/rate rejects a request larger than its burst.
func New(maxBandwidthBitsPerSec int, burstBytes int, heartbeatInterval time.Duration) *Pacer {
	p := &Pacer{heartbeatInterval: heartbeatInterval}
	if burstBytes < 1 {
		burstBytes = 1
	}
	if maxBandwidthBitsPerSec <= 0 {
		p.limiter = rate.NewLimiter(rate.Inf, burstBytes)
	} else {
		bytesPerSec := maxBandwidthBitsPerSec / 8
		if bytesPerSec < 1 {
			bytesPerSec = 1
		}
		if burstBytes < bytesPerSec {
			// A burst smaller than one second's worth of tokens makes the
			// bucket spiky; give it at least a full second of headroom.
			burstBytes = bytesPerSec
		}
		p.limiter = rate.NewLimiter(rate.Limit(bytesPerSec), burstBytes)
	}
	p.lastSendNano.Store(time.Now().UnixNano())
	return p
}

// Wait blocks until n bytes' worth of tokens are available, then consumes
// them and records that data was sent (resetting the heartbeat clock).
// Per spec.md §4.4, "sending never fails the session on transient socket
// errors" — Wait itself can only fail via ctx cancellation or a burst
// smaller than n, both caller configuration errors, not session errors.
func (p *Pacer) Wait(ctx context.Context, n int) error {
	if err := p.limiter.WaitN(ctx, n); err != nil {
		return err
	}
	p.lastSendNano.Store(time.Now().UnixNano())
	return nil
}

// HeartbeatDue reports whether heartbeatInterval has elapsed since the last
// call to Wait or MarkSent (or since New, if neither has been called).
func (p *Pacer) HeartbeatDue() bool {
	if p.heartbeatInterval <= 0 {
		return false
	}
	last := time.Unix(0, p.lastSendNano.Load())
	return time.Since(last) >= p.heartbeatInterval
}

// MarkSent records that a datagram (typically a heartbeat, which bypasses
// the token bucket per spec.md §4.4) was just sent.
func (p *Pacer) MarkSent() {
	p.lastSendNano.Store(time.Now().UnixNano())
}

// NextHeartbeatCheck returns a sensible polling interval for a caller loop
// that wants to notice HeartbeatDue promptly without busy-waiting.
func (p *Pacer) NextHeartbeatCheck() time.Duration {
	if p.heartbeatInterval <= 0 {
		return time.Hour
	}
	return p.heartbeatInterval / 4
}
