package pacer

import (
	"context"
	"testing"
	"time"
)

func TestWaitShapesRateWithinTolerance(t *testing.T) {
	const bitsPerSec = 80_000 // 10,000 bytes/sec
	p := New(bitsPerSec, 2000, time.Second)

	ctx := context.Background()
	start := time.Now()
	const total = 20_000 // should take ~2s at 10,000 B/s
	sent := 0
	for sent < total {
		n := 2000
		if err := p.Wait(ctx, n); err != nil {
			t.Fatalf("Wait error: %v", err)
		}
		sent += n
	}
	elapsed := time.Since(start)

	// Allow generous slack: real CI/test hosts jitter more than production.
	if elapsed < 1500*time.Millisecond {
		t.Fatalf("pacer let %d bytes through too fast: %v", total, elapsed)
	}
}

func TestUnlimitedBandwidthDoesNotBlock(t *testing.T) {
	p := New(0, 1<<20, time.Second)
	ctx := context.Background()
	start := time.Now()
	if err := p.Wait(ctx, 1<<20); err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	if time.Since(start) > 200*time.Millisecond {
		t.Fatalf("unlimited pacer should not block meaningfully")
	}
}

func TestHeartbeatDueAfterIdle(t *testing.T) {
	p := New(0, 1024, 50*time.Millisecond)
	if p.HeartbeatDue() {
		t.Fatalf("heartbeat should not be due immediately after construction")
	}
	time.Sleep(80 * time.Millisecond)
	if !p.HeartbeatDue() {
		t.Fatalf("heartbeat should be due after idle interval elapses")
	}

	p.MarkSent()
	if p.HeartbeatDue() {
		t.Fatalf("heartbeat should not be due immediately after MarkSent")
	}
}

func TestWaitResetsHeartbeatClock(t *testing.T) {
	p := New(8_000_000, 4096, 50*time.Millisecond)
	ctx := context.Background()
	if err := p.Wait(ctx, 1024); err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	if p.HeartbeatDue() {
		t.Fatalf("sending data should postpone the heartbeat")
	}
}
