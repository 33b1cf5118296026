package ratelimit

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cryptdrive/cdrive/internal/logging"
)

func TestRateLimiter_BurstThenThrottle(t *testing.T) {
	rl := NewRateLimiter(1, 3, nil)

	for i := 0; i < 3; i++ {
		if !rl.TryAcquire() {
			t.Fatalf("token %d should be available from the burst", i)
		}
	}
	if rl.TryAcquire() {
		t.Error("bucket should be empty after the burst")
	}
}

func TestRateLimiter_WaitRefills(t *testing.T) {
	rl := NewRateLimiter(50, 1, nil)
	ctx := context.Background()

	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	start := time.Now()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	elapsed := time.Since(start)
	if elapsed < 10*time.Millisecond {
		t.Errorf("second token came after %v, expected ~20ms refill", elapsed)
	}
	if elapsed > time.Second {
		t.Errorf("second token took %v", elapsed)
	}
}

func TestRateLimiter_WaitCancelled(t *testing.T) {
	rl := NewRateLimiter(0.1, 1, nil)
	rl.TryAcquire()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	if err := rl.Wait(ctx); err == nil {
		t.Fatal("expected context error")
	}
	if time.Since(start) > time.Second {
		t.Error("Wait did not return promptly after cancellation")
	}
}

func TestRateLimiter_WarnsOnLongWait(t *testing.T) {
	var buf bytes.Buffer
	rl := NewRateLimiter(0.1, 1, logging.NewLogger(&buf))
	rl.TryAcquire()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_ = rl.Wait(ctx)

	if !strings.Contains(buf.String(), "rate limited") {
		t.Errorf("expected a rate limit warning, got %q", buf.String())
	}
}

func TestRateLimiter_Unlimited(t *testing.T) {
	rl := NewRateLimiter(0, 1, nil)
	for i := 0; i < 1000; i++ {
		if !rl.TryAcquire() {
			t.Fatal("unlimited limiter refused a token")
		}
	}

	var nilLimiter *RateLimiter
	if err := nilLimiter.Wait(context.Background()); err != nil {
		t.Errorf("nil limiter Wait() = %v", err)
	}
}
