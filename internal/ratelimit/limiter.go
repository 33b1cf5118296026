// Package ratelimit throttles calls to the metadata APIs with a token bucket.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cryptdrive/cdrive/internal/constants"
	"github.com/cryptdrive/cdrive/internal/logging"
)

const (
	// waits longer than this are reported to the user
	longWaitThreshold = 2 * time.Second
	// minimum interval between two long-wait warnings
	warnInterval = 10 * time.Second
)

// RateLimiter is a token bucket that allows bursts up to burst requests,
// then refills at ratePerSec tokens per second.
type RateLimiter struct {
	limiter *rate.Limiter
	logger  *logging.Logger

	mu           sync.Mutex
	lastWarnTime time.Time
}

// NewRateLimiter creates a limiter. A non-positive ratePerSec disables limiting.
func NewRateLimiter(ratePerSec float64, burst int, logger *logging.Logger) *RateLimiter {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	limit := rate.Limit(ratePerSec)
	if ratePerSec <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.Component("ratelimit"),
	}
}

// NewAPIRateLimiter creates the limiter shared by all metadata API calls of a process.
func NewAPIRateLimiter(ratePerSec float64, logger *logging.Logger) *RateLimiter {
	if ratePerSec == 0 {
		ratePerSec = constants.APIRatePerSec
	}
	return NewRateLimiter(ratePerSec, constants.APIBurstCapacity, logger)
}

// Wait blocks until a token is available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return nil
	}
	if rl.limiter.Allow() {
		return nil
	}

	r := rl.limiter.Reserve()
	if !r.OK() {
		return rl.limiter.Wait(ctx)
	}
	delay := r.Delay()
	if delay > longWaitThreshold {
		rl.warn(delay)
	}

	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// TryAcquire takes a token without blocking and reports whether one was available.
func (rl *RateLimiter) TryAcquire() bool {
	if rl == nil {
		return true
	}
	return rl.limiter.Allow()
}

// Tokens returns the number of tokens currently available.
func (rl *RateLimiter) Tokens() float64 {
	return rl.limiter.Tokens()
}

func (rl *RateLimiter) warn(delay time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if time.Since(rl.lastWarnTime) < warnInterval {
		return
	}
	rl.lastWarnTime = time.Now()
	rl.logger.Warn().Dur("wait", delay).Msg("rate limited, waiting for API capacity")
}
