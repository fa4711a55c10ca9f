package eventapi

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER - token bucket in front of the event API
// ══════════════════════════════════════════════════════════════════════════════

// RateLimiterConfig contains configuration for the rate limiter.
type RateLimiterConfig struct {
	// RequestsPerMinute is the sustained request rate.
	RequestsPerMinute int

	// Burst is the bucket size.
	Burst int

	// WaitTimeout bounds how long Wait blocks for a token.
	WaitTimeout time.Duration
}

// DefaultRateLimiterConfig returns conservative defaults.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerMinute: 60,
		Burst:             10,
		WaitTimeout:       5 * time.Second,
	}
}

// RateLimitError is returned when no token becomes available in time.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("event api rate limit exceeded, retry after %s", e.RetryAfter)
}

// RateLimiter is a token bucket. A 429 from the API drains it and blocks
// until the server's Retry-After passes.
type RateLimiter struct {
	mu sync.Mutex

	capacity     float64
	perSecond    float64
	tokens       float64
	lastRefill   time.Time
	blockedUntil time.Time
	waitTimeout  time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRateLimiter creates a full bucket. A non-positive rate disables limiting.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.Burst <= 0 {
		config.Burst = 1
	}
	rl := &RateLimiter{
		capacity:    float64(config.Burst),
		perSecond:   float64(config.RequestsPerMinute) / 60,
		tokens:      float64(config.Burst),
		waitTimeout: config.WaitTimeout,
		now:         time.Now,
		sleep:       sleepCtx,
	}
	rl.lastRefill = rl.now()
	return rl
}

// Wait blocks until a token is available, the wait timeout passes or ctx ends.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil || rl.perSecond <= 0 {
		return nil
	}
	deadline := rl.now().Add(rl.waitTimeout)
	for {
		wait, ok := rl.reserve()
		if ok {
			return nil
		}
		if rl.now().Add(wait).After(deadline) {
			return &RateLimitError{RetryAfter: wait}
		}
		if err := rl.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// TryAllow takes a token without blocking.
func (rl *RateLimiter) TryAllow() bool {
	if rl == nil || rl.perSecond <= 0 {
		return true
	}
	_, ok := rl.reserve()
	return ok
}

// RecordRateLimitHit empties the bucket and blocks until retryAfter passes.
func (rl *RateLimiter) RecordRateLimitHit(retryAfter time.Duration) {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.tokens = 0
	if retryAfter > 0 {
		if until := rl.now().Add(retryAfter); until.After(rl.blockedUntil) {
			rl.blockedUntil = until
		}
	}
}

// Available returns the current token count.
func (rl *RateLimiter) Available() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill(rl.now())
	return rl.tokens
}

func (rl *RateLimiter) reserve() (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Before(rl.blockedUntil) {
		return rl.blockedUntil.Sub(now), false
	}
	rl.refill(now)
	if rl.tokens >= 1 {
		rl.tokens--
		return 0, true
	}
	missing := 1 - rl.tokens
	return time.Duration(missing / rl.perSecond * float64(time.Second)), false
}

// refill must be called with the lock held.
func (rl *RateLimiter) refill(now time.Time) {
	elapsed := now.Sub(rl.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	rl.tokens += elapsed * rl.perSecond
	if rl.tokens > rl.capacity {
		rl.tokens = rl.capacity
	}
	rl.lastRefill = now
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
