package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window counter shared by every instance.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

// NewRateLimiter allows limit requests per window and key.
func NewRateLimiter(client *redis.Client, limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = TTLRateLimitWindow
	}
	return &RateLimiter{client: client, limit: int64(limit), window: window}
}

// Allow counts one request for key and reports whether it fits the window.
// A non-positive limit disables limiting.
func (r *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if r.limit <= 0 {
		return true, nil
	}
	bucket := time.Now().UnixNano() / int64(r.window)
	full := fmt.Sprintf("%s%s:%d", PrefixRateLimit, key, bucket)

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, full)
	pipe.Expire(ctx, full, r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit: %w", err)
	}
	return incr.Val() <= r.limit, nil
}
