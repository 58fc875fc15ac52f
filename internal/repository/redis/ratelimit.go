package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	rateLimitPrefix = "ratelimit:"
)

// RateLimiter caps requests per user per minute using a fixed window counter
type RateLimiter struct {
	client            *Client
	requestsPerMinute int
	now               func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(client *Client, requestsPerMinute int) *RateLimiter {
	return &RateLimiter{
		client:            client,
		requestsPerMinute: requestsPerMinute,
		now:               time.Now,
	}
}

// Allow checks if a request should be allowed based on rate limits
// Returns (allowed, remaining, resetTime, error)
func (r *RateLimiter) Allow(ctx context.Context, key string) (bool, int, time.Time, error) {
	windowStart := r.now().Truncate(time.Minute)
	windowEnd := windowStart.Add(time.Minute)
	fullKey := rateLimitKey(key, windowStart)

	pipe := r.client.rdb.Pipeline()
	incrCmd := pipe.Incr(ctx, fullKey)
	pipe.ExpireNX(ctx, fullKey, time.Minute)

	_, err := pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		return false, 0, time.Time{}, fmt.Errorf("failed to execute rate limit check: %w", err)
	}

	allowed, remaining := r.evaluate(incrCmd.Val())
	return allowed, remaining, windowEnd, nil
}

// Limit returns the configured requests per minute
func (r *RateLimiter) Limit() int {
	return r.requestsPerMinute
}

func (r *RateLimiter) evaluate(count int64) (bool, int) {
	limit := int64(r.requestsPerMinute)
	remaining := int(limit - count)
	if remaining < 0 {
		remaining = 0
	}
	return count <= limit, remaining
}

func rateLimitKey(key string, windowStart time.Time) string {
	return fmt.Sprintf("%s%s:%d", rateLimitPrefix, key, windowStart.Unix())
}
