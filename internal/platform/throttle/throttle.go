// Package throttle implements a fixed-window counter over Redis, used to cap
// how often a user can request verification codes.
package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter counts events per key inside a fixed window. A nil client disables
// throttling, which keeps development setups free of a Redis dependency.
type Limiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

// New creates a Limiter. client may be nil.
func New(client *redis.Client, limit int, window time.Duration) *Limiter {
	return &Limiter{
		client: client,
		limit:  int64(limit),
		window: window,
	}
}

// NewClient dials Redis with the options the config carries.
func NewClient(addr string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
}

// Allow increments the counter for key and reports whether the event is
// within the limit. The window starts at the first event and expires with
// the key. Redis errors fail open with the error returned so callers can
// decide how strict to be.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.client == nil {
		return true, nil
	}

	redisKey := fmt.Sprintf("throttle:%s", key)

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return true, fmt.Errorf("throttle incr: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, l.window).Err(); err != nil {
			return true, fmt.Errorf("throttle expire: %w", err)
		}
	}

	return count <= l.limit, nil
}

// Remaining reports how many events are left in the current window.
func (l *Limiter) Remaining(ctx context.Context, key string) (int64, error) {
	if l.client == nil {
		return l.limit, nil
	}

	redisKey := fmt.Sprintf("throttle:%s", key)
	count, err := l.client.Get(ctx, redisKey).Int64()
	if err == redis.Nil {
		return l.limit, nil
	}
	if err != nil {
		return 0, fmt.Errorf("throttle get: %w", err)
	}

	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}
