package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client is the subset of redis commands the limiter needs.
type Client interface {
	IncrBy(ctx context.Context, key string, value int64) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// Limiter is a fixed-window token budget per user, backed by redis. A window
// key accumulates token counts and expires after the window length; a request
// is allowed while the accumulated count stays at or under the limit.
type Limiter struct {
	rdb    Client
	limit  int64
	window time.Duration
}

func NewLimiter(rdb Client, limitTPM int64) *Limiter {
	return &Limiter{
		rdb:    rdb,
		limit:  limitTPM,
		window: time.Minute,
	}
}

func (l *Limiter) Allow(ctx context.Context, userID string, tokens int) (bool, error) {
	key := fmt.Sprintf("ratelimit:user:%s", userID)

	count, err := l.rdb.IncrBy(ctx, key, int64(tokens)).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit incr: %w", err)
	}

	// First increment of a fresh window carries the TTL.
	if count == int64(tokens) {
		if err := l.rdb.Expire(ctx, key, l.window).Err(); err != nil {
			return false, fmt.Errorf("ratelimit expire: %w", err)
		}
	}

	return count <= l.limit, nil
}
