package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakeRedis struct {
	count   int64
	incrErr error
	expired bool
}

func (f *fakeRedis) IncrBy(ctx context.Context, key string, value int64) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if f.incrErr != nil {
		cmd.SetErr(f.incrErr)
		return cmd
	}
	f.count += value
	cmd.SetVal(f.count)
	return cmd
}

func (f *fakeRedis) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.expired = true
	cmd := redis.NewBoolCmd(ctx)
	cmd.SetVal(true)
	return cmd
}

func TestAllow_UnderLimit(t *testing.T) {
	rdb := &fakeRedis{}
	l := NewLimiter(rdb, 1000)

	allowed, err := l.Allow(context.Background(), "alice", 500)
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if !allowed {
		t.Error("Expected request under limit to be allowed")
	}
	if !rdb.expired {
		t.Error("Expected TTL to be set on fresh window")
	}
}

func TestAllow_OverLimit(t *testing.T) {
	rdb := &fakeRedis{}
	l := NewLimiter(rdb, 1000)

	_, _ = l.Allow(context.Background(), "alice", 800)
	allowed, err := l.Allow(context.Background(), "alice", 800)
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if allowed {
		t.Error("Expected request over limit to be denied")
	}
}

func TestAllow_RedisError(t *testing.T) {
	rdb := &fakeRedis{incrErr: errors.New("connection refused")}
	l := NewLimiter(rdb, 1000)

	_, err := l.Allow(context.Background(), "alice", 100)
	if err == nil {
		t.Fatal("Expected error when redis is unavailable")
	}
}
