package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newMiniRedis(t *testing.T) *redis.Client {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRateLimiter_AcquireConsumesToken(t *testing.T) {
	rdb := newMiniRedis(t)

	limiter := NewRedisRateLimiter(rdb, nil, "test:ratelimit:consume", 10, 2)
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	tokensStr, err := rdb.HGet(context.Background(), limiter.key, "tokens").Result()
	if err != nil {
		t.Fatalf("hget tokens: %v", err)
	}
	tokens, err := strconv.ParseFloat(tokensStr, 64)
	if err != nil {
		t.Fatalf("parse tokens: %v", err)
	}
	if tokens > 1.1 {
		t.Fatalf("expected token to be consumed, got %.2f remaining", tokens)
	}
}

func TestRateLimiter_BlocksUntilRefill(t *testing.T) {
	rdb := newMiniRedis(t)

	// 桶容量 1，速率 10/s：第二次获取需要等约 100ms 补充
	limiter := NewRedisRateLimiter(rdb, nil, "test:ratelimit:refill", 10, 1)
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("warm acquire: %v", err)
	}

	start := time.Now()
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Fatalf("expected blocking until refill, elapsed=%v", elapsed)
	}
}

func TestRateLimiter_ContextCancel(t *testing.T) {
	rdb := newMiniRedis(t)

	limiter := NewRedisRateLimiter(rdb, nil, "test:ratelimit:cancel", 1, 1)
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("warm acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := limiter.Acquire(ctx); !errors.Is(err, ErrRateLimitTimeout) {
		t.Fatalf("expected ErrRateLimitTimeout, got %v", err)
	}
}

func TestRateLimiter_DisabledIsNoop(t *testing.T) {
	rdb := newMiniRedis(t)

	limiter := NewRedisRateLimiter(rdb, nil, "test:ratelimit:off", 0, 0)
	start := time.Now()
	for i := 0; i < 50; i++ {
		if err := limiter.Acquire(context.Background()); err != nil {
			t.Fatalf("acquire: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("disabled limiter must not block, elapsed=%v", elapsed)
	}

	var nilLimiter *RateLimiter
	if err := nilLimiter.Acquire(context.Background()); err != nil {
		t.Fatalf("nil limiter should be a no-op, got %v", err)
	}
}
