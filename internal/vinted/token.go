package vinted

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoToken 表示当前没有可用的会话令牌。
var ErrNoToken = errors.New("no vinted access token available")

// TokenProvider 提供 Vinted 会话令牌。
//
// Token 返回当前令牌；Refresh 在令牌失效（401）后被调用一次，
// 返回新令牌或错误。令牌的获取方式（浏览器、人工粘贴）由实现决定。
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// RedisTokenSource 把外部注入的令牌缓存在 Redis 中。
//
// 令牌由 watchctl token set 或管理接口写入，带 TTL（默认 24h）。
// Refresh 只是清掉缓存并报错：自动获取令牌需要真实浏览器环境，
// 不在本进程内完成。
type RedisTokenSource struct {
	rdb    *redis.Client
	key    string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisTokenSource 创建令牌源。key 为空时使用默认键。
func NewRedisTokenSource(rdb *redis.Client, logger *slog.Logger, key string, ttl time.Duration) *RedisTokenSource {
	if key == "" {
		key = "vintedwatch:access_token"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisTokenSource{rdb: rdb, key: key, ttl: ttl, logger: logger}
}

// Token 返回缓存中的令牌，缓存未命中时返回 ErrNoToken。
func (s *RedisTokenSource) Token(ctx context.Context) (string, error) {
	val, err := s.rdb.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("get token: %w", err)
	}
	return val, nil
}

// Set 写入新令牌并重置 TTL。
func (s *RedisTokenSource) Set(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("empty token")
	}
	if err := s.rdb.Set(ctx, s.key, token, s.ttl).Err(); err != nil {
		return fmt.Errorf("set token: %w", err)
	}
	s.logger.Info("access token stored", slog.String("ttl", s.ttl.String()))
	return nil
}

// Refresh 清除失效令牌。新令牌需要外部重新注入。
func (s *RedisTokenSource) Refresh(ctx context.Context) (string, error) {
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		s.logger.Warn("delete stale token failed", slog.String("error", err.Error()))
	}
	s.logger.Warn("access token expired, waiting for external injection")
	return "", ErrNoToken
}

// TTL 返回令牌剩余有效期，令牌不存在时返回 0。
func (s *RedisTokenSource) TTL(ctx context.Context) (time.Duration, error) {
	d, err := s.rdb.TTL(ctx, s.key).Result()
	if err != nil {
		return 0, fmt.Errorf("token ttl: %w", err)
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

// StaticTokenSource 固定令牌源，测试与一次性脚本用。
type StaticTokenSource struct {
	Value string
}

func (s *StaticTokenSource) Token(ctx context.Context) (string, error) {
	if s.Value == "" {
		return "", ErrNoToken
	}
	return s.Value, nil
}

func (s *StaticTokenSource) Refresh(ctx context.Context) (string, error) {
	return "", ErrNoToken
}
