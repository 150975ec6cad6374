package idempotency

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGuard 基于 Redis SET NX EX 的标记
type RedisGuard struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisGuard 创建 Redis 标记
func NewRedisGuard(client redis.Cmdable, prefix string, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, prefix: prefix, ttl: normalizeTTL(ttl)}
}

// Seen 判断标记是否存在
func (g *RedisGuard) Seen(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	n, err := g.client.Exists(ctx, g.key(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkSeen 写入标记
func (g *RedisGuard) MarkSeen(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return g.client.Set(ctx, g.key(key), time.Now().Unix(), g.ttl).Err()
}

// Claim 原子检查并写入
func (g *RedisGuard) Claim(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	return g.client.SetNX(ctx, g.key(key), time.Now().Unix(), g.ttl).Result()
}

// Release 删除标记
func (g *RedisGuard) Release(ctx context.Context, key string) error {
	return g.client.Del(ctx, g.key(key)).Err()
}

func (g *RedisGuard) key(key string) string {
	if g.prefix == "" {
		return "idem:" + key
	}
	return g.prefix + ":idem:" + key
}
