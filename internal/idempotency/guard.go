// Package idempotency 提供回调事件与打款租约的幂等标记。
package idempotency

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL 默认标记保留时长
const DefaultTTL = 300 * time.Second

// ErrEmptyKey 幂等键为空
var ErrEmptyKey = errors.New("idempotency key is empty")

// Guard 幂等标记存储
type Guard interface {
	// Seen 判断 key 是否存在未过期标记
	Seen(ctx context.Context, key string) (bool, error)
	// MarkSeen 写入标记（覆盖已有标记并刷新过期时间）
	MarkSeen(ctx context.Context, key string) error
	// Claim 原子地检查并写入标记，并发调用中只有一个返回 true
	Claim(ctx context.Context, key string) (bool, error)
	// Release 删除标记，使后续重投可以再次处理
	Release(ctx context.Context, key string) error
}

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}
