package idempotency

import (
	"context"

	"github.com/dujiao-next/reconciler/internal/logger"
)

// FallbackGuard 主存储出错时退回到备用存储
type FallbackGuard struct {
	primary   Guard
	secondary Guard
}

// NewFallbackGuard 创建带降级的标记
func NewFallbackGuard(primary, secondary Guard) *FallbackGuard {
	return &FallbackGuard{primary: primary, secondary: secondary}
}

// Seen 判断标记是否存在
func (g *FallbackGuard) Seen(ctx context.Context, key string) (bool, error) {
	seen, err := g.primary.Seen(ctx, key)
	if err == nil {
		if seen {
			return true, nil
		}
		// 主存储故障期间写入的标记只在备用存储中
		return g.secondary.Seen(ctx, key)
	}
	logger.Warnw("idempotency_primary_failed", "op", "seen", "key", key, "error", err)
	return g.secondary.Seen(ctx, key)
}

// MarkSeen 写入标记
func (g *FallbackGuard) MarkSeen(ctx context.Context, key string) error {
	if err := g.primary.MarkSeen(ctx, key); err != nil {
		logger.Warnw("idempotency_primary_failed", "op", "mark_seen", "key", key, "error", err)
		return g.secondary.MarkSeen(ctx, key)
	}
	return nil
}

// Claim 原子检查并写入
func (g *FallbackGuard) Claim(ctx context.Context, key string) (bool, error) {
	claimed, err := g.primary.Claim(ctx, key)
	if err != nil {
		logger.Warnw("idempotency_primary_failed", "op", "claim", "key", key, "error", err)
		return g.secondary.Claim(ctx, key)
	}
	if !claimed {
		return false, nil
	}
	// 备用存储同步占位，主存储恢复前后都不会重复处理
	secondaryClaimed, err := g.secondary.Claim(ctx, key)
	if err != nil {
		logger.Warnw("idempotency_secondary_failed", "op", "claim", "key", key, "error", err)
		return true, nil
	}
	return secondaryClaimed, nil
}

// Release 删除标记
func (g *FallbackGuard) Release(ctx context.Context, key string) error {
	primaryErr := g.primary.Release(ctx, key)
	if primaryErr != nil {
		logger.Warnw("idempotency_primary_failed", "op", "release", "key", key, "error", primaryErr)
	}
	return g.secondary.Release(ctx, key)
}
