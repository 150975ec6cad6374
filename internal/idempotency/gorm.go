package idempotency

import (
	"context"
	"time"

	"github.com/dujiao-next/reconciler/internal/repository"
)

// GormGuard 基于数据库唯一约束的标记，Redis 不可用时仍能去重
type GormGuard struct {
	repo repository.WebhookEventRepository
	ttl  time.Duration
	now  func() time.Time
}

// NewGormGuard 创建数据库标记
func NewGormGuard(repo repository.WebhookEventRepository, ttl time.Duration) *GormGuard {
	return &GormGuard{repo: repo, ttl: normalizeTTL(ttl), now: time.Now}
}

// Seen 判断标记是否存在
func (g *GormGuard) Seen(_ context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	return g.repo.ExistsActive(key, g.now())
}

// MarkSeen 写入标记
func (g *GormGuard) MarkSeen(_ context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	now := g.now()
	created, err := g.repo.Insert(key, now.Add(g.ttl))
	if err != nil || created {
		return err
	}
	// 已存在则刷新过期时间
	_, err = g.repo.TakeOverExpired(key, now.Add(g.ttl), now.Add(g.ttl))
	return err
}

// Claim 原子检查并写入
func (g *GormGuard) Claim(_ context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	now := g.now()
	created, err := g.repo.Insert(key, now.Add(g.ttl))
	if err != nil {
		return false, err
	}
	if created {
		return true, nil
	}
	return g.repo.TakeOverExpired(key, now, now.Add(g.ttl))
}

// Release 删除标记
func (g *GormGuard) Release(_ context.Context, key string) error {
	return g.repo.Delete(key)
}

// Purge 清理过期标记
func (g *GormGuard) Purge(_ context.Context) (int64, error) {
	return g.repo.PurgeExpired(g.now())
}
