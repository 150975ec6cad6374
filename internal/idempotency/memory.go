package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryGuard 进程内标记，仅用于本地开发与测试
type MemoryGuard struct {
	mu    sync.Mutex
	ttl   time.Duration
	items map[string]time.Time
	now   func() time.Time
}

// NewMemoryGuard 创建进程内标记
func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	return &MemoryGuard{
		ttl:   normalizeTTL(ttl),
		items: make(map[string]time.Time),
		now:   time.Now,
	}
}

// Seen 判断标记是否存在
func (g *MemoryGuard) Seen(_ context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.liveLocked(key), nil
}

// MarkSeen 写入标记
func (g *MemoryGuard) MarkSeen(_ context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.items[key] = g.now().Add(g.ttl)
	return nil
}

// Claim 原子检查并写入
func (g *MemoryGuard) Claim(_ context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.liveLocked(key) {
		return false, nil
	}
	g.items[key] = g.now().Add(g.ttl)
	return true, nil
}

// Release 删除标记
func (g *MemoryGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.items, key)
	return nil
}

func (g *MemoryGuard) liveLocked(key string) bool {
	expiresAt, ok := g.items[key]
	if !ok {
		return false
	}
	if !g.now().Before(expiresAt) {
		delete(g.items, key)
		return false
	}
	return true
}
