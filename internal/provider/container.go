package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/dujiao-next/reconciler/internal/cache"
	"github.com/dujiao-next/reconciler/internal/config"
	"github.com/dujiao-next/reconciler/internal/gateway"
	"github.com/dujiao-next/reconciler/internal/idempotency"
	"github.com/dujiao-next/reconciler/internal/logger"
	"github.com/dujiao-next/reconciler/internal/metrics"
	"github.com/dujiao-next/reconciler/internal/queue"
	"github.com/dujiao-next/reconciler/internal/repository"
	"github.com/dujiao-next/reconciler/internal/service"
	"github.com/dujiao-next/reconciler/internal/telemetry"

	"gorm.io/gorm"
)

const (
	webhookGuardPrefix = "webhook"
	payoutLeasePrefix  = "lease"
)

// Container 依赖注入容器
type Container struct {
	Config      *config.Config
	DB          *gorm.DB
	QueueClient *queue.Client
	Telemetry   *telemetry.Telemetry
	Metrics     *metrics.Metrics
	Gateways    *gateway.Registry

	// Repositories
	OrderRepo        repository.OrderRepository
	CouponRepo       repository.CouponRepository
	AffiliateRepo    repository.AffiliateRepository
	CommissionRepo   repository.CommissionRepository
	WebhookEventRepo repository.WebhookEventRepository

	// 幂等标记
	WebhookGuard idempotency.Guard
	PayoutLease  idempotency.Guard
	MarkerStore  *idempotency.GormGuard

	// Services
	CommissionService *service.CommissionService
	OrderLedger       *service.OrderLedger
	PayoutEngine      *service.PayoutEngine
	WebhookDispatcher *service.WebhookDispatcher
	ReconcileService  *service.ReconcileService
}

// NewContainer 初始化容器
func NewContainer(ctx context.Context, cfg *config.Config, db *gorm.DB) (*Container, error) {
	if cfg == nil || db == nil {
		return nil, fmt.Errorf("config and db are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// 初始化缓存
	if err := cache.InitRedis(&cfg.Redis); err != nil {
		logger.Warnw("provider_init_redis_failed", "error", err)
	}

	queueClient, err := queue.NewClient(&cfg.Queue)
	if err != nil {
		return nil, fmt.Errorf("init queue client: %w", err)
	}

	tel, err := telemetry.Initialize(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	m, err := metrics.NewMetrics(tel.Meter())
	if err != nil {
		logger.Warnw("provider_init_metrics_failed", "error", err)
		m = metrics.NewNoop()
	}

	registry, err := gateway.BuildRegistry(cfg.Gateways)
	if err != nil {
		return nil, err
	}
	logger.Infow("provider_gateways_registered", "gateways", registry.Names())

	c := &Container{
		Config:      cfg,
		DB:          db,
		QueueClient: queueClient,
		Telemetry:   tel,
		Metrics:     m,
		Gateways:    registry,
	}

	// 1. 初始化 Repositories
	c.initRepositories()

	// 2. 初始化幂等标记
	c.initGuards()

	// 3. 初始化 Services
	c.initServices()

	return c, nil
}

func (c *Container) initRepositories() {
	db := c.DB
	c.OrderRepo = repository.NewOrderRepository(db)
	c.CouponRepo = repository.NewCouponRepository(db)
	c.AffiliateRepo = repository.NewAffiliateRepository(db)
	c.CommissionRepo = repository.NewCommissionRepository(db)
	c.WebhookEventRepo = repository.NewWebhookEventRepository(db)
}

func (c *Container) initGuards() {
	cfg := c.Config
	markerTTL := time.Duration(cfg.Idempotency.TTLSeconds) * time.Second
	leaseTTL := time.Duration(cfg.Payout.LeaseSeconds) * time.Second
	c.MarkerStore = idempotency.NewGormGuard(c.WebhookEventRepo, markerTTL)

	switch cfg.Idempotency.Driver {
	case "memory":
		c.WebhookGuard = idempotency.NewMemoryGuard(markerTTL)
		c.PayoutLease = idempotency.NewMemoryGuard(leaseTTL)
	case "redis":
		if client := cache.Client(); client != nil {
			prefix := cache.Prefix()
			c.WebhookGuard = idempotency.NewFallbackGuard(
				idempotency.NewRedisGuard(client, cache.BuildKey(prefix, webhookGuardPrefix), markerTTL),
				c.MarkerStore,
			)
			c.PayoutLease = idempotency.NewFallbackGuard(
				idempotency.NewRedisGuard(client, cache.BuildKey(prefix, payoutLeasePrefix), leaseTTL),
				idempotency.NewGormGuard(c.WebhookEventRepo, leaseTTL),
			)
			return
		}
		logger.Warnw("provider_idempotency_redis_unavailable", "fallback", "database")
		fallthrough
	default:
		c.WebhookGuard = c.MarkerStore
		c.PayoutLease = idempotency.NewGormGuard(c.WebhookEventRepo, leaseTTL)
	}
}

func (c *Container) initServices() {
	cfg := c.Config
	c.CommissionService = service.NewCommissionService(c.CommissionRepo, c.AffiliateRepo, c.OrderRepo, c.QueueClient, cfg.Commission, cfg.Payout)
	c.OrderLedger = service.NewOrderLedger(c.OrderRepo, c.CouponRepo, c.AffiliateRepo, c.CommissionService, c.Gateways, c.QueueClient, cfg.Payout)
	c.PayoutEngine = service.NewPayoutEngine(c.CommissionRepo, c.AffiliateRepo, c.OrderRepo, c.Gateways, c.PayoutLease, c.Metrics, cfg.Payout)
	c.WebhookDispatcher = service.NewWebhookDispatcher(c.Gateways, c.WebhookGuard, c.OrderLedger, c.Metrics)
	c.ReconcileService = service.NewReconcileService(c.AffiliateRepo, c.PayoutEngine, c.Gateways, c.Metrics, cfg.Reconcile, cfg.Payout)
	if !c.ReconcileService.Configured() {
		logger.Warnw("provider_reconcile_secret_missing", "effect", "payout sweeps are disabled")
	}
}

// Close 释放外部连接
func (c *Container) Close(ctx context.Context) {
	if c == nil {
		return
	}
	if err := c.QueueClient.Close(); err != nil {
		logger.Warnw("provider_close_queue_client_failed", "error", err)
	}
	if err := cache.Close(); err != nil {
		logger.Warnw("provider_close_redis_failed", "error", err)
	}
	if c.Telemetry != nil {
		if err := c.Telemetry.Shutdown(ctx); err != nil {
			logger.Warnw("provider_shutdown_telemetry_failed", "error", err)
		}
	}
}
