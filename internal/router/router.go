package router

import (
	"context"
	"net/http"
	"time"

	"github.com/dujiao-next/reconciler/internal/cache"
	"github.com/dujiao-next/reconciler/internal/config"
	"github.com/dujiao-next/reconciler/internal/http/handlers"
	"github.com/dujiao-next/reconciler/internal/logger"
	"github.com/dujiao-next/reconciler/internal/provider"

	"github.com/gin-gonic/gin"
)

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	log := logger.L
	if log == nil {
		log = logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	}
	r := gin.New()

	h := handlers.New(c)
	redisClient := cache.Client()
	prefix := cache.BuildKey(cache.Prefix(), "rate")
	webhookRule := NewRateLimitRule(prefix+":webhook", cfg.Security.WebhookRateLimit)
	reconcileRule := NewRateLimitRule(prefix+":reconcile", cfg.Security.ReconcileRateLimit)

	// 中间件
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware(cfg.CORS))

	r.GET("/healthz", healthHandler(c))

	apiV1 := r.Group("/api/v1")
	{
		apiV1.POST("/webhooks/:provider", RateLimitMiddleware(redisClient, webhookRule, KeyByParamAndIP("provider")), h.Webhook)

		reconcile := apiV1.Group("/reconcile")
		reconcile.Use(RateLimitMiddleware(redisClient, reconcileRule, KeyByIP))
		reconcile.Use(ReconcileAuthMiddleware(c.ReconcileService))
		{
			reconcile.POST("/payouts", h.RunPayoutSweep)
			reconcile.GET("/commissions", h.ListCommissions)
			reconcile.POST("/commissions/:id/approve", h.ApproveCommission)
			reconcile.POST("/commissions/:id/pay", h.PayCommission)
			reconcile.POST("/commissions/:id/mark-paid", h.MarkCommissionPaid)
		}
	}

	return r
}

// healthHandler 检查数据库与 Redis 连通性
func healthHandler(c *provider.Container) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		checkCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
		defer cancel()
		status := gin.H{"database": "ok", "redis": "disabled"}
		healthy := true
		if c.DB != nil {
			sqlDB, err := c.DB.DB()
			if err == nil {
				err = sqlDB.PingContext(checkCtx)
			}
			if err != nil {
				status["database"] = err.Error()
				healthy = false
			}
		}
		if cache.Enabled() {
			status["redis"] = "ok"
			if err := cache.Ping(checkCtx); err != nil {
				// Redis 故障时幂等标记回落到数据库，不影响可用性
				status["redis"] = err.Error()
			}
		}
		status["reconcile_configured"] = c.ReconcileService != nil && c.ReconcileService.Configured()
		code := http.StatusOK
		if !healthy {
			code = http.StatusServiceUnavailable
		}
		ctx.JSON(code, status)
	}
}
