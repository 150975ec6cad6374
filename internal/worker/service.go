package worker

import (
	"context"
	"errors"
	"time"

	"github.com/dujiao-next/reconciler/internal/config"
	"github.com/dujiao-next/reconciler/internal/constants"
	"github.com/dujiao-next/reconciler/internal/logger"
	"github.com/dujiao-next/reconciler/internal/queue"

	"github.com/hibiken/asynq"
)

const (
	defaultApproveInterval = 5 * time.Minute
	defaultPurgeInterval   = 10 * time.Minute
)

// Service 异步队列服务
type Service struct {
	name      string
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	consumer  *Consumer
}

// NewService 创建异步队列服务
func NewService(cfg *config.QueueConfig, consumer *Consumer) (*Service, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, errors.New("queue disabled")
	}
	if consumer == nil || consumer.Container == nil {
		return nil, errors.New("consumer is nil")
	}
	opt, serverCfg := queue.BuildServerConfig(cfg)
	server := asynq.NewServer(opt, serverCfg)
	mux := asynq.NewServeMux()
	consumer.Register(mux)
	scheduler, err := queue.NewScheduler(cfg, consumer.Config.Reconcile)
	if err != nil {
		return nil, err
	}
	return &Service{
		name:      "worker",
		server:    server,
		mux:       mux,
		scheduler: scheduler,
		consumer:  consumer,
	}, nil
}

// Name 服务名称
func (s *Service) Name() string {
	if s == nil || s.name == "" {
		return "worker"
	}
	return s.name
}

// Start 启动服务
func (s *Service) Start(ctx context.Context) error {
	if s == nil || s.server == nil || s.mux == nil {
		return errors.New("worker not initialized")
	}
	if s.scheduler != nil {
		if err := s.scheduler.Start(); err != nil {
			return err
		}
	}
	s.consumer.StartLoops(ctx)
	return s.server.Run(s.mux)
}

// Stop 停止服务
func (s *Service) Stop(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	_ = ctx
	if s.scheduler != nil {
		s.scheduler.Shutdown()
	}
	s.server.Shutdown()
	return nil
}

// StartLoops 启动佣金自动审核与幂等标记清理循环，ctx 取消后退出
func (c *Consumer) StartLoops(ctx context.Context) {
	if c == nil || c.Container == nil {
		return
	}
	if c.CommissionService != nil && c.Config.Commission.AutoApprove {
		go runEvery(ctx, secondsOr(c.Config.Commission.ApproveIntervalSeconds, defaultApproveInterval), c.approveDueCommissions)
	}
	if c.MarkerStore != nil {
		go runEvery(ctx, secondsOr(c.Config.Idempotency.PurgeIntervalSeconds, defaultPurgeInterval), c.purgeMarkers)
	}
}

func (c *Consumer) approveDueCommissions(ctx context.Context) {
	affected, err := c.CommissionService.ApproveDue(ctx, time.Now())
	if err != nil {
		logger.Warnw("worker_commission_approve_due_failed", "error", err)
		return
	}
	if affected > 0 {
		logger.Infow("worker_commission_approve_due_done", "affected", affected)
	}
}

func (c *Consumer) purgeMarkers(ctx context.Context) {
	removed, err := c.MarkerStore.Purge(ctx)
	if err != nil {
		logger.Warnw("worker_idempotency_purge_failed", "error", err)
		return
	}
	if removed > 0 {
		logger.Debugw("worker_idempotency_purge_done", "removed", removed)
	}
}

func runEvery(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	fn(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func secondsOr(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// LoopService 队列未启用时仅运行后台循环
type LoopService struct {
	consumer *Consumer
}

// NewLoopService 创建后台循环服务
func NewLoopService(consumer *Consumer) *LoopService {
	return &LoopService{consumer: consumer}
}

// Name 服务名称
func (s *LoopService) Name() string { return "loops" }

// Start 启动循环并阻塞到 ctx 取消
func (s *LoopService) Start(ctx context.Context) error {
	if s == nil || s.consumer == nil {
		return errors.New("loop service not initialized")
	}
	s.consumer.StartLoops(ctx)
	s.consumer.startSweepLoop(ctx)
	<-ctx.Done()
	return nil
}

// startSweepLoop 无调度器时按 "@every" 间隔在进程内执行巡检
func (c *Consumer) startSweepLoop(ctx context.Context) {
	if c == nil || c.Container == nil || c.ReconcileService == nil || !c.ReconcileService.Configured() {
		return
	}
	interval, ok := queue.EveryInterval(c.Config.Reconcile.Cron)
	if !ok {
		logger.Warnw("worker_sweep_loop_skip_cron", "cron", c.Config.Reconcile.Cron)
		return
	}
	go runEvery(ctx, interval, c.runSweep)
}

func (c *Consumer) runSweep(ctx context.Context) {
	summary, err := c.ReconcileService.Run(ctx, constants.PayoutTriggerSweep)
	if err != nil {
		logger.Warnw("worker_sweep_loop_failed", "error", err)
		return
	}
	logger.Infow("worker_sweep_loop_done",
		"processed", summary.Processed,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
	)
}

// Stop 停止服务
func (s *LoopService) Stop(context.Context) error { return nil }
