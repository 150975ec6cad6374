package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/dujiao-next/reconciler/internal/config"
	"github.com/dujiao-next/reconciler/internal/logger"
	"github.com/dujiao-next/reconciler/internal/models"
	"github.com/dujiao-next/reconciler/internal/provider"
	"github.com/dujiao-next/reconciler/internal/router"
	"github.com/dujiao-next/reconciler/internal/worker"

	gormlogger "gorm.io/gorm/logger"
)

// closerService 随 Runner 停止时释放容器资源
type closerService struct {
	container *provider.Container
}

func (s *closerService) Name() string { return "container" }

func (s *closerService) Start(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (s *closerService) Stop(ctx context.Context) error {
	s.container.Close(ctx)
	return nil
}

// BuildContainer 打开数据库、执行迁移并初始化依赖容器
func BuildContainer(ctx context.Context, cfg *config.Config) (*provider.Container, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	db, err := models.OpenDB(cfg.Database.Driver, cfg.Database.DSN, models.DBPoolConfig{
		MaxOpenConns:           cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:           cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: cfg.Database.Pool.ConnMaxLifetimeSeconds,
		ConnMaxIdleTimeSeconds: cfg.Database.Pool.ConnMaxIdleTimeSeconds,
	}, gormlogger.Warn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := models.MigrateDB(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	models.DB = db
	return provider.NewContainer(ctx, cfg, db)
}

// BuildRunner 构建服务运行器
func BuildRunner(ctx context.Context, cfg *config.Config, mode string) (*Runner, error) {
	mode, err := ParseMode(mode)
	if err != nil {
		return nil, err
	}
	container, err := BuildContainer(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var services []Service

	// 初始化 HTTP 服务
	if mode == ModeAll || mode == ModeAPI {
		engine := router.SetupRouter(cfg, container)
		addr := cfg.Server.Host + ":" + cfg.Server.Port
		services = append(services, NewHTTPService(addr, engine))
	}

	// 初始化 Worker 服务，队列关闭时只跑后台循环
	if mode == ModeAll || mode == ModeWorker {
		consumer := worker.NewConsumer(container)
		if cfg.Queue.Enabled {
			workerService, err := worker.NewService(&cfg.Queue, consumer)
			if err != nil {
				container.Close(ctx)
				return nil, err
			}
			services = append(services, workerService)
		} else {
			logger.Warnw("app_queue_disabled", "effect", "payouts wait for reconcile sweeps")
			services = append(services, worker.NewLoopService(consumer))
		}
	}

	if len(services) == 0 {
		container.Close(ctx)
		return nil, fmt.Errorf("no services initialized for mode %q", mode)
	}
	services = append(services, &closerService{container: container})

	return NewRunner(services...), nil
}

// Run 应用启动入口
func Run(opts Options) error {
	opts = normalizeOptions(opts)
	if opts.Config == nil {
		return errors.New("config is nil")
	}

	runner, err := BuildRunner(context.Background(), opts.Config, opts.Mode)
	if err != nil {
		return err
	}

	addr := opts.Config.Server.Host + ":" + opts.Config.Server.Port
	opts.Logger.Infow("app_start", "addr", addr, "mode", opts.Mode)
	return RunWithOptions(runner, opts)
}
