package queue

import (
	"strings"
	"time"

	"github.com/dujiao-next/reconciler/internal/config"
	"github.com/dujiao-next/reconciler/internal/constants"

	"github.com/hibiken/asynq"
)

// NewScheduler 创建周期任务调度器，按 cron 投递对账巡检；cron 为空时返回 nil
func NewScheduler(queueCfg *config.QueueConfig, reconcileCfg config.ReconcileConfig) (*asynq.Scheduler, error) {
	spec := strings.TrimSpace(reconcileCfg.Cron)
	if queueCfg == nil || !queueCfg.Enabled || spec == "" {
		return nil, nil
	}
	scheduler := asynq.NewScheduler(buildRedisOpt(queueCfg), &asynq.SchedulerOpts{Location: time.UTC})
	task, err := NewReconcileSweepTask(ReconcileSweepPayload{Trigger: constants.PayoutTriggerSweep})
	if err != nil {
		return nil, err
	}
	if _, err := scheduler.Register(spec, task,
		asynq.Queue(DefaultQueue),
		asynq.MaxRetry(0),
		asynq.Unique(sweepUniqueWindow(spec)),
	); err != nil {
		return nil, err
	}
	return scheduler, nil
}

// sweepUniqueWindow "@every" 形式按间隔去重，其余 cron 表达式按 1 分钟去重
func sweepUniqueWindow(spec string) time.Duration {
	if d, ok := EveryInterval(spec); ok && d > time.Second {
		return d - time.Second
	}
	return time.Minute
}

// EveryInterval 解析 "@every <duration>" 形式的 cron
func EveryInterval(spec string) (time.Duration, bool) {
	spec = strings.TrimSpace(spec)
	if !strings.HasPrefix(spec, "@every ") {
		return 0, false
	}
	d, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(spec, "@every ")))
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}
