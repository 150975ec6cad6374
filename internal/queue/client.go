package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/dujiao-next/reconciler/internal/config"
	"github.com/dujiao-next/reconciler/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// DefaultQueue 默认队列名称
	DefaultQueue = constants.QueueDefault
	// CriticalQueue 打款等资金相关任务队列
	CriticalQueue = constants.QueueCritical
)

// Client 队列客户端封装，未启用时所有入队操作为空操作
type Client struct {
	client       *asynq.Client
	enabled      bool
	defaultQueue string
}

// NewClient 创建队列客户端
func NewClient(cfg *config.QueueConfig) (*Client, error) {
	if cfg == nil || !cfg.Enabled {
		return &Client{enabled: false, defaultQueue: DefaultQueue}, nil
	}
	return &Client{
		client:       asynq.NewClient(buildRedisOpt(cfg)),
		enabled:      true,
		defaultQueue: DefaultQueue,
	}, nil
}

// Enabled 判断是否启用
func (c *Client) Enabled() bool {
	return c != nil && c.enabled && c.client != nil
}

// Close 关闭客户端
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueueOrderPaidNotify 推送订单支付通知任务
func (c *Client) EnqueueOrderPaidNotify(payload OrderPaidNotifyPayload) error {
	if !c.Enabled() {
		return nil
	}
	task, err := NewOrderPaidNotifyTask(payload)
	if err != nil {
		return err
	}
	_, err = c.client.Enqueue(task,
		asynq.Queue(c.defaultQueue),
		asynq.MaxRetry(5),
		asynq.TaskID(fmt.Sprintf("order-paid-%d", payload.OrderID)),
	)
	return ignoreConflict(err)
}

// EnqueueCommissionPayout 推送佣金打款任务，同一佣金在短时间内只排队一次
func (c *Client) EnqueueCommissionPayout(payload CommissionPayoutPayload) error {
	if !c.Enabled() {
		return nil
	}
	task, err := NewCommissionPayoutTask(payload)
	if err != nil {
		return err
	}
	_, err = c.client.Enqueue(task,
		asynq.Queue(CriticalQueue),
		asynq.MaxRetry(0),
		asynq.Unique(time.Minute),
	)
	return ignoreConflict(err)
}

// EnqueueReconcileSweep 推送一次对账巡检
func (c *Client) EnqueueReconcileSweep(payload ReconcileSweepPayload) error {
	if !c.Enabled() {
		return nil
	}
	task, err := NewReconcileSweepTask(payload)
	if err != nil {
		return err
	}
	_, err = c.client.Enqueue(task, asynq.Queue(c.defaultQueue), asynq.MaxRetry(0), asynq.Unique(time.Minute))
	return ignoreConflict(err)
}

func ignoreConflict(err error) error {
	if err == asynq.ErrDuplicateTask || err == asynq.ErrTaskIDConflict {
		return nil
	}
	return err
}

// BuildServerConfig 生成队列服务配置
func BuildServerConfig(cfg *config.QueueConfig) (asynq.RedisClientOpt, asynq.Config) {
	opt := buildRedisOpt(cfg)
	concurrency := 10
	if cfg != nil && cfg.Concurrency > 0 {
		concurrency = cfg.Concurrency
	}
	queues := map[string]int{CriticalQueue: 6, DefaultQueue: 3}
	if cfg != nil && len(cfg.Queues) > 0 {
		queues = cfg.Queues
	}
	return opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      queues,
	}
}

func buildRedisOpt(cfg *config.QueueConfig) asynq.RedisClientOpt {
	host := "127.0.0.1"
	port := 6379
	password := ""
	db := 0
	if cfg != nil {
		if strings.TrimSpace(cfg.Host) != "" {
			host = strings.TrimSpace(cfg.Host)
		}
		if cfg.Port > 0 {
			port = cfg.Port
		}
		password = cfg.Password
		db = cfg.DB
	}
	return asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	}
}
