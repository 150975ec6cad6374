package worker

import (
	"context"
	"errors"
	"strings"

	"github.com/dujiao-next/reconciler/internal/constants"
	"github.com/dujiao-next/reconciler/internal/logger"
	"github.com/dujiao-next/reconciler/internal/provider"
	"github.com/dujiao-next/reconciler/internal/queue"
	"github.com/dujiao-next/reconciler/internal/service"

	"github.com/hibiken/asynq"
)

// Consumer 异步任务消费者
type Consumer struct {
	*provider.Container
}

// NewConsumer 创建消费者
func NewConsumer(c *provider.Container) *Consumer {
	return &Consumer{
		Container: c,
	}
}

// Register 注册消费者
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskOrderPaidNotify, c.handleOrderPaidNotify)
	mux.HandleFunc(queue.TaskCommissionPayout, c.handleCommissionPayout)
	mux.HandleFunc(queue.TaskReconcileSweep, c.handleReconcileSweep)
}

func (c *Consumer) handleOrderPaidNotify(_ context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_order_paid_notify_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.OrderPaidNotifyPayload
	if err := queue.DecodePayload(task, &payload); err != nil {
		logger.Warnw("worker_order_paid_notify_unmarshal_failed", "error", err)
		return err
	}
	if payload.OrderID == 0 {
		logger.Debugw("worker_order_paid_notify_skip_invalid_payload", "order_id", payload.OrderID)
		return nil
	}
	order, err := c.OrderRepo.GetByID(payload.OrderID)
	if err != nil {
		logger.Warnw("worker_order_paid_notify_fetch_order_failed", "order_id", payload.OrderID, "error", err)
		return err
	}
	if order == nil {
		logger.Debugw("worker_order_paid_notify_skip_order_not_found", "order_id", payload.OrderID)
		return nil
	}
	logger.Infow("order_paid",
		"order_id", order.ID,
		"order_no", order.OrderNo,
		"provider", order.Provider,
		"total_amount", order.TotalAmount.StringFixed(2),
		"currency", order.Currency,
		"affiliate_profile_id", order.AffiliateProfileID,
	)
	return nil
}

func (c *Consumer) handleCommissionPayout(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_commission_payout_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.CommissionPayoutPayload
	if err := queue.DecodePayload(task, &payload); err != nil {
		logger.Warnw("worker_commission_payout_unmarshal_failed", "error", err)
		return err
	}
	if payload.CommissionID == 0 {
		logger.Debugw("worker_commission_payout_skip_invalid_payload", "commission_id", payload.CommissionID)
		return nil
	}
	if c.PayoutEngine == nil {
		logger.Warnw("worker_commission_payout_skip_engine_nil", "commission_id", payload.CommissionID)
		return nil
	}
	trigger := strings.TrimSpace(payload.Trigger)
	if trigger == "" {
		trigger = constants.PayoutTriggerTask
	}
	outcome, err := c.PayoutEngine.PayCommission(ctx, payload.CommissionID, trigger)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrCommissionNotFound):
			logger.Debugw("worker_commission_payout_skip_not_found", "commission_id", payload.CommissionID)
			return nil
		case errors.Is(err, service.ErrAffiliateNotFound):
			logger.Warnw("worker_commission_payout_skip_affiliate_missing", "commission_id", payload.CommissionID)
			return nil
		default:
			logger.Warnw("worker_commission_payout_failed", "commission_id", payload.CommissionID, "error", err)
			return err
		}
	}
	logger.Debugw("worker_commission_payout_done",
		"commission_id", payload.CommissionID,
		"result", outcome.Result,
		"attempt", outcome.Attempt,
		"reason", outcome.Reason,
	)
	return nil
}

func (c *Consumer) handleReconcileSweep(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_reconcile_sweep_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	var payload queue.ReconcileSweepPayload
	if err := queue.DecodePayload(task, &payload); err != nil {
		logger.Warnw("worker_reconcile_sweep_unmarshal_failed", "error", err)
		return err
	}
	if c.ReconcileService == nil {
		logger.Warnw("worker_reconcile_sweep_skip_service_nil")
		return nil
	}
	trigger := strings.TrimSpace(payload.Trigger)
	if trigger == "" {
		trigger = constants.PayoutTriggerSweep
	}
	if _, err := c.ReconcileService.Run(ctx, trigger); err != nil {
		if errors.Is(err, service.ErrReconcileSecretMissing) {
			// 未配置密钥时重试无意义
			return nil
		}
		logger.Warnw("worker_reconcile_sweep_failed", "trigger", trigger, "error", err)
		return err
	}
	return nil
}
