package service

import (
	"github.com/dujiao-next/reconciler/internal/models"
	"github.com/dujiao-next/reconciler/internal/queue"

	"go.uber.org/zap"
)

// TaskEnqueuer 异步任务投递，*queue.Client 实现该接口
type TaskEnqueuer interface {
	EnqueueOrderPaidNotify(payload queue.OrderPaidNotifyPayload) error
	EnqueueCommissionPayout(payload queue.CommissionPayoutPayload) error
}

// enqueueOrderPaidNotify 投递支付成功通知，失败只记录日志，不影响已提交的账本
func enqueueOrderPaidNotify(q TaskEnqueuer, order *models.Order, log *zap.SugaredLogger) bool {
	if q == nil || order == nil || order.ID == 0 {
		return false
	}
	if err := q.EnqueueOrderPaidNotify(queue.OrderPaidNotifyPayload{
		OrderID: order.ID,
		OrderNo: order.OrderNo,
	}); err != nil {
		log.Warnw("order_paid_notify_enqueue_failed", "order_id", order.ID, "error", err)
		return false
	}
	return true
}

// enqueueCommissionPayout 投递单笔佣金打款，失败时由对账巡检兜底
func enqueueCommissionPayout(q TaskEnqueuer, commissionID uint, trigger string, log *zap.SugaredLogger) bool {
	if q == nil || commissionID == 0 {
		return false
	}
	if err := q.EnqueueCommissionPayout(queue.CommissionPayoutPayload{
		CommissionID: commissionID,
		Trigger:      trigger,
	}); err != nil {
		log.Warnw("commission_payout_enqueue_failed", "commission_id", commissionID, "error", err)
		return false
	}
	return true
}
