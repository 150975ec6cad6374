package queue

import (
	"encoding/json"
	"fmt"

	"github.com/dujiao-next/reconciler/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// TaskOrderPaidNotify 订单支付成功通知任务
	TaskOrderPaidNotify = constants.TaskOrderPaidNotify
	// TaskCommissionPayout 单笔佣金打款任务
	TaskCommissionPayout = constants.TaskCommissionPayout
	// TaskReconcileSweep 对账巡检任务
	TaskReconcileSweep = constants.TaskReconcileSweep
)

// OrderPaidNotifyPayload 订单支付通知载荷
type OrderPaidNotifyPayload struct {
	OrderID uint   `json:"order_id"`
	OrderNo string `json:"order_no"`
}

// CommissionPayoutPayload 佣金打款载荷
type CommissionPayoutPayload struct {
	CommissionID uint   `json:"commission_id"`
	Trigger      string `json:"trigger"`
}

// ReconcileSweepPayload 对账巡检载荷
type ReconcileSweepPayload struct {
	Trigger string `json:"trigger"`
}

// NewOrderPaidNotifyTask 创建订单支付通知任务
func NewOrderPaidNotifyTask(payload OrderPaidNotifyPayload) (*asynq.Task, error) {
	return newJSONTask(TaskOrderPaidNotify, payload)
}

// NewCommissionPayoutTask 创建佣金打款任务
func NewCommissionPayoutTask(payload CommissionPayoutPayload) (*asynq.Task, error) {
	return newJSONTask(TaskCommissionPayout, payload)
}

// NewReconcileSweepTask 创建对账巡检任务
func NewReconcileSweepTask(payload ReconcileSweepPayload) (*asynq.Task, error) {
	return newJSONTask(TaskReconcileSweep, payload)
}

// DecodePayload 解析任务载荷
func DecodePayload(task *asynq.Task, out interface{}) error {
	if task == nil {
		return fmt.Errorf("nil task")
	}
	if err := json.Unmarshal(task.Payload(), out); err != nil {
		return fmt.Errorf("decode %s payload: %w", task.Type(), err)
	}
	return nil
}

func newJSONTask(taskType string, payload interface{}) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, body), nil
}
