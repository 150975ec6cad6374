package service

import (
	"fmt"

	"github.com/dujiao-next/reconciler/internal/constants"
	"github.com/dujiao-next/reconciler/internal/models"
)

// OrderState 订单状态与支付状态组合
type OrderState struct {
	Status        string
	PaymentStatus string
}

func (s OrderState) String() string {
	return s.Status + "/" + s.PaymentStatus
}

// 订单事件
const (
	OrderEventPaid      = "paid"
	OrderEventFailed    = "failed"
	OrderEventCancelled = "cancelled"
	OrderEventRefunded  = "refunded"
)

var (
	orderStatePending   = OrderState{constants.OrderStatusPending, constants.PaymentStatusPending}
	orderStateCompleted = OrderState{constants.OrderStatusCompleted, constants.PaymentStatusPaid}
)

type orderTransition struct {
	from OrderState
	to   OrderState
}

// orderTransitions 合法状态迁移表，表外迁移一律拒绝
var orderTransitions = map[string]orderTransition{
	OrderEventPaid: {
		from: orderStatePending,
		to:   orderStateCompleted,
	},
	OrderEventFailed: {
		from: orderStatePending,
		to:   OrderState{constants.OrderStatusCancelled, constants.PaymentStatusFailed},
	},
	OrderEventCancelled: {
		from: orderStatePending,
		to:   OrderState{constants.OrderStatusCancelled, constants.PaymentStatusCancelled},
	},
	OrderEventRefunded: {
		from: orderStateCompleted,
		to:   OrderState{constants.OrderStatusRefunded, constants.PaymentStatusRefunded},
	},
}

func orderStateOf(order *models.Order) OrderState {
	if order == nil {
		return OrderState{}
	}
	return OrderState{Status: order.Status, PaymentStatus: order.PaymentStatus}
}

// resolveOrderTransition 返回目标状态；noop 表示订单已处于该事件对应的终态
func resolveOrderTransition(current OrderState, event string) (target OrderState, noop bool, err error) {
	transition, ok := orderTransitions[event]
	if !ok {
		return OrderState{}, false, fmt.Errorf("%w: unknown event %s", ErrOrderStatusInvalid, event)
	}
	if current.Status == transition.to.Status {
		return transition.to, true, nil
	}
	if current == transition.from {
		return transition.to, false, nil
	}
	if event == OrderEventRefunded && current == orderStatePending {
		return OrderState{}, false, fmt.Errorf("%w: %s", ErrOrderNotPaid, current)
	}
	return OrderState{}, false, fmt.Errorf("%w: %s on %s", ErrOrderStatusInvalid, event, current)
}
