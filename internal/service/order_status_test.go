package service

import (
	"errors"
	"testing"

	"github.com/dujiao-next/reconciler/internal/constants"
)

func TestResolveOrderTransition(t *testing.T) {
	cancelled := OrderState{constants.OrderStatusCancelled, constants.PaymentStatusCancelled}
	failed := OrderState{constants.OrderStatusCancelled, constants.PaymentStatusFailed}
	refunded := OrderState{constants.OrderStatusRefunded, constants.PaymentStatusRefunded}

	cases := []struct {
		name    string
		current OrderState
		event   string
		target  OrderState
		noop    bool
		err     error
	}{
		{"pending paid", orderStatePending, OrderEventPaid, orderStateCompleted, false, nil},
		{"pending failed", orderStatePending, OrderEventFailed, failed, false, nil},
		{"pending cancelled", orderStatePending, OrderEventCancelled, cancelled, false, nil},
		{"completed refunded", orderStateCompleted, OrderEventRefunded, refunded, false, nil},
		{"completed paid again", orderStateCompleted, OrderEventPaid, orderStateCompleted, true, nil},
		{"failed then cancelled", failed, OrderEventCancelled, cancelled, true, nil},
		{"refunded again", refunded, OrderEventRefunded, refunded, true, nil},
		{"cancelled paid", cancelled, OrderEventPaid, OrderState{}, false, ErrOrderStatusInvalid},
		{"refunded paid", refunded, OrderEventPaid, OrderState{}, false, ErrOrderStatusInvalid},
		{"completed cancelled", orderStateCompleted, OrderEventCancelled, OrderState{}, false, ErrOrderStatusInvalid},
		{"cancelled refunded", cancelled, OrderEventRefunded, OrderState{}, false, ErrOrderStatusInvalid},
		{"pending refunded", orderStatePending, OrderEventRefunded, OrderState{}, false, ErrOrderNotPaid},
		{"unknown event", orderStatePending, "chargeback", OrderState{}, false, ErrOrderStatusInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			target, noop, err := resolveOrderTransition(tc.current, tc.event)
			if tc.err != nil {
				if !errors.Is(err, tc.err) {
					t.Fatalf("expected %v, got %v", tc.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if target != tc.target || noop != tc.noop {
				t.Fatalf("want %s noop=%v, got %s noop=%v", tc.target, tc.noop, target, noop)
			}
		})
	}
}
