package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dujiao-next/reconciler/internal/gateway"
	"github.com/dujiao-next/reconciler/internal/idempotency"
	"github.com/dujiao-next/reconciler/internal/logger"
	"github.com/dujiao-next/reconciler/internal/metrics"
	"github.com/dujiao-next/reconciler/internal/telemetry"

	"go.opentelemetry.io/otel/attribute"
)

// 回调处理结果
const (
	WebhookResultProcessed = "processed"
	WebhookResultDuplicate = "duplicate"
	WebhookResultIgnored   = "ignored"
	WebhookResultRejected  = "rejected"
	WebhookResultFailed    = "failed"
	WebhookResultInvalid   = "invalid"
)

// WebhookInput 原始回调请求
type WebhookInput struct {
	Provider string
	Headers  http.Header
	Body     []byte
}

// WebhookDispatchResult 回调处理结果
type WebhookDispatchResult struct {
	Provider string `json:"provider"`
	EventID  string `json:"event_id"`
	Kind     string `json:"kind"`
	Result   string `json:"result"`
	OrderNo  string `json:"order_no,omitempty"`
	Changed  bool   `json:"changed"`
}

// PaymentEventHandler 订单账本中处理支付事件的部分
type PaymentEventHandler interface {
	ApproveAndComplete(ctx context.Context, ev PaymentEvent) (*TransitionResult, error)
	CompletePayment(ctx context.Context, ev PaymentEvent) (*TransitionResult, error)
	FailPayment(ctx context.Context, ev PaymentEvent) (*TransitionResult, error)
	CancelPayment(ctx context.Context, ev PaymentEvent) (*TransitionResult, error)
	RefundPayment(ctx context.Context, ev PaymentEvent) (*TransitionResult, error)
}

// WebhookDispatcher 回调分发：验签、事件去重、按类型路由到订单账本
type WebhookDispatcher struct {
	gateways *gateway.Registry
	guard    idempotency.Guard
	ledger   PaymentEventHandler
	metrics  *metrics.Metrics
}

// NewWebhookDispatcher 创建回调分发器
func NewWebhookDispatcher(gateways *gateway.Registry, guard idempotency.Guard, ledger PaymentEventHandler, m *metrics.Metrics) *WebhookDispatcher {
	return &WebhookDispatcher{
		gateways: gateways,
		guard:    guard,
		ledger:   ledger,
		metrics:  m,
	}
}

// Dispatch 处理一次回调投递
func (d *WebhookDispatcher) Dispatch(ctx context.Context, input WebhookInput) (result *WebhookDispatchResult, err error) {
	provider := strings.ToLower(strings.TrimSpace(input.Provider))
	ctx, span := telemetry.StartSpan(ctx, "webhook.dispatch", attribute.String("webhook.provider", provider))
	defer func() { telemetry.EndSpan(span, err) }()
	log := ledgerLogger(ctx, "provider", provider)

	gw, err := d.gateways.Get(provider)
	if err != nil {
		log.Warnw("webhook_provider_unknown")
		return nil, fmt.Errorf("%w: %s", ErrGatewayNotFound, provider)
	}

	event, err := gw.ParseWebhook(ctx, input.Headers, input.Body)
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrSignatureInvalid):
			log.Warnw("webhook_signature_invalid", "error", err)
			d.metrics.RecordWebhookEvent(ctx, provider, "", WebhookResultInvalid)
			return nil, fmt.Errorf("%w: %v", ErrWebhookSignatureInvalid, err)
		case errors.Is(err, gateway.ErrPayloadInvalid):
			log.Warnw("webhook_payload_invalid", "error", err)
			d.metrics.RecordWebhookEvent(ctx, provider, "", WebhookResultInvalid)
			return nil, fmt.Errorf("%w: %v", ErrWebhookPayloadInvalid, err)
		default:
			log.Errorw("webhook_parse_failed", "error", err)
			d.metrics.RecordWebhookEvent(ctx, provider, "", WebhookResultFailed)
			return nil, fmt.Errorf("%w: %v", ErrGatewayRequestFailed, err)
		}
	}
	eventID := strings.TrimSpace(event.EventID)
	if eventID == "" {
		log.Warnw("webhook_event_id_missing", "raw_type", event.RawType)
		d.metrics.RecordWebhookEvent(ctx, provider, event.Kind, WebhookResultInvalid)
		return nil, fmt.Errorf("%w: event id missing", ErrWebhookPayloadInvalid)
	}
	key := provider + ":" + eventID
	// 账本日志通过 ctx 关联到本次投递
	ctx = logger.WithFields(ctx, "webhook_key", key)
	telemetry.AddSpanAttributes(span,
		attribute.String("webhook.event_id", eventID),
		attribute.String("webhook.kind", event.Kind),
	)
	log = log.With("event_id", eventID, "kind", event.Kind, "raw_type", event.RawType)
	result = &WebhookDispatchResult{
		Provider: provider,
		EventID:  eventID,
		Kind:     event.Kind,
		OrderNo:  event.OrderNo,
	}

	claimed, err := d.guard.Claim(ctx, key)
	if err != nil {
		log.Errorw("webhook_idempotency_unavailable", "error", err)
		d.metrics.RecordWebhookEvent(ctx, provider, event.Kind, WebhookResultFailed)
		return nil, fmt.Errorf("%w: %v", ErrIdempotencyUnavailable, err)
	}
	if !claimed {
		log.Infow("webhook_event_duplicate")
		result.Result = WebhookResultDuplicate
		d.metrics.RecordWebhookEvent(ctx, provider, event.Kind, result.Result)
		return result, nil
	}

	transition, err := d.route(ctx, event)
	switch {
	case err == nil:
	case errors.Is(err, ErrOrderStatusInvalid):
		// 非法迁移视为已受理，重投也不会改变结果
		log.Warnw("webhook_transition_rejected", "error", err)
		result.Result = WebhookResultRejected
		d.metrics.RecordWebhookEvent(ctx, provider, event.Kind, result.Result)
		return result, nil
	default:
		if releaseErr := d.guard.Release(context.WithoutCancel(ctx), key); releaseErr != nil {
			log.Errorw("webhook_claim_release_failed", "error", releaseErr)
		}
		log.Warnw("webhook_handle_failed", "error", err)
		d.metrics.RecordWebhookEvent(ctx, provider, event.Kind, WebhookResultFailed)
		return nil, err
	}

	if transition == nil {
		result.Result = WebhookResultIgnored
		log.Infow("webhook_event_ignored")
	} else {
		result.Result = WebhookResultProcessed
		result.Changed = transition.Changed
		if transition.Order != nil {
			result.OrderNo = transition.Order.OrderNo
		}
		log.Infow("webhook_event_processed", "order_no", result.OrderNo, "changed", result.Changed)
	}
	telemetry.AddSpanAttributes(span, attribute.String("webhook.result", result.Result))
	d.metrics.RecordWebhookEvent(ctx, provider, event.Kind, result.Result)
	return result, nil
}

// route 未识别的事件类型返回 nil, nil
func (d *WebhookDispatcher) route(ctx context.Context, event *gateway.Event) (*TransitionResult, error) {
	ev := PaymentEventFromGateway(event)
	switch event.Kind {
	case gateway.KindOrderApproved:
		return d.ledger.ApproveAndComplete(ctx, ev)
	case gateway.KindPaymentCompleted:
		return d.ledger.CompletePayment(ctx, ev)
	case gateway.KindPaymentFailed:
		return d.ledger.FailPayment(ctx, ev)
	case gateway.KindPaymentCancelled:
		return d.ledger.CancelPayment(ctx, ev)
	case gateway.KindPaymentRefunded:
		return d.ledger.RefundPayment(ctx, ev)
	default:
		return nil, nil
	}
}
