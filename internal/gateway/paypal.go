package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/dujiao-next/reconciler/internal/constants"
	"github.com/dujiao-next/reconciler/internal/payment/paypal"
)

var paypalErrorRules = []errorRule{
	{from: paypal.ErrWebhookVerifyFailed, to: ErrSignatureInvalid},
	{from: paypal.ErrConfigInvalid, to: ErrConfigInvalid},
	{from: paypal.ErrResponseInvalid, to: ErrRejected},
	{from: paypal.ErrAuthFailed, to: ErrRequestFailed},
	{from: paypal.ErrRequestFailed, to: ErrRequestFailed},
}

// PaypalGateway PayPal Orders v2 + Payouts 适配
type PaypalGateway struct {
	cfg *paypal.Config
}

// NewPaypal 创建 PayPal 网关
func NewPaypal(cfg *paypal.Config) *PaypalGateway {
	return &PaypalGateway{cfg: cfg}
}

func (g *PaypalGateway) Name() string { return constants.GatewayPaypal }

func (g *PaypalGateway) CreateCharge(ctx context.Context, input ChargeInput) (*ChargeResult, error) {
	result, err := paypal.CreateOrder(ctx, g.cfg, paypal.CreateInput{
		OrderNo:     input.OrderNo,
		Amount:      input.Amount,
		Currency:    input.Currency,
		Description: input.Description,
		RequestID:   input.IdempotencyKey,
	})
	if err != nil {
		return nil, translate(err, paypalErrorRules)
	}
	return &ChargeResult{
		ProviderRef: result.OrderID,
		PayURL:      result.ApprovalURL,
		Status:      paypalOrderStatus(result.Status),
	}, nil
}

func (g *PaypalGateway) Capture(ctx context.Context, providerRef, idempotencyKey string) (*StatusResult, error) {
	result, err := paypal.CaptureOrder(ctx, g.cfg, providerRef, idempotencyKey)
	if err != nil {
		return nil, translate(err, paypalErrorRules)
	}
	return paypalStatusResult(result), nil
}

func (g *PaypalGateway) GetStatus(ctx context.Context, providerRef string) (*StatusResult, error) {
	result, err := paypal.GetOrder(ctx, g.cfg, providerRef)
	if err != nil {
		return nil, translate(err, paypalErrorRules)
	}
	return paypalStatusResult(result), nil
}

func (g *PaypalGateway) Transfer(ctx context.Context, input TransferInput) (*TransferResult, error) {
	reference := input.Metadata["order_no"]
	if reference == "" {
		reference = input.SourceChargeRef
	}
	result, err := paypal.CreatePayout(ctx, g.cfg, paypal.PayoutInput{
		Receiver:  input.Destination,
		Amount:    input.Amount,
		Currency:  input.Currency,
		BatchID:   input.IdempotencyKey,
		Reference: reference,
	})
	if err != nil {
		return nil, translate(err, paypalErrorRules)
	}
	return &TransferResult{TransferRef: result.BatchID, Status: strings.ToLower(result.BatchStatus)}, nil
}

// GetAccountCapabilities 需要配置 partner_id，否则视为不支持
func (g *PaypalGateway) GetAccountCapabilities(ctx context.Context, accountRef string) (*Capabilities, error) {
	if g.cfg == nil || g.cfg.PartnerID == "" {
		return nil, fmt.Errorf("%w: paypal partner_id not configured", ErrUnsupported)
	}
	status, err := paypal.GetMerchantStatus(ctx, g.cfg, accountRef)
	if err != nil {
		return nil, translate(err, paypalErrorRules)
	}
	return &Capabilities{
		AccountRef:       status.MerchantID,
		ChargesEnabled:   status.PaymentsReceivable,
		PayoutsEnabled:   status.PaymentsReceivable && status.PrimaryEmailConfirmed,
		DetailsSubmitted: status.PrimaryEmailConfirmed,
	}, nil
}

func (g *PaypalGateway) ParseWebhook(ctx context.Context, headers http.Header, body []byte) (*Event, error) {
	event, err := paypal.ParseWebhookEvent(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadInvalid, err)
	}
	if err := paypal.VerifyWebhookSignature(ctx, g.cfg, headers, event.Raw); err != nil {
		return nil, translate(err, paypalErrorRules)
	}
	amount, currency := event.Amount()
	status, _ := event.Status()
	return &Event{
		Provider:    constants.GatewayPaypal,
		EventID:     event.ID,
		Kind:        paypalEventKind(status),
		RawType:     event.EventType,
		OrderNo:     event.OrderNo(),
		ProviderRef: event.RelatedOrderID(),
		ChargeRef:   event.CaptureID(),
		Amount:      amount,
		Currency:    currency,
		OccurredAt:  event.OccurredAt(),
	}, nil
}

func paypalStatusResult(result *paypal.OrderResult) *StatusResult {
	return &StatusResult{
		ProviderRef: result.OrderID,
		ChargeRef:   result.CaptureID,
		Status:      paypalOrderStatus(result.Status),
		Amount:      result.Amount,
		Currency:    result.Currency,
		PaidAt:      result.PaidAt,
	}
}

// paypalOrderStatus 同时兼容订单状态与捕获状态
func paypalOrderStatus(status string) string {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "COMPLETED":
		return StatusSucceeded
	case "APPROVED":
		return StatusAuthorized
	case "VOIDED":
		return StatusCancelled
	case "DECLINED", "FAILED", "DENIED":
		return StatusFailed
	case "REFUNDED", "PARTIALLY_REFUNDED":
		return StatusRefunded
	default:
		return StatusPending
	}
}

func paypalEventKind(status string) string {
	switch status {
	case paypal.StatusApproved:
		return KindOrderApproved
	case paypal.StatusCompleted:
		return KindPaymentCompleted
	case paypal.StatusFailed:
		return KindPaymentFailed
	case paypal.StatusCancelled:
		return KindPaymentCancelled
	case paypal.StatusRefunded:
		return KindPaymentRefunded
	default:
		return KindIgnored
	}
}
