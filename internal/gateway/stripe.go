package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dujiao-next/reconciler/internal/constants"
	"github.com/dujiao-next/reconciler/internal/payment/stripe"
)

var stripeErrorRules = []errorRule{
	{from: stripe.ErrSignatureInvalid, to: ErrSignatureInvalid},
	{from: stripe.ErrConfigInvalid, to: ErrConfigInvalid},
	{from: stripe.ErrResponseInvalid, to: ErrRejected},
	{from: stripe.ErrRequestFailed, to: ErrRequestFailed},
}

var stripeWebhookErrorRules = []errorRule{
	{from: stripe.ErrSignatureInvalid, to: ErrSignatureInvalid},
	{from: stripe.ErrConfigInvalid, to: ErrConfigInvalid},
	{from: stripe.ErrResponseInvalid, to: ErrPayloadInvalid},
}

// StripeGateway Stripe Checkout + Connect 适配
type StripeGateway struct {
	cfg *stripe.Config
	now func() time.Time
}

// NewStripe 创建 Stripe 网关
func NewStripe(cfg *stripe.Config) *StripeGateway {
	return &StripeGateway{cfg: cfg, now: time.Now}
}

func (g *StripeGateway) Name() string { return constants.GatewayStripe }

func (g *StripeGateway) CreateCharge(ctx context.Context, input ChargeInput) (*ChargeResult, error) {
	result, err := stripe.CreatePayment(ctx, g.cfg, stripe.CreateInput{
		OrderNo:        input.OrderNo,
		Amount:         input.Amount,
		Currency:       input.Currency,
		Description:    input.Description,
		IdempotencyKey: input.IdempotencyKey,
	})
	if err != nil {
		return nil, translate(err, stripeErrorRules)
	}
	return &ChargeResult{
		ProviderRef: result.SessionID,
		PayURL:      result.URL,
		Status:      StatusPending,
	}, nil
}

// Capture 会话引用先换成 PaymentIntent 再捕获
func (g *StripeGateway) Capture(ctx context.Context, providerRef, idempotencyKey string) (*StatusResult, error) {
	intentID := strings.TrimSpace(providerRef)
	if !strings.HasPrefix(intentID, "pi_") {
		queried, err := stripe.QueryPayment(ctx, g.cfg, intentID)
		if err != nil {
			return nil, translate(err, stripeErrorRules)
		}
		intentID = queried.PaymentIntentID
	}
	if intentID == "" {
		return nil, fmt.Errorf("%w: payment intent not found for %s", ErrRejected, providerRef)
	}
	result, err := stripe.CapturePaymentIntent(ctx, g.cfg, intentID, idempotencyKey)
	if err != nil {
		return nil, translate(err, stripeErrorRules)
	}
	return stripeStatusResult(result, providerRef), nil
}

func (g *StripeGateway) GetStatus(ctx context.Context, providerRef string) (*StatusResult, error) {
	result, err := stripe.QueryPayment(ctx, g.cfg, providerRef)
	if err != nil {
		return nil, translate(err, stripeErrorRules)
	}
	return stripeStatusResult(result, providerRef), nil
}

func (g *StripeGateway) Transfer(ctx context.Context, input TransferInput) (*TransferResult, error) {
	result, err := stripe.CreateTransfer(ctx, g.cfg, stripe.TransferInput{
		Destination:       input.Destination,
		Amount:            input.Amount,
		Currency:          input.Currency,
		SourceTransaction: input.SourceChargeRef,
		TransferGroup:     input.Metadata["order_no"],
		IdempotencyKey:    input.IdempotencyKey,
		Metadata:          input.Metadata,
	})
	if err != nil {
		return nil, translate(err, stripeErrorRules)
	}
	if result.Reversed {
		return nil, fmt.Errorf("%w: transfer %s reversed", ErrRejected, result.TransferID)
	}
	return &TransferResult{TransferRef: result.TransferID, Status: StatusSucceeded}, nil
}

func (g *StripeGateway) GetAccountCapabilities(ctx context.Context, accountRef string) (*Capabilities, error) {
	account, err := stripe.GetAccount(ctx, g.cfg, accountRef)
	if err != nil {
		return nil, translate(err, stripeErrorRules)
	}
	return &Capabilities{
		AccountRef:       account.AccountID,
		ChargesEnabled:   account.ChargesEnabled,
		PayoutsEnabled:   account.PayoutsEnabled,
		DetailsSubmitted: account.DetailsSubmitted,
	}, nil
}

func (g *StripeGateway) ParseWebhook(_ context.Context, headers http.Header, body []byte) (*Event, error) {
	result, err := stripe.VerifyAndParseWebhook(g.cfg, headers, body, g.now())
	if err != nil {
		return nil, translate(err, stripeWebhookErrorRules)
	}
	return &Event{
		Provider:    constants.GatewayStripe,
		EventID:     result.EventID,
		Kind:        stripeEventKind(result.Status),
		RawType:     result.EventType,
		OrderNo:     result.OrderNo,
		ProviderRef: result.ProviderRef,
		ChargeRef:   result.ChargeID,
		Amount:      result.Amount,
		Currency:    result.Currency,
		OccurredAt:  result.OccurredAt,
	}, nil
}

func stripeStatusResult(result *stripe.PaymentResult, providerRef string) *StatusResult {
	ref := result.SessionID
	if ref == "" {
		ref = providerRef
	}
	return &StatusResult{
		ProviderRef: ref,
		ChargeRef:   result.ChargeID,
		Status:      stripeStatus(result.Status),
		Amount:      result.Amount,
		Currency:    result.Currency,
		PaidAt:      result.PaidAt,
	}
}

func stripeStatus(status string) string {
	switch status {
	case stripe.StatusSucceeded:
		return StatusSucceeded
	case stripe.StatusAuthorized:
		return StatusAuthorized
	case stripe.StatusFailed:
		return StatusFailed
	case stripe.StatusCanceled:
		return StatusCancelled
	case stripe.StatusRefunded:
		return StatusRefunded
	default:
		return StatusPending
	}
}

func stripeEventKind(status string) string {
	switch status {
	case stripe.StatusSucceeded:
		return KindPaymentCompleted
	case stripe.StatusAuthorized:
		return KindOrderApproved
	case stripe.StatusFailed:
		return KindPaymentFailed
	case stripe.StatusCanceled:
		return KindPaymentCancelled
	case stripe.StatusRefunded:
		return KindPaymentRefunded
	default:
		return KindIgnored
	}
}
