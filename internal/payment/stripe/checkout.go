package stripe

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// CreateInput 创建 Checkout Session 输入。
type CreateInput struct {
	OrderNo        string
	Amount         string
	Currency       string
	Description    string
	IdempotencyKey string
}

// CreateResult 创建 Checkout Session 返回。
type CreateResult struct {
	SessionID       string
	PaymentIntentID string
	URL             string
	Status          string
}

// PaymentResult 支付查询或扣款返回。
type PaymentResult struct {
	SessionID       string
	PaymentIntentID string
	ChargeID        string
	Status          string
	Amount          string
	Currency        string
	PaidAt          *time.Time
}

// CreatePayment 创建 Stripe Checkout Session。
func CreatePayment(ctx context.Context, cfg *Config, input CreateInput) (*CreateResult, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	orderNo := strings.TrimSpace(input.OrderNo)
	if orderNo == "" {
		return nil, fmt.Errorf("%w: order_no is required", ErrConfigInvalid)
	}
	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		return nil, fmt.Errorf("%w: currency is required", ErrConfigInvalid)
	}
	minorAmount, err := ToMinorAmount(input.Amount, currency)
	if err != nil {
		return nil, err
	}
	subject := strings.TrimSpace(input.Description)
	if subject == "" {
		subject = orderNo
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", cfg.SuccessURL)
	form.Set("cancel_url", cfg.CancelURL)
	form.Set("client_reference_id", orderNo)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(minorAmount, 10))
	form.Set("line_items[0][price_data][product_data][name]", subject)
	form.Set("metadata[order_no]", orderNo)
	form.Set("payment_intent_data[metadata][order_no]", orderNo)
	form.Set("payment_intent_data[transfer_group]", orderNo)
	if cfg.ManualCapture {
		form.Set("payment_intent_data[capture_method]", "manual")
	}

	raw, err := doRequest(ctx, cfg, http.MethodPost, "/v1/checkout/sessions", form, input.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	result := &CreateResult{
		SessionID:       readString(raw, "id"),
		URL:             readString(raw, "url"),
		Status:          readString(raw, "status"),
		PaymentIntentID: readRefID(raw, "payment_intent"),
	}
	if result.SessionID == "" || result.URL == "" {
		return nil, fmt.Errorf("%w: missing session id or url", ErrResponseInvalid)
	}
	return result, nil
}

// QueryPayment 按 Checkout Session 或 PaymentIntent 查询支付状态与扣款 ID。
func QueryPayment(ctx context.Context, cfg *Config, providerRef string) (*PaymentResult, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	providerRef = strings.TrimSpace(providerRef)
	if providerRef == "" {
		return nil, fmt.Errorf("%w: provider_ref is required", ErrConfigInvalid)
	}
	if strings.HasPrefix(providerRef, "pi_") {
		return queryPaymentIntent(ctx, cfg, providerRef)
	}
	return queryCheckoutSession(ctx, cfg, providerRef)
}

// CapturePaymentIntent 扣款已授权的 PaymentIntent。
func CapturePaymentIntent(ctx context.Context, cfg *Config, paymentIntentID, idempotencyKey string) (*PaymentResult, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	paymentIntentID = strings.TrimSpace(paymentIntentID)
	if !strings.HasPrefix(paymentIntentID, "pi_") {
		return nil, fmt.Errorf("%w: payment intent id is required", ErrConfigInvalid)
	}
	path := fmt.Sprintf("/v1/payment_intents/%s/capture", url.PathEscape(paymentIntentID))
	raw, err := doRequest(ctx, cfg, http.MethodPost, path, url.Values{}, idempotencyKey)
	if err != nil {
		return nil, err
	}
	return parsePaymentIntent(raw)
}

func queryCheckoutSession(ctx context.Context, cfg *Config, sessionID string) (*PaymentResult, error) {
	path := fmt.Sprintf("/v1/checkout/sessions/%s?expand[]=payment_intent", url.PathEscape(sessionID))
	raw, err := doRequest(ctx, cfg, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	result := &PaymentResult{
		SessionID: readString(raw, "id"),
		Currency:  strings.ToUpper(readString(raw, "currency")),
		PaidAt:    readUnixTime(raw, "created"),
	}
	if result.SessionID == "" {
		return nil, fmt.Errorf("%w: missing checkout session id", ErrResponseInvalid)
	}
	if amountMinor := readInt64(raw, "amount_total"); amountMinor > 0 && result.Currency != "" {
		result.Amount = FromMinorAmount(amountMinor, result.Currency)
	}
	result.Status = mapCheckoutSessionStatus(readString(raw, "payment_status"), readString(raw, "status"))
	result.PaymentIntentID = readRefID(raw, "payment_intent")
	if intent := readMap(raw, "payment_intent"); intent != nil {
		result.ChargeID = readRefID(intent, "latest_charge")
		if status := mapPaymentIntentStatus(readString(intent, "status")); status != StatusPending {
			result.Status = status
		}
	}
	return result, nil
}

func queryPaymentIntent(ctx context.Context, cfg *Config, paymentIntentID string) (*PaymentResult, error) {
	path := fmt.Sprintf("/v1/payment_intents/%s", url.PathEscape(paymentIntentID))
	raw, err := doRequest(ctx, cfg, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	return parsePaymentIntent(raw)
}

func parsePaymentIntent(raw map[string]interface{}) (*PaymentResult, error) {
	result := &PaymentResult{
		PaymentIntentID: readString(raw, "id"),
		ChargeID:        readRefID(raw, "latest_charge"),
		Currency:        strings.ToUpper(readString(raw, "currency")),
		Status:          mapPaymentIntentStatus(readString(raw, "status")),
		PaidAt:          readUnixTime(raw, "created"),
	}
	if result.PaymentIntentID == "" {
		return nil, fmt.Errorf("%w: missing payment intent id", ErrResponseInvalid)
	}
	amountMinor := readInt64(raw, "amount_received")
	if amountMinor <= 0 {
		amountMinor = readInt64(raw, "amount")
	}
	if amountMinor > 0 && result.Currency != "" {
		result.Amount = FromMinorAmount(amountMinor, result.Currency)
	}
	return result, nil
}

func mapCheckoutSessionStatus(paymentStatus string, sessionStatus string) string {
	paymentStatus = strings.ToLower(strings.TrimSpace(paymentStatus))
	sessionStatus = strings.ToLower(strings.TrimSpace(sessionStatus))
	if paymentStatus == "paid" || (sessionStatus == "complete" && paymentStatus == "no_payment_required") {
		return StatusSucceeded
	}
	if sessionStatus == "expired" {
		return StatusCanceled
	}
	return StatusPending
}

func mapPaymentIntentStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "succeeded":
		return StatusSucceeded
	case "requires_capture":
		return StatusAuthorized
	case "canceled":
		return StatusCanceled
	case "requires_payment_method":
		return StatusFailed
	default:
		return StatusPending
	}
}
