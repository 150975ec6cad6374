package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// WebhookResult Stripe Webhook 解析结果。
type WebhookResult struct {
	EventID         string
	EventType       string
	OrderNo         string
	ProviderRef     string
	SessionID       string
	PaymentIntentID string
	ChargeID        string
	AccountID       string
	Status          string
	Amount          string
	Currency        string
	OccurredAt      *time.Time
}

// VerifyAndParseWebhook 校验 Stripe-Signature 并解析事件。
func VerifyAndParseWebhook(cfg *Config, headers http.Header, body []byte, now time.Time) (*WebhookResult, error) {
	if cfg == nil || strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, fmt.Errorf("%w: webhook_secret is required", ErrConfigInvalid)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: body is empty", ErrResponseInvalid)
	}
	if now.IsZero() {
		now = time.Now()
	}

	signatureHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if signatureHeader == "" {
		return nil, fmt.Errorf("%w: Stripe-Signature is required", ErrSignatureInvalid)
	}
	timestamp, signatures, err := parseSignatureHeader(signatureHeader)
	if err != nil {
		return nil, err
	}
	if cfg.WebhookToleranceSeconds > 0 {
		delta := math.Abs(float64(now.Unix() - timestamp))
		if delta > float64(cfg.WebhookToleranceSeconds) {
			return nil, fmt.Errorf("%w: timestamp outside tolerance", ErrSignatureInvalid)
		}
	}
	expected := ComputeSignature(cfg.WebhookSecret, timestamp, body)
	matched := false
	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			matched = true
			break
		}
	}
	if !matched {
		return nil, fmt.Errorf("%w: verify failed", ErrSignatureInvalid)
	}

	eventRaw, err := decodeRawMap(body)
	if err != nil {
		return nil, err
	}
	eventType := readString(eventRaw, "type")
	if eventType == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrResponseInvalid)
	}
	objectRaw := readMap(readMap(eventRaw, "data"), "object")
	if objectRaw == nil {
		return nil, fmt.Errorf("%w: missing event object", ErrResponseInvalid)
	}

	result := &WebhookResult{
		EventID:    readString(eventRaw, "id"),
		EventType:  eventType,
		AccountID:  readString(eventRaw, "account"),
		OccurredAt: readUnixTime(eventRaw, "created"),
	}
	fillWebhookResult(result, objectRaw)
	return result, nil
}

func fillWebhookResult(result *WebhookResult, objectRaw map[string]interface{}) {
	metadata := readMap(objectRaw, "metadata")
	result.OrderNo = readString(metadata, "order_no")
	result.Currency = strings.ToUpper(readString(objectRaw, "currency"))

	var amountMinor int64
	switch readString(objectRaw, "object") {
	case "checkout.session":
		result.SessionID = readString(objectRaw, "id")
		result.PaymentIntentID = readRefID(objectRaw, "payment_intent")
		result.ProviderRef = result.SessionID
		if result.OrderNo == "" {
			result.OrderNo = readString(objectRaw, "client_reference_id")
		}
		amountMinor = readInt64(objectRaw, "amount_total")
	case "payment_intent":
		result.PaymentIntentID = readString(objectRaw, "id")
		result.ChargeID = readRefID(objectRaw, "latest_charge")
		result.ProviderRef = result.PaymentIntentID
		amountMinor = readInt64(objectRaw, "amount_received")
		if amountMinor <= 0 {
			amountMinor = readInt64(objectRaw, "amount")
		}
	case "charge":
		result.ChargeID = readString(objectRaw, "id")
		result.PaymentIntentID = readRefID(objectRaw, "payment_intent")
		result.ProviderRef = result.PaymentIntentID
		amountMinor = readInt64(objectRaw, "amount_refunded")
		if amountMinor <= 0 {
			amountMinor = readInt64(objectRaw, "amount")
		}
	default:
		result.ProviderRef = readString(objectRaw, "id")
	}
	if amountMinor > 0 && result.Currency != "" {
		result.Amount = FromMinorAmount(amountMinor, result.Currency)
	}
	result.Status = mapEventTypeStatus(result.EventType, objectRaw)
}

func mapEventTypeStatus(eventType string, objectRaw map[string]interface{}) string {
	switch strings.ToLower(strings.TrimSpace(eventType)) {
	case "checkout.session.completed":
		// 异步支付方式在 completed 时仍未到账
		if strings.EqualFold(readString(objectRaw, "payment_status"), "unpaid") {
			return StatusPending
		}
		return StatusSucceeded
	case "checkout.session.async_payment_succeeded", "payment_intent.succeeded":
		return StatusSucceeded
	case "payment_intent.amount_capturable_updated":
		return StatusAuthorized
	case "checkout.session.async_payment_failed", "payment_intent.payment_failed":
		return StatusFailed
	case "checkout.session.expired", "payment_intent.canceled":
		return StatusCanceled
	case "charge.refunded":
		if readBool(objectRaw, "refunded") {
			return StatusRefunded
		}
		return ""
	default:
		return ""
	}
}

// ComputeSignature 计算 v1 签名。
func ComputeSignature(secret string, timestamp int64, body []byte) string {
	payload := strconv.FormatInt(timestamp, 10) + "." + string(body)
	h := hmac.New(sha256.New, []byte(secret))
	_, _ = h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

func parseSignatureHeader(signatureHeader string) (int64, []string, error) {
	timestamp := int64(0)
	signatures := make([]string, 0)
	for _, part := range strings.Split(signatureHeader, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		value := strings.TrimSpace(kv[1])
		switch strings.TrimSpace(kv[0]) {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil || parsed <= 0 {
				return 0, nil, fmt.Errorf("%w: invalid timestamp", ErrSignatureInvalid)
			}
			timestamp = parsed
		case "v1":
			if value != "" {
				signatures = append(signatures, strings.ToLower(value))
			}
		}
	}
	if timestamp <= 0 {
		return 0, nil, fmt.Errorf("%w: timestamp is missing", ErrSignatureInvalid)
	}
	if len(signatures) == 0 {
		return 0, nil, fmt.Errorf("%w: v1 signature is missing", ErrSignatureInvalid)
	}
	return timestamp, signatures, nil
}
