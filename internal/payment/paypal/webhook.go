package paypal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"
)

// 归一化后的事件状态
const (
	StatusApproved  = "approved"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusRefunded  = "refunded"
	StatusPending   = "pending"
)

var verifyHeaders = map[string]string{
	"transmission_id":   "Paypal-Transmission-Id",
	"transmission_time": "Paypal-Transmission-Time",
	"cert_url":          "Paypal-Cert-Url",
	"auth_algo":         "Paypal-Auth-Algo",
	"transmission_sig":  "Paypal-Transmission-Sig",
}

// WebhookEvent 解析后的 Webhook 事件。
type WebhookEvent struct {
	ID         string
	EventType  string
	CreateTime string
	Resource   map[string]interface{}
	Raw        map[string]interface{}
}

// VerifyWebhookSignature 调用 PayPal 校验 Webhook 签名。
func VerifyWebhookSignature(ctx context.Context, cfg *Config, headers http.Header, event map[string]interface{}) error {
	if err := ValidateConfig(cfg); err != nil {
		return err
	}
	payload := map[string]interface{}{
		"webhook_id":    cfg.WebhookID,
		"webhook_event": event,
	}
	for field, header := range verifyHeaders {
		value := strings.TrimSpace(headers.Get(header))
		if value == "" {
			return fmt.Errorf("%w: missing %s", ErrWebhookVerifyFailed, field)
		}
		payload[field] = value
	}

	resp, err := callAPI(ctx, cfg, http.MethodPost, "/v1/notifications/verify-webhook-signature", "", payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWebhookVerifyFailed, err)
	}
	if !strings.EqualFold(readString(resp, "verification_status"), "SUCCESS") {
		return fmt.Errorf("%w: verification_status=%s", ErrWebhookVerifyFailed, readString(resp, "verification_status"))
	}
	return nil
}

// ParseWebhookEvent 解析 Webhook 请求体。
func ParseWebhookEvent(body []byte) (*WebhookEvent, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: webhook body is empty", ErrResponseInvalid)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: webhook body invalid", ErrResponseInvalid)
	}
	event := &WebhookEvent{
		ID:         readString(raw, "id"),
		EventType:  strings.ToUpper(readString(raw, "event_type")),
		CreateTime: readString(raw, "create_time"),
		Raw:        raw,
	}
	if resource, ok := raw["resource"].(map[string]interface{}); ok {
		event.Resource = resource
	} else {
		event.Resource = map[string]interface{}{}
	}
	if event.ID == "" || event.EventType == "" {
		return nil, fmt.Errorf("%w: id or event_type is missing", ErrResponseInvalid)
	}
	return event, nil
}

// Status 事件归一化状态，未关心的事件返回 false。
func (e *WebhookEvent) Status() (string, bool) {
	switch e.EventType {
	case "CHECKOUT.ORDER.APPROVED":
		return StatusApproved, true
	case "PAYMENT.CAPTURE.COMPLETED":
		return StatusCompleted, true
	case "PAYMENT.CAPTURE.PENDING":
		return StatusPending, true
	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED":
		return StatusFailed, true
	case "PAYMENT.CAPTURE.REFUNDED", "PAYMENT.CAPTURE.REVERSED":
		return StatusRefunded, true
	case "CHECKOUT.ORDER.VOIDED":
		return StatusCancelled, true
	default:
		return "", false
	}
}

// OrderNo 商户订单号，订单事件取 purchase_units，捕获与退款事件取 custom_id/invoice_id。
func (e *WebhookEvent) OrderNo() string {
	for _, candidate := range []string{
		readString(e.Resource, "custom_id"),
		readString(e.Resource, "invoice_id"),
		readString(e.Resource, "purchase_units", "0", "custom_id"),
		readString(e.Resource, "purchase_units", "0", "invoice_id"),
		readString(e.Resource, "purchase_units", "0", "reference_id"),
	} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

// RelatedOrderID PayPal 订单号。
func (e *WebhookEvent) RelatedOrderID() string {
	if strings.HasPrefix(e.EventType, "CHECKOUT.ORDER.") {
		return readString(e.Resource, "id")
	}
	return readString(e.Resource, "supplementary_data", "related_ids", "order_id")
}

// CaptureID 捕获号；退款事件从 up 链接反查被退款的捕获。
func (e *WebhookEvent) CaptureID() string {
	switch {
	case e.EventType == "PAYMENT.CAPTURE.REFUNDED":
		if href := extractLinkByRel(e.Resource, "up"); href != "" {
			return path.Base(strings.TrimRight(href, "/"))
		}
		return ""
	case strings.HasPrefix(e.EventType, "PAYMENT.CAPTURE."):
		return readString(e.Resource, "id")
	default:
		return readString(e.Resource, "purchase_units", "0", "payments", "captures", "0", "id")
	}
}

// Amount 事件金额与币种。
func (e *WebhookEvent) Amount() (string, string) {
	value := readString(e.Resource, "amount", "value")
	currency := readString(e.Resource, "amount", "currency_code")
	if value == "" {
		value = readString(e.Resource, "purchase_units", "0", "amount", "value")
		currency = readString(e.Resource, "purchase_units", "0", "amount", "currency_code")
	}
	return value, strings.ToUpper(currency)
}

// OccurredAt 事件时间。
func (e *WebhookEvent) OccurredAt() *time.Time {
	for _, raw := range []string{
		readString(e.Resource, "update_time"),
		readString(e.Resource, "create_time"),
		e.CreateTime,
	} {
		if parsed := parseTime(raw); parsed != nil {
			return parsed
		}
	}
	return nil
}
