package paypal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// CreateInput 创建 PayPal 订单输入。
type CreateInput struct {
	OrderNo     string
	Amount      string
	Currency    string
	Description string
	RequestID   string
}

// CreateResult 创建 PayPal 订单返回。
type CreateResult struct {
	OrderID     string
	ApprovalURL string
	Status      string
}

// OrderResult 订单查询或捕获返回。
type OrderResult struct {
	OrderID   string
	CaptureID string
	Status    string
	Amount    string
	Currency  string
	PaidAt    *time.Time
}

// CreateOrder 创建 PayPal 订单。
func CreateOrder(ctx context.Context, cfg *Config, input CreateInput) (*CreateResult, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.OrderNo) == "" || strings.TrimSpace(input.Amount) == "" || strings.TrimSpace(input.Currency) == "" {
		return nil, fmt.Errorf("%w: order input is invalid", ErrConfigInvalid)
	}
	appCtx := map[string]string{
		"return_url":          cfg.ReturnURL,
		"cancel_url":          cfg.CancelURL,
		"user_action":         "PAY_NOW",
		"shipping_preference": "NO_SHIPPING",
	}
	if cfg.BrandName != "" {
		appCtx["brand_name"] = cfg.BrandName
	}
	payload := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{
			{
				"reference_id": input.OrderNo,
				"invoice_id":   input.OrderNo,
				"custom_id":    input.OrderNo,
				"amount": map[string]string{
					"currency_code": strings.ToUpper(strings.TrimSpace(input.Currency)),
					"value":         strings.TrimSpace(input.Amount),
				},
				"description": strings.TrimSpace(input.Description),
			},
		},
		"application_context": appCtx,
	}

	raw, err := callAPI(ctx, cfg, http.MethodPost, "/v2/checkout/orders", input.RequestID, payload)
	if err != nil {
		return nil, err
	}
	result := &CreateResult{
		OrderID:     readString(raw, "id"),
		Status:      readString(raw, "status"),
		ApprovalURL: extractLinkByRel(raw, "approve"),
	}
	if result.OrderID == "" || result.ApprovalURL == "" {
		return nil, fmt.Errorf("%w: missing order id or approve url", ErrResponseInvalid)
	}
	return result, nil
}

// GetOrder 查询 PayPal 订单。
func GetOrder(ctx context.Context, cfg *Config, orderID string) (*OrderResult, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is empty", ErrConfigInvalid)
	}
	raw, err := callAPI(ctx, cfg, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(orderID), "", nil)
	if err != nil {
		return nil, err
	}
	return parseOrderResult(raw, orderID)
}

// CaptureOrder 捕获 PayPal 订单。
func CaptureOrder(ctx context.Context, cfg *Config, orderID, requestID string) (*OrderResult, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is empty", ErrConfigInvalid)
	}
	endpoint := "/v2/checkout/orders/" + url.PathEscape(orderID) + "/capture"
	raw, err := callAPI(ctx, cfg, http.MethodPost, endpoint, requestID, map[string]interface{}{})
	if err != nil {
		return nil, err
	}
	return parseOrderResult(raw, orderID)
}

func parseOrderResult(raw map[string]interface{}, fallbackID string) (*OrderResult, error) {
	result := &OrderResult{
		OrderID: readString(raw, "id"),
		Status:  readString(raw, "status"),
	}
	captures := readArray(raw, "purchase_units", "0", "payments", "captures")
	if len(captures) > 0 {
		if captureMap, ok := captures[0].(map[string]interface{}); ok {
			result.CaptureID = readString(captureMap, "id")
			if status := readString(captureMap, "status"); status != "" && result.Status == "COMPLETED" {
				result.Status = status
			}
			result.Amount = readString(captureMap, "amount", "value")
			result.Currency = readString(captureMap, "amount", "currency_code")
			result.PaidAt = parseTime(readString(captureMap, "create_time"))
		}
	}
	if result.Amount == "" {
		result.Amount = readString(raw, "purchase_units", "0", "amount", "value")
		result.Currency = readString(raw, "purchase_units", "0", "amount", "currency_code")
	}
	if result.OrderID == "" {
		result.OrderID = fallbackID
	}
	if result.Status == "" {
		return nil, fmt.Errorf("%w: missing order status", ErrResponseInvalid)
	}
	return result, nil
}
