package wechatpay

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// CreateInput Native 下单输入。
type CreateInput struct {
	OrderNo     string
	Amount      string
	Currency    string
	Description string
}

// CreateResult Native 下单返回。
type CreateResult struct {
	CodeURL string
}

// QueryResult 订单查询返回。
type QueryResult struct {
	OrderNo       string
	TransactionID string
	TradeState    string
	Status        string
	Amount        string
	Currency      string
	PaidAt        *time.Time
}

// CreateNativePayment Native 扫码下单，out_trade_no 即商户订单号，微信侧天然去重。
func CreateNativePayment(ctx context.Context, cfg *Config, input CreateInput) (*CreateResult, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	orderNo := strings.TrimSpace(input.OrderNo)
	if orderNo == "" {
		return nil, fmt.Errorf("%w: order no is required", ErrConfigInvalid)
	}
	fen, err := ToFen(input.Amount, input.Currency)
	if err != nil {
		return nil, err
	}
	description := strings.TrimSpace(input.Description)
	if description == "" {
		description = "订单 " + orderNo
	}
	payload := map[string]interface{}{
		"appid":        cfg.AppID,
		"mchid":        cfg.MerchantID,
		"description":  description,
		"out_trade_no": orderNo,
		"notify_url":   cfg.NotifyURL,
		"amount": map[string]interface{}{
			"total":    fen,
			"currency": defaultCurrency,
		},
	}
	raw, err := call(ctx, cfg, "/v3/pay/transactions/native", payload)
	if err != nil {
		return nil, err
	}
	codeURL := readString(raw, "code_url")
	if codeURL == "" {
		return nil, fmt.Errorf("%w: missing code_url", ErrResponseInvalid)
	}
	return &CreateResult{CodeURL: codeURL}, nil
}

// QueryOrder 按商户订单号查询交易。
func QueryOrder(ctx context.Context, cfg *Config, orderNo string) (*QueryResult, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	orderNo = strings.TrimSpace(orderNo)
	if orderNo == "" {
		return nil, fmt.Errorf("%w: order no is required", ErrConfigInvalid)
	}
	path := "/v3/pay/transactions/out-trade-no/" + url.PathEscape(orderNo) + "?mchid=" + url.QueryEscape(cfg.MerchantID)
	raw, err := call(ctx, cfg, path, nil)
	if err != nil {
		return nil, err
	}
	tradeState := strings.ToUpper(readString(raw, "trade_state"))
	status, ok := TradeStateStatus(tradeState)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported trade_state %s", ErrResponseInvalid, tradeState)
	}
	result := &QueryResult{
		OrderNo:       readString(raw, "out_trade_no"),
		TransactionID: readString(raw, "transaction_id"),
		TradeState:    tradeState,
		Status:        status,
		Currency:      strings.ToUpper(readString(raw, "amount", "currency")),
		PaidAt:        parseTime(readString(raw, "success_time")),
	}
	if result.OrderNo == "" {
		result.OrderNo = orderNo
	}
	if fen, ok := readInt64(raw, "amount", "total"); ok {
		result.Amount = FromFen(fen)
	}
	return result, nil
}

// TradeStateStatus 交易状态归一化。
func TradeStateStatus(tradeState string) (string, bool) {
	switch strings.ToUpper(strings.TrimSpace(tradeState)) {
	case "SUCCESS":
		return StatusSucceeded, true
	case "REFUND":
		return StatusRefunded, true
	case "NOTPAY", "USERPAYING":
		return StatusPending, true
	case "CLOSED", "REVOKED":
		return StatusClosed, true
	case "PAYERROR":
		return StatusFailed, true
	default:
		return "", false
	}
}
