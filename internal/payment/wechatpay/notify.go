package wechatpay

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/wechatpay-apiv3/wechatpay-go/core/auth"
	"github.com/wechatpay-apiv3/wechatpay-go/core/auth/verifiers"
	"github.com/wechatpay-apiv3/wechatpay-go/core/downloader"
	"github.com/wechatpay-apiv3/wechatpay-go/core/notify"
)

// 关心的回调事件类型
const (
	EventTransactionSuccess = "TRANSACTION.SUCCESS"
	EventRefundSuccess      = "REFUND.SUCCESS"
)

// NotifyResult 回调验签解密后的结果。
type NotifyResult struct {
	EventID       string
	EventType     string
	OrderNo       string
	TransactionID string
	Status        string
	Amount        string
	Currency      string
	OccurredAt    *time.Time
}

// VerifyAndDecodeNotify 使用平台证书验签并解密回调，verifier 为空时按商户凭据下载平台证书。
func VerifyAndDecodeNotify(ctx context.Context, cfg *Config, verifier auth.Verifier, headers http.Header, body []byte) (*NotifyResult, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%w: empty notify body", ErrResponseInvalid)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if verifier == nil {
		downloaded, err := certificateVerifier(ctx, cfg)
		if err != nil {
			return nil, err
		}
		verifier = downloaded
	}
	handler, err := notify.NewRSANotifyHandler(cfg.APIV3Key, verifier)
	if err != nil {
		return nil, fmt.Errorf("%w: init notify handler failed", ErrConfigInvalid)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.NotifyURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build notify request failed", ErrResponseInvalid)
	}
	for key, values := range headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	content := map[string]interface{}{}
	notifyReq, err := handler.ParseNotifyRequest(ctx, req, &content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return buildNotifyResult(notifyReq, content)
}

func certificateVerifier(ctx context.Context, cfg *Config) (auth.Verifier, error) {
	privateKey, err := parsePrivateKey(cfg.MerchantPrivateKey)
	if err != nil {
		return nil, err
	}
	mgr := downloader.MgrInstance()
	if !mgr.HasDownloader(ctx, cfg.MerchantID) {
		if err := mgr.RegisterDownloaderWithPrivateKey(ctx, privateKey, cfg.MerchantSerialNo, cfg.MerchantID, cfg.APIV3Key); err != nil {
			return nil, fmt.Errorf("%w: register certificate downloader failed", ErrRequestFailed)
		}
	}
	return verifiers.NewSHA256WithRSAVerifier(mgr.GetCertificateVisitor(cfg.MerchantID)), nil
}

func buildNotifyResult(notifyReq *notify.Request, content map[string]interface{}) (*NotifyResult, error) {
	if notifyReq == nil {
		return nil, fmt.Errorf("%w: empty notify request", ErrResponseInvalid)
	}
	result := &NotifyResult{
		EventID:       strings.TrimSpace(notifyReq.ID),
		EventType:     strings.ToUpper(strings.TrimSpace(notifyReq.EventType)),
		OrderNo:       readString(content, "out_trade_no"),
		TransactionID: readString(content, "transaction_id"),
		Currency:      strings.ToUpper(readString(content, "amount", "currency")),
		OccurredAt:    parseTime(readString(content, "success_time")),
	}
	if result.OccurredAt == nil && notifyReq.CreateTime != nil {
		created := *notifyReq.CreateTime
		result.OccurredAt = &created
	}
	switch result.EventType {
	case EventTransactionSuccess:
		status, ok := TradeStateStatus(readString(content, "trade_state"))
		if !ok {
			return nil, fmt.Errorf("%w: unsupported trade_state", ErrResponseInvalid)
		}
		result.Status = status
		if fen, ok := readInt64(content, "amount", "total"); ok {
			result.Amount = FromFen(fen)
		}
	case EventRefundSuccess:
		result.Status = StatusRefunded
		if fen, ok := readInt64(content, "amount", "refund"); ok {
			result.Amount = FromFen(fen)
		}
		if result.Currency == "" {
			result.Currency = defaultCurrency
		}
	default:
		// 其他事件只回传事件号，由上层忽略
		if result.EventID == "" {
			return nil, fmt.Errorf("%w: event id is missing", ErrResponseInvalid)
		}
		return result, nil
	}
	if result.EventID == "" || result.OrderNo == "" {
		return nil, fmt.Errorf("%w: event id or out_trade_no is missing", ErrResponseInvalid)
	}
	return result, nil
}
