package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dujiao-next/reconciler/internal/constants"
	"github.com/dujiao-next/reconciler/internal/payment/wechatpay"

	"github.com/wechatpay-apiv3/wechatpay-go/core/auth"
)

var wechatpayErrorRules = []errorRule{
	{from: wechatpay.ErrSignatureInvalid, to: ErrSignatureInvalid},
	{from: wechatpay.ErrConfigInvalid, to: ErrConfigInvalid},
	{from: wechatpay.ErrResponseInvalid, to: ErrRejected},
	{from: wechatpay.ErrRequestFailed, to: ErrRequestFailed},
}

var wechatpayNotifyErrorRules = []errorRule{
	{from: wechatpay.ErrSignatureInvalid, to: ErrSignatureInvalid},
	{from: wechatpay.ErrConfigInvalid, to: ErrConfigInvalid},
	{from: wechatpay.ErrResponseInvalid, to: ErrPayloadInvalid},
	{from: wechatpay.ErrRequestFailed, to: ErrRequestFailed},
}

// WechatpayGateway 微信支付 Native + 商家转账适配，out_trade_no 即订单号
type WechatpayGateway struct {
	cfg      *wechatpay.Config
	verifier auth.Verifier
}

// NewWechatpay 创建微信支付网关，verifier 为空时回调验签使用平台证书下载器
func NewWechatpay(cfg *wechatpay.Config, verifier auth.Verifier) *WechatpayGateway {
	return &WechatpayGateway{cfg: cfg, verifier: verifier}
}

func (g *WechatpayGateway) Name() string { return constants.GatewayWechatpay }

func (g *WechatpayGateway) CreateCharge(ctx context.Context, input ChargeInput) (*ChargeResult, error) {
	result, err := wechatpay.CreateNativePayment(ctx, g.cfg, wechatpay.CreateInput{
		OrderNo:     input.OrderNo,
		Amount:      input.Amount,
		Currency:    input.Currency,
		Description: input.Description,
	})
	if err != nil {
		return nil, translate(err, wechatpayErrorRules)
	}
	return &ChargeResult{ProviderRef: input.OrderNo, PayURL: result.CodeURL, Status: StatusPending}, nil
}

// Capture Native 支付无授权阶段
func (g *WechatpayGateway) Capture(context.Context, string, string) (*StatusResult, error) {
	return nil, fmt.Errorf("%w: wechatpay capture", ErrUnsupported)
}

func (g *WechatpayGateway) GetStatus(ctx context.Context, providerRef string) (*StatusResult, error) {
	result, err := wechatpay.QueryOrder(ctx, g.cfg, providerRef)
	if err != nil {
		return nil, translate(err, wechatpayErrorRules)
	}
	return &StatusResult{
		ProviderRef: result.OrderNo,
		ChargeRef:   result.TransactionID,
		Status:      wechatpayStatus(result.Status),
		Amount:      result.Amount,
		Currency:    result.Currency,
		PaidAt:      result.PaidAt,
	}, nil
}

func (g *WechatpayGateway) Transfer(ctx context.Context, input TransferInput) (*TransferResult, error) {
	result, err := wechatpay.CreateTransferBatch(ctx, g.cfg, wechatpay.TransferInput{
		OpenID:         input.Destination,
		Amount:         input.Amount,
		Currency:       input.Currency,
		IdempotencyKey: input.IdempotencyKey,
	})
	if err != nil {
		return nil, translate(err, wechatpayErrorRules)
	}
	return &TransferResult{TransferRef: result.BatchID, Status: StatusPending}, nil
}

func (g *WechatpayGateway) GetAccountCapabilities(context.Context, string) (*Capabilities, error) {
	return nil, fmt.Errorf("%w: wechatpay capabilities", ErrUnsupported)
}

func (g *WechatpayGateway) ParseWebhook(ctx context.Context, headers http.Header, body []byte) (*Event, error) {
	result, err := wechatpay.VerifyAndDecodeNotify(ctx, g.cfg, g.verifier, headers, body)
	if err != nil {
		return nil, translate(err, wechatpayNotifyErrorRules)
	}
	return &Event{
		Provider:    constants.GatewayWechatpay,
		EventID:     result.EventID,
		Kind:        wechatpayEventKind(result.Status),
		RawType:     result.EventType,
		OrderNo:     result.OrderNo,
		ProviderRef: result.OrderNo,
		ChargeRef:   result.TransactionID,
		Amount:      result.Amount,
		Currency:    result.Currency,
		OccurredAt:  result.OccurredAt,
	}, nil
}

func wechatpayStatus(status string) string {
	switch status {
	case wechatpay.StatusSucceeded:
		return StatusSucceeded
	case wechatpay.StatusRefunded:
		return StatusRefunded
	case wechatpay.StatusClosed:
		return StatusCancelled
	case wechatpay.StatusFailed:
		return StatusFailed
	default:
		return StatusPending
	}
}

func wechatpayEventKind(status string) string {
	switch status {
	case wechatpay.StatusSucceeded:
		return KindPaymentCompleted
	case wechatpay.StatusRefunded:
		return KindPaymentRefunded
	case wechatpay.StatusClosed:
		return KindPaymentCancelled
	case wechatpay.StatusFailed:
		return KindPaymentFailed
	default:
		return KindIgnored
	}
}
