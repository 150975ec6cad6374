// Package gateway 定义支付网关适配层：统一扣款、捕获、查询、转账、收款能力与回调事件。
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrGatewayNotFound  = errors.New("gateway not found")
	ErrUnsupported      = errors.New("gateway operation unsupported")
	ErrConfigInvalid    = errors.New("gateway config invalid")
	ErrSignatureInvalid = errors.New("gateway signature invalid")
	ErrPayloadInvalid   = errors.New("gateway payload invalid")
	ErrRequestFailed    = errors.New("gateway request failed")
	ErrRejected         = errors.New("gateway rejected request")
)

// 归一化事件类型
const (
	KindOrderApproved    = "order_approved"
	KindPaymentCompleted = "payment_completed"
	KindPaymentFailed    = "payment_failed"
	KindPaymentCancelled = "payment_cancelled"
	KindPaymentRefunded  = "payment_refunded"
	KindIgnored          = "ignored"
)

// 归一化支付状态
const (
	StatusPending    = "pending"
	StatusAuthorized = "authorized"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
	StatusRefunded   = "refunded"
)

// Event 验签后的回调事件
type Event struct {
	Provider    string
	EventID     string
	Kind        string
	RawType     string
	OrderNo     string
	ProviderRef string
	ChargeRef   string
	Amount      string
	Currency    string
	OccurredAt  *time.Time
}

// ChargeInput 创建支付单输入
type ChargeInput struct {
	OrderNo        string
	Amount         string
	Currency       string
	Description    string
	IdempotencyKey string
}

// ChargeResult 创建支付单返回
type ChargeResult struct {
	ProviderRef string
	PayURL      string
	Status      string
}

// StatusResult 支付状态查询或捕获返回
type StatusResult struct {
	ProviderRef string
	ChargeRef   string
	Status      string
	Amount      string
	Currency    string
	PaidAt      *time.Time
}

// TransferInput 打款输入
type TransferInput struct {
	Destination     string
	Amount          string
	Currency        string
	SourceChargeRef string
	IdempotencyKey  string
	Metadata        map[string]string
}

// TransferResult 打款返回
type TransferResult struct {
	TransferRef string
	Status      string
}

// Capabilities 收款账户能力
type Capabilities struct {
	AccountRef       string
	ChargesEnabled   bool
	PayoutsEnabled   bool
	DetailsSubmitted bool
}

// Gateway 支付网关适配接口
type Gateway interface {
	Name() string
	CreateCharge(ctx context.Context, input ChargeInput) (*ChargeResult, error)
	Capture(ctx context.Context, providerRef, idempotencyKey string) (*StatusResult, error)
	GetStatus(ctx context.Context, providerRef string) (*StatusResult, error)
	Transfer(ctx context.Context, input TransferInput) (*TransferResult, error)
	GetAccountCapabilities(ctx context.Context, accountRef string) (*Capabilities, error)
	ParseWebhook(ctx context.Context, headers http.Header, body []byte) (*Event, error)
}

type errorRule struct {
	from error
	to   error
}

// translate 把支付包的错误映射为网关层错误，未识别的按请求失败处理
func translate(err error, rules []errorRule) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	for _, rule := range rules {
		if errors.Is(err, rule.from) {
			return fmt.Errorf("%w: %v", rule.to, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrRequestFailed, err)
}

// IsTransient 网络或超时类错误，下一轮对账可重试
func IsTransient(err error) bool {
	return errors.Is(err, ErrRequestFailed)
}
