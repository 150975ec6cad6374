package paypal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// PayoutInput 单笔打款输入。
type PayoutInput struct {
	Receiver  string
	Amount    string
	Currency  string
	BatchID   string
	Note      string
	Reference string
}

// PayoutResult 打款批次返回。
type PayoutResult struct {
	BatchID     string
	BatchStatus string
}

// MerchantStatus 合作伙伴商户收款能力。
type MerchantStatus struct {
	MerchantID            string
	PaymentsReceivable    bool
	PrimaryEmailConfirmed bool
}

// CreatePayout 发起单笔 Payouts 批次，sender_batch_id 与 PayPal-Request-Id 均使用幂等键。
func CreatePayout(ctx context.Context, cfg *Config, input PayoutInput) (*PayoutResult, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	receiver := strings.TrimSpace(input.Receiver)
	batchID := strings.TrimSpace(input.BatchID)
	if receiver == "" || batchID == "" {
		return nil, fmt.Errorf("%w: receiver and batch id are required", ErrConfigInvalid)
	}
	recipientType := "PAYPAL_ID"
	if strings.Contains(receiver, "@") {
		recipientType = "EMAIL"
	}
	note := strings.TrimSpace(input.Note)
	if note == "" {
		note = cfg.PayoutNote
	}
	payload := map[string]interface{}{
		"sender_batch_header": map[string]string{
			"sender_batch_id": batchID,
			"email_subject":   note,
			"recipient_type":  recipientType,
		},
		"items": []map[string]interface{}{
			{
				"recipient_type": recipientType,
				"receiver":       receiver,
				"sender_item_id": batchID,
				"note":           strings.TrimSpace(note + " " + input.Reference),
				"amount": map[string]string{
					"value":    strings.TrimSpace(input.Amount),
					"currency": strings.ToUpper(strings.TrimSpace(input.Currency)),
				},
			},
		},
	}
	raw, err := callAPI(ctx, cfg, http.MethodPost, "/v1/payments/payouts", batchID, payload)
	if err != nil {
		return nil, err
	}
	result := &PayoutResult{
		BatchID:     readString(raw, "batch_header", "payout_batch_id"),
		BatchStatus: readString(raw, "batch_header", "batch_status"),
	}
	if result.BatchID == "" {
		return nil, fmt.Errorf("%w: missing payout batch id", ErrResponseInvalid)
	}
	if strings.EqualFold(result.BatchStatus, "DENIED") {
		return nil, fmt.Errorf("%w: payout batch denied", ErrResponseInvalid)
	}
	return result, nil
}

// GetMerchantStatus 查询合作伙伴名下商户的收款能力。
func GetMerchantStatus(ctx context.Context, cfg *Config, merchantID string) (*MerchantStatus, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.PartnerID == "" {
		return nil, fmt.Errorf("%w: partner_id is required", ErrConfigInvalid)
	}
	merchantID = strings.TrimSpace(merchantID)
	if merchantID == "" {
		return nil, fmt.Errorf("%w: merchant id is empty", ErrConfigInvalid)
	}
	endpoint := fmt.Sprintf("/v1/customer/partners/%s/merchant-integrations/%s", url.PathEscape(cfg.PartnerID), url.PathEscape(merchantID))
	raw, err := callAPI(ctx, cfg, http.MethodGet, endpoint, "", nil)
	if err != nil {
		return nil, err
	}
	status := &MerchantStatus{
		MerchantID:            readString(raw, "merchant_id"),
		PaymentsReceivable:    readBool(raw, "payments_receivable"),
		PrimaryEmailConfirmed: readBool(raw, "primary_email_confirmed"),
	}
	if status.MerchantID == "" {
		status.MerchantID = merchantID
	}
	return status, nil
}
