package wechatpay

import (
	"context"
	"fmt"
	"strings"
)

// TransferInput 商家转账到零钱输入。
type TransferInput struct {
	OpenID         string
	Amount         string
	Currency       string
	IdempotencyKey string
	Remark         string
}

// TransferResult 转账批次返回。
type TransferResult struct {
	OutBatchNo  string
	BatchID     string
	BatchStatus string
}

// CreateTransferBatch 发起单笔转账批次，out_batch_no 由幂等键派生，重复提交同一批次号不会重复出款。
func CreateTransferBatch(ctx context.Context, cfg *Config, input TransferInput) (*TransferResult, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	openID := strings.TrimSpace(input.OpenID)
	batchNo := BatchNo(input.IdempotencyKey)
	if openID == "" || batchNo == "" {
		return nil, fmt.Errorf("%w: openid and idempotency key are required", ErrConfigInvalid)
	}
	fen, err := ToFen(input.Amount, input.Currency)
	if err != nil {
		return nil, err
	}
	remark := strings.TrimSpace(input.Remark)
	if remark == "" {
		remark = "推广佣金"
	}
	payload := map[string]interface{}{
		"appid":        cfg.AppID,
		"out_batch_no": batchNo,
		"batch_name":   remark,
		"batch_remark": remark,
		"total_amount": fen,
		"total_num":    1,
		"transfer_detail_list": []map[string]interface{}{
			{
				"out_detail_no":   batchNo,
				"transfer_amount": fen,
				"transfer_remark": remark,
				"openid":          openID,
			},
		},
	}
	if cfg.TransferSceneID != "" {
		payload["transfer_scene_id"] = cfg.TransferSceneID
	}
	raw, err := call(ctx, cfg, "/v3/transfer/batches", payload)
	if err != nil {
		return nil, err
	}
	result := &TransferResult{
		OutBatchNo:  readString(raw, "out_batch_no"),
		BatchID:     readString(raw, "batch_id"),
		BatchStatus: readString(raw, "batch_status"),
	}
	if result.BatchID == "" {
		return nil, fmt.Errorf("%w: missing batch_id", ErrResponseInvalid)
	}
	if strings.EqualFold(result.BatchStatus, "CLOSED") {
		return nil, fmt.Errorf("%w: transfer batch closed", ErrResponseInvalid)
	}
	return result, nil
}
