package stripe

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// TransferInput Connect 转账输入。
type TransferInput struct {
	Destination       string
	Amount            string
	Currency          string
	SourceTransaction string
	TransferGroup     string
	IdempotencyKey    string
	Metadata          map[string]string
}

// TransferResult Connect 转账返回。
type TransferResult struct {
	TransferID string
	Amount     string
	Currency   string
	Reversed   bool
}

// AccountResult Connect 账户能力。
type AccountResult struct {
	AccountID        string
	ChargesEnabled   bool
	PayoutsEnabled   bool
	DetailsSubmitted bool
}

// CreateTransfer 向 Connect 账户发起转账，source_transaction 关联原始扣款。
func CreateTransfer(ctx context.Context, cfg *Config, input TransferInput) (*TransferResult, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	destination := strings.TrimSpace(input.Destination)
	if destination == "" {
		return nil, fmt.Errorf("%w: destination is required", ErrConfigInvalid)
	}
	if strings.TrimSpace(input.IdempotencyKey) == "" {
		return nil, fmt.Errorf("%w: idempotency key is required", ErrConfigInvalid)
	}
	currency := strings.ToLower(strings.TrimSpace(input.Currency))
	if currency == "" {
		return nil, fmt.Errorf("%w: currency is required", ErrConfigInvalid)
	}
	minorAmount, err := ToMinorAmount(input.Amount, currency)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(minorAmount, 10))
	form.Set("currency", currency)
	form.Set("destination", destination)
	if source := strings.TrimSpace(input.SourceTransaction); source != "" {
		form.Set("source_transaction", source)
	}
	if group := strings.TrimSpace(input.TransferGroup); group != "" {
		form.Set("transfer_group", group)
	}
	for k, v := range input.Metadata {
		form.Set(fmt.Sprintf("metadata[%s]", k), v)
	}

	raw, err := doRequest(ctx, cfg, http.MethodPost, "/v1/transfers", form, input.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	result := &TransferResult{
		TransferID: readString(raw, "id"),
		Currency:   strings.ToUpper(readString(raw, "currency")),
		Reversed:   readBool(raw, "reversed"),
	}
	if result.TransferID == "" {
		return nil, fmt.Errorf("%w: missing transfer id", ErrResponseInvalid)
	}
	if minor := readInt64(raw, "amount"); minor > 0 {
		result.Amount = FromMinorAmount(minor, currency)
	}
	return result, nil
}

// GetAccount 查询 Connect 账户收款能力。
func GetAccount(ctx context.Context, cfg *Config, accountID string) (*AccountResult, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, fmt.Errorf("%w: account id is required", ErrConfigInvalid)
	}
	raw, err := doRequest(ctx, cfg, http.MethodGet, "/v1/accounts/"+url.PathEscape(accountID), nil, "")
	if err != nil {
		return nil, err
	}
	result := &AccountResult{
		AccountID:        readString(raw, "id"),
		ChargesEnabled:   readBool(raw, "charges_enabled"),
		PayoutsEnabled:   readBool(raw, "payouts_enabled"),
		DetailsSubmitted: readBool(raw, "details_submitted"),
	}
	if result.AccountID == "" {
		return nil, fmt.Errorf("%w: missing account id", ErrResponseInvalid)
	}
	return result, nil
}
