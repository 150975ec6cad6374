package service

import "errors"

// 订单
var (
	ErrOrderNotFound          = errors.New("order not found")
	ErrOrderInvalid           = errors.New("order invalid")
	ErrOrderStatusInvalid     = errors.New("order status transition not allowed")
	ErrOrderNotPaid           = errors.New("order not paid yet")
	ErrOrderFetchFailed       = errors.New("order fetch failed")
	ErrOrderUpdateFailed      = errors.New("order update failed")
	ErrOrderItemsEmpty        = errors.New("order items empty")
	ErrOrderCurrencyEmpty     = errors.New("order currency empty")
	ErrPaymentProviderInvalid = errors.New("payment provider invalid")
)

// 优惠券
var (
	ErrCouponNotFound   = errors.New("coupon not found")
	ErrCouponInactive   = errors.New("coupon inactive")
	ErrCouponUsageLimit = errors.New("coupon usage limit reached")
)

// 佣金与打款
var (
	ErrCommissionNotFound      = errors.New("commission not found")
	ErrCommissionStatusInvalid = errors.New("commission status invalid")
	ErrCommissionCreateFailed  = errors.New("commission create failed")
	ErrAffiliateNotFound       = errors.New("affiliate not found")
	ErrPayoutNotEligible       = errors.New("commission not eligible for payout")
	ErrSourceChargeNotFound    = errors.New("source charge not found")
	ErrPayoutDestinationEmpty  = errors.New("payout destination not configured")
	ErrPayoutUpdateFailed      = errors.New("payout update failed")
)

// 回调与网关
var (
	ErrGatewayNotFound         = errors.New("payment gateway not found")
	ErrGatewayRequestFailed    = errors.New("payment gateway request failed")
	ErrWebhookSignatureInvalid = errors.New("webhook signature invalid")
	ErrWebhookPayloadInvalid   = errors.New("webhook payload invalid")
	ErrIdempotencyUnavailable  = errors.New("idempotency store unavailable")
)

// 对账巡检
var (
	ErrReconcileSecretMissing = errors.New("reconcile secret not configured")
	ErrReconcileUnauthorized  = errors.New("reconcile credential invalid")
)
