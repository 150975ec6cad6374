package constants

// 订单状态常量
const (
	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
	OrderStatusRefunded  = "refunded"
)

// 订单支付状态常量
const (
	PaymentStatusPending   = "pending"
	PaymentStatusPaid      = "paid"
	PaymentStatusFailed    = "failed"
	PaymentStatusCancelled = "cancelled"
	PaymentStatusRefunded  = "refunded"
)

// 支付网关常量
const (
	GatewayStripe    = "stripe"
	GatewayPaypal    = "paypal"
	GatewayWechatpay = "wechatpay"
)

// 优惠券类型常量
const (
	CouponTypeFixed   = "fixed"
	CouponTypePercent = "percent"
)

// 推广用户状态常量
const (
	AffiliateStatusActive    = "active"
	AffiliateStatusInactive  = "inactive"
	AffiliateStatusSuspended = "suspended"
)

// 佣金计算方式常量
const (
	CommissionTypePercent = "percent"
	CommissionTypeFlat    = "flat"
)

// 佣金状态常量
const (
	CommissionStatusPending   = "pending"
	CommissionStatusApproved  = "approved"
	CommissionStatusPaid      = "paid"
	CommissionStatusCancelled = "cancelled"
)

// 佣金打款状态常量
const (
	TransferStatusNone       = "none"
	TransferStatusProcessing = "processing"
	TransferStatusFailed     = "failed"
)

// 打款尝试结果常量
const (
	PayoutResultSucceeded = "succeeded"
	PayoutResultFailed    = "failed"
	PayoutResultSkipped   = "skipped"
)

// 打款触发来源常量
const (
	PayoutTriggerWebhook = "webhook"
	PayoutTriggerSweep   = "sweep"
	PayoutTriggerTask    = "task"
	PayoutTriggerManual  = "manual"
	PayoutTriggerAPI     = "api"
)

// 队列与任务常量
const (
	QueueDefault          = "default"
	QueueCritical         = "critical"
	TaskOrderPaidNotify   = "order:paid_notify"
	TaskCommissionPayout  = "commission:payout"
	TaskReconcileSweep    = "reconcile:sweep"
	PayoutIdempotencyKey  = "commission_payout_%d"
	ChargeIdempotencyKey  = "order_charge_%s"
	CaptureIdempotencyKey = "order_capture_%s"
	PayoutLeaseKeyPattern = "payout:%d"
)

// 佣金取消原因常量
const (
	CommissionCancelReasonRefunded = "order_refunded"
	CommissionCancelReasonManual   = "manual"
)

// 对账 JWT 主题
const ReconcileTokenSubject = "reconcile"
