package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/dujiao-next/reconciler/internal/config"
	"github.com/dujiao-next/reconciler/internal/constants"
	"github.com/dujiao-next/reconciler/internal/gateway"
	"github.com/dujiao-next/reconciler/internal/logger"
	"github.com/dujiao-next/reconciler/internal/models"
	"github.com/dujiao-next/reconciler/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OrderLedger 订单账本：下单、发起支付，并按网关事件推进订单状态
type OrderLedger struct {
	orderRepo     repository.OrderRepository
	couponRepo    repository.CouponRepository
	affiliateRepo repository.AffiliateRepository
	commissions   *CommissionService
	gateways      *gateway.Registry
	queue         TaskEnqueuer
	payoutCfg     config.PayoutConfig
	now           func() time.Time
}

// NewOrderLedger 创建订单账本
func NewOrderLedger(
	orderRepo repository.OrderRepository,
	couponRepo repository.CouponRepository,
	affiliateRepo repository.AffiliateRepository,
	commissions *CommissionService,
	gateways *gateway.Registry,
	queueClient TaskEnqueuer,
	payoutCfg config.PayoutConfig,
) *OrderLedger {
	return &OrderLedger{
		orderRepo:     orderRepo,
		couponRepo:    couponRepo,
		affiliateRepo: affiliateRepo,
		commissions:   commissions,
		gateways:      gateways,
		queue:         queueClient,
		payoutCfg:     payoutCfg,
		now:           time.Now,
	}
}

// CreateOrderItemInput 下单商品快照，价格由商品目录在下单时给出
type CreateOrderItemInput struct {
	ProductID uint
	SKUID     uint
	Title     string
	UnitPrice models.Money
	Quantity  int
}

// CreateOrderInput 创建订单输入
type CreateOrderInput struct {
	OrderNo       string
	UserID        uint
	GuestEmail    string
	Currency      string
	Provider      string
	CouponCode    string
	AffiliateCode string
	Items         []CreateOrderItemInput
}

// ChargeRequest 发起支付输入
type ChargeRequest struct {
	Description string
}

// PaymentEvent 与网关无关的支付事件
type PaymentEvent struct {
	Provider    string
	EventID     string
	OrderNo     string
	ProviderRef string
	ChargeRef   string
	Amount      string
	Currency    string
	OccurredAt  *time.Time
}

// TransitionResult 状态迁移结果，Changed 为 false 表示幂等跳过
type TransitionResult struct {
	Order      *models.Order
	Changed    bool
	Commission *models.AffiliateCommission
}

// PaymentEventFromGateway 由网关事件构造支付事件
func PaymentEventFromGateway(ev *gateway.Event) PaymentEvent {
	if ev == nil {
		return PaymentEvent{}
	}
	return PaymentEvent{
		Provider:    ev.Provider,
		EventID:     ev.EventID,
		OrderNo:     ev.OrderNo,
		ProviderRef: ev.ProviderRef,
		ChargeRef:   ev.ChargeRef,
		Amount:      ev.Amount,
		Currency:    ev.Currency,
		OccurredAt:  ev.OccurredAt,
	}
}

// ledgerLogger 带上请求链路挂在 ctx 上的字段
func ledgerLogger(ctx context.Context, kv ...interface{}) *zap.SugaredLogger {
	return logger.FromContext(ctx, kv...)
}

// CreateOrder 创建待支付订单：快照商品价格、计算优惠与实付金额、记录推广归属
func (s *OrderLedger) CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	provider := strings.ToLower(strings.TrimSpace(input.Provider))
	if provider != "" && s.gateways != nil {
		if _, err := s.gateways.Get(provider); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrPaymentProviderInvalid, provider)
		}
	}
	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		return nil, ErrOrderCurrencyEmpty
	}
	if len(input.Items) == 0 {
		return nil, ErrOrderItemsEmpty
	}

	subtotal := decimal.Zero
	items := make([]models.OrderItem, 0, len(input.Items))
	for _, item := range input.Items {
		if item.ProductID == 0 || item.Quantity <= 0 || item.UnitPrice.Decimal.IsNegative() {
			return nil, fmt.Errorf("%w: invalid item", ErrOrderInvalid)
		}
		line := item.UnitPrice.Decimal.Mul(decimal.NewFromInt(int64(item.Quantity))).Round(2)
		subtotal = subtotal.Add(line)
		items = append(items, models.OrderItem{
			ProductID:  item.ProductID,
			SKUID:      item.SKUID,
			Title:      strings.TrimSpace(item.Title),
			UnitPrice:  models.NewMoneyFromDecimal(item.UnitPrice.Decimal),
			Quantity:   item.Quantity,
			TotalPrice: models.NewMoneyFromDecimal(line),
		})
	}

	discount := decimal.Zero
	var couponID *uint
	couponCode := ""
	if code := strings.TrimSpace(input.CouponCode); code != "" {
		coupon, err := s.couponRepo.GetByCode(code)
		if err != nil {
			return nil, err
		}
		if coupon == nil {
			return nil, ErrCouponNotFound
		}
		if !coupon.IsActive {
			return nil, ErrCouponInactive
		}
		if coupon.UsageLimit > 0 && coupon.UsedCount >= coupon.UsageLimit {
			return nil, ErrCouponUsageLimit
		}
		discount = calcCouponDiscount(coupon, subtotal)
		id := coupon.ID
		couponID = &id
		couponCode = coupon.Code
	}
	total := subtotal.Sub(discount.Abs())
	if total.IsNegative() {
		total = decimal.Zero
	}

	affiliateID, affiliateCode, err := s.resolveAffiliate(input.AffiliateCode, input.UserID)
	if err != nil {
		return nil, err
	}

	orderNo := strings.TrimSpace(input.OrderNo)
	if orderNo == "" {
		orderNo = generateOrderNo()
	}
	order := &models.Order{
		OrderNo:            orderNo,
		UserID:             input.UserID,
		GuestEmail:         strings.TrimSpace(input.GuestEmail),
		Status:             constants.OrderStatusPending,
		PaymentStatus:      constants.PaymentStatusPending,
		Currency:           currency,
		Subtotal:           models.NewMoneyFromDecimal(subtotal),
		DiscountAmount:     models.NewMoneyFromDecimal(discount),
		TotalAmount:        models.NewMoneyFromDecimal(total),
		CouponID:           couponID,
		CouponCode:         couponCode,
		AffiliateProfileID: affiliateID,
		AffiliateCode:      affiliateCode,
		Provider:           provider,
	}
	if err := s.orderRepo.Create(order, items); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: duplicate order_no %s", ErrOrderInvalid, orderNo)
		}
		return nil, err
	}
	ledgerLogger(ctx, "order_id", order.ID, "order_no", order.OrderNo).Infow("order_created",
		"total_amount", order.TotalAmount.String(),
		"currency", order.Currency,
		"coupon_code", couponCode,
		"affiliate_code", affiliateCode,
	)
	return order, nil
}

// CreateCharge 向网关发起支付，幂等键由订单号派生
func (s *OrderLedger) CreateCharge(ctx context.Context, orderID uint, req ChargeRequest) (*gateway.ChargeResult, error) {
	order, err := s.orderRepo.GetByID(orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOrderFetchFailed, err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if orderStateOf(order) != orderStatePending {
		return nil, fmt.Errorf("%w: charge on %s", ErrOrderStatusInvalid, orderStateOf(order))
	}
	gw, err := s.gateway(order.Provider)
	if err != nil {
		return nil, err
	}
	log := ledgerLogger(ctx, "order_id", order.ID, "order_no", order.OrderNo, "provider", order.Provider)
	result, err := gw.CreateCharge(ctx, gateway.ChargeInput{
		OrderNo:        order.OrderNo,
		Amount:         order.TotalAmount.StringFixed(2),
		Currency:       order.Currency,
		Description:    req.Description,
		IdempotencyKey: fmt.Sprintf(constants.ChargeIdempotencyKey, order.OrderNo),
	})
	if err != nil {
		log.Errorw("order_charge_create_failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrGatewayRequestFailed, err)
	}
	if result.ProviderRef != "" && result.ProviderRef != order.ProviderRef {
		if err := s.orderRepo.UpdateFields(order.ID, map[string]interface{}{
			"provider_ref": result.ProviderRef,
			"updated_at":   s.now(),
		}); err != nil {
			log.Errorw("order_provider_ref_save_failed", "provider_ref", result.ProviderRef, "error", err)
			return nil, fmt.Errorf("%w: %v", ErrOrderUpdateFailed, err)
		}
	}
	log.Infow("order_charge_created", "provider_ref", result.ProviderRef)
	return result, nil
}

// GetOrder 获取订单
func (s *OrderLedger) GetOrder(ctx context.Context, id uint) (*models.Order, error) {
	order, err := s.orderRepo.GetByID(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOrderFetchFailed, err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// CompletePayment 支付成功：pending/pending → completed/paid，同事务内核销优惠券并生成佣金
func (s *OrderLedger) CompletePayment(ctx context.Context, ev PaymentEvent) (*TransitionResult, error) {
	log := eventLogger(ctx, ev)
	order, err := s.locateOrder(ev)
	if err != nil {
		log.Warnw("order_locate_failed", "error", err)
		return nil, err
	}
	log = log.With("order_id", order.ID, "order_no", order.OrderNo)
	s.checkReportedAmount(order, ev, log)

	if _, noop, err := resolveOrderTransition(orderStateOf(order), OrderEventPaid); err != nil {
		log.Warnw("order_transition_rejected", "event", OrderEventPaid, "state", orderStateOf(order).String())
		return nil, err
	} else if noop {
		s.backfillChargeRef(order, ev.ChargeRef, log)
		log.Infow("order_payment_idempotent", "state", orderStateOf(order).String())
		return &TransitionResult{Order: order}, nil
	}

	now := s.now()
	changed := false
	var commission *models.AffiliateCommission
	err = s.orderRepo.Transaction(func(tx *gorm.DB) error {
		orderRepo := s.orderRepo.WithTx(tx)
		locked, err := orderRepo.GetByIDForUpdate(order.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			return ErrOrderNotFound
		}
		_, noop, err := resolveOrderTransition(orderStateOf(locked), OrderEventPaid)
		if err != nil {
			return err
		}
		if noop {
			order = locked
			return nil
		}

		updates := map[string]interface{}{
			"status":         constants.OrderStatusCompleted,
			"payment_status": constants.PaymentStatusPaid,
			"paid_at":        now,
			"updated_at":     now,
		}
		if ref := strings.TrimSpace(ev.ChargeRef); ref != "" {
			updates["charge_ref"] = ref
			locked.ChargeRef = ref
		}
		if ref := strings.TrimSpace(ev.ProviderRef); ref != "" && locked.ProviderRef == "" {
			updates["provider_ref"] = ref
			locked.ProviderRef = ref
		}
		affected, err := orderRepo.UpdateFromStatus(locked.ID, constants.OrderStatusPending, constants.PaymentStatusPending, updates)
		if err != nil {
			return err
		}
		if affected == 0 {
			order = locked
			return nil
		}
		locked.Status = constants.OrderStatusCompleted
		locked.PaymentStatus = constants.PaymentStatusPaid
		locked.PaidAt = &now
		locked.UpdatedAt = now

		if err := s.redeemCouponTx(tx, locked); err != nil {
			return err
		}
		if s.commissions != nil {
			row, created, err := s.commissions.CreateForPaidOrderTx(tx, locked)
			if err != nil {
				return err
			}
			if created {
				commission = row
			}
		}
		order = locked
		changed = true
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrOrderStatusInvalid) || errors.Is(err, ErrOrderNotFound) {
			log.Warnw("order_transition_rejected", "event", OrderEventPaid, "error", err)
			return nil, err
		}
		log.Errorw("order_payment_complete_failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrOrderUpdateFailed, err)
	}
	if !changed {
		log.Infow("order_payment_idempotent", "state", orderStateOf(order).String())
		return &TransitionResult{Order: order}, nil
	}

	log.Infow("order_payment_completed",
		"total_amount", order.TotalAmount.String(),
		"charge_ref", order.ChargeRef,
		"commission_created", commission != nil,
	)
	enqueueOrderPaidNotify(s.queue, order, log)
	if commission != nil && commission.Status == constants.CommissionStatusApproved && s.payoutCfg.AutoEnabled {
		enqueueCommissionPayout(s.queue, commission.ID, constants.PayoutTriggerWebhook, log)
	}
	return &TransitionResult{Order: order, Changed: true, Commission: commission}, nil
}

// ApproveAndComplete 买家已授权：在锁外向网关发起捕获，成功后按支付成功处理
func (s *OrderLedger) ApproveAndComplete(ctx context.Context, ev PaymentEvent) (*TransitionResult, error) {
	log := eventLogger(ctx, ev)
	order, err := s.locateOrder(ev)
	if err != nil {
		log.Warnw("order_locate_failed", "error", err)
		return nil, err
	}
	if orderStateOf(order) != orderStatePending {
		return s.CompletePayment(ctx, ev)
	}
	gw, err := s.gateway(order.Provider)
	if err != nil {
		return nil, err
	}
	providerRef := strings.TrimSpace(ev.ProviderRef)
	if providerRef == "" {
		providerRef = order.ProviderRef
	}
	log = log.With("order_id", order.ID, "order_no", order.OrderNo)

	captured, err := gw.Capture(ctx, providerRef, fmt.Sprintf(constants.CaptureIdempotencyKey, order.OrderNo))
	if err != nil {
		if errors.Is(err, gateway.ErrUnsupported) {
			log.Infow("order_capture_unsupported")
			return &TransitionResult{Order: order}, nil
		}
		log.Errorw("order_capture_failed", "provider_ref", providerRef, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrGatewayRequestFailed, err)
	}
	log.Infow("order_capture_result", "status", captured.Status, "charge_ref", captured.ChargeRef)

	switch captured.Status {
	case gateway.StatusSucceeded:
		if captured.ChargeRef != "" {
			ev.ChargeRef = captured.ChargeRef
		}
		if ev.ProviderRef == "" {
			ev.ProviderRef = captured.ProviderRef
		}
		return s.CompletePayment(ctx, ev)
	case gateway.StatusFailed:
		return s.FailPayment(ctx, ev)
	case gateway.StatusCancelled:
		return s.CancelPayment(ctx, ev)
	default:
		return &TransitionResult{Order: order}, nil
	}
}

// FailPayment 支付失败：pending → cancelled/failed
func (s *OrderLedger) FailPayment(ctx context.Context, ev PaymentEvent) (*TransitionResult, error) {
	return s.closePayment(ctx, ev, OrderEventFailed)
}

// CancelPayment 支付取消：pending → cancelled/cancelled
func (s *OrderLedger) CancelPayment(ctx context.Context, ev PaymentEvent) (*TransitionResult, error) {
	return s.closePayment(ctx, ev, OrderEventCancelled)
}

func (s *OrderLedger) closePayment(ctx context.Context, ev PaymentEvent, event string) (*TransitionResult, error) {
	log := eventLogger(ctx, ev)
	order, err := s.locateOrder(ev)
	if err != nil {
		log.Warnw("order_locate_failed", "error", err)
		return nil, err
	}
	log = log.With("order_id", order.ID, "order_no", order.OrderNo, "event", event)

	now := s.now()
	changed := false
	err = s.orderRepo.Transaction(func(tx *gorm.DB) error {
		orderRepo := s.orderRepo.WithTx(tx)
		locked, err := orderRepo.GetByIDForUpdate(order.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			return ErrOrderNotFound
		}
		target, noop, err := resolveOrderTransition(orderStateOf(locked), event)
		if err != nil {
			return err
		}
		order = locked
		if noop {
			return nil
		}
		affected, err := orderRepo.UpdateFromStatus(locked.ID, constants.OrderStatusPending, constants.PaymentStatusPending, map[string]interface{}{
			"status":         target.Status,
			"payment_status": target.PaymentStatus,
			"cancelled_at":   now,
			"updated_at":     now,
		})
		if err != nil {
			return err
		}
		if affected > 0 {
			locked.Status = target.Status
			locked.PaymentStatus = target.PaymentStatus
			locked.CancelledAt = &now
			changed = true
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrOrderStatusInvalid) || errors.Is(err, ErrOrderNotFound) {
			log.Warnw("order_transition_rejected", "error", err)
			return nil, err
		}
		log.Errorw("order_close_failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrOrderUpdateFailed, err)
	}
	if changed {
		log.Infow("order_payment_closed", "state", orderStateOf(order).String())
	} else {
		log.Infow("order_close_idempotent", "state", orderStateOf(order).String())
	}
	return &TransitionResult{Order: order, Changed: changed}, nil
}

// RefundPayment 退款：completed/paid → refunded/refunded，同事务回退优惠券次数并取消关联佣金
func (s *OrderLedger) RefundPayment(ctx context.Context, ev PaymentEvent) (*TransitionResult, error) {
	log := eventLogger(ctx, ev)
	order, err := s.locateOrder(ev)
	if err != nil {
		log.Warnw("order_locate_failed", "error", err)
		return nil, err
	}
	log = log.With("order_id", order.ID, "order_no", order.OrderNo)

	now := s.now()
	changed := false
	cancelled := 0
	err = s.orderRepo.Transaction(func(tx *gorm.DB) error {
		orderRepo := s.orderRepo.WithTx(tx)
		locked, err := orderRepo.GetByIDForUpdate(order.ID)
		if err != nil {
			return err
		}
		if locked == nil {
			return ErrOrderNotFound
		}
		_, noop, err := resolveOrderTransition(orderStateOf(locked), OrderEventRefunded)
		if err != nil {
			return err
		}
		order = locked
		if noop {
			return nil
		}
		affected, err := orderRepo.UpdateFromStatus(locked.ID, constants.OrderStatusCompleted, constants.PaymentStatusPaid, map[string]interface{}{
			"status":         constants.OrderStatusRefunded,
			"payment_status": constants.PaymentStatusRefunded,
			"refunded_at":    now,
			"updated_at":     now,
		})
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}
		locked.Status = constants.OrderStatusRefunded
		locked.PaymentStatus = constants.PaymentStatusRefunded
		locked.RefundedAt = &now

		if err := s.reverseCouponTx(tx, locked, now); err != nil {
			return err
		}
		if s.commissions != nil {
			n, err := s.commissions.CancelForOrderTx(tx, locked.ID, constants.CommissionCancelReasonRefunded)
			if err != nil {
				return err
			}
			cancelled = n
		}
		changed = true
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrOrderStatusInvalid) || errors.Is(err, ErrOrderNotPaid) || errors.Is(err, ErrOrderNotFound) {
			log.Warnw("order_transition_rejected", "event", OrderEventRefunded, "error", err)
			return nil, err
		}
		log.Errorw("order_refund_failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrOrderUpdateFailed, err)
	}
	if changed {
		log.Infow("order_refunded", "commissions_cancelled", cancelled)
	} else {
		log.Infow("order_refund_idempotent")
	}
	return &TransitionResult{Order: order, Changed: changed}, nil
}

// redeemCouponTx 核销优惠券：每单一条核销记录，使用次数原子加一
func (s *OrderLedger) redeemCouponTx(tx *gorm.DB, order *models.Order) error {
	if order.CouponID == nil || *order.CouponID == 0 || s.couponRepo == nil {
		return nil
	}
	couponRepo := s.couponRepo.WithTx(tx)
	existing, err := couponRepo.GetRedemptionByOrder(*order.CouponID, order.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	if err := couponRepo.CreateRedemption(&models.CouponRedemption{
		CouponID:       *order.CouponID,
		OrderID:        order.ID,
		UserID:         order.UserID,
		DiscountAmount: order.DiscountAmount,
	}); err != nil {
		return err
	}
	return couponRepo.IncrementUsedCount(*order.CouponID, 1)
}

// reverseCouponTx 退款冲回优惠券：使用次数减一（不低于 0），核销记录保留并打标
func (s *OrderLedger) reverseCouponTx(tx *gorm.DB, order *models.Order, now time.Time) error {
	if order.CouponID == nil || *order.CouponID == 0 || s.couponRepo == nil {
		return nil
	}
	couponRepo := s.couponRepo.WithTx(tx)
	redemption, err := couponRepo.GetRedemptionByOrder(*order.CouponID, order.ID)
	if err != nil {
		return err
	}
	if redemption == nil || redemption.ReversedAt != nil {
		return nil
	}
	if _, err := couponRepo.DecrementUsedCount(*order.CouponID, 1); err != nil {
		return err
	}
	return couponRepo.MarkRedemptionReversed(*order.CouponID, order.ID, now)
}

// locateOrder 依次按订单号、网关订单引用、扣款ID定位订单
func (s *OrderLedger) locateOrder(ev PaymentEvent) (*models.Order, error) {
	provider := strings.ToLower(strings.TrimSpace(ev.Provider))
	if orderNo := strings.TrimSpace(ev.OrderNo); orderNo != "" {
		order, err := s.orderRepo.GetByOrderNo(orderNo)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrOrderFetchFailed, err)
		}
		if order != nil {
			if provider != "" && order.Provider != "" && order.Provider != provider {
				return nil, fmt.Errorf("%w: provider mismatch", ErrOrderNotFound)
			}
			return order, nil
		}
	}
	if ref := strings.TrimSpace(ev.ProviderRef); ref != "" {
		order, err := s.orderRepo.GetByProviderRef(provider, ref)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrOrderFetchFailed, err)
		}
		if order != nil {
			return order, nil
		}
	}
	if ref := strings.TrimSpace(ev.ChargeRef); ref != "" {
		order, err := s.orderRepo.GetByChargeRef(provider, ref)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrOrderFetchFailed, err)
		}
		if order != nil {
			return order, nil
		}
	}
	return nil, ErrOrderNotFound
}

// checkReportedAmount 网关上报金额仅用于核对，副作用始终以订单实付金额为准
func (s *OrderLedger) checkReportedAmount(order *models.Order, ev PaymentEvent, log *zap.SugaredLogger) {
	if raw := strings.TrimSpace(ev.Amount); raw != "" {
		reported, err := decimal.NewFromString(raw)
		if err != nil || !reported.Round(2).Equal(order.TotalAmount.Decimal.Round(2)) {
			log.Warnw("order_amount_mismatch",
				"stored_amount", order.TotalAmount.String(),
				"reported_amount", raw,
			)
		}
	}
	if currency := strings.ToUpper(strings.TrimSpace(ev.Currency)); currency != "" && currency != order.Currency {
		log.Warnw("order_currency_mismatch",
			"stored_currency", order.Currency,
			"reported_currency", currency,
		)
	}
}

func (s *OrderLedger) backfillChargeRef(order *models.Order, chargeRef string, log *zap.SugaredLogger) {
	chargeRef = strings.TrimSpace(chargeRef)
	if order.ChargeRef != "" || chargeRef == "" {
		return
	}
	if err := s.orderRepo.UpdateFields(order.ID, map[string]interface{}{"charge_ref": chargeRef}); err != nil {
		log.Warnw("order_charge_ref_backfill_failed", "error", err)
		return
	}
	order.ChargeRef = chargeRef
}

func (s *OrderLedger) resolveAffiliate(rawCode string, buyerID uint) (*uint, string, error) {
	code := strings.TrimSpace(rawCode)
	if code == "" || s.affiliateRepo == nil {
		return nil, "", nil
	}
	profile, err := s.affiliateRepo.GetProfileByCode(code)
	if err != nil {
		return nil, "", err
	}
	if profile == nil || profile.Status != constants.AffiliateStatusActive {
		return nil, "", nil
	}
	if buyerID > 0 && profile.UserID == buyerID {
		return nil, "", nil
	}
	id := profile.ID
	return &id, profile.AffiliateCode, nil
}

func (s *OrderLedger) gateway(provider string) (gateway.Gateway, error) {
	if s.gateways == nil {
		return nil, ErrGatewayNotFound
	}
	gw, err := s.gateways.Get(provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrGatewayNotFound, provider)
	}
	return gw, nil
}

// calcCouponDiscount 计算优惠金额，不超过小计
func calcCouponDiscount(coupon *models.Coupon, subtotal decimal.Decimal) decimal.Decimal {
	var discount decimal.Decimal
	switch coupon.Type {
	case constants.CouponTypePercent:
		discount = subtotal.Mul(coupon.Value.Decimal).Div(decimal.NewFromInt(100)).Round(2)
	default:
		discount = coupon.Value.Decimal.Round(2)
	}
	if coupon.MaxDiscount.Decimal.GreaterThan(decimal.Zero) && discount.GreaterThan(coupon.MaxDiscount.Decimal) {
		discount = coupon.MaxDiscount.Decimal.Round(2)
	}
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	return discount
}

func eventLogger(ctx context.Context, ev PaymentEvent) *zap.SugaredLogger {
	return ledgerLogger(ctx,
		"provider", ev.Provider,
		"event_id", ev.EventID,
		"event_order_no", ev.OrderNo,
		"event_provider_ref", ev.ProviderRef,
	)
}

func generateOrderNo() string {
	now := time.Now().Format("20060102150405")
	return fmt.Sprintf("RC%s%s", now, randNumeric(6))
}

func randNumeric(length int) string {
	var b strings.Builder
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			b.WriteString("0")
			continue
		}
		b.WriteString(n.String())
	}
	return b.String()
}
