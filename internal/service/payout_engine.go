package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dujiao-next/reconciler/internal/config"
	"github.com/dujiao-next/reconciler/internal/constants"
	"github.com/dujiao-next/reconciler/internal/gateway"
	"github.com/dujiao-next/reconciler/internal/idempotency"
	"github.com/dujiao-next/reconciler/internal/metrics"
	"github.com/dujiao-next/reconciler/internal/models"
	"github.com/dujiao-next/reconciler/internal/repository"
	"github.com/dujiao-next/reconciler/internal/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	payoutReasonNotEligible     = ErrPayoutNotEligible.Error()
	payoutReasonNoDestination   = ErrPayoutDestinationEmpty.Error()
	payoutReasonPayoutsDisabled = "payouts disabled"
	payoutReasonBusy            = "payout in progress"
)

// PayoutEngine 佣金打款执行器
type PayoutEngine struct {
	commissionRepo repository.CommissionRepository
	affiliateRepo  repository.AffiliateRepository
	orderRepo      repository.OrderRepository
	gateways       *gateway.Registry
	lease          idempotency.Guard
	metrics        *metrics.Metrics
	cfg            config.PayoutConfig
	now            func() time.Time
}

// NewPayoutEngine 创建打款执行器，lease 的过期时间即租约时长
func NewPayoutEngine(
	commissionRepo repository.CommissionRepository,
	affiliateRepo repository.AffiliateRepository,
	orderRepo repository.OrderRepository,
	gateways *gateway.Registry,
	lease idempotency.Guard,
	m *metrics.Metrics,
	cfg config.PayoutConfig,
) *PayoutEngine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.TransferTimeoutSeconds <= 0 {
		cfg.TransferTimeoutSeconds = 15
	}
	return &PayoutEngine{
		commissionRepo: commissionRepo,
		affiliateRepo:  affiliateRepo,
		orderRepo:      orderRepo,
		gateways:       gateways,
		lease:          lease,
		metrics:        m,
		cfg:            cfg,
		now:            time.Now,
	}
}

// PayoutOutcome 单笔打款结果
type PayoutOutcome struct {
	CommissionID uint   `json:"commission_id"`
	Result       string `json:"result"`
	TransferRef  string `json:"transfer_ref,omitempty"`
	Attempt      int    `json:"attempt"`
	Reason       string `json:"reason,omitempty"`
}

// AffiliatePayoutSummary 单个推广用户的打款汇总
type AffiliatePayoutSummary struct {
	AffiliateProfileID uint            `json:"affiliate_profile_id"`
	AffiliateCode      string          `json:"affiliate_code"`
	Succeeded          int             `json:"succeeded"`
	Failed             int             `json:"failed"`
	Skipped            int             `json:"skipped"`
	Outcomes           []PayoutOutcome `json:"outcomes,omitempty"`
}

// MaxAttempts 打款尝试上限
func (e *PayoutEngine) MaxAttempts() int {
	return e.cfg.MaxAttempts
}

func payoutLogger(ctx context.Context, kv ...interface{}) *zap.SugaredLogger {
	return ledgerLogger(ctx, kv...)
}

// PayCommission 对单笔已审核佣金发起转账，网关错误记录为失败尝试而不返回 error
func (e *PayoutEngine) PayCommission(ctx context.Context, commissionID uint, trigger string) (*PayoutOutcome, error) {
	log := payoutLogger(ctx, "commission_id", commissionID, "trigger", trigger)
	commission, err := e.commissionRepo.GetByID(commissionID)
	if err != nil {
		return nil, err
	}
	if commission == nil {
		return nil, ErrCommissionNotFound
	}
	if reason := e.ineligibleReason(commission); reason != "" {
		log.Debugw("payout_skip_not_eligible", "reason", reason, "status", commission.Status)
		return e.skipped(ctx, commission, reason), nil
	}
	profile, err := e.affiliateRepo.GetProfileByID(commission.AffiliateProfileID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, ErrAffiliateNotFound
	}
	return e.payWithLease(ctx, commission.ID, profile, trigger)
}

// PayAffiliate 逐笔处理推广用户的可打款佣金，单笔失败不影响其余佣金
func (e *PayoutEngine) PayAffiliate(ctx context.Context, profile *models.AffiliateProfile, trigger string) (*AffiliatePayoutSummary, error) {
	if profile == nil {
		return nil, ErrAffiliateNotFound
	}
	summary := &AffiliatePayoutSummary{
		AffiliateProfileID: profile.ID,
		AffiliateCode:      profile.AffiliateCode,
	}
	log := payoutLogger(ctx, "affiliate_profile_id", profile.ID, "affiliate_code", profile.AffiliateCode, "trigger", trigger)
	if reason := destinationReason(profile); reason != "" {
		log.Infow("payout_affiliate_skipped", "reason", reason)
		summary.Skipped++
		return summary, nil
	}
	rows, err := e.commissionRepo.ListPayable(profile.ID, e.cfg.MaxAttempts)
	if err != nil {
		return summary, err
	}
	for i := range rows {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		outcome, err := e.payWithLease(ctx, rows[i].ID, profile, trigger)
		if err != nil {
			log.Errorw("payout_commission_error", "commission_id", rows[i].ID, "error", err)
			summary.Failed++
			summary.Outcomes = append(summary.Outcomes, PayoutOutcome{
				CommissionID: rows[i].ID,
				Result:       constants.PayoutResultFailed,
				Reason:       err.Error(),
			})
			continue
		}
		switch outcome.Result {
		case constants.PayoutResultSucceeded:
			summary.Succeeded++
		case constants.PayoutResultFailed:
			summary.Failed++
		default:
			summary.Skipped++
		}
		summary.Outcomes = append(summary.Outcomes, *outcome)
	}
	if len(rows) > 0 {
		log.Infow("payout_affiliate_done",
			"succeeded", summary.Succeeded,
			"failed", summary.Failed,
			"skipped", summary.Skipped,
		)
	}
	return summary, nil
}

func (e *PayoutEngine) payWithLease(ctx context.Context, commissionID uint, profile *models.AffiliateProfile, trigger string) (*PayoutOutcome, error) {
	log := payoutLogger(ctx, "commission_id", commissionID, "affiliate_profile_id", profile.ID, "trigger", trigger)
	if reason := destinationReason(profile); reason != "" {
		return &PayoutOutcome{CommissionID: commissionID, Result: constants.PayoutResultSkipped, Reason: reason}, nil
	}
	if e.lease != nil {
		leaseKey := fmt.Sprintf(constants.PayoutLeaseKeyPattern, commissionID)
		claimed, err := e.lease.Claim(ctx, leaseKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIdempotencyUnavailable, err)
		}
		if !claimed {
			log.Infow("payout_lease_busy")
			return &PayoutOutcome{CommissionID: commissionID, Result: constants.PayoutResultSkipped, Reason: payoutReasonBusy}, nil
		}
		defer func() {
			if err := e.lease.Release(context.WithoutCancel(ctx), leaseKey); err != nil {
				log.Warnw("payout_lease_release_failed", "error", err)
			}
		}()
	}

	// 持有租约后重新读取，以最新状态判断
	commission, err := e.commissionRepo.GetByID(commissionID)
	if err != nil {
		return nil, err
	}
	if commission == nil {
		return nil, ErrCommissionNotFound
	}
	if reason := e.ineligibleReason(commission); reason != "" {
		return e.skipped(ctx, commission, reason), nil
	}
	return e.execute(ctx, commission, profile, trigger, log)
}

func (e *PayoutEngine) execute(ctx context.Context, commission *models.AffiliateCommission, profile *models.AffiliateProfile, trigger string, log *zap.SugaredLogger) (outcome *PayoutOutcome, err error) {
	providerName := strings.ToLower(strings.TrimSpace(profile.PayoutProvider))
	if providerName == "" {
		providerName = strings.ToLower(strings.TrimSpace(e.cfg.Provider))
	}
	attempt := &models.PayoutAttempt{
		CommissionID:       commission.ID,
		AffiliateProfileID: commission.AffiliateProfileID,
		Attempt:            commission.TransferAttemptCount + 1,
		IdempotencyKey:     fmt.Sprintf(constants.PayoutIdempotencyKey, commission.ID),
		Provider:           providerName,
		Amount:             commission.CommissionAmount,
		Currency:           commission.Currency,
		Trigger:            trigger,
	}
	log = log.With("provider", providerName, "attempt", attempt.Attempt)
	ctx, span := telemetry.StartSpan(ctx, "payout.execute",
		attribute.Int64("payout.commission_id", int64(commission.ID)),
		attribute.String("payout.provider", providerName),
		attribute.Int("payout.attempt", attempt.Attempt),
		attribute.String("payout.trigger", trigger),
	)
	defer func() {
		spanErr := err
		if spanErr == nil && outcome != nil && outcome.Result == constants.PayoutResultFailed {
			spanErr = errors.New(outcome.Reason)
		}
		if outcome != nil {
			telemetry.AddSpanAttributes(span, attribute.String("payout.result", outcome.Result))
		}
		telemetry.EndSpan(span, spanErr)
	}()

	gw, err := e.gateways.Get(providerName)
	if err != nil {
		return e.recordFailure(ctx, commission, attempt, fmt.Sprintf("gateway %s not configured", providerName), log)
	}
	sourceCharge, orderNo, err := e.resolveSourceCharge(ctx, commission, providerName, gw, log)
	if err != nil {
		return e.recordFailure(ctx, commission, attempt, err.Error(), log)
	}
	attempt.SourceChargeRef = sourceCharge

	transferCtx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.TransferTimeoutSeconds)*time.Second)
	started := time.Now()
	result, err := gw.Transfer(transferCtx, gateway.TransferInput{
		Destination:     profile.PayoutAccountRef,
		Amount:          commission.CommissionAmount.StringFixed(2),
		Currency:        commission.Currency,
		SourceChargeRef: sourceCharge,
		IdempotencyKey:  attempt.IdempotencyKey,
		Metadata: map[string]string{
			"commission_id":  strconv.FormatUint(uint64(commission.ID), 10),
			"order_id":       strconv.FormatUint(uint64(commission.OrderID), 10),
			"order_no":       orderNo,
			"affiliate_code": profile.AffiliateCode,
		},
	})
	cancel()
	e.metrics.RecordTransferDuration(ctx, providerName, time.Since(started))
	if err != nil {
		log.Warnw("payout_transfer_failed", "transient", gateway.IsTransient(err), "error", err)
		return e.recordFailure(ctx, commission, attempt, err.Error(), log)
	}
	if result == nil || strings.TrimSpace(result.TransferRef) == "" {
		return e.recordFailure(ctx, commission, attempt, "transfer reference missing", log)
	}
	return e.recordSuccess(ctx, commission, attempt, result.TransferRef, log)
}

// resolveSourceCharge 需要来源扣款的网关先取订单扣款ID，缺失时向网关查询并回写；同时返回订单号
func (e *PayoutEngine) resolveSourceCharge(ctx context.Context, commission *models.AffiliateCommission, providerName string, gw gateway.Gateway, log *zap.SugaredLogger) (string, string, error) {
	order, err := e.orderRepo.GetByID(commission.OrderID)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrOrderFetchFailed, err)
	}
	if order == nil {
		return "", "", fmt.Errorf("%w: order %d", ErrSourceChargeNotFound, commission.OrderID)
	}
	if order.ChargeRef != "" || providerName != constants.GatewayStripe {
		return order.ChargeRef, order.OrderNo, nil
	}
	if order.Provider != providerName || order.ProviderRef == "" {
		return "", order.OrderNo, ErrSourceChargeNotFound
	}
	statusCtx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.TransferTimeoutSeconds)*time.Second)
	defer cancel()
	status, err := gw.GetStatus(statusCtx, order.ProviderRef)
	if err != nil {
		return "", order.OrderNo, fmt.Errorf("%w: %v", ErrSourceChargeNotFound, err)
	}
	if status == nil || status.ChargeRef == "" {
		return "", order.OrderNo, ErrSourceChargeNotFound
	}
	if err := e.orderRepo.UpdateFields(order.ID, map[string]interface{}{"charge_ref": status.ChargeRef}); err != nil {
		log.Warnw("order_charge_ref_backfill_failed", "order_id", order.ID, "error", err)
	} else {
		log.Infow("order_charge_ref_resolved", "order_id", order.ID, "charge_ref", status.ChargeRef)
	}
	return status.ChargeRef, order.OrderNo, nil
}

func (e *PayoutEngine) recordSuccess(ctx context.Context, commission *models.AffiliateCommission, attempt *models.PayoutAttempt, transferRef string, log *zap.SugaredLogger) (*PayoutOutcome, error) {
	now := e.now()
	orphaned := false
	attempt.Result = constants.PayoutResultSucceeded
	attempt.TransferRef = transferRef
	attempt.CreatedAt = now
	err := e.commissionRepo.Transaction(func(tx *gorm.DB) error {
		repo := e.commissionRepo.WithTx(tx)
		affected, err := repo.MarkTransferSucceeded(commission.ID, transferRef, now)
		if err != nil {
			return err
		}
		if affected == 0 {
			orphaned = true
			if err := repo.FlagOrphanTransfer(commission.ID, transferRef, now); err != nil {
				return err
			}
			return repo.CreateAttempt(attempt)
		}
		if err := e.affiliateRepo.WithTx(tx).MovePendingToPaid(commission.AffiliateProfileID, commission.CommissionAmount.Decimal); err != nil {
			return err
		}
		return repo.CreateAttempt(attempt)
	})
	if err != nil {
		log.Errorw("payout_success_record_failed", "transfer_ref", transferRef, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrPayoutUpdateFailed, err)
	}
	e.metrics.RecordPayoutAttempt(ctx, attempt.Provider, constants.PayoutResultSucceeded)
	if orphaned {
		log.Errorw("payout_transfer_orphaned", "transfer_ref", transferRef)
	} else {
		log.Infow("payout_transfer_succeeded",
			"transfer_ref", transferRef,
			"amount", commission.CommissionAmount.String(),
		)
	}
	return &PayoutOutcome{
		CommissionID: commission.ID,
		Result:       constants.PayoutResultSucceeded,
		TransferRef:  transferRef,
		Attempt:      attempt.Attempt,
	}, nil
}

func (e *PayoutEngine) recordFailure(ctx context.Context, commission *models.AffiliateCommission, attempt *models.PayoutAttempt, message string, log *zap.SugaredLogger) (*PayoutOutcome, error) {
	now := e.now()
	message = truncateError(message)
	attempt.Result = constants.PayoutResultFailed
	attempt.Error = message
	attempt.CreatedAt = now
	err := e.commissionRepo.Transaction(func(tx *gorm.DB) error {
		repo := e.commissionRepo.WithTx(tx)
		if _, err := repo.RecordTransferFailure(commission.ID, message, now, e.cfg.MaxAttempts); err != nil {
			return err
		}
		return repo.CreateAttempt(attempt)
	})
	if err != nil {
		log.Errorw("payout_failure_record_failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrPayoutUpdateFailed, err)
	}
	e.metrics.RecordPayoutAttempt(ctx, attempt.Provider, constants.PayoutResultFailed)
	log.Warnw("payout_attempt_failed", "reason", message, "max_attempts", e.cfg.MaxAttempts)
	return &PayoutOutcome{
		CommissionID: commission.ID,
		Result:       constants.PayoutResultFailed,
		Attempt:      attempt.Attempt,
		Reason:       message,
	}, nil
}

func (e *PayoutEngine) skipped(ctx context.Context, commission *models.AffiliateCommission, reason string) *PayoutOutcome {
	e.metrics.RecordPayoutAttempt(ctx, e.cfg.Provider, constants.PayoutResultSkipped)
	return &PayoutOutcome{
		CommissionID: commission.ID,
		Result:       constants.PayoutResultSkipped,
		TransferRef:  commission.TransferRef,
		Attempt:      commission.TransferAttemptCount,
		Reason:       reason,
	}
}

// ineligibleReason 返回空串表示可发起转账
func (e *PayoutEngine) ineligibleReason(c *models.AffiliateCommission) string {
	if c.Status != constants.CommissionStatusApproved {
		return payoutReasonNotEligible
	}
	if c.TransferRef != "" && c.TransferStatus != constants.TransferStatusFailed {
		return payoutReasonNotEligible
	}
	if c.TransferAttemptCount >= e.cfg.MaxAttempts {
		return payoutReasonNotEligible
	}
	return ""
}

func destinationReason(profile *models.AffiliateProfile) string {
	if !profile.HasPayoutDestination() {
		return payoutReasonNoDestination
	}
	if !profile.PayoutsEnabled {
		return payoutReasonPayoutsDisabled
	}
	return ""
}

// truncateError 按字节上限截断，截断点回退到字符边界
func truncateError(message string) string {
	const limit = 1000
	message = strings.TrimSpace(message)
	if len(message) <= limit {
		return message
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(message[cut]) {
		cut--
	}
	return message[:cut]
}
