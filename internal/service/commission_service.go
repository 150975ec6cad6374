package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dujiao-next/reconciler/internal/config"
	"github.com/dujiao-next/reconciler/internal/constants"
	"github.com/dujiao-next/reconciler/internal/models"
	"github.com/dujiao-next/reconciler/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CommissionService 佣金账本
type CommissionService struct {
	repo          repository.CommissionRepository
	affiliateRepo repository.AffiliateRepository
	orderRepo     repository.OrderRepository
	queue         TaskEnqueuer
	cfg           config.CommissionConfig
	payoutCfg     config.PayoutConfig
	now           func() time.Time
}

// NewCommissionService 创建佣金服务
func NewCommissionService(
	repo repository.CommissionRepository,
	affiliateRepo repository.AffiliateRepository,
	orderRepo repository.OrderRepository,
	queueClient TaskEnqueuer,
	cfg config.CommissionConfig,
	payoutCfg config.PayoutConfig,
) *CommissionService {
	return &CommissionService{
		repo:          repo,
		affiliateRepo: affiliateRepo,
		orderRepo:     orderRepo,
		queue:         queueClient,
		cfg:           cfg,
		payoutCfg:     payoutCfg,
		now:           time.Now,
	}
}

// CommissionListInput 运营查询条件
type CommissionListInput struct {
	AffiliateCode  string
	Status         string
	TransferStatus string
	HasError       bool
	NeedsAction    bool
	Page           int
	PageSize       int
}

func commissionLogger(ctx context.Context, kv ...interface{}) *zap.SugaredLogger {
	return ledgerLogger(ctx, kv...)
}

// CreateForPaidOrderTx 在订单支付事务内生成佣金，返回 created=false 表示无需或已生成
func (s *CommissionService) CreateForPaidOrderTx(tx *gorm.DB, order *models.Order) (*models.AffiliateCommission, bool, error) {
	if order == nil || order.AffiliateProfileID == nil || *order.AffiliateProfileID == 0 {
		return nil, false, nil
	}
	if orderStateOf(order) != orderStateCompleted {
		return nil, false, nil
	}
	log := commissionLogger(tx.Statement.Context, "order_id", order.ID, "affiliate_profile_id", *order.AffiliateProfileID)

	affiliateRepo := s.affiliateRepo.WithTx(tx)
	profile, err := affiliateRepo.GetProfileByID(*order.AffiliateProfileID)
	if err != nil {
		return nil, false, err
	}
	if profile == nil || profile.Status != constants.AffiliateStatusActive {
		log.Infow("commission_skip_affiliate_inactive")
		return nil, false, nil
	}
	if order.UserID > 0 && profile.UserID == order.UserID {
		log.Infow("commission_skip_self_referral")
		return nil, false, nil
	}
	repo := s.repo.WithTx(tx)
	existing, err := repo.GetByOrderAndProfile(order.ID, profile.ID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	amount, rate := calcCommissionAmount(profile, order.TotalAmount.Decimal)
	if amount.LessThanOrEqual(decimal.Zero) {
		log.Infow("commission_skip_zero_amount", "order_total", order.TotalAmount.String())
		return nil, false, nil
	}
	now := s.now()
	row := &models.AffiliateCommission{
		AffiliateProfileID: profile.ID,
		OrderID:            order.ID,
		CommissionType:     normalizeCommissionType(profile.CommissionType),
		OrderTotal:         order.TotalAmount,
		RatePercent:        models.NewMoneyFromDecimal(rate),
		CommissionAmount:   models.NewMoneyFromDecimal(amount),
		Currency:           order.Currency,
		Status:             constants.CommissionStatusPending,
		TransferStatus:     constants.TransferStatusNone,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if s.cfg.ApproveImmediatelyOnPaid {
		row.Status = constants.CommissionStatusApproved
		row.ApprovedAt = &now
	}

	duplicate := false
	// 嵌套事务即保存点，唯一键冲突只回滚本段
	err = tx.Transaction(func(inner *gorm.DB) error {
		if err := s.repo.WithTx(inner).Create(row); err != nil {
			if repository.IsUniqueViolation(err) {
				duplicate = true
			}
			return err
		}
		return s.affiliateRepo.WithTx(inner).AddCommission(profile.ID, order.TotalAmount.Decimal, amount)
	})
	if err != nil {
		if duplicate {
			log.Infow("commission_already_exists")
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: %v", ErrCommissionCreateFailed, err)
	}
	log.Infow("commission_created",
		"commission_id", row.ID,
		"commission_amount", row.CommissionAmount.String(),
		"status", row.Status,
	)
	return row, true, nil
}

// CreateCommissionForPaidOrder 独立事务补生成佣金
func (s *CommissionService) CreateCommissionForPaidOrder(ctx context.Context, orderID uint) (*models.AffiliateCommission, error) {
	order, err := s.orderRepo.GetByID(orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOrderFetchFailed, err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if orderStateOf(order) != orderStateCompleted {
		return nil, ErrOrderNotPaid
	}
	var row *models.AffiliateCommission
	created := false
	err = s.repo.Transaction(func(tx *gorm.DB) error {
		var err error
		row, created, err = s.CreateForPaidOrderTx(tx, order)
		return err
	})
	if err != nil {
		return nil, err
	}
	if created && row.Status == constants.CommissionStatusApproved && s.payoutCfg.AutoEnabled {
		enqueueCommissionPayout(s.queue, row.ID, constants.PayoutTriggerTask, commissionLogger(ctx, "order_id", order.ID))
	}
	return row, nil
}

// Approve 审核通过：pending → approved
func (s *CommissionService) Approve(ctx context.Context, id uint) (*models.AffiliateCommission, error) {
	row, err := s.repo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrCommissionNotFound
	}
	if row.Status == constants.CommissionStatusApproved {
		return row, nil
	}
	if row.Status != constants.CommissionStatusPending {
		return nil, fmt.Errorf("%w: %s", ErrCommissionStatusInvalid, row.Status)
	}
	now := s.now()
	affected, err := s.repo.UpdateFromStatus(id, constants.CommissionStatusPending, map[string]interface{}{
		"status":      constants.CommissionStatusApproved,
		"approved_at": now,
		"updated_at":  now,
	})
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: status changed concurrently", ErrCommissionStatusInvalid)
	}
	row.Status = constants.CommissionStatusApproved
	row.ApprovedAt = &now
	log := commissionLogger(ctx, "commission_id", id)
	log.Infow("commission_approved")
	if s.payoutCfg.AutoEnabled {
		enqueueCommissionPayout(s.queue, id, constants.PayoutTriggerTask, log)
	}
	return row, nil
}

// ApproveDue 审核通过超过冻结期的待审核佣金
func (s *CommissionService) ApproveDue(ctx context.Context, now time.Time) (int64, error) {
	if !s.cfg.AutoApprove {
		return 0, nil
	}
	if now.IsZero() {
		now = s.now()
	}
	before := now.Add(-time.Duration(s.cfg.HoldDays) * 24 * time.Hour)
	affected, err := s.repo.ApprovePendingBefore(before, now, s.cfg.ApproveBatchSize)
	if err != nil {
		return 0, err
	}
	if affected > 0 {
		commissionLogger(ctx).Infow("commission_auto_approved", "count", affected, "before", before)
	}
	return affected, nil
}

// CancelForOrderTx 订单退款时在同一事务内取消佣金，返回取消条数
func (s *CommissionService) CancelForOrderTx(tx *gorm.DB, orderID uint, reason string) (int, error) {
	repo := s.repo.WithTx(tx)
	affiliateRepo := s.affiliateRepo.WithTx(tx)
	rows, err := repo.ListByOrderForUpdate(orderID)
	if err != nil {
		return 0, err
	}
	now := s.now()
	cancelled := 0
	for i := range rows {
		row := rows[i]
		log := commissionLogger(tx.Statement.Context, "commission_id", row.ID, "order_id", orderID)
		switch row.Status {
		case constants.CommissionStatusPending, constants.CommissionStatusApproved:
			affected, err := repo.UpdateFromStatus(row.ID, row.Status, map[string]interface{}{
				"status":        constants.CommissionStatusCancelled,
				"cancelled_at":  now,
				"cancel_reason": reason,
				"updated_at":    now,
			})
			if err != nil {
				return cancelled, err
			}
			if affected == 0 {
				continue
			}
			if err := affiliateRepo.ReleasePendingCommission(row.AffiliateProfileID, row.CommissionAmount.Decimal); err != nil {
				return cancelled, err
			}
			cancelled++
			log.Infow("commission_cancelled", "from_status", row.Status, "reason", reason)
		case constants.CommissionStatusPaid:
			// 已打款的金额不自动冲回汇总，交由人工追回
			affected, err := repo.UpdateFromStatus(row.ID, constants.CommissionStatusPaid, map[string]interface{}{
				"status":            constants.CommissionStatusCancelled,
				"cancelled_at":      now,
				"cancel_reason":     reason,
				"reversal_required": true,
				"updated_at":        now,
			})
			if err != nil {
				return cancelled, err
			}
			if affected == 0 {
				continue
			}
			cancelled++
			log.Warnw("commission_reversal_required",
				"transfer_ref", row.TransferRef,
				"commission_amount", row.CommissionAmount.String(),
			)
		}
	}
	return cancelled, nil
}

// List 运营查询佣金
func (s *CommissionService) List(ctx context.Context, input CommissionListInput) ([]models.AffiliateCommission, int64, error) {
	filter := repository.CommissionListFilter{
		Status:         strings.TrimSpace(input.Status),
		TransferStatus: strings.TrimSpace(input.TransferStatus),
		HasError:       input.HasError,
		NeedsAction:    input.NeedsAction,
		MaxAttempts:    s.payoutCfg.MaxAttempts,
		Page:           input.Page,
		PageSize:       input.PageSize,
	}
	if code := strings.TrimSpace(input.AffiliateCode); code != "" {
		profile, err := s.affiliateRepo.GetProfileByCode(code)
		if err != nil {
			return nil, 0, err
		}
		if profile == nil {
			return []models.AffiliateCommission{}, 0, nil
		}
		filter.AffiliateProfileID = profile.ID
	}
	return s.repo.List(filter)
}

// MarkPaidManually 运营线下打款后关闭佣金
func (s *CommissionService) MarkPaidManually(ctx context.Context, id uint, transferRef string) (*models.AffiliateCommission, error) {
	transferRef = strings.TrimSpace(transferRef)
	if transferRef == "" {
		return nil, fmt.Errorf("%w: transfer_ref is required", ErrPayoutUpdateFailed)
	}
	var row *models.AffiliateCommission
	err := s.repo.Transaction(func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		locked, err := repo.GetByIDForUpdate(id)
		if err != nil {
			return err
		}
		if locked == nil {
			return ErrCommissionNotFound
		}
		if locked.Status != constants.CommissionStatusApproved {
			return fmt.Errorf("%w: %s", ErrCommissionStatusInvalid, locked.Status)
		}
		now := s.now()
		affected, err := repo.UpdateFromStatus(id, constants.CommissionStatusApproved, map[string]interface{}{
			"status":          constants.CommissionStatusPaid,
			"transfer_ref":    transferRef,
			"transfer_status": constants.TransferStatusProcessing,
			"transfer_error":  "",
			"paid_at":         now,
			"updated_at":      now,
		})
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("%w: status changed concurrently", ErrCommissionStatusInvalid)
		}
		if err := s.affiliateRepo.WithTx(tx).MovePendingToPaid(locked.AffiliateProfileID, locked.CommissionAmount.Decimal); err != nil {
			return err
		}
		if err := repo.CreateAttempt(&models.PayoutAttempt{
			CommissionID:       locked.ID,
			AffiliateProfileID: locked.AffiliateProfileID,
			Attempt:            locked.TransferAttemptCount,
			IdempotencyKey:     fmt.Sprintf(constants.PayoutIdempotencyKey, locked.ID),
			Provider:           constants.PayoutTriggerManual,
			Amount:             locked.CommissionAmount,
			Currency:           locked.Currency,
			Result:             constants.PayoutResultSucceeded,
			TransferRef:        transferRef,
			Trigger:            constants.PayoutTriggerManual,
			CreatedAt:          now,
		}); err != nil {
			return err
		}
		locked.Status = constants.CommissionStatusPaid
		locked.TransferRef = transferRef
		locked.TransferStatus = constants.TransferStatusProcessing
		locked.TransferError = ""
		locked.PaidAt = &now
		row = locked
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrCommissionNotFound) || errors.Is(err, ErrCommissionStatusInvalid) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrPayoutUpdateFailed, err)
	}
	commissionLogger(ctx, "commission_id", id).Infow("commission_marked_paid_manually", "transfer_ref", transferRef)
	return row, nil
}

// calcCommissionAmount 百分比按实付金额计算，固定佣金不超过实付金额
func calcCommissionAmount(profile *models.AffiliateProfile, total decimal.Decimal) (amount decimal.Decimal, rate decimal.Decimal) {
	if total.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, decimal.Zero
	}
	switch normalizeCommissionType(profile.CommissionType) {
	case constants.CommissionTypeFlat:
		amount = profile.FlatAmount.Decimal
		if amount.GreaterThan(total) {
			amount = total
		}
		return amount.Round(2), decimal.Zero
	default:
		rate = profile.CommissionRate.Decimal
		if rate.LessThanOrEqual(decimal.Zero) {
			return decimal.Zero, decimal.Zero
		}
		return total.Mul(rate).Div(decimal.NewFromInt(100)).Round(2), rate.Round(2)
	}
}

func normalizeCommissionType(raw string) string {
	if strings.EqualFold(strings.TrimSpace(raw), constants.CommissionTypeFlat) {
		return constants.CommissionTypeFlat
	}
	return constants.CommissionTypePercent
}
