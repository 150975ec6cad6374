package repository

import (
	"time"

	"github.com/dujiao-next/reconciler/internal/constants"
	"github.com/dujiao-next/reconciler/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CommissionRepository 佣金数据访问接口
type CommissionRepository interface {
	Transaction(fn func(tx *gorm.DB) error) error
	WithTx(tx *gorm.DB) CommissionRepository

	Create(commission *models.AffiliateCommission) error
	GetByID(id uint) (*models.AffiliateCommission, error)
	GetByIDForUpdate(id uint) (*models.AffiliateCommission, error)
	GetByOrderAndProfile(orderID, profileID uint) (*models.AffiliateCommission, error)
	ListByOrderForUpdate(orderID uint) ([]models.AffiliateCommission, error)
	ListPayable(profileID uint, maxAttempts int) ([]models.AffiliateCommission, error)
	List(filter CommissionListFilter) ([]models.AffiliateCommission, int64, error)

	UpdateFromStatus(id uint, fromStatus string, updates map[string]interface{}) (int64, error)
	ApprovePendingBefore(before, now time.Time, limit int) (int64, error)
	MarkTransferSucceeded(id uint, transferRef string, at time.Time) (int64, error)
	RecordTransferFailure(id uint, message string, at time.Time, maxAttempts int) (int64, error)
	FlagOrphanTransfer(id uint, transferRef string, at time.Time) error

	CreateAttempt(attempt *models.PayoutAttempt) error
	ListAttempts(commissionID uint) ([]models.PayoutAttempt, error)
}

// CommissionListFilter 佣金列表筛选
type CommissionListFilter struct {
	AffiliateProfileID uint
	Status             string
	TransferStatus     string
	HasError           bool
	NeedsAction        bool
	MaxAttempts        int
	Page               int
	PageSize           int
}

// GormCommissionRepository GORM 佣金仓储
type GormCommissionRepository struct {
	db *gorm.DB
}

// NewCommissionRepository 创建佣金仓储
func NewCommissionRepository(db *gorm.DB) *GormCommissionRepository {
	return &GormCommissionRepository{db: db}
}

// WithTx 绑定事务
func (r *GormCommissionRepository) WithTx(tx *gorm.DB) CommissionRepository {
	if tx == nil {
		return r
	}
	return &GormCommissionRepository{db: tx}
}

// Transaction 执行事务
func (r *GormCommissionRepository) Transaction(fn func(tx *gorm.DB) error) error {
	if fn == nil {
		return nil
	}
	return r.db.Transaction(fn)
}

// Create 创建佣金记录
func (r *GormCommissionRepository) Create(commission *models.AffiliateCommission) error {
	return r.db.Omit(clause.Associations).Create(commission).Error
}

// GetByID 按ID获取佣金
func (r *GormCommissionRepository) GetByID(id uint) (*models.AffiliateCommission, error) {
	var row models.AffiliateCommission
	if err := r.db.First(&row, id).Error; err != nil {
		return nil, notFoundAsNil(err)
	}
	return &row, nil
}

// GetByIDForUpdate 加行锁读取佣金，需在事务内调用
func (r *GormCommissionRepository) GetByIDForUpdate(id uint) (*models.AffiliateCommission, error) {
	var row models.AffiliateCommission
	if err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, id).Error; err != nil {
		return nil, notFoundAsNil(err)
	}
	return &row, nil
}

// GetByOrderAndProfile 按订单与推广用户获取佣金
func (r *GormCommissionRepository) GetByOrderAndProfile(orderID, profileID uint) (*models.AffiliateCommission, error) {
	var row models.AffiliateCommission
	if err := r.db.Where("order_id = ? AND affiliate_profile_id = ?", orderID, profileID).First(&row).Error; err != nil {
		return nil, notFoundAsNil(err)
	}
	return &row, nil
}

// ListByOrderForUpdate 按订单查询佣金并加锁
func (r *GormCommissionRepository) ListByOrderForUpdate(orderID uint) ([]models.AffiliateCommission, error) {
	if orderID == 0 {
		return []models.AffiliateCommission{}, nil
	}
	var rows []models.AffiliateCommission
	if err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_id = ?", orderID).
		Order("id asc").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListPayable 列出可发起打款的佣金：已审核、无成功转账、未达尝试上限
func (r *GormCommissionRepository) ListPayable(profileID uint, maxAttempts int) ([]models.AffiliateCommission, error) {
	query := r.db.Model(&models.AffiliateCommission{}).
		Where("status = ?", constants.CommissionStatusApproved).
		Where("(transfer_ref = '' OR transfer_ref IS NULL OR transfer_status = ?)", constants.TransferStatusFailed)
	if profileID > 0 {
		query = query.Where("affiliate_profile_id = ?", profileID)
	}
	if maxAttempts > 0 {
		query = query.Where("transfer_attempt_count < ?", maxAttempts)
	}
	var rows []models.AffiliateCommission
	if err := query.Order("id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// List 运营查询佣金列表
func (r *GormCommissionRepository) List(filter CommissionListFilter) ([]models.AffiliateCommission, int64, error) {
	query := r.db.Model(&models.AffiliateCommission{})
	if filter.AffiliateProfileID > 0 {
		query = query.Where("affiliate_profile_id = ?", filter.AffiliateProfileID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.TransferStatus != "" {
		query = query.Where("transfer_status = ?", filter.TransferStatus)
	}
	if filter.HasError {
		query = query.Where("transfer_error <> ''")
	}
	if filter.NeedsAction {
		if filter.MaxAttempts > 0 {
			query = query.Where("(reversal_required = ? OR (status = ? AND transfer_attempt_count >= ?))",
				true, constants.CommissionStatusApproved, filter.MaxAttempts)
		} else {
			query = query.Where("reversal_required = ?", true)
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query = applyPagination(query, filter.Page, filter.PageSize)

	var rows []models.AffiliateCommission
	if err := query.Order("id desc").Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// UpdateFromStatus 仅当佣金仍处于给定状态时更新
func (r *GormCommissionRepository) UpdateFromStatus(id uint, fromStatus string, updates map[string]interface{}) (int64, error) {
	result := r.db.Model(&models.AffiliateCommission{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// ApprovePendingBefore 批量审核通过创建时间早于 before 的待审核佣金
func (r *GormCommissionRepository) ApprovePendingBefore(before, now time.Time, limit int) (int64, error) {
	sub := r.db.Model(&models.AffiliateCommission{}).
		Select("id").
		Where("status = ? AND created_at <= ?", constants.CommissionStatusPending, before).
		Order("id asc")
	sub = applyBatchLimit(sub, limit)
	result := r.db.Model(&models.AffiliateCommission{}).
		Where("id IN (?)", sub).
		Where("status = ?", constants.CommissionStatusPending).
		Updates(map[string]interface{}{
			"status":      constants.CommissionStatusApproved,
			"approved_at": now,
			"updated_at":  now,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// MarkTransferSucceeded 记录转账成功，仅对仍为已审核且无成功转账的记录生效
func (r *GormCommissionRepository) MarkTransferSucceeded(id uint, transferRef string, at time.Time) (int64, error) {
	result := r.db.Model(&models.AffiliateCommission{}).
		Where("id = ? AND status = ?", id, constants.CommissionStatusApproved).
		Where("(transfer_ref = '' OR transfer_ref IS NULL OR transfer_status = ?)", constants.TransferStatusFailed).
		UpdateColumns(map[string]interface{}{
			"status":                   constants.CommissionStatusPaid,
			"transfer_ref":             transferRef,
			"transfer_status":          constants.TransferStatusProcessing,
			"transfer_error":           "",
			"transfer_attempt_count":   gorm.Expr("transfer_attempt_count + 1"),
			"last_transfer_attempt_at": at,
			"paid_at":                  at,
			"updated_at":               at,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// RecordTransferFailure 记录转账失败并累加尝试次数，达到上限后不再累加
func (r *GormCommissionRepository) RecordTransferFailure(id uint, message string, at time.Time, maxAttempts int) (int64, error) {
	query := r.db.Model(&models.AffiliateCommission{}).
		Where("id = ? AND status = ?", id, constants.CommissionStatusApproved)
	if maxAttempts > 0 {
		query = query.Where("transfer_attempt_count < ?", maxAttempts)
	}
	result := query.UpdateColumns(map[string]interface{}{
		"transfer_status":          constants.TransferStatusFailed,
		"transfer_error":           message,
		"transfer_attempt_count":   gorm.Expr("transfer_attempt_count + 1"),
		"last_transfer_attempt_at": at,
		"updated_at":               at,
	})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// FlagOrphanTransfer 转账成功但佣金已不可打款（如已退款取消），保留转账ID并标记待追回
func (r *GormCommissionRepository) FlagOrphanTransfer(id uint, transferRef string, at time.Time) error {
	return r.db.Model(&models.AffiliateCommission{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"transfer_ref":             transferRef,
			"transfer_status":          constants.TransferStatusProcessing,
			"reversal_required":        true,
			"transfer_attempt_count":   gorm.Expr("transfer_attempt_count + 1"),
			"last_transfer_attempt_at": at,
			"updated_at":               at,
		}).Error
}

// CreateAttempt 写入打款尝试流水
func (r *GormCommissionRepository) CreateAttempt(attempt *models.PayoutAttempt) error {
	return r.db.Create(attempt).Error
}

// ListAttempts 查询佣金的打款尝试流水
func (r *GormCommissionRepository) ListAttempts(commissionID uint) ([]models.PayoutAttempt, error) {
	var rows []models.PayoutAttempt
	if err := r.db.Where("commission_id = ?", commissionID).Order("id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
