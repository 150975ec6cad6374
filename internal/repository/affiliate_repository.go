package repository

import (
	"time"

	"github.com/dujiao-next/reconciler/internal/constants"
	"github.com/dujiao-next/reconciler/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AffiliateRepository 推广用户数据访问接口
type AffiliateRepository interface {
	Transaction(fn func(tx *gorm.DB) error) error
	WithTx(tx *gorm.DB) AffiliateRepository

	GetProfileByID(id uint) (*models.AffiliateProfile, error)
	GetProfileByCode(code string) (*models.AffiliateProfile, error)
	CreateProfile(profile *models.AffiliateProfile) error
	ListPayoutCandidates(filter AffiliatePayoutCandidateFilter) ([]models.AffiliateProfile, error)
	UpdatePayoutsEnabled(id uint, enabled bool, checkedAt time.Time) error

	AddCommission(id uint, revenue, commission decimal.Decimal) error
	ReleasePendingCommission(id uint, amount decimal.Decimal) error
	MovePendingToPaid(id uint, amount decimal.Decimal) error
}

// AffiliatePayoutCandidateFilter 待巡检推广用户筛选
type AffiliatePayoutCandidateFilter struct {
	Provider string
	Limit    int
}

// GormAffiliateRepository GORM 推广用户仓储
type GormAffiliateRepository struct {
	db *gorm.DB
}

// NewAffiliateRepository 创建推广用户仓储
func NewAffiliateRepository(db *gorm.DB) *GormAffiliateRepository {
	return &GormAffiliateRepository{db: db}
}

// WithTx 绑定事务
func (r *GormAffiliateRepository) WithTx(tx *gorm.DB) AffiliateRepository {
	if tx == nil {
		return r
	}
	return &GormAffiliateRepository{db: tx}
}

// Transaction 执行事务
func (r *GormAffiliateRepository) Transaction(fn func(tx *gorm.DB) error) error {
	if fn == nil {
		return nil
	}
	return r.db.Transaction(fn)
}

// GetProfileByID 按ID获取推广档案
func (r *GormAffiliateRepository) GetProfileByID(id uint) (*models.AffiliateProfile, error) {
	if id == 0 {
		return nil, nil
	}
	var profile models.AffiliateProfile
	if err := r.db.First(&profile, id).Error; err != nil {
		return nil, notFoundAsNil(err)
	}
	return &profile, nil
}

// GetProfileByCode 按推广码获取推广档案
func (r *GormAffiliateRepository) GetProfileByCode(code string) (*models.AffiliateProfile, error) {
	if code == "" {
		return nil, nil
	}
	var profile models.AffiliateProfile
	if err := r.db.Where("affiliate_code = ?", code).First(&profile).Error; err != nil {
		return nil, notFoundAsNil(err)
	}
	return &profile, nil
}

// CreateProfile 创建推广档案
func (r *GormAffiliateRepository) CreateProfile(profile *models.AffiliateProfile) error {
	return r.db.Create(profile).Error
}

// ListPayoutCandidates 列出状态正常且配置了打款目标的推广用户
func (r *GormAffiliateRepository) ListPayoutCandidates(filter AffiliatePayoutCandidateFilter) ([]models.AffiliateProfile, error) {
	query := r.db.Model(&models.AffiliateProfile{}).
		Where("status = ?", constants.AffiliateStatusActive).
		Where("payout_account_ref <> ''")
	if filter.Provider != "" {
		query = query.Where("payout_provider = ?", filter.Provider)
	}
	query = applyBatchLimit(query, filter.Limit)
	var rows []models.AffiliateProfile
	if err := query.Order("id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// UpdatePayoutsEnabled 更新网关侧收款能力标记
func (r *GormAffiliateRepository) UpdatePayoutsEnabled(id uint, enabled bool, checkedAt time.Time) error {
	return r.db.Model(&models.AffiliateProfile{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"payouts_enabled":   enabled,
			"payout_checked_at": checkedAt,
			"updated_at":        checkedAt,
		}).Error
}

// AddCommission 新佣金入账：累加营收、佣金总额与待打款
func (r *GormAffiliateRepository) AddCommission(id uint, revenue, commission decimal.Decimal) error {
	return r.db.Model(&models.AffiliateProfile{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"total_revenue":      gorm.Expr("total_revenue + ?", revenue.Round(2)),
			"total_commission":   gorm.Expr("total_commission + ?", commission.Round(2)),
			"pending_commission": gorm.Expr("pending_commission + ?", commission.Round(2)),
		}).Error
}

// ReleasePendingCommission 取消未打款佣金：扣减待打款与佣金总额，均不低于 0
func (r *GormAffiliateRepository) ReleasePendingCommission(id uint, amount decimal.Decimal) error {
	amount = amount.Round(2)
	return r.db.Model(&models.AffiliateProfile{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"pending_commission": gorm.Expr("CASE WHEN pending_commission >= ? THEN pending_commission - ? ELSE 0 END", amount, amount),
			"total_commission":   gorm.Expr("CASE WHEN total_commission >= ? THEN total_commission - ? ELSE 0 END", amount, amount),
		}).Error
}

// MovePendingToPaid 打款成功：待打款转入已打款，同时累计打款金额
func (r *GormAffiliateRepository) MovePendingToPaid(id uint, amount decimal.Decimal) error {
	amount = amount.Round(2)
	return r.db.Model(&models.AffiliateProfile{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"pending_commission": gorm.Expr("CASE WHEN pending_commission >= ? THEN pending_commission - ? ELSE 0 END", amount, amount),
			"paid_commission":    gorm.Expr("paid_commission + ?", amount),
			"total_paid_out":     gorm.Expr("total_paid_out + ?", amount),
		}).Error
}
