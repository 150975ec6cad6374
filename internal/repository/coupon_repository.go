package repository

import (
	"time"

	"github.com/dujiao-next/reconciler/internal/models"

	"gorm.io/gorm"
)

// CouponRepository 优惠券数据访问接口
type CouponRepository interface {
	WithTx(tx *gorm.DB) CouponRepository

	GetByID(id uint) (*models.Coupon, error)
	GetByCode(code string) (*models.Coupon, error)
	Create(coupon *models.Coupon) error
	IncrementUsedCount(id uint, delta int) error
	DecrementUsedCount(id uint, delta int) (int64, error)

	CreateRedemption(redemption *models.CouponRedemption) error
	GetRedemptionByOrder(couponID, orderID uint) (*models.CouponRedemption, error)
	MarkRedemptionReversed(couponID, orderID uint, at time.Time) error
	CountRedemptions(couponID uint) (int64, error)
}

// GormCouponRepository GORM 实现
type GormCouponRepository struct {
	db *gorm.DB
}

// NewCouponRepository 创建优惠券仓库
func NewCouponRepository(db *gorm.DB) *GormCouponRepository {
	return &GormCouponRepository{db: db}
}

// WithTx 绑定事务
func (r *GormCouponRepository) WithTx(tx *gorm.DB) CouponRepository {
	if tx == nil {
		return r
	}
	return &GormCouponRepository{db: tx}
}

// GetByID 根据ID获取优惠券
func (r *GormCouponRepository) GetByID(id uint) (*models.Coupon, error) {
	var coupon models.Coupon
	if err := r.db.First(&coupon, id).Error; err != nil {
		return nil, notFoundAsNil(err)
	}
	return &coupon, nil
}

// GetByCode 根据优惠码获取优惠券
func (r *GormCouponRepository) GetByCode(code string) (*models.Coupon, error) {
	var coupon models.Coupon
	if err := r.db.Where("code = ?", code).First(&coupon).Error; err != nil {
		return nil, notFoundAsNil(err)
	}
	return &coupon, nil
}

// Create 创建优惠券
func (r *GormCouponRepository) Create(coupon *models.Coupon) error {
	return r.db.Create(coupon).Error
}

// IncrementUsedCount 增加优惠券使用次数
func (r *GormCouponRepository) IncrementUsedCount(id uint, delta int) error {
	if delta == 0 {
		delta = 1
	}
	return r.db.Model(&models.Coupon{}).
		Where("id = ?", id).
		UpdateColumn("used_count", gorm.Expr("used_count + ?", delta)).Error
}

// DecrementUsedCount 减少优惠券使用次数，不会减到 0 以下
func (r *GormCouponRepository) DecrementUsedCount(id uint, delta int) (int64, error) {
	if delta == 0 {
		delta = 1
	}
	if delta < 0 {
		delta = -delta
	}
	result := r.db.Model(&models.Coupon{}).
		Where("id = ?", id).
		Where("used_count >= ?", delta).
		UpdateColumn("used_count", gorm.Expr("used_count - ?", delta))
	return result.RowsAffected, result.Error
}

// CreateRedemption 写入核销记录
func (r *GormCouponRepository) CreateRedemption(redemption *models.CouponRedemption) error {
	return r.db.Create(redemption).Error
}

// GetRedemptionByOrder 获取订单的核销记录
func (r *GormCouponRepository) GetRedemptionByOrder(couponID, orderID uint) (*models.CouponRedemption, error) {
	var row models.CouponRedemption
	if err := r.db.Where("coupon_id = ? AND order_id = ?", couponID, orderID).First(&row).Error; err != nil {
		return nil, notFoundAsNil(err)
	}
	return &row, nil
}

// MarkRedemptionReversed 标记核销已冲回
func (r *GormCouponRepository) MarkRedemptionReversed(couponID, orderID uint, at time.Time) error {
	return r.db.Model(&models.CouponRedemption{}).
		Where("coupon_id = ? AND order_id = ? AND reversed_at IS NULL", couponID, orderID).
		Update("reversed_at", at).Error
}

// CountRedemptions 统计核销记录数
func (r *GormCouponRepository) CountRedemptions(couponID uint) (int64, error) {
	var total int64
	if err := r.db.Model(&models.CouponRedemption{}).Where("coupon_id = ?", couponID).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}
