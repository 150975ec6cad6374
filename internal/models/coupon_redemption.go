package models

import (
	"time"
)

// CouponRedemption 优惠券核销记录，退款时只打标不删除
type CouponRedemption struct {
	ID             uint       `gorm:"primarykey" json:"id"`                                                 // 主键
	CouponID       uint       `gorm:"not null;index;uniqueIndex:idx_coupon_redemption_order" json:"coupon_id"` // 优惠券ID
	OrderID        uint       `gorm:"not null;index;uniqueIndex:idx_coupon_redemption_order" json:"order_id"`  // 订单ID
	UserID         uint       `gorm:"index;not null" json:"user_id"`                                        // 用户ID
	DiscountAmount Money      `gorm:"type:decimal(20,2);not null;default:0" json:"discount_amount"`         // 优惠金额
	ReversedAt     *time.Time `gorm:"index" json:"reversed_at,omitempty"`                                   // 退款冲回时间
	CreatedAt      time.Time  `gorm:"index" json:"created_at"`                                              // 创建时间
}

// TableName 指定表名
func (CouponRedemption) TableName() string {
	return "coupon_redemptions"
}
