package models

import (
	"time"

	"gorm.io/gorm"
)

// Order 订单表
type Order struct {
	ID                 uint           `gorm:"primarykey" json:"id"`                                         // 主键
	OrderNo            string         `gorm:"uniqueIndex;not null" json:"order_no"`                         // 订单编号
	UserID             uint           `gorm:"index;not null" json:"user_id,omitempty"`                      // 用户ID（游客订单为 0）
	GuestEmail         string         `gorm:"index" json:"guest_email,omitempty"`                           // 游客邮箱
	Status             string         `gorm:"index;not null" json:"status"`                                 // 订单状态
	PaymentStatus      string         `gorm:"index;not null" json:"payment_status"`                         // 支付状态
	Currency           string         `gorm:"not null" json:"currency"`                                     // 币种
	Subtotal           Money          `gorm:"type:decimal(20,2);not null;default:0" json:"subtotal"`        // 商品小计
	DiscountAmount     Money          `gorm:"type:decimal(20,2);not null;default:0" json:"discount_amount"` // 优惠金额
	TotalAmount        Money          `gorm:"type:decimal(20,2);not null;default:0" json:"total_amount"`    // 实付金额
	CouponID           *uint          `gorm:"index" json:"coupon_id,omitempty"`                             // 优惠券ID
	CouponCode         string         `gorm:"type:varchar(64)" json:"coupon_code,omitempty"`                // 优惠码快照
	AffiliateProfileID *uint          `gorm:"index" json:"affiliate_profile_id,omitempty"`                  // 推广用户ID
	AffiliateCode      string         `gorm:"type:varchar(32)" json:"affiliate_code,omitempty"`             // 推广码快照
	Provider           string         `gorm:"type:varchar(32);index" json:"provider"`                       // 支付网关
	ProviderRef        string         `gorm:"type:varchar(128);index" json:"provider_ref,omitempty"`        // 网关订单/会话ID
	ChargeRef          string         `gorm:"type:varchar(128);index" json:"charge_ref,omitempty"`          // 原始扣款ID（打款来源）
	PaidAt             *time.Time     `gorm:"index" json:"paid_at"`                                         // 支付时间
	CancelledAt        *time.Time     `gorm:"index" json:"cancelled_at"`                                    // 取消时间
	RefundedAt         *time.Time     `gorm:"index" json:"refunded_at"`                                     // 退款时间
	CreatedAt          time.Time      `gorm:"index" json:"created_at"`                                      // 创建时间
	UpdatedAt          time.Time      `gorm:"index" json:"updated_at"`                                      // 更新时间
	DeletedAt          gorm.DeletedAt `gorm:"index" json:"-"`                                               // 软删除时间

	Items []OrderItem `gorm:"foreignKey:OrderID" json:"items,omitempty"` // 订单项
}

// TableName 指定表名
func (Order) TableName() string {
	return "orders"
}
