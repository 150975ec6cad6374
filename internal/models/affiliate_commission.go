package models

import (
	"time"

	"gorm.io/gorm"
)

// AffiliateCommission 推广佣金记录，每个推广用户每笔订单至多一条
type AffiliateCommission struct {
	ID                    uint           `gorm:"primarykey" json:"id"`                                                                    // 主键
	AffiliateProfileID    uint           `gorm:"not null;index;uniqueIndex:idx_affiliate_commission_order" json:"affiliate_profile_id"` // 推广用户ID
	OrderID               uint           `gorm:"not null;index;uniqueIndex:idx_affiliate_commission_order" json:"order_id"`             // 订单ID
	CommissionType        string         `gorm:"type:varchar(20);not null" json:"commission_type"`                                     // 计算方式
	OrderTotal            Money          `gorm:"type:decimal(20,2);not null;default:0" json:"order_total"`                             // 订单实付金额
	RatePercent           Money          `gorm:"type:decimal(10,2);not null;default:0" json:"rate_percent"`                            // 佣金比例（百分比）
	CommissionAmount      Money          `gorm:"type:decimal(20,2);not null;default:0" json:"commission_amount"`                       // 佣金金额
	Currency              string         `gorm:"type:varchar(16);not null" json:"currency"`                                            // 币种
	Status                string         `gorm:"type:varchar(32);not null;index" json:"status"`                                        // 佣金状态
	ApprovedAt            *time.Time     `gorm:"index" json:"approved_at,omitempty"`                                                   // 审核通过时间
	PaidAt                *time.Time     `gorm:"index" json:"paid_at,omitempty"`                                                       // 打款成功时间
	CancelledAt           *time.Time     `json:"cancelled_at,omitempty"`                                                               // 取消时间
	CancelReason          string         `gorm:"type:varchar(255)" json:"cancel_reason,omitempty"`                                     // 取消原因
	ReversalRequired      bool           `gorm:"not null;default:false;index" json:"reversal_required"`                                // 已打款后退款，需人工追回
	TransferRef           string         `gorm:"type:varchar(128);index" json:"transfer_ref,omitempty"`                                // 网关转账ID
	TransferStatus        string         `gorm:"type:varchar(20);not null;default:'none';index" json:"transfer_status"`                // 转账状态
	TransferAttemptCount  int            `gorm:"not null;default:0;index" json:"transfer_attempt_count"`                               // 转账尝试次数
	TransferError         string         `gorm:"type:text" json:"transfer_error,omitempty"`                                            // 最近一次转账错误
	LastTransferAttemptAt *time.Time     `json:"last_transfer_attempt_at,omitempty"`                                                   // 最近一次转账时间
	CreatedAt             time.Time      `gorm:"index" json:"created_at"`                                                              // 创建时间
	UpdatedAt             time.Time      `gorm:"index" json:"updated_at"`                                                              // 更新时间
	DeletedAt             gorm.DeletedAt `gorm:"index" json:"-"`                                                                       // 软删除时间

	AffiliateProfile *AffiliateProfile `gorm:"foreignKey:AffiliateProfileID" json:"affiliate_profile,omitempty"` // 推广用户
	Order            *Order            `gorm:"foreignKey:OrderID" json:"order,omitempty"`                        // 关联订单
}

// TableName 指定表名
func (AffiliateCommission) TableName() string {
	return "affiliate_commissions"
}
