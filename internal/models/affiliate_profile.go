package models

import (
	"time"

	"gorm.io/gorm"
)

// AffiliateProfile 推广用户档案，汇总字段只允许通过原子 SQL 与佣金记录同事务变更
type AffiliateProfile struct {
	ID                uint           `gorm:"primarykey" json:"id"`                                            // 主键
	UserID            uint           `gorm:"index" json:"user_id"`                                            // 用户ID
	AffiliateCode     string         `gorm:"type:varchar(32);not null;uniqueIndex" json:"code"`               // 推广码
	Status            string         `gorm:"type:varchar(20);not null;index" json:"status"`                   // 状态
	CommissionType    string         `gorm:"type:varchar(20);not null;default:'percent'" json:"commission_type"` // 计算方式（percent/flat）
	CommissionRate    Money          `gorm:"type:decimal(10,2);not null;default:0" json:"commission_rate"`    // 佣金比例（百分比）
	FlatAmount        Money          `gorm:"type:decimal(20,2);not null;default:0" json:"flat_amount"`        // 固定佣金
	TotalRevenue      Money          `gorm:"type:decimal(20,2);not null;default:0" json:"total_revenue"`      // 累计带来营收
	TotalCommission   Money          `gorm:"type:decimal(20,2);not null;default:0" json:"total_commission"`   // 累计佣金
	PendingCommission Money          `gorm:"type:decimal(20,2);not null;default:0" json:"pending_commission"` // 待打款佣金
	PaidCommission    Money          `gorm:"type:decimal(20,2);not null;default:0" json:"paid_commission"`    // 已打款佣金
	TotalPaidOut      Money          `gorm:"type:decimal(20,2);not null;default:0" json:"total_paid_out"`     // 累计打款金额
	PayoutProvider    string         `gorm:"type:varchar(32)" json:"payout_provider"`                         // 打款网关
	PayoutAccountRef  string         `gorm:"type:varchar(128)" json:"payout_account_ref"`                     // 打款目标账户
	PayoutsEnabled    bool           `gorm:"not null;default:false" json:"payouts_enabled"`                   // 网关侧是否可收款
	PayoutCheckedAt   *time.Time     `json:"payout_checked_at,omitempty"`                                     // 最近一次能力校验时间
	CreatedAt         time.Time      `gorm:"index" json:"created_at"`                                         // 创建时间
	UpdatedAt         time.Time      `gorm:"index" json:"updated_at"`                                         // 更新时间
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`                                                  // 软删除时间
}

// TableName 指定表名
func (AffiliateProfile) TableName() string {
	return "affiliate_profiles"
}

// HasPayoutDestination 是否配置了打款目标
func (p *AffiliateProfile) HasPayoutDestination() bool {
	return p != nil && p.PayoutAccountRef != ""
}
