package models

import (
	"time"
)

// PayoutAttempt 佣金打款尝试流水
type PayoutAttempt struct {
	ID                 uint      `gorm:"primarykey" json:"id"`                                  // 主键
	CommissionID       uint      `gorm:"not null;index" json:"commission_id"`                   // 佣金ID
	AffiliateProfileID uint      `gorm:"not null;index" json:"affiliate_profile_id"`            // 推广用户ID
	Attempt            int       `gorm:"not null" json:"attempt"`                               // 第几次尝试
	IdempotencyKey     string    `gorm:"type:varchar(64);not null;index" json:"idempotency_key"` // 幂等键
	Provider           string    `gorm:"type:varchar(32)" json:"provider"`                      // 打款网关
	Amount             Money     `gorm:"type:decimal(20,2);not null;default:0" json:"amount"`   // 打款金额
	Currency           string    `gorm:"type:varchar(16)" json:"currency"`                      // 币种
	SourceChargeRef    string    `gorm:"type:varchar(128)" json:"source_charge_ref,omitempty"`  // 来源扣款ID
	Result             string    `gorm:"type:varchar(20);not null;index" json:"result"`         // 结果
	TransferRef        string    `gorm:"type:varchar(128)" json:"transfer_ref,omitempty"`       // 网关转账ID
	Error              string    `gorm:"type:text" json:"error,omitempty"`                      // 错误信息
	Trigger            string    `gorm:"type:varchar(20)" json:"trigger"`                       // 触发来源
	CreatedAt          time.Time `gorm:"index" json:"created_at"`                               // 创建时间
}

// TableName 指定表名
func (PayoutAttempt) TableName() string {
	return "payout_attempts"
}
