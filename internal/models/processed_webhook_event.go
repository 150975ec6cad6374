package models

import (
	"time"
)

// ProcessedWebhookEvent 已处理回调事件标记（幂等去重）
type ProcessedWebhookEvent struct {
	ID        uint      `gorm:"primarykey" json:"id"`                          // 主键
	Key       string    `gorm:"column:event_key;type:varchar(191);not null;uniqueIndex" json:"key"` // 幂等键
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`              // 过期时间
	CreatedAt time.Time `json:"created_at"`                                    // 创建时间
}

// TableName 指定表名
func (ProcessedWebhookEvent) TableName() string {
	return "processed_webhook_events"
}
