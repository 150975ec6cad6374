package repository

import (
	"time"

	"github.com/dujiao-next/reconciler/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WebhookEventRepository 回调事件幂等标记数据访问接口
type WebhookEventRepository interface {
	Insert(key string, expiresAt time.Time) (bool, error)
	TakeOverExpired(key string, now, expiresAt time.Time) (bool, error)
	ExistsActive(key string, now time.Time) (bool, error)
	Delete(key string) error
	PurgeExpired(now time.Time) (int64, error)
}

// GormWebhookEventRepository GORM 实现
type GormWebhookEventRepository struct {
	db *gorm.DB
}

// NewWebhookEventRepository 创建回调事件仓储
func NewWebhookEventRepository(db *gorm.DB) *GormWebhookEventRepository {
	return &GormWebhookEventRepository{db: db}
}

// Insert 写入标记，已存在时返回 false
func (r *GormWebhookEventRepository) Insert(key string, expiresAt time.Time) (bool, error) {
	row := models.ProcessedWebhookEvent{Key: key, ExpiresAt: expiresAt}
	result := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_key"}},
		DoNothing: true,
	}).Create(&row)
	if result.Error != nil {
		if IsUniqueViolation(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// TakeOverExpired 接管已过期的标记
func (r *GormWebhookEventRepository) TakeOverExpired(key string, now, expiresAt time.Time) (bool, error) {
	result := r.db.Model(&models.ProcessedWebhookEvent{}).
		Where("event_key = ? AND expires_at <= ?", key, now).
		Updates(map[string]interface{}{
			"expires_at": expiresAt,
			"created_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ExistsActive 标记是否存在且未过期
func (r *GormWebhookEventRepository) ExistsActive(key string, now time.Time) (bool, error) {
	var total int64
	if err := r.db.Model(&models.ProcessedWebhookEvent{}).
		Where("event_key = ? AND expires_at > ?", key, now).
		Count(&total).Error; err != nil {
		return false, err
	}
	return total > 0, nil
}

// Delete 删除标记
func (r *GormWebhookEventRepository) Delete(key string) error {
	return r.db.Where("event_key = ?", key).Delete(&models.ProcessedWebhookEvent{}).Error
}

// PurgeExpired 清理过期标记
func (r *GormWebhookEventRepository) PurgeExpired(now time.Time) (int64, error) {
	result := r.db.Where("expires_at <= ?", now).Delete(&models.ProcessedWebhookEvent{})
	return result.RowsAffected, result.Error
}
