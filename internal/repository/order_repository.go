package repository

import (
	"github.com/dujiao-next/reconciler/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OrderRepository 订单数据访问接口
type OrderRepository interface {
	Transaction(fn func(tx *gorm.DB) error) error
	WithTx(tx *gorm.DB) OrderRepository

	Create(order *models.Order, items []models.OrderItem) error
	GetByID(id uint) (*models.Order, error)
	GetByOrderNo(orderNo string) (*models.Order, error)
	GetByProviderRef(provider, providerRef string) (*models.Order, error)
	GetByChargeRef(provider, chargeRef string) (*models.Order, error)
	GetByIDForUpdate(id uint) (*models.Order, error)
	UpdateFromStatus(id uint, fromStatus, fromPaymentStatus string, updates map[string]interface{}) (int64, error)
	UpdateFields(id uint, updates map[string]interface{}) error
}

// GormOrderRepository GORM 实现
type GormOrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository 创建订单仓库
func NewOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// WithTx 绑定事务
func (r *GormOrderRepository) WithTx(tx *gorm.DB) OrderRepository {
	if tx == nil {
		return r
	}
	return &GormOrderRepository{db: tx}
}

// Transaction 执行事务
func (r *GormOrderRepository) Transaction(fn func(tx *gorm.DB) error) error {
	if fn == nil {
		return nil
	}
	return r.db.Transaction(fn)
}

// Create 创建订单及订单项
func (r *GormOrderRepository) Create(order *models.Order, items []models.OrderItem) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Items").Create(order).Error; err != nil {
			return err
		}
		for i := range items {
			items[i].OrderID = order.ID
		}
		if len(items) > 0 {
			if err := tx.Create(&items).Error; err != nil {
				return err
			}
		}
		order.Items = items
		return nil
	})
}

// GetByID 根据ID获取订单
func (r *GormOrderRepository) GetByID(id uint) (*models.Order, error) {
	var order models.Order
	if err := r.db.Preload("Items").First(&order, id).Error; err != nil {
		return nil, notFoundAsNil(err)
	}
	return &order, nil
}

// GetByOrderNo 根据订单号获取订单
func (r *GormOrderRepository) GetByOrderNo(orderNo string) (*models.Order, error) {
	if orderNo == "" {
		return nil, nil
	}
	var order models.Order
	if err := r.db.Where("order_no = ?", orderNo).First(&order).Error; err != nil {
		return nil, notFoundAsNil(err)
	}
	return &order, nil
}

// GetByProviderRef 根据网关订单引用获取订单
func (r *GormOrderRepository) GetByProviderRef(provider, providerRef string) (*models.Order, error) {
	if providerRef == "" {
		return nil, nil
	}
	query := r.db.Where("provider_ref = ?", providerRef)
	if provider != "" {
		query = query.Where("provider = ?", provider)
	}
	var order models.Order
	if err := query.Order("id desc").First(&order).Error; err != nil {
		return nil, notFoundAsNil(err)
	}
	return &order, nil
}

// GetByChargeRef 根据原始扣款ID获取订单
func (r *GormOrderRepository) GetByChargeRef(provider, chargeRef string) (*models.Order, error) {
	if chargeRef == "" {
		return nil, nil
	}
	query := r.db.Where("charge_ref = ?", chargeRef)
	if provider != "" {
		query = query.Where("provider = ?", provider)
	}
	var order models.Order
	if err := query.Order("id desc").First(&order).Error; err != nil {
		return nil, notFoundAsNil(err)
	}
	return &order, nil
}

// GetByIDForUpdate 加行锁读取订单，需在事务内调用
func (r *GormOrderRepository) GetByIDForUpdate(id uint) (*models.Order, error) {
	var order models.Order
	if err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&order, id).Error; err != nil {
		return nil, notFoundAsNil(err)
	}
	return &order, nil
}

// UpdateFromStatus 仅当订单仍处于给定状态时更新，返回影响行数
func (r *GormOrderRepository) UpdateFromStatus(id uint, fromStatus, fromPaymentStatus string, updates map[string]interface{}) (int64, error) {
	result := r.db.Model(&models.Order{}).
		Where("id = ? AND status = ? AND payment_status = ?", id, fromStatus, fromPaymentStatus).
		Updates(updates)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// UpdateFields 更新订单字段
func (r *GormOrderRepository) UpdateFields(id uint, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	return r.db.Model(&models.Order{}).Where("id = ?", id).Updates(updates).Error
}
