package infrastructure

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"stockledger/internal/pkg/database"
	"stockledger/internal/service/order/domain"
)

// GormOrderRepository 实现 domain.OrderRepository
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

func (r *GormOrderRepository) Create(ctx context.Context, order *domain.Order) error {
	m := toModel(order)
	// 订单和明细在同一个事务里写入
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		items := m.Items
		m.Items = nil
		if err := tx.Create(&m).Error; err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		return tx.Create(&items).Error
	})
	return errors.Wrapf(err, "create order %s", order.ID)
}

// Update 只更新状态和支付字段
func (r *GormOrderRepository) Update(ctx context.Context, order *domain.Order) error {
	res := r.db.WithContext(ctx).Model(&OrderModel{}).
		Where("id = ?", order.ID).
		Updates(map[string]any{
			"status":            string(order.Status),
			"payment_intent_id": nullable(order.PaymentIntentID),
			"payment_status":    string(order.PaymentStatus),
			"updated_at":        order.UpdatedAt,
		})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "update order %s", order.ID)
	}
	if res.RowsAffected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *GormOrderRepository) FindByPaymentIntent(ctx context.Context, intentID string) (*domain.Order, error) {
	if intentID == "" {
		return nil, domain.ErrOrderNotFound
	}
	return r.findOne(ctx, "payment_intent_id = ?", intentID)
}

func (r *GormOrderRepository) findOne(ctx context.Context, query string, arg any) (*domain.Order, error) {
	var m OrderModel
	db := r.db.WithContext(ctx)
	if err := db.Where(query, arg).First(&m).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, errors.Wrap(err, "find order")
	}
	// 明细显式查询，不依赖关联预加载
	if err := db.Where("order_id = ?", m.ID).Order("position").Find(&m.Items).Error; err != nil {
		return nil, errors.Wrapf(err, "load items of order %s", m.ID)
	}
	return toDomain(&m), nil
}

func (r *GormOrderRepository) Delete(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("order_id = ?", id).Delete(&OrderItemModel{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&OrderModel{}).Error
	})
	return errors.Wrapf(err, "delete order %s", id)
}

func toModel(o *domain.Order) OrderModel {
	m := OrderModel{
		ID:              o.ID,
		Number:          o.Number,
		Status:          string(o.Status),
		PaymentIntentID: nullable(o.PaymentIntentID),
		PaymentStatus:   string(o.PaymentStatus),
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	for i, it := range o.Items {
		m.Items = append(m.Items, OrderItemModel{OrderID: o.ID, Position: i, SKU: it.SKU, Quantity: it.Quantity})
	}
	return m
}

func toDomain(m *OrderModel) *domain.Order {
	o := &domain.Order{
		ID:            m.ID,
		Number:        m.Number,
		Status:        domain.Status(m.Status),
		PaymentStatus: domain.PaymentStatus(m.PaymentStatus),
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	if m.PaymentIntentID != nil {
		o.PaymentIntentID = *m.PaymentIntentID
	}
	for _, it := range m.Items {
		o.Items = append(o.Items, domain.OrderItem{SKU: it.SKU, Quantity: it.Quantity})
	}
	return o
}

// nullable 空字符串存为 NULL，避免唯一索引冲突
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
