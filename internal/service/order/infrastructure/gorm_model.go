package infrastructure

import "time"

// OrderModel 对应 orders 表
type OrderModel struct {
	ID              string           `gorm:"column:id;primaryKey;size:36"`
	Number          string           `gorm:"column:number;size:32;uniqueIndex;not null"`
	Status          string           `gorm:"column:status;size:32;not null;index"`
	PaymentIntentID *string          `gorm:"column:payment_intent_id;size:128;uniqueIndex"`
	PaymentStatus   string           `gorm:"column:payment_status;size:16;not null;default:''"`
	Items           []OrderItemModel `gorm:"foreignKey:OrderID;references:ID"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (OrderModel) TableName() string { return "orders" }

// OrderItemModel 对应 order_items 表，下单后只读
type OrderItemModel struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	OrderID  string `gorm:"column:order_id;size:36;not null;index"`
	Position int    `gorm:"column:position;not null"`
	SKU      string `gorm:"column:sku;size:64;not null"`
	Quantity int64  `gorm:"column:quantity;not null"`
}

func (OrderItemModel) TableName() string { return "order_items" }

// Models 返回需要迁移的全部表
func Models() []any {
	return []any{&OrderModel{}, &OrderItemModel{}}
}
