package infrastructure

import "time"

// StockItemModel 对应 stock_item 表
type StockItemModel struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	VariantID int64  `gorm:"column:variant_id;uniqueIndex;not null"`
	OnHand    int64  `gorm:"column:on_hand;not null;default:0"`
	Reserved  int64  `gorm:"column:reserved;not null;default:0"`
	Version   int64  `gorm:"column:version;not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (StockItemModel) TableName() string { return "stock_item" }

// ReservationModel 对应 stock_reservation 表
type ReservationModel struct {
	ID        string    `gorm:"column:id;primaryKey;size:36"`
	OrderID   string    `gorm:"column:order_id;size:64;not null;uniqueIndex:uk_order_variant,priority:1"`
	VariantID int64     `gorm:"column:variant_id;not null;uniqueIndex:uk_order_variant,priority:2"`
	SKU       string    `gorm:"column:sku;size:64;not null"`
	Quantity  int64     `gorm:"column:quantity;not null"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null;index"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

func (ReservationModel) TableName() string { return "stock_reservation" }

// VariantModel 对应 product_variant 表，只读取 id 与 sku
type VariantModel struct {
	ID  int64  `gorm:"column:id;primaryKey"`
	SKU string `gorm:"column:sku;size:64;uniqueIndex;not null"`
}

func (VariantModel) TableName() string { return "product_variant" }

// Models 返回需要迁移的全部表
func Models() []any {
	return []any{&StockItemModel{}, &ReservationModel{}, &VariantModel{}}
}
