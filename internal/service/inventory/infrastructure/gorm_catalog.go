package infrastructure

import (
	"context"

	"gorm.io/gorm"

	"stockledger/internal/pkg/database"
	"stockledger/internal/service/inventory/domain"
)

// GormVariantCatalog 从 product_variant 表解析 SKU
type GormVariantCatalog struct {
	db *gorm.DB
}

func NewGormVariantCatalog(db *gorm.DB) *GormVariantCatalog {
	return &GormVariantCatalog{db: db}
}

func (c *GormVariantCatalog) FindVariantBySKU(ctx context.Context, sku string) (*domain.Variant, error) {
	var m VariantModel
	err := c.db.WithContext(ctx).Where("sku = ?", sku).First(&m).Error
	if err != nil {
		if database.IsNotFound(err) {
			return nil, domain.ErrVariantNotFound
		}
		return nil, translate(err, "find variant")
	}
	return &domain.Variant{ID: m.ID, SKU: m.SKU}, nil
}

// SaveVariant 写入或更新目录数据（管理接口和测试使用）
func (c *GormVariantCatalog) SaveVariant(ctx context.Context, v domain.Variant) error {
	if err := c.db.WithContext(ctx).Save(&VariantModel{ID: v.ID, SKU: v.SKU}).Error; err != nil {
		return translate(err, "save variant")
	}
	return nil
}
