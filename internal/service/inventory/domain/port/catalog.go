package port

import (
	"context"

	"stockledger/internal/service/inventory/domain"
)

// VariantCatalog 商品目录查询，属于外部协作方
type VariantCatalog interface {
	// FindVariantBySKU 不存在时返回 domain.ErrVariantNotFound
	FindVariantBySKU(ctx context.Context, sku string) (*domain.Variant, error)
}
