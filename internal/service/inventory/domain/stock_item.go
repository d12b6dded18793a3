package domain

import "time"

// StockItem 是某个商品规格(variant)的库存账本行
// 不变量：0 <= Reserved <= OnHand
type StockItem struct {
	VariantID int64
	OnHand    int64 // 实物库存
	Reserved  int64 // 已被预留、尚未扣减的数量
	Version   int64 // 每次变更递增，供缓存与推送判断新旧
	UpdatedAt time.Time
}

// Available 可售数量
func (s StockItem) Available() int64 {
	return s.OnHand - s.Reserved
}

// CanReserve 判断是否能再预留 qty 个
func (s StockItem) CanReserve(qty int64) bool {
	return qty > 0 && s.Available() >= qty
}

// Valid 检查账本不变量
func (s StockItem) Valid() bool {
	return s.Reserved >= 0 && s.Reserved <= s.OnHand
}

// Variant 是商品目录中的规格，SKU 到 VariantID 的映射
type Variant struct {
	ID  int64
	SKU string
}
