package domain

import "time"

// Reservation 表示某个订单对某个规格暂时占用的库存
// 由 Reserve 创建，Commit / Release / 过期清理三者之一删除
type Reservation struct {
	ID        string
	OrderID   string
	VariantID int64
	SKU       string
	Quantity  int64
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsExpired 判断在 now 时刻是否已过期（严格早于 now）
func (r Reservation) IsExpired(now time.Time) bool {
	return r.ExpiresAt.Before(now)
}
