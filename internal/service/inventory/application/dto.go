package application

import (
	"time"

	"stockledger/internal/service/inventory/domain"
)

// LineItem 订单行的快照（sku 与数量）
type LineItem struct {
	SKU      string
	Quantity int64
}

// ReserveRequest 为订单预留库存的请求
type ReserveRequest struct {
	OrderID string
	Lines   []LineItem
}

// ReserveResult 预留结果
// Success 为 false 时 Errors 列出每一行的失败原因，整个预留已回滚
type ReserveResult struct {
	Success      bool
	Errors       []error
	Reservations []domain.Reservation
	ExpiresAt    time.Time
}

// Messages 把行级错误转成可以直接展示的文本
func (r *ReserveResult) Messages() []string {
	out := make([]string, 0, len(r.Errors))
	for _, err := range r.Errors {
		out = append(out, err.Error())
	}
	return out
}

// SettlementResult 是 Commit / Release 的结果
type SettlementResult struct {
	Applied int     // 成功处理的预留数
	Missing []int64 // 找不到库存行而跳过的 variant
}

// StockView 对外展示的库存视图
type StockView struct {
	SKU       string `json:"sku,omitempty"`
	VariantID int64  `json:"variantId"`
	OnHand    int64  `json:"onHand"`
	Reserved  int64  `json:"reserved"`
	Available int64  `json:"available"`
	Version   int64  `json:"version"`
}

func NewStockView(sku string, item *domain.StockItem) StockView {
	return StockView{
		SKU:       sku,
		VariantID: item.VariantID,
		OnHand:    item.OnHand,
		Reserved:  item.Reserved,
		Available: item.Available(),
		Version:   item.Version,
	}
}
