package port

import (
	"context"
	"errors"
)

// Line 订单行快照
type Line struct {
	SKU      string
	Quantity int64
}

// ReservationOutcome 预留结果，Success 为 false 时 Messages 是逐行的失败原因
type ReservationOutcome struct {
	Success  bool
	Messages []string
}

// Inventory 是订单上下文依赖的库存出站端口
type Inventory interface {
	// Reserve 为订单整单预留库存，要么全部成功要么全部不预留
	Reserve(ctx context.Context, orderID string, lines []Line) (*ReservationOutcome, error)

	// Commit 支付成功后把预留转为实际扣减
	Commit(ctx context.Context, orderID string) error

	// Release 支付失败或取消后归还预留
	Release(ctx context.Context, orderID string) error

	// Available 返回 sku 的可售数量，仅供参考
	Available(ctx context.Context, sku string) (int64, error)
}

// ErrUnknownSKU 目录中找不到该 sku
var ErrUnknownSKU = errors.New("unknown sku")
