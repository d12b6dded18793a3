package domain

import (
	"context"
	"time"
)

// Store 是事务边界的提供者
// 所有写操作都通过显式的 Tx 句柄完成，不依赖任何隐式的会话状态
type Store interface {
	// Atomic 在一个读写事务中执行 fn；fn 返回错误时整个事务回滚，并原样返回该错误
	Atomic(ctx context.Context, fn func(tx Tx) error) error
	// View 在只读上下文中执行 fn，读到的数据只作参考
	View(ctx context.Context, fn func(tx Tx) error) error
}

// Tx 是一次事务内可用的仓储集合
type Tx interface {
	Ledger() StockLedger
	Reservations() ReservationStore
}

// StockLedger 库存账本
type StockLedger interface {
	// Find 普通读取，不加锁；不存在时返回 ErrStockItemNotFound
	Find(ctx context.Context, variantID int64) (*StockItem, error)
	// GetOrCreate 保证库存行存在（首次预留时懒创建，初始为 0/0）
	GetOrCreate(ctx context.Context, variantID int64) (*StockItem, error)
	// LockForUpdate 对库存行加排他锁直到事务结束，并返回锁内读到的最新值
	LockForUpdate(ctx context.Context, variantID int64) (*StockItem, error)
	// AdjustReserved 给 reserved 加上 delta（可为负），version 递增
	// 结果违反不变量时返回 ErrInvariantViolation 且不修改
	AdjustReserved(ctx context.Context, variantID int64, delta int64) (*StockItem, error)
	// AdjustOnHand 给 on_hand 加上 delta，规则同上
	AdjustOnHand(ctx context.Context, variantID int64, delta int64) (*StockItem, error)
}

// ReservationStore 预留记录
type ReservationStore interface {
	Create(ctx context.Context, r *Reservation) error
	FindByOrder(ctx context.Context, orderID string) ([]Reservation, error)
	// FindExpired 返回 ExpiresAt < now 的预留
	FindExpired(ctx context.Context, now time.Time) ([]Reservation, error)
	// Delete 删除预留；返回 false 表示已经被其他流程删除
	Delete(ctx context.Context, r Reservation) (bool, error)
}
