package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTransactionFailure 数据库层的意外错误，事务已回滚，本层不重试
	ErrTransactionFailure = errors.New("inventory transaction failed")
	// ErrLockTimeout 行锁等待超时或死锁，按事务失败处理
	ErrLockTimeout = fmt.Errorf("lock wait timeout: %w", ErrTransactionFailure)

	ErrStockItemNotFound    = errors.New("stock item not found")
	ErrVariantNotFound      = errors.New("variant not found")
	ErrInvariantViolation   = errors.New("stock invariant violated: reserved must stay within [0, on_hand]")
	ErrOrderAlreadyReserved = errors.New("order already holds reservations")
	ErrEmptyOrder           = errors.New("order has no lines")
	ErrInvalidOrderID       = errors.New("order id is required")
)

// InsufficientStockError 某一行可用库存不足
type InsufficientStockError struct {
	SKU       string
	VariantID int64
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("Insufficient stock for %s. Available: %d, Required: %d", e.SKU, e.Available, e.Requested)
}

// VariantNotFoundError 某一行的 SKU 在目录中不存在
type VariantNotFoundError struct {
	SKU string
}

func (e *VariantNotFoundError) Error() string {
	return fmt.Sprintf("Variant not found for SKU: %s", e.SKU)
}

func (e *VariantNotFoundError) Unwrap() error { return ErrVariantNotFound }

// InvalidQuantityError 数量必须为正
type InvalidQuantityError struct {
	SKU      string
	Quantity int64
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("Invalid quantity %d for %s", e.Quantity, e.SKU)
}

// QuantityOverflowError 合并同一 SKU 的多行后数量超出 int64
type QuantityOverflowError struct {
	SKU string
}

func (e *QuantityOverflowError) Error() string {
	return fmt.Sprintf("Quantity overflow for %s", e.SKU)
}
