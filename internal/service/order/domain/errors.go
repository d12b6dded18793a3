package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrOrderNotFound         = errors.New("order not found")
	ErrInvalidOrder          = errors.New("order id and number are required")
	ErrEmptyCart             = errors.New("cart is empty")
	ErrInvalidPaymentIntent  = errors.New("payment intent id is required")
	ErrPaymentIntentMismatch = errors.New("order already bound to another payment intent")
	ErrTransitionNotAllowed  = errors.New("transition not allowed")
	ErrUnknownTransition     = errors.New("unknown transition")
)

// InvalidLineError 购物车行的 sku 为空、数量不是正数，或合并后数量溢出
type InvalidLineError struct {
	SKU      string
	Quantity int64
	Overflow bool
}

func (e *InvalidLineError) Error() string {
	if e.Overflow {
		return fmt.Sprintf("invalid cart line: sku=%q total quantity overflows", e.SKU)
	}
	return fmt.Sprintf("invalid cart line: sku=%q quantity=%d", e.SKU, e.Quantity)
}

// TransitionError 当前状态不允许执行该流转
type TransitionError struct {
	OrderID    string
	From       Status
	Transition Transition
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %s: transition %s not allowed from %s", e.OrderID, e.Transition, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrTransitionNotAllowed }

// ReservationRejectedError 库存预留失败，订单草稿已删除
type ReservationRejectedError struct {
	Messages []string
}

func (e *ReservationRejectedError) Error() string {
	return "reservation rejected: " + strings.Join(e.Messages, "; ")
}
