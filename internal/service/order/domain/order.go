package domain

import (
	"math"
	"strings"
	"time"
)

// PaymentStatus 订单上记录的支付结果
type PaymentStatus string

const (
	PaymentNone      PaymentStatus = ""
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

// OrderItem 下单时的 sku / 数量快照，创建后不可修改
type OrderItem struct {
	SKU      string
	Quantity int64
}

// Order 是订单聚合的根实体
type Order struct {
	ID              string
	Number          string
	Status          Status
	Items           []OrderItem
	PaymentIntentID string
	PaymentStatus   PaymentStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewOrder 创建处于 new 状态的订单，重复的 sku 会合并为一行
func NewOrder(id, number string, items []OrderItem, now time.Time) (*Order, error) {
	if id == "" || number == "" {
		return nil, ErrInvalidOrder
	}
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	merged := make([]OrderItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, it := range items {
		sku := strings.TrimSpace(it.SKU)
		if sku == "" || it.Quantity <= 0 {
			return nil, &InvalidLineError{SKU: it.SKU, Quantity: it.Quantity}
		}
		if i, ok := index[sku]; ok {
			if it.Quantity > math.MaxInt64-merged[i].Quantity {
				return nil, &InvalidLineError{SKU: sku, Quantity: it.Quantity, Overflow: true}
			}
			merged[i].Quantity += it.Quantity
			continue
		}
		index[sku] = len(merged)
		merged = append(merged, OrderItem{SKU: sku, Quantity: it.Quantity})
	}

	return &Order{
		ID:        id,
		Number:    number,
		Status:    StatusNew,
		Items:     merged,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// AttachPaymentIntent 记录支付意图，只允许在提交支付前绑定一次
func (o *Order) AttachPaymentIntent(intentID string, now time.Time) error {
	if intentID == "" {
		return ErrInvalidPaymentIntent
	}
	if o.PaymentIntentID != "" && o.PaymentIntentID != intentID {
		return ErrPaymentIntentMismatch
	}
	o.PaymentIntentID = intentID
	o.PaymentStatus = PaymentPending
	o.UpdatedAt = now
	return nil
}

// RecordPayment 记录支付回调结果，和状态流转分开，流转失败时结果仍然保留
func (o *Order) RecordPayment(status PaymentStatus, now time.Time) {
	o.PaymentStatus = status
	o.UpdatedAt = now
}
