package application

import (
	"time"

	"stockledger/internal/service/order/domain"
)

// CartLine 购物车中的一行
type CartLine struct {
	SKU      string `json:"sku"`
	Quantity int64  `json:"quantity"`
}

// PlaceOrderRequest 下单请求
type PlaceOrderRequest struct {
	Lines []CartLine `json:"lines"`
}

// OrderView 对外展示的订单
type OrderView struct {
	ID              string     `json:"id"`
	Number          string     `json:"number"`
	Status          string     `json:"status"`
	PaymentIntentID string     `json:"paymentIntentId,omitempty"`
	PaymentStatus   string     `json:"paymentStatus,omitempty"`
	Items           []CartLine `json:"items"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func NewOrderView(o *domain.Order) *OrderView {
	v := &OrderView{
		ID:              o.ID,
		Number:          o.Number,
		Status:          string(o.Status),
		PaymentIntentID: o.PaymentIntentID,
		PaymentStatus:   string(o.PaymentStatus),
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	for _, it := range o.Items {
		v.Items = append(v.Items, CartLine{SKU: it.SKU, Quantity: it.Quantity})
	}
	return v
}

// AvailabilityIssue 预检发现的问题，只是提示，不保证下单时的结果
type AvailabilityIssue struct {
	SKU       string `json:"sku"`
	Requested int64  `json:"requested"`
	Available int64  `json:"available"`
	Message   string `json:"message"`
}
