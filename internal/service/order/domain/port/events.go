package port

import (
	"context"

	"stockledger/internal/service/order/domain"
)

// OrderEventPublisher 订单状态变化的出站端口，下游（通知、履约）订阅
type OrderEventPublisher interface {
	// OrderStatusChanged 在状态流转持久化之后调用
	OrderStatusChanged(ctx context.Context, order *domain.Order, transition domain.Transition) error
}
