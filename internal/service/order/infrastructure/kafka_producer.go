package infrastructure

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"stockledger/internal/pkg/logger"
	"stockledger/internal/pkg/mq"
	"stockledger/internal/service/order/domain"
)

// OrderStatusChangedEvent 是发布到订单事件 topic 的消息体
type OrderStatusChangedEvent struct {
	OrderID       string    `json:"orderId"`
	Number        string    `json:"number"`
	Transition    string    `json:"transition"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"paymentStatus,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// OrderProducerAdapter 实现 port.OrderEventPublisher，按订单号分区保证同一订单的事件有序
type OrderProducerAdapter struct {
	writer mq.MessageWriter
}

func NewOrderProducerAdapter(writer mq.MessageWriter) *OrderProducerAdapter {
	return &OrderProducerAdapter{writer: writer}
}

func (p *OrderProducerAdapter) OrderStatusChanged(ctx context.Context, order *domain.Order, transition domain.Transition) error {
	event := OrderStatusChangedEvent{
		OrderID:       order.ID,
		Number:        order.Number,
		Transition:    string(transition),
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		OccurredAt:    order.UpdatedAt,
	}
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshal order event")
	}

	if err := mq.ProduceMessage(ctx, p.writer, []byte(order.ID), eventBytes); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("order_id", order.ID).Msg("failed to publish order event")
		return err
	}
	return nil
}
