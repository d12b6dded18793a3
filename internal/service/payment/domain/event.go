package domain

import "time"

// Outcome 支付事件对库存的意义
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeIgnored   Outcome = "ignored"
)

// PaymentEvent 支付渠道推送的事件，只保留处理需要的字段
type PaymentEvent struct {
	ID         string
	Type       string
	ObjectType string
	IntentID   string
	ReceivedAt time.Time
}

// IsPaymentIntent 只有支付意图事件会影响订单
func (e PaymentEvent) IsPaymentIntent() bool {
	return e.ObjectType == "payment_intent" && e.IntentID != ""
}

// ProcessedEvent 已处理事件的幂等记录
type ProcessedEvent struct {
	EventID     string
	EventType   string
	ProcessedAt time.Time
}
