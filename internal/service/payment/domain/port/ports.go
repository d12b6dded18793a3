package port

import (
	"context"
	"time"

	"stockledger/internal/service/payment/domain"
)

// OrderRef 支付回调关心的订单信息
type OrderRef struct {
	ID       string
	Number   string
	Status   string
	IntentID string
}

// Orders 订单上下文的出站端口
type Orders interface {
	// FindByPaymentIntent 找不到时返回 domain.ErrOrderUnknown
	FindByPaymentIntent(ctx context.Context, intentID string) (*OrderRef, error)

	RecordPaymentOutcome(ctx context.Context, ref *OrderRef, outcome domain.Outcome) error

	// TransitionIfAllowed 当前状态允许时执行流转，返回是否执行
	TransitionIfAllowed(ctx context.Context, ref *OrderRef, transition string) (bool, error)
}

// Settlement 一次库存提交或释放的结果
type Settlement struct {
	Applied int
	// Missing 库存行不存在而被跳过的 variant
	Missing []int64
}

// Inventory 库存上下文的出站端口
type Inventory interface {
	Commit(ctx context.Context, orderID string) (Settlement, error)
	Release(ctx context.Context, orderID string) (Settlement, error)
}

// EventClassifier 把渠道事件类型映射为结果
type EventClassifier interface {
	Classify(ctx context.Context, e domain.PaymentEvent) (domain.Outcome, error)
}

// ReconciliationRecord 副作用失败时留给人工对账的记录
type ReconciliationRecord struct {
	EventID   string    `json:"eventId"`
	EventType string    `json:"eventType"`
	IntentID  string    `json:"intentId"`
	OrderID   string    `json:"orderId"`
	Outcome   string    `json:"outcome"`
	Step      string    `json:"step"`
	Error     string    `json:"error"`
	At        time.Time `json:"at"`
}

// ReconciliationPublisher 对账记录的出站端口
type ReconciliationPublisher interface {
	Publish(ctx context.Context, r ReconciliationRecord) error
}
