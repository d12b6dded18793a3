package adapter

import (
	"context"

	"github.com/pkg/errors"

	orderapp "stockledger/internal/service/order/application"
	orderdomain "stockledger/internal/service/order/domain"
	"stockledger/internal/service/payment/domain"
	"stockledger/internal/service/payment/domain/port"
)

// OrderAdapter 实现 port.Orders，进程内调用订单应用服务
type OrderAdapter struct {
	svc *orderapp.CheckoutService
}

func NewOrderAdapter(svc *orderapp.CheckoutService) *OrderAdapter {
	return &OrderAdapter{svc: svc}
}

func (a *OrderAdapter) FindByPaymentIntent(ctx context.Context, intentID string) (*port.OrderRef, error) {
	o, err := a.load(ctx, intentID)
	if err != nil {
		return nil, err
	}
	return toRef(o), nil
}

func (a *OrderAdapter) RecordPaymentOutcome(ctx context.Context, ref *port.OrderRef, outcome domain.Outcome) error {
	o, err := a.load(ctx, ref.IntentID)
	if err != nil {
		return err
	}
	status := orderdomain.PaymentFailed
	if outcome == domain.OutcomeSucceeded {
		status = orderdomain.PaymentSucceeded
	}
	return a.svc.RecordPaymentOutcome(ctx, o, status)
}

func (a *OrderAdapter) TransitionIfAllowed(ctx context.Context, ref *port.OrderRef, transition string) (bool, error) {
	o, err := a.load(ctx, ref.IntentID)
	if err != nil {
		return false, err
	}
	t := orderdomain.Transition(transition)
	if !a.svc.CanTransition(o, t) {
		ref.Status = string(o.Status)
		return false, nil
	}
	if err := a.svc.ApplyTransition(ctx, o, t); err != nil {
		return false, err
	}
	ref.Status = string(o.Status)
	return true, nil
}

// load 每一步都重新读取，拿到最新状态
func (a *OrderAdapter) load(ctx context.Context, intentID string) (*orderdomain.Order, error) {
	o, err := a.svc.FindByPaymentIntent(ctx, intentID)
	if errors.Is(err, orderdomain.ErrOrderNotFound) {
		return nil, domain.ErrOrderUnknown
	}
	return o, err
}

func toRef(o *orderdomain.Order) *port.OrderRef {
	return &port.OrderRef{ID: o.ID, Number: o.Number, Status: string(o.Status), IntentID: o.PaymentIntentID}
}
