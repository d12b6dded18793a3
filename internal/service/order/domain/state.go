package domain

import "time"

// Status 订单生命周期状态
type Status string

const (
	StatusNew            Status = "new"
	StatusPaymentPending Status = "payment_pending"
	StatusPaid           Status = "paid"
	StatusProcessing     Status = "processing"
	StatusShipped        Status = "shipped"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
)

// Transition 状态流转名称
type Transition string

const (
	TransitionSubmitPayment   Transition = "submit_payment"
	TransitionConfirmPayment  Transition = "confirm_payment"
	TransitionStartProcessing Transition = "start_processing"
	TransitionShip            Transition = "ship"
	TransitionComplete        Transition = "complete"
	TransitionCancel          Transition = "cancel"
)

type edge struct {
	from []Status
	to   Status
}

// Workflow 订单状态机，流转表在创建后不可修改
type Workflow struct {
	edges map[Transition]edge
}

// DefaultWorkflow 返回标准的订单流转表
// 进入 processing 之后不能再取消
func DefaultWorkflow() *Workflow {
	return &Workflow{edges: map[Transition]edge{
		TransitionSubmitPayment:   {from: []Status{StatusNew}, to: StatusPaymentPending},
		TransitionConfirmPayment:  {from: []Status{StatusPaymentPending}, to: StatusPaid},
		TransitionStartProcessing: {from: []Status{StatusPaid}, to: StatusProcessing},
		TransitionShip:            {from: []Status{StatusProcessing}, to: StatusShipped},
		TransitionComplete:        {from: []Status{StatusShipped}, to: StatusCompleted},
		TransitionCancel:          {from: []Status{StatusNew, StatusPaymentPending, StatusPaid}, to: StatusCancelled},
	}}
}

// CanTransition 判断订单当前状态能否执行该流转
func (w *Workflow) CanTransition(o *Order, t Transition) bool {
	e, ok := w.edges[t]
	if !ok {
		return false
	}
	for _, s := range e.from {
		if o.Status == s {
			return true
		}
	}
	return false
}

// Apply 执行流转，不允许时返回 TransitionError
func (w *Workflow) Apply(o *Order, t Transition, now time.Time) error {
	if !w.CanTransition(o, t) {
		return &TransitionError{OrderID: o.ID, From: o.Status, Transition: t}
	}
	o.Status = w.edges[t].to
	o.UpdatedAt = now
	return nil
}

// Known 判断流转名称是否存在
func (w *Workflow) Known(t Transition) bool {
	_, ok := w.edges[t]
	return ok
}
