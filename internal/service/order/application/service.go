package application

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stockledger/internal/pkg/clock"
	"stockledger/internal/pkg/logger"
	"stockledger/internal/service/order/domain"
	"stockledger/internal/service/order/domain/port"
)

// CheckoutService 负责下单、提交支付和订单状态流转
type CheckoutService struct {
	orders    domain.OrderRepository
	inventory port.Inventory
	workflow  *domain.Workflow
	publisher port.OrderEventPublisher
	clock     clock.Clock
	tracer    trace.Tracer
}

type Option func(*CheckoutService)

func WithClock(c clock.Clock) Option { return func(s *CheckoutService) { s.clock = c } }

func WithTracer(t trace.Tracer) Option { return func(s *CheckoutService) { s.tracer = t } }

// WithPublisher 状态变化后发布订单事件，发布失败只记录日志
func WithPublisher(p port.OrderEventPublisher) Option {
	return func(s *CheckoutService) { s.publisher = p }
}

func NewCheckoutService(orders domain.OrderRepository, inventory port.Inventory, opts ...Option) *CheckoutService {
	s := &CheckoutService{
		orders:    orders,
		inventory: inventory,
		workflow:  domain.DefaultWorkflow(),
		clock:     clock.Real(),
		tracer:    otel.Tracer("order-checkout"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PlaceOrder 创建订单并整单预留库存
// 预留失败时删除订单草稿，返回 ReservationRejectedError
func (s *CheckoutService) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*OrderView, error) {
	ctx, span := s.tracer.Start(ctx, "app.PlaceOrder")
	defer span.End()

	items := make([]domain.OrderItem, 0, len(req.Lines))
	for _, l := range req.Lines {
		items = append(items, domain.OrderItem{SKU: l.SKU, Quantity: l.Quantity})
	}
	now := s.clock.Now()
	order, err := domain.NewOrder(uuid.NewString(), newOrderNumber(now.Format("20060102")), items, now)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", order.ID), attribute.Int("order.lines", len(order.Items)))

	if err := s.orders.Create(ctx, order); err != nil {
		return nil, s.fail(span, err, "failed to save order draft")
	}

	lines := make([]port.Line, 0, len(order.Items))
	for _, it := range order.Items {
		lines = append(lines, port.Line{SKU: it.SKU, Quantity: it.Quantity})
	}
	outcome, err := s.inventory.Reserve(ctx, order.ID, lines)
	if err != nil {
		s.discardDraft(ctx, order.ID)
		return nil, s.fail(span, err, "reservation failed")
	}
	if !outcome.Success {
		s.discardDraft(ctx, order.ID)
		span.AddEvent("reservation rejected")
		logger.Ctx(ctx).Info().Str("order_id", order.ID).Strs("errors", outcome.Messages).Msg("order rejected, stock unavailable")
		return nil, &domain.ReservationRejectedError{Messages: outcome.Messages}
	}

	logger.Ctx(ctx).Info().Str("order_id", order.ID).Str("number", order.Number).Msg("order placed, stock reserved")
	return NewOrderView(order), nil
}

func (s *CheckoutService) discardDraft(ctx context.Context, orderID string) {
	if err := s.orders.Delete(ctx, orderID); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("order_id", orderID).Msg("failed to delete rejected order draft")
	}
}

// SubmitPayment 绑定支付意图并进入 payment_pending
// 用同一个 intent 重复提交是幂等的
func (s *CheckoutService) SubmitPayment(ctx context.Context, orderID, intentID string) (*OrderView, error) {
	ctx, span := s.tracer.Start(ctx, "app.SubmitPayment")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == domain.StatusPaymentPending && order.PaymentIntentID == intentID {
		return NewOrderView(order), nil
	}

	now := s.clock.Now()
	if err := order.AttachPaymentIntent(intentID, now); err != nil {
		return nil, err
	}
	if err := s.transition(ctx, order, domain.TransitionSubmitPayment); err != nil {
		return nil, s.fail(span, err, "submit payment failed")
	}
	return NewOrderView(order), nil
}

// GetOrder 按 ID 查询订单
func (s *CheckoutService) GetOrder(ctx context.Context, orderID string) (*OrderView, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return NewOrderView(order), nil
}

// FindByPaymentIntent 供支付回调定位订单
func (s *CheckoutService) FindByPaymentIntent(ctx context.Context, intentID string) (*domain.Order, error) {
	return s.orders.FindByPaymentIntent(ctx, intentID)
}

// CanTransition 判断订单能否执行该流转
func (s *CheckoutService) CanTransition(order *domain.Order, t domain.Transition) bool {
	return s.workflow.CanTransition(order, t)
}

// ApplyTransition 执行流转并持久化，不涉及库存
func (s *CheckoutService) ApplyTransition(ctx context.Context, order *domain.Order, t domain.Transition) error {
	ctx, span := s.tracer.Start(ctx, "app.ApplyTransition")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", order.ID), attribute.String("order.transition", string(t)))

	if !s.workflow.Known(t) {
		return errors.Wrap(domain.ErrUnknownTransition, string(t))
	}
	if err := s.transition(ctx, order, t); err != nil {
		if errors.Is(err, domain.ErrTransitionNotAllowed) {
			return err
		}
		return s.fail(span, err, "transition failed")
	}
	return nil
}

// TransitionByID 运营后台按订单 ID 执行流转
// cancel 会先归还库存预留，归还失败时订单保持原状态
func (s *CheckoutService) TransitionByID(ctx context.Context, orderID string, t domain.Transition) (*OrderView, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if t == domain.TransitionCancel {
		if !s.workflow.CanTransition(order, t) {
			return nil, &domain.TransitionError{OrderID: order.ID, From: order.Status, Transition: t}
		}
		if err := s.inventory.Release(ctx, order.ID); err != nil {
			return nil, errors.Wrapf(err, "release stock of order %s", order.ID)
		}
	}
	if err := s.ApplyTransition(ctx, order, t); err != nil {
		return nil, err
	}
	return NewOrderView(order), nil
}

// RecordPaymentOutcome 保存支付回调结果
func (s *CheckoutService) RecordPaymentOutcome(ctx context.Context, order *domain.Order, status domain.PaymentStatus) error {
	order.RecordPayment(status, s.clock.Now())
	return s.orders.Update(ctx, order)
}

// ValidateInventory 下单前的预检，结果仅供展示
func (s *CheckoutService) ValidateInventory(ctx context.Context, lines []CartLine) ([]AvailabilityIssue, error) {
	issues := make([]AvailabilityIssue, 0)
	for _, l := range lines {
		available, err := s.inventory.Available(ctx, l.SKU)
		switch {
		case errors.Is(err, port.ErrUnknownSKU):
			issues = append(issues, AvailabilityIssue{
				SKU:       l.SKU,
				Requested: l.Quantity,
				Message:   fmt.Sprintf("Variant not found for SKU: %s", l.SKU),
			})
		case err != nil:
			return nil, err
		case available < l.Quantity:
			issues = append(issues, AvailabilityIssue{
				SKU:       l.SKU,
				Requested: l.Quantity,
				Available: available,
				Message:   fmt.Sprintf("Insufficient stock for %s. Available: %d, Required: %d", l.SKU, available, l.Quantity),
			})
		}
	}
	return issues, nil
}

func (s *CheckoutService) transition(ctx context.Context, order *domain.Order, t domain.Transition) error {
	from := order.Status
	if err := s.workflow.Apply(order, t, s.clock.Now()); err != nil {
		return err
	}
	if err := s.orders.Update(ctx, order); err != nil {
		order.Status = from
		return err
	}
	logger.Ctx(ctx).Info().
		Str("order_id", order.ID).
		Str("from", string(from)).
		Str("to", string(order.Status)).
		Msg("order transitioned")

	if s.publisher != nil {
		if err := s.publisher.OrderStatusChanged(ctx, order, t); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("order_id", order.ID).Msg("order event not published")
		}
	}
	return nil
}

func (s *CheckoutService) fail(span trace.Span, err error, msg string) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	return err
}

func newOrderNumber(day string) string {
	return "ORD-" + day + "-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
