package application

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stockledger/internal/pkg/clock"
	"stockledger/internal/pkg/logger"
	"stockledger/internal/pkg/metrics"
	"stockledger/internal/service/payment/domain"
	"stockledger/internal/service/payment/domain/port"
)

const (
	transitionConfirmPayment = "confirm_payment"
	transitionCancel         = "cancel"
)

// Disposition 事件处理结果
type Disposition string

const (
	DispositionApplied       Disposition = "applied"
	DispositionDuplicate     Disposition = "duplicate"
	DispositionIgnored       Disposition = "ignored"
	DispositionUnknownIntent Disposition = "unknown_intent"
)

// HandleResult 处理结果
type HandleResult struct {
	Disposition Disposition
	Outcome     domain.Outcome
	OrderID     string
	// Transitioned 订单状态是否发生了流转
	Transitioned bool
	// Reconcile 库存结算不完整，已发布对账记录
	Reconcile bool
}

// WebhookService 处理支付渠道的事件：去重、库存提交或释放、订单流转
type WebhookService struct {
	guard      *IdempotencyGuard
	classifier atomic.Pointer[port.EventClassifier]
	orders     port.Orders
	inventory  port.Inventory
	reconciler port.ReconciliationPublisher
	clock      clock.Clock
	tracer     trace.Tracer
}

type Option func(*WebhookService)

func WithClock(c clock.Clock) Option { return func(s *WebhookService) { s.clock = c } }

func WithTracer(t trace.Tracer) Option { return func(s *WebhookService) { s.tracer = t } }

// WithReconciler 副作用失败时把记录发布出去
func WithReconciler(p port.ReconciliationPublisher) Option {
	return func(s *WebhookService) { s.reconciler = p }
}

func NewWebhookService(guard *IdempotencyGuard, classifier port.EventClassifier, orders port.Orders, inventory port.Inventory, opts ...Option) *WebhookService {
	s := &WebhookService{
		guard:     guard,
		orders:    orders,
		inventory: inventory,
		clock:     clock.Real(),
		tracer:    otel.Tracer("payment-webhook"),
	}
	s.classifier.Store(&classifier)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetClassifier 配置变更时替换分类规则
func (s *WebhookService) SetClassifier(c port.EventClassifier) {
	s.classifier.Store(&c)
}

// HandleEvent 处理一个已验签的事件
// 重复事件直接返回成功；副作用失败时事件保持已处理状态，返回 ErrSideEffectFailed
func (s *WebhookService) HandleEvent(ctx context.Context, e domain.PaymentEvent) (*HandleResult, error) {
	ctx, span := s.tracer.Start(ctx, "app.HandlePaymentEvent")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.event_id", e.ID),
		attribute.String("payment.event_type", e.Type),
		attribute.String("payment.intent_id", e.IntentID),
	)
	log := logger.Ctx(ctx).With().Str("event_id", e.ID).Str("event_type", e.Type).Logger()

	if e.ID == "" {
		return nil, domain.ErrMalformedEvent
	}

	processed, err := s.guard.IsProcessed(ctx, e.ID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if processed {
		log.Info().Msg("payment event already processed")
		metrics.WebhookEventsTotal.WithLabelValues("", string(DispositionDuplicate)).Inc()
		return &HandleResult{Disposition: DispositionDuplicate}, nil
	}
	inserted, err := s.guard.MarkProcessed(ctx, e)
	if err != nil {
		return nil, s.fail(span, err)
	}
	if !inserted {
		log.Info().Msg("payment event marked by a concurrent delivery")
		metrics.WebhookEventsTotal.WithLabelValues("", string(DispositionDuplicate)).Inc()
		return &HandleResult{Disposition: DispositionDuplicate}, nil
	}

	if !e.IsPaymentIntent() {
		log.Info().Str("object", e.ObjectType).Msg("payment event ignored, not a payment intent")
		metrics.WebhookEventsTotal.WithLabelValues("", string(DispositionIgnored)).Inc()
		return &HandleResult{Disposition: DispositionIgnored, Outcome: domain.OutcomeIgnored}, nil
	}

	outcome, err := (*s.classifier.Load()).Classify(ctx, e)
	if err != nil {
		return nil, s.sideEffectFailed(ctx, span, e, nil, domain.OutcomeIgnored, "classify", err)
	}
	if outcome == domain.OutcomeIgnored {
		log.Info().Str("intent_id", e.IntentID).Msg("unhandled payment event type")
		metrics.WebhookEventsTotal.WithLabelValues(string(outcome), string(DispositionIgnored)).Inc()
		return &HandleResult{Disposition: DispositionIgnored, Outcome: outcome}, nil
	}

	ref, err := s.orders.FindByPaymentIntent(ctx, e.IntentID)
	if errors.Is(err, domain.ErrOrderUnknown) {
		log.Warn().Str("intent_id", e.IntentID).Msg("payment event for unknown payment intent")
		metrics.WebhookEventsTotal.WithLabelValues(string(outcome), string(DispositionUnknownIntent)).Inc()
		return &HandleResult{Disposition: DispositionUnknownIntent, Outcome: outcome}, nil
	}
	if err != nil {
		return nil, s.sideEffectFailed(ctx, span, e, nil, outcome, "find_order", err)
	}

	result := &HandleResult{Disposition: DispositionApplied, Outcome: outcome, OrderID: ref.ID}
	if err := s.orders.RecordPaymentOutcome(ctx, ref, outcome); err != nil {
		return nil, s.sideEffectFailed(ctx, span, e, ref, outcome, "record_payment", err)
	}

	var transition string
	switch outcome {
	case domain.OutcomeSucceeded:
		st, err := s.inventory.Commit(ctx, ref.ID)
		if err != nil {
			return nil, s.sideEffectFailed(ctx, span, e, ref, outcome, "commit_inventory", err)
		}
		// 支付成功却没有扣减任何库存，通常是预留已被回收，存在超卖风险
		if st.Applied == 0 || len(st.Missing) > 0 {
			result.Reconcile = true
			s.settlementIncomplete(ctx, e, ref, outcome, "commit_inventory", st)
		}
		transition = transitionConfirmPayment
	case domain.OutcomeFailed:
		st, err := s.inventory.Release(ctx, ref.ID)
		if err != nil {
			return nil, s.sideEffectFailed(ctx, span, e, ref, outcome, "release_inventory", err)
		}
		if len(st.Missing) > 0 {
			result.Reconcile = true
			s.settlementIncomplete(ctx, e, ref, outcome, "release_inventory", st)
		}
		transition = transitionCancel
	}

	result.Transitioned, err = s.orders.TransitionIfAllowed(ctx, ref, transition)
	if err != nil {
		return nil, s.sideEffectFailed(ctx, span, e, ref, outcome, transition, err)
	}
	if !result.Transitioned {
		log.Info().Str("order_id", ref.ID).Str("status", ref.Status).Str("transition", transition).
			Msg("order not in a state for this transition, left unchanged")
	}

	log.Info().Str("order_id", ref.ID).Str("outcome", string(outcome)).Bool("transitioned", result.Transitioned).
		Msg("payment event applied")
	metrics.WebhookEventsTotal.WithLabelValues(string(outcome), string(DispositionApplied)).Inc()
	return result, nil
}

// settlementIncomplete 结算本身成功但有预留或库存行缺失，订单照常流转，另行发布对账记录
func (s *WebhookService) settlementIncomplete(ctx context.Context, e domain.PaymentEvent, ref *port.OrderRef, outcome domain.Outcome, step string, st port.Settlement) {
	rec := s.record(e, ref, outcome, step,
		fmt.Sprintf("settlement incomplete: applied=%d missing=%v", st.Applied, st.Missing))

	logger.Ctx(ctx).Warn().
		Str("event_id", e.ID).
		Str("order_id", ref.ID).
		Str("step", step).
		Int("applied", st.Applied).
		Ints64("missing_variant_ids", st.Missing).
		Msg("⚠️ payment settled without matching reservations, reconciliation required")
	metrics.WebhookEventsTotal.WithLabelValues(string(outcome), "reconcile").Inc()
	s.publish(ctx, rec)
}

// sideEffectFailed 记录日志与指标并发布对账记录，事件仍保持已处理
func (s *WebhookService) sideEffectFailed(ctx context.Context, span trace.Span, e domain.PaymentEvent, ref *port.OrderRef, outcome domain.Outcome, step string, cause error) error {
	rec := s.record(e, ref, outcome, step, cause.Error())

	logger.Ctx(ctx).Error().Err(cause).
		Str("event_id", e.ID).
		Str("order_id", rec.OrderID).
		Str("intent_id", e.IntentID).
		Str("step", step).
		Msg("🚨 payment event side effects failed, manual reconciliation required")
	metrics.WebhookEventsTotal.WithLabelValues(string(outcome), "failed").Inc()
	s.publish(ctx, rec)

	err := errors.Wrapf(domain.ErrSideEffectFailed, "%s: %v", step, cause)
	return s.fail(span, err)
}

func (s *WebhookService) record(e domain.PaymentEvent, ref *port.OrderRef, outcome domain.Outcome, step, reason string) port.ReconciliationRecord {
	rec := port.ReconciliationRecord{
		EventID:   e.ID,
		EventType: e.Type,
		IntentID:  e.IntentID,
		Outcome:   string(outcome),
		Step:      step,
		Error:     reason,
		At:        s.clock.Now(),
	}
	if ref != nil {
		rec.OrderID = ref.ID
	}
	return rec
}

func (s *WebhookService) publish(ctx context.Context, rec port.ReconciliationRecord) {
	if s.reconciler == nil {
		return
	}
	// 请求 ctx 可能已经结束，对账记录单独给一个超时
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.reconciler.Publish(pubCtx, rec); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("event_id", rec.EventID).Msg("failed to publish reconciliation record")
	}
}

func (s *WebhookService) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
