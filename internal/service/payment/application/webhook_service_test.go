package application

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"stockledger/internal/service/payment/domain"
	"stockledger/internal/service/payment/domain/port"
)

type memEventStore struct {
	mu     sync.Mutex
	events map[string]domain.ProcessedEvent
}

func (m *memEventStore) Exists(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.events[id]
	return ok, nil
}

func (m *memEventStore) Insert(_ context.Context, e domain.ProcessedEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[e.EventID]; ok {
		return false, nil
	}
	m.events[e.EventID] = e
	return true, nil
}

type staticClassifier map[string]domain.Outcome

func (c staticClassifier) Classify(_ context.Context, e domain.PaymentEvent) (domain.Outcome, error) {
	if o, ok := c[e.Type]; ok {
		return o, nil
	}
	return domain.OutcomeIgnored, nil
}

type fakeOrders struct {
	orders      map[string]*port.OrderRef // intent -> order
	outcomes    map[string]domain.Outcome
	transitions []string
	allowed     map[string]bool
}

func (f *fakeOrders) FindByPaymentIntent(_ context.Context, intentID string) (*port.OrderRef, error) {
	ref, ok := f.orders[intentID]
	if !ok {
		return nil, domain.ErrOrderUnknown
	}
	cp := *ref
	return &cp, nil
}

func (f *fakeOrders) RecordPaymentOutcome(_ context.Context, ref *port.OrderRef, outcome domain.Outcome) error {
	f.outcomes[ref.ID] = outcome
	return nil
}

func (f *fakeOrders) TransitionIfAllowed(_ context.Context, ref *port.OrderRef, transition string) (bool, error) {
	if !f.allowed[transition] {
		return false, nil
	}
	f.transitions = append(f.transitions, ref.ID+":"+transition)
	return true, nil
}

type fakeInventory struct {
	commits, releases []string
	err               error
	// settlement 为 nil 时每次结算都视为处理了一条预留
	settlement *port.Settlement
}

func (f *fakeInventory) result() port.Settlement {
	if f.settlement != nil {
		return *f.settlement
	}
	return port.Settlement{Applied: 1}
}

func (f *fakeInventory) Commit(_ context.Context, orderID string) (port.Settlement, error) {
	if f.err != nil {
		return port.Settlement{}, f.err
	}
	f.commits = append(f.commits, orderID)
	return f.result(), nil
}

func (f *fakeInventory) Release(_ context.Context, orderID string) (port.Settlement, error) {
	if f.err != nil {
		return port.Settlement{}, f.err
	}
	f.releases = append(f.releases, orderID)
	return f.result(), nil
}

type recordingReconciler struct {
	records []port.ReconciliationRecord
}

func (r *recordingReconciler) Publish(_ context.Context, rec port.ReconciliationRecord) error {
	r.records = append(r.records, rec)
	return nil
}

type WebhookServiceSuite struct {
	suite.Suite

	ctx        context.Context
	store      *memEventStore
	orders     *fakeOrders
	inventory  *fakeInventory
	reconciler *recordingReconciler
	svc        *WebhookService
}

func TestWebhookService(t *testing.T) {
	suite.Run(t, new(WebhookServiceSuite))
}

func (s *WebhookServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = &memEventStore{events: map[string]domain.ProcessedEvent{}}
	s.orders = &fakeOrders{
		orders:   map[string]*port.OrderRef{"pi_1": {ID: "order-1", Status: "payment_pending", IntentID: "pi_1"}},
		outcomes: map[string]domain.Outcome{},
		allowed:  map[string]bool{transitionConfirmPayment: true, transitionCancel: true},
	}
	s.inventory = &fakeInventory{}
	s.reconciler = &recordingReconciler{}
	classifier := staticClassifier{
		"payment_intent.succeeded":      domain.OutcomeSucceeded,
		"payment_intent.payment_failed": domain.OutcomeFailed,
	}
	s.svc = NewWebhookService(NewIdempotencyGuard(s.store, nil), classifier, s.orders, s.inventory,
		WithReconciler(s.reconciler),
	)
}

func event(id, typ string) domain.PaymentEvent {
	return domain.PaymentEvent{ID: id, Type: typ, ObjectType: "payment_intent", IntentID: "pi_1"}
}

func (s *WebhookServiceSuite) TestSucceededCommitsAndConfirms() {
	res, err := s.svc.HandleEvent(s.ctx, event("evt_1", "payment_intent.succeeded"))
	s.Require().NoError(err)
	s.Equal(DispositionApplied, res.Disposition)
	s.True(res.Transitioned)
	s.Equal([]string{"order-1"}, s.inventory.commits)
	s.Equal([]string{"order-1:confirm_payment"}, s.orders.transitions)
	s.Equal(domain.OutcomeSucceeded, s.orders.outcomes["order-1"])
	s.False(res.Reconcile)
	s.Empty(s.reconciler.records)
}

func (s *WebhookServiceSuite) TestSucceededWithoutReservationsIsReconciled() {
	// 预留已被回收：Commit 成功但没有扣减任何库存
	s.inventory.settlement = &port.Settlement{}

	res, err := s.svc.HandleEvent(s.ctx, event("evt_1", "payment_intent.succeeded"))
	s.Require().NoError(err)
	s.Equal(DispositionApplied, res.Disposition)
	s.True(res.Reconcile)
	s.True(res.Transitioned)

	s.Require().Len(s.reconciler.records, 1)
	rec := s.reconciler.records[0]
	s.Equal("evt_1", rec.EventID)
	s.Equal("order-1", rec.OrderID)
	s.Equal("commit_inventory", rec.Step)
	s.Contains(rec.Error, "applied=0")
}

func (s *WebhookServiceSuite) TestMissingStockRowsAreReconciled() {
	s.inventory.settlement = &port.Settlement{Applied: 1, Missing: []int64{7}}

	res, err := s.svc.HandleEvent(s.ctx, event("evt_1", "payment_intent.payment_failed"))
	s.Require().NoError(err)
	s.True(res.Reconcile)
	s.Require().Len(s.reconciler.records, 1)
	s.Equal("release_inventory", s.reconciler.records[0].Step)
	s.Contains(s.reconciler.records[0].Error, "missing=[7]")
}

func (s *WebhookServiceSuite) TestReleaseWithNothingHeldIsNotReconciled() {
	s.inventory.settlement = &port.Settlement{}

	res, err := s.svc.HandleEvent(s.ctx, event("evt_1", "payment_intent.payment_failed"))
	s.Require().NoError(err)
	s.False(res.Reconcile)
	s.Empty(s.reconciler.records)
}

func (s *WebhookServiceSuite) TestDuplicateDeliveryIsNoop() {
	_, err := s.svc.HandleEvent(s.ctx, event("evt_1", "payment_intent.succeeded"))
	s.Require().NoError(err)

	res, err := s.svc.HandleEvent(s.ctx, event("evt_1", "payment_intent.succeeded"))
	s.Require().NoError(err)
	s.Equal(DispositionDuplicate, res.Disposition)
	s.Len(s.inventory.commits, 1, "side effects run exactly once")
	s.Len(s.orders.transitions, 1)
}

func (s *WebhookServiceSuite) TestFailedReleasesAndCancels() {
	res, err := s.svc.HandleEvent(s.ctx, event("evt_2", "payment_intent.payment_failed"))
	s.Require().NoError(err)
	s.Equal(domain.OutcomeFailed, res.Outcome)
	s.Equal([]string{"order-1"}, s.inventory.releases)
	s.Equal([]string{"order-1:cancel"}, s.orders.transitions)
}

func (s *WebhookServiceSuite) TestTransitionNotAllowedLeavesOrder() {
	s.orders.allowed[transitionCancel] = false

	res, err := s.svc.HandleEvent(s.ctx, event("evt_3", "payment_intent.payment_failed"))
	s.Require().NoError(err)
	s.False(res.Transitioned)
	s.Equal([]string{"order-1"}, s.inventory.releases)
	s.Empty(s.orders.transitions)
}

func (s *WebhookServiceSuite) TestUnknownIntentIsIgnored() {
	e := event("evt_4", "payment_intent.succeeded")
	e.IntentID = "pi_unknown"

	res, err := s.svc.HandleEvent(s.ctx, e)
	s.Require().NoError(err)
	s.Equal(DispositionUnknownIntent, res.Disposition)
	s.Empty(s.inventory.commits)

	processed, err := s.svc.guard.IsProcessed(s.ctx, "evt_4")
	s.Require().NoError(err)
	s.True(processed)
}

func (s *WebhookServiceSuite) TestUnhandledTypesAreIgnored() {
	res, err := s.svc.HandleEvent(s.ctx, event("evt_5", "payment_intent.created"))
	s.Require().NoError(err)
	s.Equal(DispositionIgnored, res.Disposition)

	e := event("evt_6", "charge.succeeded")
	e.ObjectType = "charge"
	res, err = s.svc.HandleEvent(s.ctx, e)
	s.Require().NoError(err)
	s.Equal(DispositionIgnored, res.Disposition)
	s.Empty(s.inventory.commits)
}

func (s *WebhookServiceSuite) TestSideEffectFailureStaysProcessed() {
	s.inventory.err = errors.New("lock wait timeout")

	_, err := s.svc.HandleEvent(s.ctx, event("evt_7", "payment_intent.succeeded"))
	s.Require().ErrorIs(err, domain.ErrSideEffectFailed)
	s.Empty(s.orders.transitions, "order stays in its prior state")

	s.Require().Len(s.reconciler.records, 1)
	rec := s.reconciler.records[0]
	s.Equal("evt_7", rec.EventID)
	s.Equal("order-1", rec.OrderID)
	s.Equal("commit_inventory", rec.Step)

	// 重新投递不会再次执行副作用
	s.inventory.err = nil
	res, err := s.svc.HandleEvent(s.ctx, event("evt_7", "payment_intent.succeeded"))
	s.Require().NoError(err)
	s.Equal(DispositionDuplicate, res.Disposition)
	s.Empty(s.inventory.commits)
}

func (s *WebhookServiceSuite) TestRejectsEventWithoutID() {
	_, err := s.svc.HandleEvent(s.ctx, event("", "payment_intent.succeeded"))
	s.ErrorIs(err, domain.ErrMalformedEvent)
}

func (s *WebhookServiceSuite) TestSetClassifierSwapsRules() {
	s.svc.SetClassifier(staticClassifier{"payment_intent.amount_capturable_updated": domain.OutcomeSucceeded})

	res, err := s.svc.HandleEvent(s.ctx, event("evt_8", "payment_intent.amount_capturable_updated"))
	s.Require().NoError(err)
	s.Equal(DispositionApplied, res.Disposition)

	res, err = s.svc.HandleEvent(s.ctx, event("evt_9", "payment_intent.succeeded"))
	s.Require().NoError(err)
	s.Equal(DispositionIgnored, res.Disposition)
}
