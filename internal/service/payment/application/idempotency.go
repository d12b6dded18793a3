package application

import (
	"context"

	"github.com/pkg/errors"

	"stockledger/internal/pkg/clock"
	"stockledger/internal/service/payment/domain"
)

// IdempotencyGuard 保证同一个事件的副作用最多执行一次
// 标记先于副作用持久化，宁可漏做也不重复扣减
type IdempotencyGuard struct {
	store domain.ProcessedEventStore
	clock clock.Clock
}

func NewIdempotencyGuard(store domain.ProcessedEventStore, c clock.Clock) *IdempotencyGuard {
	if c == nil {
		c = clock.Real()
	}
	return &IdempotencyGuard{store: store, clock: c}
}

func (g *IdempotencyGuard) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	ok, err := g.store.Exists(ctx, eventID)
	return ok, errors.Wrap(err, "check processed event")
}

// MarkProcessed 返回 false 表示并发投递的另一份已经先标记
func (g *IdempotencyGuard) MarkProcessed(ctx context.Context, e domain.PaymentEvent) (bool, error) {
	inserted, err := g.store.Insert(ctx, domain.ProcessedEvent{
		EventID:     e.ID,
		EventType:   e.Type,
		ProcessedAt: g.clock.Now(),
	})
	return inserted, errors.Wrap(err, "mark event processed")
}
