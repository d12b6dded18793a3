package interfaces

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"stockledger/internal/pkg/clock"
	"stockledger/internal/pkg/logger"
	"stockledger/internal/pkg/mq"
	"stockledger/internal/service/payment/application"
	"stockledger/internal/service/payment/domain"
)

const maxProcessAttempts = 3

// PaymentEventConsumer 从 Kafka 消费支付事件，是 HTTP 回调之外的另一条投递通道
// 消息体与 HTTP 回调的请求体相同，topic 只由内部网关写入，不再验签
type PaymentEventConsumer struct {
	reader  mq.MessageReader
	topic   string
	service *application.WebhookService
	clock   clock.Clock
	backoff time.Duration
	wg      sync.WaitGroup
	stopped atomic.Bool
}

func NewPaymentEventConsumer(reader mq.MessageReader, topic string, service *application.WebhookService) *PaymentEventConsumer {
	return &PaymentEventConsumer{
		reader:  reader,
		topic:   topic,
		service: service,
		clock:   clock.Real(),
		backoff: time.Second,
	}
}

// Start 开始监听，在后台 goroutine 中运行直到 ctx 取消或 Stop
func (a *PaymentEventConsumer) Start(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Ctx(ctx).Info().Str("topic", a.topic).Msg("✅ payment event consumer started")
		for {
			if a.stopped.Load() {
				return
			}
			msg, err := a.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || a.stopped.Load() {
					logger.Ctx(ctx).Info().Str("topic", a.topic).Msg("🛑 payment event consumer shutting down")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Msg("could not fetch payment event, retrying")
				a.sleep(ctx)
				continue
			}

			msgCtx := mq.ExtractTraceContext(ctx, msg.Headers)
			a.processMessage(msgCtx, msg)

			if err := a.reader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(ctx).Error().Err(err).Int64("offset", msg.Offset).Msg("failed to commit payment event offset")
			}
		}
	}()
}

// Stop 优雅地停止消费者
func (a *PaymentEventConsumer) Stop(ctx context.Context) {
	a.stopped.Store(true)
	if err := a.reader.Close(); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("close payment event reader")
	}
	a.wg.Wait()
	logger.Ctx(ctx).Info().Str("topic", a.topic).Msg("✅ payment event consumer stopped")
}

// processMessage 处理一条消息，之后总会提交 offset
// 去重表读写失败这类临时错误会原地重试几次
func (a *PaymentEventConsumer) processMessage(ctx context.Context, msg kafka.Message) {
	event, err := ParseEvent(msg.Value, a.clock.Now())
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("key", string(msg.Key)).Msg("malformed payment event skipped")
		return
	}

	for attempt := 1; attempt <= maxProcessAttempts; attempt++ {
		_, err = a.service.HandleEvent(ctx, event)
		if err == nil {
			return
		}
		if errors.Is(err, domain.ErrSideEffectFailed) || errors.Is(err, domain.ErrMalformedEvent) {
			// 已记录对账，重复消费也不会重做
			return
		}
		logger.Ctx(ctx).Warn().Err(err).Str("event_id", event.ID).Int("attempt", attempt).Msg("payment event handling failed")
		if attempt < maxProcessAttempts {
			a.sleep(ctx)
		}
	}
	logger.Ctx(ctx).Error().Err(err).Str("event_id", event.ID).Msg("🚨 payment event dropped after retries")
}

func (a *PaymentEventConsumer) sleep(ctx context.Context) {
	t := time.NewTimer(a.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
