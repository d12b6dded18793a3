package adapter

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"stockledger/internal/pkg/mq"
	"stockledger/internal/service/payment/domain/port"
)

// KafkaReconciliationPublisher 把副作用失败的事件写入对账 topic
// 以事件 ID 为 key，同一事件的记录落在同一分区
type KafkaReconciliationPublisher struct {
	writer mq.MessageWriter
}

func NewKafkaReconciliationPublisher(writer mq.MessageWriter) *KafkaReconciliationPublisher {
	return &KafkaReconciliationPublisher{writer: writer}
}

func (p *KafkaReconciliationPublisher) Publish(ctx context.Context, r port.ReconciliationRecord) error {
	data, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "marshal reconciliation record")
	}
	return errors.Wrap(mq.ProduceMessage(ctx, p.writer, []byte(r.EventID), data), "publish reconciliation record")
}
