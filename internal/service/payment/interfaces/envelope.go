package interfaces

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"stockledger/internal/service/payment/domain"
)

// envelope 渠道事件的外层结构，只解析需要的字段
type envelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			Object string `json:"object"`
			ID     string `json:"id"`
		} `json:"object"`
	} `json:"data"`
}

// ParseEvent 把请求体解析成 PaymentEvent
func ParseEvent(payload []byte, receivedAt time.Time) (domain.PaymentEvent, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return domain.PaymentEvent{}, errors.Wrap(domain.ErrMalformedEvent, err.Error())
	}
	if env.ID == "" || env.Type == "" {
		return domain.PaymentEvent{}, errors.Wrap(domain.ErrMalformedEvent, "missing id or type")
	}
	return domain.PaymentEvent{
		ID:         env.ID,
		Type:       env.Type,
		ObjectType: env.Data.Object.Object,
		IntentID:   env.Data.Object.ID,
		ReceivedAt: receivedAt,
	}, nil
}
