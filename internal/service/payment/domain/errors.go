package domain

import "errors"

var (
	ErrMissingSignature = errors.New("missing signature")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrMalformedEvent   = errors.New("malformed payment event")
	ErrOrderUnknown     = errors.New("no order for payment intent")

	// ErrSideEffectFailed 事件已标记为处理过，但库存或订单更新失败，需要人工对账
	ErrSideEffectFailed = errors.New("payment event side effects failed")
)
