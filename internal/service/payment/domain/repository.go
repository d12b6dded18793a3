package domain

import "context"

// ProcessedEventStore 持久化已处理的事件 ID
type ProcessedEventStore interface {
	Exists(ctx context.Context, eventID string) (bool, error)

	// Insert 写入记录，返回 false 表示记录已经存在
	Insert(ctx context.Context, e ProcessedEvent) (bool, error)
}
