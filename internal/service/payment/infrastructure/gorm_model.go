package infrastructure

import "time"

// ProcessedEventModel 对应 processed_webhook_event 表
type ProcessedEventModel struct {
	EventID     string    `gorm:"column:event_id;primaryKey;size:255"`
	EventType   string    `gorm:"column:event_type;size:128;not null;default:''"`
	ProcessedAt time.Time `gorm:"column:processed_at;not null;index"`
}

func (ProcessedEventModel) TableName() string { return "processed_webhook_event" }

// Models 返回需要迁移的全部表
func Models() []any {
	return []any{&ProcessedEventModel{}}
}
