package infrastructure

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stockledger/internal/service/payment/domain"
)

// GormProcessedEventStore 实现 domain.ProcessedEventStore
type GormProcessedEventStore struct {
	db *gorm.DB
}

func NewGormProcessedEventStore(db *gorm.DB) *GormProcessedEventStore {
	return &GormProcessedEventStore{db: db}
}

func (s *GormProcessedEventStore) Exists(ctx context.Context, eventID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&ProcessedEventModel{}).Where("event_id = ?", eventID).Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "count processed event")
	}
	return count > 0, nil
}

// Insert 依赖主键冲突判断是否已存在，并发投递时只有一方能写入
func (s *GormProcessedEventStore) Insert(ctx context.Context, e domain.ProcessedEvent) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(&ProcessedEventModel{EventID: e.EventID, EventType: e.EventType, ProcessedAt: e.ProcessedAt})
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "insert processed event")
	}
	return res.RowsAffected == 1, nil
}
