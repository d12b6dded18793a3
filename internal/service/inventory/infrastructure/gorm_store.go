package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"stockledger/internal/pkg/clock"
	"stockledger/internal/pkg/database"
	"stockledger/internal/service/inventory/domain"
)

// GormStore 是 domain.Store 的 GORM 实现
// 并发控制依赖 InnoDB 行锁：LockForUpdate 使用 SELECT ... FOR UPDATE，
// 调整语句自带条件，即使调用方忘记加锁也不会破坏 0 <= reserved <= on_hand
type GormStore struct {
	db    *gorm.DB
	clock clock.Clock
}

// NewGormStore 创建一个新的 GORM 存储实例
func NewGormStore(db *gorm.DB, c clock.Clock) *GormStore {
	if c == nil {
		c = clock.Real()
	}
	return &GormStore{db: db, clock: c}
}

func (s *GormStore) Atomic(ctx context.Context, fn func(tx domain.Tx) error) error {
	// 区分业务回调返回的错误和事务本身（begin/commit）的错误
	var fnErr error
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(&gormTx{db: tx, clock: s.clock})
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return translate(err, "transaction")
	}
	return nil
}

func (s *GormStore) View(ctx context.Context, fn func(tx domain.Tx) error) error {
	return fn(&gormTx{db: s.db.WithContext(ctx), clock: s.clock, readOnly: true})
}

type gormTx struct {
	db       *gorm.DB
	clock    clock.Clock
	readOnly bool
}

func (t *gormTx) Ledger() domain.StockLedger            { return &gormLedger{t} }
func (t *gormTx) Reservations() domain.ReservationStore { return &gormReservations{t} }

type gormLedger struct{ *gormTx }

func (l *gormLedger) Find(ctx context.Context, variantID int64) (*domain.StockItem, error) {
	var m StockItemModel
	err := l.db.WithContext(ctx).Where("variant_id = ?", variantID).First(&m).Error
	if err != nil {
		if database.IsNotFound(err) {
			return nil, domain.ErrStockItemNotFound
		}
		return nil, translate(err, "find stock item")
	}
	return toDomainStockItem(&m), nil
}

func (l *gormLedger) GetOrCreate(ctx context.Context, variantID int64) (*domain.StockItem, error) {
	now := l.clock.Now()
	m := StockItemModel{VariantID: variantID, CreatedAt: now, UpdatedAt: now}
	// 并发的首次预留可能同时插入，冲突时什么都不做，随后统一读取
	err := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "variant_id"}}, DoNothing: true}).
		Create(&m).Error
	if err != nil {
		return nil, translate(err, "create stock item")
	}
	return l.Find(ctx, variantID)
}

func (l *gormLedger) LockForUpdate(ctx context.Context, variantID int64) (*domain.StockItem, error) {
	q := l.db.WithContext(ctx)
	// SQLite 没有行锁，单连接的写事务已经是串行的
	if !database.IsSQLite(l.db) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var m StockItemModel
	if err := q.Where("variant_id = ?", variantID).First(&m).Error; err != nil {
		if database.IsNotFound(err) {
			return nil, domain.ErrStockItemNotFound
		}
		return nil, translate(err, "lock stock item")
	}
	return toDomainStockItem(&m), nil
}

func (l *gormLedger) AdjustReserved(ctx context.Context, variantID int64, delta int64) (*domain.StockItem, error) {
	return l.adjust(ctx, variantID, 0, delta)
}

func (l *gormLedger) AdjustOnHand(ctx context.Context, variantID int64, delta int64) (*domain.StockItem, error) {
	return l.adjust(ctx, variantID, delta, 0)
}

func (l *gormLedger) adjust(ctx context.Context, variantID, onHandDelta, reservedDelta int64) (*domain.StockItem, error) {
	if l.readOnly {
		return nil, errors.Wrap(domain.ErrTransactionFailure, "adjust outside transaction")
	}
	res := l.db.WithContext(ctx).Model(&StockItemModel{}).
		Where("variant_id = ?", variantID).
		Where("reserved + ? >= 0", reservedDelta).
		Where("reserved + ? <= on_hand + ?", reservedDelta, onHandDelta).
		Updates(map[string]any{
			"on_hand":    gorm.Expr("on_hand + ?", onHandDelta),
			"reserved":   gorm.Expr("reserved + ?", reservedDelta),
			"version":    gorm.Expr("version + 1"),
			"updated_at": l.clock.Now(),
		})
	if res.Error != nil {
		return nil, translate(res.Error, "adjust stock item")
	}
	if res.RowsAffected == 0 {
		if _, err := l.Find(ctx, variantID); err != nil {
			return nil, err
		}
		return nil, domain.ErrInvariantViolation
	}
	return l.Find(ctx, variantID)
}

type gormReservations struct{ *gormTx }

func (r *gormReservations) Create(ctx context.Context, res *domain.Reservation) error {
	if err := r.db.WithContext(ctx).Create(toReservationModel(res)).Error; err != nil {
		if database.IsDuplicate(err) {
			return domain.ErrOrderAlreadyReserved
		}
		return translate(err, "create reservation")
	}
	return nil
}

func (r *gormReservations) FindByOrder(ctx context.Context, orderID string) ([]domain.Reservation, error) {
	var ms []ReservationModel
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("variant_id").Find(&ms).Error
	if err != nil {
		return nil, translate(err, "find reservations by order")
	}
	return toDomainReservations(ms), nil
}

func (r *gormReservations) FindExpired(ctx context.Context, now time.Time) ([]domain.Reservation, error) {
	var ms []ReservationModel
	err := r.db.WithContext(ctx).Where("expires_at < ?", now.UTC()).Order("expires_at, id").Find(&ms).Error
	if err != nil {
		return nil, translate(err, "find expired reservations")
	}
	return toDomainReservations(ms), nil
}

func (r *gormReservations) Delete(ctx context.Context, res domain.Reservation) (bool, error) {
	if r.readOnly {
		return false, errors.Wrap(domain.ErrTransactionFailure, "delete outside transaction")
	}
	result := r.db.WithContext(ctx).Where("id = ?", res.ID).Delete(&ReservationModel{})
	if result.Error != nil {
		return false, translate(result.Error, "delete reservation")
	}
	return result.RowsAffected > 0, nil
}

// translate 把数据库错误归类为领域错误，原始驱动错误仍可用 errors.As 取到
func translate(err error, op string) error {
	if database.IsLockTimeout(err) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrLockTimeout, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrTransactionFailure, err)
}
