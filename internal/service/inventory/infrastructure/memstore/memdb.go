package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"

	"stockledger/internal/pkg/clock"
	"stockledger/internal/service/inventory/domain"
)

const (
	tableStock       = "stock_item"
	tableReservation = "reservation"
	tableVariant     = "variant"
)

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableStock: {
				Name: tableStock,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {Name: "id", Unique: true, Indexer: &memdb.IntFieldIndex{Field: "VariantID"}},
				},
			},
			tableReservation: {
				Name: tableReservation,
				Indexes: map[string]*memdb.IndexSchema{
					"id":       {Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "ID"}},
					"order_id": {Name: "order_id", Indexer: &memdb.StringFieldIndex{Field: "OrderID"}},
				},
			},
			tableVariant: {
				Name: tableVariant,
				Indexes: map[string]*memdb.IndexSchema{
					"id":  {Name: "id", Unique: true, Indexer: &memdb.IntFieldIndex{Field: "ID"}},
					"sku": {Name: "sku", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "SKU"}},
				},
			},
		},
	}
}

// Store 是基于 go-memdb 的内存实现
// memdb 同一时刻只允许一个写事务，相当于所有库存行共用一把锁，正确性与行锁一致，只是并发度更低
type Store struct {
	db    *memdb.MemDB
	clock clock.Clock
}

// New 创建内存存储，用于本地运行和测试
func New(c clock.Clock) (*Store, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, errors.Wrap(err, "create memdb")
	}
	if c == nil {
		c = clock.Real()
	}
	return &Store{db: db, clock: c}, nil
}

func (s *Store) Atomic(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin: %w: %w", domain.ErrTransactionFailure, err)
	}
	txn := s.db.Txn(true)
	defer txn.Abort()

	if err := fn(&tx{txn: txn, clock: s.clock}); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *Store) View(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin: %w: %w", domain.ErrTransactionFailure, err)
	}
	txn := s.db.Txn(false)
	defer txn.Abort()
	return fn(&tx{txn: txn, clock: s.clock})
}

// FindVariantBySKU 实现 port.VariantCatalog
func (s *Store) FindVariantBySKU(_ context.Context, sku string) (*domain.Variant, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(tableVariant, "sku", sku)
	if err != nil {
		return nil, fmt.Errorf("find variant: %w: %w", domain.ErrTransactionFailure, err)
	}
	if raw == nil {
		return nil, domain.ErrVariantNotFound
	}
	v := *raw.(*domain.Variant)
	return &v, nil
}

// PutVariant 写入目录数据
func (s *Store) PutVariant(id int64, sku string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(tableVariant, &domain.Variant{ID: id, SKU: sku}); err != nil {
		return errors.Wrap(err, "insert variant")
	}
	txn.Commit()
	return nil
}

// PutStock 直接写入库存行，用于初始化数据
func (s *Store) PutStock(item domain.StockItem) error {
	if !item.Valid() {
		return domain.ErrInvariantViolation
	}
	txn := s.db.Txn(true)
	defer txn.Abort()
	item.UpdatedAt = s.clock.Now()
	if err := txn.Insert(tableStock, &item); err != nil {
		return errors.Wrap(err, "insert stock item")
	}
	txn.Commit()
	return nil
}

// DropStock 删除库存行，只用于模拟数据异常
func (s *Store) DropStock(variantID int64) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	if _, err := txn.DeleteAll(tableStock, "id", variantID); err != nil {
		return errors.Wrap(err, "delete stock item")
	}
	txn.Commit()
	return nil
}

type tx struct {
	txn   *memdb.Txn
	clock clock.Clock
}

func (t *tx) Ledger() domain.StockLedger            { return ledger{t} }
func (t *tx) Reservations() domain.ReservationStore { return reservations{t} }

type ledger struct{ *tx }

func (l ledger) Find(_ context.Context, variantID int64) (*domain.StockItem, error) {
	raw, err := l.txn.First(tableStock, "id", variantID)
	if err != nil {
		return nil, fmt.Errorf("find stock item: %w: %w", domain.ErrTransactionFailure, err)
	}
	if raw == nil {
		return nil, domain.ErrStockItemNotFound
	}
	item := *raw.(*domain.StockItem)
	return &item, nil
}

func (l ledger) GetOrCreate(ctx context.Context, variantID int64) (*domain.StockItem, error) {
	item, err := l.Find(ctx, variantID)
	if !errors.Is(err, domain.ErrStockItemNotFound) {
		return item, err
	}
	created := &domain.StockItem{VariantID: variantID, UpdatedAt: l.clock.Now()}
	if err := l.txn.Insert(tableStock, created); err != nil {
		return nil, fmt.Errorf("create stock item: %w: %w", domain.ErrTransactionFailure, err)
	}
	out := *created
	return &out, nil
}

// LockForUpdate 写事务本身已经独占，直接读取即可
func (l ledger) LockForUpdate(ctx context.Context, variantID int64) (*domain.StockItem, error) {
	return l.Find(ctx, variantID)
}

func (l ledger) AdjustReserved(ctx context.Context, variantID int64, delta int64) (*domain.StockItem, error) {
	return l.adjust(ctx, variantID, 0, delta)
}

func (l ledger) AdjustOnHand(ctx context.Context, variantID int64, delta int64) (*domain.StockItem, error) {
	return l.adjust(ctx, variantID, delta, 0)
}

func (l ledger) adjust(ctx context.Context, variantID, onHandDelta, reservedDelta int64) (*domain.StockItem, error) {
	item, err := l.Find(ctx, variantID)
	if err != nil {
		return nil, err
	}
	next := *item
	next.OnHand += onHandDelta
	next.Reserved += reservedDelta
	if !next.Valid() {
		return nil, domain.ErrInvariantViolation
	}
	next.Version++
	next.UpdatedAt = l.clock.Now()
	// memdb 中的对象不可原地修改，写入新副本
	if err := l.txn.Insert(tableStock, &next); err != nil {
		return nil, fmt.Errorf("update stock item: %w: %w", domain.ErrTransactionFailure, err)
	}
	out := next
	return &out, nil
}

type reservations struct{ *tx }

func (r reservations) Create(_ context.Context, res *domain.Reservation) error {
	cp := *res
	if err := r.txn.Insert(tableReservation, &cp); err != nil {
		return fmt.Errorf("create reservation: %w: %w", domain.ErrTransactionFailure, err)
	}
	return nil
}

func (r reservations) FindByOrder(_ context.Context, orderID string) ([]domain.Reservation, error) {
	it, err := r.txn.Get(tableReservation, "order_id", orderID)
	if err != nil {
		return nil, fmt.Errorf("find reservations: %w: %w", domain.ErrTransactionFailure, err)
	}
	return collect(it, func(domain.Reservation) bool { return true }), nil
}

func (r reservations) FindExpired(_ context.Context, now time.Time) ([]domain.Reservation, error) {
	it, err := r.txn.Get(tableReservation, "id")
	if err != nil {
		return nil, fmt.Errorf("scan reservations: %w: %w", domain.ErrTransactionFailure, err)
	}
	return collect(it, func(res domain.Reservation) bool { return res.IsExpired(now) }), nil
}

func (r reservations) Delete(_ context.Context, res domain.Reservation) (bool, error) {
	n, err := r.txn.DeleteAll(tableReservation, "id", res.ID)
	if err != nil {
		return false, fmt.Errorf("delete reservation: %w: %w", domain.ErrTransactionFailure, err)
	}
	return n > 0, nil
}

func collect(it memdb.ResultIterator, keep func(domain.Reservation) bool) []domain.Reservation {
	var out []domain.Reservation
	for raw := it.Next(); raw != nil; raw = it.Next() {
		res := *raw.(*domain.Reservation)
		if keep(res) {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ExpiresAt.Before(out[j].ExpiresAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
