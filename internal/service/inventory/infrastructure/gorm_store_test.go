package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"stockledger/internal/pkg/clock"
	"stockledger/internal/pkg/database"
	"stockledger/internal/service/inventory/domain"
)

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.Open(database.Options{
		Driver: database.DriverSQLite,
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(Models()...))
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func seedStock(t *testing.T, store *GormStore, variantID, onHand int64) {
	t.Helper()
	require.NoError(t, store.Atomic(context.Background(), func(tx domain.Tx) error {
		if _, err := tx.Ledger().GetOrCreate(context.Background(), variantID); err != nil {
			return err
		}
		_, err := tx.Ledger().AdjustOnHand(context.Background(), variantID, onHand)
		return err
	}))
}

func TestGormLedgerGetOrCreateIsIdempotent(t *testing.T) {
	store := NewGormStore(openTestDB(t), clock.NewFake(t0))
	ctx := context.Background()

	err := store.Atomic(ctx, func(tx domain.Tx) error {
		first, err := tx.Ledger().GetOrCreate(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, int64(0), first.OnHand)
		assert.Equal(t, int64(0), first.Version)

		second, err := tx.Ledger().GetOrCreate(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, first.VariantID, second.VariantID)
		return nil
	})
	require.NoError(t, err)
}

func TestGormLedgerAdjustEnforcesInvariant(t *testing.T) {
	store := NewGormStore(openTestDB(t), clock.NewFake(t0))
	ctx := context.Background()
	seedStock(t, store, 1, 10)

	err := store.Atomic(ctx, func(tx domain.Tx) error {
		item, err := tx.Ledger().AdjustReserved(ctx, 1, 8)
		require.NoError(t, err)
		assert.Equal(t, int64(2), item.Available())
		assert.Equal(t, int64(2), item.Version, "seed bumps once, reserve bumps again")

		_, err = tx.Ledger().AdjustReserved(ctx, 1, 3)
		assert.ErrorIs(t, err, domain.ErrInvariantViolation)

		_, err = tx.Ledger().AdjustOnHand(ctx, 1, -3)
		assert.ErrorIs(t, err, domain.ErrInvariantViolation, "on_hand may not drop below reserved")

		_, err = tx.Ledger().AdjustReserved(ctx, 1, -9)
		assert.ErrorIs(t, err, domain.ErrInvariantViolation)

		_, err = tx.Ledger().AdjustReserved(ctx, 404, 1)
		assert.ErrorIs(t, err, domain.ErrStockItemNotFound)
		return nil
	})
	require.NoError(t, err)

	var item *domain.StockItem
	require.NoError(t, store.View(ctx, func(tx domain.Tx) error {
		var err error
		item, err = tx.Ledger().Find(ctx, 1)
		return err
	}))
	assert.Equal(t, int64(10), item.OnHand)
	assert.Equal(t, int64(8), item.Reserved)
}

func TestGormStoreRollsBackOnCallbackError(t *testing.T) {
	store := NewGormStore(openTestDB(t), clock.NewFake(t0))
	ctx := context.Background()
	seedStock(t, store, 1, 5)
	boom := errors.New("boom")

	err := store.Atomic(ctx, func(tx domain.Tx) error {
		if _, err := tx.Ledger().AdjustReserved(ctx, 1, 5); err != nil {
			return err
		}
		require.NoError(t, tx.Reservations().Create(ctx, &domain.Reservation{
			ID: "r-1", OrderID: "o-1", VariantID: 1, SKU: "A", Quantity: 5, ExpiresAt: t0, CreatedAt: t0,
		}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, store.View(ctx, func(tx domain.Tx) error {
		item, err := tx.Ledger().Find(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(0), item.Reserved)
		rs, err := tx.Reservations().FindByOrder(ctx, "o-1")
		require.NoError(t, err)
		assert.Empty(t, rs)
		return nil
	}))
}

func TestGormReservations(t *testing.T) {
	store := NewGormStore(openTestDB(t), clock.NewFake(t0))
	ctx := context.Background()

	soon := domain.Reservation{ID: "r-1", OrderID: "o-1", VariantID: 2, SKU: "B", Quantity: 1, ExpiresAt: t0.Add(time.Minute), CreatedAt: t0}
	later := domain.Reservation{ID: "r-2", OrderID: "o-1", VariantID: 1, SKU: "A", Quantity: 2, ExpiresAt: t0.Add(time.Hour), CreatedAt: t0}

	require.NoError(t, store.Atomic(ctx, func(tx domain.Tx) error {
		require.NoError(t, tx.Reservations().Create(ctx, &soon))
		require.NoError(t, tx.Reservations().Create(ctx, &later))
		dup := soon
		dup.ID = "r-3"
		assert.ErrorIs(t, tx.Reservations().Create(ctx, &dup), domain.ErrOrderAlreadyReserved)
		return nil
	}))

	require.NoError(t, store.View(ctx, func(tx domain.Tx) error {
		byOrder, err := tx.Reservations().FindByOrder(ctx, "o-1")
		require.NoError(t, err)
		require.Len(t, byOrder, 2)
		assert.Equal(t, int64(1), byOrder[0].VariantID, "ordered by variant id")

		expired, err := tx.Reservations().FindExpired(ctx, t0.Add(2*time.Minute))
		require.NoError(t, err)
		require.Len(t, expired, 1)
		assert.Equal(t, "r-1", expired[0].ID)

		none, err := tx.Reservations().FindExpired(ctx, t0.Add(time.Minute))
		require.NoError(t, err)
		assert.Empty(t, none, "expiry is strict")
		return nil
	}))

	require.NoError(t, store.Atomic(ctx, func(tx domain.Tx) error {
		removed, err := tx.Reservations().Delete(ctx, soon)
		require.NoError(t, err)
		assert.True(t, removed)

		removed, err = tx.Reservations().Delete(ctx, soon)
		require.NoError(t, err)
		assert.False(t, removed)
		return nil
	}))
}

func TestGormVariantCatalog(t *testing.T) {
	db := openTestDB(t)
	catalog := NewGormVariantCatalog(db)
	ctx := context.Background()

	require.NoError(t, catalog.SaveVariant(ctx, domain.Variant{ID: 11, SKU: "TSHIRT-M"}))

	v, err := catalog.FindVariantBySKU(ctx, "TSHIRT-M")
	require.NoError(t, err)
	assert.Equal(t, int64(11), v.ID)

	_, err = catalog.FindVariantBySKU(ctx, "NOPE")
	assert.ErrorIs(t, err, domain.ErrVariantNotFound)
}

func TestTranslateKeepsDriverError(t *testing.T) {
	tests := []struct {
		name   string
		number uint16
		want   error
	}{
		{"lock wait timeout", 1205, domain.ErrLockTimeout},
		{"deadlock", 1213, domain.ErrLockTimeout},
		{"other failure", 1146, domain.ErrTransactionFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := translate(&mysql.MySQLError{Number: tt.number, Message: tt.name}, "lock stock item")

			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, domain.ErrTransactionFailure)
			var me *mysql.MySQLError
			require.ErrorAs(t, err, &me)
			assert.Equal(t, tt.number, me.Number)
			assert.Contains(t, err.Error(), "lock stock item")
		})
	}
}
