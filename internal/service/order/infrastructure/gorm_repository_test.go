package infrastructure

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"stockledger/internal/pkg/database"
	"stockledger/internal/service/order/domain"
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

func newOrder(t *testing.T, id string) *domain.Order {
	t.Helper()
	o, err := domain.NewOrder(id, "ORD-"+id, []domain.OrderItem{
		{SKU: "TSHIRT-M", Quantity: 2},
		{SKU: "MUG", Quantity: 1},
	}, t0)
	require.NoError(t, err)
	return o
}

func TestOrderRepositoryRoundTrip(t *testing.T) {
	repo := NewGormOrderRepository(openTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newOrder(t, "o-1")))

	got, err := repo.FindByID(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, "ORD-o-1", got.Number)
	assert.Equal(t, domain.StatusNew, got.Status)
	// 明细按下单顺序返回
	assert.Equal(t, []domain.OrderItem{{SKU: "TSHIRT-M", Quantity: 2}, {SKU: "MUG", Quantity: 1}}, got.Items)
	assert.Empty(t, got.PaymentIntentID)
}

func TestOrderRepositoryUpdateAndFindByIntent(t *testing.T) {
	repo := NewGormOrderRepository(openTestDB(t))
	ctx := context.Background()
	o := newOrder(t, "o-2")
	require.NoError(t, repo.Create(ctx, o))
	require.NoError(t, repo.Create(ctx, newOrder(t, "o-3")))

	require.NoError(t, o.AttachPaymentIntent("pi_2", t0.Add(time.Minute)))
	o.Status = domain.StatusPaymentPending
	require.NoError(t, repo.Update(ctx, o))

	got, err := repo.FindByPaymentIntent(ctx, "pi_2")
	require.NoError(t, err)
	assert.Equal(t, "o-2", got.ID)
	assert.Equal(t, domain.StatusPaymentPending, got.Status)
	assert.Equal(t, domain.PaymentPending, got.PaymentStatus)
	assert.Len(t, got.Items, 2)

	_, err = repo.FindByPaymentIntent(ctx, "pi_unknown")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	_, err = repo.FindByPaymentIntent(ctx, "")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestOrderRepositoryUpdateMissing(t *testing.T) {
	repo := NewGormOrderRepository(openTestDB(t))
	err := repo.Update(context.Background(), newOrder(t, "ghost"))
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestOrderRepositoryDelete(t *testing.T) {
	db := openTestDB(t)
	repo := NewGormOrderRepository(db)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newOrder(t, "o-4")))

	require.NoError(t, repo.Delete(ctx, "o-4"))

	_, err := repo.FindByID(ctx, "o-4")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	var items int64
	require.NoError(t, db.Model(&OrderItemModel{}).Where("order_id = ?", "o-4").Count(&items).Error)
	assert.Zero(t, items)
}

func TestOrderRepositoryRejectsDuplicateNumber(t *testing.T) {
	repo := NewGormOrderRepository(openTestDB(t))
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, newOrder(t, "o-5")))

	dup := newOrder(t, "o-6")
	dup.Number = "ORD-o-5"
	err := repo.Create(ctx, dup)
	require.Error(t, err)
	assert.True(t, database.IsDuplicate(err))
}
