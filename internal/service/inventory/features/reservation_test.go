package features

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/cucumber/godog"

	"stockledger/internal/pkg/clock"
	"stockledger/internal/service/inventory/application"
	"stockledger/internal/service/inventory/domain"
	"stockledger/internal/service/inventory/infrastructure/memstore"
)

type reservationTestContext struct {
	clock    *clock.Fake
	store    *memstore.Store
	svc      *application.InventoryService
	reaper   *application.ExpiryReaper
	result   *application.ReserveResult
	err      error
	released int
}

func (c *reservationTestContext) reset() error {
	c.clock = clock.NewFake(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	store, err := memstore.New(c.clock)
	if err != nil {
		return err
	}
	c.store = store
	c.svc = application.NewInventoryService(store, store, application.WithClock(c.clock))
	c.reaper = application.NewExpiryReaper(c.svc, c.clock, time.Minute, nil)
	c.result, c.err, c.released = nil, nil, 0
	return nil
}

func (c *reservationTestContext) theCatalogHasVariantWithSKU(id int64, sku string) error {
	return c.store.PutVariant(id, sku)
}

func (c *reservationTestContext) variantHasOnHand(id, onHand int64) error {
	return c.store.PutStock(domain.StockItem{VariantID: id, OnHand: onHand})
}

func (c *reservationTestContext) orderReserves(orderID string, qty int64, sku string) error {
	return c.reserve(orderID, application.LineItem{SKU: sku, Quantity: qty})
}

func (c *reservationTestContext) orderReservesTwo(orderID string, qty1 int64, sku1 string, qty2 int64, sku2 string) error {
	return c.reserve(orderID,
		application.LineItem{SKU: sku1, Quantity: qty1},
		application.LineItem{SKU: sku2, Quantity: qty2},
	)
}

func (c *reservationTestContext) reserve(orderID string, lines ...application.LineItem) error {
	c.result, c.err = c.svc.Reserve(context.Background(), application.ReserveRequest{OrderID: orderID, Lines: lines})
	return c.err
}

func (c *reservationTestContext) theReservationSucceeds() error {
	if c.result == nil || !c.result.Success {
		return fmt.Errorf("expected success, got %+v", c.result)
	}
	return nil
}

func (c *reservationTestContext) theReservationFailsWith(msg string) error {
	if c.result == nil || c.result.Success {
		return fmt.Errorf("expected rejection, got %+v", c.result)
	}
	got := strings.Join(c.result.Messages(), "; ")
	if !strings.Contains(got, msg) {
		return fmt.Errorf("expected error %q, got %q", msg, got)
	}
	return nil
}

func (c *reservationTestContext) variantHasOnHandAndReserved(id, onHand, reserved int64) error {
	item, err := c.svc.GetStockItem(context.Background(), id)
	if err != nil {
		return err
	}
	if item.OnHand != onHand || item.Reserved != reserved {
		return fmt.Errorf("variant %d: expected on_hand=%d reserved=%d, got on_hand=%d reserved=%d",
			id, onHand, reserved, item.OnHand, item.Reserved)
	}
	return nil
}

func (c *reservationTestContext) orderHoldsReservations(orderID string, n int) error {
	var got []domain.Reservation
	err := c.store.View(context.Background(), func(tx domain.Tx) error {
		var err error
		got, err = tx.Reservations().FindByOrder(context.Background(), orderID)
		return err
	})
	if err != nil {
		return err
	}
	if len(got) != n {
		return fmt.Errorf("order %s: expected %d reservations, got %d", orderID, n, len(got))
	}
	return nil
}

func (c *reservationTestContext) orderIsCommitted(orderID string) error {
	_, err := c.svc.Commit(context.Background(), orderID)
	return err
}

func (c *reservationTestContext) orderIsReleased(orderID string) error {
	_, err := c.svc.Release(context.Background(), orderID)
	return err
}

func (c *reservationTestContext) minutesPass(n int) error {
	c.clock.Advance(time.Duration(n) * time.Minute)
	return nil
}

func (c *reservationTestContext) theExpirySweepRuns() error {
	var err error
	c.released, err = c.reaper.Sweep(context.Background())
	return err
}

func (c *reservationTestContext) reservationsAreReleased(n int) error {
	if c.released != n {
		return fmt.Errorf("expected %d released, got %d", n, c.released)
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := &reservationTestContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		return ctx, tc.reset()
	})

	// Given steps
	ctx.Step(`^the catalog has variant (\d+) with SKU "([^"]*)"$`, tc.theCatalogHasVariantWithSKU)
	ctx.Step(`^variant (\d+) has (\d+) on hand$`, tc.variantHasOnHand)

	// When steps
	ctx.Step(`^order "([^"]*)" reserves (\d+) of "([^"]*)"$`, tc.orderReserves)
	ctx.Step(`^order "([^"]*)" reserves (\d+) of "([^"]*)" and (\d+) of "([^"]*)"$`, tc.orderReservesTwo)
	ctx.Step(`^order "([^"]*)" is committed$`, tc.orderIsCommitted)
	ctx.Step(`^order "([^"]*)" is released$`, tc.orderIsReleased)
	ctx.Step(`^(\d+) minutes pass$`, tc.minutesPass)
	ctx.Step(`^the expiry sweep runs$`, tc.theExpirySweepRuns)

	// Then steps
	ctx.Step(`^the reservation succeeds$`, tc.theReservationSucceeds)
	ctx.Step(`^the reservation fails with "([^"]*)"$`, tc.theReservationFailsWith)
	ctx.Step(`^variant (\d+) has (\d+) on hand and (\d+) reserved$`, tc.variantHasOnHandAndReserved)
	ctx.Step(`^order "([^"]*)" holds (\d+) reservations?$`, tc.orderHoldsReservations)
	ctx.Step(`^(\d+) reservations? (?:is|are) released$`, tc.reservationsAreReleased)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"reservation.feature"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
