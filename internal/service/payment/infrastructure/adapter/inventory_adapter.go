package adapter

import (
	"context"

	inventoryapp "stockledger/internal/service/inventory/application"
	"stockledger/internal/service/payment/domain/port"
)

// InventoryAdapter 实现 port.Inventory
type InventoryAdapter struct {
	svc *inventoryapp.InventoryService
}

func NewInventoryAdapter(svc *inventoryapp.InventoryService) *InventoryAdapter {
	return &InventoryAdapter{svc: svc}
}

func (a *InventoryAdapter) Commit(ctx context.Context, orderID string) (port.Settlement, error) {
	res, err := a.svc.Commit(ctx, orderID)
	if err != nil {
		return port.Settlement{}, err
	}
	return toSettlement(res), nil
}

func (a *InventoryAdapter) Release(ctx context.Context, orderID string) (port.Settlement, error) {
	res, err := a.svc.Release(ctx, orderID)
	if err != nil {
		return port.Settlement{}, err
	}
	return toSettlement(res), nil
}

func toSettlement(res *inventoryapp.SettlementResult) port.Settlement {
	return port.Settlement{Applied: res.Applied, Missing: res.Missing}
}
