package adapter

import (
	"context"
	"errors"

	inventoryapp "stockledger/internal/service/inventory/application"
	inventorydomain "stockledger/internal/service/inventory/domain"
	"stockledger/internal/service/order/domain/port"
)

// InventoryAdapter 实现 port.Inventory，进程内调用库存应用服务
type InventoryAdapter struct {
	svc *inventoryapp.InventoryService
}

// NewInventoryAdapter 创建一个新的库存服务适配器。
func NewInventoryAdapter(svc *inventoryapp.InventoryService) *InventoryAdapter {
	return &InventoryAdapter{svc: svc}
}

func (a *InventoryAdapter) Reserve(ctx context.Context, orderID string, lines []port.Line) (*port.ReservationOutcome, error) {
	req := inventoryapp.ReserveRequest{OrderID: orderID, Lines: make([]inventoryapp.LineItem, 0, len(lines))}
	for _, l := range lines {
		req.Lines = append(req.Lines, inventoryapp.LineItem{SKU: l.SKU, Quantity: l.Quantity})
	}
	res, err := a.svc.Reserve(ctx, req)
	if err != nil {
		return nil, err
	}
	return &port.ReservationOutcome{Success: res.Success, Messages: res.Messages()}, nil
}

func (a *InventoryAdapter) Commit(ctx context.Context, orderID string) error {
	_, err := a.svc.Commit(ctx, orderID)
	return err
}

func (a *InventoryAdapter) Release(ctx context.Context, orderID string) error {
	_, err := a.svc.Release(ctx, orderID)
	return err
}

func (a *InventoryAdapter) Available(ctx context.Context, sku string) (int64, error) {
	view, err := a.svc.GetStockBySKU(ctx, sku)
	if errors.Is(err, inventorydomain.ErrVariantNotFound) {
		return 0, port.ErrUnknownSKU
	}
	if errors.Is(err, inventorydomain.ErrStockItemNotFound) {
		// 库存行惰性创建，还没有记录等同于没有库存
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return view.Available, nil
}
