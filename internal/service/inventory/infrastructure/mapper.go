package infrastructure

import "stockledger/internal/service/inventory/domain"

func toDomainStockItem(m *StockItemModel) *domain.StockItem {
	return &domain.StockItem{
		VariantID: m.VariantID,
		OnHand:    m.OnHand,
		Reserved:  m.Reserved,
		Version:   m.Version,
		UpdatedAt: m.UpdatedAt,
	}
}

func toReservationModel(r *domain.Reservation) *ReservationModel {
	return &ReservationModel{
		ID:        r.ID,
		OrderID:   r.OrderID,
		VariantID: r.VariantID,
		SKU:       r.SKU,
		Quantity:  r.Quantity,
		ExpiresAt: r.ExpiresAt.UTC(),
		CreatedAt: r.CreatedAt.UTC(),
	}
}

func toDomainReservations(ms []ReservationModel) []domain.Reservation {
	out := make([]domain.Reservation, 0, len(ms))
	for _, m := range ms {
		out = append(out, domain.Reservation{
			ID:        m.ID,
			OrderID:   m.OrderID,
			VariantID: m.VariantID,
			SKU:       m.SKU,
			Quantity:  m.Quantity,
			ExpiresAt: m.ExpiresAt.UTC(),
			CreatedAt: m.CreatedAt.UTC(),
		})
	}
	return out
}
