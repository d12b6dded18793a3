package port

import (
	"context"

	"stockledger/internal/service/inventory/domain"
)

// StockChangeNotifier 在事务提交后接收变更后的库存快照
// 实现不能阻塞调用方，也不能影响已提交的结果
type StockChangeNotifier interface {
	StockChanged(ctx context.Context, items []domain.StockItem)
}

// StockSnapshotCache 库存快照的读缓存，只服务于查询接口
type StockSnapshotCache interface {
	GetOrLoad(ctx context.Context, variantID int64, load func(ctx context.Context) (*domain.StockItem, error)) (*domain.StockItem, error)
}

// Notifiers 把多个通知器组合成一个
type Notifiers []StockChangeNotifier

func (n Notifiers) StockChanged(ctx context.Context, items []domain.StockItem) {
	for _, each := range n {
		if each != nil {
			each.StockChanged(ctx, items)
		}
	}
}
