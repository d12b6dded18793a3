package domain

import "context"

// OrderRepository 定义了订单聚合的持久化接口。
// 它位于领域层，但由基础设施层实现。
type OrderRepository interface {
	// Create 保存新订单及其明细
	Create(ctx context.Context, order *Order) error

	// Update 保存状态与支付信息，明细不可修改
	Update(ctx context.Context, order *Order) error

	// FindByID 根据 ID 查找一个订单聚合。
	FindByID(ctx context.Context, id string) (*Order, error)

	// FindByPaymentIntent 通过支付意图定位订单，供支付回调使用
	FindByPaymentIntent(ctx context.Context, intentID string) (*Order, error)

	// Delete 删除订单草稿，只用于预留失败后的回滚
	Delete(ctx context.Context, id string) error
}
