package adapter

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"stockledger/internal/pkg/logger"
	"stockledger/internal/pkg/metrics"
	"stockledger/internal/service/inventory/domain"
)

// setIfNewer 只有当新快照的 version 更大时才覆盖，防止慢的回源结果覆盖更新的推送
var setIfNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'payload', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

type snapshot struct {
	VariantID int64     `json:"variantId"`
	OnHand    int64     `json:"onHand"`
	Reserved  int64     `json:"reserved"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RedisStockCache 是库存快照的读缓存
// 实现 port.StockSnapshotCache（读）与 port.StockChangeNotifier（事务提交后写入新快照）
type RedisStockCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
	group  singleflight.Group
}

func NewRedisStockCache(client redis.UniversalClient, ttl time.Duration) *RedisStockCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisStockCache{client: client, ttl: ttl, prefix: "stock:snapshot:"}
}

func (c *RedisStockCache) key(variantID int64) string {
	return c.prefix + strconv.FormatInt(variantID, 10)
}

// GetOrLoad 命中直接返回；未命中时同一 key 的并发请求只回源一次
// Redis 故障时降级为直接回源
func (c *RedisStockCache) GetOrLoad(ctx context.Context, variantID int64, load func(ctx context.Context) (*domain.StockItem, error)) (*domain.StockItem, error) {
	key := c.key(variantID)
	payload, err := c.client.HGet(ctx, key, "payload").Result()
	switch {
	case err == nil:
		var s snapshot
		if jsonErr := json.Unmarshal([]byte(payload), &s); jsonErr == nil {
			metrics.StockCacheLookups.WithLabelValues("hit").Inc()
			return fromSnapshot(s), nil
		}
		metrics.StockCacheLookups.WithLabelValues("error").Inc()
	case errors.Is(err, redis.Nil):
		metrics.StockCacheLookups.WithLabelValues("miss").Inc()
	default:
		metrics.StockCacheLookups.WithLabelValues("error").Inc()
		logger.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("stock cache unavailable, loading from store")
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		item, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.store(ctx, *item)
		return item, nil
	})
	if err != nil {
		return nil, err
	}
	item := *v.(*domain.StockItem)
	return &item, nil
}

// StockChanged 把事务提交后的最新快照写入缓存
func (c *RedisStockCache) StockChanged(ctx context.Context, items []domain.StockItem) {
	for _, item := range items {
		c.store(ctx, item)
	}
}

func (c *RedisStockCache) store(ctx context.Context, item domain.StockItem) {
	data, err := json.Marshal(toSnapshot(item))
	if err != nil {
		return
	}
	key := c.key(item.VariantID)
	if err := setIfNewer.Run(ctx, c.client, []string{key}, item.Version, string(data), c.ttl.Milliseconds()).Err(); err != nil && !errors.Is(err, redis.Nil) {
		logger.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("failed to write stock snapshot")
	}
}

func toSnapshot(item domain.StockItem) snapshot {
	return snapshot{
		VariantID: item.VariantID,
		OnHand:    item.OnHand,
		Reserved:  item.Reserved,
		Version:   item.Version,
		UpdatedAt: item.UpdatedAt,
	}
}

func fromSnapshot(s snapshot) *domain.StockItem {
	return &domain.StockItem{
		VariantID: s.VariantID,
		OnHand:    s.OnHand,
		Reserved:  s.Reserved,
		Version:   s.Version,
		UpdatedAt: s.UpdatedAt,
	}
}
