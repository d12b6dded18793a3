package redis

import (
	"context"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	"stockledger/internal/pkg/logger"
)

// Options Redis 连接参数，Addrs 多于一个时自动使用集群模式
type Options struct {
	Addrs    []string
	Password string
	DB       int
}

// NewClient 创建 Redis 客户端并做一次连通性检查
func NewClient(ctx context.Context, opts Options) (goredis.UniversalClient, error) {
	client := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:        opts.Addrs,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "ping redis %v", opts.Addrs)
	}
	logger.Ctx(ctx).Info().Strs("addrs", opts.Addrs).Msg("✅ Connected to Redis.")
	return client, nil
}
