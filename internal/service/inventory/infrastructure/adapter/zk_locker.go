package adapter

import (
	"context"

	"stockledger/internal/pkg/logger"
	"stockledger/internal/pkg/zookeeper"
)

// ZkReaperLocker 用 ZooKeeper 分布式锁保证多个实例不会同时清理过期预留
type ZkReaperLocker struct {
	conn     zookeeper.Conn
	resource string
}

func NewZkReaperLocker(conn zookeeper.Conn, resource string) *ZkReaperLocker {
	if resource == "" {
		resource = "reservation-reaper"
	}
	return &ZkReaperLocker{conn: conn, resource: resource}
}

// Acquire 每次都新建锁实例，锁节点只在本次清理期间存在
func (l *ZkReaperLocker) Acquire(ctx context.Context) (func(), error) {
	lock, err := zookeeper.NewDistributedLock(l.conn, l.resource)
	if err != nil {
		return nil, err
	}
	if err := lock.Lock(ctx); err != nil {
		return nil, err
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("resource", l.resource).Msg("failed to release reaper lock")
		}
	}, nil
}
