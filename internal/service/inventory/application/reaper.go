package application

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"stockledger/internal/pkg/clock"
	"stockledger/internal/pkg/logger"
)

// ExpiredReleaser 是清理任务依赖的库存操作
type ExpiredReleaser interface {
	ReleaseExpired(ctx context.Context, now time.Time) (int, error)
}

// Locker 保证多实例部署时同一时刻只有一个清理任务在执行
type Locker interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// ExpiryReaper 定期释放过期预留，本身不持有状态
type ExpiryReaper struct {
	inventory ExpiredReleaser
	clock     clock.Clock
	interval  time.Duration
	locker    Locker
}

// NewExpiryReaper locker 可以为 nil（单实例部署）
func NewExpiryReaper(inventory ExpiredReleaser, c clock.Clock, interval time.Duration, locker Locker) *ExpiryReaper {
	if c == nil {
		c = clock.Real()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &ExpiryReaper{inventory: inventory, clock: c, interval: interval, locker: locker}
}

// Sweep 执行一次清理，返回释放的条数
func (r *ExpiryReaper) Sweep(ctx context.Context) (int, error) {
	if r.locker != nil {
		release, err := r.locker.Acquire(ctx)
		if err != nil {
			return 0, errors.Wrap(err, "acquire reaper lock")
		}
		defer release()
	}
	n, err := r.inventory.ReleaseExpired(ctx, r.clock.Now())
	if err != nil {
		return n, err
	}
	if n > 0 {
		logger.Ctx(ctx).Info().Int("released", n).Msg("expiry sweep released reservations")
	}
	return n, nil
}

// Run 按固定间隔清理，直到 ctx 结束
func (r *ExpiryReaper) Run(ctx context.Context) error {
	logger.Ctx(ctx).Info().Dur("interval", r.interval).Msg("✅ Expiry reaper started")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// 单次清理不能超过一个周期，避免锁等待把循环堵住
			sweepCtx, cancel := context.WithTimeout(ctx, r.interval)
			if _, err := r.Sweep(sweepCtx); err != nil && ctx.Err() == nil {
				logger.Ctx(ctx).Error().Err(err).Msg("expiry sweep failed")
			}
			cancel()
		case <-ctx.Done():
			logger.Ctx(ctx).Info().Msg("🛑 Expiry reaper stopped")
			return nil
		}
	}
}
