// cmd/reservation-reaper/main.go
package main

import (
	"time"

	"github.com/spf13/cobra"

	"stockledger/internal/pkg/bootstrap"
	"stockledger/internal/pkg/clock"
	"stockledger/internal/pkg/database"
	"stockledger/internal/pkg/logger"
	"stockledger/internal/pkg/zookeeper"
	inventoryapp "stockledger/internal/service/inventory/application"
	inventoryinfra "stockledger/internal/service/inventory/infrastructure"
	inventoryadapter "stockledger/internal/service/inventory/infrastructure/adapter"
)

const serviceName = "reservation-reaper"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "reservation-reaper",
		Short: "Release inventory reservations that were never paid",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config",
		bootstrap.Getenv("CONFIG_PATH", "configs/config.yaml"), "path to config file")

	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(runCmd())

	if err := rootCmd.Execute(); err != nil {
		bootstrap.Exit(err)
	}
}

// reaperDeps 是两个子命令共用的依赖
type reaperDeps struct {
	reaper *inventoryapp.ExpiryReaper
	close  func()
}

// openReaper 按配置连接数据库；withLock 为 true 且配置了 ZooKeeper 时加分布式锁
func openReaper(withLock bool, interval time.Duration) (*reaperDeps, error) {
	cfg, err := bootstrap.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	bootstrap.SetCurrentConfig(cfg)
	logger.Init(serviceName, cfg.App.LogLevel)

	db, err := database.Open(database.Options{
		Driver:          cfg.Storage.Driver,
		DSN:             cfg.Storage.DSN,
		LockWaitTimeout: time.Duration(cfg.Storage.LockWaitTimeoutSeconds) * time.Second,
		MaxOpenConns:    cfg.Storage.MaxOpenConns,
	})
	if err != nil {
		return nil, err
	}
	closers := []func(){func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}}

	inventory := inventoryapp.NewInventoryService(
		inventoryinfra.NewGormStore(db, clock.Real()),
		inventoryinfra.NewGormVariantCatalog(db),
	)

	var locker inventoryapp.Locker
	if withLock && len(cfg.Infra.Zookeeper.Servers) > 0 {
		conn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers, cfg.Infra.Zookeeper.SessionTimeout)
		if err != nil {
			closers[0]()
			return nil, err
		}
		locker = inventoryadapter.NewZkReaperLocker(conn, "")
		closers = append(closers, conn.Close)
	}
	if interval <= 0 {
		interval = cfg.App.ReaperInterval
	}

	return &reaperDeps{
		reaper: inventoryapp.NewExpiryReaper(inventory, clock.Real(), interval, locker),
		close: func() {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		},
	}, nil
}
