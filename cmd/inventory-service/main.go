// cmd/inventory-service/main.go
package main

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"gorm.io/gorm"

	"stockledger/internal/pkg/bootstrap"
	"stockledger/internal/pkg/clock"
	"stockledger/internal/pkg/database"
	"stockledger/internal/pkg/logger"
	"stockledger/internal/pkg/mq"
	"stockledger/internal/pkg/redis"
	"stockledger/internal/pkg/zookeeper"
	inventoryapp "stockledger/internal/service/inventory/application"
	inventoryport "stockledger/internal/service/inventory/domain/port"
	inventoryinfra "stockledger/internal/service/inventory/infrastructure"
	inventoryadapter "stockledger/internal/service/inventory/infrastructure/adapter"
	inventoryhttp "stockledger/internal/service/inventory/interfaces"
	orderapp "stockledger/internal/service/order/application"
	orderinfra "stockledger/internal/service/order/infrastructure"
	orderadapter "stockledger/internal/service/order/infrastructure/adapter"
	orderhttp "stockledger/internal/service/order/interfaces"
	paymentapp "stockledger/internal/service/payment/application"
	paymentinfra "stockledger/internal/service/payment/infrastructure"
	paymentadapter "stockledger/internal/service/payment/infrastructure/adapter"
	"stockledger/internal/service/payment/infrastructure/rule"
	paymenthttp "stockledger/internal/service/payment/interfaces"
)

const serviceName = "inventory-service"

func main() {
	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName:      serviceName,
		ConfigPath:       "configs/config.yaml",
		RegisterHandlers: registerHandlers,
	})
}

func registerHandlers(app *bootstrap.AppCtx) error {
	cfg := app.Config
	log := logger.Ctx(app.Ctx)

	// 1. 数据库
	db, err := database.Open(database.Options{
		Driver:          cfg.Storage.Driver,
		DSN:             cfg.Storage.DSN,
		LockWaitTimeout: time.Duration(cfg.Storage.LockWaitTimeoutSeconds) * time.Second,
		MaxOpenConns:    cfg.Storage.MaxOpenConns,
	})
	if err != nil {
		return err
	}
	if cfg.Storage.AutoMigrate || database.IsSQLite(db) {
		if err := migrate(db); err != nil {
			return err
		}
	}
	app.OnShutdown(func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	// 2. 库存变更通知：websocket 推送 + 可选的 Redis 快照缓存
	feed := inventoryadapter.NewStockFeed()
	app.Go(feed.Run)
	notifiers := inventoryport.Notifiers{feed}

	opts := []inventoryapp.Option{inventoryapp.WithReservationTTL(cfg.App.ReservationTTL)}
	if len(cfg.Infra.Redis.Addrs) > 0 {
		client, err := redis.NewClient(app.Ctx, redis.Options{
			Addrs:    cfg.Infra.Redis.Addrs,
			Password: cfg.Infra.Redis.Password,
			DB:       cfg.Infra.Redis.DB,
		})
		if err != nil {
			return err
		}
		cache := inventoryadapter.NewRedisStockCache(client, cfg.Infra.Redis.SnapshotTTL)
		notifiers = append(notifiers, cache)
		opts = append(opts, inventoryapp.WithSnapshotCache(cache))
		app.OnShutdown(func(context.Context) error { return client.Close() })
	}
	opts = append(opts, inventoryapp.WithNotifier(notifiers))

	inventory := inventoryapp.NewInventoryService(
		inventoryinfra.NewGormStore(db, clock.Real()),
		inventoryinfra.NewGormVariantCatalog(db),
		opts...,
	)

	// 3. 订单
	checkoutOpts := []orderapp.Option{}
	var reconciler *paymentadapter.KafkaReconciliationPublisher
	kafkaEnabled := len(cfg.Infra.Kafka.Brokers) > 0
	if kafkaEnabled {
		orderWriter := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.OrderTopic)
		reconWriter := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.ReconciliationTopic)
		checkoutOpts = append(checkoutOpts, orderapp.WithPublisher(orderinfra.NewOrderProducerAdapter(orderWriter)))
		reconciler = paymentadapter.NewKafkaReconciliationPublisher(reconWriter)
		app.OnShutdown(closeWriter(orderWriter))
		app.OnShutdown(closeWriter(reconWriter))
	}
	checkout := orderapp.NewCheckoutService(
		orderinfra.NewGormOrderRepository(db),
		orderadapter.NewInventoryAdapter(inventory),
		checkoutOpts...,
	)

	// 4. 支付回调
	classifier, err := rule.NewCELClassifier(cfg.Webhook.Rules.Succeeded, cfg.Webhook.Rules.Failed)
	if err != nil {
		return err
	}
	webhookOpts := []paymentapp.Option{}
	if reconciler != nil {
		webhookOpts = append(webhookOpts, paymentapp.WithReconciler(reconciler))
	}
	webhooks := paymentapp.NewWebhookService(
		paymentapp.NewIdempotencyGuard(paymentinfra.NewGormProcessedEventStore(db), nil),
		classifier,
		paymentadapter.NewOrderAdapter(checkout),
		paymentadapter.NewInventoryAdapter(inventory),
		webhookOpts...,
	)
	app.OnConfigChange(func(next *bootstrap.Config) {
		c, err := rule.NewCELClassifier(next.Webhook.Rules.Succeeded, next.Webhook.Rules.Failed)
		if err != nil {
			log.Error().Err(err).Msg("invalid payment outcome rules from remote config, keep current rules")
			return
		}
		webhooks.SetClassifier(c)
		log.Info().Msg("payment outcome rules reloaded")
	})
	if cfg.Webhook.Secret == "" {
		log.Warn().Msg("webhook secret is empty, HTTP payment callbacks will be rejected")
	}

	if kafkaEnabled {
		reader := mq.NewKafkaReader(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.PaymentTopic, cfg.Infra.Kafka.GroupID)
		consumer := paymenthttp.NewPaymentEventConsumer(reader, cfg.Infra.Kafka.PaymentTopic, webhooks)
		consumer.Start(app.Ctx)
		app.OnShutdown(func(ctx context.Context) error {
			consumer.Stop(ctx)
			return nil
		})
	}

	// 5. 过期预留清理，多实例时用 ZooKeeper 选出一个执行
	if cfg.App.RunReaper {
		var locker inventoryapp.Locker
		if len(cfg.Infra.Zookeeper.Servers) > 0 {
			conn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers, cfg.Infra.Zookeeper.SessionTimeout)
			if err != nil {
				return err
			}
			locker = inventoryadapter.NewZkReaperLocker(conn, "")
			app.OnShutdown(func(context.Context) error {
				conn.Close()
				return nil
			})
		}
		reaper := inventoryapp.NewExpiryReaper(inventory, clock.Real(), cfg.App.ReaperInterval, locker)
		app.Go(reaper.Run)
	}

	// 6. 路由
	inventoryhttp.NewInventoryHandler(inventory, feed).RegisterRoutes(app.Mux)
	orderhttp.NewOrderHandler(checkout).RegisterRoutes(app.Mux)
	paymenthttp.NewWebhookHandler(webhooks, cfg.Webhook.Secret, cfg.Webhook.Tolerance, nil).RegisterRoutes(app.Mux)

	log.Info().
		Str("storage", cfg.Storage.Driver).
		Bool("kafka", kafkaEnabled).
		Bool("redis", len(cfg.Infra.Redis.Addrs) > 0).
		Bool("reaper", cfg.App.RunReaper).
		Msg("inventory service wired")
	return nil
}

func migrate(db *gorm.DB) error {
	models := append(inventoryinfra.Models(), orderinfra.Models()...)
	models = append(models, paymentinfra.Models()...)
	return db.AutoMigrate(models...)
}

func closeWriter(w *kafka.Writer) func(context.Context) error {
	return func(context.Context) error { return w.Close() }
}
