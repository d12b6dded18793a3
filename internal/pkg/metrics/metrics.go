package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 所有指标都注册在默认 Registry 上，由 /metrics 统一暴露
var (
	ReservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_reservations_total",
		Help: "Reserve calls by result (success, rejected, error).",
	}, []string{"result"})

	CommitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_commits_total",
		Help: "Commit calls by result.",
	}, []string{"result"})

	ReleasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_releases_total",
		Help: "Reservation releases by reason (payment_failed, expired) and result.",
	}, []string{"reason", "result"})

	ExpiredReleasedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_expired_released_total",
		Help: "Reservations released by the expiry sweep.",
	})

	// MissingStockItemTotal 用于告警：Commit/Release 时找不到库存行
	MissingStockItemTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_missing_stock_item_total",
		Help: "Reservations skipped because their stock item row was missing.",
	}, []string{"op"})

	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "inventory_operation_duration_seconds",
		Help:    "Latency of inventory operations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_events_total",
		Help: "Payment events by outcome and handling result.",
	}, []string{"outcome", "result"})

	StockCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_stock_cache_lookups_total",
		Help: "Stock snapshot cache lookups by result (hit, miss, error).",
	}, []string{"result"})

	StockFeedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "inventory_stock_feed_clients",
		Help: "Connected stock feed websocket clients.",
	})
)
