package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrdersReceived counts orders accepted into the ingress queue by side.
var OrdersReceived = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "nanoexch_orders_received_total",
		Help: "Total number of orders accepted into the ingress queue",
	},
	[]string{"side"},
)

// OrdersRejected counts risk-gate rejections by reason.
var OrdersRejected = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "nanoexch_orders_rejected_total",
		Help: "Total number of orders rejected before matching",
	},
	[]string{"reason"},
)

// OrdersProcessed counts orders the matcher consumed by side.
var OrdersProcessed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "nanoexch_orders_processed_total",
		Help: "Total number of orders processed by the matching engine",
	},
	[]string{"side"},
)

// TradesExecuted counts emitted trades.
var TradesExecuted = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "nanoexch_trades_executed_total",
		Help: "Total number of trades emitted by the matching engine",
	},
)

// MatchLatency records the matcher's per-order processing latency.
var MatchLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "nanoexch_match_latency_seconds",
		Help:    "Latency in seconds to match one order",
		Buckets: prometheus.ExponentialBuckets(1e-7, 4, 12),
	},
)

// QueueDepth tracks pipeline queue occupancy.
var QueueDepth = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "nanoexch_queue_depth",
		Help: "Current number of elements waiting in a pipeline queue",
	},
	[]string{"queue"},
)

// QueueDrops counts elements dropped on full queues or exhausted arenas.
var QueueDrops = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "nanoexch_queue_drops_total",
		Help: "Total elements dropped because a queue or arena was full",
	},
	[]string{"queue"},
)

// Market-data gateway metrics.
var (
	MessagesDecoded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nanoexch_md_messages_total",
			Help: "Market-data messages decoded by type",
		},
		[]string{"type"},
	)

	ParseErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nanoexch_md_parse_errors_total",
			Help: "Malformed market-data messages dropped",
		},
	)

	TicksDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nanoexch_md_ticks_dropped_total",
			Help: "Ticks dropped on full per-symbol queues",
		},
	)

	BookLevelsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nanoexch_book_levels_dropped_total",
			Help: "Aggregator level insertions dropped at the depth cap",
		},
	)
)

// PoolInUse tracks arena occupancy.
var PoolInUse = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "nanoexch_pool_in_use",
		Help: "Currently acquired slots per object arena",
	},
	[]string{"pool"},
)

// WorkerPanics counts recovered worker-loop panics.
var WorkerPanics = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "nanoexch_worker_panics_total",
		Help: "Panics recovered at the top of a worker loop",
	},
	[]string{"worker"},
)

func init() {
	prometheus.MustRegister(
		OrdersReceived, OrdersRejected, OrdersProcessed,
		TradesExecuted, MatchLatency,
		QueueDepth, QueueDrops,
		MessagesDecoded, ParseErrors, TicksDropped, BookLevelsDropped,
		PoolInUse, WorkerPanics,
	)
}
