// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "btcbot"

// Feed

// FeedTicks counts accepted reference price ticks.
var FeedTicks = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "ticks_total",
		Help:      "Accepted price ticks by instrument",
	},
	[]string{"instrument"},
)

// FeedTicksDropped counts ticks discarded before reaching the engine.
var FeedTicksDropped = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "ticks_dropped_total",
		Help:      "Dropped price ticks by reason",
	},
	[]string{"reason"}, // out_of_order, malformed, queue_full
)

// FeedReconnects counts reconnect attempts per feed.
var FeedReconnects = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "reconnects_total",
		Help:      "Reconnect attempts by feed",
	},
	[]string{"feed"},
)

// FeedConnected is 1 while a feed's connection is up.
var FeedConnected = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "feed",
		Name:      "connected",
		Help:      "Feed connection status (1=connected, 0=not connected)",
	},
	[]string{"feed"},
)

// Strategy and execution

// Intents counts order intents emitted by the strategy.
var Intents = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "strategy",
		Name:      "intents_total",
		Help:      "Order intents by side",
	},
	[]string{"side"},
)

// Orders counts submission outcomes.
var Orders = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "execution",
		Name:      "orders_total",
		Help:      "Order submissions by result",
	},
	[]string{"result"}, // placed, risk_rejected, venue_rejected, state_rejected, transport_error
)

// Fills counts applied fills.
var Fills = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "execution",
		Name:      "fills_total",
		Help:      "Applied fills",
	},
)

// Cancels counts orders cancelled locally.
var Cancels = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "execution",
		Name:      "cancels_total",
		Help:      "Orders marked cancelled",
	},
)

// TickToSubmit is the latency from tick receipt to venue acknowledgement.
var TickToSubmit = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "execution",
		Name:      "tick_to_submit_seconds",
		Help:      "Latency from price tick receipt to order acknowledgement",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
	},
)

// Risk

// BreakerTripped is 1 while the daily loss breaker is tripped.
var BreakerTripped = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "risk",
		Name:      "breaker_tripped",
		Help:      "Daily loss breaker state (1=tripped)",
	},
)

// RealizedPnLToday tracks realized P&L for the current UTC day in USD.
var RealizedPnLToday = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "risk",
		Name:      "realized_pnl_today_usd",
		Help:      "Realized P&L for the current UTC day",
	},
)

// Engine

// EngineQueueDepth is the number of events waiting in the engine queue.
var EngineQueueDepth = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "queue_depth",
		Help:      "Events waiting to be processed",
	},
)

// Rollovers counts market window rollovers.
var Rollovers = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "rollovers_total",
		Help:      "Market window rollovers",
	},
)

// Side effects

// NoticesDropped counts engine notices the publisher could not queue.
var NoticesDropped = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "publisher",
		Name:      "notices_dropped_total",
		Help:      "Engine notices dropped because the publisher queue was full",
	},
)

// SinkErrors counts failed side-effect writes by sink.
var SinkErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "publisher",
		Name:      "sink_errors_total",
		Help:      "Failed side-effect writes by sink",
	},
	[]string{"sink"}, // bus, price_cache, orders, audit, archive, journal, notify
)
