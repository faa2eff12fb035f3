package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the exchange counters exported on /metrics.
type Metrics struct {
	OrdersCreated   *prometheus.CounterVec
	OrdersCancelled prometheus.Counter
	TradesExecuted  prometheus.Counter
	TradeVolumeUSD  prometheus.Counter

	ThreatsDetected   *prometheus.CounterVec
	RequestsBlocked   prometheus.Counter
	RequestsThrottled prometheus.Counter
	AlertsDispatched  prometheus.Counter
	AlertsSuppressed  prometheus.Counter
}

// New registers the exchange metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OrdersCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_orders_created_total",
			Help: "Orders accepted, by side.",
		}, []string{"side"}),
		OrdersCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "exchange_orders_cancelled_total",
			Help: "Orders cancelled by their owner.",
		}),
		TradesExecuted: factory.NewCounter(prometheus.CounterOpts{
			Name: "exchange_trades_executed_total",
			Help: "Trades produced by the matching engine.",
		}),
		TradeVolumeUSD: factory.NewCounter(prometheus.CounterOpts{
			Name: "exchange_trade_volume_usd_total",
			Help: "Cumulative executed quote volume in USD.",
		}),
		ThreatsDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_security_threats_total",
			Help: "Threats reported by the manipulation detector, by type and severity.",
		}, []string{"type", "severity"}),
		RequestsBlocked: factory.NewCounter(prometheus.CounterOpts{
			Name: "exchange_security_blocked_total",
			Help: "Requests rejected for critical threats.",
		}),
		RequestsThrottled: factory.NewCounter(prometheus.CounterOpts{
			Name: "exchange_security_throttled_total",
			Help: "Requests delayed by the enforcement policy.",
		}),
		AlertsDispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "exchange_security_alerts_dispatched_total",
			Help: "Security alerts broadcast to admin channels.",
		}),
		AlertsSuppressed: factory.NewCounter(prometheus.CounterOpts{
			Name: "exchange_security_alerts_suppressed_total",
			Help: "Security alerts suppressed by the cooldown window.",
		}),
	}
}

// NewNop returns metrics bound to a throwaway registry, for tests.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
