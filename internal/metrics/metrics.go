package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus collectors, registered on the default registry and served by
// the HTTP server at /metrics.
var (
	UniverseSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nse_trader",
		Name:      "universe_size",
		Help:      "Number of stock snapshots in the current analysis universe.",
	})

	RefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "nse_trader",
		Name:      "refresh_duration_seconds",
		Help:      "Wall time of the full pre-market data refresh.",
		Buckets:   []float64{10, 30, 60, 120, 300, 600},
	})

	SignalsGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nse_trader",
		Name:      "signals_generated_total",
		Help:      "Trade proposals that survived scoring and threshold filtering.",
	})

	SignalsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nse_trader",
		Name:      "signals_dropped_total",
		Help:      "Trade proposals dropped before reaching the approval gateway.",
	}, []string{"reason"})

	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nse_trader",
		Name:      "orders_placed_total",
		Help:      "Orders submitted to the broker, by side and outcome.",
	}, []string{"side", "outcome"})

	PositionsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nse_trader",
		Name:      "positions_open",
		Help:      "Currently open (executed, not closed) positions.",
	})

	PositionExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nse_trader",
		Name:      "position_exits_total",
		Help:      "Positions closed by the monitor, by exit reason.",
	}, []string{"reason"})

	BrokerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nse_trader",
		Name:      "broker_requests_total",
		Help:      "Broker API calls, by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	ChatMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nse_trader",
		Name:      "chat_messages_total",
		Help:      "Chat-channel sends, by outcome.",
	}, []string{"outcome"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "nse_trader",
		Name:      "job_duration_seconds",
		Help:      "Scheduled job run time.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"job"})
)
