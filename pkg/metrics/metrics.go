package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	FeedMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookfeed_messages_total",
			Help: "Inbound feed messages that parsed at the envelope level",
		},
		[]string{"platform"},
	)

	FeedDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookfeed_dropped_total",
			Help: "Inbound payloads or diff records dropped, by reason",
		},
		[]string{"platform", "reason"},
	)

	DiffsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookfeed_diffs_applied_total",
			Help: "Order book diffs applied to the store",
		},
		[]string{"platform"},
	)

	FeedReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookfeed_reconnects_total",
			Help: "Reconnect attempts scheduled after a failed or closed connection",
		},
		[]string{"platform"},
	)

	FeedConnected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bookfeed_connected",
			Help: "1 while the feed transport is open",
		},
		[]string{"platform"},
	)

	StageLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookfeed_stage_latency_seconds",
			Help:    "Latency of hot-path stages such as message handling",
			Buckets: []float64{5e-6, 1e-5, 5e-5, 1e-4, 5e-4, 1e-3, 5e-3, 1e-2, 5e-2},
		},
		[]string{"stage"},
	)
)

func init() {
	prometheus.MustRegister(FeedMessages, FeedDropped, DiffsApplied)
	prometheus.MustRegister(FeedReconnects, FeedConnected, StageLatency)
}
