package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certhook_events_received_total",
			Help: "Inbound webhook deliveries by outcome",
		},
		[]string{"event_type", "outcome"},
	)

	EventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certhook_events_rejected_total",
			Help: "Rejected webhook deliveries by reason",
		},
		[]string{"reason"},
	)

	DispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certhook_dispatches_total",
			Help: "Dispatch attempts by target and outcome",
		},
		[]string{"target", "outcome"},
	)

	CapacityDeferrals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certhook_capacity_deferrals_total",
			Help: "Events re-queued because a target had no headroom or capacity was unknown",
		},
		[]string{"target", "reason"},
	)

	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "certhook_tick_duration_seconds",
			Help:    "Dispatch engine tick duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	ClaimedBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "certhook_claimed_batch_size",
			Help:    "Number of events claimed per tick",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
	)

	InflightDispatches = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "certhook_inflight_dispatches",
			Help: "Dispatches currently in flight by target",
		},
		[]string{"target"},
	)
)
