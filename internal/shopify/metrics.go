package shopify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts GraphQL requests by outcome.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dyelot",
			Subsystem: "shopify",
			Name:      "requests_total",
			Help:      "Total number of Admin API requests by outcome",
		},
		[]string{"outcome"},
	)

	// RetriesTotal counts retry sleeps by reason.
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dyelot",
			Subsystem: "shopify",
			Name:      "retries_total",
			Help:      "Total number of Admin API retries by reason",
		},
		[]string{"reason"},
	)

	// RequestDuration tracks single-attempt latency.
	RequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "dyelot",
			Subsystem: "shopify",
			Name:      "request_duration_seconds",
			Help:      "Duration of single Admin API attempts in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)
)
