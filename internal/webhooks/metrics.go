package webhooks

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DeliveriesTotal counts processed webhook deliveries by topic and outcome.
var DeliveriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "dyelot",
		Subsystem: "webhooks",
		Name:      "deliveries_total",
		Help:      "Total number of webhook deliveries by topic and outcome",
	},
	[]string{"topic", "outcome"},
)
