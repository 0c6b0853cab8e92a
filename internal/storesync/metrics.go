package storesync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LogsTotal counts appended sync log entries.
var LogsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "dyelot",
		Subsystem: "sync",
		Name:      "logs_total",
		Help:      "Total number of sync log entries by direction and status",
	},
	[]string{"direction", "status"},
)
