package replication

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	opsReplicated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "divvy_sync_operations_replicated_total",
		Help: "Queued operations confirmed by the remote service and removed.",
	})

	opFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "divvy_sync_operation_failures_total",
		Help: "Delivery failures by classification.",
	}, []string{"type"})

	drainsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "divvy_sync_drains_total",
		Help: "Completed drain passes over the sync queue.",
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "divvy_sync_queue_depth",
		Help: "Operations still pending after the last drain pass.",
	})
)
