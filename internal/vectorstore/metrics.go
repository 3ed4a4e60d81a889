package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	indexOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "membank",
		Subsystem: "index",
		Name:      "operations_total",
		Help:      "Vector index operations by backend, operation and status.",
	}, []string{"backend", "op", "status"})

	indexLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "membank",
		Subsystem: "index",
		Name:      "operation_seconds",
		Help:      "Vector index operation latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"backend", "op"})
)

// observe records one index operation outcome.
func observe(backend, op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	indexOps.WithLabelValues(backend, op, status).Inc()
	indexLatency.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}
