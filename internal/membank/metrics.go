package membank

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSaves = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "membank",
		Subsystem: "engine",
		Name:      "saves_total",
		Help:      "Save operations processed.",
	})

	metricMemoriesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "membank",
		Subsystem: "engine",
		Name:      "memories_written_total",
		Help:      "Memories persisted after scoring and dedup.",
	})

	metricRetrievals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "membank",
		Subsystem: "engine",
		Name:      "retrievals_total",
		Help:      "Retrievals by result source.",
	}, []string{"source"})

	metricCorrections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "membank",
		Subsystem: "engine",
		Name:      "corrections_total",
		Help:      "Memories corrected by evidence signals.",
	})

	metricMaintenanceRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "membank",
		Subsystem: "engine",
		Name:      "maintenance_runs_total",
		Help:      "Maintenance sweeps by task and status.",
	}, []string{"task", "status"})

	metricMaintenanceSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "membank",
		Subsystem: "engine",
		Name:      "maintenance_seconds",
		Help:      "Maintenance sweep duration by task.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"task"})
)

// observeMaintenance records one maintenance run's outcome and duration.
func observeMaintenance(task string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metricMaintenanceRuns.WithLabelValues(task, status).Inc()
	metricMaintenanceSeconds.WithLabelValues(task).Observe(time.Since(start).Seconds())
}
