// Package metrics exposes Prometheus instrumentation for the sync engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors. A single instance is
// created at startup and shared by injection.
type Metrics struct {
	JobsTotal        *prometheus.CounterVec
	RecordsProcessed prometheus.Counter
	RecordsSkipped   prometheus.Counter
	JobDuration      prometheus.Histogram
	RunningJobs      prometheus.Gauge
	SchedulerTicks   prometheus.Counter
}

// New registers collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		JobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "sync",
			Name:      "jobs_total",
			Help:      "Sync jobs by terminal outcome.",
		}, []string{"outcome", "trigger"}),
		RecordsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "sync",
			Name:      "records_processed_total",
			Help:      "Rows loaded into the analytics store.",
		}),
		RecordsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "sync",
			Name:      "records_skipped_total",
			Help:      "Source rows dropped because they failed to decode.",
		}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "relay",
			Subsystem: "sync",
			Name:      "job_duration_seconds",
			Help:      "Wall time of sync jobs from start to terminal state.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		RunningJobs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay",
			Subsystem: "sync",
			Name:      "running_jobs",
			Help:      "Jobs currently executing.",
		}),
		SchedulerTicks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "sync",
			Name:      "scheduler_ticks_total",
			Help:      "Scheduler polling iterations.",
		}),
	}
}
