package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the instruments of the schedule processor.
type Metrics struct {
	SchedulesProcessed *prometheus.CounterVec
	SchedulesErrored   *prometheus.CounterVec
	SchedulesDeleted   prometheus.Counter
	RunDuration        prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SchedulesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "export_worker",
			Name:      "schedules_processed_total",
			Help:      "Download schedules processed successfully.",
		}, []string{"type"}),
		SchedulesErrored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "export_worker",
			Name:      "schedules_errored_total",
			Help:      "Download schedules that failed processing.",
		}, []string{"type"}),
		SchedulesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "export_worker",
			Name:      "schedules_deleted_total",
			Help:      "Expired download schedules cleaned up.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "export_worker",
			Name:      "schedule_run_duration_seconds",
			Help:      "Duration of one ProcessSchedule run.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
		}),
	}
	reg.MustRegister(m.SchedulesProcessed, m.SchedulesErrored, m.SchedulesDeleted, m.RunDuration)
	return m
}
