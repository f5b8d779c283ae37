package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the prometheus collectors updated by schedulers.
type Metrics struct {
	LoopErrors              prometheus.Counter
	TriggerErrors           prometheus.Counter
	ConcurrentModifications prometheus.Counter
	JobExecutions           *prometheus.CounterVec
	RunningJobs             prometheus.Gauge
	JobDuration             prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		LoopErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_loop_errors_total",
			Help: "Errors that made the control loop wait for its recovery delay.",
		}),
		TriggerErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_trigger_errors_total",
			Help: "Trigger evaluations that failed and were resolved as Stop.",
		}),
		ConcurrentModifications: factory.NewCounter(prometheus.CounterOpts{
			Name: "scheduler_concurrent_modifications_total",
			Help: "Saves discarded because another writer changed the job first.",
		}),
		JobExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_job_executions_total",
			Help: "Completed job executions by result.",
		}, []string{"result"}),
		RunningJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scheduler_running_jobs",
			Help: "Jobs currently executing.",
		}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "scheduler_job_duration_seconds",
			Help:    "Duration of job executions.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
	}
}

func (m *Metrics) recordExecution(succeeded bool, seconds float64) {
	result := "failure"
	if succeeded {
		result = "success"
	}
	m.JobExecutions.WithLabelValues(result).Inc()
	m.JobDuration.Observe(seconds)
}
