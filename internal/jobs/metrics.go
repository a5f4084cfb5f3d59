// Package jobmetrics instruments asynq task handlers.
package jobmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	statusSuccess = "success"
	statusFailure = "failure"
)

// Metrics holds the job collectors. A nil *Metrics records nothing.
type Metrics struct {
	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight *prometheus.GaugeVec
	drift    *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them on reg when reg is not
// nil. Registering twice on the same registry panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_jobs_total",
			Help: "Job executions by task type and status.",
		}, []string{"job", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_jobs_failures_total",
			Help: "Failed job executions by task type.",
		}, []string{"job"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tally_job_duration_seconds",
			Help:    "Job execution time by task type.",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60},
		}, []string{"job"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tally_jobs_in_flight",
			Help: "Jobs currently executing by task type.",
		}, []string{"job"}),
		drift: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_inventory_drift_detected_total",
			Help: "Materials whose stock ledger disagreed with the lot journal, by reconcile trigger.",
		}, []string{"trigger"}),
	}
	if reg != nil {
		reg.MustRegister(m.runs, m.failures, m.duration, m.inFlight, m.drift)
	}
	return m
}

// Tracker times one job execution.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts timing job.
func (m *Metrics) Track(job string) *Tracker {
	if m != nil {
		m.inFlight.WithLabelValues(job).Inc()
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records the run's status and duration and hands err back so handlers
// can `return tracker.End(err)`.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil {
		return err
	}
	m := t.metrics
	m.inFlight.WithLabelValues(t.job).Dec()
	status := statusSuccess
	if err != nil {
		status = statusFailure
		m.failures.WithLabelValues(t.job).Inc()
	}
	m.runs.WithLabelValues(t.job, status).Inc()
	m.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddDrift counts materials a reconcile run found out of balance. trigger is
// "schedule" or "deduction".
func (m *Metrics) AddDrift(trigger string, count int) {
	if m == nil || count <= 0 {
		return
	}
	if trigger == "" {
		trigger = "unknown"
	}
	m.drift.WithLabelValues(trigger).Add(float64(count))
}
