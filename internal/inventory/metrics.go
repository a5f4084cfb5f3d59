package inventory

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records deduction outcomes. A nil *Metrics is a no-op.
type Metrics struct {
	deductions *prometheus.CounterVec
	duration   prometheus.Histogram
	lots       prometheus.Histogram
	drift      prometheus.Gauge
}

// NewMetrics registers the inventory collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		deductions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tally_inventory_deductions_total",
			Help: "Order deductions by outcome and failing stage.",
		}, []string{"outcome", "stage"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tally_inventory_deduction_duration_seconds",
			Help:    "Wall time of order deductions including the transaction.",
			Buckets: prometheus.DefBuckets,
		}),
		lots: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tally_inventory_lots_consumed",
			Help:    "Journal consumption records written per committed deduction.",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		}),
		drift: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tally_inventory_drifted_materials",
			Help: "Materials whose stock ledger disagreed with open lots at the last reconcile.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.deductions, m.duration, m.lots, m.drift)
	}
	return m
}

func (m *Metrics) observeSuccess(elapsed time.Duration, records int) {
	if m == nil {
		return
	}
	m.deductions.WithLabelValues("committed", string(StageCommitted)).Inc()
	m.duration.Observe(elapsed.Seconds())
	m.lots.Observe(float64(records))
}

func (m *Metrics) observeFailure(elapsed time.Duration, stage Stage, outcome string) {
	if m == nil {
		return
	}
	m.deductions.WithLabelValues(outcome, string(stage)).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) setDrift(n int) {
	if m == nil {
		return
	}
	m.drift.Set(float64(n))
}
