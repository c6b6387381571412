package deploy

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records deployment outcomes. A nil *Metrics is a no-op.
type Metrics struct {
	outcomes     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	terminations *prometheus.CounterVec
	undeploys    prometheus.Counter
}

var durationBuckets = []float64{5, 15, 30, 60, 120, 180, 300, 450, 600}

// NewMetrics registers deployment collectors with reg, reusing collectors that are
// already registered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gkl",
			Subsystem: "deploy",
			Name:      "outcomes_total",
			Help:      "Deploy attempts by outcome",
		}, []string{"provider", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gkl",
			Subsystem: "deploy",
			Name:      "duration_seconds",
			Help:      "Time from trigger to a resolved deploy",
			Buckets:   durationBuckets,
		}, []string{"provider", "outcome"}),
		terminations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gkl",
			Subsystem: "deploy",
			Name:      "unexpected_terminations_total",
			Help:      "Live pipelines that stopped outside the panel",
		}, []string{"status"}),
		undeploys: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gkl",
			Subsystem: "deploy",
			Name:      "undeploys_total",
			Help:      "Completed deactivations",
		}),
	}
	m.outcomes = register(reg, m.outcomes)
	m.duration = register(reg, m.duration)
	m.terminations = register(reg, m.terminations)
	m.undeploys = register(reg, m.undeploys)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (m *Metrics) outcome(provider, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(provider, outcome).Inc()
	if elapsed > 0 {
		m.duration.WithLabelValues(provider, outcome).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) terminated(status string) {
	if m == nil {
		return
	}
	m.terminations.WithLabelValues(status).Inc()
}

func (m *Metrics) undeployed() {
	if m == nil {
		return
	}
	m.undeploys.Inc()
}
