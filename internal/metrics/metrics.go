// Package metrics holds the Prometheus collectors for sandbox executions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all sandbox collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	Executions     *prometheus.CounterVec
	Duration       *prometheus.HistogramVec
	SessionsActive prometheus.Gauge
}

// New creates the collectors and registers them with reg. Pass a fresh
// prometheus.NewRegistry() in tests to avoid duplicate registration.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pybox_executions_total",
				Help: "Total number of sandbox executions by outcome",
			},
			[]string{"capability", "outcome"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pybox_execution_duration_seconds",
				Help:    "Wall-clock duration of sandbox executions in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"capability"},
		),
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pybox_sessions_active",
				Help: "Number of guest sessions currently running",
			},
		),
	}

	for _, c := range []prometheus.Collector{m.Executions, m.Duration, m.SessionsActive} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveExecution records one finished execution.
func (m *Metrics) ObserveExecution(capability, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Executions.WithLabelValues(capability, outcome).Inc()
	m.Duration.WithLabelValues(capability).Observe(d.Seconds())
}

// SessionStarted marks a session as active.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

// SessionFinished marks an active session as done.
func (m *Metrics) SessionFinished() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}
