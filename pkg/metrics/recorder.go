// Package metrics provides Prometheus-based metrics recording and querying
// for scheduling cycles.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder records scheduling-cycle metrics to the default Prometheus
// registry.
type Recorder struct {
	gateDecisionsTotal   *prometheus.CounterVec
	tasksDispatchedTotal *prometheus.CounterVec
	escalationsOpen      prometheus.Gauge
	cycleDuration        prometheus.Histogram
}

// NewRecorder creates a Prometheus-backed recorder. Register at most once
// per process: promauto panics on duplicate registration.
func NewRecorder() *Recorder {
	return &Recorder{
		gateDecisionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copydesk_gate_decisions_total",
				Help: "Total quality gate decisions by outcome and worker role",
			},
			[]string{"decision", "agent_role"},
		),
		tasksDispatchedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copydesk_tasks_dispatched_total",
				Help: "Total tasks dispatched to workers by role",
			},
			[]string{"agent_role"},
		),
		escalationsOpen: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "copydesk_escalations_open",
				Help: "Number of unresolved escalations",
			},
		),
		cycleDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "copydesk_cycle_duration_seconds",
				Help:    "Duration of scheduling cycles in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

// ObserveGateDecision counts one gate decision.
func (r *Recorder) ObserveGateDecision(decision, agentRole string) {
	r.gateDecisionsTotal.WithLabelValues(decision, agentRole).Inc()
}

// ObserveDispatch counts one task handed to a worker role.
func (r *Recorder) ObserveDispatch(agentRole string) {
	r.tasksDispatchedTotal.WithLabelValues(agentRole).Inc()
}

// SetOpenEscalations updates the open-escalation gauge.
func (r *Recorder) SetOpenEscalations(count int) {
	r.escalationsOpen.Set(float64(count))
}

// ObserveCycle records a completed scheduling cycle's duration.
func (r *Recorder) ObserveCycle(duration time.Duration) {
	r.cycleDuration.Observe(duration.Seconds())
}
