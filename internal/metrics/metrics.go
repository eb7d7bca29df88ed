// Package metrics exposes coordination metrics as a lifecycle observer
// backed by Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/atlasdeploy/cascade/internal/core/domain"
)

// Metrics implements domain.Observer, counting lifecycle events on a
// per-instance Prometheus registry.
type Metrics struct {
	domain.NopObserver

	coordinations *prometheus.CounterVec
	batches       prometheus.Counter
	batchDuration prometheus.Histogram
	units         *prometheus.CounterVec
	unitDuration  prometheus.Histogram
	rollbacks     *prometheus.CounterVec
	rollbackFails prometheus.Counter
	phases        *prometheus.CounterVec
}

// New creates the collectors and registers them.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		coordinations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cascade",
			Name:      "coordinations_total",
			Help:      "Coordination runs by outcome.",
		}, []string{"outcome"}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cascade",
			Name:      "batches_total",
			Help:      "Batches executed.",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cascade",
			Name:      "batch_duration_seconds",
			Help:      "Wall time per batch.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		}),
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cascade",
			Name:      "units_total",
			Help:      "Unit deployments by outcome.",
		}, []string{"outcome"}),
		unitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cascade",
			Name:      "unit_duration_seconds",
			Help:      "Wall time per unit deployment.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cascade",
			Name:      "rollbacks_total",
			Help:      "Finalized rollbacks by outcome.",
		}, []string{"outcome"}),
		rollbackFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cascade",
			Name:      "rollback_attempt_failures_total",
			Help:      "Failed rollback attempts, including retried ones.",
		}),
		phases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cascade",
			Name:      "phase_transitions_total",
			Help:      "Pipeline phase entries by phase.",
		}, []string{"phase"}),
	}

	reg.MustRegister(
		m.coordinations, m.batches, m.batchDuration,
		m.units, m.unitDuration,
		m.rollbacks, m.rollbackFails,
		m.phases,
	)
	return m
}

// =============================================================================
// domain.Observer
// =============================================================================

func (m *Metrics) CoordinationCompleted(r *domain.CoordinationResult) {
	outcome := "success"
	if r.Halted {
		outcome = "halted"
	} else if len(r.Failed) > 0 {
		outcome = "partial_failure"
	}
	m.coordinations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) BatchCompleted(_ string, r domain.BatchResult) {
	m.batches.Inc()
	m.batchDuration.Observe(r.Duration.Seconds())
}

func (m *Metrics) UnitPhaseStarted(_ string, phase domain.Phase) {
	m.phases.WithLabelValues(string(phase)).Inc()
}

func (m *Metrics) UnitCompleted(r domain.UnitResult) {
	m.units.WithLabelValues("success").Inc()
	m.unitDuration.Observe(r.Duration.Seconds())
}

func (m *Metrics) UnitFailed(r domain.UnitResult) {
	m.units.WithLabelValues("failure").Inc()
	m.unitDuration.Observe(r.Duration.Seconds())
}

func (m *Metrics) RollbackAttemptFailed(_ string, _ int, _ error) {
	m.rollbackFails.Inc()
}

func (m *Metrics) RollbackFinalized(r *domain.RollbackResult) {
	outcome := "failure"
	if r.Success {
		outcome = "success"
	}
	m.rollbacks.WithLabelValues(outcome).Inc()
}
