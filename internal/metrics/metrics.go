// Package metrics exposes Prometheus instrumentation for the versioning and
// query engines.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	MutationsTotal   *prometheus.CounterVec
	MutationDuration *prometheus.HistogramVec
	MutationErrors   *prometheus.CounterVec
	TemporalLookups  prometheus.Counter
	ScheduleQueries  prometheus.Counter
	AuditDropsTotal  prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MutationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orgledger_mutations_total",
				Help: "Total engine mutations by kind and action",
			},
			[]string{"kind", "action"},
		),
		MutationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orgledger_mutation_duration_seconds",
				Help:    "Duration of engine mutations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind", "action"},
		),
		MutationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orgledger_mutation_errors_total",
				Help: "Failed engine mutations by kind and action",
			},
			[]string{"kind", "action"},
		),
		TemporalLookups: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "orgledger_temporal_lookups_total",
				Help: "Point-in-time lookups answered",
			},
		),
		ScheduleQueries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "orgledger_schedule_queries_total",
				Help: "Composite schedule queries answered",
			},
		),
		AuditDropsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "orgledger_audit_drops_total",
				Help: "Audit records dropped after append failures",
			},
		),
	}
}

// ObserveMutation records one completed mutation.
func (m *Metrics) ObserveMutation(kind, action string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.MutationsTotal.WithLabelValues(kind, action).Inc()
	m.MutationDuration.WithLabelValues(kind, action).Observe(time.Since(start).Seconds())
	if err != nil {
		m.MutationErrors.WithLabelValues(kind, action).Inc()
	}
}
