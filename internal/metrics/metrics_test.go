package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNew_RegistersAllCollectorsOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveMutation("activities", "create", time.Now(), errors.New("boom"))
	m.TemporalLookups.Inc()
	m.ScheduleQueries.Inc()
	m.AuditDropsTotal.Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	got := make(map[string]struct{}, len(families))
	for _, mf := range families {
		got[mf.GetName()] = struct{}{}
	}
	for _, name := range []string{
		"orgledger_mutations_total",
		"orgledger_mutation_duration_seconds",
		"orgledger_mutation_errors_total",
		"orgledger_temporal_lookups_total",
		"orgledger_schedule_queries_total",
		"orgledger_audit_drops_total",
	} {
		if _, ok := got[name]; !ok {
			t.Fatalf("collector %s not registered on the passed registry", name)
		}
	}
}

func TestNew_IndependentRegistries(t *testing.T) {
	// Each construction must register on its own registry only; a shared
	// default registry would panic on the duplicate registration here.
	_ = New(prometheus.NewRegistry())
	_ = New(prometheus.NewRegistry())
}

func TestObserveMutation_NilReceiver(t *testing.T) {
	var m *Metrics
	m.ObserveMutation("tasks", "update", time.Now(), nil)
}
