// Package audit wraps an AuditStore with the best-effort write policy: an
// audit failure is logged and swallowed, never propagated, so audit logging
// can never block a business mutation.
package audit

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"orgledger/internal/domain"
	"orgledger/internal/store"
)

// Recorder appends audit records best-effort.
type Recorder struct {
	backend store.AuditStore
	log     zerolog.Logger
	drops   prometheus.Counter
}

// NewRecorder wires a recorder over the given backend.
func NewRecorder(backend store.AuditStore, log zerolog.Logger) *Recorder {
	return &Recorder{backend: backend, log: log}
}

// WithDropCounter counts swallowed append failures on c.
func (r *Recorder) WithDropCounter(c prometheus.Counter) *Recorder {
	r.drops = c
	return r
}

// Record appends one audit record. Failures are logged, never returned;
// audit completeness is best-effort, business-data durability is not.
func (r *Recorder) Record(ctx context.Context, kind domain.Kind, entry int64, action domain.Action, old, new map[string]any, actor domain.Actor) {
	if r == nil || r.backend == nil {
		return
	}
	rec := domain.NewAuditRecord(kind, entry, action, old, new, actor)
	if err := r.backend.Append(ctx, rec); err != nil {
		r.log.Error().
			Err(err).
			Str("kind", string(kind)).
			Int64("entry", entry).
			Str("action", string(action)).
			Int64("actor", actor.UserID).
			Msg("audit append failed")
		if r.drops != nil {
			r.drops.Inc()
		}
	}
}

// List exposes the ops/forensic read path of the underlying store.
func (r *Recorder) List(ctx context.Context, kind domain.Kind, entry int64, limit, offset int) ([]domain.AuditRecord, error) {
	return r.backend.List(ctx, kind, entry, limit, offset)
}
