package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditRecord is one immutable row in the audit log: who changed what, when,
// with typed before/after snapshots. Written best-effort by the versioning
// engine; never read back by it.
type AuditRecord struct {
	ID         uuid.UUID      `json:"id"`
	Kind       Kind           `json:"kind"`
	Entry      int64          `json:"entry"`
	Action     Action         `json:"action"`
	OldValues  map[string]any `json:"old_values,omitempty"`
	NewValues  map[string]any `json:"new_values,omitempty"`
	ActorID    int64          `json:"actor_id"`
	SessionID  uuid.UUID      `json:"session_id"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// NewAuditRecord stamps a record for the given mutation. RecordedAt is set
// by the store on insert; the value here is a fallback for in-memory
// backends.
func NewAuditRecord(kind Kind, entry int64, action Action, old, new map[string]any, actor Actor) AuditRecord {
	return AuditRecord{
		ID:         uuid.New(),
		Kind:       kind,
		Entry:      entry,
		Action:     action,
		OldValues:  old,
		NewValues:  new,
		ActorID:    actor.UserID,
		SessionID:  actor.SessionID,
		RecordedAt: time.Now().UTC(),
	}
}
