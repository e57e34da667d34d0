package memory

import (
	"context"
	"sync"

	"orgledger/internal/domain"
	"orgledger/internal/store"
)

// AuditLog is the in-memory AuditStore. Appends are immutable; the slice
// only ever grows.
type AuditLog struct {
	mu      sync.Mutex
	records []domain.AuditRecord
}

var _ store.AuditStore = (*AuditLog)(nil)

func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

func (a *AuditLog) Append(ctx context.Context, record domain.AuditRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, record)
	return nil
}

func (a *AuditLog) List(ctx context.Context, kind domain.Kind, entry int64, limit, offset int) ([]domain.AuditRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if limit <= 0 {
		limit = 200
	}
	matched := make([]domain.AuditRecord, 0, limit)
	for _, rec := range a.records {
		if rec.Kind == kind && rec.Entry == entry {
			matched = append(matched, rec)
		}
	}
	// Newest first, matching the postgres backend's ordering.
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	if offset >= len(matched) {
		return []domain.AuditRecord{}, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Len reports the number of stored records, for tests.
func (a *AuditLog) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}
