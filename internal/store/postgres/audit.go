package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"orgledger/internal/domain"
	"orgledger/internal/store"
)

// AuditLog is the pgx-backed AuditStore. It writes through its own pool,
// never through the business transaction, so an audit failure can neither
// abort nor be aborted by the mutation that triggered it.
type AuditLog struct {
	pool *pgxpool.Pool
}

var _ store.AuditStore = (*AuditLog)(nil)

func NewAuditLog(pool *pgxpool.Pool) *AuditLog {
	return &AuditLog{pool: pool}
}

func (a *AuditLog) Append(ctx context.Context, record domain.AuditRecord) error {
	if a.pool == nil {
		return fmt.Errorf("audit log not initialized")
	}

	oldJSON, err := marshalSnapshot(record.OldValues)
	if err != nil {
		return fmt.Errorf("failed to encode old values: %w", err)
	}
	newJSON, err := marshalSnapshot(record.NewValues)
	if err != nil {
		return fmt.Errorf("failed to encode new values: %w", err)
	}

	_, err = a.pool.Exec(ctx,
		`INSERT INTO audit_log (id, kind, entry, action, old_values, new_values, actor_id, session_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		record.ID, string(record.Kind), record.Entry, string(record.Action),
		oldJSON, newJSON, record.ActorID, record.SessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

func (a *AuditLog) List(ctx context.Context, kind domain.Kind, entry int64, limit, offset int) ([]domain.AuditRecord, error) {
	if a.pool == nil {
		return nil, fmt.Errorf("audit log not initialized")
	}
	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := a.pool.Query(ctx,
		`SELECT id, kind, entry, action, old_values, new_values, actor_id, session_id, recorded_at
		 FROM audit_log
		 WHERE kind = $1 AND entry = $2
		 ORDER BY recorded_at DESC
		 LIMIT $3 OFFSET $4`,
		string(kind), entry, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer rows.Close()

	records := []domain.AuditRecord{}
	for rows.Next() {
		var (
			rec        domain.AuditRecord
			kindCol    string
			actionCol  string
			oldJSON    []byte
			newJSON    []byte
			sessionID  uuid.UUID
			recordedAt pgtype.Timestamptz
		)
		if err := rows.Scan(&rec.ID, &kindCol, &rec.Entry, &actionCol, &oldJSON, &newJSON, &rec.ActorID, &sessionID, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		rec.Kind = domain.Kind(kindCol)
		rec.Action = domain.Action(actionCol)
		rec.SessionID = sessionID
		if recordedAt.Valid {
			rec.RecordedAt = recordedAt.Time
		}
		if rec.OldValues, err = unmarshalSnapshot(oldJSON); err != nil {
			return nil, fmt.Errorf("failed to decode old values: %w", err)
		}
		if rec.NewValues, err = unmarshalSnapshot(newJSON); err != nil {
			return nil, fmt.Errorf("failed to decode new values: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit records: %w", err)
	}
	return records, nil
}

func marshalSnapshot(values map[string]any) ([]byte, error) {
	if values == nil {
		return nil, nil
	}
	return json.Marshal(wireSnapshot(values))
}

func unmarshalSnapshot(payload []byte) (map[string]any, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// wireSnapshot renders Date values as YYYY-MM-DD strings so snapshots stay
// readable in the jsonb columns.
func wireSnapshot(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for name, value := range values {
		switch typed := value.(type) {
		case domain.Date:
			if typed.IsZero() {
				out[name] = nil
			} else {
				out[name] = typed.String()
			}
		case *domain.Date:
			if typed == nil {
				out[name] = nil
			} else {
				out[name] = typed.String()
			}
		default:
			out[name] = value
		}
	}
	return out
}
