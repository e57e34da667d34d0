package memory

import (
	"fmt"
	"time"

	"orgledger/internal/catalog"
	"orgledger/internal/domain"
)

// Snapshot is the JSON-serializable export of the full store state, used by
// the sqlite backend to persist after each successful transaction.
type Snapshot struct {
	Tables map[domain.Kind]TableSnapshot `json:"tables"`
	Users  []domain.User                 `json:"users"`
	Types  []domain.ActivityType         `json:"types"`
}

// TableSnapshot is one versioned table's rows plus its version counter.
type TableSnapshot struct {
	Next int64         `json:"next"`
	Rows []RowSnapshot `json:"rows"`
}

// RowSnapshot is one version row with business fields in wire form: dates
// as YYYY-MM-DD strings, references as numbers.
type RowSnapshot struct {
	Version   int64          `json:"version"`
	Entry     int64          `json:"entry"`
	Status    domain.Status  `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	CreatedBy int64          `json:"created_by"`
	Fields    map[string]any `json:"fields"`
}

// ExportState captures the current state for persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{Tables: make(map[domain.Kind]TableSnapshot, len(s.state.tables))}
	for kind, tbl := range s.state.tables {
		ts := TableSnapshot{Next: tbl.next, Rows: make([]RowSnapshot, 0, len(tbl.rows))}
		for _, rec := range tbl.rows {
			ts.Rows = append(ts.Rows, RowSnapshot{
				Version:   rec.Version,
				Entry:     rec.Entry,
				Status:    rec.Status,
				CreatedAt: rec.CreatedAt,
				CreatedBy: rec.CreatedBy,
				Fields:    wireFields(rec.Fields),
			})
		}
		snap.Tables[kind] = ts
	}
	for _, u := range s.state.users {
		snap.Users = append(snap.Users, u)
	}
	for _, at := range s.state.types {
		snap.Types = append(snap.Types, at)
	}
	return snap
}

// ImportState replaces the store state from a snapshot. Field values are
// coerced back to their catalog-declared types, since JSON round-trips
// collapse int64 to float64 and dates to strings.
func (s *Store) ImportState(snap Snapshot) error {
	st := newState()
	for kind, ts := range snap.Tables {
		def, err := catalog.Lookup(kind)
		if err != nil {
			return err
		}
		tbl := newTable()
		tbl.next = ts.Next
		for _, row := range ts.Rows {
			fields, err := storedFields(def, row.Fields)
			if err != nil {
				return fmt.Errorf("restore %s version %d: %w", kind, row.Version, err)
			}
			tbl.rows[row.Version] = domain.Record{
				Kind:      kind,
				Version:   row.Version,
				Entry:     row.Entry,
				Status:    row.Status,
				CreatedAt: row.CreatedAt,
				CreatedBy: row.CreatedBy,
				Fields:    fields,
			}
			if row.Version >= tbl.next {
				tbl.next = row.Version + 1
			}
		}
		st.tables[kind] = tbl
	}
	for _, u := range snap.Users {
		st.users[u.ID] = u
	}
	for _, at := range snap.Types {
		st.types[at.ID] = at
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
	return nil
}

func wireFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for name, value := range fields {
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

func storedFields(def catalog.Definition, wire map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(wire))
	for name, value := range wire {
		fieldDef, ok := def.Field(name)
		if !ok {
			return nil, &domain.ValidationError{Field: name, Reason: "unknown field in snapshot"}
		}
		if value == nil {
			if fieldDef.Type == catalog.FieldTypeDate {
				out[name] = (*domain.Date)(nil)
			}
			continue
		}
		switch fieldDef.Type {
		case catalog.FieldTypeRef:
			switch n := value.(type) {
			case float64:
				out[name] = int64(n)
			case int64:
				out[name] = n
			default:
				return nil, &domain.ValidationError{Field: name, Reason: "expected numeric reference"}
			}
		case catalog.FieldTypeDate:
			raw, ok := value.(string)
			if !ok {
				return nil, &domain.ValidationError{Field: name, Reason: "expected date string"}
			}
			parsed, err := domain.ParseDate(raw)
			if err != nil {
				return nil, err
			}
			if name == domain.FieldEndDate {
				out[name] = &parsed
			} else {
				out[name] = parsed
			}
		default:
			raw, ok := value.(string)
			if !ok {
				return nil, &domain.ValidationError{Field: name, Reason: "expected string"}
			}
			out[name] = raw
		}
	}
	return out, nil
}
