package domain

import "time"

// Business field names shared across kinds. The catalog decides which of
// these apply to which kind; the store never accepts a key the catalog does
// not declare.
const (
	FieldName         = "name"
	FieldDescription  = "description"
	FieldIcon         = "icon"
	FieldActivityType = "activity_type"
	FieldActivity     = "activity"
	FieldTask         = "task"
	FieldUser         = "user"
	FieldStartDate    = "start_date"
	FieldEndDate      = "end_date"
)

// SystemFields are managed by the store and rejected in caller payloads.
var SystemFields = map[string]struct{}{
	"version":    {},
	"entry":      {},
	"status":     {},
	"created_at": {},
	"created_by": {},
}

// Record is one immutable version row of a versioned entity. Fields holds
// the business columns keyed by catalog field name; values are string,
// int64, Date or *Date depending on the declared field type.
type Record struct {
	Kind      Kind
	Version   int64
	Entry     int64
	Status    Status
	CreatedAt time.Time
	CreatedBy int64
	Fields    map[string]any
}

// StringField returns a string business field, or "" when absent.
func (r Record) StringField(name string) string {
	if v, ok := r.Fields[name].(string); ok {
		return v
	}
	return ""
}

// RefField returns a foreign-key business field, or 0 when absent.
func (r Record) RefField(name string) int64 {
	if v, ok := r.Fields[name].(int64); ok {
		return v
	}
	return 0
}

// StartDate returns the validity window start, zero when absent.
func (r Record) StartDate() Date {
	switch v := r.Fields[FieldStartDate].(type) {
	case Date:
		return v
	case *Date:
		if v != nil {
			return *v
		}
	}
	return Date{}
}

// EndDate returns the validity window end, nil for open-ended windows.
func (r Record) EndDate() *Date {
	switch v := r.Fields[FieldEndDate].(type) {
	case *Date:
		return v
	case Date:
		if !v.IsZero() {
			d := v
			return &d
		}
	}
	return nil
}

// ActiveAt applies the point-in-time activation predicate: current status
// and day inside the validity window.
func (r Record) ActiveAt(day Date) bool {
	if r.Status != StatusCurrent {
		return false
	}
	return WindowContains(r.StartDate(), r.EndDate(), day)
}

// CloneFields returns a shallow copy of the business fields. Date values
// are immutable so a shallow copy is sufficient.
func (r Record) CloneFields() map[string]any {
	out := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		out[k] = v
	}
	return out
}

// MergeFields carries forward unspecified fields from base and lets patch
// win on conflict. Used by the update path so a partial payload produces a
// complete next version.
func MergeFields(base, patch map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	return merged
}
