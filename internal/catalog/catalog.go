// Package catalog declares the static metadata for every versioned entity
// kind: table name, field schema, foreign-key targets and per-kind policy
// flags. The versioning engine validates every payload against it before a
// write, which keeps caller-supplied keys from ever reaching a column list.
package catalog

import (
	"fmt"
	"strings"

	"orgledger/internal/domain"
)

// FieldType is the declared type of a business field.
type FieldType string

const (
	FieldTypeString FieldType = "string"
	FieldTypeText   FieldType = "text"
	FieldTypeDate   FieldType = "date"
	FieldTypeRef    FieldType = "reference"
)

// FieldDef describes one business column of a versioned kind.
type FieldDef struct {
	Name      string
	Type      FieldType
	Required  bool
	MaxLength int
	// RefTable names the referenced table for FieldTypeRef fields:
	// a reference table ("users", "activity_types") or another versioned
	// kind's table, in which case the value targets that kind's entry.
	RefTable string
	// column overrides the SQL column name when it differs from Name.
	column string
}

// Column returns the SQL column this field maps to. The mapping is declared
// here once, so a caller-supplied key can never become a column name.
func (f FieldDef) Column() string {
	if f.column != "" {
		return f.column
	}
	return f.Name
}

// Definition is the full catalog entry for one versioned kind.
type Definition struct {
	Kind   domain.Kind
	Table  string
	Fields []FieldDef
	// Amendable allows the in-place overwrite path (store updateVersion)
	// for this kind. Deliberate per-kind policy, not a code-path accident.
	Amendable bool
	// OverlapKeys names the fields whose combination must not have
	// overlapping validity windows across entries, e.g. user+activity.
	OverlapKeys []string
}

var definitions = map[domain.Kind]Definition{
	domain.KindActivity: {
		Kind:  domain.KindActivity,
		Table: "activities",
		Fields: []FieldDef{
			{Name: domain.FieldName, Type: FieldTypeString, Required: true, MaxLength: 120},
			{Name: domain.FieldDescription, Type: FieldTypeText},
			{Name: domain.FieldIcon, Type: FieldTypeString, MaxLength: 60},
			{Name: domain.FieldActivityType, Type: FieldTypeRef, Required: true, RefTable: "activity_types", column: "activity_type_id"},
			{Name: domain.FieldStartDate, Type: FieldTypeDate, Required: true},
			{Name: domain.FieldEndDate, Type: FieldTypeDate},
		},
	},
	domain.KindTask: {
		Kind:  domain.KindTask,
		Table: "tasks",
		Fields: []FieldDef{
			{Name: domain.FieldName, Type: FieldTypeString, Required: true, MaxLength: 120},
			{Name: domain.FieldDescription, Type: FieldTypeText},
			{Name: domain.FieldActivity, Type: FieldTypeRef, Required: true, RefTable: "activities", column: "activity_id"},
			{Name: domain.FieldStartDate, Type: FieldTypeDate, Required: true},
			{Name: domain.FieldEndDate, Type: FieldTypeDate},
		},
	},
	domain.KindResponsibleFor: {
		Kind:        domain.KindResponsibleFor,
		Table:       "responsible_for",
		Amendable:   true,
		OverlapKeys: []string{domain.FieldUser, domain.FieldActivity},
		Fields: []FieldDef{
			{Name: domain.FieldUser, Type: FieldTypeRef, Required: true, RefTable: "users", column: "user_id"},
			{Name: domain.FieldActivity, Type: FieldTypeRef, Required: true, RefTable: "activities", column: "activity_id"},
			{Name: domain.FieldStartDate, Type: FieldTypeDate, Required: true},
			{Name: domain.FieldEndDate, Type: FieldTypeDate},
		},
	},
	domain.KindAssignedTo: {
		Kind:        domain.KindAssignedTo,
		Table:       "assigned_to",
		Amendable:   true,
		OverlapKeys: []string{domain.FieldUser, domain.FieldTask},
		Fields: []FieldDef{
			{Name: domain.FieldUser, Type: FieldTypeRef, Required: true, RefTable: "users", column: "user_id"},
			{Name: domain.FieldTask, Type: FieldTypeRef, Required: true, RefTable: "tasks", column: "task_id"},
			{Name: domain.FieldStartDate, Type: FieldTypeDate, Required: true},
			{Name: domain.FieldEndDate, Type: FieldTypeDate},
		},
	},
}

// Lookup returns the catalog definition for a kind.
func Lookup(kind domain.Kind) (Definition, error) {
	def, ok := definitions[kind]
	if !ok {
		return Definition{}, &domain.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown entity kind %q", kind)}
	}
	return def, nil
}

// Definitions returns every catalog entry in a stable order.
func Definitions() []Definition {
	out := make([]Definition, 0, len(definitions))
	for _, kind := range domain.Kinds() {
		out = append(out, definitions[kind])
	}
	return out
}

// Field returns the definition of a named field.
func (d Definition) Field(name string) (FieldDef, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDef{}, false
}

// ValidateNew checks a full payload for the create path: every required
// field present, no unknown or system-managed keys, values well-typed.
func (d Definition) ValidateNew(fields map[string]any) error {
	if err := d.validateKeys(fields); err != nil {
		return err
	}
	for _, f := range d.Fields {
		value, ok := fields[f.Name]
		if !ok || value == nil || isNilDate(value) {
			if f.Required {
				return &domain.ValidationError{Field: f.Name, Reason: "required field missing"}
			}
			continue
		}
		if err := d.validateValue(f, value); err != nil {
			return err
		}
	}
	return d.validateWindow(fields)
}

// ValidatePatch checks a partial payload for the update/amend path: the
// payload may omit fields but must not be empty, name an unknown key, or
// null out a required field.
func (d Definition) ValidatePatch(fields map[string]any) error {
	if len(fields) == 0 {
		return &domain.ValidationError{Field: "fields", Reason: "empty update payload"}
	}
	if err := d.validateKeys(fields); err != nil {
		return err
	}
	for name, value := range fields {
		f, _ := d.Field(name)
		if value == nil || isNilDate(value) {
			if f.Required {
				return &domain.ValidationError{Field: name, Reason: "required field cannot be cleared"}
			}
			continue
		}
		if err := d.validateValue(f, value); err != nil {
			return err
		}
	}
	return nil
}

func (d Definition) validateKeys(fields map[string]any) error {
	for name := range fields {
		if _, system := domain.SystemFields[name]; system {
			return &domain.ValidationError{Field: name, Reason: "system-managed field not accepted"}
		}
		if _, ok := d.Field(name); !ok {
			return &domain.ValidationError{Field: name, Reason: fmt.Sprintf("unknown field for kind %s", d.Kind)}
		}
	}
	return nil
}

func (d Definition) validateValue(f FieldDef, value any) error {
	switch f.Type {
	case FieldTypeString, FieldTypeText:
		s, ok := value.(string)
		if !ok {
			return &domain.ValidationError{Field: f.Name, Reason: "expected string"}
		}
		if f.Required && strings.TrimSpace(s) == "" {
			return &domain.ValidationError{Field: f.Name, Reason: "must not be blank"}
		}
		if f.MaxLength > 0 && len(s) > f.MaxLength {
			return &domain.ValidationError{Field: f.Name, Reason: fmt.Sprintf("exceeds max length %d", f.MaxLength)}
		}
	case FieldTypeRef:
		id, ok := value.(int64)
		if !ok {
			return &domain.ValidationError{Field: f.Name, Reason: "expected int64 reference"}
		}
		if id <= 0 {
			return &domain.ValidationError{Field: f.Name, Reason: "reference must be positive"}
		}
	case FieldTypeDate:
		switch v := value.(type) {
		case domain.Date:
			if v.IsZero() && f.Required {
				return &domain.ValidationError{Field: f.Name, Reason: "date required"}
			}
		case *domain.Date:
			// nil handled by caller
		default:
			return &domain.ValidationError{Field: f.Name, Reason: "expected YYYY-MM-DD date"}
		}
	}
	return nil
}

// validateWindow enforces start <= end whenever both dates are present.
// Applied uniformly to every kind.
func (d Definition) validateWindow(fields map[string]any) error {
	start, okStart := dateValue(fields[domain.FieldStartDate])
	end, okEnd := dateValue(fields[domain.FieldEndDate])
	if okStart && okEnd && end.Before(start) {
		return &domain.ValidationError{Field: domain.FieldEndDate, Reason: "end_date before start_date"}
	}
	return nil
}

// ValidateMerged runs the full-payload checks over a merged update result.
func (d Definition) ValidateMerged(fields map[string]any) error {
	return d.ValidateNew(fields)
}

func dateValue(v any) (domain.Date, bool) {
	switch typed := v.(type) {
	case domain.Date:
		return typed, !typed.IsZero()
	case *domain.Date:
		if typed == nil {
			return domain.Date{}, false
		}
		return *typed, !typed.IsZero()
	}
	return domain.Date{}, false
}

func isNilDate(v any) bool {
	d, ok := v.(*domain.Date)
	return ok && d == nil
}
