package domain

import "fmt"

// Kind identifies a versioned entity table.
type Kind string

const (
	KindActivity       Kind = "activities"
	KindTask           Kind = "tasks"
	KindResponsibleFor Kind = "responsible_for"
	KindAssignedTo     Kind = "assigned_to"
)

// Kinds lists every versioned kind in catalog order.
func Kinds() []Kind {
	return []Kind{KindActivity, KindTask, KindResponsibleFor, KindAssignedTo}
}

// ParseKind validates a kind received from a caller.
func ParseKind(value string) (Kind, error) {
	k := Kind(value)
	switch k {
	case KindActivity, KindTask, KindResponsibleFor, KindAssignedTo:
		return k, nil
	}
	return "", &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown entity kind %q", value)}
}

// Status is the lifecycle state of a single version row.
type Status string

const (
	StatusCurrent    Status = "current"
	StatusDeprecated Status = "deprecated"
	StatusDeleted    Status = "deleted"
)

// Valid reports whether s is one of the three known states.
func (s Status) Valid() bool {
	switch s {
	case StatusCurrent, StatusDeprecated, StatusDeleted:
		return true
	}
	return false
}

// Action names a mutation for audit records.
type Action string

const (
	ActionCreate     Action = "create"
	ActionUpdate     Action = "update"
	ActionAmend      Action = "amend"
	ActionSoftDelete Action = "soft_delete"
	ActionHardDelete Action = "hard_delete"
)
