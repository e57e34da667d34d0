// Package store defines the Temporal Store contract: append-only version
// rows per logical table, point-in-time row sourcing for the query engine,
// reference-data lookups and the audit append path. Backends live in the
// postgres, memory and sqlite subpackages.
package store

import (
	"context"

	"orgledger/internal/domain"
)

// TemporalStore is the low-level append-only primitive, operating on one
// logical table at a time. Implementations reject system-managed keys in
// fields payloads; callers are expected to have validated against the
// catalog already.
type TemporalStore interface {
	// CreateVersion inserts a new row with status=current, assigns the
	// next version number and sets entry = version on that same row.
	// Returns the new version (equal to the new entry).
	CreateVersion(ctx context.Context, kind domain.Kind, createdBy int64, fields map[string]any) (int64, error)

	// CreateSuccessor inserts a new current row that preserves an
	// existing entry while taking the next version number. The caller
	// deprecates the predecessor first, in the same transaction.
	CreateSuccessor(ctx context.Context, kind domain.Kind, entry, createdBy int64, fields map[string]any) (int64, error)

	// ReadVersion fetches one row by version number.
	ReadVersion(ctx context.Context, kind domain.Kind, version int64) (domain.Record, error)

	// UpdateVersion overwrites business fields on an existing version row
	// in place, without creating a new version. Returns false when the
	// payload is empty after filtering or no row matched.
	UpdateVersion(ctx context.Context, kind domain.Kind, version int64, fields map[string]any) (bool, error)

	// DeleteVersion removes exactly one row by version.
	DeleteVersion(ctx context.Context, kind domain.Kind, version int64) (bool, error)

	// DeleteEntry removes all rows sharing an entry (hard purge).
	DeleteEntry(ctx context.Context, kind domain.Kind, entry int64) (bool, error)

	// CurrentVersion returns the current row for an entry. At most one
	// should exist; ties break on highest version.
	CurrentVersion(ctx context.Context, kind domain.Kind, entry int64) (domain.Record, error)

	// CurrentVersionForUpdate is CurrentVersion with a row lock held for
	// the rest of the transaction, closing the read-then-deprecate race.
	CurrentVersionForUpdate(ctx context.Context, kind domain.Kind, entry int64) (domain.Record, error)

	// EntryVersions returns the full version history, descending.
	EntryVersions(ctx context.Context, kind domain.Kind, entry int64) ([]domain.Record, error)

	// DeprecateVersion flips the current row(s) of an entry to deprecated.
	DeprecateVersion(ctx context.Context, kind domain.Kind, entry int64) error

	// MarkDeleted flips the current row of an entry to deleted (soft
	// removal; the chain keeps no current version afterwards).
	MarkDeleted(ctx context.Context, kind domain.Kind, entry int64) error

	// ListCurrent returns current rows of a kind, optionally filtered by
	// reference-field equality (e.g. user and activity for overlap checks).
	ListCurrent(ctx context.Context, kind domain.Kind, refFilters map[string]int64) ([]domain.Record, error)

	// LockWindow serializes concurrent writers that compete on the same
	// overlap scope (e.g. one user+activity pair) for the remainder of
	// the transaction.
	LockWindow(ctx context.Context, kind domain.Kind, keys map[string]int64) error
}

// ScheduleRow is one flat row of the wide point-in-time join: activity ⟕
// responsible ⟕ task ⟕ assignee. Child columns are nil when the left joins
// produced no active match.
type ScheduleRow struct {
	Activity    domain.Record
	TypeName    string
	Responsible *domain.User
	Task        *domain.Record
	Assignee    *domain.User
}

// Store is the full persistence surface consumed by the engines.
type Store interface {
	TemporalStore

	// RunInTx executes fn against a transaction-scoped TemporalStore.
	// Any error rolls the transaction back before being returned.
	RunInTx(ctx context.Context, fn func(tx TemporalStore) error) error

	// ScheduleRows issues the wide join for activities active on day,
	// optionally restricted to one activity-type name. Responsible, task
	// and assignee legs are filtered to rows active on day with LEFT JOIN
	// semantics: an activity with no children still yields one row.
	ScheduleRows(ctx context.Context, day domain.Date, typeName string) ([]ScheduleRow, error)

	// ActivitiesActiveAt lists activity records active on day, optionally
	// filtered by type name. Supplementary source for the type-filter
	// fix-up pass.
	ActivitiesActiveAt(ctx context.Context, day domain.Date, typeName string) ([]domain.Record, error)

	ReferenceStore
}

// ReferenceStore manages the non-versioned foreign-key targets.
type ReferenceStore interface {
	EnsureUser(ctx context.Context, user domain.User) error
	GetUser(ctx context.Context, id int64) (domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	EnsureActivityType(ctx context.Context, at domain.ActivityType) error
	GetActivityType(ctx context.Context, id int64) (domain.ActivityType, error)
	ActivityTypeByName(ctx context.Context, name string) (domain.ActivityType, error)
	ListActivityTypes(ctx context.Context) ([]domain.ActivityType, error)
}

// AuditStore appends immutable audit records. The list path exists for
// operational and forensic use only; the engines never read it back.
type AuditStore interface {
	Append(ctx context.Context, record domain.AuditRecord) error
	List(ctx context.Context, kind domain.Kind, entry int64, limit, offset int) ([]domain.AuditRecord, error)
}
