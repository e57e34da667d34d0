// Package versioning implements the append-only version-chain protocol for
// the catalogued entity kinds. Every mutation runs inside a store
// transaction; the audit trail is written after commit so the business
// write and the audit write can never abort each other.
package versioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"orgledger/internal/audit"
	"orgledger/internal/catalog"
	"orgledger/internal/domain"
	"orgledger/internal/metrics"
	"orgledger/internal/store"
)

// Engine mutates versioned entities while upholding the one-current-version
// invariant and the per-kind overlap policy.
type Engine struct {
	store   store.Store
	audit   *audit.Recorder
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewEngine builds an engine over the given store. The audit recorder and
// metrics may be nil; both degrade to no-ops.
func NewEngine(st store.Store, rec *audit.Recorder, m *metrics.Metrics, log zerolog.Logger) *Engine {
	return &Engine{store: st, audit: rec, metrics: m, log: log}
}

// Create inserts the first version of a new entry and returns its version
// number, which doubles as the entry id for the whole chain.
func (e *Engine) Create(ctx context.Context, actor domain.Actor, kind domain.Kind, fields map[string]any) (int64, error) {
	start := time.Now()
	version, err := e.create(ctx, actor, kind, fields)
	e.metrics.ObserveMutation(string(kind), string(domain.ActionCreate), start, err)
	if err != nil {
		return 0, err
	}
	e.audit.Record(ctx, kind, version, domain.ActionCreate, nil, fields, actor)
	e.log.Info().
		Str("kind", string(kind)).
		Int64("entry", version).
		Int64("actor", actor.UserID).
		Msg("entry created")
	return version, nil
}

func (e *Engine) create(ctx context.Context, actor domain.Actor, kind domain.Kind, fields map[string]any) (int64, error) {
	def, err := catalog.Lookup(kind)
	if err != nil {
		return 0, err
	}
	if err := def.ValidateNew(fields); err != nil {
		return 0, err
	}
	if err := e.checkReferences(ctx, e.store, def, fields); err != nil {
		return 0, err
	}

	var version int64
	err = e.store.RunInTx(ctx, func(tx store.TemporalStore) error {
		if err := e.checkOverlap(ctx, tx, def, 0, fields); err != nil {
			return err
		}
		version, err = tx.CreateVersion(ctx, kind, actor.UserID, fields)
		return err
	})
	if err != nil {
		if domain.IsValidation(err) || domain.IsConflict(err) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to create %s: %w", kind, err)
	}
	return version, nil
}

// Update deprecates the current version of entry and inserts a successor
// carrying the merged fields. The entry id stays stable across the chain.
func (e *Engine) Update(ctx context.Context, actor domain.Actor, kind domain.Kind, entry int64, patch map[string]any) (int64, error) {
	start := time.Now()
	version, old, merged, err := e.update(ctx, actor, kind, entry, patch)
	e.metrics.ObserveMutation(string(kind), string(domain.ActionUpdate), start, err)
	if err != nil {
		return 0, err
	}
	e.audit.Record(ctx, kind, entry, domain.ActionUpdate, old, merged, actor)
	e.log.Info().
		Str("kind", string(kind)).
		Int64("entry", entry).
		Int64("version", version).
		Int64("actor", actor.UserID).
		Msg("entry updated")
	return version, nil
}

func (e *Engine) update(ctx context.Context, actor domain.Actor, kind domain.Kind, entry int64, patch map[string]any) (version int64, old, merged map[string]any, err error) {
	def, err := catalog.Lookup(kind)
	if err != nil {
		return 0, nil, nil, err
	}
	if err := def.ValidatePatch(patch); err != nil {
		return 0, nil, nil, err
	}
	if err := e.checkReferences(ctx, e.store, def, patch); err != nil {
		return 0, nil, nil, err
	}

	err = e.store.RunInTx(ctx, func(tx store.TemporalStore) error {
		cur, err := tx.CurrentVersionForUpdate(ctx, kind, entry)
		if err != nil {
			return err
		}
		old = cur.Fields

		merged = domain.MergeFields(cur.Fields, patch)
		if err := def.ValidateMerged(merged); err != nil {
			return err
		}
		if err := e.checkOverlap(ctx, tx, def, entry, merged); err != nil {
			return err
		}

		if err := tx.DeprecateVersion(ctx, kind, entry); err != nil {
			return err
		}
		version, err = tx.CreateSuccessor(ctx, kind, entry, actor.UserID, merged)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || domain.IsValidation(err) || domain.IsConflict(err) {
			return 0, nil, nil, err
		}
		return 0, nil, nil, fmt.Errorf("failed to update %s entry %d: %w", kind, entry, err)
	}
	return version, old, merged, nil
}

// Amend overwrites fields on the current version in place, without growing
// the chain. Only kinds the catalog marks Amendable accept this.
func (e *Engine) Amend(ctx context.Context, actor domain.Actor, kind domain.Kind, entry int64, patch map[string]any) error {
	start := time.Now()
	old, merged, err := e.amend(ctx, actor, kind, entry, patch)
	e.metrics.ObserveMutation(string(kind), string(domain.ActionAmend), start, err)
	if err != nil {
		return err
	}
	e.audit.Record(ctx, kind, entry, domain.ActionAmend, old, merged, actor)
	e.log.Info().
		Str("kind", string(kind)).
		Int64("entry", entry).
		Int64("actor", actor.UserID).
		Msg("entry amended")
	return nil
}

func (e *Engine) amend(ctx context.Context, actor domain.Actor, kind domain.Kind, entry int64, patch map[string]any) (old, merged map[string]any, err error) {
	def, err := catalog.Lookup(kind)
	if err != nil {
		return nil, nil, err
	}
	if !def.Amendable {
		return nil, nil, &domain.ValidationError{Field: "kind", Reason: fmt.Sprintf("%s does not allow in-place amendment", kind)}
	}
	if err := def.ValidatePatch(patch); err != nil {
		return nil, nil, err
	}
	if err := e.checkReferences(ctx, e.store, def, patch); err != nil {
		return nil, nil, err
	}

	err = e.store.RunInTx(ctx, func(tx store.TemporalStore) error {
		cur, err := tx.CurrentVersionForUpdate(ctx, kind, entry)
		if err != nil {
			return err
		}
		old = cur.Fields

		merged = domain.MergeFields(cur.Fields, patch)
		if err := def.ValidateMerged(merged); err != nil {
			return err
		}
		if err := e.checkOverlap(ctx, tx, def, entry, merged); err != nil {
			return err
		}

		ok, err := tx.UpdateVersion(ctx, kind, cur.Version, patch)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || domain.IsValidation(err) || domain.IsConflict(err) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("failed to amend %s entry %d: %w", kind, entry, err)
	}
	return old, merged, nil
}

// SoftDelete flips every current version of entry to status deleted. The
// chain stays in place for history and audit.
func (e *Engine) SoftDelete(ctx context.Context, actor domain.Actor, kind domain.Kind, entry int64) error {
	start := time.Now()
	old, err := e.softDelete(ctx, kind, entry)
	e.metrics.ObserveMutation(string(kind), string(domain.ActionSoftDelete), start, err)
	if err != nil {
		return err
	}
	e.audit.Record(ctx, kind, entry, domain.ActionSoftDelete, old, nil, actor)
	e.log.Info().
		Str("kind", string(kind)).
		Int64("entry", entry).
		Int64("actor", actor.UserID).
		Msg("entry soft-deleted")
	return nil
}

func (e *Engine) softDelete(ctx context.Context, kind domain.Kind, entry int64) (old map[string]any, err error) {
	if _, err := catalog.Lookup(kind); err != nil {
		return nil, err
	}
	err = e.store.RunInTx(ctx, func(tx store.TemporalStore) error {
		cur, err := tx.CurrentVersionForUpdate(ctx, kind, entry)
		if err != nil {
			return err
		}
		old = cur.Fields
		return tx.MarkDeleted(ctx, kind, entry)
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to soft-delete %s entry %d: %w", kind, entry, err)
	}
	return old, nil
}

// HardDelete removes every version of entry. Irreversible; the audit record
// is the only remaining trace.
func (e *Engine) HardDelete(ctx context.Context, actor domain.Actor, kind domain.Kind, entry int64) error {
	start := time.Now()
	old, err := e.hardDelete(ctx, kind, entry)
	e.metrics.ObserveMutation(string(kind), string(domain.ActionHardDelete), start, err)
	if err != nil {
		return err
	}
	e.audit.Record(ctx, kind, entry, domain.ActionHardDelete, old, nil, actor)
	e.log.Info().
		Str("kind", string(kind)).
		Int64("entry", entry).
		Int64("actor", actor.UserID).
		Msg("entry purged")
	return nil
}

func (e *Engine) hardDelete(ctx context.Context, kind domain.Kind, entry int64) (old map[string]any, err error) {
	if _, err := catalog.Lookup(kind); err != nil {
		return nil, err
	}
	err = e.store.RunInTx(ctx, func(tx store.TemporalStore) error {
		versions, err := tx.EntryVersions(ctx, kind, entry)
		if err != nil {
			return err
		}
		if len(versions) == 0 {
			return domain.ErrNotFound
		}
		old = versions[0].Fields

		removed, err := tx.DeleteEntry(ctx, kind, entry)
		if err != nil {
			return err
		}
		if !removed {
			return domain.ErrNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to purge %s entry %d: %w", kind, entry, err)
	}
	return old, nil
}

// GetCurrent returns the single current version of entry.
func (e *Engine) GetCurrent(ctx context.Context, kind domain.Kind, entry int64) (domain.Record, error) {
	if _, err := catalog.Lookup(kind); err != nil {
		return domain.Record{}, err
	}
	return e.store.CurrentVersion(ctx, kind, entry)
}

// GetHistory returns every version of entry, newest first.
func (e *Engine) GetHistory(ctx context.Context, kind domain.Kind, entry int64) ([]domain.Record, error) {
	if _, err := catalog.Lookup(kind); err != nil {
		return nil, err
	}
	versions, err := e.store.EntryVersions(ctx, kind, entry)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, domain.ErrNotFound
	}
	return versions, nil
}

// Diff renders a unified diff between two versions of an entry.
func (e *Engine) Diff(ctx context.Context, kind domain.Kind, entry, fromVersion, toVersion int64) (string, error) {
	from, err := e.store.ReadVersion(ctx, kind, fromVersion)
	if err != nil {
		return "", err
	}
	to, err := e.store.ReadVersion(ctx, kind, toVersion)
	if err != nil {
		return "", err
	}
	if from.Entry != entry || to.Entry != entry {
		return "", &domain.ValidationError{Field: "version", Reason: "versions belong to a different entry"}
	}
	fromSnap := domain.NewSnapshot(from)
	toSnap := domain.NewSnapshot(to)
	return domain.DiffSnapshots(
		fmt.Sprintf("%s/%d@v%d", kind, entry, fromVersion), &fromSnap,
		fmt.Sprintf("%s/%d@v%d", kind, entry, toVersion), &toSnap,
	), nil
}

// checkReferences verifies that every reference field present in fields
// points at something that exists: a known user or activity type, or a
// version chain with a live current version.
func (e *Engine) checkReferences(ctx context.Context, st store.Store, def catalog.Definition, fields map[string]any) error {
	for _, f := range def.Fields {
		if f.Type != catalog.FieldTypeRef {
			continue
		}
		raw, ok := fields[f.Name]
		if !ok {
			continue
		}
		target, ok := refID(raw)
		if !ok || target <= 0 {
			return &domain.ValidationError{Field: f.Name, Reason: "reference id must be a positive integer"}
		}

		var err error
		switch f.RefTable {
		case "users":
			_, err = st.GetUser(ctx, target)
		case "activity_types":
			_, err = st.GetActivityType(ctx, target)
		case "activities":
			_, err = st.CurrentVersion(ctx, domain.KindActivity, target)
		case "tasks":
			_, err = st.CurrentVersion(ctx, domain.KindTask, target)
		default:
			return fmt.Errorf("unmapped reference table %q for field %s", f.RefTable, f.Name)
		}
		if errors.Is(err, domain.ErrNotFound) {
			return &domain.ValidationError{Field: f.Name, Reason: fmt.Sprintf("referenced %s %d does not exist", f.RefTable, target)}
		}
		if err != nil {
			return fmt.Errorf("failed to resolve %s reference: %w", f.Name, err)
		}
	}
	return nil
}

// checkOverlap enforces the no-overlapping-windows rule for kinds that carry
// overlap keys. It takes the window lock first so two concurrent writers for
// the same key pair serialize instead of both passing the scan.
func (e *Engine) checkOverlap(ctx context.Context, tx store.TemporalStore, def catalog.Definition, self int64, merged map[string]any) error {
	if len(def.OverlapKeys) == 0 {
		return nil
	}

	keys := make(map[string]int64, len(def.OverlapKeys))
	for _, name := range def.OverlapKeys {
		id, ok := refID(merged[name])
		if !ok {
			return &domain.ValidationError{Field: name, Reason: "overlap key must be set"}
		}
		keys[name] = id
	}
	if err := tx.LockWindow(ctx, def.Kind, keys); err != nil {
		return fmt.Errorf("failed to lock %s window: %w", def.Kind, err)
	}

	start, ok := dateOf(merged[domain.FieldStartDate])
	if !ok {
		return &domain.ValidationError{Field: domain.FieldStartDate, Reason: "must be a date"}
	}
	end := optionalDateOf(merged[domain.FieldEndDate])

	others, err := tx.ListCurrent(ctx, def.Kind, keys)
	if err != nil {
		return fmt.Errorf("failed to scan %s windows: %w", def.Kind, err)
	}
	for _, other := range others {
		if other.Entry == self {
			continue
		}
		if domain.WindowsOverlap(start, end, other.StartDate(), other.EndDate()) {
			return &domain.ConflictError{
				Kind:   def.Kind,
				Entry:  other.Entry,
				Reason: "validity window overlaps an existing assignment for the same pair",
			}
		}
	}
	return nil
}

func refID(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}

func dateOf(v any) (domain.Date, bool) {
	switch d := v.(type) {
	case domain.Date:
		return d, true
	case *domain.Date:
		if d != nil {
			return *d, true
		}
	}
	return domain.Date{}, false
}

func optionalDateOf(v any) *domain.Date {
	switch d := v.(type) {
	case domain.Date:
		return &d
	case *domain.Date:
		return d
	}
	return nil
}
