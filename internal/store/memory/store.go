// Package memory provides an in-process Store implementation. It backs the
// engine tests and is the substrate the sqlite snapshot store builds on.
// A single mutex serializes transactions, which also satisfies the window
// locking contract trivially.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"orgledger/internal/domain"
	"orgledger/internal/store"
)

type table struct {
	rows map[int64]domain.Record
	next int64
}

func newTable() *table {
	return &table{rows: make(map[int64]domain.Record), next: 1}
}

func (t *table) clone() *table {
	out := &table{rows: make(map[int64]domain.Record, len(t.rows)), next: t.next}
	for v, r := range t.rows {
		r.Fields = r.CloneFields()
		out.rows[v] = r
	}
	return out
}

type state struct {
	tables map[domain.Kind]*table
	users  map[int64]domain.User
	types  map[int64]domain.ActivityType
}

func newState() *state {
	s := &state{
		tables: make(map[domain.Kind]*table),
		users:  make(map[int64]domain.User),
		types:  make(map[int64]domain.ActivityType),
	}
	for _, kind := range domain.Kinds() {
		s.tables[kind] = newTable()
	}
	return s
}

func (s *state) clone() *state {
	out := &state{
		tables: make(map[domain.Kind]*table, len(s.tables)),
		users:  make(map[int64]domain.User, len(s.users)),
		types:  make(map[int64]domain.ActivityType, len(s.types)),
	}
	for kind, t := range s.tables {
		out.tables[kind] = t.clone()
	}
	for id, u := range s.users {
		out.users[id] = u
	}
	for id, at := range s.types {
		out.types[id] = at
	}
	return out
}

// Store is the in-memory Store implementation.
type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
}

var _ store.Store = (*Store)(nil)

// NewStore builds an empty in-memory store.
func NewStore() *Store {
	return &Store{state: newState(), now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the timestamp source, for deterministic tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// RunInTx clones the state, applies fn to the clone and swaps it in only
// when fn succeeds. The mutex is held throughout, so transactions are
// fully serialized.
func (s *Store) RunInTx(ctx context.Context, fn func(tx store.TemporalStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := s.state.clone()
	if err := fn(&txStore{state: staged, now: s.now}); err != nil {
		return err
	}
	s.state = staged
	return nil
}

// txStore operates directly on a staged state. The owning Store holds the
// mutex for the lifetime of the transaction.
type txStore struct {
	state *state
	now   func() time.Time
}

var _ store.TemporalStore = (*txStore)(nil)

func (s *Store) withLock(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.state)
}

// --- TemporalStore, delegating to state-level operations ---

func (s *Store) CreateVersion(ctx context.Context, kind domain.Kind, createdBy int64, fields map[string]any) (int64, error) {
	var version int64
	err := s.withLock(func(st *state) error {
		var err error
		version, err = createVersion(st, kind, createdBy, fields, s.now())
		return err
	})
	return version, err
}

func (s *Store) CreateSuccessor(ctx context.Context, kind domain.Kind, entry, createdBy int64, fields map[string]any) (int64, error) {
	var version int64
	err := s.withLock(func(st *state) error {
		var err error
		version, err = createSuccessor(st, kind, entry, createdBy, fields, s.now())
		return err
	})
	return version, err
}

func (s *Store) ReadVersion(ctx context.Context, kind domain.Kind, version int64) (domain.Record, error) {
	var rec domain.Record
	err := s.withLock(func(st *state) error {
		var err error
		rec, err = readVersion(st, kind, version)
		return err
	})
	return rec, err
}

func (s *Store) UpdateVersion(ctx context.Context, kind domain.Kind, version int64, fields map[string]any) (bool, error) {
	var ok bool
	err := s.withLock(func(st *state) error {
		var err error
		ok, err = updateVersion(st, kind, version, fields)
		return err
	})
	return ok, err
}

func (s *Store) DeleteVersion(ctx context.Context, kind domain.Kind, version int64) (bool, error) {
	var ok bool
	err := s.withLock(func(st *state) error {
		ok = deleteVersion(st, kind, version)
		return nil
	})
	return ok, err
}

func (s *Store) DeleteEntry(ctx context.Context, kind domain.Kind, entry int64) (bool, error) {
	var ok bool
	err := s.withLock(func(st *state) error {
		ok = deleteEntry(st, kind, entry)
		return nil
	})
	return ok, err
}

func (s *Store) CurrentVersion(ctx context.Context, kind domain.Kind, entry int64) (domain.Record, error) {
	var rec domain.Record
	err := s.withLock(func(st *state) error {
		var err error
		rec, err = currentVersion(st, kind, entry)
		return err
	})
	return rec, err
}

func (s *Store) CurrentVersionForUpdate(ctx context.Context, kind domain.Kind, entry int64) (domain.Record, error) {
	return s.CurrentVersion(ctx, kind, entry)
}

func (s *Store) EntryVersions(ctx context.Context, kind domain.Kind, entry int64) ([]domain.Record, error) {
	var recs []domain.Record
	err := s.withLock(func(st *state) error {
		recs = entryVersions(st, kind, entry)
		return nil
	})
	return recs, err
}

func (s *Store) DeprecateVersion(ctx context.Context, kind domain.Kind, entry int64) error {
	return s.withLock(func(st *state) error {
		setStatus(st, kind, entry, domain.StatusDeprecated)
		return nil
	})
}

func (s *Store) MarkDeleted(ctx context.Context, kind domain.Kind, entry int64) error {
	return s.withLock(func(st *state) error {
		setStatus(st, kind, entry, domain.StatusDeleted)
		return nil
	})
}

func (s *Store) ListCurrent(ctx context.Context, kind domain.Kind, refFilters map[string]int64) ([]domain.Record, error) {
	var recs []domain.Record
	err := s.withLock(func(st *state) error {
		recs = listCurrent(st, kind, refFilters)
		return nil
	})
	return recs, err
}

func (s *Store) LockWindow(ctx context.Context, kind domain.Kind, keys map[string]int64) error {
	// The store mutex already serializes writers.
	return nil
}

// --- txStore: same operations against the staged state ---

func (t *txStore) CreateVersion(ctx context.Context, kind domain.Kind, createdBy int64, fields map[string]any) (int64, error) {
	return createVersion(t.state, kind, createdBy, fields, t.now())
}

func (t *txStore) CreateSuccessor(ctx context.Context, kind domain.Kind, entry, createdBy int64, fields map[string]any) (int64, error) {
	return createSuccessor(t.state, kind, entry, createdBy, fields, t.now())
}

func (t *txStore) ReadVersion(ctx context.Context, kind domain.Kind, version int64) (domain.Record, error) {
	return readVersion(t.state, kind, version)
}

func (t *txStore) UpdateVersion(ctx context.Context, kind domain.Kind, version int64, fields map[string]any) (bool, error) {
	return updateVersion(t.state, kind, version, fields)
}

func (t *txStore) DeleteVersion(ctx context.Context, kind domain.Kind, version int64) (bool, error) {
	return deleteVersion(t.state, kind, version), nil
}

func (t *txStore) DeleteEntry(ctx context.Context, kind domain.Kind, entry int64) (bool, error) {
	return deleteEntry(t.state, kind, entry), nil
}

func (t *txStore) CurrentVersion(ctx context.Context, kind domain.Kind, entry int64) (domain.Record, error) {
	return currentVersion(t.state, kind, entry)
}

func (t *txStore) CurrentVersionForUpdate(ctx context.Context, kind domain.Kind, entry int64) (domain.Record, error) {
	return currentVersion(t.state, kind, entry)
}

func (t *txStore) EntryVersions(ctx context.Context, kind domain.Kind, entry int64) ([]domain.Record, error) {
	return entryVersions(t.state, kind, entry), nil
}

func (t *txStore) DeprecateVersion(ctx context.Context, kind domain.Kind, entry int64) error {
	setStatus(t.state, kind, entry, domain.StatusDeprecated)
	return nil
}

func (t *txStore) MarkDeleted(ctx context.Context, kind domain.Kind, entry int64) error {
	setStatus(t.state, kind, entry, domain.StatusDeleted)
	return nil
}

func (t *txStore) ListCurrent(ctx context.Context, kind domain.Kind, refFilters map[string]int64) ([]domain.Record, error) {
	return listCurrent(t.state, kind, refFilters), nil
}

func (t *txStore) LockWindow(ctx context.Context, kind domain.Kind, keys map[string]int64) error {
	return nil
}

// --- shared state-level operations ---

func createVersion(st *state, kind domain.Kind, createdBy int64, fields map[string]any, at time.Time) (int64, error) {
	for name := range fields {
		if _, system := domain.SystemFields[name]; system {
			return 0, &domain.ValidationError{Field: name, Reason: "system-managed field not accepted"}
		}
	}
	tbl, ok := st.tables[kind]
	if !ok {
		return 0, &domain.ValidationError{Field: "kind", Reason: "unknown entity kind"}
	}
	version := tbl.next
	tbl.next++

	rec := domain.Record{
		Kind:      kind,
		Version:   version,
		Entry:     version,
		Status:    domain.StatusCurrent,
		CreatedAt: at,
		CreatedBy: createdBy,
		Fields:    cloneFields(fields),
	}
	tbl.rows[version] = rec
	return version, nil
}

func createSuccessor(st *state, kind domain.Kind, entry, createdBy int64, fields map[string]any, at time.Time) (int64, error) {
	version, err := createVersion(st, kind, createdBy, fields, at)
	if err != nil {
		return 0, err
	}
	tbl := st.tables[kind]
	rec := tbl.rows[version]
	rec.Entry = entry
	tbl.rows[version] = rec
	return version, nil
}

func readVersion(st *state, kind domain.Kind, version int64) (domain.Record, error) {
	tbl := st.tables[kind]
	if tbl == nil {
		return domain.Record{}, domain.ErrNotFound
	}
	rec, ok := tbl.rows[version]
	if !ok {
		return domain.Record{}, domain.ErrNotFound
	}
	rec.Fields = rec.CloneFields()
	return rec, nil
}

func updateVersion(st *state, kind domain.Kind, version int64, fields map[string]any) (bool, error) {
	filtered := make(map[string]any, len(fields))
	for name, value := range fields {
		if _, system := domain.SystemFields[name]; system {
			continue
		}
		filtered[name] = value
	}
	if len(filtered) == 0 {
		return false, nil
	}
	tbl := st.tables[kind]
	if tbl == nil {
		return false, nil
	}
	rec, ok := tbl.rows[version]
	if !ok {
		return false, nil
	}
	rec.Fields = domain.MergeFields(rec.Fields, filtered)
	tbl.rows[version] = rec
	return true, nil
}

func deleteVersion(st *state, kind domain.Kind, version int64) bool {
	tbl := st.tables[kind]
	if tbl == nil {
		return false
	}
	if _, ok := tbl.rows[version]; !ok {
		return false
	}
	delete(tbl.rows, version)
	return true
}

func deleteEntry(st *state, kind domain.Kind, entry int64) bool {
	tbl := st.tables[kind]
	if tbl == nil {
		return false
	}
	removed := false
	for version, rec := range tbl.rows {
		if rec.Entry == entry {
			delete(tbl.rows, version)
			removed = true
		}
	}
	return removed
}

func currentVersion(st *state, kind domain.Kind, entry int64) (domain.Record, error) {
	tbl := st.tables[kind]
	if tbl == nil {
		return domain.Record{}, domain.ErrNotFound
	}
	var best *domain.Record
	for _, rec := range tbl.rows {
		if rec.Entry != entry || rec.Status != domain.StatusCurrent {
			continue
		}
		// Highest version wins; tolerates transient invariant violations.
		if best == nil || rec.Version > best.Version {
			r := rec
			best = &r
		}
	}
	if best == nil {
		return domain.Record{}, domain.ErrNotFound
	}
	best.Fields = best.CloneFields()
	return *best, nil
}

func entryVersions(st *state, kind domain.Kind, entry int64) []domain.Record {
	tbl := st.tables[kind]
	if tbl == nil {
		return nil
	}
	out := make([]domain.Record, 0, 4)
	for _, rec := range tbl.rows {
		if rec.Entry != entry {
			continue
		}
		rec.Fields = rec.CloneFields()
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out
}

func setStatus(st *state, kind domain.Kind, entry int64, status domain.Status) {
	tbl := st.tables[kind]
	if tbl == nil {
		return
	}
	for version, rec := range tbl.rows {
		if rec.Entry == entry && rec.Status == domain.StatusCurrent {
			rec.Status = status
			tbl.rows[version] = rec
		}
	}
}

func listCurrent(st *state, kind domain.Kind, refFilters map[string]int64) []domain.Record {
	tbl := st.tables[kind]
	if tbl == nil {
		return nil
	}
	out := make([]domain.Record, 0, len(tbl.rows))
rows:
	for _, rec := range tbl.rows {
		if rec.Status != domain.StatusCurrent {
			continue
		}
		for field, want := range refFilters {
			if rec.RefField(field) != want {
				continue rows
			}
		}
		rec.Fields = rec.CloneFields()
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Entry < out[j].Entry })
	return out
}

func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
