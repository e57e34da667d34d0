// Package postgres implements the Store contract against PostgreSQL via
// pgx. All SQL is built from the entity catalog's declared tables and
// columns; caller-supplied keys never reach a column list.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"orgledger/internal/catalog"
	"orgledger/internal/domain"
	"orgledger/internal/store"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the pgx-backed Store implementation.
type Store struct {
	pool *pgxpool.Pool
	db   dbtx
}

var _ store.Store = (*Store)(nil)

// NewStore wires a store backed by a connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

// RunInTx executes fn against a transaction-scoped store. Rolls back on
// error or panic, commits otherwise.
func (s *Store) RunInTx(ctx context.Context, fn func(tx store.TemporalStore) error) error {
	if s.pool == nil {
		return fmt.Errorf("store is already transaction-scoped")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(&Store{db: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("transaction error: %v, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CreateVersion inserts a row with status=current whose entry equals its
// own version number. The version is drawn from the sequence up front so
// both land in a single insert; a follow-up UPDATE would leave a transient
// entry=0 row visible to the one-current-per-entry index.
func (s *Store) CreateVersion(ctx context.Context, kind domain.Kind, createdBy int64, fields map[string]any) (int64, error) {
	def, err := catalog.Lookup(kind)
	if err != nil {
		return 0, err
	}
	for name := range fields {
		if _, system := domain.SystemFields[name]; system {
			return 0, &domain.ValidationError{Field: name, Reason: "system-managed field not accepted"}
		}
	}

	columns := []string{"status", "created_by"}
	placeholders := []string{"$1", "$2"}
	args := []any{string(domain.StatusCurrent), createdBy}
	for _, f := range def.Fields {
		value, ok := fields[f.Name]
		if !ok {
			continue
		}
		columns = append(columns, f.Column())
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)+1))
		args = append(args, sqlValue(value))
	}

	query := fmt.Sprintf(
		"WITH next_version AS (SELECT nextval(pg_get_serial_sequence('%s', 'version')) AS v) "+
			"INSERT INTO %s (version, entry, %s) SELECT v, v, %s FROM next_version RETURNING version",
		def.Table, def.Table, strings.Join(columns, ", "), strings.Join(placeholders, ", "),
	)

	var version int64
	if err := s.db.QueryRow(ctx, query, args...).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to create %s version: %w", kind, err)
	}
	return version, nil
}

// CreateSuccessor inserts a new current row for an existing entry. Used by
// the update protocol after deprecating the predecessor.
func (s *Store) CreateSuccessor(ctx context.Context, kind domain.Kind, entry, createdBy int64, fields map[string]any) (int64, error) {
	def, err := catalog.Lookup(kind)
	if err != nil {
		return 0, err
	}
	for name := range fields {
		if _, system := domain.SystemFields[name]; system {
			return 0, &domain.ValidationError{Field: name, Reason: "system-managed field not accepted"}
		}
	}

	columns := []string{"entry", "status", "created_by"}
	placeholders := []string{"$1", "$2", "$3"}
	args := []any{entry, string(domain.StatusCurrent), createdBy}
	for _, f := range def.Fields {
		value, ok := fields[f.Name]
		if !ok {
			continue
		}
		columns = append(columns, f.Column())
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)+1))
		args = append(args, sqlValue(value))
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) RETURNING version",
		def.Table, strings.Join(columns, ", "), strings.Join(placeholders, ", "),
	)

	var version int64
	if err := s.db.QueryRow(ctx, query, args...).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to create %s successor for entry %d: %w", kind, entry, err)
	}
	return version, nil
}

func (s *Store) ReadVersion(ctx context.Context, kind domain.Kind, version int64) (domain.Record, error) {
	def, err := catalog.Lookup(kind)
	if err != nil {
		return domain.Record{}, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE version = $1", selectColumns(def, ""), def.Table)
	rec, err := s.queryOne(ctx, def, query, version)
	if err != nil {
		return domain.Record{}, err
	}
	return rec, nil
}

func (s *Store) UpdateVersion(ctx context.Context, kind domain.Kind, version int64, fields map[string]any) (bool, error) {
	def, err := catalog.Lookup(kind)
	if err != nil {
		return false, err
	}

	assignments := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields)+1)
	for _, f := range def.Fields {
		value, ok := fields[f.Name]
		if !ok {
			continue
		}
		args = append(args, sqlValue(value))
		assignments = append(assignments, fmt.Sprintf("%s = $%d", f.Column(), len(args)))
	}
	if len(assignments) == 0 {
		return false, nil
	}
	args = append(args, version)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE version = $%d", def.Table, strings.Join(assignments, ", "), len(args))
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update %s version %d: %w", kind, version, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) DeleteVersion(ctx context.Context, kind domain.Kind, version int64) (bool, error) {
	def, err := catalog.Lookup(kind)
	if err != nil {
		return false, err
	}
	tag, err := s.db.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE version = $1", def.Table), version)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s version %d: %w", kind, version, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) DeleteEntry(ctx context.Context, kind domain.Kind, entry int64) (bool, error) {
	def, err := catalog.Lookup(kind)
	if err != nil {
		return false, err
	}
	tag, err := s.db.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE entry = $1", def.Table), entry)
	if err != nil {
		return false, fmt.Errorf("failed to purge %s entry %d: %w", kind, entry, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) CurrentVersion(ctx context.Context, kind domain.Kind, entry int64) (domain.Record, error) {
	return s.currentVersion(ctx, kind, entry, false)
}

func (s *Store) CurrentVersionForUpdate(ctx context.Context, kind domain.Kind, entry int64) (domain.Record, error) {
	return s.currentVersion(ctx, kind, entry, true)
}

func (s *Store) currentVersion(ctx context.Context, kind domain.Kind, entry int64, lock bool) (domain.Record, error) {
	def, err := catalog.Lookup(kind)
	if err != nil {
		return domain.Record{}, err
	}
	// ORDER BY version DESC tolerates transient single-current violations:
	// most recently created wins.
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE entry = $1 AND status = $2 ORDER BY version DESC LIMIT 1",
		selectColumns(def, ""), def.Table,
	)
	if lock {
		query += " FOR UPDATE"
	}
	return s.queryOne(ctx, def, query, entry, string(domain.StatusCurrent))
}

func (s *Store) EntryVersions(ctx context.Context, kind domain.Kind, entry int64) ([]domain.Record, error) {
	def, err := catalog.Lookup(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE entry = $1 ORDER BY version DESC",
		selectColumns(def, ""), def.Table,
	)
	return s.queryMany(ctx, def, query, entry)
}

func (s *Store) DeprecateVersion(ctx context.Context, kind domain.Kind, entry int64) error {
	return s.setStatus(ctx, kind, entry, domain.StatusDeprecated)
}

func (s *Store) MarkDeleted(ctx context.Context, kind domain.Kind, entry int64) error {
	return s.setStatus(ctx, kind, entry, domain.StatusDeleted)
}

func (s *Store) setStatus(ctx context.Context, kind domain.Kind, entry int64, status domain.Status) error {
	def, err := catalog.Lookup(kind)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx,
		fmt.Sprintf("UPDATE %s SET status = $1 WHERE entry = $2 AND status = $3", def.Table),
		string(status), entry, string(domain.StatusCurrent),
	)
	if err != nil {
		return fmt.Errorf("failed to mark %s entry %d %s: %w", kind, entry, status, err)
	}
	return nil
}

func (s *Store) ListCurrent(ctx context.Context, kind domain.Kind, refFilters map[string]int64) ([]domain.Record, error) {
	def, err := catalog.Lookup(kind)
	if err != nil {
		return nil, err
	}
	clauses := []string{"status = $1"}
	args := []any{string(domain.StatusCurrent)}
	for _, name := range sortedFilterKeys(refFilters) {
		f, ok := def.Field(name)
		if !ok {
			return nil, &domain.ValidationError{Field: name, Reason: fmt.Sprintf("unknown filter field for kind %s", kind)}
		}
		args = append(args, refFilters[name])
		clauses = append(clauses, fmt.Sprintf("%s = $%d", f.Column(), len(args)))
	}
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s ORDER BY entry",
		selectColumns(def, ""), def.Table, strings.Join(clauses, " AND "),
	)
	return s.queryMany(ctx, def, query, args...)
}

// LockWindow takes a transaction-scoped advisory lock keyed on the kind and
// the overlap scope values, fully serializing competing window writers
// (including phantom inserts, which a plain row lock would miss).
func (s *Store) LockWindow(ctx context.Context, kind domain.Kind, keys map[string]int64) error {
	h := fnv.New64a()
	h.Write([]byte(kind))
	for _, name := range sortedFilterKeys(keys) {
		fmt.Fprintf(h, "|%s=%d", name, keys[name])
	}
	if _, err := s.db.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", int64(h.Sum64())); err != nil {
		return fmt.Errorf("failed to lock %s window: %w", kind, err)
	}
	return nil
}

// --- row mapping ---

func selectColumns(def catalog.Definition, alias string) string {
	prefix := ""
	if alias != "" {
		prefix = alias + "."
	}
	cols := []string{
		prefix + "version", prefix + "entry", prefix + "status",
		prefix + "created_at", prefix + "created_by",
	}
	for _, f := range def.Fields {
		cols = append(cols, prefix+f.Column())
	}
	return strings.Join(cols, ", ")
}

// recordScanner holds scan destinations for one versioned row.
type recordScanner struct {
	def       catalog.Definition
	version   int64
	entry     pgtype.Int8
	status    string
	createdAt time.Time
	createdBy int64
	texts     map[string]*pgtype.Text
	refs      map[string]*pgtype.Int8
	dates     map[string]*pgtype.Date
}

func newRecordScanner(def catalog.Definition) *recordScanner {
	sc := &recordScanner{
		def:   def,
		texts: make(map[string]*pgtype.Text),
		refs:  make(map[string]*pgtype.Int8),
		dates: make(map[string]*pgtype.Date),
	}
	for _, f := range def.Fields {
		switch f.Type {
		case catalog.FieldTypeRef:
			sc.refs[f.Name] = &pgtype.Int8{}
		case catalog.FieldTypeDate:
			sc.dates[f.Name] = &pgtype.Date{}
		default:
			sc.texts[f.Name] = &pgtype.Text{}
		}
	}
	return sc
}

func (sc *recordScanner) dests() []any {
	out := []any{&sc.version, &sc.entry, &sc.status, &sc.createdAt, &sc.createdBy}
	for _, f := range sc.def.Fields {
		switch f.Type {
		case catalog.FieldTypeRef:
			out = append(out, sc.refs[f.Name])
		case catalog.FieldTypeDate:
			out = append(out, sc.dates[f.Name])
		default:
			out = append(out, sc.texts[f.Name])
		}
	}
	return out
}

func (sc *recordScanner) record(kind domain.Kind) domain.Record {
	fields := make(map[string]any, len(sc.def.Fields))
	for _, f := range sc.def.Fields {
		switch f.Type {
		case catalog.FieldTypeRef:
			if v := sc.refs[f.Name]; v.Valid {
				fields[f.Name] = v.Int64
			}
		case catalog.FieldTypeDate:
			if v := sc.dates[f.Name]; v.Valid {
				d := domain.NewDate(v.Time.Year(), v.Time.Month(), v.Time.Day())
				if f.Name == domain.FieldEndDate {
					fields[f.Name] = &d
				} else {
					fields[f.Name] = d
				}
			} else if f.Name == domain.FieldEndDate {
				fields[f.Name] = (*domain.Date)(nil)
			}
		default:
			if v := sc.texts[f.Name]; v.Valid {
				fields[f.Name] = v.String
			}
		}
	}
	entry := sc.version
	if sc.entry.Valid {
		entry = sc.entry.Int64
	}
	return domain.Record{
		Kind:      kind,
		Version:   sc.version,
		Entry:     entry,
		Status:    domain.Status(sc.status),
		CreatedAt: sc.createdAt,
		CreatedBy: sc.createdBy,
		Fields:    fields,
	}
}

func (s *Store) queryOne(ctx context.Context, def catalog.Definition, query string, args ...any) (domain.Record, error) {
	sc := newRecordScanner(def)
	if err := s.db.QueryRow(ctx, query, args...).Scan(sc.dests()...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Record{}, domain.ErrNotFound
		}
		return domain.Record{}, fmt.Errorf("failed to fetch %s row: %w", def.Kind, err)
	}
	return sc.record(def.Kind), nil
}

func (s *Store) queryMany(ctx context.Context, def catalog.Definition, query string, args ...any) ([]domain.Record, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s rows: %w", def.Kind, err)
	}
	defer rows.Close()

	var out []domain.Record
	for rows.Next() {
		sc := newRecordScanner(def)
		if err := rows.Scan(sc.dests()...); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", def.Kind, err)
		}
		out = append(out, sc.record(def.Kind))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s rows: %w", def.Kind, err)
	}
	return out, nil
}

func sqlValue(value any) any {
	switch typed := value.(type) {
	case domain.Date:
		if typed.IsZero() {
			return nil
		}
		return typed.Time()
	case *domain.Date:
		if typed == nil {
			return nil
		}
		return typed.Time()
	default:
		return value
	}
}

func sortedFilterKeys(filters map[string]int64) []string {
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
