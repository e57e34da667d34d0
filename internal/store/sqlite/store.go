// Package sqlite persists the in-memory store to a single SQLite file as
// JSON snapshots, one bucket per concern, written after every successful
// mutation. Suited to embedded deployments and integration tests that need
// durability without a Postgres server.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"orgledger/internal/domain"
	"orgledger/internal/store"
	"orgledger/internal/store/memory"
)

// Store is the snapshotting SQLite-backed persistent store.
type Store struct {
	*memory.Store
	db *sql.DB
	mu sync.Mutex
}

var _ store.Store = (*Store)(nil)

// NewStore opens (or creates) the database file and restores any previous
// snapshot into the in-memory state.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "orgledger.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create state table: %w", err)
	}
	s := &Store{Store: memory.NewStore(), db: db}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

const stateBucket = "ledger"

func (s *Store) load() error {
	var payload []byte
	err := s.db.QueryRow(`SELECT payload FROM state WHERE bucket = ?`, stateBucket).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	var snap memory.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}
	return s.ImportState(snap)
}

func (s *Store) persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(s.ExportState())
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin snapshot: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO state (bucket, payload) VALUES (?, ?)
		 ON CONFLICT(bucket) DO UPDATE SET payload = excluded.payload`,
		stateBucket, payload,
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// Mutating operations delegate to the in-memory store, then snapshot.

func (s *Store) CreateVersion(ctx context.Context, kind domain.Kind, createdBy int64, fields map[string]any) (int64, error) {
	version, err := s.Store.CreateVersion(ctx, kind, createdBy, fields)
	if err != nil {
		return 0, err
	}
	return version, s.persist()
}

func (s *Store) CreateSuccessor(ctx context.Context, kind domain.Kind, entry, createdBy int64, fields map[string]any) (int64, error) {
	version, err := s.Store.CreateSuccessor(ctx, kind, entry, createdBy, fields)
	if err != nil {
		return 0, err
	}
	return version, s.persist()
}

func (s *Store) UpdateVersion(ctx context.Context, kind domain.Kind, version int64, fields map[string]any) (bool, error) {
	ok, err := s.Store.UpdateVersion(ctx, kind, version, fields)
	if err != nil || !ok {
		return ok, err
	}
	return ok, s.persist()
}

func (s *Store) DeleteVersion(ctx context.Context, kind domain.Kind, version int64) (bool, error) {
	ok, err := s.Store.DeleteVersion(ctx, kind, version)
	if err != nil || !ok {
		return ok, err
	}
	return ok, s.persist()
}

func (s *Store) DeleteEntry(ctx context.Context, kind domain.Kind, entry int64) (bool, error) {
	ok, err := s.Store.DeleteEntry(ctx, kind, entry)
	if err != nil || !ok {
		return ok, err
	}
	return ok, s.persist()
}

func (s *Store) DeprecateVersion(ctx context.Context, kind domain.Kind, entry int64) error {
	if err := s.Store.DeprecateVersion(ctx, kind, entry); err != nil {
		return err
	}
	return s.persist()
}

func (s *Store) MarkDeleted(ctx context.Context, kind domain.Kind, entry int64) error {
	if err := s.Store.MarkDeleted(ctx, kind, entry); err != nil {
		return err
	}
	return s.persist()
}

func (s *Store) RunInTx(ctx context.Context, fn func(tx store.TemporalStore) error) error {
	if err := s.Store.RunInTx(ctx, fn); err != nil {
		return err
	}
	return s.persist()
}

func (s *Store) EnsureUser(ctx context.Context, user domain.User) error {
	if err := s.Store.EnsureUser(ctx, user); err != nil {
		return err
	}
	return s.persist()
}

func (s *Store) EnsureActivityType(ctx context.Context, at domain.ActivityType) error {
	if err := s.Store.EnsureActivityType(ctx, at); err != nil {
		return err
	}
	return s.persist()
}
