package memory

import (
	"context"
	"errors"
	"testing"

	"orgledger/internal/domain"
	"orgledger/internal/store"
)

func seedActivity(t *testing.T, s *Store) int64 {
	t.Helper()
	version, err := s.CreateVersion(context.Background(), domain.KindActivity, 0, map[string]any{
		domain.FieldName:         "Choir",
		domain.FieldActivityType: int64(1),
		domain.FieldStartDate:    domain.MustDate("2025-01-01"),
	})
	if err != nil {
		t.Fatalf("failed to seed activity: %v", err)
	}
	return version
}

func TestCreateVersion_EntryEqualsVersion(t *testing.T) {
	s := NewStore()
	version := seedActivity(t, s)

	rec, err := s.ReadVersion(context.Background(), domain.KindActivity, version)
	if err != nil {
		t.Fatalf("ReadVersion failed: %v", err)
	}
	if rec.Entry != version {
		t.Fatalf("entry should equal first version, got %d", rec.Entry)
	}
	if rec.Status != domain.StatusCurrent {
		t.Fatalf("expected current status, got %s", rec.Status)
	}
}

func TestCreateVersion_RejectsSystemFields(t *testing.T) {
	s := NewStore()
	_, err := s.CreateVersion(context.Background(), domain.KindActivity, 0, map[string]any{
		"status": "deleted",
	})
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateSuccessor_PreservesEntry(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	entry := seedActivity(t, s)

	if err := s.DeprecateVersion(ctx, domain.KindActivity, entry); err != nil {
		t.Fatalf("DeprecateVersion failed: %v", err)
	}
	v2, err := s.CreateSuccessor(ctx, domain.KindActivity, entry, 0, map[string]any{
		domain.FieldName:         "Chamber Choir",
		domain.FieldActivityType: int64(1),
		domain.FieldStartDate:    domain.MustDate("2025-01-01"),
	})
	if err != nil {
		t.Fatalf("CreateSuccessor failed: %v", err)
	}
	if v2 <= entry {
		t.Fatalf("successor version must be larger, got %d", v2)
	}

	cur, err := s.CurrentVersion(ctx, domain.KindActivity, entry)
	if err != nil {
		t.Fatalf("CurrentVersion failed: %v", err)
	}
	if cur.Version != v2 || cur.Entry != entry {
		t.Fatalf("expected current version %d of entry %d, got %d/%d", v2, entry, cur.Version, cur.Entry)
	}
}

func TestRunInTx_RollbackDiscardsStagedWrites(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	entry := seedActivity(t, s)

	boom := errors.New("boom")
	err := s.RunInTx(ctx, func(tx store.TemporalStore) error {
		if err := tx.DeprecateVersion(ctx, domain.KindActivity, entry); err != nil {
			return err
		}
		if _, err := tx.CreateVersion(ctx, domain.KindActivity, 0, map[string]any{
			domain.FieldName:         "Orchestra",
			domain.FieldActivityType: int64(1),
			domain.FieldStartDate:    domain.MustDate("2025-01-01"),
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the tx error back, got %v", err)
	}

	cur, err := s.CurrentVersion(ctx, domain.KindActivity, entry)
	if err != nil {
		t.Fatalf("original record must survive rollback: %v", err)
	}
	if cur.Status != domain.StatusCurrent {
		t.Fatalf("rollback must undo the deprecation")
	}
	if recs, _ := s.ListCurrent(ctx, domain.KindActivity, nil); len(recs) != 1 {
		t.Fatalf("staged create must be discarded, have %d current records", len(recs))
	}
}

func TestUpdateVersion_IgnoresSystemFieldsAndEmptyPatch(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	entry := seedActivity(t, s)

	ok, err := s.UpdateVersion(ctx, domain.KindActivity, entry, map[string]any{"status": "deleted"})
	if err != nil {
		t.Fatalf("UpdateVersion failed: %v", err)
	}
	if ok {
		t.Fatalf("system-only patch must be a no-op")
	}

	rec, _ := s.ReadVersion(ctx, domain.KindActivity, entry)
	if rec.Status != domain.StatusCurrent {
		t.Fatalf("status must be unchanged")
	}
}

func TestDeleteEntry_RemovesWholeChain(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	entry := seedActivity(t, s)

	_ = s.DeprecateVersion(ctx, domain.KindActivity, entry)
	if _, err := s.CreateSuccessor(ctx, domain.KindActivity, entry, 0, map[string]any{
		domain.FieldName:         "Chamber Choir",
		domain.FieldActivityType: int64(1),
		domain.FieldStartDate:    domain.MustDate("2025-01-01"),
	}); err != nil {
		t.Fatalf("CreateSuccessor failed: %v", err)
	}

	removed, err := s.DeleteEntry(ctx, domain.KindActivity, entry)
	if err != nil || !removed {
		t.Fatalf("DeleteEntry failed: removed=%v err=%v", removed, err)
	}
	if recs, _ := s.EntryVersions(ctx, domain.KindActivity, entry); len(recs) != 0 {
		t.Fatalf("expected no versions left, got %d", len(recs))
	}
}

func TestListCurrent_ReferenceFilter(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	mk := func(activity int64) {
		if _, err := s.CreateVersion(ctx, domain.KindTask, 0, map[string]any{
			domain.FieldName:      "Task",
			domain.FieldActivity:  activity,
			domain.FieldStartDate: domain.MustDate("2025-01-01"),
		}); err != nil {
			t.Fatalf("failed to create task: %v", err)
		}
	}
	mk(10)
	mk(10)
	mk(20)

	recs, err := s.ListCurrent(ctx, domain.KindTask, map[string]int64{domain.FieldActivity: 10})
	if err != nil {
		t.Fatalf("ListCurrent failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 tasks for activity 10, got %d", len(recs))
	}
}
