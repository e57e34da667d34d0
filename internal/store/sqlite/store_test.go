package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"orgledger/internal/domain"
)

func TestReopen_RestoresState(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	if err := s.EnsureUser(ctx, domain.User{ID: 7, DisplayName: "Ada"}); err != nil {
		t.Fatalf("EnsureUser failed: %v", err)
	}
	if err := s.EnsureActivityType(ctx, domain.ActivityType{ID: 1, Name: "music"}); err != nil {
		t.Fatalf("EnsureActivityType failed: %v", err)
	}

	end := domain.MustDate("2025-12-31")
	entry, err := s.CreateVersion(ctx, domain.KindActivity, 7, map[string]any{
		domain.FieldName:         "Choir",
		domain.FieldActivityType: int64(1),
		domain.FieldStartDate:    domain.MustDate("2025-01-01"),
		domain.FieldEndDate:      &end,
	})
	if err != nil {
		t.Fatalf("CreateVersion failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened, err := NewStore(path)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()

	rec, err := reopened.CurrentVersion(ctx, domain.KindActivity, entry)
	if err != nil {
		t.Fatalf("record lost across reopen: %v", err)
	}
	if rec.StringField(domain.FieldName) != "Choir" {
		t.Fatalf("name lost across reopen: %q", rec.StringField(domain.FieldName))
	}
	// Typed values must round-trip through the JSON snapshot.
	if rec.RefField(domain.FieldActivityType) != 1 {
		t.Fatalf("reference collapsed to %v", rec.Fields[domain.FieldActivityType])
	}
	if !rec.StartDate().Equal(domain.MustDate("2025-01-01")) {
		t.Fatalf("start date lost: %v", rec.StartDate())
	}
	if got := rec.EndDate(); got == nil || !got.Equal(end) {
		t.Fatalf("end date lost: %v", got)
	}

	user, err := reopened.GetUser(ctx, 7)
	if err != nil || user.DisplayName != "Ada" {
		t.Fatalf("user lost across reopen: %+v err=%v", user, err)
	}
	at, err := reopened.GetActivityType(ctx, 1)
	if err != nil || at.Name != "music" {
		t.Fatalf("activity type lost across reopen: %+v err=%v", at, err)
	}
}

func TestReopen_VersionCounterContinues(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := s.EnsureActivityType(ctx, domain.ActivityType{ID: 1, Name: "music"}); err != nil {
		t.Fatalf("EnsureActivityType failed: %v", err)
	}
	first, err := s.CreateVersion(ctx, domain.KindActivity, 0, map[string]any{
		domain.FieldName:         "Choir",
		domain.FieldActivityType: int64(1),
		domain.FieldStartDate:    domain.MustDate("2025-01-01"),
	})
	if err != nil {
		t.Fatalf("CreateVersion failed: %v", err)
	}
	_ = s.Close()

	reopened, err := NewStore(path)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()

	second, err := reopened.CreateVersion(ctx, domain.KindActivity, 0, map[string]any{
		domain.FieldName:         "Band",
		domain.FieldActivityType: int64(1),
		domain.FieldStartDate:    domain.MustDate("2025-01-01"),
	})
	if err != nil {
		t.Fatalf("CreateVersion after reopen failed: %v", err)
	}
	if second <= first {
		t.Fatalf("version counter must continue after reopen, got %d then %d", first, second)
	}
}
