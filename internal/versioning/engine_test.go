package versioning

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"orgledger/internal/audit"
	"orgledger/internal/domain"
	"orgledger/internal/logger"
	"orgledger/internal/store/memory"
)

type fixture struct {
	engine *Engine
	store  *memory.Store
	audit  *memory.AuditLog
	actor  domain.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	st := memory.NewStore()
	auditLog := memory.NewAuditLog()
	engine := NewEngine(st, audit.NewRecorder(auditLog, logger.Nop()), nil, logger.Nop())

	if err := st.EnsureUser(ctx, domain.User{ID: 7, DisplayName: "Ada"}); err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	if err := st.EnsureUser(ctx, domain.User{ID: 8, DisplayName: "Brahms"}); err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	if err := st.EnsureActivityType(ctx, domain.ActivityType{ID: 1, Name: "music"}); err != nil {
		t.Fatalf("failed to seed activity type: %v", err)
	}

	return &fixture{
		engine: engine,
		store:  st,
		audit:  auditLog,
		actor:  domain.Actor{UserID: 7, SessionID: uuid.New()},
	}
}

func (f *fixture) createActivity(t *testing.T, name string) int64 {
	t.Helper()
	entry, err := f.engine.Create(context.Background(), f.actor, domain.KindActivity, map[string]any{
		domain.FieldName:         name,
		domain.FieldActivityType: int64(1),
		domain.FieldStartDate:    domain.MustDate("2025-01-01"),
	})
	if err != nil {
		t.Fatalf("failed to create activity: %v", err)
	}
	return entry
}

func TestCreate_FirstVersionIsItsOwnEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry := f.createActivity(t, "Choir")

	rec, err := f.engine.GetCurrent(ctx, domain.KindActivity, entry)
	if err != nil {
		t.Fatalf("GetCurrent failed: %v", err)
	}
	if rec.Entry != rec.Version {
		t.Fatalf("first version must be its own entry, got entry=%d version=%d", rec.Entry, rec.Version)
	}
	if rec.Status != domain.StatusCurrent {
		t.Fatalf("new record must be current, got %s", rec.Status)
	}
	if rec.CreatedBy != f.actor.UserID {
		t.Fatalf("created_by not recorded, got %d", rec.CreatedBy)
	}
}

func TestCreate_RejectsUnknownReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Create(ctx, f.actor, domain.KindActivity, map[string]any{
		domain.FieldName:         "Choir",
		domain.FieldActivityType: int64(99),
		domain.FieldStartDate:    domain.MustDate("2025-01-01"),
	})
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error for unknown activity type, got %v", err)
	}
	if f.audit.Len() != 0 {
		t.Fatalf("failed create must not leave audit records")
	}
}

func TestUpdate_GrowsChainAndKeepsOneCurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry := f.createActivity(t, "Choir")

	v2, err := f.engine.Update(ctx, f.actor, domain.KindActivity, entry, map[string]any{
		domain.FieldName: "Chamber Choir",
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if v2 == entry {
		t.Fatalf("successor must get a fresh version number")
	}

	cur, err := f.engine.GetCurrent(ctx, domain.KindActivity, entry)
	if err != nil {
		t.Fatalf("GetCurrent failed: %v", err)
	}
	if cur.Version != v2 || cur.Entry != entry {
		t.Fatalf("current should be version %d of entry %d, got version %d entry %d", v2, entry, cur.Version, cur.Entry)
	}
	if cur.StringField(domain.FieldName) != "Chamber Choir" {
		t.Fatalf("patch not applied, name=%q", cur.StringField(domain.FieldName))
	}
	// Untouched fields carry over.
	if cur.RefField(domain.FieldActivityType) != 1 {
		t.Fatalf("unpatched field lost, activity_type=%d", cur.RefField(domain.FieldActivityType))
	}

	history, err := f.engine.GetHistory(ctx, domain.KindActivity, entry)
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(history))
	}
	currentCount := 0
	for _, rec := range history {
		if rec.Status == domain.StatusCurrent {
			currentCount++
		}
	}
	if currentCount != 1 {
		t.Fatalf("exactly one version may be current, found %d", currentCount)
	}
	if history[0].Version < history[1].Version {
		t.Fatalf("history must be newest first")
	}
}

func TestUpdate_UnknownEntry(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Update(context.Background(), f.actor, domain.KindActivity, 404, map[string]any{
		domain.FieldName: "Ghost",
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdate_FailedValidationLeavesChainUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry := f.createActivity(t, "Choir")
	auditBefore := f.audit.Len()

	_, err := f.engine.Update(ctx, f.actor, domain.KindActivity, entry, map[string]any{
		domain.FieldEndDate: domain.MustDate("2024-01-01"), // before start
	})
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}

	history, err := f.engine.GetHistory(ctx, domain.KindActivity, entry)
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("failed update must not grow the chain, got %d versions", len(history))
	}
	if history[0].Status != domain.StatusCurrent {
		t.Fatalf("failed update must not deprecate the current version")
	}
	if f.audit.Len() != auditBefore {
		t.Fatalf("failed update must not leave audit records")
	}
}

func TestSoftDelete_KeepsHistoryHidesCurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry := f.createActivity(t, "Choir")
	if err := f.engine.SoftDelete(ctx, f.actor, domain.KindActivity, entry); err != nil {
		t.Fatalf("soft delete failed: %v", err)
	}

	if _, err := f.engine.GetCurrent(ctx, domain.KindActivity, entry); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("soft-deleted entry must have no current version, got %v", err)
	}

	history, err := f.engine.GetHistory(ctx, domain.KindActivity, entry)
	if err != nil {
		t.Fatalf("history must survive soft delete: %v", err)
	}
	if history[0].Status != domain.StatusDeleted {
		t.Fatalf("latest version should be marked deleted, got %s", history[0].Status)
	}

	if err := f.engine.SoftDelete(ctx, f.actor, domain.KindActivity, entry); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second soft delete should report not found, got %v", err)
	}
}

func TestHardDelete_PurgesEveryVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry := f.createActivity(t, "Choir")
	if _, err := f.engine.Update(ctx, f.actor, domain.KindActivity, entry, map[string]any{
		domain.FieldName: "Chamber Choir",
	}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	if err := f.engine.HardDelete(ctx, f.actor, domain.KindActivity, entry); err != nil {
		t.Fatalf("hard delete failed: %v", err)
	}
	if _, err := f.engine.GetHistory(ctx, domain.KindActivity, entry); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("hard delete must purge history, got %v", err)
	}
}

func TestAmend_InPlaceForAssignmentKinds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	activity := f.createActivity(t, "Choir")
	entry, err := f.engine.Create(ctx, f.actor, domain.KindResponsibleFor, map[string]any{
		domain.FieldUser:      int64(7),
		domain.FieldActivity:  activity,
		domain.FieldStartDate: domain.MustDate("2025-01-01"),
	})
	if err != nil {
		t.Fatalf("failed to create assignment: %v", err)
	}

	end := domain.MustDate("2025-06-30")
	if err := f.engine.Amend(ctx, f.actor, domain.KindResponsibleFor, entry, map[string]any{
		domain.FieldEndDate: end,
	}); err != nil {
		t.Fatalf("amend failed: %v", err)
	}

	history, err := f.engine.GetHistory(ctx, domain.KindResponsibleFor, entry)
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("amend must not grow the chain, got %d versions", len(history))
	}
	rf := domain.ResponsibleForFromRecord(history[0])
	if rf.EndDate == nil || !rf.EndDate.Equal(end) {
		t.Fatalf("amend not applied, end_date=%v", rf.EndDate)
	}
	if rf.User != 7 || rf.Activity != activity {
		t.Fatalf("amend must leave the pair untouched, got user=%d activity=%d", rf.User, rf.Activity)
	}
}

func TestAmend_RejectedForCatalogKinds(t *testing.T) {
	f := newFixture(t)
	entry := f.createActivity(t, "Choir")

	err := f.engine.Amend(context.Background(), f.actor, domain.KindActivity, entry, map[string]any{
		domain.FieldName: "Renamed",
	})
	if !domain.IsValidation(err) {
		t.Fatalf("activities must reject in-place amendment, got %v", err)
	}
}

func TestOverlap_SamePairSameWindowConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	activity := f.createActivity(t, "Choir")
	mk := func(user int64, start, end string) error {
		fields := map[string]any{
			domain.FieldUser:      user,
			domain.FieldActivity:  activity,
			domain.FieldStartDate: domain.MustDate(start),
		}
		if end != "" {
			fields[domain.FieldEndDate] = domain.MustDate(end)
		}
		_, err := f.engine.Create(ctx, f.actor, domain.KindResponsibleFor, fields)
		return err
	}

	if err := mk(7, "2025-01-01", "2025-06-30"); err != nil {
		t.Fatalf("first assignment failed: %v", err)
	}
	// Overlapping window for the same user+activity pair.
	if err := mk(7, "2025-06-30", ""); !domain.IsConflict(err) {
		t.Fatalf("expected conflict for overlapping window, got %v", err)
	}
	// Disjoint window for the same pair is fine.
	if err := mk(7, "2025-07-01", ""); err != nil {
		t.Fatalf("disjoint window rejected: %v", err)
	}
	// Same window, different user: no conflict.
	if err := mk(8, "2025-01-01", "2025-06-30"); err != nil {
		t.Fatalf("different user rejected: %v", err)
	}
}

func TestDiff_RendersFieldChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry := f.createActivity(t, "Choir")
	v2, err := f.engine.Update(ctx, f.actor, domain.KindActivity, entry, map[string]any{
		domain.FieldName: "Chamber Choir",
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}

	diff, err := f.engine.Diff(ctx, domain.KindActivity, entry, entry, v2)
	if err != nil {
		t.Fatalf("diff failed: %v", err)
	}
	if diff == "" {
		t.Fatalf("expected non-empty diff")
	}

	if _, err := f.engine.Diff(ctx, domain.KindActivity, entry+1000, entry, v2); !domain.IsValidation(err) {
		t.Fatalf("expected validation error for mismatched entry, got %v", err)
	}
}

func TestAudit_RecordsPerMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entry := f.createActivity(t, "Choir")
	if _, err := f.engine.Update(ctx, f.actor, domain.KindActivity, entry, map[string]any{
		domain.FieldName: "Chamber Choir",
	}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if err := f.engine.SoftDelete(ctx, f.actor, domain.KindActivity, entry); err != nil {
		t.Fatalf("soft delete failed: %v", err)
	}

	records, err := f.audit.List(ctx, domain.KindActivity, entry, 10, 0)
	if err != nil {
		t.Fatalf("audit list failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 audit records, got %d", len(records))
	}
	// Newest first.
	if records[0].Action != domain.ActionSoftDelete {
		t.Fatalf("expected soft_delete first, got %s", records[0].Action)
	}
	if records[0].ActorID != f.actor.UserID || records[0].SessionID != f.actor.SessionID {
		t.Fatalf("audit record missing actor attribution: %+v", records[0])
	}
	if records[1].OldValues == nil || records[1].NewValues == nil {
		t.Fatalf("update audit must carry old and new values")
	}
}

// failingAuditLog rejects every append.
type failingAuditLog struct{}

func (failingAuditLog) Append(context.Context, domain.AuditRecord) error {
	return errors.New("audit backend down")
}

func (failingAuditLog) List(context.Context, domain.Kind, int64, int, int) ([]domain.AuditRecord, error) {
	return nil, errors.New("audit backend down")
}

func TestAudit_FailureDoesNotFailMutation(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	if err := st.EnsureActivityType(ctx, domain.ActivityType{ID: 1, Name: "music"}); err != nil {
		t.Fatalf("failed to seed activity type: %v", err)
	}
	engine := NewEngine(st, audit.NewRecorder(failingAuditLog{}, logger.Nop()), nil, logger.Nop())

	entry, err := engine.Create(ctx, domain.SystemActor(), domain.KindActivity, map[string]any{
		domain.FieldName:         "Choir",
		domain.FieldActivityType: int64(1),
		domain.FieldStartDate:    domain.MustDate("2025-01-01"),
	})
	if err != nil {
		t.Fatalf("mutation must survive audit failure: %v", err)
	}
	if _, err := engine.GetCurrent(ctx, domain.KindActivity, entry); err != nil {
		t.Fatalf("created entry must be readable: %v", err)
	}
}
