package ingestion

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"orgledger/internal/audit"
	"orgledger/internal/domain"
	"orgledger/internal/logger"
	"orgledger/internal/store/memory"
	"orgledger/internal/versioning"
)

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	st := memory.NewStore()
	engine := versioning.NewEngine(st, audit.NewRecorder(memory.NewAuditLog(), logger.Nop()), nil, logger.Nop())
	return NewService(engine, st, logger.Nop()), st
}

const rosterCSV = `user_id,user_name,activity_type,activity,task,role,start_date,end_date
1,Ada,music,Choir,,responsible,2025-01-01,
2,Brahms,music,Choir,Rehearsal,assignee,2025-01-01,2025-06-30
3,Clara,music,Choir,Rehearsal,assignee,2025-01-01,
`

func TestImport_BuildsHierarchyFromRoster(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	summary, err := svc.Import(ctx, Request{
		FileName: "roster.csv",
		Data:     strings.NewReader(rosterCSV),
		Actor:    domain.SystemActor(),
	})
	require.NoError(t, err)
	require.Equal(t, 3, summary.TotalRows)
	require.Equal(t, 3, summary.Imported)
	require.Zero(t, summary.Failed)

	users, err := st.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 3)
	require.Equal(t, "Ada", users[0].DisplayName)

	at, err := st.ActivityTypeByName(ctx, "music")
	require.NoError(t, err)

	activities, err := st.ListCurrent(ctx, domain.KindActivity, nil)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	require.Equal(t, "Choir", activities[0].StringField(domain.FieldName))
	require.Equal(t, at.ID, activities[0].RefField(domain.FieldActivityType))

	tasks, err := st.ListCurrent(ctx, domain.KindTask, map[string]int64{domain.FieldActivity: activities[0].Entry})
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	assignments, err := st.ListCurrent(ctx, domain.KindAssignedTo, map[string]int64{domain.FieldTask: tasks[0].Entry})
	require.NoError(t, err)
	require.Len(t, assignments, 2)
	assigned := domain.AssignedToFromRecord(assignments[0])
	require.Equal(t, int64(2), assigned.User)
	require.Equal(t, tasks[0].Entry, assigned.Task)
	require.NotNil(t, assigned.EndDate)

	responsibles, err := st.ListCurrent(ctx, domain.KindResponsibleFor, map[string]int64{domain.FieldActivity: activities[0].Entry})
	require.NoError(t, err)
	require.Len(t, responsibles, 1)
	require.Equal(t, int64(1), responsibles[0].RefField(domain.FieldUser))
}

func TestImport_CollectsRowErrorsAndContinues(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	roster := `user_id,user_name,activity_type,activity,task,role,start_date,end_date
1,Ada,music,Choir,,responsible,2025-01-01,
abc,Bad,music,Choir,,responsible,2025-01-01,
2,Brahms,music,Choir,,conductor,2025-01-01,
3,Clara,music,Choir,,assignee,2025-01-01,
4,Dora,music,Choir,,responsible,not-a-date,
5,Emil,music,Choir,,responsible,2025-02-01,
`

	summary, err := svc.Import(ctx, Request{
		FileName: "roster.csv",
		Data:     strings.NewReader(roster),
		Actor:    domain.SystemActor(),
	})
	require.NoError(t, err)
	require.Equal(t, 6, summary.TotalRows)
	require.Equal(t, 2, summary.Imported)
	require.Equal(t, 4, summary.Failed)
	require.Len(t, summary.Errors, 4)

	// Row numbers refer to the file, not the data slice.
	require.Equal(t, 3, summary.Errors[0].Row)
	require.Contains(t, summary.Errors[0].Reason, "user_id")
	require.Contains(t, summary.Errors[1].Reason, "role")
	require.Contains(t, summary.Errors[2].Reason, "task")

	responsibles, err := st.ListCurrent(ctx, domain.KindResponsibleFor, nil)
	require.NoError(t, err)
	require.Len(t, responsibles, 2)
}

func TestImport_OverlapConflictIsRowError(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	roster := `user_id,user_name,activity_type,activity,task,role,start_date,end_date
1,Ada,music,Choir,,responsible,2025-01-01,
1,Ada,music,Choir,,responsible,2025-03-01,
`
	summary, err := svc.Import(ctx, Request{
		FileName: "roster.csv",
		Data:     strings.NewReader(roster),
		Actor:    domain.SystemActor(),
	})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Imported)
	require.Equal(t, 1, summary.Failed)
}

func TestImport_BlankUserNameKeepsExistingDisplayName(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	require.NoError(t, st.EnsureUser(ctx, domain.User{ID: 1, DisplayName: "Ada"}))

	roster := `user_id,user_name,activity_type,activity,task,role,start_date,end_date
1,,music,Choir,,responsible,2025-01-01,
9,,music,Choir,,responsible,2025-01-01,
`
	summary, err := svc.Import(ctx, Request{
		FileName: "roster.csv",
		Data:     strings.NewReader(roster),
		Actor:    domain.SystemActor(),
	})
	require.NoError(t, err)
	require.Equal(t, 2, summary.Imported)
	require.Zero(t, summary.Failed)

	known, err := st.GetUser(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "Ada", known.DisplayName)

	fresh, err := st.GetUser(ctx, 9)
	require.NoError(t, err)
	require.Equal(t, "user 9", fresh.DisplayName)
}

func TestImport_RejectsUnknownFormatAndMissingColumns(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Import(ctx, Request{
		FileName: "roster.pdf",
		Data:     strings.NewReader("x"),
		Actor:    domain.SystemActor(),
	})
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = svc.Import(ctx, Request{
		FileName: "roster.csv",
		Data:     strings.NewReader("user_id,activity\n1,Choir\n"),
		Actor:    domain.SystemActor(),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing column")
}

func TestImport_SkipsBOMAndBlankLines(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	roster := "\xEF\xBB\xBF" + `user_id,user_name,activity_type,activity,task,role,start_date,end_date

1,Ada,music,Choir,,responsible,2025-01-01,
`
	summary, err := svc.Import(ctx, Request{
		FileName: "roster.csv",
		Data:     strings.NewReader(roster),
		Actor:    domain.SystemActor(),
	})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Imported)
	require.Zero(t, summary.Failed)
}
