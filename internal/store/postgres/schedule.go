package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"

	"orgledger/internal/catalog"
	"orgledger/internal/domain"
	"orgledger/internal/store"
)

// activeClause renders the point-in-time activation predicate for one table
// alias. dateArg is the placeholder index of the target date.
func activeClause(alias string, dateArg int) string {
	return fmt.Sprintf(
		"%[1]s.status = 'current' AND %[1]s.start_date <= $%[2]d AND (%[1]s.end_date IS NULL OR %[1]s.end_date >= $%[2]d)",
		alias, dateArg,
	)
}

// ScheduleRows issues the one wide join the query engine folds: activities
// active on day, left-joined to active responsibles, tasks and assignees.
// LEFT JOINs keep childless activities in the result.
func (s *Store) ScheduleRows(ctx context.Context, day domain.Date, typeName string) ([]store.ScheduleRow, error) {
	activityDef, _ := catalog.Lookup(domain.KindActivity)
	taskDef, _ := catalog.Lookup(domain.KindTask)

	args := []any{day.Time()}
	where := fmt.Sprintf("WHERE %s", activeClause("a", 1))
	if typeName != "" {
		args = append(args, typeName)
		where += fmt.Sprintf(" AND at.name = $%d", len(args))
	}

	query := fmt.Sprintf(`SELECT %s, at.name,
		ru.id, ru.display_name,
		%s,
		au.id, au.display_name
	FROM activities a
	JOIN activity_types at ON at.id = a.activity_type_id
	LEFT JOIN responsible_for rf ON rf.activity_id = a.entry AND %s
	LEFT JOIN users ru ON ru.id = rf.user_id
	LEFT JOIN tasks t ON t.activity_id = a.entry AND %s
	LEFT JOIN assigned_to ast ON ast.task_id = t.entry AND %s
	LEFT JOIN users au ON au.id = ast.user_id
	%s
	ORDER BY at.name, a.name, t.entry, au.display_name`,
		selectColumns(activityDef, "a"),
		nullableSelectColumns(taskDef, "t"),
		activeClause("rf", 1),
		activeClause("t", 1),
		activeClause("ast", 1),
		where,
	)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedule rows: %w", err)
	}
	defer rows.Close()

	var out []store.ScheduleRow
	for rows.Next() {
		activityScanner := newRecordScanner(activityDef)
		taskScanner := newNullableRecordScanner(taskDef)
		var (
			typeNameCol  string
			respID       pgtype.Int8
			respName     pgtype.Text
			assigneeID   pgtype.Int8
			assigneeName pgtype.Text
		)

		dests := activityScanner.dests()
		dests = append(dests, &typeNameCol, &respID, &respName)
		dests = append(dests, taskScanner.dests()...)
		dests = append(dests, &assigneeID, &assigneeName)

		if err := rows.Scan(dests...); err != nil {
			return nil, fmt.Errorf("failed to scan schedule row: %w", err)
		}

		row := store.ScheduleRow{
			Activity: activityScanner.record(domain.KindActivity),
			TypeName: typeNameCol,
		}
		if respID.Valid {
			row.Responsible = &domain.User{ID: respID.Int64, DisplayName: respName.String}
		}
		if task, ok := taskScanner.record(domain.KindTask); ok {
			row.Task = &task
		}
		if assigneeID.Valid {
			row.Assignee = &domain.User{ID: assigneeID.Int64, DisplayName: assigneeName.String}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate schedule rows: %w", err)
	}
	return out, nil
}

// ActivitiesActiveAt backs the type-filter fix-up pass: every activity of
// the type active on day, regardless of child rows.
func (s *Store) ActivitiesActiveAt(ctx context.Context, day domain.Date, typeName string) ([]domain.Record, error) {
	def, _ := catalog.Lookup(domain.KindActivity)

	args := []any{day.Time()}
	query := fmt.Sprintf(
		"SELECT %s FROM activities a JOIN activity_types at ON at.id = a.activity_type_id WHERE %s",
		selectColumns(def, "a"), activeClause("a", 1),
	)
	if typeName != "" {
		args = append(args, typeName)
		query += fmt.Sprintf(" AND at.name = $%d", len(args))
	}
	query += " ORDER BY a.name"

	return s.queryMany(ctx, def, query, args...)
}

// nullableRecordScanner scans a versioned row from the right side of a LEFT
// JOIN, where every column may be NULL.
type nullableRecordScanner struct {
	inner     *recordScanner
	version   pgtype.Int8
	status    pgtype.Text
	createdAt pgtype.Timestamptz
	createdBy pgtype.Int8
}

func newNullableRecordScanner(def catalog.Definition) *nullableRecordScanner {
	return &nullableRecordScanner{inner: newRecordScanner(def)}
}

func nullableSelectColumns(def catalog.Definition, alias string) string {
	return selectColumns(def, alias)
}

func (sc *nullableRecordScanner) dests() []any {
	out := []any{&sc.version, &sc.inner.entry, &sc.status, &sc.createdAt, &sc.createdBy}
	for _, f := range sc.inner.def.Fields {
		switch f.Type {
		case catalog.FieldTypeRef:
			out = append(out, sc.inner.refs[f.Name])
		case catalog.FieldTypeDate:
			out = append(out, sc.inner.dates[f.Name])
		default:
			out = append(out, sc.inner.texts[f.Name])
		}
	}
	return out
}

// record reports ok=false when the join produced no row.
func (sc *nullableRecordScanner) record(kind domain.Kind) (domain.Record, bool) {
	if !sc.version.Valid {
		return domain.Record{}, false
	}
	sc.inner.version = sc.version.Int64
	sc.inner.status = sc.status.String
	if sc.createdAt.Valid {
		sc.inner.createdAt = sc.createdAt.Time
	}
	if sc.createdBy.Valid {
		sc.inner.createdBy = sc.createdBy.Int64
	}
	return sc.inner.record(kind), true
}
