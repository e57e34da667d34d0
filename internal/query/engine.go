// Package query answers point-in-time reads over the versioned entities,
// including the composite daily schedule that folds the store's flat join
// rows into the activity/task/people hierarchy.
package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"orgledger/internal/catalog"
	"orgledger/internal/domain"
	"orgledger/internal/metrics"
	"orgledger/internal/store"
)

// Engine serves temporal reads. It never mutates.
type Engine struct {
	store   store.Store
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewEngine builds a read engine over the given store. Metrics may be nil.
func NewEngine(st store.Store, m *metrics.Metrics, log zerolog.Logger) *Engine {
	return &Engine{store: st, metrics: m, log: log}
}

// ActiveAt lists the current versions of kind whose validity window covers
// day, ordered by entry id.
func (e *Engine) ActiveAt(ctx context.Context, kind domain.Kind, day domain.Date) ([]domain.Record, error) {
	if _, err := catalog.Lookup(kind); err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.TemporalLookups.Inc()
	}

	records, err := e.store.ListCurrent(ctx, kind, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list current %s: %w", kind, err)
	}
	out := records[:0]
	for _, rec := range records {
		if rec.ActiveAt(day) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Schedule assembles the full picture for one day: every active activity
// with its responsible users, its active tasks, and each task's assignees.
// typeName optionally restricts the result to one activity type; an unknown
// type name yields an empty schedule, not an error.
func (e *Engine) Schedule(ctx context.Context, day domain.Date, typeName string) (domain.Schedule, error) {
	if e.metrics != nil {
		e.metrics.ScheduleQueries.Inc()
	}

	rows, err := e.store.ScheduleRows(ctx, day, typeName)
	if err != nil {
		return domain.Schedule{}, fmt.Errorf("failed to query schedule rows: %w", err)
	}

	entries := foldRows(rows)
	if typeName != "" {
		// Supplementary pass: an activity of the requested type must show
		// up even when the join produced no row for it at all.
		entries, err = e.addMissingActivities(ctx, entries, day, typeName)
		if err != nil {
			return domain.Schedule{}, err
		}
	}
	sortEntries(entries)

	e.log.Debug().
		Str("date", day.String()).
		Str("type", typeName).
		Int("entries", len(entries)).
		Msg("schedule assembled")
	return domain.Schedule{Date: day, Entries: entries}, nil
}

// builder accumulates one activity's slice of the flat join output. Maps
// de-duplicate the fan-out a wide join produces: a row appears once per
// responsible x assignee combination, but each user counts once.
type builder struct {
	activity    domain.Record
	typeName    string
	responsible []domain.User
	seenResp    map[int64]struct{}
	taskOrder   []int64
	tasks       map[int64]*taskBuilder
}

type taskBuilder struct {
	task      domain.Record
	assignees []domain.User
	seen      map[int64]struct{}
}

func foldRows(rows []store.ScheduleRow) []domain.ScheduleEntry {
	order := make([]int64, 0, len(rows))
	byActivity := make(map[int64]*builder)

	for _, row := range rows {
		b, ok := byActivity[row.Activity.Entry]
		if !ok {
			b = &builder{
				activity: row.Activity,
				typeName: row.TypeName,
				seenResp: make(map[int64]struct{}),
				tasks:    make(map[int64]*taskBuilder),
			}
			byActivity[row.Activity.Entry] = b
			order = append(order, row.Activity.Entry)
		}

		if row.Responsible != nil {
			if _, dup := b.seenResp[row.Responsible.ID]; !dup {
				b.seenResp[row.Responsible.ID] = struct{}{}
				b.responsible = append(b.responsible, *row.Responsible)
			}
		}

		if row.Task == nil {
			continue
		}
		tb, ok := b.tasks[row.Task.Entry]
		if !ok {
			tb = &taskBuilder{task: *row.Task, seen: make(map[int64]struct{})}
			b.tasks[row.Task.Entry] = tb
			b.taskOrder = append(b.taskOrder, row.Task.Entry)
		}
		if row.Assignee != nil {
			if _, dup := tb.seen[row.Assignee.ID]; !dup {
				tb.seen[row.Assignee.ID] = struct{}{}
				tb.assignees = append(tb.assignees, *row.Assignee)
			}
		}
	}

	entries := make([]domain.ScheduleEntry, 0, len(order))
	for _, entry := range order {
		b := byActivity[entry]
		tasks := make([]domain.ScheduleTask, 0, len(b.taskOrder))
		for _, taskEntry := range b.taskOrder {
			tb := b.tasks[taskEntry]
			sortUsers(tb.assignees)
			tasks = append(tasks, domain.ScheduleTask{Task: domain.TaskFromRecord(tb.task), Assignees: tb.assignees})
		}
		sortUsers(b.responsible)
		entries = append(entries, domain.ScheduleEntry{
			Activity:    domain.ActivityFromRecord(b.activity),
			TypeName:    b.typeName,
			Responsible: b.responsible,
			Tasks:       tasks,
		})
	}
	return entries
}

func (e *Engine) addMissingActivities(ctx context.Context, entries []domain.ScheduleEntry, day domain.Date, typeName string) ([]domain.ScheduleEntry, error) {
	activities, err := e.store.ActivitiesActiveAt(ctx, day, typeName)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities of type %q: %w", typeName, err)
	}
	present := make(map[int64]struct{}, len(entries))
	for _, entry := range entries {
		present[entry.Activity.Entry] = struct{}{}
	}
	for _, activity := range activities {
		if _, ok := present[activity.Entry]; ok {
			continue
		}
		entries = append(entries, domain.ScheduleEntry{Activity: domain.ActivityFromRecord(activity), TypeName: typeName})
	}
	return entries, nil
}

func sortEntries(entries []domain.ScheduleEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].TypeName != entries[j].TypeName {
			return entries[i].TypeName < entries[j].TypeName
		}
		ni, nj := entries[i].Activity.Name, entries[j].Activity.Name
		if ni != nj {
			return ni < nj
		}
		return entries[i].Activity.Entry < entries[j].Activity.Entry
	})
	for i := range entries {
		tasks := entries[i].Tasks
		sort.SliceStable(tasks, func(a, b int) bool { return tasks[a].Task.Entry < tasks[b].Task.Entry })
	}
}

func sortUsers(users []domain.User) {
	sort.SliceStable(users, func(i, j int) bool {
		if users[i].DisplayName != users[j].DisplayName {
			return users[i].DisplayName < users[j].DisplayName
		}
		return users[i].ID < users[j].ID
	})
}
