package memory

import (
	"context"
	"sort"

	"orgledger/internal/domain"
	"orgledger/internal/store"
)

// ScheduleRows mirrors the wide SQL join of the postgres backend: one flat
// row per (activity × responsible × task × assignee) combination active on
// day, with nil legs where a LEFT JOIN would produce NULLs.
func (s *Store) ScheduleRows(ctx context.Context, day domain.Date, typeName string) ([]store.ScheduleRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state

	var rows []store.ScheduleRow
	for _, activity := range activeRecords(st, domain.KindActivity, day, nil) {
		tn := typeNameOf(st, activity)
		if typeName != "" && tn != typeName {
			continue
		}

		responsibles := usersFor(st, domain.KindResponsibleFor, domain.FieldActivity, activity.Entry, day)
		if len(responsibles) == 0 {
			responsibles = []*domain.User{nil}
		}

		tasks := activeRecords(st, domain.KindTask, day, map[string]int64{domain.FieldActivity: activity.Entry})
		if len(tasks) == 0 {
			for _, responsible := range responsibles {
				rows = append(rows, store.ScheduleRow{Activity: activity, TypeName: tn, Responsible: responsible})
			}
			continue
		}

		for _, task := range tasks {
			assignees := usersFor(st, domain.KindAssignedTo, domain.FieldTask, task.Entry, day)
			if len(assignees) == 0 {
				assignees = []*domain.User{nil}
			}
			for _, responsible := range responsibles {
				for _, assignee := range assignees {
					t := task
					rows = append(rows, store.ScheduleRow{
						Activity:    activity,
						TypeName:    tn,
						Responsible: responsible,
						Task:        &t,
						Assignee:    assignee,
					})
				}
			}
		}
	}
	return rows, nil
}

// ActivitiesActiveAt lists activity records active on day, optionally
// restricted by type name.
func (s *Store) ActivitiesActiveAt(ctx context.Context, day domain.Date, typeName string) ([]domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state

	var out []domain.Record
	for _, activity := range activeRecords(st, domain.KindActivity, day, nil) {
		if typeName != "" && typeNameOf(st, activity) != typeName {
			continue
		}
		out = append(out, activity)
	}
	return out, nil
}

func activeRecords(st *state, kind domain.Kind, day domain.Date, refFilters map[string]int64) []domain.Record {
	var out []domain.Record
	for _, rec := range listCurrent(st, kind, refFilters) {
		if rec.ActiveAt(day) {
			out = append(out, rec)
		}
	}
	return out
}

func typeNameOf(st *state, activity domain.Record) string {
	at, ok := st.types[activity.RefField(domain.FieldActivityType)]
	if !ok {
		return ""
	}
	return at.Name
}

func usersFor(st *state, kind domain.Kind, refField string, target int64, day domain.Date) []*domain.User {
	var out []*domain.User
	for _, link := range activeRecords(st, kind, day, map[string]int64{refField: target}) {
		userID := link.RefField(domain.FieldUser)
		if user, ok := st.users[userID]; ok {
			u := user
			out = append(out, &u)
		} else {
			out = append(out, &domain.User{ID: userID})
		}
	}
	return out
}

// --- ReferenceStore ---

func (s *Store) EnsureUser(ctx context.Context, user domain.User) error {
	if user.ID <= 0 {
		return &domain.ValidationError{Field: "user.id", Reason: "must be positive"}
	}
	return s.withLock(func(st *state) error {
		st.users[user.ID] = user
		return nil
	})
}

func (s *Store) GetUser(ctx context.Context, id int64) (domain.User, error) {
	var user domain.User
	err := s.withLock(func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return domain.ErrNotFound
		}
		user = u
		return nil
	})
	return user, err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	var users []domain.User
	_ = s.withLock(func(st *state) error {
		for _, u := range st.users {
			users = append(users, u)
		}
		return nil
	})
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (s *Store) EnsureActivityType(ctx context.Context, at domain.ActivityType) error {
	if at.ID <= 0 {
		return &domain.ValidationError{Field: "activity_type.id", Reason: "must be positive"}
	}
	return s.withLock(func(st *state) error {
		st.types[at.ID] = at
		return nil
	})
}

func (s *Store) GetActivityType(ctx context.Context, id int64) (domain.ActivityType, error) {
	var found domain.ActivityType
	err := s.withLock(func(st *state) error {
		at, ok := st.types[id]
		if !ok {
			return domain.ErrNotFound
		}
		found = at
		return nil
	})
	return found, err
}

func (s *Store) ActivityTypeByName(ctx context.Context, name string) (domain.ActivityType, error) {
	var found domain.ActivityType
	err := s.withLock(func(st *state) error {
		for _, at := range st.types {
			if at.Name == name {
				found = at
				return nil
			}
		}
		return domain.ErrNotFound
	})
	return found, err
}

func (s *Store) ListActivityTypes(ctx context.Context) ([]domain.ActivityType, error) {
	var types []domain.ActivityType
	_ = s.withLock(func(st *state) error {
		for _, at := range st.types {
			types = append(types, at)
		}
		return nil
	})
	sort.Slice(types, func(i, j int) bool { return types[i].ID < types[j].ID })
	return types, nil
}
