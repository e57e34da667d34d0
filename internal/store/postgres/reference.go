package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"orgledger/internal/domain"
)

// Reference tables are owned upstream (identity provider, configuration);
// the store only mirrors them as foreign-key targets.

func (s *Store) EnsureUser(ctx context.Context, user domain.User) error {
	if user.ID <= 0 {
		return &domain.ValidationError{Field: "user.id", Reason: "must be positive"}
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO users (id, display_name) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name`,
		user.ID, user.DisplayName,
	)
	if err != nil {
		return fmt.Errorf("failed to ensure user %d: %w", user.ID, err)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (domain.User, error) {
	var user domain.User
	err := s.db.QueryRow(ctx, `SELECT id, display_name FROM users WHERE id = $1`, id).
		Scan(&user.ID, &user.DisplayName)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to get user %d: %w", id, err)
	}
	return user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.Query(ctx, `SELECT id, display_name FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var user domain.User
		if err := rows.Scan(&user.ID, &user.DisplayName); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

func (s *Store) EnsureActivityType(ctx context.Context, at domain.ActivityType) error {
	if at.ID <= 0 {
		return &domain.ValidationError{Field: "activity_type.id", Reason: "must be positive"}
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO activity_types (id, name) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
		at.ID, at.Name,
	)
	if err != nil {
		return fmt.Errorf("failed to ensure activity type %d: %w", at.ID, err)
	}
	return nil
}

func (s *Store) GetActivityType(ctx context.Context, id int64) (domain.ActivityType, error) {
	var at domain.ActivityType
	err := s.db.QueryRow(ctx, `SELECT id, name FROM activity_types WHERE id = $1`, id).
		Scan(&at.ID, &at.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ActivityType{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ActivityType{}, fmt.Errorf("failed to get activity type %d: %w", id, err)
	}
	return at, nil
}

func (s *Store) ActivityTypeByName(ctx context.Context, name string) (domain.ActivityType, error) {
	var at domain.ActivityType
	err := s.db.QueryRow(ctx, `SELECT id, name FROM activity_types WHERE name = $1`, name).
		Scan(&at.ID, &at.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ActivityType{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ActivityType{}, fmt.Errorf("failed to get activity type %q: %w", name, err)
	}
	return at, nil
}

func (s *Store) ListActivityTypes(ctx context.Context) ([]domain.ActivityType, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name FROM activity_types ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity types: %w", err)
	}
	defer rows.Close()

	var types []domain.ActivityType
	for rows.Next() {
		var at domain.ActivityType
		if err := rows.Scan(&at.ID, &at.Name); err != nil {
			return nil, fmt.Errorf("failed to scan activity type: %w", err)
		}
		types = append(types, at)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activity types: %w", err)
	}
	return types, nil
}
