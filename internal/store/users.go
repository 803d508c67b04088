package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// UpsertUser finds or creates the user with the given id, updating email and
// display name when they are newly provided.
func (s *Store) UpsertUser(ctx context.Context, id, email, displayName string) (*User, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO users (id, email, display_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			email        = COALESCE(EXCLUDED.email, users.email),
			display_name = COALESCE(EXCLUDED.display_name, users.display_name),
			updated_at   = now()
		RETURNING id, email, display_name, created_at, updated_at`,
		id, nullable(email), nullable(displayName))

	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("upserting user %s: %w", id, err)
	}

	s.logger.Debug("upserted user", "user_id", u.ID)
	return u, nil
}

// GetUser retrieves a user by id. Returns ErrNotFound if absent.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, email, display_name, created_at, updated_at
		FROM users WHERE id = $1`, id)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting user %s: %w", id, err)
	}
	return u, nil
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var email, displayName *string
	if err := row.Scan(&u.ID, &email, &displayName, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Email = deref(email)
	u.DisplayName = deref(displayName)
	return &u, nil
}
