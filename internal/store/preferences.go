package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Preferences returns the user's stored preferences blob.
// Returns ErrNotFound when the user has no preferences row.
func (s *Store) Preferences(ctx context.Context, userID string) (json.RawMessage, error) {
	var prefs json.RawMessage
	err := s.db.QueryRow(ctx, `
		SELECT preferences FROM user_preferences WHERE user_id = $1`, userID).Scan(&prefs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting preferences for user %s: %w", userID, err)
	}
	return prefs, nil
}

// UpsertPreferences stores the user's preferences blob, replacing any
// previous value.
func (s *Store) UpsertPreferences(ctx context.Context, userID string, prefs json.RawMessage) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO user_preferences (user_id, preferences)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET
			preferences = EXCLUDED.preferences,
			updated_at  = now()`,
		userID, prefs)
	if err != nil {
		return fmt.Errorf("upserting preferences for user %s: %w", userID, err)
	}
	return nil
}
