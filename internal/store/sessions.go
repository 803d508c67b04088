package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateSession creates a new active session for the user.
func (s *Store) CreateSession(ctx context.Context, userID, token string) (*Session, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO sessions (user_id, token)
		VALUES ($1, $2)
		RETURNING id, user_id, token, started_at, last_activity, updated_at, is_active, conversation_summary`,
		userID, nullable(token))

	sess, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("creating session for user %s: %w", userID, err)
	}

	s.logger.Debug("created session", "session_id", sess.ID, "user_id", userID)
	return sess, nil
}

// GetSession retrieves a session by id. Returns ErrNotFound if absent.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, user_id, token, started_at, last_activity, updated_at, is_active, conversation_summary
		FROM sessions WHERE id = $1`, id)

	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting session %s: %w", id, err)
	}
	return sess, nil
}

// TouchSession refreshes the session's activity timestamp and reactivates it
// if it had been deactivated.
func (s *Store) TouchSession(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE sessions
		SET last_activity = now(), updated_at = now(), is_active = TRUE
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touching session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateSessionSummary overwrites the session's conversation summary
// (single slot, last write wins).
func (s *Store) UpdateSessionSummary(ctx context.Context, id uuid.UUID, summary json.RawMessage) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE sessions
		SET conversation_summary = $2, updated_at = now()
		WHERE id = $1`, id, summary)
	if err != nil {
		return fmt.Errorf("updating summary for session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateStaleSessions deactivates sessions with no activity since cutoff.
// Returns the number of sessions deactivated.
func (s *Store) DeactivateStaleSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE sessions
		SET is_active = FALSE, updated_at = now()
		WHERE is_active AND last_activity < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deactivating stale sessions: %w", err)
	}

	if n := tag.RowsAffected(); n > 0 {
		s.logger.Info("deactivated stale sessions", "count", n, "cutoff", cutoff)
		return n, nil
	}
	return 0, nil
}

func scanSession(row pgx.Row) (*Session, error) {
	var sess Session
	var token *string
	if err := row.Scan(&sess.ID, &sess.UserID, &token, &sess.StartedAt,
		&sess.LastActivity, &sess.UpdatedAt, &sess.IsActive, &sess.ConversationSummary); err != nil {
		return nil, err
	}
	sess.Token = deref(token)
	return &sess, nil
}
