package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateConversation creates a conversation in the session. The newest
// conversation becomes the session's current one.
func (s *Store) CreateConversation(ctx context.Context, sessionID uuid.UUID, title string) (*Conversation, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO conversations (session_id, title)
		VALUES ($1, $2)
		RETURNING id, session_id, title, created_at, updated_at`,
		sessionID, nullable(title))

	conv, err := scanConversation(row)
	if err != nil {
		return nil, fmt.Errorf("creating conversation for session %s: %w", sessionID, err)
	}

	s.logger.Debug("created conversation", "conversation_id", conv.ID, "session_id", sessionID)
	return conv, nil
}

// LatestConversation returns the most recently created conversation of the
// session. Returns ErrNotFound when the session has none.
func (s *Store) LatestConversation(ctx context.Context, sessionID uuid.UUID) (*Conversation, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, session_id, title, created_at, updated_at
		FROM conversations
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, sessionID)

	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting latest conversation for session %s: %w", sessionID, err)
	}
	return conv, nil
}

// ListConversations lists the session's conversations, newest first.
func (s *Store) ListConversations(ctx context.Context, sessionID uuid.UUID) ([]Conversation, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, title, created_at, updated_at
		FROM conversations
		WHERE session_id = $1
		ORDER BY created_at DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing conversations for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var conv Conversation
		var title *string
		if err := rows.Scan(&conv.ID, &conv.SessionID, &title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		conv.Title = deref(title)
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing conversations for session %s: %w", sessionID, err)
	}
	return convs, nil
}

// UpdateConversationTitle sets the conversation title.
func (s *Store) UpdateConversationTitle(ctx context.Context, id uuid.UUID, title string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE conversations SET title = $2, updated_at = now() WHERE id = $1`,
		id, nullable(title))
	if err != nil {
		return fmt.Errorf("updating title for conversation %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanConversation(row pgx.Row) (*Conversation, error) {
	var conv Conversation
	var title *string
	if err := row.Scan(&conv.ID, &conv.SessionID, &title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return nil, err
	}
	conv.Title = deref(title)
	return &conv, nil
}
