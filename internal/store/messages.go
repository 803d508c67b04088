package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// AppendMessage inserts a message and returns it with the database-assigned
// id and timestamp. Messages are append-only.
func (s *Store) AppendMessage(ctx context.Context, m *Message) (*Message, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, role, content, tool_calls, analysis, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, timestamp`,
		m.ConversationID, m.Role, m.Content, m.ToolCalls, m.Analysis, m.Metadata)

	out := *m
	if err := row.Scan(&out.ID, &out.Timestamp); err != nil {
		return nil, fmt.Errorf("appending %s message to conversation %s: %w", m.Role, m.ConversationID, err)
	}

	s.logger.Debug("appended message",
		"conversation_id", m.ConversationID, "role", m.Role, "message_id", out.ID)
	return &out, nil
}

// RecentMessages returns the last limit messages of the conversation,
// oldest first. Timestamp ties are broken by insertion order (id).
func (s *Store) RecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, conversation_id, role, content, timestamp, tool_calls, analysis, metadata
		FROM (
			SELECT id, conversation_id, role, content, timestamp, tool_calls, analysis, metadata,
			       ctid AS insertion_order
			FROM messages
			WHERE conversation_id = $1
			ORDER BY timestamp DESC, insertion_order DESC
			LIMIT $2
		) recent
		ORDER BY timestamp ASC, insertion_order ASC`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading messages for conversation %s: %w", conversationID, err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content,
			&m.Timestamp, &m.ToolCalls, &m.Analysis, &m.Metadata); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading messages for conversation %s: %w", conversationID, err)
	}
	return messages, nil
}

// DeleteMessages bulk-deletes all messages of a conversation. Returns the
// number of messages removed.
func (s *Store) DeleteMessages(ctx context.Context, conversationID uuid.UUID) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM messages WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return 0, fmt.Errorf("deleting messages for conversation %s: %w", conversationID, err)
	}
	return tag.RowsAffected(), nil
}
