package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/maestrohq/maestro/internal/store"
)

// defaultHistoryLimit bounds GET /api/sessions/{id}/messages when no limit
// is given.
const defaultHistoryLimit = 50

// SessionService is the store surface the session endpoints depend on.
type SessionService interface {
	GetSession(ctx context.Context, id uuid.UUID) (*store.Session, error)
	LatestConversation(ctx context.Context, sessionID uuid.UUID) (*store.Conversation, error)
	RecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]store.Message, error)
}

// SessionHandler serves read access to stored conversations.
type SessionHandler struct {
	sessions SessionService
	logger   *slog.Logger
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(sessions SessionService, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, logger: logger}
}

// RegisterRoutes registers the session routes.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux) {
	if h.sessions == nil {
		h.logger.Warn("session service not configured, session endpoints not registered")
		return
	}
	mux.HandleFunc("GET /api/sessions/{id}/messages", h.handleMessages)
}

type sessionMessagesResponse struct {
	SessionID      string        `json:"sessionId"`
	ConversationID string        `json:"conversationId"`
	Messages       []messageJSON `json:"messages"`
}

func (h *SessionHandler) handleMessages(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 1000")
			return
		}
		limit = n
	}

	ctx := r.Context()
	if _, err := h.sessions.GetSession(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.Error("loading session failed", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "could not load session")
		return
	}

	conv, err := h.sessions.LatestConversation(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusOK, sessionMessagesResponse{
				SessionID: id.String(),
				Messages:  []messageJSON{},
			})
			return
		}
		h.logger.Error("loading conversation failed", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "could not load conversation")
		return
	}

	messages, err := h.sessions.RecentMessages(ctx, conv.ID, limit)
	if err != nil {
		h.logger.Error("loading messages failed", "conversation_id", conv.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not load messages")
		return
	}

	out := sessionMessagesResponse{
		SessionID:      id.String(),
		ConversationID: conv.ID.String(),
		Messages:       make([]messageJSON, 0, len(messages)),
	}
	for _, m := range messages {
		out.Messages = append(out.Messages, messageJSON{
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
