package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/maestrohq/maestro/internal/analysis"
	"github.com/maestrohq/maestro/internal/orchestrator"
	"github.com/maestrohq/maestro/internal/store"
)

// ChatService is the pipeline surface the chat endpoint depends on.
type ChatService interface {
	Handle(ctx context.Context, req *orchestrator.ChatRequest) (*orchestrator.ChatResponse, error)
}

// ChatHandler serves POST /api/chat.
type ChatHandler struct {
	chat   ChatService
	logger *slog.Logger
}

// NewChatHandler creates a ChatHandler.
func NewChatHandler(chat ChatService, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{chat: chat, logger: logger}
}

// RegisterRoutes registers the chat routes.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	if h.chat == nil {
		h.logger.Warn("chat service not configured, chat endpoint not registered")
		return
	}
	mux.HandleFunc("POST /api/chat", h.handleChat)
}

// messageJSON is the transport form of a conversation message.
type messageJSON struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// chatRequest is the wire request of POST /api/chat.
type chatRequest struct {
	UserQuery           string        `json:"userQuery"`
	UserID              string        `json:"userId"`
	SessionID           string        `json:"sessionId,omitempty"`
	Email               string        `json:"email,omitempty"`
	Name                string        `json:"name,omitempty"`
	ConversationHistory []messageJSON `json:"conversationHistory,omitempty"`
}

// executedToolJSON mirrors orchestrator.ExecutedTool on the wire.
type executedToolJSON struct {
	Name       string         `json:"name"`
	Args       map[string]any `json:"args"`
	Result     any            `json:"result"`
	StepNumber int            `json:"stepNumber"`
}

// chatResponse is the wire response of POST /api/chat.
type chatResponse struct {
	Response            string                          `json:"response"`
	SessionID           string                          `json:"sessionId,omitempty"`
	ConversationID      string                          `json:"conversationId,omitempty"`
	ExecutedTools       []executedToolJSON              `json:"executedTools,omitempty"`
	RequiredConnections []string                        `json:"requiredConnections,omitempty"`
	ConversationHistory []messageJSON                   `json:"conversationHistory,omitempty"`
	Analysis            *analysis.ComprehensiveAnalysis `json:"analysis,omitempty"`
	Warning             string                          `json:"warning,omitempty"`
	Error               string                          `json:"error,omitempty"`
}

// handleChat validates the request, runs one turn, and maps outcomes to
// status codes: 400 for validation, 500 for unrecoverable failures, and 200
// for everything else (required connections, tool failures, warnings).
func (h *ChatHandler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.UserQuery) == "" {
		writeError(w, http.StatusBadRequest, "userQuery is required")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	turn := &orchestrator.ChatRequest{
		UserQuery:           req.UserQuery,
		UserID:              req.UserID,
		SessionID:           req.SessionID,
		Email:               req.Email,
		Name:                req.Name,
		ConversationHistory: historyFromJSON(req.ConversationHistory),
	}

	resp, err := h.chat.Handle(r.Context(), turn)
	if err != nil {
		if errors.Is(err, orchestrator.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("chat turn failed", "user_id", req.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toChatResponse(resp))
}

func toChatResponse(resp *orchestrator.ChatResponse) chatResponse {
	out := chatResponse{
		Response:            resp.Response,
		SessionID:           resp.SessionID,
		ConversationID:      resp.ConversationID,
		RequiredConnections: resp.RequiredConnections,
		Analysis:            resp.Analysis,
		Warning:             resp.Warning,
	}
	for _, t := range resp.ExecutedTools {
		out.ExecutedTools = append(out.ExecutedTools, executedToolJSON(t))
	}
	for _, m := range resp.ConversationHistory {
		out.ConversationHistory = append(out.ConversationHistory, messageJSON{
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	}
	return out
}

func historyFromJSON(msgs []messageJSON) []store.Message {
	if msgs == nil {
		return nil
	}
	out := make([]store.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, store.Message{
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	}
	return out
}
