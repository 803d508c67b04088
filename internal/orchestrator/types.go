// Package orchestrator runs the five-stage chat pipeline: context
// initialization, analysis, tool preparation, dispatch, and persistence.
// One Handle call processes one user turn end to end.
package orchestrator

import (
	"errors"

	"github.com/maestrohq/maestro/internal/analysis"
	"github.com/maestrohq/maestro/internal/store"
)

// ErrValidation indicates missing or empty required request fields.
// The transport maps it to HTTP 400.
var ErrValidation = errors.New("invalid request")

// ChatRequest is one user turn.
type ChatRequest struct {
	UserQuery string
	UserID    string
	SessionID string // optional; a new session is created when absent
	Email     string // optional; stored on first contact
	Name      string // optional; stored on first contact

	// ConversationHistory optionally overrides the stored history for this
	// turn (caller-supplied context).
	ConversationHistory []store.Message
}

// ExecutedTool is one tool invocation surfaced to the caller.
type ExecutedTool struct {
	Name       string         `json:"name"`
	Args       map[string]any `json:"args"`
	Result     any            `json:"result"`
	StepNumber int            `json:"stepNumber"`
}

// ToolCallRecord is the normalized form persisted on the assistant message.
type ToolCallRecord struct {
	Name       string         `json:"name"`
	Args       map[string]any `json:"args"`
	Result     any            `json:"result"`
	ToolCallID string         `json:"toolCallId"`
}

// ChatResponse is the consolidated answer for one turn.
type ChatResponse struct {
	Response            string
	SessionID           string
	ConversationID      string
	ExecutedTools       []ExecutedTool
	RequiredConnections []string
	ConversationHistory []store.Message
	Analysis            *analysis.ComprehensiveAnalysis

	// Warning carries non-fatal degradations (e.g. a failed persistence
	// write). The dispatch result is never lost because of them.
	Warning string
}
