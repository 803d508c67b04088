package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/maestrohq/maestro/internal/cache"
	"github.com/maestrohq/maestro/internal/store"
)

// Persister writes the turn and its analysis to the store and invalidates
// the affected cache entries. All writes are best-effort: failures are
// logged and surfaced as a warning on the response, never as an error.
type Persister struct {
	store        Store
	cache        *cache.Cache
	historyLimit int
	logger       *slog.Logger
}

// NewPersister creates a Persister. historyLimit is the history window whose
// cache key a write invalidates.
func NewPersister(st Store, c *cache.Cache, historyLimit int, logger *slog.Logger) *Persister {
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{store: st, cache: c, historyLimit: historyLimit, logger: logger}
}

// Commit writes, in order: the user message; the assistant message carrying
// the normalized tool calls and the full analysis; the session summary
// overwrite. Returns a warning string when any write failed.
func (p *Persister) Commit(ctx context.Context, tc *TurnContext, req *ChatRequest, resp *ChatResponse) string {
	warning := ""

	userMsg := &store.Message{
		ConversationID: tc.ConversationID,
		Role:           store.RoleUser,
		Content:        req.UserQuery,
	}
	if _, err := p.store.AppendMessage(ctx, userMsg); err != nil {
		p.logger.Warn("persisting user message failed", "conversation_id", tc.ConversationID, "error", err)
		warning = "conversation could not be saved"
	}

	assistantMsg := &store.Message{
		ConversationID: tc.ConversationID,
		Role:           store.RoleAssistant,
		Content:        resp.Response,
	}
	if calls := toolCallRecords(resp.ExecutedTools); len(calls) > 0 {
		if data, err := json.Marshal(calls); err == nil {
			assistantMsg.ToolCalls = data
		}
	}

	var analysisJSON json.RawMessage
	if resp.Analysis != nil {
		if data, err := json.Marshal(resp.Analysis); err == nil {
			analysisJSON = data
			assistantMsg.Analysis = data
		}
	}

	if _, err := p.store.AppendMessage(ctx, assistantMsg); err != nil {
		p.logger.Warn("persisting assistant message failed", "conversation_id", tc.ConversationID, "error", err)
		warning = "conversation could not be saved"
	}

	if analysisJSON != nil {
		if err := p.store.UpdateSessionSummary(ctx, tc.SessionID, analysisJSON); err != nil {
			p.logger.Warn("persisting session summary failed", "session_id", tc.SessionID, "error", err)
			if warning == "" {
				warning = "conversation summary could not be saved"
			}
		}
	}

	p.invalidate(ctx, tc)
	return warning
}

// invalidate drops the cache keys a committed turn affects.
func (p *Persister) invalidate(ctx context.Context, tc *TurnContext) {
	if p.cache == nil {
		return
	}
	sid := tc.SessionID.String()
	p.cache.Delete(ctx,
		cache.MessagesKey(sid, p.historyLimit),
		cache.SessionKey(sid),
		cache.SessionSummaryKey(sid),
	)
}

// toolCallRecords converts executed tools to the persisted form.
func toolCallRecords(tools []ExecutedTool) []ToolCallRecord {
	records := make([]ToolCallRecord, 0, len(tools))
	for _, t := range tools {
		records = append(records, ToolCallRecord{
			Name:       t.Name,
			Args:       t.Args,
			Result:     t.Result,
			ToolCallID: strconv.Itoa(t.StepNumber),
		})
	}
	return records
}
