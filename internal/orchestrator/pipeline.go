package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maestrohq/maestro/internal/analysis"
	"github.com/maestrohq/maestro/internal/router"
	"github.com/maestrohq/maestro/internal/store"
)

// Analyzer is stage 2.
type Analyzer interface {
	Analyze(ctx context.Context, query string, history []store.Message, prior *analysis.ConversationSummary) *analysis.ComprehensiveAnalysis
}

// ToolPreparer is stage 3.
type ToolPreparer interface {
	Prepare(ctx context.Context, a *analysis.ComprehensiveAnalysis, query, userID string, initialToolNames []string) (*router.Prepared, error)
}

// Orchestrator wires the five stages and serializes turns per session.
//
// Orchestrator is safe for concurrent use; concurrent turns for the same
// session are processed one at a time.
type Orchestrator struct {
	locks        *SessionLocks
	init         *Initializer
	analyzer     Analyzer
	preparer     ToolPreparer
	dispatcher   *Dispatcher
	persister    *Persister
	historyLimit int
	logger       *slog.Logger
}

// PipelineConfig contains the orchestrator dependencies.
type PipelineConfig struct {
	Initializer  *Initializer
	Analyzer     Analyzer
	Preparer     ToolPreparer
	Dispatcher   *Dispatcher
	Persister    *Persister
	HistoryLimit int // messages loaded per turn (default 10)
	Logger       *slog.Logger
}

// New creates an Orchestrator.
func New(cfg PipelineConfig) (*Orchestrator, error) {
	if cfg.Initializer == nil || cfg.Analyzer == nil || cfg.Preparer == nil ||
		cfg.Dispatcher == nil || cfg.Persister == nil {
		return nil, fmt.Errorf("initializer, analyzer, preparer, dispatcher and persister are required")
	}
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 10
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		locks:        NewSessionLocks(),
		init:         cfg.Initializer,
		analyzer:     cfg.Analyzer,
		preparer:     cfg.Preparer,
		dispatcher:   cfg.Dispatcher,
		persister:    cfg.Persister,
		historyLimit: historyLimit,
		logger:       logger,
	}, nil
}

// Handle processes one user turn through stages 1-5.
func (o *Orchestrator) Handle(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if strings.TrimSpace(req.UserQuery) == "" {
		return nil, fmt.Errorf("%w: userQuery is required", ErrValidation)
	}
	if strings.TrimSpace(req.UserID) == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrValidation)
	}

	// Serialize turns per session. When the caller named a session, lock
	// before stage 1 so concurrent turns cannot interleave; a turn without a
	// session id gets a fresh session nothing else can be addressing yet.
	if req.SessionID != "" {
		unlock := o.locks.Lock(req.SessionID)
		defer unlock()
	}

	start := time.Now()

	// Stage 1: context.
	tc, err := o.init.InitContext(ctx, req.UserID, req.SessionID, req.Email, req.Name)
	if err != nil {
		return nil, fmt.Errorf("initializing context: %w", err)
	}
	if req.SessionID == "" {
		unlock := o.locks.Lock(tc.SessionID.String())
		defer unlock()
	}

	history := req.ConversationHistory
	if history == nil {
		history = o.init.LoadHistory(ctx, tc, o.historyLimit)
	}
	prior := o.init.LoadSummary(ctx, tc)

	// Stage 2: analysis.
	a := o.analyzer.Analyze(ctx, req.UserQuery, history, prior)

	// Stage 3: tool preparation, skipped for turns that need no tools.
	var prepared *router.Prepared
	if a.RequiresToolExecution && a.ConfidenceScore >= analysis.ConfidenceClarificationTier {
		prepared, err = o.preparer.Prepare(ctx, a, req.UserQuery, req.UserID, nil)
		if err != nil {
			o.logger.Warn("tool preparation failed, dispatching without tools", "error", err)
			prepared = nil
		}
	}

	prefs := o.loadPreferences(ctx, req.UserID)

	// Stage 4: dispatch.
	execCtx := NewExecutionContext(o.logger)
	resp, err := o.dispatcher.Dispatch(ctx, req, a, history, prepared, execCtx, prefs)
	if err != nil {
		return nil, fmt.Errorf("dispatching: %w", err)
	}
	resp.SessionID = tc.SessionID.String()
	resp.ConversationID = tc.ConversationID.String()

	// Stage 5: persistence, best-effort.
	resp.Warning = o.persister.Commit(ctx, tc, req, resp)

	if tc.NewConversation && !tc.Synthetic {
		o.setConversationTitle(ctx, tc, req.UserQuery)
	}

	resp.ConversationHistory = appendTurn(history, tc, req, resp)

	o.logger.Info("turn processed",
		"user_id", req.UserID,
		"session_id", resp.SessionID,
		"confidence", a.ConfidenceScore,
		"tools_executed", len(resp.ExecutedTools),
		"elapsed", time.Since(start))
	return resp, nil
}

// loadPreferences returns the stored preference digest, if any.
func (o *Orchestrator) loadPreferences(ctx context.Context, userID string) []string {
	raw, err := o.init.store.Preferences(ctx, userID)
	if err != nil || len(raw) == 0 {
		return nil
	}

	var prefMap map[string]string
	if err := json.Unmarshal(raw, &prefMap); err != nil {
		return nil
	}
	prefs := make([]string, 0, len(prefMap))
	for k, v := range prefMap {
		prefs = append(prefs, k+": "+v)
	}
	return prefs
}

// setConversationTitle titles a fresh conversation from its first message.
// Best-effort.
func (o *Orchestrator) setConversationTitle(ctx context.Context, tc *TurnContext, firstMessage string) {
	title := o.dispatcher.GenerateTitle(ctx, firstMessage)
	if title == "" {
		return
	}
	if err := o.init.store.UpdateConversationTitle(ctx, tc.ConversationID, title); err != nil {
		o.logger.Debug("setting conversation title failed", "conversation_id", tc.ConversationID, "error", err)
	}
}

// appendTurn extends the history the caller sees with the two messages of
// this turn.
func appendTurn(history []store.Message, tc *TurnContext, req *ChatRequest, resp *ChatResponse) []store.Message {
	now := time.Now()
	out := make([]store.Message, 0, len(history)+2)
	out = append(out, history...)
	out = append(out,
		store.Message{
			ConversationID: tc.ConversationID,
			Role:           store.RoleUser,
			Content:        req.UserQuery,
			Timestamp:      now,
		},
		store.Message{
			ConversationID: tc.ConversationID,
			Role:           store.RoleAssistant,
			Content:        resp.Response,
			Timestamp:      now,
		},
	)
	return out
}
