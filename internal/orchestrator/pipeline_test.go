package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/firebase/genkit/go/ai"

	"github.com/maestrohq/maestro/internal/analysis"
	"github.com/maestrohq/maestro/internal/broker"
	"github.com/maestrohq/maestro/internal/cache"
	"github.com/maestrohq/maestro/internal/log"
	"github.com/maestrohq/maestro/internal/router"
	"github.com/maestrohq/maestro/internal/store"
	"github.com/maestrohq/maestro/internal/testutil"
)

type pipelineFixture struct {
	orch     *Orchestrator
	store    *memStore
	analyzer *fakeAnalyzer
	preparer *fakePreparer
	broker   *fakeBroker
	llm      *testutil.MockLLM
}

func newPipeline(t *testing.T) *pipelineFixture {
	t.Helper()

	st := newMemStore()
	rdb := testutil.NewMemoryRedis()
	c := cache.New(rdb, log.NewNop())

	llm := testutil.NewMockLLM("Happy to help!")
	g := testutil.NewGenkit(t)
	llm.RegisterModel(g)

	br := newFakeBroker()
	d, err := NewDispatcher(DispatcherConfig{
		Genkit:    g,
		ModelName: llm.ModelName(),
		Broker:    br,
		Logger:    log.NewNop(),
	})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	an := &fakeAnalyzer{results: map[string]*analysis.ComprehensiveAnalysis{}}
	pr := &fakePreparer{}

	orch, err := New(PipelineConfig{
		Initializer:  NewInitializer(st, c, false, log.NewNop()),
		Analyzer:     an,
		Preparer:     pr,
		Dispatcher:   d,
		Persister:    NewPersister(st, c, 10, log.NewNop()),
		HistoryLimit: 10,
		Logger:       log.NewNop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return &pipelineFixture{orch: orch, store: st, analyzer: an, preparer: pr, broker: br, llm: llm}
}

func TestHandleValidation(t *testing.T) {
	f := newPipeline(t)
	ctx := context.Background()

	_, err := f.orch.Handle(ctx, &ChatRequest{UserQuery: "", UserID: "u1"})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("empty query: err = %v, want ErrValidation", err)
	}

	_, err = f.orch.Handle(ctx, &ChatRequest{UserQuery: "hi", UserID: "  "})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("empty user: err = %v, want ErrValidation", err)
	}
}

// S1: unknown session, tool-free small talk.
func TestScenarioSmallTalk(t *testing.T) {
	f := newPipeline(t)
	// The fallback analyzer result has confidence 0.1 → conversational tier.

	resp, err := f.orch.Handle(context.Background(), &ChatRequest{
		UserQuery: "Hello, I need help with creating some documents",
		UserID:    "u1",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if resp.SessionID == "" {
		t.Error("no session id issued")
	}
	if resp.Analysis.ConfidenceScore >= analysis.ConfidenceClarificationTier {
		t.Errorf("confidence = %v, want < 0.4", resp.Analysis.ConfidenceScore)
	}
	if len(resp.ExecutedTools) != 0 {
		t.Errorf("executedTools = %+v, want none", resp.ExecutedTools)
	}
	if len(resp.RequiredConnections) != 0 {
		t.Errorf("requiredConnections = %v, want none", resp.RequiredConnections)
	}
	if resp.Response == "" {
		t.Error("empty conversational reply")
	}
	if f.preparer.calls != 0 {
		t.Error("tool preparation ran for a conversational turn")
	}

	// Exactly one user and one assistant message persisted, in order.
	msgs := f.store.messages
	if len(msgs) != 2 || msgs[0].Role != store.RoleUser || msgs[1].Role != store.RoleAssistant {
		t.Fatalf("persisted messages = %+v", msgs)
	}
	if msgs[0].Timestamp.After(msgs[1].Timestamp) {
		t.Error("user message timestamped after assistant message")
	}
}

// S2: tool path requiring a missing connection.
func TestScenarioMissingConnection(t *testing.T) {
	f := newPipeline(t)
	f.analyzer.results["google doc"] = &analysis.ComprehensiveAnalysis{
		ConfidenceScore:       0.9,
		RequiresToolExecution: true,
		RecommendedApps:       []string{"GOOGLEDOCS"},
		ConversationSummary:   analysis.ConversationSummary{State: analysis.StateReadyToExecute},
	}
	f.preparer.prepared = &router.Prepared{
		RequiredConnections: []string{"GOOGLEDOCS"},
		Accounts:            map[string]string{},
	}

	resp, err := f.orch.Handle(context.Background(), &ChatRequest{
		UserQuery: "Create a new Google Doc titled 'Project Proposal'",
		UserID:    "u1",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if !strings.Contains(resp.Response, "GOOGLEDOCS") {
		t.Errorf("response does not mention the required connection: %q", resp.Response)
	}
	if len(resp.RequiredConnections) != 1 || resp.RequiredConnections[0] != "GOOGLEDOCS" {
		t.Errorf("requiredConnections = %v", resp.RequiredConnections)
	}
	if len(resp.ExecutedTools) != 0 {
		t.Errorf("executedTools = %+v, want none", resp.ExecutedTools)
	}
	if len(f.broker.calls) != 0 {
		t.Error("broker executed despite missing connection")
	}
}

// S3: tool path with an active connection succeeds.
func TestScenarioToolSuccess(t *testing.T) {
	f := newPipeline(t)
	f.analyzer.results["google doc"] = &analysis.ComprehensiveAnalysis{
		ConfidenceScore:       0.9,
		RequiresToolExecution: true,
		RecommendedApps:       []string{"GOOGLEDOCS"},
		ConversationSummary:   analysis.ConversationSummary{State: analysis.StateReadyToExecute},
	}
	f.preparer.prepared = &router.Prepared{
		Tools: []broker.ToolDescriptor{{
			Name:        "GOOGLEDOCS_CREATE_DOCUMENT",
			AppName:     "GOOGLEDOCS",
			Description: "Create a new Google Doc",
		}},
		Accounts: map[string]string{"GOOGLEDOCS": "acc_docs"},
	}
	f.llm.AddToolResponse("google doc",
		[]*ai.ToolRequest{{
			Name:  "GOOGLEDOCS_CREATE_DOCUMENT",
			Input: map[string]any{"title": "Project Proposal"},
			Ref:   "call_1",
		}},
		"I created the document 'Project Proposal' for you.")
	f.broker.results["GOOGLEDOCS_CREATE_DOCUMENT"] = &broker.ExecuteResult{
		Successful: true,
		Data:       map[string]any{"documentId": "doc_42"},
	}

	resp, err := f.orch.Handle(context.Background(), &ChatRequest{
		UserQuery: "Create a new Google Doc titled 'Project Proposal'",
		UserID:    "u1",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(resp.ExecutedTools) == 0 {
		t.Fatal("no tools executed")
	}
	if resp.ExecutedTools[0].Name != "GOOGLEDOCS_CREATE_DOCUMENT" {
		t.Errorf("executed = %+v", resp.ExecutedTools)
	}
	if strings.Contains(resp.Response, "issues with") {
		t.Errorf("success response reads as failure: %q", resp.Response)
	}

	// The assistant message carries the tool calls.
	msgs := f.store.messages
	var assistant *store.Message
	for i := range msgs {
		if msgs[i].Role == store.RoleAssistant {
			assistant = &msgs[i]
		}
	}
	if assistant == nil || len(assistant.ToolCalls) == 0 {
		t.Fatalf("assistant message missing tool calls: %+v", assistant)
	}
	if len(assistant.Analysis) == 0 {
		t.Error("assistant message missing analysis")
	}
}

// S4: partial tool failure is surfaced with reasons, not as an error.
func TestScenarioPartialFailure(t *testing.T) {
	f := newPipeline(t)
	f.analyzer.results["share the notes"] = &analysis.ComprehensiveAnalysis{
		ConfidenceScore:       0.9,
		RequiresToolExecution: true,
		RecommendedApps:       []string{"GOOGLEDOCS", "GMAIL"},
	}
	f.preparer.prepared = &router.Prepared{
		Tools: []broker.ToolDescriptor{
			{Name: "GOOGLEDOCS_CREATE_DOCUMENT", AppName: "GOOGLEDOCS", Description: "Create a doc"},
			{Name: "GMAIL_SEND_EMAIL", AppName: "GMAIL", Description: "Send an email"},
		},
		Accounts: map[string]string{"GOOGLEDOCS": "acc_docs", "GMAIL": "acc_gmail"},
	}
	f.llm.AddToolResponse("share the notes",
		[]*ai.ToolRequest{
			{Name: "GOOGLEDOCS_CREATE_DOCUMENT", Input: map[string]any{"title": "Notes"}, Ref: "call_1"},
			{Name: "GMAIL_SEND_EMAIL", Input: map[string]any{"to": "bob@example.com"}, Ref: "call_2"},
		},
		"done")
	f.broker.results["GMAIL_SEND_EMAIL"] = &broker.ExecuteResult{Successful: false, Error: "rate limited"}

	resp, err := f.orch.Handle(context.Background(), &ChatRequest{
		UserQuery: "share the notes with bob",
		UserID:    "u1",
	})
	if err != nil {
		t.Fatalf("Handle: %v (partial failure must not be an error)", err)
	}

	if len(resp.ExecutedTools) != 2 {
		t.Fatalf("executedTools = %+v, want both outcomes", resp.ExecutedTools)
	}
	if !strings.Contains(resp.Response, "GMAIL_SEND_EMAIL") || !strings.Contains(resp.Response, "rate limited") {
		t.Errorf("response = %q", resp.Response)
	}
}

// S5: clarification tier returns the numbered list.
func TestScenarioClarification(t *testing.T) {
	f := newPipeline(t)
	f.analyzer.results["schedule that meeting"] = &analysis.ComprehensiveAnalysis{
		ConfidenceScore:     0.6,
		ClarificationNeeded: []string{"Which meeting?", "For when?"},
	}

	resp, err := f.orch.Handle(context.Background(), &ChatRequest{
		UserQuery: "Schedule that meeting",
		UserID:    "u1",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if !strings.Contains(resp.Response, "1. Which meeting?") || !strings.Contains(resp.Response, "2. For when?") {
		t.Errorf("response = %q", resp.Response)
	}
	if len(resp.ExecutedTools) != 0 {
		t.Error("clarification turn executed tools")
	}
}

// Persistence failures degrade to a warning; the dispatch result survives.
// Degraded mode lets the turn proceed on a synthetic session while the
// store is down.
func TestHandlePersistenceFailureIsWarning(t *testing.T) {
	st := newMemStore()
	st.failAll = true
	rdb := testutil.NewMemoryRedis()
	c := cache.New(rdb, log.NewNop())

	llm := testutil.NewMockLLM("Hello!")
	g := testutil.NewGenkit(t)
	llm.RegisterModel(g)

	d, err := NewDispatcher(DispatcherConfig{
		Genkit:    g,
		ModelName: llm.ModelName(),
		Broker:    newFakeBroker(),
		Logger:    log.NewNop(),
	})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}

	orch, err := New(PipelineConfig{
		Initializer:  NewInitializer(st, c, true, log.NewNop()), // degraded mode on
		Analyzer:     &fakeAnalyzer{},
		Preparer:     &fakePreparer{},
		Dispatcher:   d,
		Persister:    NewPersister(st, c, 10, log.NewNop()),
		HistoryLimit: 10,
		Logger:       log.NewNop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := orch.Handle(context.Background(), &ChatRequest{
		UserQuery: "Hello there",
		UserID:    "u1",
	})
	if err != nil {
		t.Fatalf("Handle in degraded mode: %v", err)
	}
	if resp.Warning == "" {
		t.Error("persistence failure produced no warning")
	}
	if resp.Response == "" {
		t.Error("dispatch result lost on persistence failure")
	}
}

// Turns for the same session are serialized; concurrent turns both complete.
func TestHandleConcurrentTurnsSameSession(t *testing.T) {
	f := newPipeline(t)

	first, err := f.orch.Handle(context.Background(), &ChatRequest{
		UserQuery: "Hello",
		UserID:    "u1",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	done := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := f.orch.Handle(context.Background(), &ChatRequest{
				UserQuery: "Another message",
				UserID:    "u1",
				SessionID: first.SessionID,
			})
			done <- err
		}()
	}
	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent Handle: %v", err)
		}
	}

	// 2 messages per turn × 3 turns.
	if got := len(f.store.messages); got != 6 {
		t.Errorf("persisted messages = %d, want 6", got)
	}
}
