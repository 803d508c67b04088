package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maestrohq/maestro/internal/analysis"
	"github.com/maestrohq/maestro/internal/broker"
	"github.com/maestrohq/maestro/internal/router"
	"github.com/maestrohq/maestro/internal/store"
)

// memStore implements Store in memory for pipeline tests.
type memStore struct {
	mu            sync.Mutex
	users         map[string]*store.User
	sessions      map[uuid.UUID]*store.Session
	conversations map[uuid.UUID]*store.Conversation
	messages      []store.Message
	prefs         map[string]json.RawMessage

	failAll      bool
	appendCalls  int
	summaryCalls int
}

func newMemStore() *memStore {
	return &memStore{
		users:         make(map[string]*store.User),
		sessions:      make(map[uuid.UUID]*store.Session),
		conversations: make(map[uuid.UUID]*store.Conversation),
		prefs:         make(map[string]json.RawMessage),
	}
}

var errStoreDown = errors.New("store unavailable")

func (m *memStore) UpsertUser(_ context.Context, id, email, name string) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return nil, errStoreDown
	}
	u, ok := m.users[id]
	if !ok {
		u = &store.User{ID: id, CreatedAt: time.Now()}
		m.users[id] = u
	}
	if email != "" {
		u.Email = email
	}
	if name != "" {
		u.DisplayName = name
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) GetSession(_ context.Context, id uuid.UUID) (*store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return nil, errStoreDown
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) CreateSession(_ context.Context, userID, token string) (*store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return nil, errStoreDown
	}
	s := &store.Session{
		ID:           uuid.New(),
		UserID:       userID,
		Token:        token,
		StartedAt:    time.Now(),
		LastActivity: time.Now(),
		IsActive:     true,
	}
	m.sessions[s.ID] = s
	cp := *s
	return &cp, nil
}

func (m *memStore) TouchSession(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return errStoreDown
	}
	s, ok := m.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	s.LastActivity = time.Now()
	s.IsActive = true
	return nil
}

func (m *memStore) UpdateSessionSummary(_ context.Context, id uuid.UUID, summary json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaryCalls++
	if m.failAll {
		return errStoreDown
	}
	s, ok := m.sessions[id]
	if !ok {
		return store.ErrNotFound
	}
	s.ConversationSummary = summary
	return nil
}

func (m *memStore) LatestConversation(_ context.Context, sessionID uuid.UUID) (*store.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return nil, errStoreDown
	}
	var latest *store.Conversation
	for _, c := range m.conversations {
		if c.SessionID != sessionID {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *memStore) CreateConversation(_ context.Context, sessionID uuid.UUID, title string) (*store.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return nil, errStoreDown
	}
	c := &store.Conversation{
		ID:        uuid.New(),
		SessionID: sessionID,
		Title:     title,
		CreatedAt: time.Now(),
	}
	m.conversations[c.ID] = c
	cp := *c
	return &cp, nil
}

func (m *memStore) UpdateConversationTitle(_ context.Context, id uuid.UUID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.conversations[id]; ok {
		c.Title = title
	}
	return nil
}

func (m *memStore) RecentMessages(_ context.Context, conversationID uuid.UUID, limit int) ([]store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return nil, errStoreDown
	}
	var out []store.Message
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memStore) AppendMessage(_ context.Context, msg *store.Message) (*store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendCalls++
	if m.failAll {
		return nil, errStoreDown
	}
	out := *msg
	out.ID = uuid.New()
	out.Timestamp = time.Now()
	m.messages = append(m.messages, out)
	return &out, nil
}

func (m *memStore) Preferences(_ context.Context, userID string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prefs[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

// conversationMessages returns the stored messages of a conversation in
// insertion order.
func (m *memStore) conversationMessages(conversationID uuid.UUID) []store.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Message
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	return out
}

// fakeAnalyzer implements Analyzer with a canned analysis per query substring.
type fakeAnalyzer struct {
	mu      sync.Mutex
	results map[string]*analysis.ComprehensiveAnalysis
	calls   int
}

func (f *fakeAnalyzer) Analyze(_ context.Context, query string, _ []store.Message, _ *analysis.ConversationSummary) *analysis.ComprehensiveAnalysis {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	for pattern, a := range f.results {
		if pattern == "" || strings.Contains(strings.ToLower(query), strings.ToLower(pattern)) {
			return a
		}
	}
	return analysis.Fallback(query)
}

// fakePreparer implements ToolPreparer.
type fakePreparer struct {
	mu       sync.Mutex
	prepared *router.Prepared
	err      error
	calls    int
}

func (f *fakePreparer) Prepare(_ context.Context, _ *analysis.ComprehensiveAnalysis, _, _ string, _ []string) (*router.Prepared, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.prepared == nil {
		return &router.Prepared{Accounts: map[string]string{}}, nil
	}
	return f.prepared, nil
}

// fakeBroker implements Broker with per-action results.
type fakeBroker struct {
	mu      sync.Mutex
	results map[string]*broker.ExecuteResult
	err     map[string]error
	calls   []broker.ExecuteRequest
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		results: make(map[string]*broker.ExecuteResult),
		err:     make(map[string]error),
	}
}

func (f *fakeBroker) Execute(_ context.Context, req broker.ExecuteRequest) (*broker.ExecuteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if err, ok := f.err[req.Action]; ok {
		return nil, err
	}
	if res, ok := f.results[req.Action]; ok {
		return res, nil
	}
	return &broker.ExecuteResult{Successful: true, Data: map[string]any{"ok": true}}, nil
}
