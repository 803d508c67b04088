package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/maestrohq/maestro/internal/analysis"
	"github.com/maestrohq/maestro/internal/cache"
	"github.com/maestrohq/maestro/internal/store"
)

// Store is the persistence surface the pipeline depends on, implemented by
// store.Store.
type Store interface {
	UpsertUser(ctx context.Context, id, email, displayName string) (*store.User, error)
	GetSession(ctx context.Context, id uuid.UUID) (*store.Session, error)
	CreateSession(ctx context.Context, userID, token string) (*store.Session, error)
	TouchSession(ctx context.Context, id uuid.UUID) error
	UpdateSessionSummary(ctx context.Context, id uuid.UUID, summary json.RawMessage) error
	LatestConversation(ctx context.Context, sessionID uuid.UUID) (*store.Conversation, error)
	CreateConversation(ctx context.Context, sessionID uuid.UUID, title string) (*store.Conversation, error)
	UpdateConversationTitle(ctx context.Context, id uuid.UUID, title string) error
	RecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]store.Message, error)
	AppendMessage(ctx context.Context, m *store.Message) (*store.Message, error)
	Preferences(ctx context.Context, userID string) (json.RawMessage, error)
}

// TurnContext is the resolved identity of one turn.
type TurnContext struct {
	UserID          string
	SessionID       uuid.UUID
	ConversationID  uuid.UUID
	NewConversation bool

	// Synthetic marks a degraded-mode context: the store was unavailable and
	// in-memory ids were issued so the turn can proceed. Persistence is
	// attempted once against these ids and surfaced as a warning if it fails.
	Synthetic bool
}

// Initializer resolves or creates the user, session and current
// conversation, and loads history and the prior summary.
type Initializer struct {
	store        Store
	cache        *cache.Cache
	degradedMode bool
	logger       *slog.Logger
}

// NewInitializer creates an Initializer. degradedMode permits synthetic
// in-memory sessions when the store is unavailable; it is operator opt-in.
func NewInitializer(st Store, c *cache.Cache, degradedMode bool, logger *slog.Logger) *Initializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Initializer{store: st, cache: c, degradedMode: degradedMode, logger: logger}
}

// InitContext finds or creates the user and session, refreshes session
// activity, and resolves the current conversation (the most recent one, or
// a fresh one when the session has none).
//
// A provided sessionID that belongs to a different user is replaced with a
// new session and the mismatch logged.
func (i *Initializer) InitContext(ctx context.Context, userID, sessionID, email, name string) (*TurnContext, error) {
	if _, err := i.store.UpsertUser(ctx, userID, email, name); err != nil {
		if i.degradedMode {
			i.logger.Warn("store unavailable, issuing synthetic session", "user_id", userID, "error", err)
			return &TurnContext{
				UserID:          userID,
				SessionID:       uuid.New(),
				ConversationID:  uuid.New(),
				NewConversation: true,
				Synthetic:       true,
			}, nil
		}
		return nil, err
	}

	sess, err := i.resolveSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	if err := i.store.TouchSession(ctx, sess.ID); err != nil {
		i.logger.Warn("refreshing session activity failed", "session_id", sess.ID, "error", err)
	}
	if i.cache != nil {
		i.cache.Delete(ctx, cache.SessionKey(sess.ID.String()))
	}

	conv, created, err := i.resolveConversation(ctx, sess.ID)
	if err != nil {
		return nil, err
	}

	return &TurnContext{
		UserID:          userID,
		SessionID:       sess.ID,
		ConversationID:  conv.ID,
		NewConversation: created,
	}, nil
}

func (i *Initializer) resolveSession(ctx context.Context, userID, sessionID string) (*store.Session, error) {
	if sessionID != "" {
		id, err := uuid.Parse(sessionID)
		if err != nil {
			i.logger.Warn("malformed session id, creating new session", "session_id", sessionID)
		} else {
			sess, err := i.store.GetSession(ctx, id)
			switch {
			case err == nil && sess.UserID == userID:
				return sess, nil
			case err == nil:
				i.logger.Warn("session belongs to a different user, creating new session",
					"session_id", sessionID, "owner", sess.UserID, "user_id", userID)
			case errors.Is(err, store.ErrNotFound):
				i.logger.Debug("session not found, creating new session", "session_id", sessionID)
			default:
				return nil, err
			}
		}
	}

	return i.store.CreateSession(ctx, userID, "")
}

func (i *Initializer) resolveConversation(ctx context.Context, sessionID uuid.UUID) (*store.Conversation, bool, error) {
	conv, err := i.store.LatestConversation(ctx, sessionID)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	conv, err = i.store.CreateConversation(ctx, sessionID, "")
	if err != nil {
		return nil, false, err
	}
	return conv, true, nil
}

// LoadHistory returns the last limit messages of the conversation, oldest
// first, read through a cache keyed by (sessionID, limit). Store failures
// degrade to empty history.
func (i *Initializer) LoadHistory(ctx context.Context, tc *TurnContext, limit int) []store.Message {
	key := cache.MessagesKey(tc.SessionID.String(), limit)
	if i.cache != nil {
		var cached []store.Message
		if i.cache.GetJSON(ctx, key, &cached) {
			return cached
		}
	}

	messages, err := i.store.RecentMessages(ctx, tc.ConversationID, limit)
	if err != nil {
		i.logger.Warn("loading history failed, proceeding with empty history",
			"conversation_id", tc.ConversationID, "error", err)
		return nil
	}

	if i.cache != nil {
		i.cache.SetJSON(ctx, key, messages, cache.TTLMessageHistory)
	}
	return messages
}

// LoadSummary returns the session's prior conversation summary, or nil when
// none exists. The summary slot stores the previous turn's full analysis;
// only its summary section feeds the next turn.
func (i *Initializer) LoadSummary(ctx context.Context, tc *TurnContext) *analysis.ConversationSummary {
	key := cache.SessionSummaryKey(tc.SessionID.String())
	var prior analysis.ComprehensiveAnalysis

	if i.cache == nil || !i.cache.GetJSON(ctx, key, &prior) {
		sess, err := i.store.GetSession(ctx, tc.SessionID)
		if err != nil || len(sess.ConversationSummary) == 0 {
			return nil
		}
		if err := json.Unmarshal(sess.ConversationSummary, &prior); err != nil {
			i.logger.Warn("stored summary corrupt, ignoring", "session_id", tc.SessionID, "error", err)
			return nil
		}
		if i.cache != nil {
			i.cache.SetJSON(ctx, key, &prior, cache.TTLSessionSummary)
		}
	}

	if prior.ConversationSummary.CurrentIntent == "" && prior.ConversationSummary.State == "" {
		return nil
	}
	summary := prior.ConversationSummary
	return &summary
}

// StaleSessionCutoff is how long a session may stay idle before cleanup
// deactivates it.
const StaleSessionCutoff = 30 * 24 * time.Hour
