// Package store persists users, sessions, conversations, messages and app
// connections in PostgreSQL.
//
// Responsibilities: durable multi-turn context and the per-user connection
// registry rows. The store performs no caching; callers layer the cache on
// top. All methods are safe for concurrent use.
package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message role constants.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Connection status constants. Transitions are enforced by the connection
// registry, not the store.
const (
	StatusInitiated = "INITIATED"
	StatusActive    = "ACTIVE"
	StatusInactive  = "INACTIVE"
	StatusFailed    = "FAILED"
	StatusExpired   = "EXPIRED"
)

// User is an end user identified by a stable opaque id.
type User struct {
	ID          string
	Email       string // empty = not set
	DisplayName string // empty = not set
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Session is a durable container for one user's conversations and the
// last-written conversation summary.
type Session struct {
	ID                  uuid.UUID
	UserID              string
	Token               string // empty = not set
	StartedAt           time.Time
	LastActivity        time.Time
	UpdatedAt           time.Time
	IsActive            bool
	ConversationSummary json.RawMessage // nil = no summary yet
}

// Conversation groups messages within a session. The most recently created
// conversation is the session's current one.
type Conversation struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	Title     string // empty = untitled
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is a single turn entry. ToolCalls, Analysis and Metadata are JSON
// blobs at the storage boundary; in memory they are typed by the callers that
// produce them.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Role           string
	Content        string
	Timestamp      time.Time
	ToolCalls      json.RawMessage
	Analysis       json.RawMessage
	Metadata       json.RawMessage
}

// AppConnection binds (user, app) to a broker account id and a status.
type AppConnection struct {
	ID        uuid.UUID
	UserID    string
	AppName   string
	AccountID string
	Status    string
	Metadata  json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}
