// Package connection implements the per-user app connection registry: a
// store-backed state machine binding (userID, appName) to a broker account.
//
// States and transitions:
//
//	INITIATED → ACTIVE      broker callback reports ACTIVE
//	INITIATED → FAILED      broker error or timeout
//	ACTIVE    → INACTIVE    explicit disconnect
//	ACTIVE    → EXPIRED     broker report
//	INACTIVE  → INITIATED   re-initiate
//	EXPIRED   → INITIATED   re-initiate
//
// Transitions are idempotent; Upsert is the single mutating operation.
package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maestrohq/maestro/internal/broker"
	"github.com/maestrohq/maestro/internal/cache"
	"github.com/maestrohq/maestro/internal/store"
)

// ErrInvalidTransition indicates a status change the state machine forbids.
var ErrInvalidTransition = errors.New("invalid connection state transition")

// legalTransitions maps current status → allowed next statuses.
// Same-status upserts are always allowed (idempotence).
var legalTransitions = map[string]map[string]struct{}{
	store.StatusInitiated: {store.StatusActive: {}, store.StatusFailed: {}},
	store.StatusActive:    {store.StatusInactive: {}, store.StatusExpired: {}},
	store.StatusInactive:  {store.StatusInitiated: {}},
	store.StatusExpired:   {store.StatusInitiated: {}},
	store.StatusFailed:    {store.StatusInitiated: {}},
}

// Store is the persistence surface the registry depends on.
type Store interface {
	UpsertConnection(ctx context.Context, userID, appName, accountID, status string, metadata json.RawMessage) (*store.AppConnection, error)
	GetConnection(ctx context.Context, userID, appName string) (*store.AppConnection, error)
	ListConnections(ctx context.Context, userID, status string) ([]store.AppConnection, error)
}

// Broker is the subset of broker operations the registry depends on.
type Broker interface {
	Initiate(ctx context.Context, appName, entityID string) (*broker.ConnectionInfo, error)
	Get(ctx context.Context, connectedAccountID string) (*broker.ConnectionInfo, error)
	Reinitiate(ctx context.Context, connectedAccountID, redirectURI string) (*broker.ConnectionInfo, error)
}

// InitiateResult is returned to the caller driving the OAuth-style handshake.
type InitiateResult struct {
	AccountID   string
	RedirectURL string
}

// Registry coordinates connection state between the store, the broker, and
// the cache.
//
// Registry is safe for concurrent use.
type Registry struct {
	store  Store
	broker Broker
	cache  *cache.Cache
	logger *slog.Logger
}

// New creates a Registry.
func New(st Store, br Broker, c *cache.Cache, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{store: st, broker: br, cache: c, logger: logger}
}

// Upsert records (userID, appName) → (accountID, status), enforcing the
// state machine. Re-applying the current status is a no-op success.
func (r *Registry) Upsert(ctx context.Context, userID, appName, accountID, status string) (*store.AppConnection, error) {
	existing, err := r.store.GetConnection(ctx, userID, appName)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("reading connection %s/%s: %w", userID, appName, err)
	}

	if existing != nil && existing.Status != status {
		allowed, ok := legalTransitions[existing.Status]
		if !ok {
			return nil, fmt.Errorf("%w: unknown current status %q", ErrInvalidTransition, existing.Status)
		}
		if _, ok := allowed[status]; !ok {
			return nil, fmt.Errorf("%w: %s → %s for %s/%s",
				ErrInvalidTransition, existing.Status, status, userID, appName)
		}
	}

	conn, err := r.store.UpsertConnection(ctx, userID, appName, accountID, status, nil)
	if err != nil {
		return nil, err
	}

	r.invalidate(ctx, userID, appName)
	return conn, nil
}

// Initiate starts the handshake with the broker for the user's own entity id
// and records the INITIATED row.
func (r *Registry) Initiate(ctx context.Context, userID, appName string) (*InitiateResult, error) {
	info, err := r.broker.Initiate(ctx, appName, userID)
	if err != nil {
		// A prior INITIATED row that cannot complete moves to FAILED.
		if existing, getErr := r.store.GetConnection(ctx, userID, appName); getErr == nil &&
			existing.Status == store.StatusInitiated {
			if _, failErr := r.Upsert(ctx, userID, appName, existing.AccountID, store.StatusFailed); failErr != nil {
				r.logger.Warn("marking connection failed", "user_id", userID, "app", appName, "error", failErr)
			}
		}
		return nil, fmt.Errorf("initiating %s for user %s: %w", appName, userID, err)
	}

	if _, err := r.Upsert(ctx, userID, appName, info.ID, store.StatusInitiated); err != nil {
		return nil, err
	}

	return &InitiateResult{AccountID: info.ID, RedirectURL: info.RedirectURL}, nil
}

// Callback completes the handshake. A broker status of ACTIVE promotes the
// registry entry; anything else marks it FAILED.
func (r *Registry) Callback(ctx context.Context, userID, appName, accountID, status string) (*store.AppConnection, error) {
	next := store.StatusFailed
	if status == store.StatusActive {
		next = store.StatusActive
	}
	return r.Upsert(ctx, userID, appName, accountID, next)
}

// Disconnect moves an ACTIVE connection to INACTIVE.
func (r *Registry) Disconnect(ctx context.Context, userID, appName string) error {
	conn, err := r.store.GetConnection(ctx, userID, appName)
	if err != nil {
		return err
	}
	_, err = r.Upsert(ctx, userID, appName, conn.AccountID, store.StatusInactive)
	return err
}

// Usable reports whether the user's connection for appName is in a state the
// tool preparer accepts: INITIATED or ACTIVE. INITIATED counts because the
// broker may complete the handshake lazily.
//
// Reads are cached for the connection-status TTL. Store failures fail open
// as "not usable" and bypass the cache.
func (r *Registry) Usable(ctx context.Context, userID, appName string) bool {
	key := cache.ConnectionStatusKey(userID, appName)

	var status string
	if r.cache != nil && r.cache.GetJSON(ctx, key, &status) {
		return usableStatus(status)
	}

	conn, err := r.store.GetConnection(ctx, userID, appName)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.logger.Warn("connection status check failed, treating as not active",
				"user_id", userID, "app", appName, "error", err)
			return false // transient: do not cache
		}
		if r.cache != nil {
			r.cache.SetJSON(ctx, key, "", cache.TTLConnectionStatus)
		}
		return false
	}

	if r.cache != nil {
		r.cache.SetJSON(ctx, key, conn.Status, cache.TTLConnectionStatus)
	}
	return usableStatus(conn.Status)
}

func usableStatus(status string) bool {
	return status == store.StatusInitiated || status == store.StatusActive
}

// AccountID returns the broker account id for (userID, appName).
func (r *Registry) AccountID(ctx context.Context, userID, appName string) (string, error) {
	conn, err := r.store.GetConnection(ctx, userID, appName)
	if err != nil {
		return "", err
	}
	return conn.AccountID, nil
}

// UserConnections returns appName → accountID for the user's connections in
// the given status (defaults to ACTIVE). Cached for the user-connections TTL.
func (r *Registry) UserConnections(ctx context.Context, userID, status string) (map[string]string, error) {
	if status == "" {
		status = store.StatusActive
	}

	key := cache.UserConnectionsKey(userID) + ":" + status
	if r.cache != nil {
		var cached map[string]string
		if r.cache.GetJSON(ctx, key, &cached) {
			return cached, nil
		}
	}

	conns, err := r.store.ListConnections(ctx, userID, status)
	if err != nil {
		return nil, err
	}

	result := make(map[string]string, len(conns))
	for _, c := range conns {
		result[c.AppName] = c.AccountID
	}

	if r.cache != nil {
		r.cache.SetJSON(ctx, key, result, cache.TTLUserConnections)
	}
	return result, nil
}

// Reconcile refreshes one connection's status from the broker. Broker
// failures are non-fatal: the stored status stands.
func (r *Registry) Reconcile(ctx context.Context, userID, appName string) error {
	conn, err := r.store.GetConnection(ctx, userID, appName)
	if err != nil {
		return err
	}

	info, err := r.broker.Get(ctx, conn.AccountID)
	if err != nil {
		r.logger.Warn("broker status check failed, keeping stored status",
			"user_id", userID, "app", appName, "error", err)
		return nil
	}

	if info.Status == conn.Status {
		return nil
	}
	if _, err := r.Upsert(ctx, userID, appName, conn.AccountID, info.Status); err != nil {
		// The broker may report states our machine forbids from the current
		// one; log and keep the stored status.
		r.logger.Warn("reconcile transition rejected",
			"user_id", userID, "app", appName,
			"from", conn.Status, "to", info.Status, "error", err)
	}
	return nil
}

// invalidate drops the cache entries affected by a connection write.
func (r *Registry) invalidate(ctx context.Context, userID, appName string) {
	if r.cache == nil {
		return
	}
	keys := []string{cache.ConnectionStatusKey(userID, appName)}
	for _, status := range []string{store.StatusInitiated, store.StatusActive, store.StatusInactive, store.StatusFailed, store.StatusExpired} {
		keys = append(keys, cache.UserConnectionsKey(userID)+":"+status)
	}
	r.cache.Delete(ctx, keys...)
}
