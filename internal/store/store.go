package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("not found")

// Connect retry policy: applied only at process start. Operational failures
// after startup are returned to callers without retry.
const (
	connectAttempts    = 3
	connectBackoffBase = time.Second
)

// DB is the subset of pgxpool.Pool the store depends on.
// Defined on the consumer side; pgxpool.Pool satisfies it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides access to the relational tables backing the chat pipeline.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db     DB
	logger *slog.Logger
}

// New creates a Store around an established connection pool.
func New(db DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Connect opens a pgx pool and verifies connectivity with exponential backoff
// (base 1s, factor 2, 3 attempts).
func Connect(ctx context.Context, dsn string, logger *slog.Logger) (*pgxpool.Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	delay := connectBackoffBase
	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		if lastErr = pool.Ping(ctx); lastErr == nil {
			return pool, nil
		}
		if attempt == connectAttempts {
			break
		}
		logger.Warn("database ping failed, retrying",
			"attempt", attempt, "delay", delay, "error", lastErr)
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, fmt.Errorf("connecting to database: %w", ctx.Err())
		case <-time.After(delay):
			delay *= 2
		}
	}

	pool.Close()
	return nil, fmt.Errorf("connecting to database after %d attempts: %w", connectAttempts, lastErr)
}

// Ping verifies database connectivity via a trivial query.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	return nil
}

// nullable converts an empty string to a nil pointer for nullable columns.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// deref converts a nullable column back to an empty-string-default value.
func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
