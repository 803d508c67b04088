package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// UpsertConnection inserts or updates the single row for (userID, appName).
// The operation is idempotent: repeating it with identical arguments leaves
// the same observable state.
func (s *Store) UpsertConnection(ctx context.Context, userID, appName, accountID, status string, metadata json.RawMessage) (*AppConnection, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO app_connections (user_id, app_name, account_id, status, metadata)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, app_name) DO UPDATE SET
			account_id = EXCLUDED.account_id,
			status     = EXCLUDED.status,
			metadata   = COALESCE(EXCLUDED.metadata, app_connections.metadata),
			updated_at = now()
		RETURNING id, user_id, app_name, account_id, status, metadata, created_at, updated_at`,
		userID, appName, accountID, status, metadata)

	conn, err := scanConnection(row)
	if err != nil {
		return nil, fmt.Errorf("upserting connection %s/%s: %w", userID, appName, err)
	}

	s.logger.Debug("upserted connection",
		"user_id", userID, "app", appName, "status", status)
	return conn, nil
}

// GetConnection retrieves the connection for (userID, appName).
// Returns ErrNotFound if absent.
func (s *Store) GetConnection(ctx context.Context, userID, appName string) (*AppConnection, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, user_id, app_name, account_id, status, metadata, created_at, updated_at
		FROM app_connections
		WHERE user_id = $1 AND app_name = $2`, userID, appName)

	conn, err := scanConnection(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting connection %s/%s: %w", userID, appName, err)
	}
	return conn, nil
}

// ListConnections lists the user's connections, optionally filtered by
// status (empty status = all).
func (s *Store) ListConnections(ctx context.Context, userID, status string) ([]AppConnection, error) {
	query := `
		SELECT id, user_id, app_name, account_id, status, metadata, created_at, updated_at
		FROM app_connections
		WHERE user_id = $1`
	args := []any{userID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY app_name`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing connections for user %s: %w", userID, err)
	}
	defer rows.Close()

	var conns []AppConnection
	for rows.Next() {
		var conn AppConnection
		if err := rows.Scan(&conn.ID, &conn.UserID, &conn.AppName, &conn.AccountID,
			&conn.Status, &conn.Metadata, &conn.CreatedAt, &conn.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning connection: %w", err)
		}
		conns = append(conns, conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing connections for user %s: %w", userID, err)
	}
	return conns, nil
}

func scanConnection(row pgx.Row) (*AppConnection, error) {
	var conn AppConnection
	if err := row.Scan(&conn.ID, &conn.UserID, &conn.AppName, &conn.AccountID,
		&conn.Status, &conn.Metadata, &conn.CreatedAt, &conn.UpdatedAt); err != nil {
		return nil, err
	}
	return &conn, nil
}
