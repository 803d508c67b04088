package catalog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/maestrohq/maestro/internal/store"
)

// PGQuerier implements Querier on the tool_embeddings table using pgvector.
type PGQuerier struct {
	db store.DB
}

// NewPGQuerier creates a PGQuerier around an established pool.
func NewPGQuerier(db store.DB) *PGQuerier {
	return &PGQuerier{db: db}
}

// UpsertEntries inserts or replaces one batch of embedded entries.
// Re-upserting an id overwrites its vector and metadata in place.
func (q *PGQuerier) UpsertEntries(ctx context.Context, entries []Entry, vectors [][]float32) error {
	for i, e := range entries {
		metadataJSON, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata for %q: %w", e.ID, err)
		}

		vec := pgvector.NewVector(vectors[i])
		_, err = q.db.Exec(ctx, `
			INSERT INTO tool_embeddings (id, app_name, tool_name, description, embedding, metadata)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				app_name    = EXCLUDED.app_name,
				tool_name   = EXCLUDED.tool_name,
				description = EXCLUDED.description,
				embedding   = EXCLUDED.embedding,
				metadata    = EXCLUDED.metadata`,
			e.ID, e.AppName, e.ToolName, e.Description, vec, metadataJSON)
		if err != nil {
			return fmt.Errorf("upserting entry %q: %w", e.ID, err)
		}
	}
	return nil
}

// Search returns the topK nearest entries of the namespace by cosine
// distance. Similarity is 1 - distance, so higher is closer.
func (q *PGQuerier) Search(ctx context.Context, appName string, vector []float32, topK int) ([]Match, error) {
	vec := pgvector.NewVector(vector)
	rows, err := q.db.Query(ctx, `
		SELECT tool_name, description, 1 - (embedding <=> $2) AS similarity, metadata
		FROM tool_embeddings
		WHERE app_name = $1
		ORDER BY embedding <=> $2
		LIMIT $3`,
		appName, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("querying tool embeddings: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var metadataJSON []byte
		if err := rows.Scan(&m.ToolName, &m.Description, &m.Similarity, &metadataJSON); err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &m.Metadata); err != nil {
				m.Metadata = nil
			}
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querying tool embeddings: %w", err)
	}
	return matches, nil
}

// EnsureIndex verifies the embedding column carries the expected dimension.
// The table and HNSW index are created by migrations; this guards against a
// schema/embedder mismatch at startup.
func (q *PGQuerier) EnsureIndex(ctx context.Context, dim int) error {
	var atttypmod int
	err := q.db.QueryRow(ctx, `
		SELECT a.atttypmod
		FROM pg_attribute a
		JOIN pg_class c ON a.attrelid = c.oid
		WHERE c.relname = 'tool_embeddings' AND a.attname = 'embedding'`).Scan(&atttypmod)
	if err != nil {
		return fmt.Errorf("inspecting tool_embeddings schema: %w", err)
	}
	if atttypmod != dim {
		return fmt.Errorf("tool_embeddings dimension is %d, embedder produces %d", atttypmod, dim)
	}
	return nil
}
