// Package catalog maintains the vector index of broker tool descriptions and
// serves per-app cosine similarity search.
//
// Each tool is embedded as "<toolName>: <description>" into a 1536-dimension
// vector. Namespaces equal app names: a query against app A can never return
// a tool ingested under app B.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"

	"github.com/maestrohq/maestro/internal/cache"
)

// VectorDimension is the fixed embedding width of the tool index.
const VectorDimension = 1536

// UpsertBatchSize bounds how many rows a single upsert round-trip carries.
const UpsertBatchSize = 100

// searchTimeout bounds a single vector search, embedding included.
const searchTimeout = 5 * time.Second

// DefaultTopK is the tool-search depth used by the router fallback.
const DefaultTopK = 5

// Entry is one tool description to index.
type Entry struct {
	ID          string // "<appName>:<toolName>"
	AppName     string // namespace
	ToolName    string
	Description string
	Metadata    map[string]string
}

// Match is a search result with its cosine similarity (1 minus the cosine
// distance, in [-1,1]; higher is closer).
type Match struct {
	ToolName    string
	Description string
	Similarity  float64
	Metadata    map[string]string
}

// Querier defines the database operations the catalog depends on.
// Interfaces are defined by the consumer; the pgvector implementation lives
// in pgvector.go and tests substitute a mock.
type Querier interface {
	// UpsertEntries inserts or replaces one batch of embedded entries.
	UpsertEntries(ctx context.Context, entries []Entry, vectors [][]float32) error

	// Search returns the topK nearest entries of the namespace by cosine
	// distance.
	Search(ctx context.Context, appName string, vector []float32, topK int) ([]Match, error)

	// EnsureIndex verifies the vector column width. It does not check that
	// the cosine index exists.
	EnsureIndex(ctx context.Context, dim int) error
}

// Catalog embeds tool descriptions and performs namespaced similarity search.
//
// Catalog is safe for concurrent use.
type Catalog struct {
	q        Querier
	embedder ai.Embedder
	cache    *cache.Cache
	logger   *slog.Logger
}

// New creates a Catalog.
func New(q Querier, embedder ai.Embedder, c *cache.Cache, logger *slog.Logger) (*Catalog, error) {
	if q == nil {
		return nil, errors.New("querier is required")
	}
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{q: q, embedder: embedder, cache: c, logger: logger}, nil
}

// EnsureIndex verifies the embedding column has the expected dimension. The
// presence of the cosine index is not checked.
func (c *Catalog) EnsureIndex(ctx context.Context) error {
	return c.q.EnsureIndex(ctx, VectorDimension)
}

// embedText is the canonical embedding input for a tool entry.
func embedText(toolName, description string) string {
	return toolName + ": " + description
}

// Ingest embeds and upserts the entries into their app namespaces in batches
// of UpsertBatchSize. Re-ingesting the same entries is idempotent.
// Returns the number of entries written.
func (c *Catalog) Ingest(ctx context.Context, entries []Entry) (int, error) {
	written := 0
	for start := 0; start < len(entries); start += UpsertBatchSize {
		end := min(start+UpsertBatchSize, len(entries))
		batch := entries[start:end]

		vectors, err := c.embedBatch(ctx, batch)
		if err != nil {
			return written, err
		}
		if err := c.q.UpsertEntries(ctx, batch, vectors); err != nil {
			return written, fmt.Errorf("upserting %d entries: %w", len(batch), err)
		}
		written += len(batch)
	}

	c.logger.Debug("ingested tool entries", "count", written)
	return written, nil
}

// embedBatch embeds one batch of entries in a single embedder request.
func (c *Catalog) embedBatch(ctx context.Context, batch []Entry) ([][]float32, error) {
	docs := make([]*ai.Document, len(batch))
	for i, e := range batch {
		docs[i] = &ai.Document{Content: []*ai.Part{ai.NewTextPart(embedText(e.ToolName, e.Description))}}
	}

	resp, err := c.embedder.Embed(ctx, &ai.EmbedRequest{Input: docs})
	if err != nil {
		return nil, fmt.Errorf("embedding batch: %w", err)
	}
	if len(resp.Embeddings) != len(batch) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d inputs", len(resp.Embeddings), len(batch))
	}

	vectors := make([][]float32, len(batch))
	for i, emb := range resp.Embeddings {
		if len(emb.Embedding) == 0 {
			return nil, fmt.Errorf("empty embedding for entry %q", batch[i].ID)
		}
		vectors[i] = emb.Embedding
	}
	return vectors, nil
}

// Search returns the topK most similar tools of the app namespace for the
// query, cached by (appName, query) for the tool-search TTL.
func (c *Catalog) Search(ctx context.Context, appName, query string, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	key := cache.ToolSearchKey(appName, query)
	if c.cache != nil {
		var cached []Match
		if c.cache.GetJSON(ctx, key, &cached) {
			return cached, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	resp, err := c.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{{Content: []*ai.Part{ai.NewTextPart(query)}}},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, errors.New("empty embedding returned for query")
	}

	matches, err := c.q.Search(ctx, appName, resp.Embeddings[0].Embedding, topK)
	if err != nil {
		return nil, fmt.Errorf("searching namespace %q: %w", appName, err)
	}

	if c.cache != nil {
		c.cache.SetJSON(ctx, key, matches, cache.TTLToolSearch)
	}
	return matches, nil
}
