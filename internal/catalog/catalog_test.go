package catalog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"testing"

	"github.com/maestrohq/maestro/internal/cache"
	"github.com/maestrohq/maestro/internal/log"
	"github.com/maestrohq/maestro/internal/testutil"
)

// memQuerier implements Querier in memory with exact cosine similarity.
type memQuerier struct {
	mu          sync.Mutex
	entries     map[string]Entry     // id → entry
	vectors     map[string][]float32 // id → vector
	upsertCalls int
	batchSizes  []int
	searchErr   error
}

func newMemQuerier() *memQuerier {
	return &memQuerier{
		entries: make(map[string]Entry),
		vectors: make(map[string][]float32),
	}
}

func (m *memQuerier) UpsertEntries(_ context.Context, entries []Entry, vectors [][]float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertCalls++
	m.batchSizes = append(m.batchSizes, len(entries))
	for i, e := range entries {
		m.entries[e.ID] = e
		m.vectors[e.ID] = vectors[i]
	}
	return nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func (m *memQuerier) Search(_ context.Context, appName string, vector []float32, topK int) ([]Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	var matches []Match
	for id, e := range m.entries {
		if e.AppName != appName {
			continue
		}
		matches = append(matches, Match{
			ToolName:    e.ToolName,
			Description: e.Description,
			Similarity:  cosine(vector, m.vectors[id]),
			Metadata:    e.Metadata,
		})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (m *memQuerier) EnsureIndex(context.Context, int) error { return nil }

func newCatalog(t *testing.T, q Querier, withCache bool) (*Catalog, *testutil.MemoryRedis) {
	t.Helper()

	g := testutil.NewGenkit(t)
	embedder := testutil.NewMockEmbedder(8).RegisterEmbedder(g)

	var c *cache.Cache
	var rdb *testutil.MemoryRedis
	if withCache {
		rdb = testutil.NewMemoryRedis()
		c = cache.New(rdb, log.NewNop())
	}

	cat, err := New(q, embedder, c, log.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return cat, rdb
}

func gmailEntries(n int) []Entry {
	entries := make([]Entry, n)
	for i := range entries {
		name := fmt.Sprintf("GMAIL_TOOL_%03d", i)
		entries[i] = Entry{
			ID:          "GMAIL:" + name,
			AppName:     "GMAIL",
			ToolName:    name,
			Description: fmt.Sprintf("gmail operation number %d", i),
		}
	}
	return entries
}

func TestIngestBatches(t *testing.T) {
	q := newMemQuerier()
	cat, _ := newCatalog(t, q, false)

	n, err := cat.Ingest(context.Background(), gmailEntries(250))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if n != 250 {
		t.Errorf("written = %d, want 250", n)
	}
	if len(q.batchSizes) != 3 {
		t.Fatalf("batches = %v, want 3 batches", q.batchSizes)
	}
	for i, size := range q.batchSizes {
		if size > UpsertBatchSize {
			t.Errorf("batch %d carries %d entries, max %d", i, size, UpsertBatchSize)
		}
	}
}

func TestIngestIdempotent(t *testing.T) {
	q := newMemQuerier()
	cat, _ := newCatalog(t, q, false)
	ctx := context.Background()

	entries := gmailEntries(5)
	if _, err := cat.Ingest(ctx, entries); err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	firstCount := len(q.entries)

	if _, err := cat.Ingest(ctx, entries); err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if len(q.entries) != firstCount {
		t.Errorf("re-ingest changed entry count: %d → %d", firstCount, len(q.entries))
	}
}

func TestSearchNamespaced(t *testing.T) {
	q := newMemQuerier()
	cat, _ := newCatalog(t, q, false)
	ctx := context.Background()

	entries := []Entry{
		{ID: "GMAIL:GMAIL_SEND_EMAIL", AppName: "GMAIL", ToolName: "GMAIL_SEND_EMAIL", Description: "send an email"},
		{ID: "GOOGLEDOCS:GOOGLEDOCS_CREATE_DOCUMENT", AppName: "GOOGLEDOCS", ToolName: "GOOGLEDOCS_CREATE_DOCUMENT", Description: "create a document"},
	}
	if _, err := cat.Ingest(ctx, entries); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	matches, err := cat.Search(ctx, "GMAIL", "send an email", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, m := range matches {
		if m.ToolName == "GOOGLEDOCS_CREATE_DOCUMENT" {
			t.Error("GMAIL search returned a GOOGLEDOCS tool")
		}
	}
	if len(matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(matches))
	}
}

func TestSearchRanksBySimilarity(t *testing.T) {
	q := newMemQuerier()

	g := testutil.NewGenkit(t)
	mock := testutil.NewMockEmbedder(4)
	// Orthogonal vs aligned vectors give exact control over similarity.
	mock.SetVector(embedText("GMAIL_SEND_EMAIL", "send an email"), []float32{1, 0, 0, 0})
	mock.SetVector(embedText("GMAIL_LIST_LABELS", "list mailbox labels"), []float32{0, 1, 0, 0})
	mock.SetVector("send an email to bob", []float32{0.9, 0.1, 0, 0})
	embedder := mock.RegisterEmbedder(g)

	cat, err := New(q, embedder, nil, log.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	_, err = cat.Ingest(ctx, []Entry{
		{ID: "GMAIL:GMAIL_SEND_EMAIL", AppName: "GMAIL", ToolName: "GMAIL_SEND_EMAIL", Description: "send an email"},
		{ID: "GMAIL:GMAIL_LIST_LABELS", AppName: "GMAIL", ToolName: "GMAIL_LIST_LABELS", Description: "list mailbox labels"},
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	matches, err := cat.Search(ctx, "GMAIL", "send an email to bob", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 || matches[0].ToolName != "GMAIL_SEND_EMAIL" {
		t.Fatalf("ranking wrong: %+v", matches)
	}
	if matches[0].Similarity <= matches[1].Similarity {
		t.Error("results not ordered by similarity")
	}
}

func TestSearchCached(t *testing.T) {
	q := newMemQuerier()
	cat, _ := newCatalog(t, q, true)
	ctx := context.Background()

	if _, err := cat.Ingest(ctx, gmailEntries(3)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if _, err := cat.Search(ctx, "GMAIL", "anything", 5); err != nil {
		t.Fatalf("first Search: %v", err)
	}

	// Backend failures are invisible while the cache holds the result.
	q.searchErr = errors.New("db down")
	if _, err := cat.Search(ctx, "GMAIL", "anything", 5); err != nil {
		t.Fatalf("cached Search: %v", err)
	}

	// A different query must reach the backend.
	if _, err := cat.Search(ctx, "GMAIL", "something else", 5); err == nil {
		t.Fatal("uncached Search should surface backend error")
	}
}

func TestSearchDefaultTopK(t *testing.T) {
	q := newMemQuerier()
	cat, _ := newCatalog(t, q, false)
	ctx := context.Background()

	if _, err := cat.Ingest(ctx, gmailEntries(10)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	matches, err := cat.Search(ctx, "GMAIL", "gmail operation", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != DefaultTopK {
		t.Errorf("matches = %d, want default top-K %d", len(matches), DefaultTopK)
	}
}
