package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maestrohq/maestro/internal/broker"
)

// ToolSource supplies tool descriptors for ingestion.
type ToolSource interface {
	Tools(ctx context.Context, filter broker.ToolFilter) ([]broker.ToolDescriptor, error)
}

// Ingestor pulls an app's tool descriptors from the broker and indexes them
// into the app's vector namespace. It also fronts search so the admin
// surface deals with one type.
type Ingestor struct {
	source  ToolSource
	catalog *Catalog
	logger  *slog.Logger
}

// NewIngestor creates an Ingestor.
func NewIngestor(source ToolSource, c *Catalog, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{source: source, catalog: c, logger: logger}
}

// IngestApp fetches all tools of the app and upserts them into the app's
// namespace. Returns the number of entries written.
func (i *Ingestor) IngestApp(ctx context.Context, appName string) (int, error) {
	tools, err := i.source.Tools(ctx, broker.ToolFilter{Apps: []string{appName}})
	if err != nil {
		return 0, fmt.Errorf("fetching tools for %s: %w", appName, err)
	}
	if len(tools) == 0 {
		i.logger.Warn("broker returned no tools for app", "app", appName)
		return 0, nil
	}

	entries := make([]Entry, 0, len(tools))
	for _, t := range tools {
		app := t.AppName
		if app == "" {
			app = appName
		}
		entries = append(entries, Entry{
			ID:          app + ":" + t.Name,
			AppName:     app,
			ToolName:    t.Name,
			Description: t.Description,
			Metadata: map[string]string{
				"displayName": t.DisplayName,
			},
		})
	}

	n, err := i.catalog.Ingest(ctx, entries)
	if err != nil {
		return n, err
	}
	i.logger.Info("ingested app tools", "app", appName, "count", n)
	return n, nil
}

// Search performs a namespaced cosine search (see Catalog.Search).
func (i *Ingestor) Search(ctx context.Context, appName, query string, topK int) ([]Match, error) {
	return i.catalog.Search(ctx, appName, query, topK)
}
