package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/maestrohq/maestro/internal/cache"
)

// Generation parameters for the routing model call.
const (
	routeTemperature = 0.1
	routeMaxTokens   = 500
)

const routeSystemPrompt = `You route user requests to third-party apps and their tools.
You are given a catalog of apps, each with its canonical tool names and
descriptions. Answer with the apps and tools needed to satisfy the request.
Only use app names and tool names that appear in the catalog. Prefer the
smallest set that covers the request.`

// Decision is the router's structured answer: app names drawn from the
// catalog keys and tool names drawn from the union of catalog entries.
type Decision struct {
	Apps  []string `json:"apps" jsonschema_description:"App names from the catalog, most relevant first"`
	Tools []string `json:"tools" jsonschema_description:"Tool names from the catalog"`
}

// Router answers route queries from the static top-tools catalog via a
// low-temperature structured-output model call, cached by query hash.
//
// Router is safe for concurrent use.
type Router struct {
	g         *genkit.Genkit
	modelName string
	catalog   TopTools
	cache     *cache.Cache
	logger    *slog.Logger

	catalogPrompt string // rendered once at construction
}

// NewRouter creates a Router over the given catalog.
func NewRouter(g *genkit.Genkit, modelName string, catalog TopTools, c *cache.Cache, logger *slog.Logger) (*Router, error) {
	if g == nil {
		return nil, errors.New("genkit instance is required")
	}
	if modelName == "" {
		return nil, errors.New("model name is required")
	}
	if len(catalog) == 0 {
		return nil, errors.New("top-tools catalog is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	rendered, err := json.MarshalIndent(catalog, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("rendering catalog: %w", err)
	}

	return &Router{
		g:             g,
		modelName:     modelName,
		catalog:       catalog,
		cache:         c,
		logger:        logger,
		catalogPrompt: string(rendered),
	}, nil
}

// Route returns the apps and tools the model selects for the query, filtered
// against the catalog. Results are cached by query hash for the app-routing
// TTL. Failures are returned to the caller, which falls back to the
// analysis recommendations.
func (r *Router) Route(ctx context.Context, query string) (*Decision, error) {
	key := cache.RoutingKey(query)
	if r.cache != nil {
		var cached Decision
		if r.cache.GetJSON(ctx, key, &cached) {
			return &cached, nil
		}
	}

	var sb strings.Builder
	sb.WriteString("Catalog:\n")
	sb.WriteString(r.catalogPrompt)
	sb.WriteString("\n\nUser request: ")
	sb.WriteString(query)

	resp, err := genkit.Generate(ctx, r.g,
		ai.WithModelName(r.modelName),
		ai.WithSystem(routeSystemPrompt),
		ai.WithPrompt(sb.String()),
		ai.WithOutputType(Decision{}),
		ai.WithConfig(&ai.GenerationCommonConfig{
			Temperature:     routeTemperature,
			MaxOutputTokens: routeMaxTokens,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("routing query: %w", err)
	}

	var out Decision
	if err := resp.Output(&out); err != nil {
		return nil, fmt.Errorf("decoding route decision: %w", err)
	}

	filtered := r.filter(&out)
	if r.cache != nil {
		r.cache.SetJSON(ctx, key, filtered, cache.TTLAppRouting)
	}

	r.logger.Debug("routed query", "apps", filtered.Apps, "tools", len(filtered.Tools))
	return filtered, nil
}

// filter drops apps and tools the catalog does not know.
func (r *Router) filter(d *Decision) *Decision {
	out := &Decision{}
	seenApps := make(map[string]struct{})
	for _, app := range d.Apps {
		if !r.catalog.HasApp(app) {
			r.logger.Debug("dropping unknown app from route", "app", app)
			continue
		}
		if _, dup := seenApps[app]; dup {
			continue
		}
		seenApps[app] = struct{}{}
		out.Apps = append(out.Apps, app)
	}

	seenTools := make(map[string]struct{})
	for _, tool := range d.Tools {
		if !r.catalog.HasTool(tool) {
			r.logger.Debug("dropping unknown tool from route", "tool", tool)
			continue
		}
		if _, dup := seenTools[tool]; dup {
			continue
		}
		seenTools[tool] = struct{}{}
		out.Tools = append(out.Tools, tool)
	}
	return out
}
