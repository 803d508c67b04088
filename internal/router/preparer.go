package router

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/maestrohq/maestro/internal/analysis"
	"github.com/maestrohq/maestro/internal/broker"
	"github.com/maestrohq/maestro/internal/catalog"
)

// Preparation limits.
const (
	// maxCandidateApps bounds how many apps one turn may touch.
	maxCandidateApps = 3

	// defaultAppPriority applies to candidate apps the analysis did not rank.
	defaultAppPriority = 5

	// vectorTopK is the tool-search depth of the vector fallback.
	vectorTopK = 5
)

// Connections is the authorization surface the preparer depends on.
type Connections interface {
	Usable(ctx context.Context, userID, appName string) bool
	AccountID(ctx context.Context, userID, appName string) (string, error)
}

// ToolSearcher performs the per-app vector similarity fallback.
type ToolSearcher interface {
	Search(ctx context.Context, appName, query string, topK int) ([]catalog.Match, error)
}

// ToolFetcher fetches concrete tool descriptors from the broker.
type ToolFetcher interface {
	Tools(ctx context.Context, filter broker.ToolFilter) ([]broker.ToolDescriptor, error)
}

// Prepared is the outcome of stage 3: the merged tool set for the chat
// model, the apps that lacked a usable connection, and the broker account
// per app for execution.
type Prepared struct {
	Tools               []broker.ToolDescriptor
	RequiredConnections []string
	Accounts            map[string]string // appName → broker account id
}

// Preparer assembles the tool set for a turn. The per-app work (connection
// check, tool selection, descriptor fetch) fans out concurrently with
// all-settled semantics: one app's failure never aborts its siblings.
//
// Preparer is safe for concurrent use.
type Preparer struct {
	router *Router
	conns  Connections
	search ToolSearcher
	tools  ToolFetcher
	logger *slog.Logger
}

// NewPreparer creates a Preparer.
func NewPreparer(r *Router, conns Connections, search ToolSearcher, tools ToolFetcher, logger *slog.Logger) *Preparer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Preparer{router: r, conns: conns, search: search, tools: tools, logger: logger}
}

// Prepare routes the query, ranks the candidate apps by analysis priority,
// and prepares the top apps concurrently.
func (p *Preparer) Prepare(ctx context.Context, a *analysis.ComprehensiveAnalysis, query, userID string, initialToolNames []string) (*Prepared, error) {
	routedTools := initialToolNames

	candidates := a.RecommendedApps
	decision, err := p.router.Route(ctx, query)
	if err != nil {
		p.logger.Warn("routing failed, falling back to analysis recommendations", "error", err)
	} else {
		// Apps the analysis recommends but the router did not pick are excluded.
		candidates = decision.Apps
		routedTools = append(append([]string{}, decision.Tools...), initialToolNames...)
	}

	candidates = topByPriority(candidates, a.ToolPriorities, maxCandidateApps)
	if len(candidates) == 0 {
		return &Prepared{Accounts: map[string]string{}}, nil
	}

	var (
		mu       sync.Mutex
		prepared = Prepared{Accounts: make(map[string]string, len(candidates))}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxCandidateApps)
	for _, app := range candidates {
		g.Go(func() error {
			// Workers never return an error: preparation is all-settled and
			// per-app failures only shrink the tool set.
			p.prepareApp(gctx, app, query, userID, routedTools, &mu, &prepared)
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(prepared.RequiredConnections)
	sort.Slice(prepared.Tools, func(i, j int) bool { return prepared.Tools[i].Name < prepared.Tools[j].Name })

	p.logger.Debug("prepared tools",
		"apps", candidates,
		"tools", len(prepared.Tools),
		"required_connections", prepared.RequiredConnections)
	return &prepared, nil
}

// prepareApp runs the per-app pipeline: authorization, tool selection,
// descriptor fetch.
func (p *Preparer) prepareApp(ctx context.Context, app, query, userID string, routedTools []string, mu *sync.Mutex, out *Prepared) {
	if !p.conns.Usable(ctx, userID, app) {
		mu.Lock()
		out.RequiredConnections = append(out.RequiredConnections, app)
		mu.Unlock()
		return
	}

	accountID, err := p.conns.AccountID(ctx, userID, app)
	if err != nil {
		// Connection passed the check but the account lookup failed: skip the
		// app, not the turn.
		p.logger.Warn("resolving broker account failed, skipping app",
			"app", app, "user_id", userID, "error", err)
		return
	}

	toolNames := namedToolsForApp(app, routedTools)
	if len(toolNames) == 0 {
		matches, err := p.search.Search(ctx, app, query, vectorTopK)
		if err != nil {
			p.logger.Warn("vector tool search failed, skipping app",
				"app", app, "error", err)
			return
		}
		for _, m := range matches {
			toolNames = append(toolNames, m.ToolName)
		}
	}
	if len(toolNames) == 0 {
		p.logger.Debug("no tools selected for app", "app", app)
		return
	}

	descriptors, err := p.tools.Tools(ctx, broker.ToolFilter{Actions: toolNames})
	if err != nil {
		p.logger.Warn("fetching tool descriptors failed, skipping app",
			"app", app, "error", err)
		return
	}

	mu.Lock()
	defer mu.Unlock()
	out.Accounts[app] = accountID
	for _, d := range descriptors {
		if d.AppName == "" {
			d.AppName = app
		}
		out.Tools = append(out.Tools, d)
	}
}

// namedToolsForApp returns the routed tool names prefixed "<app>_".
func namedToolsForApp(app string, routedTools []string) []string {
	prefix := app + "_"
	var named []string
	for _, t := range routedTools {
		if strings.HasPrefix(t, prefix) {
			named = append(named, t)
		}
	}
	return named
}

// topByPriority attaches analysis priorities to the candidate apps (default
// 5), sorts descending, and keeps the first limit entries. The sort is
// stable so equal priorities keep the candidate order.
func topByPriority(candidates []string, priorities []analysis.ToolPriority, limit int) []string {
	byApp := make(map[string]int, len(priorities))
	for _, tp := range priorities {
		if existing, ok := byApp[tp.AppName]; !ok || tp.Priority > existing {
			byApp[tp.AppName] = tp.Priority
		}
	}

	seen := make(map[string]struct{}, len(candidates))
	ranked := make([]string, 0, len(candidates))
	for _, app := range candidates {
		if _, dup := seen[app]; dup {
			continue
		}
		seen[app] = struct{}{}
		ranked = append(ranked, app)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return priorityOf(byApp, ranked[i]) > priorityOf(byApp, ranked[j])
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

func priorityOf(byApp map[string]int, app string) int {
	if p, ok := byApp[app]; ok {
		return p
	}
	return defaultAppPriority
}
