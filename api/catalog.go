package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/maestrohq/maestro/internal/catalog"
)

// CatalogService is the vector catalog surface the admin endpoints depend on.
type CatalogService interface {
	IngestApp(ctx context.Context, appName string) (int, error)
	Search(ctx context.Context, appName, query string, topK int) ([]catalog.Match, error)
}

// CatalogHandler serves the administrative tool-catalog endpoints.
type CatalogHandler struct {
	catalog CatalogService
	logger  *slog.Logger
}

// NewCatalogHandler creates a CatalogHandler.
func NewCatalogHandler(c CatalogService, logger *slog.Logger) *CatalogHandler {
	return &CatalogHandler{catalog: c, logger: logger}
}

// RegisterRoutes registers the catalog routes.
func (h *CatalogHandler) RegisterRoutes(mux *http.ServeMux) {
	if h.catalog == nil {
		h.logger.Warn("catalog service not configured, tool endpoints not registered")
		return
	}
	mux.HandleFunc("POST /api/tools/ingest", h.handleIngest)
	mux.HandleFunc("POST /api/tools/search", h.handleSearch)
}

type ingestRequest struct {
	AppName string `json:"appName"`
}

type ingestResponse struct {
	AppName  string `json:"appName"`
	Ingested int    `json:"ingested"`
}

func (h *CatalogHandler) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.AppName) == "" {
		writeError(w, http.StatusBadRequest, "appName is required")
		return
	}

	n, err := h.catalog.IngestApp(r.Context(), req.AppName)
	if err != nil {
		h.logger.Error("tool ingestion failed", "app", req.AppName, "error", err)
		writeError(w, http.StatusInternalServerError, "could not ingest tools")
		return
	}

	writeJSON(w, http.StatusOK, ingestResponse{AppName: req.AppName, Ingested: n})
}

type searchRequest struct {
	AppName   string `json:"appName"`
	UserQuery string `json:"userQuery"`
	TopK      int    `json:"topK,omitempty"`
}

type searchResponse struct {
	Results []catalog.Match `json:"results"`
}

func (h *CatalogHandler) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.AppName) == "" || strings.TrimSpace(req.UserQuery) == "" {
		writeError(w, http.StatusBadRequest, "appName and userQuery are required")
		return
	}

	matches, err := h.catalog.Search(r.Context(), req.AppName, req.UserQuery, req.TopK)
	if err != nil {
		h.logger.Error("tool search failed", "app", req.AppName, "error", err)
		writeError(w, http.StatusInternalServerError, "could not search tools")
		return
	}

	writeJSON(w, http.StatusOK, searchResponse{Results: matches})
}
