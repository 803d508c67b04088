package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/maestrohq/maestro/internal/connection"
	"github.com/maestrohq/maestro/internal/store"
)

// ConnectionService is the registry surface the connection endpoints depend on.
type ConnectionService interface {
	Initiate(ctx context.Context, userID, appName string) (*connection.InitiateResult, error)
	Callback(ctx context.Context, userID, appName, accountID, status string) (*store.AppConnection, error)
}

// ConnectionHandler serves the app connection handshake endpoints.
type ConnectionHandler struct {
	conns  ConnectionService
	logger *slog.Logger
}

// NewConnectionHandler creates a ConnectionHandler.
func NewConnectionHandler(conns ConnectionService, logger *slog.Logger) *ConnectionHandler {
	return &ConnectionHandler{conns: conns, logger: logger}
}

// RegisterRoutes registers the connection routes.
func (h *ConnectionHandler) RegisterRoutes(mux *http.ServeMux) {
	if h.conns == nil {
		h.logger.Warn("connection service not configured, connection endpoints not registered")
		return
	}
	mux.HandleFunc("POST /api/connections/initiate", h.handleInitiate)
	mux.HandleFunc("POST /api/connections/callback", h.handleCallback)
}

type initiateRequest struct {
	AppName string `json:"appName"`
	UserID  string `json:"userId"`
}

type initiateResponse struct {
	RedirectURL        string `json:"redirectUrl,omitempty"`
	ConnectedAccountID string `json:"connectedAccountId"`
}

func (h *ConnectionHandler) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.AppName) == "" || strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "appName and userId are required")
		return
	}

	res, err := h.conns.Initiate(r.Context(), req.UserID, req.AppName)
	if err != nil {
		h.logger.Error("connection initiate failed",
			"user_id", req.UserID, "app", req.AppName, "error", err)
		writeError(w, http.StatusInternalServerError, "could not initiate connection")
		return
	}

	writeJSON(w, http.StatusOK, initiateResponse{
		RedirectURL:        res.RedirectURL,
		ConnectedAccountID: res.AccountID,
	})
}

type callbackRequest struct {
	ConnectedAccountID string `json:"connectedAccountId"`
	UserID             string `json:"userId"`
	AppName            string `json:"appName"`
	Status             string `json:"status,omitempty"`
}

type callbackResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (h *ConnectionHandler) handleCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ConnectedAccountID == "" || req.UserID == "" || req.AppName == "" {
		writeError(w, http.StatusBadRequest, "connectedAccountId, userId and appName are required")
		return
	}

	status := req.Status
	if status == "" {
		status = store.StatusActive
	}

	conn, err := h.conns.Callback(r.Context(), req.UserID, req.AppName, req.ConnectedAccountID, status)
	if err != nil {
		if errors.Is(err, connection.ErrInvalidTransition) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error("connection callback failed",
			"user_id", req.UserID, "app", req.AppName, "error", err)
		writeError(w, http.StatusInternalServerError, "could not complete connection")
		return
	}

	writeJSON(w, http.StatusOK, callbackResponse{
		ID:     conn.ID.String(),
		Status: conn.Status,
	})
}
