package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"resty.dev/v3"
)

// Deadlines per operation class.
const (
	connectionTimeout = 10 * time.Second
	toolFetchTimeout  = 10 * time.Second
	executeTimeout    = 30 * time.Second
)

// apiError is the broker's error envelope.
type apiError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Client talks to the integration broker over HTTP.
//
// Client is safe for concurrent use.
type Client struct {
	http   *resty.Client
	logger *slog.Logger
}

// New creates a broker client for the given base URL and API key.
func New(baseURL, apiKey string, logger *slog.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("broker base URL is required")
	}
	if apiKey == "" {
		return nil, errors.New("broker API key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetHeader("x-api-key", apiKey).
		SetHeader("Content-Type", "application/json")

	return &Client{http: httpClient, logger: logger}, nil
}

// Close releases the underlying HTTP resources.
func (c *Client) Close() error {
	return c.http.Close()
}

// Initiate starts the OAuth-style handshake for (appName, entityID) and
// returns the new account with its redirect URL.
func (c *Client) Initiate(ctx context.Context, appName, entityID string) (*ConnectionInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()

	var out struct {
		ConnectedAccountID string `json:"connectedAccountId"`
		RedirectURL        string `json:"redirectUrl"`
		Status             string `json:"status"`
	}
	var apiErr apiError

	resp, err := c.http.R().
		SetContext(ctx).
		SetForceResponseContentType("application/json").
		SetBody(map[string]string{"appName": appName, "entityId": entityID}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/api/v1/connections")
	if err != nil {
		return nil, fmt.Errorf("initiating %s connection: %w", appName, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("initiating %s connection: broker returned %d: %s", appName, resp.StatusCode(), apiErr.Message)
	}

	c.logger.Debug("initiated connection", "app", appName, "entity", entityID, "account", out.ConnectedAccountID)
	return &ConnectionInfo{
		ID:          out.ConnectedAccountID,
		AppName:     appName,
		Status:      out.Status,
		RedirectURL: out.RedirectURL,
	}, nil
}

// Get fetches the current state of a connected account.
func (c *Client) Get(ctx context.Context, connectedAccountID string) (*ConnectionInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()

	var out ConnectionInfo
	var apiErr apiError

	resp, err := c.http.R().
		SetContext(ctx).
		SetForceResponseContentType("application/json").
		SetPathParam("id", connectedAccountID).
		SetResult(&out).
		SetError(&apiErr).
		Get("/api/v1/connections/{id}")
	if err != nil {
		return nil, fmt.Errorf("getting connection %s: %w", connectedAccountID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("getting connection %s: broker returned %d: %s", connectedAccountID, resp.StatusCode(), apiErr.Message)
	}
	return &out, nil
}

// Reinitiate restarts the handshake for an expired or inactive account.
func (c *Client) Reinitiate(ctx context.Context, connectedAccountID, redirectURI string) (*ConnectionInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()

	var out ConnectionInfo
	var apiErr apiError

	resp, err := c.http.R().
		SetContext(ctx).
		SetForceResponseContentType("application/json").
		SetPathParam("id", connectedAccountID).
		SetBody(map[string]string{"redirectUri": redirectURI}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/api/v1/connections/{id}/reinitiate")
	if err != nil {
		return nil, fmt.Errorf("reinitiating connection %s: %w", connectedAccountID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("reinitiating connection %s: broker returned %d: %s", connectedAccountID, resp.StatusCode(), apiErr.Message)
	}
	return &out, nil
}

// Tools fetches tool descriptors matching the filter.
func (c *Client) Tools(ctx context.Context, filter ToolFilter) ([]ToolDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, toolFetchTimeout)
	defer cancel()

	var out struct {
		Tools []ToolDescriptor `json:"tools"`
	}
	var apiErr apiError

	resp, err := c.http.R().
		SetContext(ctx).
		SetForceResponseContentType("application/json").
		SetBody(filter).
		SetResult(&out).
		SetError(&apiErr).
		Post("/api/v1/tools/list")
	if err != nil {
		return nil, fmt.Errorf("listing tools: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("listing tools: broker returned %d: %s", resp.StatusCode(), apiErr.Message)
	}
	return out.Tools, nil
}

// Execute runs one action against a connected account. Transport errors are
// returned as errors; per-tool failures come back inside ExecuteResult.
func (c *Client) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error) {
	ctx, cancel := context.WithTimeout(ctx, executeTimeout)
	defer cancel()

	var out ExecuteResult
	var apiErr apiError

	resp, err := c.http.R().
		SetContext(ctx).
		SetForceResponseContentType("application/json").
		SetBody(req).
		SetResult(&out).
		SetError(&apiErr).
		Post("/api/v1/tools/execute")
	if err != nil {
		return nil, fmt.Errorf("executing %s: %w", req.Action, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("executing %s: broker returned %d: %s", req.Action, resp.StatusCode(), apiErr.Message)
	}

	c.logger.Debug("executed tool",
		"action", req.Action, "successful", out.Successful)
	return &out, nil
}
