package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/maestrohq/maestro/internal/log"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, "test-key", log.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestInitiate(t *testing.T) {
	var gotBody map[string]string
	var gotKey string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/connections" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotKey = r.Header.Get("x-api-key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"connectedAccountId": "acc_123",
			"redirectUrl":        "https://broker.example.com/oauth/abc",
			"status":             "INITIATED",
		})
	}))

	info, err := c.Initiate(context.Background(), "GOOGLEDOCS", "u1")
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	if gotKey != "test-key" {
		t.Errorf("x-api-key = %q", gotKey)
	}
	if gotBody["appName"] != "GOOGLEDOCS" || gotBody["entityId"] != "u1" {
		t.Errorf("request body = %v", gotBody)
	}
	if info.ID != "acc_123" || info.Status != "INITIATED" || info.RedirectURL == "" {
		t.Errorf("info = %+v", info)
	}
}

func TestGetAndReinitiate(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/connections/acc_123":
			_ = json.NewEncoder(w).Encode(ConnectionInfo{ID: "acc_123", AppName: "GMAIL", Status: "ACTIVE"})
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/connections/acc_123/reinitiate":
			_ = json.NewEncoder(w).Encode(ConnectionInfo{ID: "acc_123", Status: "INITIATED", RedirectURL: "https://x"})
		default:
			http.NotFound(w, r)
		}
	}))
	ctx := context.Background()

	info, err := c.Get(ctx, "acc_123")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if info.Status != "ACTIVE" {
		t.Errorf("status = %q", info.Status)
	}

	re, err := c.Reinitiate(ctx, "acc_123", "https://app.example.com/callback")
	if err != nil {
		t.Fatalf("Reinitiate: %v", err)
	}
	if re.Status != "INITIATED" {
		t.Errorf("reinitiated status = %q", re.Status)
	}
}

func TestToolsFilter(t *testing.T) {
	var gotFilter ToolFilter
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotFilter)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tools": []ToolDescriptor{
				{Name: "GOOGLEDOCS_CREATE_DOCUMENT", AppName: "GOOGLEDOCS", Description: "Create a document"},
			},
		})
	}))

	tools, err := c.Tools(context.Background(), ToolFilter{Actions: []string{"GOOGLEDOCS_CREATE_DOCUMENT"}})
	if err != nil {
		t.Fatalf("Tools: %v", err)
	}
	if len(gotFilter.Actions) != 1 || gotFilter.Actions[0] != "GOOGLEDOCS_CREATE_DOCUMENT" {
		t.Errorf("filter sent = %+v", gotFilter)
	}
	if len(tools) != 1 || tools[0].Name != "GOOGLEDOCS_CREATE_DOCUMENT" {
		t.Errorf("tools = %+v", tools)
	}
}

func TestExecuteSuccessAndFailure(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ExecuteRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Action == "GMAIL_SEND_EMAIL" {
			_ = json.NewEncoder(w).Encode(ExecuteResult{Successful: true, Data: map[string]any{"id": "m1"}})
			return
		}
		_ = json.NewEncoder(w).Encode(ExecuteResult{Successful: false, Error: "rate limited"})
	}))
	ctx := context.Background()

	ok, err := c.Execute(ctx, ExecuteRequest{Action: "GMAIL_SEND_EMAIL", ConnectedAccountID: "acc", EntityID: "u1"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !ok.Successful || ok.Data["id"] != "m1" {
		t.Errorf("result = %+v", ok)
	}

	failed, err := c.Execute(ctx, ExecuteRequest{Action: "GMAIL_BROKEN", ConnectedAccountID: "acc", EntityID: "u1"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if failed.Successful || failed.Error != "rate limited" {
		t.Errorf("result = %+v", failed)
	}
}

func TestBrokerErrorStatus(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "invalid api key"})
	}))

	if _, err := c.Tools(context.Background(), ToolFilter{Apps: []string{"GMAIL"}}); err == nil {
		t.Fatal("Tools should surface non-2xx responses as errors")
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New("", "key", log.NewNop()); err == nil {
		t.Error("New without base URL should fail")
	}
	if _, err := New("https://broker.example.com", "", log.NewNop()); err == nil {
		t.Error("New without API key should fail")
	}
}
