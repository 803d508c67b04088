package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/maestrohq/maestro/internal/log"
)

type fakeChecker struct {
	storeErr error
	cacheErr error
}

func (f *fakeChecker) StorePing(context.Context) error { return f.storeErr }
func (f *fakeChecker) CachePing(context.Context) error { return f.cacheErr }

func getPath(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h := NewServer(ServerConfig{Logger: log.NewNop()}).Handler()
	if rec := getPath(t, h, "/health"); rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}
}

func TestReady(t *testing.T) {
	checker := &fakeChecker{}
	h := NewServer(ServerConfig{Logger: log.NewNop(), Health: checker}).Handler()

	if rec := getPath(t, h, "/ready"); rec.Code != http.StatusOK {
		t.Errorf("ready status = %d, want 200", rec.Code)
	}

	checker.storeErr = errors.New("db down")
	if rec := getPath(t, h, "/ready"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ready status with store down = %d, want 503", rec.Code)
	}

	checker.storeErr = nil
	checker.cacheErr = errors.New("redis down")
	if rec := getPath(t, h, "/ready"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ready status with cache down = %d, want 503", rec.Code)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	h := NewServer(ServerConfig{Logger: log.NewNop()}).Handler()
	if rec := getPath(t, h, "/api/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
