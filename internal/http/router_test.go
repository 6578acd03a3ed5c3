package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"glideway/internal/infra"
)

func newTestServer(origins []string, checks map[string]HealthCheck) http.Handler {
	gin.SetMode(gin.TestMode)
	return NewServer(ServerDeps{
		Verifier:       infra.NewJWTVerifier("router-test"),
		AllowedOrigins: origins,
		Checks:         checks,
	}).Routes()
}

func TestHealth(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name   string
		checks map[string]HealthCheck
		code   int
		status string
	}{
		{"no deps", nil, http.StatusOK, "ok"},
		{"all up", map[string]HealthCheck{"postgres": ok, "redis": ok}, http.StatusOK, "ok"},
		{"redis down", map[string]HealthCheck{"postgres": ok, "redis": down}, http.StatusServiceUnavailable, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			newTestServer(nil, tt.checks).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			if w.Code != tt.code {
				t.Fatalf("expected %d, got %d", tt.code, w.Code)
			}
			var body struct {
				Status       string            `json:"status"`
				Dependencies map[string]string `json:"dependencies"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body.Status != tt.status {
				t.Fatalf("expected status %q, got %q", tt.status, body.Status)
			}
			if tt.status == "degraded" && body.Dependencies["redis"] != "connection refused" {
				t.Fatalf("unexpected dependencies %v", body.Dependencies)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	w := httptest.NewRecorder()
	newTestServer(nil, nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Fatalf("unexpected metrics response %d", w.Code)
	}
}

func TestCORS(t *testing.T) {
	preflight := func(h http.Handler, origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/poolrides/search", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodGet)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	w := preflight(newTestServer([]string{"*"}, nil), "https://any.example")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("wildcard: expected *, got %q", got)
	}

	h := newTestServer([]string{"https://app.glideway.io"}, nil)
	w = preflight(h, "https://app.glideway.io")
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.glideway.io" {
		t.Fatalf("allowed origin: got %q", got)
	}
	w = preflight(h, "https://evil.example")
	if w.Code != http.StatusForbidden {
		t.Fatalf("unknown origin: expected 403, got %d", w.Code)
	}
}

func TestPoolRideRoutesRequireAuth(t *testing.T) {
	h := newTestServer(nil, nil)
	for _, path := range []string{"/api/poolrides/search", "/api/poolrides/mine", "/api/ws"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, w.Code)
		}
	}
}
