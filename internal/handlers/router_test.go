package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func TestHealthHandlersHealthz(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(30 * time.Second)
	handlers := NewHealthHandlers(
		WithHealthBuildInfo(BuildInfo{Version: "1.0.0", CommitSHA: "abc123", Environment: "prod", StartedAt: start}),
		WithHealthClock(func() time.Time { return now }),
	)

	rr := httptest.NewRecorder()
	handlers.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	body := decodeMap(t, rr)
	if body["status"] != healthStatusOK || body["version"] != "1.0.0" || body["commitSha"] != "abc123" {
		t.Fatalf("unexpected body %v", body)
	}
	if body["uptime"] != "30s" {
		t.Fatalf("expected uptime 30s, got %v", body["uptime"])
	}
}

func TestHealthHandlersReadyz(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)
	failing := errors.New("connection refused")
	handlers := NewHealthHandlers(
		WithHealthClock(func() time.Time { return now }),
		WithReadinessCheck("session", func(context.Context) error { return nil }),
		WithReadinessCheck("orders", func(context.Context) error { return failing }),
	)

	rr := httptest.NewRecorder()
	handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	var body struct {
		Status  string                 `json:"status"`
		Checks  map[string]checkResult `json:"checks"`
		Details []string               `json:"details"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != healthStatusDegraded || body.Checks["session"].Status != healthStatusOK {
		t.Fatalf("unexpected body %+v", body)
	}
	if len(body.Details) != 1 || body.Details[0] != "orders: connection refused" {
		t.Fatalf("unexpected details %v", body.Details)
	}
}

func TestNewRouterMounts(t *testing.T) {
	var apiMiddlewareRan bool
	router := NewRouter(
		WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		})),
		WithAPIMiddlewares(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				apiMiddlewareRan = true
				next.ServeHTTP(w, r)
			})
		}),
		WithCheckoutRoutes(func(r chi.Router) {
			r.Get("/checkout/totals", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			})
		}),
	)

	cases := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"healthz", http.MethodGet, "/healthz", http.StatusOK},
		{"readyz without checks", http.MethodGet, "/readyz", http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", http.StatusOK},
		{"checkout", http.MethodGet, "/api/v1/checkout/totals", http.StatusNoContent},
		{"unknown", http.MethodGet, "/api/v2/checkout", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, nil))
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
		})
	}
	if !apiMiddlewareRan {
		t.Fatal("expected API middleware to run for /api/v1 routes")
	}
}

func TestNewRouterWithoutCheckoutRoutes(t *testing.T) {
	rr := httptest.NewRecorder()
	NewRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/checkout/cart", nil))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("expected 501, got %d", rr.Code)
	}
}

func TestNewRouterCORS(t *testing.T) {
	router := NewRouter(WithAllowedOrigins("https://shop.example.com"))
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/checkout/cart", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://shop.example.com" {
		t.Fatalf("expected CORS origin header, got %q", got)
	}
}

func TestStartLimiterPrunesWindows(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := newStartLimiter(2, time.Minute, func() time.Time { return now })
	for i := 0; i < 2; i++ {
		if ok, _ := limiter.Allow("a"); !ok {
			t.Fatalf("attempt %d should pass", i)
		}
	}
	if ok, wait := limiter.Allow("a"); ok || wait != time.Minute {
		t.Fatalf("expected refusal with 1m wait, got %v %v", ok, wait)
	}
	now = now.Add(2 * time.Minute)
	limiter.Allow("b")
	if _, ok := limiter.windows["a"]; ok {
		t.Fatal("expected stale window to be pruned")
	}
	if newStartLimiter(0, time.Minute, nil) != nil {
		t.Fatal("expected nil limiter when disabled")
	}
}
