package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wearwise/checkout/internal/platform/requestctx"
)

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "trace-1"})
	rr := httptest.NewRecorder()
	WriteError(ctx, rr, NewError("payment_failed", "the payment\nwas not completed", http.StatusPaymentRequired).
		WithDetails(map[string]any{"returnPath": "/cart", "status": "overridden"}))

	if rr.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected json content type, got %q", ct)
	}
	body := decode(t, rr)
	if body["error"] != "payment_failed" || body["message"] != "the payment was not completed" {
		t.Fatalf("unexpected envelope %v", body)
	}
	if body["status"] != float64(http.StatusPaymentRequired) {
		t.Fatalf("expected reserved status to win over details, got %v", body["status"])
	}
	if body["returnPath"] != "/cart" || body["trace_id"] != "trace-1" {
		t.Fatalf("expected details and trace id, got %v", body)
	}
	if _, ok := body["retryable"]; ok {
		t.Fatal("expected payment failure not to be retryable")
	}
}

func TestWriteErrorRetryAfter(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(context.Background(), rr, NewError("rate_limited", "slow down", http.StatusTooManyRequests).WithRetryAfter(1500*time.Millisecond))

	if got := rr.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("expected Retry-After rounded up to 2, got %q", got)
	}
	if body := decode(t, rr); body["retryable"] != true {
		t.Fatalf("expected retryable flag, got %v", body)
	}
}

func TestNewErrorDefaultsStatus(t *testing.T) {
	err := NewError("boom", "failed", 0)
	if err.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", err.Status)
	}
	if err.Retryable() {
		t.Fatal("expected 500 not to be retryable")
	}
	if !NewError("provider_unavailable", "later", http.StatusServiceUnavailable).Retryable() {
		t.Fatal("expected 503 to be retryable")
	}
}
