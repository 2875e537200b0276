package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wearwise/checkout/internal/services"
)

func samplePayload() services.OrderPayload {
	return services.OrderPayload{
		UserID:             "user-1",
		TotalAmount:        270000,
		OriginalAmount:     300000,
		DiscountAmount:     30000,
		DiscountPercentage: "10",
		PaymentMethod:      "gateway_a",
		TransactionID:      "tx-1",
		Items: []services.OrderPayloadItem{
			{ProductID: "p-1", ProductColorID: "c-1", ProductSizeID: "s-1", Quantity: 1, OriginalPrice: 100000, DiscountAmount: 10000, TotalPrice: 90000},
		},
	}
}

func TestHTTPClientCreateOrder(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 8, 0, 0, 0, time.FixedZone("ICT", 7*3600))
	var got services.OrderPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/buyer/order/create-order" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Idempotency-Key") != "tx-1" {
			t.Errorf("expected idempotency key, got %q", r.Header.Get("Idempotency-Key"))
		}
		if r.Header.Get("Authorization") != "Bearer svc" {
			t.Errorf("expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"message":"ok","order":{"id":981,"status":"pending"}}`))
	}))
	t.Cleanup(srv.Close)

	client, err := NewHTTPClient(HTTPConfig{BaseURL: srv.URL, ServiceToken: "svc", Clock: func() time.Time { return fixed }})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	order, err := client.CreateOrder(context.Background(), samplePayload())
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.ID != "981" || order.Status != "pending" || order.TransactionID != "tx-1" {
		t.Fatalf("unexpected order %+v", order)
	}
	if order.CreatedAt.Location() != time.UTC {
		t.Fatalf("expected utc timestamp, got %v", order.CreatedAt)
	}
	if got.TotalAmount != 270000 || len(got.Items) != 1 || got.Items[0].ProductSizeID != "s-1" {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestHTTPClientCreateOrderFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{"message":"boom"}`},
		{name: "error flag", status: http.StatusOK, body: `{"error":true,"message":"out of stock"}`},
		{name: "no id", status: http.StatusOK, body: `{"message":"ok"}`},
		{name: "malformed", status: http.StatusOK, body: `{"order":`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			t.Cleanup(srv.Close)
			client, err := NewHTTPClient(HTTPConfig{BaseURL: srv.URL})
			if err != nil {
				t.Fatalf("new client: %v", err)
			}
			if _, err := client.CreateOrder(context.Background(), samplePayload()); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestHTTPClientAcceptsFlatOrderID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"order_id":"ord-77"}`))
	}))
	t.Cleanup(srv.Close)
	client, err := NewHTTPClient(HTTPConfig{BaseURL: srv.URL, CreatePath: "/orders"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	order, err := client.CreateOrder(context.Background(), samplePayload())
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.ID != "ord-77" || order.Status != "created" {
		t.Fatalf("unexpected order %+v", order)
	}
}

func TestNewHTTPClientValidates(t *testing.T) {
	if _, err := NewHTTPClient(HTTPConfig{}); err == nil {
		t.Fatalf("expected error for empty base url")
	}
	if _, err := NewHTTPClient(HTTPConfig{BaseURL: "/relative"}); err == nil {
		t.Fatalf("expected error for relative base url")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505"}
	if !isUniqueViolation(dup) {
		t.Fatalf("expected unique violation")
	}
	if !isUniqueViolation(fmt.Errorf("insert: %w", dup)) {
		t.Fatalf("expected wrapped unique violation")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatalf("foreign key violation is not a unique violation")
	}
	if isUniqueViolation(errors.New("plain")) {
		t.Fatalf("plain error is not a unique violation")
	}
}

func TestNewPostgresStoreRequiresDB(t *testing.T) {
	if _, err := NewPostgresStore(nil, nil); err == nil {
		t.Fatalf("expected error for nil db")
	}
}
