package di

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/wearwise/checkout/internal/domain"
	"github.com/wearwise/checkout/internal/payments"
	"github.com/wearwise/checkout/internal/platform/auth"
	"github.com/wearwise/checkout/internal/platform/config"
	"github.com/wearwise/checkout/internal/platform/idempotency"
	"github.com/wearwise/checkout/internal/services"
)

type stubCatalog struct{}

func (stubCatalog) GetCart(context.Context, string) ([]domain.CartItem, error) {
	return []domain.CartItem{
		{ProductID: "p-1", Name: "Linen shirt", Price: "120000", ColorID: "c-1", SizeID: "s-1", Quantity: 1},
	}, nil
}

func (stubCatalog) GetProduct(_ context.Context, id string) (domain.Product, error) {
	return domain.Product{}, services.ErrCatalogNotFound
}

type stubOrders struct {
	mu       sync.Mutex
	payloads []services.OrderPayload
}

func (s *stubOrders) CreateOrder(_ context.Context, payload services.OrderPayload) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payload)
	return domain.Order{ID: "ord-42", TransactionID: payload.TransactionID, Status: "pending"}, nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Environment: "local",
		Session: config.SessionConfig{
			Backend:    config.SessionBackendMemory,
			Prefix:     "test",
			PendingTTL: 30 * time.Minute,
			SessionTTL: time.Hour,
		},
		Checkout: config.CheckoutConfig{
			Currency:         "VND",
			MinAmount:        1_000,
			MaxAmount:        50_000_000,
			CartReturnPath:   "/cart",
			BuyNowReturnPath: "/products/{productId}",
			PollInterval:     time.Second,
			PollMaxInterval:  time.Second,
			PollMaxAttempts:  2,
		},
		Orders:      config.OrdersConfig{Mode: config.OrdersModeHTTP, BaseURL: "https://orders.example.test"},
		Catalog:     config.CatalogConfig{BaseURL: "https://catalog.example.test"},
		Audit:       config.AuditConfig{SQLitePath: filepath.Join(t.TempDir(), "audit.db"), HashSalt: "salt"},
		Auth:        config.AuthConfig{Mode: config.AuthModeNone},
		Idempotency: config.IdempotencyConfig{Header: "Idempotency-Key", TTL: time.Hour, Backend: "memory"},
	}
}

func TestNewContainerRunsCODCheckout(t *testing.T) {
	orders := &stubOrders{}
	c, err := NewContainer(context.Background(), testConfig(t), nil,
		WithCatalog(stubCatalog{}),
		WithOrderCreator(orders),
	)
	if err != nil {
		t.Fatalf("new container: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	start, err := c.Services.Checkout.Begin(context.Background(), services.BeginCheckoutCommand{
		Scope:         "user-1",
		Source:        services.CartSource{UserID: "user-1"},
		PaymentMethod: "cod",
		Contact:       services.Contact{Phone: "0901234567", Email: "a@example.test", Address: "1 Hang Bai"},
	})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if start.Mode != payments.ModeImmediate || start.OrderID != "ord-42" {
		t.Fatalf("unexpected start %+v", start)
	}
	if len(orders.payloads) != 1 || orders.payloads[0].TotalAmount != 120000 {
		t.Fatalf("unexpected order payloads %+v", orders.payloads)
	}

	entries, err := c.Services.Audit.List(context.Background(), services.AuditLogFilter{CorrelationID: start.CorrelationID})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected audit entries for the checkout")
	}
	if _, ok := c.Idempotency.(*idempotency.MemoryStore); !ok {
		t.Fatalf("expected memory idempotency store, got %T", c.Idempotency)
	}
	if len(c.Readiness) != 0 {
		t.Fatalf("expected no readiness checks for in-process backends, got %d", len(c.Readiness))
	}
}

func TestNewContainerLocalIdentity(t *testing.T) {
	c, err := NewContainer(context.Background(), testConfig(t), nil, WithCatalog(stubCatalog{}), WithOrderCreator(&stubOrders{}))
	if err != nil {
		t.Fatalf("new container: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	var uid string
	handler := c.Auth(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		identity, _ := auth.IdentityFromContext(r.Context())
		uid = identity.UID
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(LocalUserHeader, "user-7")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if uid != "user-7" {
		t.Fatalf("expected user-7, got %q", uid)
	}
}

func TestNewContainerRejectsUnknownSessionBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Session.Backend = "etcd"
	c, err := NewContainer(context.Background(), cfg, nil, WithCatalog(stubCatalog{}), WithOrderCreator(&stubOrders{}))
	if err == nil {
		t.Fatal("expected error for unknown session backend")
	}
	if c != nil {
		t.Fatal("expected nil container on error")
	}
}

func TestBuildRegistryRegistersConfiguredGateways(t *testing.T) {
	cfg := testConfig(t)
	cfg.Gateways.GatewayA = config.GatewayAConfig{
		PayURL:     "https://sandbox.example.test/pay",
		TMNCode:    "TESTCODE",
		HashSecret: "secret",
		ReturnURL:  "https://shop.example.test/return/a",
	}
	cfg.Gateways.Card = config.CardConfig{APIKey: "sk_test_123", ReturnURL: "https://shop.example.test/return/card"}

	registry, err := buildRegistry(cfg, time.Now, nil)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	for _, name := range []string{"cod", "cash", "gateway_a", "card", "stripe"} {
		if _, err := registry.Resolve(name); err != nil {
			t.Fatalf("resolve %s: %v", name, err)
		}
	}
	if _, err := registry.Resolve("gateway_b"); err == nil {
		t.Fatal("expected gateway b to be unregistered without credentials")
	}
}
