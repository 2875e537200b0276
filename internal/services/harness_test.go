package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wearwise/checkout/internal/domain"
	"github.com/wearwise/checkout/internal/payments"
	"github.com/wearwise/checkout/internal/session"
)

const testGatewayASecret = "gateway-a-secret"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(now time.Time) *testClock { return &testClock{now: now} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubCatalog struct {
	mu           sync.Mutex
	carts        map[string][]domain.CartItem
	products     map[string]domain.Product
	err          error
	productCalls int
}

func (s *stubCatalog) GetCart(_ context.Context, userID string) ([]domain.CartItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	cart, ok := s.carts[userID]
	if !ok {
		return nil, ErrCatalogNotFound
	}
	return cart, nil
}

func (s *stubCatalog) GetProduct(_ context.Context, productID string) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.productCalls++
	if s.err != nil {
		return domain.Product{}, s.err
	}
	product, ok := s.products[productID]
	if !ok {
		return domain.Product{}, ErrCatalogNotFound
	}
	return product, nil
}

type stubOrders struct {
	mu       sync.Mutex
	payloads []OrderPayload
	err      error
	emptyID  bool
}

func (s *stubOrders) CreateOrder(_ context.Context, payload OrderPayload) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payload)
	if s.err != nil {
		return domain.Order{}, s.err
	}
	if s.emptyID {
		return domain.Order{}, nil
	}
	return domain.Order{
		ID:            fmt.Sprintf("ord-%d", len(s.payloads)),
		TransactionID: payload.TransactionID,
		Status:        "created",
	}, nil
}

func (s *stubOrders) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

type recordingEvents struct {
	mu     sync.Mutex
	events []OrderFinalizedEvent
}

func (r *recordingEvents) PublishOrderFinalized(_ context.Context, event OrderFinalizedEvent) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return event.EventID, nil
}

type recordingAudit struct {
	mu      sync.Mutex
	records []AuditLogRecord
}

func (r *recordingAudit) Record(_ context.Context, record AuditLogRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
}

func (r *recordingAudit) List(context.Context, AuditLogFilter) ([]AuditLogEntry, error) {
	return nil, nil
}

func (r *recordingAudit) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Action)
	}
	return out
}

// scriptedPoller is a gateway B stand-in whose poll answers are replayed in order.
type scriptedPoller struct {
	mu          sync.Mutex
	initiateErr error
	redirectURL string
	answers     []payments.Status
	polls       int
	// reportAs overrides the correlation id echoed by Poll.
	reportAs string
	// entered and release, when set, hold each Poll until the test lets it continue.
	entered chan struct{}
	release chan struct{}
}

func (s *scriptedPoller) Kind() payments.Kind { return payments.KindGatewayB }

func (s *scriptedPoller) Initiate(_ context.Context, req payments.InitiateRequest) (payments.Initiation, error) {
	if s.initiateErr != nil {
		return payments.Initiation{}, s.initiateErr
	}
	redirect := s.redirectURL
	if redirect == "" {
		redirect = "https://pay.example.test/b/" + req.CorrelationID
	}
	return payments.Initiation{
		Mode:        payments.ModeRedirect,
		RedirectURL: redirect,
		ProviderRef: "task-" + req.CorrelationID,
	}, nil
}

func (s *scriptedPoller) Outcome(result payments.ProviderResult) (payments.Outcome, error) {
	ret, ok := result.(payments.GatewayBReturn)
	if !ok {
		return payments.Outcome{}, payments.ErrResultMismatch
	}
	status := payments.StatusPending
	if ret.ResultCode != "0" {
		status = payments.StatusFailed
	}
	return payments.Outcome{Status: status, CorrelationID: ret.Correlation(), Code: ret.ResultCode}, nil
}

func (s *scriptedPoller) Poll(ctx context.Context, ref payments.PollRef) (payments.Outcome, error) {
	if s.release != nil {
		s.entered <- struct{}{}
		select {
		case <-s.release:
		case <-ctx.Done():
			return payments.Outcome{}, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	status := payments.StatusPending
	if s.polls <= len(s.answers) {
		status = s.answers[s.polls-1]
	}
	correlation := ref.CorrelationID
	if s.reportAs != "" {
		correlation = s.reportAs
	}
	return payments.Outcome{Status: status, CorrelationID: correlation, ProviderRef: ref.ProviderRef}, nil
}

func (s *scriptedPoller) pollCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

type harness struct {
	clock      *testClock
	store      *recordingStore
	catalog    *stubCatalog
	orders     *stubOrders
	events     *recordingEvents
	audit      *recordingAudit
	gatewayB   *scriptedPoller
	pending    *PendingStore
	processed  *ProcessedMarkers
	totals     *TotalsStore
	reconciler ReconciliationService
	checkout   CheckoutService
	sleeps     []time.Duration
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		clock: newTestClock(time.Date(2025, 4, 1, 3, 0, 0, 0, time.UTC)),
		catalog: &stubCatalog{
			carts: map[string][]domain.CartItem{
				"user-1": {
					{ProductID: "p-1", Name: "Linen shirt", Price: "100.000 VND", ColorID: "c-1", SizeID: "s-1", Quantity: 1,
						Discounts: []domain.Discount{{Percentage: "10%", Active: true}}},
					{ProductID: "p-2", Name: "Canvas tote", Price: "100,000", ColorID: "c-2", SizeID: "s-2", Quantity: 2},
				},
			},
			products: map[string]domain.Product{
				"p-1": {ID: "p-1", Name: "Linen shirt", Price: "100000", ColorIDs: []string{"c-1"}, SizeIDs: []string{"s-1", "s-2"}},
				"p-3": {ID: "p-3", Name: "Sock", Price: "500", ColorIDs: []string{"c-1"}, SizeIDs: []string{"s-1"}},
			},
		},
		orders:   &stubOrders{},
		events:   &recordingEvents{},
		audit:    &recordingAudit{},
		gatewayB: &scriptedPoller{},
	}
	h.store = &recordingStore{MemoryStore: session.NewMemoryStore(h.clock.Now)}
	keys := session.Keyspace{Prefix: "test"}

	var err error
	h.pending, err = NewPendingStore(PendingStoreDeps{Store: h.store, Keys: keys, Clock: h.clock.Now})
	if err != nil {
		t.Fatalf("pending store: %v", err)
	}
	h.processed, err = NewProcessedMarkers(h.store, keys, 0, h.clock.Now)
	if err != nil {
		t.Fatalf("processed markers: %v", err)
	}
	h.totals, err = NewTotalsStore(h.store, keys, 0)
	if err != nil {
		t.Fatalf("totals store: %v", err)
	}

	gatewayA, err := payments.NewGatewayAAdapter(payments.GatewayAConfig{
		PayURL:     "https://sandbox.example.test/paymentv2/vpcpay.html",
		TMNCode:    "TESTCODE",
		HashSecret: testGatewayASecret,
		Clock:      h.clock.Now,
	})
	if err != nil {
		t.Fatalf("gateway a: %v", err)
	}
	registry, err := payments.NewRegistry([]payments.Adapter{payments.NewCODAdapter(), gatewayA, h.gatewayB})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	builder, err := NewDraftBuilder(DraftBuilderDeps{Catalog: h.catalog, Totals: h.totals, Clock: h.clock.Now})
	if err != nil {
		t.Fatalf("draft builder: %v", err)
	}
	finalizer, err := NewOrderFinalizer(OrderFinalizerDeps{
		Orders:    h.orders,
		Pending:   h.pending,
		Processed: h.processed,
		Totals:    h.totals,
		Events:    h.events,
		Audit:     h.audit,
		Clock:     h.clock.Now,
	})
	if err != nil {
		t.Fatalf("finalizer: %v", err)
	}
	h.reconciler, err = NewReconciliationService(ReconciliationServiceDeps{
		Registry:   registry,
		Pending:    h.pending,
		Processed:  h.processed,
		Finalizer:  finalizer,
		Audit:      h.audit,
		PollPolicy: payments.PollPolicy{Interval: time.Second, Multiplier: 1, MaxAttempts: 5},
		Sleep: func(_ context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return nil
		},
		Clock: h.clock.Now,
	})
	if err != nil {
		t.Fatalf("reconciler: %v", err)
	}
	h.checkout, err = NewCheckoutService(CheckoutServiceDeps{
		Builder:    builder,
		Registry:   registry,
		Pending:    h.pending,
		Totals:     h.totals,
		Reconciler: h.reconciler,
		ReturnURLs: map[domain.PaymentMethod]string{
			domain.PaymentMethodGatewayA: "https://shop.example.test/checkout/return/gateway-a",
			domain.PaymentMethodGatewayB: "https://shop.example.test/checkout/return/gateway-b",
		},
		Audit: h.audit,
		Clock: h.clock.Now,
	})
	if err != nil {
		t.Fatalf("checkout service: %v", err)
	}
	return h
}

func testContact() Contact {
	return Contact{Phone: "0901234567", Email: "shopper@example.test", Address: "12 Ly Thuong Kiet, Ha Noi"}
}

func (h *harness) begin(t *testing.T, method string) CheckoutStart {
	t.Helper()
	start, err := h.checkout.Begin(context.Background(), BeginCheckoutCommand{
		Scope:         "user-1",
		Source:        CartSource{UserID: "user-1"},
		PaymentMethod: method,
		Contact:       testContact(),
	})
	if err != nil {
		t.Fatalf("begin %s: %v", method, err)
	}
	return start
}

func (h *harness) pendingExists(t *testing.T, id string) bool {
	t.Helper()
	tx, err := h.pending.Get(context.Background(), "user-1", id)
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	return tx != nil
}

// recordingStore remembers every key written so tests can look for entries by kind.
type recordingStore struct {
	*session.MemoryStore
	mu      sync.Mutex
	written []string
}

func (s *recordingStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	s.written = append(s.written, key)
	s.mu.Unlock()
	return s.MemoryStore.Set(ctx, key, value, ttl)
}

// liveKeys returns the written keys of the given kind that are still readable.
func (s *recordingStore) liveKeys(t *testing.T, kind session.Kind) []string {
	t.Helper()
	s.mu.Lock()
	written := append([]string(nil), s.written...)
	s.mu.Unlock()

	marker := ":" + string(kind) + ":"
	var live []string
	for _, key := range written {
		if !strings.Contains(key, marker) {
			continue
		}
		_, ok, err := s.Get(context.Background(), key)
		if err != nil {
			t.Fatalf("get %s: %v", key, err)
		}
		if ok && !slices.Contains(live, key) {
			live = append(live, key)
		}
	}
	return live
}

// signedGatewayAReturn builds the query a shopper's browser carries back from gateway A.
func signedGatewayAReturn(correlationID, responseCode, txnStatus string) url.Values {
	params := url.Values{}
	params.Set("vnp_TxnRef", correlationID)
	params.Set("vnp_Amount", "27000000")
	params.Set("vnp_ResponseCode", responseCode)
	params.Set("vnp_TransactionStatus", txnStatus)
	params.Set("vnp_TmnCode", "TESTCODE")
	mac := hmac.New(sha512.New, []byte(testGatewayASecret))
	mac.Write([]byte(params.Encode()))
	params.Set("vnp_SecureHash", hex.EncodeToString(mac.Sum(nil)))
	params.Set("vnp_SecureHashType", "HmacSHA512")
	return params
}
