package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wearwise/checkout/internal/domain"
	"github.com/wearwise/checkout/internal/session"
)

func newTestPendingStore(t *testing.T, clock *testClock) *PendingStore {
	t.Helper()
	store, err := NewPendingStore(PendingStoreDeps{
		Store:       session.NewMemoryStore(clock.Now),
		PendingTTL:  10 * time.Minute,
		Clock:       clock.Now,
		IDGenerator: func(time.Time) string { return "tx-1" },
	})
	if err != nil {
		t.Fatalf("new pending store: %v", err)
	}
	return store
}

func TestPendingStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock(time.Date(2025, 4, 1, 3, 0, 0, 0, time.UTC))
	store := newTestPendingStore(t, clock)

	intent := domain.OrderIntent{UserID: "user-1", FinalAmount: 120000, Items: []domain.IntentItem{{ProductID: "p-1", Quantity: 1}}}
	tx, err := store.Open(ctx, "user-1", intent, domain.PaymentMethodGatewayB)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if tx.CorrelationID != "tx-1" || tx.Status != domain.TransactionStatusInitiated {
		t.Fatalf("unexpected transaction %+v", tx)
	}

	intent.Items[0].Quantity = 5
	got, err := store.Get(ctx, "user-1", "tx-1")
	if err != nil || got == nil {
		t.Fatalf("get: %v %v", got, err)
	}
	if got.Intent.Items[0].Quantity != 1 {
		t.Fatalf("expected snapshot to be isolated from caller, got %d", got.Intent.Items[0].Quantity)
	}

	if err := store.Attach(ctx, "user-1", "tx-1", " task-9 "); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := store.MarkTerminal(ctx, "user-1", "tx-1", domain.TransactionStatusFailed); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	got, _ = store.Get(ctx, "user-1", "tx-1")
	if got.ProviderRef != "task-9" || got.Status != domain.TransactionStatusFailed || got.TerminalAt == nil {
		t.Fatalf("unexpected terminal transaction %+v", got)
	}

	if err := store.MarkTerminal(ctx, "user-1", "tx-1", domain.TransactionStatusSucceeded); !errors.Is(err, ErrTransactionTerminal) {
		t.Fatalf("expected terminal error, got %v", err)
	}
	if err := store.Attach(ctx, "user-1", "tx-1", "task-10"); !errors.Is(err, ErrTransactionTerminal) {
		t.Fatalf("expected attach on terminal to fail, got %v", err)
	}
	if err := store.MarkTerminal(ctx, "user-1", "tx-1", domain.TransactionStatusInitiated); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected non-terminal target to be rejected, got %v", err)
	}

	if err := store.Clear(ctx, "user-1", "tx-1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, err = store.Get(ctx, "user-1", "tx-1")
	if err != nil || got != nil {
		t.Fatalf("expected cleared transaction, got %v %v", got, err)
	}
	if err := store.MarkTerminal(ctx, "user-1", "tx-1", domain.TransactionStatusExpired); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPendingStoreExpiryWindow(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock(time.Date(2025, 4, 1, 3, 0, 0, 0, time.UTC))
	store := newTestPendingStore(t, clock)

	tx, err := store.Open(ctx, "user-1", domain.OrderIntent{UserID: "user-1"}, domain.PaymentMethodGatewayA)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if store.Expired(tx, clock.Now().Add(10*time.Minute)) {
		t.Fatalf("expected transaction at exactly the ttl to be live")
	}
	if !store.Expired(tx, clock.Now().Add(10*time.Minute+time.Second)) {
		t.Fatalf("expected transaction past the ttl to be expired")
	}

	clock.Advance(15 * time.Minute)
	got, err := store.Get(ctx, "user-1", tx.CorrelationID)
	if err != nil || got == nil {
		t.Fatalf("expected record to outlive the ttl for reporting, got %v %v", got, err)
	}

	clock.Advance(10 * time.Minute)
	got, err = store.Get(ctx, "user-1", tx.CorrelationID)
	if err != nil || got != nil {
		t.Fatalf("expected record to be gone after twice the ttl, got %v %v", got, err)
	}
}

func TestPendingStoreScopesAreIsolated(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock(time.Date(2025, 4, 1, 3, 0, 0, 0, time.UTC))
	store := newTestPendingStore(t, clock)

	if _, err := store.Open(ctx, "user-1", domain.OrderIntent{UserID: "user-1"}, domain.PaymentMethodCOD); err != nil {
		t.Fatalf("open: %v", err)
	}
	got, err := store.Get(ctx, "user-2", "tx-1")
	if err != nil || got != nil {
		t.Fatalf("expected no record under another scope, got %v %v", got, err)
	}
	if _, err := store.Get(ctx, "", "tx-1"); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected invalid input for empty scope, got %v", err)
	}
}

func TestTotalsStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	totals, err := NewTotalsStore(session.NewMemoryStore(nil), session.Keyspace{}, time.Hour)
	if err != nil {
		t.Fatalf("new totals store: %v", err)
	}
	if _, ok, err := totals.Load(ctx, "user-1"); ok || err != nil {
		t.Fatalf("expected empty totals, got %v %v", ok, err)
	}
	want := domain.Totals{DiscountPercentage: "10", OriginalAmount: 300000, DiscountAmount: 30000, FinalAmount: 270000}
	if err := totals.Save(ctx, "user-1", want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok, err := totals.Load(ctx, "user-1")
	if err != nil || !ok || got.FinalAmount != 270000 || got.DiscountPercentage != "10" {
		t.Fatalf("unexpected totals %+v %v %v", got, ok, err)
	}
	if err := totals.Clear(ctx, "user-1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := totals.Load(ctx, "user-1"); ok {
		t.Fatalf("expected cleared totals")
	}
}
