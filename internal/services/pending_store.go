package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/wearwise/checkout/internal/domain"
	"github.com/wearwise/checkout/internal/session"
)

const (
	// DefaultPendingTTL is the age after which a pending transaction can no longer be finalized.
	DefaultPendingTTL = 30 * time.Minute
	// DefaultSessionTTL bounds processed markers and last-known totals.
	DefaultSessionTTL = 24 * time.Hour
)

// PendingStoreDeps wires the pending transaction store.
type PendingStoreDeps struct {
	Store       session.Store
	Keys        session.Keyspace
	PendingTTL  time.Duration
	SessionTTL  time.Duration
	Clock       func() time.Time
	IDGenerator func(now time.Time) string
}

// PendingStore keeps at most one record per correlation id under a shopper scope.
// Records outlive PendingTTL by the same amount again so that late returns can still be
// reported as expired rather than unknown.
type PendingStore struct {
	store      session.Store
	keys       session.Keyspace
	ttl        time.Duration
	sessionTTL time.Duration
	now        func() time.Time
	newID      func(now time.Time) string
}

// NewPendingStore validates deps and constructs the store.
func NewPendingStore(deps PendingStoreDeps) (*PendingStore, error) {
	if deps.Store == nil {
		return nil, errors.New("pending store: session store is required")
	}
	ttl := deps.PendingTTL
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	sessionTTL := deps.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.IDGenerator
	if newID == nil {
		newID = func(now time.Time) string {
			return ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
		}
	}
	return &PendingStore{
		store:      deps.Store,
		keys:       deps.Keys,
		ttl:        ttl,
		sessionTTL: sessionTTL,
		now: func() time.Time {
			return clock().UTC()
		},
		newID: newID,
	}, nil
}

// TTL returns the pending lifetime.
func (s *PendingStore) TTL() time.Duration { return s.ttl }

// Open snapshots intent into a new initiated transaction.
func (s *PendingStore) Open(ctx context.Context, scope string, intent domain.OrderIntent, provider domain.PaymentMethod) (domain.PendingTransaction, error) {
	now := s.now()
	snapshot := intent
	snapshot.Items = append([]domain.IntentItem(nil), intent.Items...)
	tx := domain.PendingTransaction{
		CorrelationID: s.newID(now),
		Intent:        snapshot,
		Provider:      provider,
		Status:        domain.TransactionStatusInitiated,
		CreatedAt:     now,
	}
	if err := s.put(ctx, scope, tx); err != nil {
		return domain.PendingTransaction{}, err
	}
	return tx, nil
}

// Get returns the transaction or nil when absent.
func (s *PendingStore) Get(ctx context.Context, scope, id string) (*domain.PendingTransaction, error) {
	key, err := s.keys.Key(scope, session.KindPending, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	}
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: correlation id is required", ErrCheckoutInvalidInput)
	}
	raw, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("pending store: get: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var tx domain.PendingTransaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, fmt.Errorf("pending store: decode %s: %w", id, err)
	}
	return &tx, nil
}

// MarkTerminal moves an initiated transaction to status. Any other starting state yields
// ErrTransactionTerminal.
func (s *PendingStore) MarkTerminal(ctx context.Context, scope, id string, status domain.TransactionStatus) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %q is not terminal", ErrCheckoutInvalidInput, status)
	}
	tx, err := s.Get(ctx, scope, id)
	if err != nil {
		return err
	}
	if tx == nil {
		return ErrTransactionNotFound
	}
	if tx.Status != domain.TransactionStatusInitiated {
		return fmt.Errorf("%w: %s is %s", ErrTransactionTerminal, id, tx.Status)
	}
	now := s.now()
	tx.Status = status
	tx.TerminalAt = &now
	return s.put(ctx, scope, *tx)
}

// Attach records the provider-side reference of an initiated transaction.
func (s *PendingStore) Attach(ctx context.Context, scope, id, providerRef string) error {
	tx, err := s.Get(ctx, scope, id)
	if err != nil {
		return err
	}
	if tx == nil {
		return ErrTransactionNotFound
	}
	if tx.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTransactionTerminal, id, tx.Status)
	}
	tx.ProviderRef = strings.TrimSpace(providerRef)
	return s.put(ctx, scope, *tx)
}

// Clear removes the transaction.
func (s *PendingStore) Clear(ctx context.Context, scope, id string) error {
	key, err := s.keys.Key(scope, session.KindPending, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	}
	if err := s.store.Clear(ctx, key); err != nil {
		return fmt.Errorf("pending store: clear: %w", err)
	}
	return nil
}

// Expired reports whether tx is older than the pending TTL at now.
func (s *PendingStore) Expired(tx domain.PendingTransaction, now time.Time) bool {
	return now.Sub(tx.CreatedAt) > s.ttl
}

func (s *PendingStore) put(ctx context.Context, scope string, tx domain.PendingTransaction) error {
	key, err := s.keys.Key(scope, session.KindPending, tx.CorrelationID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	}
	raw, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("pending store: encode: %w", err)
	}
	ttl := tx.CreatedAt.Add(2 * s.ttl).Sub(s.now())
	if ttl < time.Second {
		ttl = time.Second
	}
	if err := s.store.Set(ctx, key, raw, ttl); err != nil {
		return fmt.Errorf("pending store: set: %w", err)
	}
	return nil
}

// ProcessedMarkers remembers which correlation ids already produced an order.
type ProcessedMarkers struct {
	store session.Store
	keys  session.Keyspace
	ttl   time.Duration
	now   func() time.Time
}

type processedMarker struct {
	OrderID     string    `json:"orderId"`
	ProcessedAt time.Time `json:"processedAt"`
}

// NewProcessedMarkers constructs the marker set over store.
func NewProcessedMarkers(store session.Store, keys session.Keyspace, ttl time.Duration, clock func() time.Time) (*ProcessedMarkers, error) {
	if store == nil {
		return nil, errors.New("processed markers: session store is required")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &ProcessedMarkers{store: store, keys: keys, ttl: ttl, now: func() time.Time { return clock().UTC() }}, nil
}

// Processed returns the order id recorded for id, if any.
func (m *ProcessedMarkers) Processed(ctx context.Context, scope, id string) (string, bool, error) {
	key, err := m.keys.Key(scope, session.KindProcessed, id)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	}
	raw, ok, err := m.store.Get(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("processed markers: get: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	var marker processedMarker
	if err := json.Unmarshal(raw, &marker); err != nil {
		return "", false, fmt.Errorf("processed markers: decode: %w", err)
	}
	return marker.OrderID, true, nil
}

// Mark records that id produced orderID.
func (m *ProcessedMarkers) Mark(ctx context.Context, scope, id, orderID string) error {
	key, err := m.keys.Key(scope, session.KindProcessed, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	}
	raw, err := json.Marshal(processedMarker{OrderID: orderID, ProcessedAt: m.now()})
	if err != nil {
		return fmt.Errorf("processed markers: encode: %w", err)
	}
	if err := m.store.Set(ctx, key, raw, m.ttl); err != nil {
		return fmt.Errorf("processed markers: set: %w", err)
	}
	return nil
}

// TotalsStore keeps the last-known order figures per scope.
type TotalsStore struct {
	store session.Store
	keys  session.Keyspace
	ttl   time.Duration
}

// NewTotalsStore constructs the totals store over store.
func NewTotalsStore(store session.Store, keys session.Keyspace, ttl time.Duration) (*TotalsStore, error) {
	if store == nil {
		return nil, errors.New("totals store: session store is required")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &TotalsStore{store: store, keys: keys, ttl: ttl}, nil
}

// Save overwrites the totals for scope.
func (t *TotalsStore) Save(ctx context.Context, scope string, totals domain.Totals) error {
	key, err := t.keys.Key(scope, session.KindTotals, "")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	}
	raw, err := json.Marshal(totals)
	if err != nil {
		return fmt.Errorf("totals store: encode: %w", err)
	}
	return t.store.Set(ctx, key, raw, t.ttl)
}

// Load returns the totals for scope, if present.
func (t *TotalsStore) Load(ctx context.Context, scope string) (domain.Totals, bool, error) {
	key, err := t.keys.Key(scope, session.KindTotals, "")
	if err != nil {
		return domain.Totals{}, false, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	}
	raw, ok, err := t.store.Get(ctx, key)
	if err != nil || !ok {
		return domain.Totals{}, false, err
	}
	var totals domain.Totals
	if err := json.Unmarshal(raw, &totals); err != nil {
		return domain.Totals{}, false, fmt.Errorf("totals store: decode: %w", err)
	}
	return totals, true, nil
}

// Clear removes the totals for scope.
func (t *TotalsStore) Clear(ctx context.Context, scope string) error {
	key, err := t.keys.Key(scope, session.KindTotals, "")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	}
	return t.store.Clear(ctx, key)
}
