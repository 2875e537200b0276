package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wearwise/checkout/internal/domain"
	"github.com/wearwise/checkout/internal/payments"
)

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Builder    *DraftBuilder
	Registry   adapterRegistry
	Pending    *PendingStore
	Totals     *TotalsStore
	Reconciler ReconciliationService
	Bounds     payments.Bounds
	ReturnURLs map[domain.PaymentMethod]string
	Audit      AuditLogService
	Metrics    CheckoutMetrics
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	builder    *DraftBuilder
	registry   adapterRegistry
	pending    *PendingStore
	totals     *TotalsStore
	reconciler ReconciliationService
	bounds     payments.Bounds
	returnURLs map[domain.PaymentMethod]string
	audit      AuditLogService
	metrics    CheckoutMetrics
	now        func() time.Time
	logger     func(ctx context.Context, event string, fields map[string]any)
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Builder == nil {
		return nil, errors.New("checkout service: draft builder is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("checkout service: adapter registry is required")
	}
	if deps.Pending == nil {
		return nil, errors.New("checkout service: pending store is required")
	}
	if deps.Reconciler == nil {
		return nil, errors.New("checkout service: reconciliation service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	bounds := deps.Bounds
	if bounds.Max <= 0 {
		bounds = payments.DefaultBounds
	}
	var audit AuditLogService = noopAudit{}
	if deps.Audit != nil {
		audit = deps.Audit
	}
	var metrics CheckoutMetrics = noopMetrics{}
	if deps.Metrics != nil {
		metrics = deps.Metrics
	}
	returnURLs := make(map[domain.PaymentMethod]string, len(deps.ReturnURLs))
	for kind, target := range deps.ReturnURLs {
		returnURLs[kind] = strings.TrimSpace(target)
	}

	return &checkoutService{
		builder:    deps.Builder,
		registry:   deps.Registry,
		pending:    deps.Pending,
		totals:     deps.Totals,
		reconciler: deps.Reconciler,
		bounds:     bounds,
		returnURLs: returnURLs,
		audit:      audit,
		metrics:    metrics,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Begin builds and prices the intent, opens a pending transaction and initiates payment.
// Selection, contact and amount checks all run before any pending state is written.
func (s *checkoutService) Begin(ctx context.Context, cmd BeginCheckoutCommand) (CheckoutStart, error) {
	scope := strings.TrimSpace(cmd.Scope)
	if scope == "" {
		return CheckoutStart{}, fmt.Errorf("%w: scope is required", ErrCheckoutInvalidInput)
	}

	adapter, err := s.registry.Resolve(cmd.PaymentMethod)
	if err != nil {
		s.metrics.CheckoutRejected("unsupported_provider")
		return CheckoutStart{}, err
	}
	kind := adapter.Kind()

	intent, err := s.builder.Build(ctx, cmd.Source, DraftOptions{
		Scope:         scope,
		PaymentMethod: kind,
		Contact:       cmd.Contact,
	})
	if err != nil {
		s.metrics.CheckoutRejected(rejectionReason(err))
		return CheckoutStart{}, err
	}
	if err := s.bounds.Check(intent.FinalAmount); err != nil {
		s.metrics.CheckoutRejected("amount_out_of_range")
		return CheckoutStart{}, err
	}

	tx, err := s.pending.Open(ctx, scope, intent, kind)
	if err != nil {
		return CheckoutStart{}, err
	}

	returnURL := strings.TrimSpace(cmd.ReturnURL)
	if returnURL == "" {
		returnURL = s.returnURLs[kind]
	}
	initiation, err := adapter.Initiate(ctx, payments.InitiateRequest{
		CorrelationID:  tx.CorrelationID,
		UserID:         intent.UserID,
		Amount:         intent.FinalAmount,
		Currency:       intent.Currency,
		OrderInfo:      "Order " + tx.CorrelationID,
		ReturnURL:      returnURL,
		ClientIP:       cmd.ClientIP,
		AcceptLanguage: cmd.AcceptLanguage,
		Items:          lineItems(intent),
		Metadata:       map[string]string{"source": string(intent.Source)},
	})
	if err == nil && initiation.Mode == payments.ModeRedirect && strings.TrimSpace(initiation.RedirectURL) == "" {
		err = fmt.Errorf("%w: %s returned no redirect url", ErrProviderUnavailable, kind)
	}
	if err != nil {
		s.abandonAfterInitiateFailure(ctx, scope, tx, err)
		if !errors.Is(err, ErrProviderUnavailable) {
			err = fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		return CheckoutStart{}, err
	}

	s.metrics.CheckoutStarted(string(kind))
	s.audit.Record(ctx, AuditLogRecord{
		Action:        "checkout_initiated",
		Scope:         scope,
		CorrelationID: tx.CorrelationID,
		Provider:      string(kind),
		Status:        string(domain.TransactionStatusInitiated),
		Detail:        map[string]any{"amount": intent.FinalAmount, "source": string(intent.Source)},
		OccurredAt:    tx.CreatedAt,
	})

	start := CheckoutStart{
		CorrelationID: tx.CorrelationID,
		Provider:      string(kind),
		Mode:          initiation.Mode,
		Intent:        intent,
		ExpiresAt:     initiation.ExpiresAt,
	}

	if initiation.Mode == payments.ModeImmediate {
		result, err := s.reconciler.Reconcile(ctx, ReconcileCommand{
			Scope:  scope,
			Result: payments.ImmediateResult{CorrelationID: tx.CorrelationID},
		})
		if err != nil {
			return CheckoutStart{}, err
		}
		start.OrderID = result.OrderID
		start.Notice = result.Notice
		return start, nil
	}

	if ref := strings.TrimSpace(initiation.ProviderRef); ref != "" {
		if err := s.pending.Attach(ctx, scope, tx.CorrelationID, ref); err != nil {
			s.logger(ctx, "checkout.attach_failed", map[string]any{
				"correlationId": tx.CorrelationID,
				"error":         err.Error(),
			})
		}
	}
	start.RedirectURL = initiation.RedirectURL
	s.logger(ctx, "checkout.initiated", map[string]any{
		"correlationId": tx.CorrelationID,
		"provider":      string(kind),
		"amount":        intent.FinalAmount,
	})
	return start, nil
}

// Abandon clears a pending transaction on explicit user request.
func (s *checkoutService) Abandon(ctx context.Context, scope, correlationID string) error {
	tx, err := s.pending.Get(ctx, scope, correlationID)
	if err != nil {
		return err
	}
	if tx == nil {
		return ErrTransactionNotFound
	}
	if err := s.pending.Clear(ctx, scope, tx.CorrelationID); err != nil {
		return err
	}
	s.audit.Record(ctx, AuditLogRecord{
		Action:        "abandoned",
		Scope:         scope,
		CorrelationID: tx.CorrelationID,
		Provider:      string(tx.Provider),
		Status:        string(tx.Status),
	})
	return nil
}

// Transaction returns a read-only view of the pending transaction. Records past the pending
// TTL are reported as expired.
func (s *checkoutService) Transaction(ctx context.Context, scope, correlationID string) (PendingTransaction, error) {
	tx, err := s.pending.Get(ctx, scope, correlationID)
	if err != nil {
		return PendingTransaction{}, err
	}
	if tx == nil {
		return PendingTransaction{}, ErrTransactionNotFound
	}
	view := *tx
	if view.Status == domain.TransactionStatusInitiated && s.pending.Expired(view, s.now()) {
		view.Status = domain.TransactionStatusExpired
	}
	return view, nil
}

// LastTotals returns the last-known figures for scope.
func (s *checkoutService) LastTotals(ctx context.Context, scope string) (Totals, bool, error) {
	if s.totals == nil {
		return Totals{}, false, nil
	}
	return s.totals.Load(ctx, scope)
}

func (s *checkoutService) abandonAfterInitiateFailure(ctx context.Context, scope string, tx domain.PendingTransaction, cause error) {
	s.logger(ctx, "checkout.initiate_failed", map[string]any{
		"correlationId": tx.CorrelationID,
		"provider":      string(tx.Provider),
		"error":         cause.Error(),
	})
	if err := s.pending.Clear(ctx, scope, tx.CorrelationID); err != nil {
		s.logger(ctx, "checkout.pending_clear_failed", map[string]any{
			"correlationId": tx.CorrelationID,
			"error":         err.Error(),
		})
	}
	s.metrics.CheckoutRejected("provider_unavailable")
	s.audit.Record(ctx, AuditLogRecord{
		Action:        "initiate_failed",
		Scope:         scope,
		CorrelationID: tx.CorrelationID,
		Provider:      string(tx.Provider),
		Status:        "cleared",
		Detail:        map[string]any{"error": cause.Error()},
	})
}

func lineItems(intent domain.OrderIntent) []payments.LineItem {
	items := make([]payments.LineItem, 0, len(intent.Items))
	for _, item := range intent.Items {
		items = append(items, payments.LineItem{
			Name:     item.Name,
			SKU:      item.ProductID,
			Quantity: item.Quantity,
			Amount:   item.UnitPrice,
		})
	}
	return items
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrIncompleteSelection):
		return "incomplete_selection"
	case errors.Is(err, ErrContactIncomplete):
		return "contact_incomplete"
	case errors.Is(err, ErrCatalogNotFound):
		return "catalog_not_found"
	case errors.Is(err, ErrCatalogUnavailable):
		return "catalog_unavailable"
	default:
		return "invalid_input"
	}
}
