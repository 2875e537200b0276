package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/wearwise/checkout/internal/domain"
	"github.com/wearwise/checkout/internal/payments"
)

const (
	defaultCartReturnPath   = "/cart"
	defaultBuyNowReturnPath = "/products/{productId}"

	// settleHeadroom covers the gateway round-trips, order creation and bookkeeping that
	// follow the poll sleeps of a shared reconcile.
	settleHeadroom = 30 * time.Second
)

// ReconciliationServiceDeps wires the reconciliation controller.
type ReconciliationServiceDeps struct {
	Registry         adapterRegistry
	Pending          *PendingStore
	Processed        *ProcessedMarkers
	Finalizer        *OrderFinalizer
	Audit            AuditLogService
	Metrics          CheckoutMetrics
	PollPolicy       payments.PollPolicy
	Sleep            payments.SleepFunc
	CartReturnPath   string
	BuyNowReturnPath string
	Clock            func() time.Time
	Logger           func(ctx context.Context, event string, fields map[string]any)
}

type reconciliationService struct {
	registry   adapterRegistry
	pending    *PendingStore
	processed  *ProcessedMarkers
	finalizer  *OrderFinalizer
	audit      AuditLogService
	metrics    CheckoutMetrics
	policy     payments.PollPolicy
	sleep      payments.SleepFunc
	cartPath   string
	buyNowPath string
	now        func() time.Time
	logger     func(ctx context.Context, event string, fields map[string]any)
	group      singleflight.Group
	workLimit  time.Duration
}

// NewReconciliationService validates deps and constructs the controller.
func NewReconciliationService(deps ReconciliationServiceDeps) (ReconciliationService, error) {
	if deps.Registry == nil {
		return nil, errors.New("reconciliation service: adapter registry is required")
	}
	if deps.Pending == nil {
		return nil, errors.New("reconciliation service: pending store is required")
	}
	if deps.Processed == nil {
		return nil, errors.New("reconciliation service: processed markers are required")
	}
	if deps.Finalizer == nil {
		return nil, errors.New("reconciliation service: order finalizer is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	var audit AuditLogService = noopAudit{}
	if deps.Audit != nil {
		audit = deps.Audit
	}
	var metrics CheckoutMetrics = noopMetrics{}
	if deps.Metrics != nil {
		metrics = deps.Metrics
	}
	policy := deps.PollPolicy
	if policy.MaxAttempts <= 0 {
		policy = payments.DefaultPollPolicy
	}
	sleep := deps.Sleep
	if sleep == nil {
		sleep = payments.SleepContext
	}
	cartPath := strings.TrimSpace(deps.CartReturnPath)
	if cartPath == "" {
		cartPath = defaultCartReturnPath
	}
	buyNowPath := strings.TrimSpace(deps.BuyNowReturnPath)
	if buyNowPath == "" {
		buyNowPath = defaultBuyNowReturnPath
	}
	return &reconciliationService{
		registry:   deps.Registry,
		pending:    deps.Pending,
		processed:  deps.Processed,
		finalizer:  deps.Finalizer,
		audit:      audit,
		metrics:    metrics,
		policy:     policy,
		sleep:      sleep,
		cartPath:   cartPath,
		buyNowPath: buyNowPath,
		now: func() time.Time {
			return clock().UTC()
		},
		logger:    logger,
		workLimit: policy.Budget() + settleHeadroom,
	}, nil
}

// Reconcile settles a provider result. Concurrent calls for the same scope and correlation id
// share one execution, which outlives any single caller.
func (s *reconciliationService) Reconcile(ctx context.Context, cmd ReconcileCommand) (ReconcileResult, error) {
	scope := strings.TrimSpace(cmd.Scope)
	if scope == "" || cmd.Result == nil {
		return ReconcileResult{}, fmt.Errorf("%w: scope and result are required", ErrCheckoutInvalidInput)
	}
	id := cmd.Result.Correlation()
	if id == "" {
		return ReconcileResult{}, fmt.Errorf("%w: correlation id is required", ErrCheckoutInvalidInput)
	}
	return s.collapse(ctx, scope, id, func(ctx context.Context) (ReconcileResult, error) {
		return s.reconcile(ctx, scope, id, cmd.Result)
	})
}

// Recover re-polls a poller-backed transaction whose earlier reconcile timed out.
func (s *reconciliationService) Recover(ctx context.Context, scope, correlationID string) (ReconcileResult, error) {
	scope = strings.TrimSpace(scope)
	id := strings.TrimSpace(correlationID)
	if scope == "" || id == "" {
		return ReconcileResult{}, fmt.Errorf("%w: scope and correlation id are required", ErrCheckoutInvalidInput)
	}
	return s.collapse(ctx, scope, id, func(ctx context.Context) (ReconcileResult, error) {
		return s.reconcile(ctx, scope, id, nil)
	})
}

// collapse runs fn once per scope and id. The shared run keeps the first caller's context
// values but not its cancellation, and is bounded by workLimit instead. Each caller stops
// waiting when its own context ends.
func (s *reconciliationService) collapse(ctx context.Context, scope, id string, fn func(ctx context.Context) (ReconcileResult, error)) (ReconcileResult, error) {
	ch := s.group.DoChan(scope+"\x00"+id, func() (any, error) {
		work, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.workLimit)
		defer cancel()
		return fn(work)
	})
	select {
	case <-ctx.Done():
		return ReconcileResult{}, ctx.Err()
	case res := <-ch:
		result, _ := res.Val.(ReconcileResult)
		return result, res.Err
	}
}

// reconcile runs the settlement steps. A nil result means recovery: the provider is polled
// directly from the stored reference.
func (s *reconciliationService) reconcile(ctx context.Context, scope, id string, result payments.ProviderResult) (ReconcileResult, error) {
	if orderID, ok, err := s.processed.Processed(ctx, scope, id); err != nil {
		return ReconcileResult{}, err
	} else if ok {
		s.logger(ctx, "checkout.reconcile_duplicate", map[string]any{
			"correlationId": id,
			"orderId":       orderID,
		})
		return ReconcileResult{
			Status:        ReconcileStatusAlreadyProcessed,
			CorrelationID: id,
			OrderID:       orderID,
			Notice: Notice{
				Title:   "Order already placed",
				Message: fmt.Sprintf("This payment was already confirmed as order %s.", orderID),
				Level:   "info",
			},
		}, nil
	}

	tx, err := s.pending.Get(ctx, scope, id)
	if err != nil {
		return ReconcileResult{}, err
	}
	if tx == nil {
		return ReconcileResult{}, fmt.Errorf("%w: %s", ErrStaleOrExpiredTransaction, id)
	}
	if tx.Status.Terminal() {
		return ReconcileResult{}, fmt.Errorf("%w: %s is %s", ErrStaleOrExpiredTransaction, id, tx.Status)
	}
	if s.pending.Expired(*tx, s.now()) {
		s.expire(ctx, scope, *tx)
		return ReconcileResult{}, fmt.Errorf("%w: %s is older than %s", ErrStaleOrExpiredTransaction, id, s.pending.TTL())
	}
	if result != nil && result.Provider() != tx.Provider {
		return ReconcileResult{}, fmt.Errorf("%w: result from %s for %s transaction", ErrCheckoutInvalidInput, result.Provider(), tx.Provider)
	}

	adapter, err := s.registry.Resolve(string(tx.Provider))
	if err != nil {
		return ReconcileResult{}, err
	}

	outcome := payments.Outcome{Status: payments.StatusPending, CorrelationID: id}
	if result != nil {
		outcome, err = adapter.Outcome(result)
		if err != nil {
			if errors.Is(err, payments.ErrInvalidSignature) {
				s.logger(ctx, "checkout.reconcile_bad_signature", map[string]any{
					"correlationId": id,
					"provider":      string(tx.Provider),
				})
				return ReconcileResult{}, err
			}
			return ReconcileResult{}, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
		}
		if outcome.CorrelationID != "" && outcome.CorrelationID != id {
			return ReconcileResult{}, fmt.Errorf("%w: outcome for %s", ErrCheckoutInvalidInput, outcome.CorrelationID)
		}
		if ref := strings.TrimSpace(outcome.ProviderRef); ref != "" && tx.ProviderRef == "" {
			if err := s.pending.Attach(ctx, scope, id, ref); err == nil {
				tx.ProviderRef = ref
			}
		}
	}

	if outcome.Status == payments.StatusPending {
		outcome, err = s.poll(ctx, *tx, adapter)
		if err != nil {
			return ReconcileResult{}, err
		}
		if outcome.CorrelationID != "" && outcome.CorrelationID != id {
			s.logger(ctx, "checkout.poll_correlation_mismatch", map[string]any{
				"correlationId": id,
				"reported":      outcome.CorrelationID,
				"provider":      string(tx.Provider),
			})
			return ReconcileResult{}, fmt.Errorf("%w: polled outcome for %s", ErrCheckoutInvalidInput, outcome.CorrelationID)
		}
	}
	s.metrics.Reconciled(string(tx.Provider), string(outcome.Status))

	switch outcome.Status {
	case payments.StatusSucceeded:
		order, err := s.finalizer.Finalize(ctx, scope, *tx)
		if err != nil {
			return ReconcileResult{}, err
		}
		return ReconcileResult{
			Status:        ReconcileStatusSucceeded,
			CorrelationID: id,
			OrderID:       order.ID,
			Notice: Notice{
				Title:   "Order placed",
				Message: fmt.Sprintf("Your order %s has been placed.", order.ID),
				Level:   "success",
			},
		}, nil
	case payments.StatusFailed:
		return ReconcileResult{}, s.fail(ctx, scope, *tx, outcome)
	default:
		return ReconcileResult{}, fmt.Errorf("%w: unexpected outcome %q", ErrCheckoutInvalidInput, outcome.Status)
	}
}

func (s *reconciliationService) poll(ctx context.Context, tx domain.PendingTransaction, adapter payments.Adapter) (payments.Outcome, error) {
	poller, ok := adapter.(payments.Poller)
	if !ok {
		return payments.Outcome{}, fmt.Errorf("%w: %s cannot be polled", ErrCheckoutInvalidInput, tx.Provider)
	}
	if tx.ProviderRef == "" {
		return payments.Outcome{}, fmt.Errorf("%w: %s has no provider reference", ErrCheckoutInvalidInput, tx.CorrelationID)
	}
	attempts := 0
	outcome, err := payments.Poll(ctx, s.policy, s.sleep, func(ctx context.Context, attempt int) (payments.Outcome, error) {
		attempts = attempt
		return poller.Poll(ctx, payments.PollRef{CorrelationID: tx.CorrelationID, ProviderRef: tx.ProviderRef})
	})
	s.metrics.PollAttempts(string(tx.Provider), attempts)
	if err != nil {
		s.logger(ctx, "checkout.poll_incomplete", map[string]any{
			"correlationId": tx.CorrelationID,
			"provider":      string(tx.Provider),
			"attempts":      attempts,
			"error":         err.Error(),
		})
		return payments.Outcome{}, err
	}
	return outcome, nil
}

func (s *reconciliationService) fail(ctx context.Context, scope string, tx domain.PendingTransaction, outcome payments.Outcome) error {
	if err := s.pending.MarkTerminal(ctx, scope, tx.CorrelationID, domain.TransactionStatusFailed); err != nil {
		s.logger(ctx, "checkout.mark_failed_failed", map[string]any{
			"correlationId": tx.CorrelationID,
			"error":         err.Error(),
		})
	}
	if err := s.pending.Clear(ctx, scope, tx.CorrelationID); err != nil {
		s.logger(ctx, "checkout.pending_clear_failed", map[string]any{
			"correlationId": tx.CorrelationID,
			"error":         err.Error(),
		})
	}
	s.audit.Record(ctx, AuditLogRecord{
		Action:        "payment_failed",
		Scope:         scope,
		CorrelationID: tx.CorrelationID,
		Provider:      string(tx.Provider),
		Status:        string(domain.TransactionStatusFailed),
		Detail:        map[string]any{"code": outcome.Code},
	})
	return &PaymentFailedError{
		CorrelationID: tx.CorrelationID,
		Provider:      string(tx.Provider),
		Code:          outcome.Code,
		ReturnPath:    s.returnPath(tx.Intent),
	}
}

func (s *reconciliationService) expire(ctx context.Context, scope string, tx domain.PendingTransaction) {
	if err := s.pending.MarkTerminal(ctx, scope, tx.CorrelationID, domain.TransactionStatusExpired); err != nil {
		s.logger(ctx, "checkout.mark_expired_failed", map[string]any{
			"correlationId": tx.CorrelationID,
			"error":         err.Error(),
		})
	}
	s.audit.Record(ctx, AuditLogRecord{
		Action:        "transaction_expired",
		Scope:         scope,
		CorrelationID: tx.CorrelationID,
		Provider:      string(tx.Provider),
		Status:        string(domain.TransactionStatusExpired),
		Detail:        map[string]any{"createdAt": tx.CreatedAt},
	})
	if err := s.pending.Clear(ctx, scope, tx.CorrelationID); err != nil {
		s.logger(ctx, "checkout.pending_clear_failed", map[string]any{
			"correlationId": tx.CorrelationID,
			"error":         err.Error(),
		})
	}
	s.metrics.Reconciled(string(tx.Provider), string(domain.TransactionStatusExpired))
}

func (s *reconciliationService) returnPath(intent domain.OrderIntent) string {
	if intent.Source == domain.IntentSourceBuyNow && len(intent.Items) > 0 {
		return strings.ReplaceAll(s.buyNowPath, "{productId}", intent.Items[0].ProductID)
	}
	return s.cartPath
}
