package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/wearwise/checkout/internal/domain"
)

// OrderFinalizerDeps wires the order finalizer.
type OrderFinalizerDeps struct {
	Orders    OrderCreator
	Pending   *PendingStore
	Processed *ProcessedMarkers
	Totals    *TotalsStore
	Events    EventPublisher
	Audit     AuditLogService
	Metrics   CheckoutMetrics
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

// OrderFinalizer creates the order for a succeeded transaction and settles local state.
type OrderFinalizer struct {
	orders    OrderCreator
	pending   *PendingStore
	processed *ProcessedMarkers
	totals    *TotalsStore
	events    EventPublisher
	audit     AuditLogService
	metrics   CheckoutMetrics
	now       func() time.Time
	logger    func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderFinalizer validates deps and constructs the finalizer.
func NewOrderFinalizer(deps OrderFinalizerDeps) (*OrderFinalizer, error) {
	if deps.Orders == nil {
		return nil, errors.New("order finalizer: order creator is required")
	}
	if deps.Pending == nil {
		return nil, errors.New("order finalizer: pending store is required")
	}
	if deps.Processed == nil {
		return nil, errors.New("order finalizer: processed markers are required")
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
	return &OrderFinalizer{
		orders:    deps.Orders,
		pending:   deps.Pending,
		processed: deps.Processed,
		totals:    deps.Totals,
		events:    deps.Events,
		audit:     audit,
		metrics:   metrics,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Finalize calls the order boundary exactly once for tx. On failure the pending record is
// cleared without a processed marker, so the attempt cannot be retried from its return URL.
func (f *OrderFinalizer) Finalize(ctx context.Context, scope string, tx domain.PendingTransaction) (domain.Order, error) {
	payload := buildOrderPayload(tx)
	order, err := f.orders.CreateOrder(ctx, payload)
	if err == nil && strings.TrimSpace(order.ID) == "" {
		err = errors.New("order boundary returned no order id")
	}
	if err != nil {
		f.logger(ctx, "checkout.order_create_failed", map[string]any{
			"correlationId": tx.CorrelationID,
			"provider":      string(tx.Provider),
			"error":         err.Error(),
		})
		if clearErr := f.pending.Clear(ctx, scope, tx.CorrelationID); clearErr != nil {
			f.logger(ctx, "checkout.pending_clear_failed", map[string]any{
				"correlationId": tx.CorrelationID,
				"error":         clearErr.Error(),
			})
		}
		f.audit.Record(ctx, AuditLogRecord{
			Action:        "order_creation_failed",
			Scope:         scope,
			CorrelationID: tx.CorrelationID,
			Provider:      string(tx.Provider),
			Status:        "failed",
			Detail:        map[string]any{"error": err.Error()},
		})
		return domain.Order{}, fmt.Errorf("%w: %v", ErrOrderCreationFailed, err)
	}
	if order.TransactionID == "" {
		order.TransactionID = tx.CorrelationID
	}

	if err := f.processed.Mark(ctx, scope, tx.CorrelationID, order.ID); err != nil {
		f.logger(ctx, "checkout.processed_mark_failed", map[string]any{
			"correlationId": tx.CorrelationID,
			"orderId":       order.ID,
			"error":         err.Error(),
		})
	}
	if err := f.pending.MarkTerminal(ctx, scope, tx.CorrelationID, domain.TransactionStatusSucceeded); err != nil && !errors.Is(err, ErrTransactionNotFound) {
		f.logger(ctx, "checkout.mark_succeeded_failed", map[string]any{
			"correlationId": tx.CorrelationID,
			"error":         err.Error(),
		})
	}
	if err := f.pending.Clear(ctx, scope, tx.CorrelationID); err != nil {
		f.logger(ctx, "checkout.pending_clear_failed", map[string]any{
			"correlationId": tx.CorrelationID,
			"error":         err.Error(),
		})
	}
	if f.totals != nil {
		if err := f.totals.Clear(ctx, scope); err != nil {
			f.logger(ctx, "checkout.totals_clear_failed", map[string]any{
				"scope": scope,
				"error": err.Error(),
			})
		}
	}

	finalizedAt := f.now()
	f.publish(ctx, OrderFinalizedEvent{
		EventID:       ulid.MustNew(ulid.Timestamp(finalizedAt), ulid.DefaultEntropy()).String(),
		CorrelationID: tx.CorrelationID,
		OrderID:       order.ID,
		UserID:        tx.Intent.UserID,
		Provider:      string(tx.Provider),
		Amount:        tx.Intent.FinalAmount,
		Currency:      tx.Intent.Currency,
		FinalizedAt:   finalizedAt,
	})
	f.audit.Record(ctx, AuditLogRecord{
		Action:        "order_finalized",
		Scope:         scope,
		CorrelationID: tx.CorrelationID,
		Provider:      string(tx.Provider),
		OrderID:       order.ID,
		Status:        string(domain.TransactionStatusSucceeded),
		Detail:        map[string]any{"amount": tx.Intent.FinalAmount},
		OccurredAt:    finalizedAt,
	})
	f.metrics.OrderFinalized(string(tx.Provider), tx.Intent.FinalAmount)
	f.logger(ctx, "checkout.order_finalized", map[string]any{
		"correlationId": tx.CorrelationID,
		"orderId":       order.ID,
		"provider":      string(tx.Provider),
	})
	return order, nil
}

func (f *OrderFinalizer) publish(ctx context.Context, event OrderFinalizedEvent) {
	if f.events == nil {
		return
	}
	if _, err := f.events.PublishOrderFinalized(ctx, event); err != nil {
		f.logger(ctx, "checkout.event_publish_failed", map[string]any{
			"correlationId": event.CorrelationID,
			"orderId":       event.OrderID,
			"error":         err.Error(),
		})
	}
}

func buildOrderPayload(tx domain.PendingTransaction) OrderPayload {
	intent := tx.Intent
	items := make([]OrderPayloadItem, 0, len(intent.Items))
	for _, item := range intent.Items {
		items = append(items, OrderPayloadItem{
			ProductID:      item.ProductID,
			ProductColorID: item.ColorID,
			ProductSizeID:  item.SizeID,
			Quantity:       item.Quantity,
			OriginalPrice:  item.LineTotal,
			DiscountAmount: item.LineDiscount,
			TotalPrice:     item.LineFinal,
		})
	}
	return OrderPayload{
		UserID:             intent.UserID,
		TotalAmount:        intent.FinalAmount,
		OriginalAmount:     intent.OriginalAmount,
		DiscountAmount:     intent.DiscountAmount,
		DiscountPercentage: intent.DiscountPercentage.String(),
		PaymentMethod:      string(tx.Provider),
		TransactionID:      tx.CorrelationID,
		Currency:           intent.Currency,
		Phone:              intent.Contact.Phone,
		Email:              intent.Contact.Email,
		Address:            intent.Contact.Address,
		Items:              items,
	}
}
