package services

import (
	"context"
	"time"

	"github.com/wearwise/checkout/internal/domain"
	"github.com/wearwise/checkout/internal/payments"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	OrderIntent        = domain.OrderIntent
	IntentItem         = domain.IntentItem
	Contact            = domain.Contact
	PendingTransaction = domain.PendingTransaction
	Order              = domain.Order
	Totals             = domain.Totals
	CartItem           = domain.CartItem
	Product            = domain.Product
)

// CheckoutService turns a cart or buy-now selection into a payment attempt.
type CheckoutService interface {
	Begin(ctx context.Context, cmd BeginCheckoutCommand) (CheckoutStart, error)
	Abandon(ctx context.Context, scope, correlationID string) error
	Transaction(ctx context.Context, scope, correlationID string) (PendingTransaction, error)
	LastTotals(ctx context.Context, scope string) (Totals, bool, error)
}

// ReconciliationService settles provider returns against pending transactions.
type ReconciliationService interface {
	Reconcile(ctx context.Context, cmd ReconcileCommand) (ReconcileResult, error)
	Recover(ctx context.Context, scope, correlationID string) (ReconcileResult, error)
}

// Catalog reads carts and products from the storefront catalog service.
type Catalog interface {
	GetCart(ctx context.Context, userID string) ([]CartItem, error)
	GetProduct(ctx context.Context, productID string) (Product, error)
}

// OrderCreator is the order-creation boundary. Implementations must treat TransactionID as
// an idempotency key where they can.
type OrderCreator interface {
	CreateOrder(ctx context.Context, payload OrderPayload) (Order, error)
}

// EventPublisher announces finalized orders to downstream consumers.
type EventPublisher interface {
	PublishOrderFinalized(ctx context.Context, event OrderFinalizedEvent) (string, error)
}

// AuditLogService records checkout lifecycle events. Record never fails the caller.
type AuditLogService interface {
	Record(ctx context.Context, record AuditLogRecord)
	List(ctx context.Context, filter AuditLogFilter) ([]AuditLogEntry, error)
}

// CheckoutMetrics receives counters for checkout and reconciliation outcomes.
type CheckoutMetrics interface {
	CheckoutStarted(provider string)
	CheckoutRejected(reason string)
	Reconciled(provider, outcome string)
	PollAttempts(provider string, attempts int)
	OrderFinalized(provider string, amount int64)
}

type adapterRegistry interface {
	Resolve(name string) (payments.Adapter, error)
}

// BeginCheckoutCommand starts a checkout attempt for the authenticated shopper.
type BeginCheckoutCommand struct {
	Scope          string
	Source         DraftSource
	PaymentMethod  string
	Contact        Contact
	ReturnURL      string
	ClientIP       string
	AcceptLanguage string
}

// CheckoutStart tells the caller how the shopper continues.
type CheckoutStart struct {
	CorrelationID string
	Provider      string
	Mode          payments.Mode
	RedirectURL   string
	OrderID       string
	Notice        Notice
	Intent        OrderIntent
	ExpiresAt     time.Time
}

// ReconcileCommand carries a raw provider result for the shopper scope it arrived in.
type ReconcileCommand struct {
	Scope  string
	Result payments.ProviderResult
}

// ReconcileStatus describes how a reconcile call concluded successfully.
type ReconcileStatus string

const (
	ReconcileStatusSucceeded        ReconcileStatus = "succeeded"
	ReconcileStatusAlreadyProcessed ReconcileStatus = "already_processed"
)

// Notice is a shopper-facing message.
type Notice struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Level   string `json:"level"`
}

// ReconcileResult is returned when a transaction produced, or had already produced, an order.
type ReconcileResult struct {
	Status        ReconcileStatus
	CorrelationID string
	OrderID       string
	Notice        Notice
}

// OrderPayload is the body sent to the order-creation boundary.
type OrderPayload struct {
	UserID             string             `json:"user_id"`
	TotalAmount        int64              `json:"total_amount"`
	OriginalAmount     int64              `json:"original_amount"`
	DiscountAmount     int64              `json:"discount_amount"`
	DiscountPercentage string             `json:"discount_percentage"`
	PaymentMethod      string             `json:"payment_method"`
	TransactionID      string             `json:"transaction_id"`
	Currency           string             `json:"currency,omitempty"`
	Phone              string             `json:"phone,omitempty"`
	Email              string             `json:"email,omitempty"`
	Address            string             `json:"address,omitempty"`
	Items              []OrderPayloadItem `json:"order_items"`
}

// OrderPayloadItem is one line of an OrderPayload.
type OrderPayloadItem struct {
	ProductID      string `json:"product_id"`
	ProductColorID string `json:"product_color_id"`
	ProductSizeID  string `json:"product_size_id"`
	Quantity       int64  `json:"quantity"`
	OriginalPrice  int64  `json:"original_price"`
	DiscountAmount int64  `json:"discount_amount"`
	TotalPrice     int64  `json:"total_price"`
}

// OrderFinalizedEvent is published once per finalized order.
type OrderFinalizedEvent struct {
	EventID       string    `json:"eventId"`
	CorrelationID string    `json:"correlationId"`
	OrderID       string    `json:"orderId"`
	UserID        string    `json:"userId"`
	Provider      string    `json:"provider"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	FinalizedAt   time.Time `json:"finalizedAt"`
}

// AuditLogRecord is the payload accepted by the audit service.
type AuditLogRecord struct {
	Action        string
	Scope         string
	CorrelationID string
	Provider      string
	OrderID       string
	Status        string
	Detail        map[string]any
	OccurredAt    time.Time
}

// AuditLogEntry is a persisted audit record.
type AuditLogEntry struct {
	ID            int64
	Action        string
	ScopeHash     string
	CorrelationID string
	Provider      string
	OrderID       string
	Status        string
	Detail        map[string]any
	CreatedAt     time.Time
}

// AuditLogFilter narrows audit queries.
type AuditLogFilter struct {
	CorrelationID string
	Action        string
	Since         time.Time
	Limit         int
}

// AuditLogRepository persists audit entries.
type AuditLogRepository interface {
	Append(ctx context.Context, entry AuditLogEntry) error
	List(ctx context.Context, filter AuditLogFilter) ([]AuditLogEntry, error)
}

type noopMetrics struct{}

func (noopMetrics) CheckoutStarted(string) {}
func (noopMetrics) CheckoutRejected(string) {}
func (noopMetrics) Reconciled(string, string) {}
func (noopMetrics) PollAttempts(string, int) {}
func (noopMetrics) OrderFinalized(string, int64) {}

type noopAudit struct{}

func (noopAudit) Record(context.Context, AuditLogRecord) {}
func (noopAudit) List(context.Context, AuditLogFilter) ([]AuditLogEntry, error) {
	return nil, nil
}

func noopLogger(context.Context, string, map[string]any) {}
