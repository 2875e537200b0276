package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod identifies the provider that settles a checkout attempt.
type PaymentMethod string

const (
	// PaymentMethodCOD settles on delivery without an external round-trip.
	PaymentMethodCOD PaymentMethod = "cod"
	// PaymentMethodGatewayA redirects to a server-signed payment URL.
	PaymentMethodGatewayA PaymentMethod = "gateway_a"
	// PaymentMethodGatewayB initiates through the provider API and is confirmed by polling.
	PaymentMethodGatewayB PaymentMethod = "gateway_b"
	// PaymentMethodCard redirects to a hosted card checkout session.
	PaymentMethodCard PaymentMethod = "card"
)

// ParsePaymentMethod normalises the textual method, accepting a few storefront aliases.
func ParsePaymentMethod(raw string) (PaymentMethod, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "cod", "cash", "cash_on_delivery":
		return PaymentMethodCOD, true
	case "gateway_a", "gatewaya", "vnpay":
		return PaymentMethodGatewayA, true
	case "gateway_b", "gatewayb", "momo":
		return PaymentMethodGatewayB, true
	case "card", "stripe":
		return PaymentMethodCard, true
	default:
		return "", false
	}
}

// IntentSource records where the order intent was assembled from.
type IntentSource string

const (
	// IntentSourceCart builds the intent from the shopper's persistent cart.
	IntentSourceCart IntentSource = "cart"
	// IntentSourceBuyNow builds the intent from a single product selection.
	IntentSourceBuyNow IntentSource = "buy_now"
)

// TransactionStatus is the lifecycle state of a pending transaction.
type TransactionStatus string

const (
	TransactionStatusInitiated TransactionStatus = "initiated"
	TransactionStatusSucceeded TransactionStatus = "succeeded"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusExpired   TransactionStatus = "expired"
)

// Terminal reports whether the status can no longer change.
func (s TransactionStatus) Terminal() bool {
	switch s {
	case TransactionStatusSucceeded, TransactionStatusFailed, TransactionStatusExpired:
		return true
	default:
		return false
	}
}

// Contact holds the delivery details required before an order may be placed.
type Contact struct {
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	Address string `json:"address"`
}

// IntentItem is one priced line of an order intent.
type IntentItem struct {
	ProductID    string `json:"productId"`
	Name         string `json:"name,omitempty"`
	ColorID      string `json:"colorId"`
	SizeID       string `json:"sizeId"`
	Quantity     int64  `json:"quantity"`
	UnitPrice    int64  `json:"unitPrice"`
	LineTotal    int64  `json:"lineTotal"`
	LineDiscount int64  `json:"lineDiscount"`
	LineFinal    int64  `json:"lineFinal"`
}

// OrderIntent is the provider-agnostic description of what the shopper is paying for.
// Amounts are expressed in the smallest currency unit.
type OrderIntent struct {
	UserID             string          `json:"userId"`
	Source             IntentSource    `json:"source"`
	Items              []IntentItem    `json:"items"`
	DiscountPercentage decimal.Decimal `json:"discountPercentage"`
	OriginalAmount     int64           `json:"originalAmount"`
	DiscountAmount     int64           `json:"discountAmount"`
	FinalAmount        int64           `json:"finalAmount"`
	Currency           string          `json:"currency"`
	PaymentMethod      PaymentMethod   `json:"paymentMethod"`
	Contact            Contact         `json:"contact"`
}

// PendingTransaction is an in-flight payment attempt awaiting reconciliation.
type PendingTransaction struct {
	CorrelationID string            `json:"correlationId"`
	Intent        OrderIntent       `json:"intent"`
	Provider      PaymentMethod     `json:"provider"`
	ProviderRef   string            `json:"providerRef,omitempty"`
	Status        TransactionStatus `json:"status"`
	CreatedAt     time.Time         `json:"createdAt"`
	TerminalAt    *time.Time        `json:"terminalAt,omitempty"`
}

// Order is the record returned by the order-creation boundary.
type Order struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transactionId"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
}

// CartItem is a cart line as returned by the catalog service.
type CartItem struct {
	ProductID string
	Name      string
	Price     string
	ColorID   string
	SizeID    string
	Quantity  int64
	Discounts []Discount
}

// Product is the catalog view of a single product used for buy-now checkouts.
type Product struct {
	ID        string
	Name      string
	Price     string
	ColorIDs  []string
	SizeIDs   []string
	Discounts []Discount
}
