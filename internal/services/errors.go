package services

import (
	"errors"
	"fmt"

	"github.com/wearwise/checkout/internal/payments"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrIncompleteSelection indicates an item lacks a color, a size or a positive quantity.
	ErrIncompleteSelection = errors.New("checkout: incomplete selection")
	// ErrContactIncomplete indicates phone, email or address is missing.
	ErrContactIncomplete = errors.New("checkout: contact incomplete")
	// ErrOrderCreationFailed indicates the order boundary rejected or failed the create call.
	ErrOrderCreationFailed = errors.New("checkout: order creation failed")
	// ErrStaleOrExpiredTransaction indicates the pending transaction is absent or older than the pending TTL.
	ErrStaleOrExpiredTransaction = errors.New("checkout: stale or expired transaction")
	// ErrProviderFailurePayload indicates the provider reported a failed payment.
	ErrProviderFailurePayload = errors.New("checkout: provider reported failure")
	// ErrTransactionNotFound indicates no pending transaction exists for the id.
	ErrTransactionNotFound = errors.New("checkout: transaction not found")
	// ErrTransactionTerminal indicates a status change was attempted on a settled transaction.
	ErrTransactionTerminal = errors.New("checkout: transaction already terminal")
	// ErrCatalogNotFound indicates the catalog has no cart or product for the request.
	ErrCatalogNotFound = errors.New("checkout: catalog item not found")
	// ErrCatalogUnavailable indicates the catalog service could not be reached.
	ErrCatalogUnavailable = errors.New("checkout: catalog unavailable")
)

// Payment errors surfaced unchanged through the services layer.
var (
	ErrAmountOutOfRange    = payments.ErrAmountOutOfRange
	ErrProviderUnavailable = payments.ErrProviderUnavailable
	ErrUnsupportedProvider = payments.ErrUnsupportedProvider
	ErrInvalidSignature    = payments.ErrInvalidSignature
	ErrPollTimeout         = payments.ErrPollTimeout
)

// PaymentFailedError reports a provider-declared failure together with where the shopper
// should be sent to retry.
type PaymentFailedError struct {
	CorrelationID string
	Provider      string
	Code          string
	ReturnPath    string
}

func (e *PaymentFailedError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("checkout: payment %s failed at %s (code %s)", e.CorrelationID, e.Provider, e.Code)
	}
	return fmt.Sprintf("checkout: payment %s failed at %s", e.CorrelationID, e.Provider)
}

// Unwrap exposes ErrProviderFailurePayload to errors.Is.
func (e *PaymentFailedError) Unwrap() error { return ErrProviderFailurePayload }
