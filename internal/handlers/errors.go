package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/wearwise/checkout/internal/payments"
	"github.com/wearwise/checkout/internal/platform/httpx"
	"github.com/wearwise/checkout/internal/services"
)

const pendingRetryAfter = 5 * time.Second

var noticeLanguages = language.NewMatcher([]language.Tag{language.English, language.Vietnamese})

// noticePrinter picks the printer used for amounts shown to the shopper.
func noticePrinter(acceptLanguage string) *message.Printer {
	tag, _ := language.MatchStrings(noticeLanguages, acceptLanguage)
	base, _ := tag.Base()
	return message.NewPrinter(language.Make(base.String()))
}

// writeCheckoutError maps service errors onto the API envelope. The first matching rule
// wins, so specific errors are listed before the ones they wrap.
func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error, acceptLanguage, currency string) {
	var (
		rangeErr  *payments.AmountRangeError
		failedErr *services.PaymentFailedError
	)
	switch {
	case errors.As(err, &rangeErr):
		p := noticePrinter(acceptLanguage)
		httpx.WriteError(ctx, w, httpx.NewError("amount_out_of_range",
			p.Sprintf("The order total must be between %d and %d %s.", rangeErr.Bounds.Min, rangeErr.Bounds.Max, currency),
			http.StatusUnprocessableEntity).WithDetails(map[string]any{
			"amount": rangeErr.Amount,
			"min":    rangeErr.Bounds.Min,
			"max":    rangeErr.Bounds.Max,
		}))
	case errors.Is(err, services.ErrAmountOutOfRange):
		httpx.WriteError(ctx, w, httpx.NewError("amount_out_of_range", "order total is outside the accepted range", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrIncompleteSelection):
		httpx.WriteError(ctx, w, httpx.NewError("incomplete_selection", "every item needs a color, a size and a positive quantity", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrContactIncomplete):
		httpx.WriteError(ctx, w, httpx.NewError("contact_incomplete", "phone, email and address are required", http.StatusUnprocessableEntity))
	case errors.As(err, &failedErr):
		details := map[string]any{"returnPath": failedErr.ReturnPath, "correlationId": failedErr.CorrelationID}
		if failedErr.Code != "" {
			details["providerCode"] = failedErr.Code
		}
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", "the payment was not completed", http.StatusPaymentRequired).WithDetails(details))
	case errors.Is(err, services.ErrOrderCreationFailed):
		httpx.WriteError(ctx, w, httpx.NewError("order_creation_failed", "payment was received but the order could not be created; please contact support", http.StatusBadGateway))
	case errors.Is(err, services.ErrStaleOrExpiredTransaction):
		httpx.WriteError(ctx, w, httpx.NewError("transaction_expired", "this payment session has expired", http.StatusGone))
	case errors.Is(err, services.ErrPollTimeout):
		httpx.WriteError(ctx, w, httpx.NewError("payment_pending", "the payment is still being confirmed; try again shortly", http.StatusGatewayTimeout).WithRetryAfter(pendingRetryAfter))
	case errors.Is(err, services.ErrInvalidSignature):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "return parameters failed verification", http.StatusBadRequest))
	case errors.Is(err, services.ErrProviderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("provider_unavailable", "the payment provider is unavailable; try again", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrUnsupportedProvider):
		httpx.WriteError(ctx, w, httpx.NewError("unsupported_provider", "payment method is not supported", http.StatusBadRequest))
	case errors.Is(err, services.ErrTransactionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("transaction_not_found", "transaction not found", http.StatusNotFound))
	case errors.Is(err, services.ErrTransactionTerminal):
		httpx.WriteError(ctx, w, httpx.NewError("transaction_terminal", "transaction is already settled", http.StatusConflict))
	case errors.Is(err, services.ErrCatalogNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_not_found", "cart or product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("timeout", "request timed out", http.StatusGatewayTimeout))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError))
	}
}
