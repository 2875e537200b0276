package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wearwise/checkout/internal/domain"
	"github.com/wearwise/checkout/internal/payments"
	"github.com/wearwise/checkout/internal/platform/auth"
	"github.com/wearwise/checkout/internal/platform/httpx"
	"github.com/wearwise/checkout/internal/services"
)

const maxCheckoutRequestBody = 16 * 1024

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body too large")
)

// CheckoutHandlersDeps wires the checkout endpoints.
type CheckoutHandlersDeps struct {
	Checkout        services.CheckoutService
	Reconciler      services.ReconciliationService
	Currency        string
	StartRateLimit  int
	StartRateWindow time.Duration
	Clock           func() time.Time
}

// CheckoutHandlers exposes checkout start, gateway returns and transaction lookups for the
// authenticated shopper. The shopper's UID is the session scope.
type CheckoutHandlers struct {
	checkout   services.CheckoutService
	reconciler services.ReconciliationService
	currency   string
	limiter    *startLimiter
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(deps CheckoutHandlersDeps) *CheckoutHandlers {
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "VND"
	}
	return &CheckoutHandlers{
		checkout:   deps.Checkout,
		reconciler: deps.Reconciler,
		currency:   currency,
		limiter:    newStartLimiter(deps.StartRateLimit, deps.StartRateWindow, deps.Clock),
	}
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Route("/checkout", func(r chi.Router) {
		r.Post("/cart", h.startCart)
		r.Post("/buy-now", h.startBuyNow)
		r.Get("/return/gateway-a", h.returnGatewayA)
		r.Get("/return/gateway-b", h.returnGatewayB)
		r.Get("/return/card", h.returnCard)
		r.Get("/transactions/{transactionId}", h.getTransaction)
		r.Delete("/transactions/{transactionId}", h.abandonTransaction)
		r.Post("/transactions/{transactionId}/recover", h.recoverTransaction)
		r.Get("/totals", h.totals)
	})
}

type contactPayload struct {
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	Address string `json:"address"`
}

type cartCheckoutRequest struct {
	PaymentMethod string         `json:"paymentMethod"`
	Contact       contactPayload `json:"contact"`
	ReturnURL     string         `json:"returnUrl"`
}

type buyNowCheckoutRequest struct {
	ProductID     string         `json:"productId"`
	ColorID       string         `json:"colorId"`
	SizeID        string         `json:"sizeId"`
	Quantity      int64          `json:"quantity"`
	PaymentMethod string         `json:"paymentMethod"`
	Contact       contactPayload `json:"contact"`
	ReturnURL     string         `json:"returnUrl"`
}

type totalsPayload struct {
	OriginalAmount     int64  `json:"originalAmount"`
	DiscountAmount     int64  `json:"discountAmount"`
	FinalAmount        int64  `json:"finalAmount"`
	DiscountPercentage string `json:"discountPercentage"`
	Currency           string `json:"currency"`
}

type checkoutStartResponse struct {
	CorrelationID string           `json:"correlationId"`
	Provider      string           `json:"provider"`
	Mode          string           `json:"mode"`
	RedirectURL   string           `json:"redirectUrl,omitempty"`
	OrderID       string           `json:"orderId,omitempty"`
	ExpiresAt     string           `json:"expiresAt,omitempty"`
	Totals        totalsPayload    `json:"totals"`
	Notice        *services.Notice `json:"notice,omitempty"`
}

type reconcileResponse struct {
	Status        string          `json:"status"`
	CorrelationID string          `json:"correlationId"`
	OrderID       string          `json:"orderId"`
	Notice        services.Notice `json:"notice"`
}

type transactionResponse struct {
	CorrelationID string        `json:"correlationId"`
	Provider      string        `json:"provider"`
	Status        string        `json:"status"`
	Source        string        `json:"source"`
	CreatedAt     string        `json:"createdAt"`
	Totals        totalsPayload `json:"totals"`
}

func (h *CheckoutHandlers) startCart(w http.ResponseWriter, r *http.Request) {
	var req cartCheckoutRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.start(w, r, services.CartSource{}, req.PaymentMethod, req.Contact, req.ReturnURL)
}

func (h *CheckoutHandlers) startBuyNow(w http.ResponseWriter, r *http.Request) {
	var req buyNowCheckoutRequest
	if !decodeBody(w, r, &req) {
		return
	}
	source := services.BuyNowSource{
		ProductID: strings.TrimSpace(req.ProductID),
		ColorID:   strings.TrimSpace(req.ColorID),
		SizeID:    strings.TrimSpace(req.SizeID),
		Quantity:  req.Quantity,
	}
	h.start(w, r, source, req.PaymentMethod, req.Contact, req.ReturnURL)
}

func (h *CheckoutHandlers) start(w http.ResponseWriter, r *http.Request, source services.DraftSource, method string, contact contactPayload, returnURL string) {
	ctx := r.Context()
	uid, ok := shopperUID(w, r)
	if !ok {
		return
	}
	if allowed, retryAfter := h.limiter.Allow(uid); !allowed {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many checkout attempts; try again later", http.StatusTooManyRequests).WithRetryAfter(retryAfter))
		return
	}
	switch s := source.(type) {
	case services.CartSource:
		s.UserID = uid
		source = s
	case services.BuyNowSource:
		s.UserID = uid
		source = s
	}

	start, err := h.checkout.Begin(ctx, services.BeginCheckoutCommand{
		Scope:         uid,
		Source:        source,
		PaymentMethod: strings.TrimSpace(method),
		Contact: domain.Contact{
			Phone:   contact.Phone,
			Email:   contact.Email,
			Address: contact.Address,
		},
		ReturnURL:      strings.TrimSpace(returnURL),
		ClientIP:       clientIP(r),
		AcceptLanguage: r.Header.Get("Accept-Language"),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err, r.Header.Get("Accept-Language"), h.currency)
		return
	}

	resp := checkoutStartResponse{
		CorrelationID: start.CorrelationID,
		Provider:      start.Provider,
		Mode:          string(start.Mode),
		RedirectURL:   start.RedirectURL,
		OrderID:       start.OrderID,
		Totals:        totalsFromIntent(start.Intent),
	}
	if !start.ExpiresAt.IsZero() {
		resp.ExpiresAt = start.ExpiresAt.UTC().Format(time.RFC3339)
	}
	status := http.StatusOK
	if start.Mode == payments.ModeImmediate {
		notice := start.Notice
		resp.Notice = &notice
		status = http.StatusCreated
	}
	httpx.WriteJSON(w, status, resp)
}

func (h *CheckoutHandlers) getTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := shopperUID(w, r)
	if !ok {
		return
	}
	tx, err := h.checkout.Transaction(ctx, uid, chi.URLParam(r, "transactionId"))
	if err != nil {
		writeCheckoutError(ctx, w, err, r.Header.Get("Accept-Language"), h.currency)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, transactionResponse{
		CorrelationID: tx.CorrelationID,
		Provider:      string(tx.Provider),
		Status:        string(tx.Status),
		Source:        string(tx.Intent.Source),
		CreatedAt:     tx.CreatedAt.UTC().Format(time.RFC3339),
		Totals:        totalsFromIntent(tx.Intent),
	})
}

func (h *CheckoutHandlers) abandonTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := shopperUID(w, r)
	if !ok {
		return
	}
	if err := h.checkout.Abandon(ctx, uid, chi.URLParam(r, "transactionId")); err != nil {
		writeCheckoutError(ctx, w, err, r.Header.Get("Accept-Language"), h.currency)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CheckoutHandlers) recoverTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := shopperUID(w, r)
	if !ok {
		return
	}
	result, err := h.reconciler.Recover(ctx, uid, chi.URLParam(r, "transactionId"))
	h.writeReconcile(w, r, result, err)
}

func (h *CheckoutHandlers) totals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	uid, ok := shopperUID(w, r)
	if !ok {
		return
	}
	totals, found, err := h.checkout.LastTotals(ctx, uid)
	if err != nil {
		writeCheckoutError(ctx, w, err, r.Header.Get("Accept-Language"), h.currency)
		return
	}
	if !found {
		httpx.WriteError(ctx, w, httpx.NewError("totals_not_found", "no checkout totals recorded", http.StatusNotFound))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, totalsPayload{
		OriginalAmount:     totals.OriginalAmount,
		DiscountAmount:     totals.DiscountAmount,
		FinalAmount:        totals.FinalAmount,
		DiscountPercentage: totals.DiscountPercentage,
		Currency:           h.currency,
	})
}

func (h *CheckoutHandlers) writeReconcile(w http.ResponseWriter, r *http.Request, result services.ReconcileResult, err error) {
	ctx := r.Context()
	if err != nil {
		writeCheckoutError(ctx, w, err, r.Header.Get("Accept-Language"), h.currency)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, reconcileResponse{
		Status:        string(result.Status),
		CorrelationID: result.CorrelationID,
		OrderID:       result.OrderID,
		Notice:        result.Notice,
	})
}

func totalsFromIntent(intent domain.OrderIntent) totalsPayload {
	return totalsPayload{
		OriginalAmount:     intent.OriginalAmount,
		DiscountAmount:     intent.DiscountAmount,
		FinalAmount:        intent.FinalAmount,
		DiscountPercentage: intent.DiscountPercentage.String(),
		Currency:           intent.Currency,
	}
}

func shopperUID(w http.ResponseWriter, r *http.Request) (string, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return "", false
	}
	return identity.UID, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, errEmptyBody
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// clientIP returns the address chi's RealIP middleware settled on.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
