package handlers

import (
	"net/http"
	"strings"

	"github.com/wearwise/checkout/internal/payments"
	"github.com/wearwise/checkout/internal/platform/httpx"
	"github.com/wearwise/checkout/internal/services"
)

// Gateway returns arrive as browser redirects carrying the shopper's session, so they run
// behind the same authentication as the rest of the API.

func (h *CheckoutHandlers) returnGatewayA(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if strings.TrimSpace(query.Get("vnp_TxnRef")) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "vnp_TxnRef is required", http.StatusBadRequest))
		return
	}
	h.reconcile(w, r, payments.GatewayAReturn{Params: query})
}

func (h *CheckoutHandlers) returnGatewayB(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	result := payments.GatewayBReturn{
		OrderID:    strings.TrimSpace(query.Get("orderId")),
		ResultCode: strings.TrimSpace(query.Get("resultCode")),
		Message:    strings.TrimSpace(query.Get("message")),
	}
	if result.OrderID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "orderId is required", http.StatusBadRequest))
		return
	}
	h.reconcile(w, r, result)
}

func (h *CheckoutHandlers) returnCard(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	result := payments.CardReturn{
		CorrelationID: strings.TrimSpace(query.Get("cid")),
		SessionID:     strings.TrimSpace(query.Get("session_id")),
		Cancelled:     query.Get("cancelled") == "1",
	}
	if result.CorrelationID == "" || (result.SessionID == "" && !result.Cancelled) {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "cid and session_id are required", http.StatusBadRequest))
		return
	}
	h.reconcile(w, r, result)
}

func (h *CheckoutHandlers) reconcile(w http.ResponseWriter, r *http.Request, result payments.ProviderResult) {
	uid, ok := shopperUID(w, r)
	if !ok {
		return
	}
	outcome, err := h.reconciler.Reconcile(r.Context(), services.ReconcileCommand{Scope: uid, Result: result})
	h.writeReconcile(w, r, outcome, err)
}
