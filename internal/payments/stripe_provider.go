package payments

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// CardProviderConfig configures the hosted card checkout adapter.
type CardProviderConfig struct {
	APIKey    string
	AccountID string
	Currency  string
	Backends  *stripe.Backends
	Logger    Logger
	Clock     func() time.Time
	Sessions  stripeSessionAPI
}

// CardProvider implements Adapter and Poller using Stripe Checkout sessions.
type CardProvider struct {
	sessions stripeSessionAPI
	account  string
	currency string
	clock    func() time.Time
	logger   Logger
}

// NewCardProvider constructs a Stripe-backed card adapter.
func NewCardProvider(cfg CardProviderConfig) (*CardProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	sessions := cfg.Sessions
	if sessions == nil {
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		sessions = client.New(apiKey, cfg.Backends).CheckoutSessions
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger
	}

	return &CardProvider{
		sessions: sessions,
		account:  strings.TrimSpace(cfg.AccountID),
		currency: strings.ToLower(defaultString(cfg.Currency, "vnd")),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Kind implements Adapter.
func (p *CardProvider) Kind() Kind { return KindCard }

// Initiate implements Adapter by creating a Checkout session and redirecting to it.
func (p *CardProvider) Initiate(ctx context.Context, req InitiateRequest) (Initiation, error) {
	if strings.TrimSpace(req.CorrelationID) == "" {
		return Initiation{}, fmt.Errorf("%w: stripe: correlation id is required", ErrProviderUnavailable)
	}
	successURL, cancelURL, err := cardReturnURLs(req.ReturnURL, req.CorrelationID)
	if err != nil {
		return Initiation{}, fmt.Errorf("%w: stripe: %v", ErrProviderUnavailable, err)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(req.CorrelationID),
	}
	params.Context = ctx
	params.SetIdempotencyKey("checkout-" + req.CorrelationID)
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}

	metadata := map[string]string{"correlation_id": req.CorrelationID}
	if req.UserID != "" {
		metadata["user_id"] = req.UserID
	}
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	params.Metadata = metadata
	params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{Metadata: metadata}

	currency := strings.ToLower(defaultString(req.Currency, p.currency))
	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items))
	var itemised int64
	for _, item := range req.Items {
		qty := item.Quantity
		if qty < 1 {
			qty = 1
		}
		itemised += item.Amount * qty
		line := &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(qty),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(item.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(defaultString(item.Name, "Item")),
				},
			},
		}
		if item.SKU != "" {
			line.PriceData.ProductData.Metadata = map[string]string{"sku": item.SKU}
		}
		lineItems = append(lineItems, line)
	}
	// Discounted totals are charged as a single line so the session amount matches the intent.
	if len(lineItems) == 0 || itemised != req.Amount {
		lineItems = []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(req.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(defaultString(req.OrderInfo, "Order "+req.CorrelationID)),
				},
			},
		}}
	}
	params.LineItems = lineItems

	session, err := p.sessions.New(params)
	if err != nil {
		p.logger(ctx, "payments.stripe.session.failed", map[string]any{
			"correlationId": req.CorrelationID,
			"error":         err.Error(),
		})
		return Initiation{}, fmt.Errorf("%w: stripe: create checkout session: %v", ErrProviderUnavailable, err)
	}
	if session == nil || strings.TrimSpace(session.URL) == "" {
		return Initiation{}, fmt.Errorf("%w: stripe: session has no url", ErrProviderUnavailable)
	}

	p.logger(ctx, "payments.stripe.session.created", map[string]any{
		"correlationId": req.CorrelationID,
		"sessionId":     session.ID,
	})

	expiresAt := p.clock().Add(30 * time.Minute)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}
	return Initiation{
		Mode:        ModeRedirect,
		RedirectURL: session.URL,
		ProviderRef: session.ID,
		ExpiresAt:   expiresAt,
	}, nil
}

// Outcome implements Adapter. The redirect back is never authoritative on its own.
func (p *CardProvider) Outcome(result ProviderResult) (Outcome, error) {
	switch r := result.(type) {
	case CardReturn:
		if r.Cancelled {
			return Outcome{
				Status:        StatusFailed,
				CorrelationID: r.Correlation(),
				ProviderRef:   strings.TrimSpace(r.SessionID),
				Code:          "cancelled",
			}, nil
		}
		return Outcome{
			Status:        StatusPending,
			CorrelationID: r.Correlation(),
			ProviderRef:   strings.TrimSpace(r.SessionID),
		}, nil
	case CardStatus:
		outcome := Outcome{
			Status:        StatusPending,
			CorrelationID: r.Correlation(),
			ProviderRef:   r.SessionID,
			Code:          r.Status,
		}
		switch {
		case r.Status == string(stripe.CheckoutSessionStatusComplete) && r.PaymentStatus == string(stripe.CheckoutSessionPaymentStatusPaid):
			outcome.Status = StatusSucceeded
		case r.Status == string(stripe.CheckoutSessionStatusExpired):
			outcome.Status = StatusFailed
		}
		return outcome, nil
	default:
		return Outcome{}, fmt.Errorf("%w: stripe got %T", ErrResultMismatch, result)
	}
}

// Poll implements Poller by reading the Checkout session.
func (p *CardProvider) Poll(ctx context.Context, ref PollRef) (Outcome, error) {
	id := strings.TrimSpace(ref.ProviderRef)
	if id == "" {
		return Outcome{}, fmt.Errorf("%w: stripe: session id is required", ErrProviderUnavailable)
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	session, err := p.sessions.Get(id, params)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: stripe: get checkout session: %v", ErrProviderUnavailable, err)
	}
	correlation := ref.CorrelationID
	if session.ClientReferenceID != "" {
		correlation = session.ClientReferenceID
	}
	return p.Outcome(CardStatus{
		CorrelationID: correlation,
		SessionID:     session.ID,
		Status:        string(session.Status),
		PaymentStatus: string(session.PaymentStatus),
	})
}

// cardReturnURLs builds the success and cancel redirects. Stripe substitutes the session
// placeholder on success only, so the cancel redirect is marked with cancelled=1 instead.
func cardReturnURLs(returnURL, correlationID string) (string, string, error) {
	returnURL = strings.TrimSpace(returnURL)
	if returnURL == "" {
		return "", "", errors.New("return url is required")
	}
	parsed, err := url.Parse(returnURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid return url: %w", err)
	}
	query := parsed.Query()
	query.Set("cid", correlationID)
	parsed.RawQuery = query.Encode()
	// The placeholder must stay unescaped.
	success := parsed.String() + "&session_id={CHECKOUT_SESSION_ID}"

	query.Set("cancelled", "1")
	parsed.RawQuery = query.Encode()
	return success, parsed.String(), nil
}
