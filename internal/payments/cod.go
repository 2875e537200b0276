package payments

import (
	"context"
	"fmt"
)

// CODAdapter settles cash-on-delivery checkouts immediately.
type CODAdapter struct{}

// NewCODAdapter constructs the cash-on-delivery adapter.
func NewCODAdapter() *CODAdapter { return &CODAdapter{} }

// Kind implements Adapter.
func (*CODAdapter) Kind() Kind { return KindCOD }

// Initiate implements Adapter. Cash on delivery never leaves the storefront.
func (*CODAdapter) Initiate(_ context.Context, req InitiateRequest) (Initiation, error) {
	if req.CorrelationID == "" {
		return Initiation{}, fmt.Errorf("%w: cod: correlation id is required", ErrProviderUnavailable)
	}
	return Initiation{Mode: ModeImmediate}, nil
}

// Outcome implements Adapter.
func (*CODAdapter) Outcome(result ProviderResult) (Outcome, error) {
	immediate, ok := result.(ImmediateResult)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: cod got %T", ErrResultMismatch, result)
	}
	return Outcome{Status: StatusSucceeded, CorrelationID: immediate.Correlation()}, nil
}
