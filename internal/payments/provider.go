package payments

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wearwise/checkout/internal/domain"
)

// Kind identifies a payment adapter. It shares its values with domain.PaymentMethod.
type Kind = domain.PaymentMethod

const (
	KindCOD      = domain.PaymentMethodCOD
	KindGatewayA = domain.PaymentMethodGatewayA
	KindGatewayB = domain.PaymentMethodGatewayB
	KindCard     = domain.PaymentMethodCard
)

// Status enumerates the normalised outcome states shared across providers.
type Status string

const (
	// StatusPending means the provider has not yet reached a terminal decision.
	StatusPending Status = "pending"
	// StatusSucceeded means the provider reports the payment as settled.
	StatusSucceeded Status = "succeeded"
	// StatusFailed means the provider reports a failure and no further action is possible.
	StatusFailed Status = "failed"
)

// Mode describes how the shopper continues after initiation.
type Mode string

const (
	// ModeRedirect sends the shopper to an external payment page.
	ModeRedirect Mode = "redirect"
	// ModeImmediate settles without leaving the storefront.
	ModeImmediate Mode = "immediate"
)

var (
	// ErrUnsupportedProvider is returned when the registry cannot locate an adapter.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrAmountOutOfRange is returned when the payable amount falls outside the accepted bounds.
	ErrAmountOutOfRange = errors.New("payments: amount out of range")
	// ErrProviderUnavailable is returned when the upstream call fails or yields no usable redirect.
	ErrProviderUnavailable = errors.New("payments: provider unavailable")
	// ErrInvalidSignature is returned when a signed provider return fails verification.
	ErrInvalidSignature = errors.New("payments: invalid signature")
	// ErrPollTimeout is returned when polling exhausts its attempts without a terminal outcome.
	ErrPollTimeout = errors.New("payments: poll timeout")
	// ErrResultMismatch is returned when an adapter receives a result variant it does not understand.
	ErrResultMismatch = errors.New("payments: result does not belong to provider")
)

// Logger receives structured adapter events.
type Logger func(ctx context.Context, event string, fields map[string]any)

func noopLogger(context.Context, string, map[string]any) {}

// LineItem describes a single line forwarded to providers that itemise checkouts.
type LineItem struct {
	Name     string
	SKU      string
	Quantity int64
	Amount   int64
}

// InitiateRequest captures everything an adapter needs to start a payment.
type InitiateRequest struct {
	CorrelationID  string
	UserID         string
	Amount         int64
	Currency       string
	OrderInfo      string
	ReturnURL      string
	ClientIP       string
	AcceptLanguage string
	Items          []LineItem
	Metadata       map[string]string
}

// Initiation is the adapter response to a successful initiation.
type Initiation struct {
	Mode        Mode
	RedirectURL string
	ProviderRef string
	ExpiresAt   time.Time
}

// Outcome is the provider-agnostic decision derived from a raw provider result.
type Outcome struct {
	Status        Status
	CorrelationID string
	ProviderRef   string
	Code          string
}

// Terminal reports whether the outcome settles the transaction.
func (o Outcome) Terminal() bool {
	return o.Status == StatusSucceeded || o.Status == StatusFailed
}

// PollRef identifies the provider-side task to poll.
type PollRef struct {
	CorrelationID string
	ProviderRef   string
}

// Adapter is the uniform contract every payment provider implements.
type Adapter interface {
	Kind() Kind
	Initiate(ctx context.Context, req InitiateRequest) (Initiation, error)
	Outcome(result ProviderResult) (Outcome, error)
}

// Poller is implemented by adapters whose return callback is not authoritative.
type Poller interface {
	Poll(ctx context.Context, ref PollRef) (Outcome, error)
}

// Bounds holds the accepted payable amount range, inclusive on both ends.
type Bounds struct {
	Min int64
	Max int64
}

// DefaultBounds are the storefront limits for a single checkout.
var DefaultBounds = Bounds{Min: 1_000, Max: 50_000_000}

// AmountRangeError carries the rejected amount and the bounds it violated.
type AmountRangeError struct {
	Amount int64
	Bounds Bounds
}

func (e *AmountRangeError) Error() string {
	return fmt.Sprintf("payments: amount %d outside [%d, %d]", e.Amount, e.Bounds.Min, e.Bounds.Max)
}

// Unwrap exposes ErrAmountOutOfRange to errors.Is.
func (e *AmountRangeError) Unwrap() error { return ErrAmountOutOfRange }

// Check validates amount against the bounds.
func (b Bounds) Check(amount int64) error {
	if amount < b.Min || amount > b.Max {
		return &AmountRangeError{Amount: amount, Bounds: b}
	}
	return nil
}

// Registry resolves adapters by kind.
type Registry struct {
	adapters map[Kind]Adapter
	aliases  map[string]Kind
}

// RegistryOption configures optional behaviour when building a Registry.
type RegistryOption func(*Registry)

// WithAliases maps additional names onto registered kinds.
func WithAliases(aliases map[string]Kind) RegistryOption {
	return func(r *Registry) {
		for name, kind := range aliases {
			key := strings.ToLower(strings.TrimSpace(name))
			if key != "" {
				r.aliases[key] = kind
			}
		}
	}
}

// NewRegistry constructs a Registry over the supplied adapters.
func NewRegistry(adapters []Adapter, opts ...RegistryOption) (*Registry, error) {
	if len(adapters) == 0 {
		return nil, errors.New("payments: at least one adapter is required")
	}
	r := &Registry{
		adapters: make(map[Kind]Adapter, len(adapters)),
		aliases:  make(map[string]Kind),
	}
	for i, adapter := range adapters {
		if adapter == nil {
			return nil, fmt.Errorf("payments: adapter %d is nil", i)
		}
		kind := adapter.Kind()
		if kind == "" {
			return nil, fmt.Errorf("payments: adapter %d has no kind", i)
		}
		if _, dup := r.adapters[kind]; dup {
			return nil, fmt.Errorf("payments: duplicate adapter for %q", kind)
		}
		r.adapters[kind] = adapter
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Resolve returns the adapter registered for name. Lookup is case-insensitive.
func (r *Registry) Resolve(name string) (Adapter, error) {
	if r == nil {
		return nil, errors.New("payments: registry is nil")
	}
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, ErrUnsupportedProvider
	}
	if adapter, ok := r.adapters[Kind(key)]; ok {
		return adapter, nil
	}
	if kind, ok := r.aliases[key]; ok {
		if adapter, ok := r.adapters[kind]; ok {
			return adapter, nil
		}
	}
	if kind, ok := domain.ParsePaymentMethod(key); ok {
		if adapter, ok := r.adapters[kind]; ok {
			return adapter, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, name)
}

// Kinds lists the registered adapter kinds in sorted order.
func (r *Registry) Kinds() []Kind {
	kinds := make([]Kind, 0, len(r.adapters))
	for kind := range r.adapters {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
