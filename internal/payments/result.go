package payments

import (
	"net/url"
	"strings"
)

// ProviderResult is a raw provider payload awaiting translation into an Outcome.
// The set of implementations is closed to this package.
type ProviderResult interface {
	Provider() Kind
	Correlation() string
	isProviderResult()
}

// ImmediateResult settles providers that need no external round-trip.
type ImmediateResult struct {
	CorrelationID string
}

func (r ImmediateResult) Provider() Kind      { return KindCOD }
func (r ImmediateResult) Correlation() string { return strings.TrimSpace(r.CorrelationID) }
func (ImmediateResult) isProviderResult()     {}

// GatewayAReturn carries the signed query string of a Gateway A redirect back.
type GatewayAReturn struct {
	Params url.Values
}

func (r GatewayAReturn) Provider() Kind { return KindGatewayA }
func (r GatewayAReturn) Correlation() string {
	return strings.TrimSpace(r.Params.Get(gatewayAParamTxnRef))
}
func (GatewayAReturn) isProviderResult() {}

// GatewayBReturn is the browser redirect back from Gateway B. It is advisory only.
type GatewayBReturn struct {
	OrderID    string
	ResultCode string
	Message    string
}

func (r GatewayBReturn) Provider() Kind      { return KindGatewayB }
func (r GatewayBReturn) Correlation() string { return strings.TrimSpace(r.OrderID) }
func (GatewayBReturn) isProviderResult()     {}

// GatewayBStatus is one answer of the Gateway B result endpoint.
type GatewayBStatus struct {
	CorrelationID string
	TaskHandle    string
	TaskStatus    string
	Result        string
}

func (r GatewayBStatus) Provider() Kind      { return KindGatewayB }
func (r GatewayBStatus) Correlation() string { return strings.TrimSpace(r.CorrelationID) }
func (GatewayBStatus) isProviderResult()     {}

// CardReturn is a redirect back from a hosted card checkout. Cancelled marks the cancel
// redirect, which carries no session id.
type CardReturn struct {
	CorrelationID string
	SessionID     string
	Cancelled     bool
}

func (r CardReturn) Provider() Kind      { return KindCard }
func (r CardReturn) Correlation() string { return strings.TrimSpace(r.CorrelationID) }
func (CardReturn) isProviderResult()     {}

// CardStatus is the state of a hosted card checkout session.
type CardStatus struct {
	CorrelationID string
	SessionID     string
	Status        string
	PaymentStatus string
}

func (r CardStatus) Provider() Kind      { return KindCard }
func (r CardStatus) Correlation() string { return strings.TrimSpace(r.CorrelationID) }
func (CardStatus) isProviderResult()     {}
