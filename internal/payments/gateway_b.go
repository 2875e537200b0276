package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	gatewayBTaskSucceeded = "succeed"
	gatewayBTaskFailed    = "failed"
	gatewayBMaxBody       = 1 << 20
)

// GatewayBConfig configures the API-initiated, poll-confirmed gateway.
type GatewayBConfig struct {
	Endpoint    string
	PartnerCode string
	APIKey      string
	HTTPClient  *http.Client
	Timeout     time.Duration
	NewID       func() string
	Logger      Logger
}

// GatewayBAdapter initiates payments over the provider API and confirms them by polling.
type GatewayBAdapter struct {
	endpoint *url.URL
	partner  string
	apiKey   string
	client   *http.Client
	newID    func() string
	logger   Logger
}

// NewGatewayBAdapter validates cfg and constructs the adapter.
func NewGatewayBAdapter(cfg GatewayBConfig) (*GatewayBAdapter, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if raw == "" {
		return nil, errors.New("gateway b: endpoint is required")
	}
	endpoint, err := url.Parse(raw)
	if err != nil || endpoint.Scheme == "" || endpoint.Host == "" {
		return nil, fmt.Errorf("gateway b: invalid endpoint %q", cfg.Endpoint)
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	newID := cfg.NewID
	if newID == nil {
		newID = func() string { return uuid.NewString() }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &GatewayBAdapter{
		endpoint: endpoint,
		partner:  strings.TrimSpace(cfg.PartnerCode),
		apiKey:   strings.TrimSpace(cfg.APIKey),
		client:   client,
		newID:    newID,
		logger:   logger,
	}, nil
}

// Kind implements Adapter.
func (a *GatewayBAdapter) Kind() Kind { return KindGatewayB }

type gatewayBInitiateRequest struct {
	PartnerCode   string            `json:"partnerCode,omitempty"`
	RequestID     string            `json:"requestId"`
	CorrelationID string            `json:"correlationId"`
	Amount        int64             `json:"amount"`
	OrderInfo     string            `json:"orderInfo,omitempty"`
	ReturnURL     string            `json:"returnUrl,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type gatewayBInitiateResponse struct {
	PayURL     string `json:"payUrl"`
	TaskHandle string `json:"taskHandle"`
	Message    string `json:"message"`
}

type gatewayBResultResponse struct {
	TaskStatus string          `json:"task_status"`
	Status     string          `json:"status"`
	Result     json.RawMessage `json:"result"`
}

// Initiate implements Adapter.
func (a *GatewayBAdapter) Initiate(ctx context.Context, req InitiateRequest) (Initiation, error) {
	if strings.TrimSpace(req.CorrelationID) == "" {
		return Initiation{}, fmt.Errorf("%w: gateway b: correlation id is required", ErrProviderUnavailable)
	}

	requestID := a.newID()
	payload := gatewayBInitiateRequest{
		PartnerCode:   a.partner,
		RequestID:     requestID,
		CorrelationID: req.CorrelationID,
		Amount:        req.Amount,
		OrderInfo:     req.OrderInfo,
		ReturnURL:     req.ReturnURL,
		Metadata:      req.Metadata,
	}
	var resp gatewayBInitiateResponse
	if err := a.do(ctx, http.MethodPost, a.endpoint.JoinPath("payment").String(), payload, &resp); err != nil {
		a.logger(ctx, "payments.gateway_b.initiate_failed", map[string]any{
			"correlationId": req.CorrelationID,
			"requestId":     requestID,
			"error":         err.Error(),
		})
		return Initiation{}, fmt.Errorf("%w: gateway b: %v", ErrProviderUnavailable, err)
	}
	if strings.TrimSpace(resp.PayURL) == "" {
		return Initiation{}, fmt.Errorf("%w: gateway b: response has no payUrl", ErrProviderUnavailable)
	}

	a.logger(ctx, "payments.gateway_b.initiated", map[string]any{
		"correlationId": req.CorrelationID,
		"requestId":     requestID,
		"taskHandle":    resp.TaskHandle,
	})

	return Initiation{
		Mode:        ModeRedirect,
		RedirectURL: resp.PayURL,
		ProviderRef: strings.TrimSpace(resp.TaskHandle),
	}, nil
}

// Outcome implements Adapter. The browser return only ever fails or defers to polling;
// a status answer from the result endpoint is authoritative.
func (a *GatewayBAdapter) Outcome(result ProviderResult) (Outcome, error) {
	switch r := result.(type) {
	case GatewayBReturn:
		code := strings.TrimSpace(r.ResultCode)
		outcome := Outcome{Status: StatusFailed, CorrelationID: r.Correlation(), Code: code}
		if n, err := strconv.Atoi(code); err == nil && n == 0 {
			outcome.Status = StatusPending
		}
		return outcome, nil
	case GatewayBStatus:
		outcome := Outcome{
			Status:        StatusPending,
			CorrelationID: r.Correlation(),
			ProviderRef:   r.TaskHandle,
			Code:          r.TaskStatus,
		}
		switch strings.ToLower(strings.TrimSpace(r.TaskStatus)) {
		case gatewayBTaskSucceeded:
			outcome.Status = StatusSucceeded
		case gatewayBTaskFailed:
			outcome.Status = StatusFailed
		}
		return outcome, nil
	default:
		return Outcome{}, fmt.Errorf("%w: gateway b got %T", ErrResultMismatch, result)
	}
}

// Poll implements Poller with a single request to the result endpoint.
func (a *GatewayBAdapter) Poll(ctx context.Context, ref PollRef) (Outcome, error) {
	handle := strings.TrimSpace(ref.ProviderRef)
	if handle == "" {
		return Outcome{}, fmt.Errorf("%w: gateway b: task handle is required", ErrProviderUnavailable)
	}
	var resp gatewayBResultResponse
	if err := a.do(ctx, http.MethodGet, a.endpoint.JoinPath("result", handle).String(), nil, &resp); err != nil {
		return Outcome{}, fmt.Errorf("%w: gateway b poll: %v", ErrProviderUnavailable, err)
	}
	status := resp.TaskStatus
	if status == "" {
		status = resp.Status
	}
	return a.Outcome(GatewayBStatus{
		CorrelationID: ref.CorrelationID,
		TaskHandle:    handle,
		TaskStatus:    status,
		Result:        string(resp.Result),
	})
}

func (a *GatewayBAdapter) do(ctx context.Context, method, target string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, gatewayBMaxBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
