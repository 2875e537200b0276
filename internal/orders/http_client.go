// Package orders implements the order-creation boundary.
package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wearwise/checkout/internal/domain"
	"github.com/wearwise/checkout/internal/services"
)

const (
	defaultCreatePath = "/api/buyer/order/create-order"
	maxBody           = 1 << 20
)

// HTTPConfig configures the remote order service client.
type HTTPConfig struct {
	BaseURL      string
	CreatePath   string
	ServiceToken string
	HTTPClient   *http.Client
	Timeout      time.Duration
	Clock        func() time.Time
}

// HTTPClient posts order payloads to the storefront order service.
type HTTPClient struct {
	endpoint string
	token    string
	client   *http.Client
	now      func() time.Time
}

var _ services.OrderCreator = (*HTTPClient)(nil)

// NewHTTPClient validates cfg and constructs the client.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if raw == "" {
		return nil, errors.New("orders: base url is required")
	}
	base, err := url.Parse(raw)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("orders: invalid base url %q", cfg.BaseURL)
	}
	path := strings.TrimSpace(cfg.CreatePath)
	if path == "" {
		path = defaultCreatePath
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &HTTPClient{
		endpoint: base.JoinPath(path).String(),
		token:    strings.TrimSpace(cfg.ServiceToken),
		client:   client,
		now:      clock,
	}, nil
}

type createResponse struct {
	Error   any    `json:"error"`
	Message string `json:"message"`
	ID      any    `json:"id"`
	OrderID any    `json:"order_id"`
	Order   *struct {
		ID     any    `json:"id"`
		Status string `json:"status"`
	} `json:"order"`
}

// CreateOrder implements services.OrderCreator. The transaction id travels as the
// Idempotency-Key header so that the order service can deduplicate retries.
func (c *HTTPClient) CreateOrder(ctx context.Context, payload services.OrderPayload) (domain.Order, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.Order{}, fmt.Errorf("orders: encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Order{}, fmt.Errorf("orders: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if payload.TransactionID != "" {
		req.Header.Set("Idempotency-Key", payload.TransactionID)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return domain.Order{}, fmt.Errorf("orders: create: %w", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if err != nil {
		return domain.Order{}, fmt.Errorf("orders: read response: %w", err)
	}
	var decoded createResponse
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil && res.StatusCode < 300 {
			return domain.Order{}, fmt.Errorf("orders: decode response: %w", err)
		}
	}
	if res.StatusCode >= 300 || truthy(decoded.Error) {
		msg := strings.TrimSpace(decoded.Message)
		if msg == "" {
			msg = http.StatusText(res.StatusCode)
		}
		return domain.Order{}, fmt.Errorf("orders: create rejected (%d): %s", res.StatusCode, msg)
	}

	order := domain.Order{
		TransactionID: payload.TransactionID,
		Status:        "created",
		CreatedAt:     c.now().UTC(),
	}
	switch {
	case decoded.Order != nil && idString(decoded.Order.ID) != "":
		order.ID = idString(decoded.Order.ID)
		if decoded.Order.Status != "" {
			order.Status = decoded.Order.Status
		}
	case idString(decoded.OrderID) != "":
		order.ID = idString(decoded.OrderID)
	default:
		order.ID = idString(decoded.ID)
	}
	if order.ID == "" {
		return domain.Order{}, errors.New("orders: response carried no order id")
	}
	return order, nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return strings.TrimSpace(t) != ""
	default:
		return true
	}
}

func idString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return fmt.Sprintf("%.0f", t)
	default:
		return ""
	}
}
