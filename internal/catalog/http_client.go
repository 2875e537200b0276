// Package catalog reads carts and products from the storefront catalog service.
package catalog

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

	"github.com/shopspring/decimal"

	"github.com/wearwise/checkout/internal/domain"
	"github.com/wearwise/checkout/internal/services"
)

const (
	defaultCartPath    = "/api/cart/{userId}"
	defaultProductPath = "/api/products/{productId}"
	maxBody            = 2 << 20
)

// Config configures the catalog client.
type Config struct {
	BaseURL      string
	CartPath     string
	ProductPath  string
	ServiceToken string
	HTTPClient   *http.Client
	Timeout      time.Duration
}

// HTTPClient implements services.Catalog over the catalog REST API.
type HTTPClient struct {
	base        *url.URL
	cartPath    string
	productPath string
	token       string
	client      *http.Client
}

var _ services.Catalog = (*HTTPClient)(nil)

// NewHTTPClient validates cfg and constructs the client.
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if raw == "" {
		return nil, errors.New("catalog: base url is required")
	}
	base, err := url.Parse(raw)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("catalog: invalid base url %q", cfg.BaseURL)
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	cartPath := strings.TrimSpace(cfg.CartPath)
	if cartPath == "" {
		cartPath = defaultCartPath
	}
	productPath := strings.TrimSpace(cfg.ProductPath)
	if productPath == "" {
		productPath = defaultProductPath
	}
	return &HTTPClient{
		base:        base,
		cartPath:    cartPath,
		productPath: productPath,
		token:       strings.TrimSpace(cfg.ServiceToken),
		client:      client,
	}, nil
}

type cartResponse struct {
	Cart []cartLine `json:"cart"`
}

type cartLine struct {
	ProductID flexString   `json:"product_id"`
	ColorID   flexString   `json:"color_id"`
	SizeID    flexString   `json:"size_id"`
	Quantity  int64        `json:"quantity"`
	Product   *productBody `json:"product"`
	Color     *namedRef    `json:"color"`
	Size      *namedRef    `json:"size"`
	Discounts []discount   `json:"discounts"`
}

type productResponse struct {
	Product *productBody `json:"product"`
}

type productBody struct {
	ID        flexString `json:"id"`
	Name      string     `json:"name"`
	Price     flexAmount `json:"price"`
	Colors    []namedRef `json:"colors"`
	Sizes     []namedRef `json:"sizes"`
	Discounts []discount `json:"discounts"`
}

type namedRef struct {
	ID   flexString `json:"id"`
	Name string     `json:"name"`
}

type discount struct {
	Code       string     `json:"code"`
	Percentage flexString `json:"percentage"`
	Active     *bool      `json:"is_active"`
	StartDate  *time.Time `json:"start_date"`
	EndDate    *time.Time `json:"end_date"`
}

// GetCart implements services.Catalog.
func (c *HTTPClient) GetCart(ctx context.Context, userID string) ([]domain.CartItem, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", services.ErrCheckoutInvalidInput)
	}
	var resp cartResponse
	if err := c.get(ctx, strings.ReplaceAll(c.cartPath, "{userId}", url.PathEscape(userID)), &resp); err != nil {
		return nil, err
	}
	items := make([]domain.CartItem, 0, len(resp.Cart))
	for _, line := range resp.Cart {
		item := domain.CartItem{
			ProductID: line.ProductID.String(),
			ColorID:   line.ColorID.String(),
			SizeID:    line.SizeID.String(),
			Quantity:  line.Quantity,
			Discounts: toDiscounts(line.Discounts),
		}
		if line.Product != nil {
			if item.ProductID == "" {
				item.ProductID = line.Product.ID.String()
			}
			item.Name = line.Product.Name
			item.Price = line.Product.Price.String()
			if len(item.Discounts) == 0 {
				item.Discounts = toDiscounts(line.Product.Discounts)
			}
		}
		if item.ColorID == "" && line.Color != nil {
			item.ColorID = line.Color.ID.String()
		}
		if item.SizeID == "" && line.Size != nil {
			item.SizeID = line.Size.ID.String()
		}
		items = append(items, item)
	}
	return items, nil
}

// GetProduct implements services.Catalog. Both {"product": {...}} and a bare product body
// are accepted.
func (c *HTTPClient) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, fmt.Errorf("%w: product id is required", services.ErrCheckoutInvalidInput)
	}
	var raw json.RawMessage
	if err := c.get(ctx, strings.ReplaceAll(c.productPath, "{productId}", url.PathEscape(productID)), &raw); err != nil {
		return domain.Product{}, err
	}
	var wrapped productResponse
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return domain.Product{}, fmt.Errorf("%w: decode product: %v", services.ErrCatalogUnavailable, err)
	}
	body := wrapped.Product
	if body == nil {
		body = &productBody{}
		if err := json.Unmarshal(raw, body); err != nil {
			return domain.Product{}, fmt.Errorf("%w: decode product: %v", services.ErrCatalogUnavailable, err)
		}
	}
	product := domain.Product{
		ID:        body.ID.String(),
		Name:      body.Name,
		Price:     body.Price.String(),
		Discounts: toDiscounts(body.Discounts),
	}
	if product.ID == "" {
		product.ID = productID
	}
	for _, color := range body.Colors {
		if id := color.ID.String(); id != "" {
			product.ColorIDs = append(product.ColorIDs, id)
		}
	}
	for _, size := range body.Sizes {
		if id := size.ID.String(); id != "" {
			product.SizeIDs = append(product.SizeIDs, id)
		}
	}
	return product, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base.JoinPath(path).String(), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", services.ErrCatalogUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", services.ErrCatalogUnavailable, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", services.ErrCatalogUnavailable, err)
	}
	switch {
	case res.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", services.ErrCatalogNotFound, path)
	case res.StatusCode >= 300:
		return fmt.Errorf("%w: status %d", services.ErrCatalogUnavailable, res.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode: %v", services.ErrCatalogUnavailable, err)
	}
	return nil
}

func toDiscounts(in []discount) []domain.Discount {
	if len(in) == 0 {
		return nil
	}
	out := make([]domain.Discount, 0, len(in))
	for _, d := range in {
		active := true
		if d.Active != nil {
			active = *d.Active
		}
		out = append(out, domain.Discount{
			Percentage: d.Percentage.String(),
			Active:     active,
			StartsAt:   d.StartDate,
			EndsAt:     d.EndDate,
		})
	}
	return out
}

// flexString accepts JSON strings and numbers. Catalog ids and prices arrive as either.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("catalog: expected string or number, got %s", data)
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) String() string { return string(f) }

// flexAmount is a price given either as formatted text or as a JSON number of minor units.
// A numeric fractional part is rounded away so that it is not mistaken for a thousands
// separator downstream.
type flexAmount string

func (f *flexAmount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] != '"' && !bytes.Equal(data, []byte("null")) {
		value, err := decimal.NewFromString(string(data))
		if err != nil {
			return fmt.Errorf("catalog: malformed amount %s: %w", data, err)
		}
		*f = flexAmount(value.Round(0).String())
		return nil
	}
	var s flexString
	if err := s.UnmarshalJSON(data); err != nil {
		return err
	}
	*f = flexAmount(s)
	return nil
}

func (f flexAmount) String() string { return string(f) }
