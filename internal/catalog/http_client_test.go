package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/wearwise/checkout/internal/services"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewHTTPClient(Config{BaseURL: srv.URL, ServiceToken: "svc-token", HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestHTTPClientGetCart(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/cart/user-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer svc-token" {
			t.Errorf("expected bearer token, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"cart":[
			{"cart_item_id":1,"quantity":2,
			 "product":{"id":42,"name":"Linen shirt","price":"150.000"},
			 "color":{"id":7,"name":"Red"},"size":{"id":"M","name":"M"},
			 "discounts":[{"code":"SPRING","percentage":"12.5"}]},
			{"product_id":"43","color_id":"8","size_id":"L","quantity":1,
			 "product":{"id":43,"name":"Tote","price":99000.4}}
		]}`))
	})

	items, err := client.GetCart(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	first := items[0]
	if first.ProductID != "42" || first.ColorID != "7" || first.SizeID != "M" || first.Quantity != 2 {
		t.Fatalf("unexpected first item %+v", first)
	}
	if first.Price != "150.000" || first.Name != "Linen shirt" {
		t.Fatalf("expected price text preserved, got %+v", first)
	}
	if len(first.Discounts) != 1 || first.Discounts[0].Percentage != "12.5" || !first.Discounts[0].Active {
		t.Fatalf("unexpected discounts %+v", first.Discounts)
	}
	if items[1].Price != "99000" || items[1].ProductID != "43" || items[1].SizeID != "L" {
		t.Fatalf("unexpected second item %+v", items[1])
	}
}

func TestHTTPClientGetProduct(t *testing.T) {
	cases := map[string]string{
		"wrapped": `{"product":{"id":42,"name":"Linen shirt","price":150000,"colors":[{"id":7}],"sizes":[{"id":"M"},{"id":"L"}],
			"discounts":[{"percentage":10,"is_active":false}]}}`,
		"bare": `{"id":42,"name":"Linen shirt","price":"150000","colors":[{"id":7}],"sizes":[{"id":"M"},{"id":"L"}],
			"discounts":[{"percentage":"10","is_active":false}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/products/42" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				_, _ = w.Write([]byte(body))
			})
			product, err := client.GetProduct(context.Background(), "42")
			if err != nil {
				t.Fatalf("get product: %v", err)
			}
			if product.ID != "42" || product.Price != "150000" {
				t.Fatalf("unexpected product %+v", product)
			}
			if len(product.ColorIDs) != 1 || product.ColorIDs[0] != "7" || len(product.SizeIDs) != 2 {
				t.Fatalf("unexpected options %+v", product)
			}
			if len(product.Discounts) != 1 || product.Discounts[0].Active {
				t.Fatalf("expected inactive discount, got %+v", product.Discounts)
			}
		})
	}
}

func TestHTTPClientErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{name: "not found", status: http.StatusNotFound, body: `{}`, want: services.ErrCatalogNotFound},
		{name: "server error", status: http.StatusBadGateway, body: `{}`, want: services.ErrCatalogUnavailable},
		{name: "malformed body", status: http.StatusOK, body: `{"cart":`, want: services.ErrCatalogUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			if _, err := client.GetCart(context.Background(), "user-1"); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestHTTPClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	client, err := NewHTTPClient(Config{BaseURL: base})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.GetProduct(context.Background(), "42"); !errors.Is(err, services.ErrCatalogUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestNewHTTPClientValidates(t *testing.T) {
	if _, err := NewHTTPClient(Config{}); err == nil {
		t.Fatalf("expected error for empty base url")
	}
	if _, err := NewHTTPClient(Config{BaseURL: "not a url"}); err == nil {
		t.Fatalf("expected error for invalid base url")
	}
}
