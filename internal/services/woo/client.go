// Package woo implements the WooCommerce commerce backend: order
// lookups with phone-based access control and product search.
package woo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotFound is returned when the store has no record for the
// requested resource.
var ErrNotFound = errors.New("woocommerce: not found")

const apiPathPrefix = "/wp-json/wc/v3/"

// Contact is the billing or shipping block of an order.
type Contact struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

// LineItem is one purchased product line on an order.
type LineItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Total    string `json:"total"`
}

// Order is the subset of the WooCommerce order document this service uses.
type Order struct {
	ID                 int        `json:"id"`
	Status             string     `json:"status"`
	DateCreated        string     `json:"date_created"`
	Total              string     `json:"total"`
	Currency           string     `json:"currency"`
	PaymentMethodTitle string     `json:"payment_method_title"`
	Billing            Contact    `json:"billing"`
	Shipping           Contact    `json:"shipping"`
	LineItems          []LineItem `json:"line_items"`
}

// Product is the subset of the WooCommerce product document this service uses.
type Product struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Price       string `json:"price"`
	StockStatus string `json:"stock_status"`
}

// Client talks to one store's WooCommerce REST API, authenticated with
// the store's consumer key and secret.
type Client struct {
	baseURL        string
	consumerKey    string
	consumerSecret string
	httpc          *http.Client
}

func NewClient(baseURL, consumerKey, consumerSecret string) *Client {
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		httpc:          &http.Client{Timeout: 15 * time.Second},
	}
}

// GetOrder fetches one order by its numeric ID. Returns ErrNotFound
// when the store has no such order.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var order Order
	if err := c.get(ctx, "orders/"+url.PathEscape(orderID), nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// SearchProducts returns products whose name or description matches query.
func (c *Client) SearchProducts(ctx context.Context, query string) ([]Product, error) {
	params := url.Values{}
	if query != "" {
		params.Set("search", query)
	}
	var products []Product
	if err := c.get(ctx, "products", params, &products); err != nil {
		return nil, err
	}
	return products, nil
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	u := c.baseURL + apiPathPrefix + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.consumerKey, c.consumerSecret)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("woocommerce request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("woocommerce API status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
