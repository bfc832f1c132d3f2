package woo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/threadlinehq/threadline/internal/intent"
	"github.com/threadlinehq/threadline/internal/services"
)

// adminPhonesEnv lists phone numbers allowed to look up any order,
// comma-separated. Read from the environment only, never from config.
const adminPhonesEnv = "THREADLINE_ADMIN_PHONES"

// minPhoneMatch is how many trailing digits must agree for two phone
// numbers to be considered the same line. Matching on the tail absorbs
// country-code differences like +27... vs 0...
const minPhoneMatch = 9

const (
	purposeOrderQuery  = "order_query"
	purposeProductInfo = "get_product_info"
)

// storeAPI is the slice of Client the service calls. Narrow so tests
// can substitute a fake store.
type storeAPI interface {
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	SearchProducts(ctx context.Context, query string) ([]Product, error)
}

type credentials struct {
	WooURL         string `json:"woo_url"`
	BaseURL        string `json:"base_url"`
	ConsumerKey    string `json:"consumer_key"`
	ConsumerSecret string `json:"consumer_secret"`
}

// Service answers order and product questions against one store.
type Service struct {
	api storeAPI
	log *slog.Logger
}

// New builds a Service from a decrypted credential payload. It is the
// registry constructor for services.TypeWooCommerce.
func New(payload json.RawMessage) (services.Service, error) {
	var creds credentials
	if err := json.Unmarshal(payload, &creds); err != nil {
		return nil, fmt.Errorf("parse woocommerce credentials: %w", err)
	}
	base := creds.WooURL
	if base == "" {
		base = creds.BaseURL
	}
	if base == "" || creds.ConsumerKey == "" || creds.ConsumerSecret == "" {
		return nil, errors.New("woocommerce credentials missing woo_url, consumer_key or consumer_secret")
	}
	return &Service{
		api: NewClient(base, creds.ConsumerKey, creds.ConsumerSecret),
		log: slog.Default().With("service", services.TypeWooCommerce),
	}, nil
}

func (s *Service) Type() string { return services.TypeWooCommerce }

func (s *Service) Capabilities() []string {
	return []string{purposeOrderQuery, purposeProductInfo}
}

// CanHandle requires the details the backend cannot proceed without:
// an order ID for order queries, a product name or description for
// product questions.
func (s *Service) CanHandle(purpose string, details map[string]string) bool {
	switch purpose {
	case purposeOrderQuery:
		return details["order_id"] != ""
	case purposeProductInfo:
		return details["product_name"] != "" || details["product_description"] != ""
	}
	return false
}

func (s *Service) Process(ctx context.Context, purpose string, details map[string]string) (*services.Result, error) {
	switch purpose {
	case purposeOrderQuery:
		return s.orderQuery(ctx, details)
	case purposeProductInfo:
		return s.productInfo(ctx, details)
	}
	return &services.Result{
		ResponseText: "I'm not sure how to help with that request.",
	}, nil
}

func (s *Service) orderQuery(ctx context.Context, details map[string]string) (*services.Result, error) {
	orderID := details["order_id"]
	userPhone := details[intent.DetailUserPhone]

	order, err := s.api.GetOrder(ctx, orderID)
	if errors.Is(err, ErrNotFound) {
		return &services.Result{
			ResponseText: fmt.Sprintf("I couldn't find an order with ID #%s. Could you please check the order number and try again?", orderID),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch order %s: %w", orderID, err)
	}

	// An unauthorized caller gets the same answer as a missing order.
	// Leaking "exists, but not yours" confirms order IDs to strangers.
	if !verifyOrderAccess(order, userPhone) {
		s.log.Warn("order access denied",
			"order_id", orderID, "user_phone_digits", len(digitsOnly(userPhone)))
		return &services.Result{
			ResponseText: fmt.Sprintf("I'm sorry, I couldn't find an order with ID #%s associated with your phone number. If you believe this is an error, please contact customer support.", orderID),
		}, nil
	}

	return &services.Result{
		ResponseText: fmt.Sprintf("I found information for order #%d.", order.ID),
		ToolOutput:   orderPayload(order),
	}, nil
}

func (s *Service) productInfo(ctx context.Context, details map[string]string) (*services.Result, error) {
	query := details["product_name"]
	if query == "" {
		query = details["product_description"]
	}

	products, err := s.api.SearchProducts(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search products %q: %w", query, err)
	}
	if len(products) == 0 {
		return &services.Result{
			ResponseText: fmt.Sprintf("I couldn't find any products matching '%s'. Could you try a different search term?", query),
		}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "I found these products matching '%s':\n", query)
	for _, p := range products {
		fmt.Fprintf(&b, "\n%s - %s", p.Name, p.Price)
		if p.StockStatus != "" && p.StockStatus != "instock" {
			fmt.Fprintf(&b, " (%s)", p.StockStatus)
		}
	}
	return &services.Result{ResponseText: b.String()}, nil
}

// orderPayload flattens an order into the structured output the
// response assembler formats for the end user.
func orderPayload(o *Order) map[string]any {
	items := make([]map[string]any, 0, len(o.LineItems))
	for _, li := range o.LineItems {
		items = append(items, map[string]any{
			"name":     li.Name,
			"quantity": li.Quantity,
			"total":    li.Total,
		})
	}
	return map[string]any{
		"order_id":       o.ID,
		"status":         o.Status,
		"date_created":   o.DateCreated,
		"total":          o.Total,
		"currency":       o.Currency,
		"payment_method": o.PaymentMethodTitle,
		"line_items":     items,
	}
}

// verifyOrderAccess reports whether the caller's phone number is
// entitled to see this order: it must match the order's billing or
// shipping phone, in full or on the last minPhoneMatch digits, unless
// the caller is on the admin override list.
func verifyOrderAccess(order *Order, userPhone string) bool {
	userPhone = strings.TrimPrefix(userPhone, "whatsapp:")
	user := digitsOnly(userPhone)
	if user == "" {
		return false
	}

	if isAdminPhone(user) {
		return true
	}

	billing := digitsOnly(order.Billing.Phone)
	shipping := digitsOnly(order.Shipping.Phone)
	return phonesMatch(user, billing) || phonesMatch(user, shipping)
}

// phonesMatch compares digit-only numbers, accepting a full match or a
// shared tail of minPhoneMatch digits.
func phonesMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	if len(a) < minPhoneMatch || len(b) < minPhoneMatch {
		return false
	}
	return a[len(a)-minPhoneMatch:] == b[len(b)-minPhoneMatch:]
}

func isAdminPhone(userDigits string) bool {
	raw := os.Getenv(adminPhonesEnv)
	if raw == "" {
		return false
	}
	for _, entry := range strings.Split(raw, ",") {
		admin := digitsOnly(strings.TrimSpace(entry))
		if admin == "" {
			continue
		}
		if phonesMatch(userDigits, admin) {
			return true
		}
	}
	return false
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
