// Package services routes classified requests to per-organization
// commerce backends. Each backend implements Service; the Router owns
// credential lookup, instantiation and caching.
package services

import (
	"context"
	"encoding/json"
	"fmt"
)

// Known service types. The set is closed: adding a backend means adding
// a constant here and a constructor in the Registry.
const (
	TypeWooCommerce = "woocommerce"
)

// Result is what a backend produced for one request. ResponseText is
// ready to send as-is; ToolOutput carries structured data for the
// assembler when the backend returns raw records instead of prose.
type Result struct {
	ResponseText string
	ToolOutput   map[string]any
}

// Service is one commerce backend bound to one organization's credentials.
type Service interface {
	// Type returns the service type constant the instance was built from.
	Type() string
	// Capabilities lists the purposes the backend can serve at all.
	Capabilities() []string
	// CanHandle reports whether this request, with these extracted
	// details, is actionable. It must be cheap: no network calls.
	CanHandle(purpose string, details map[string]string) bool
	// Process executes the request against the backend.
	Process(ctx context.Context, purpose string, details map[string]string) (*Result, error)
}

// Constructor builds a Service from a decrypted credential payload.
type Constructor func(payload json.RawMessage) (Service, error)

// Registry maps service types to constructors in a fixed order. Order
// matters only for diagnostics; routing order follows credential
// created_at, not registry order.
type Registry struct {
	order        []string
	constructors map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{constructors: map[string]Constructor{}}
}

// Register binds a constructor to a service type. Re-registering a type
// is a programming error.
func (r *Registry) Register(serviceType string, ctor Constructor) {
	if _, dup := r.constructors[serviceType]; dup {
		panic(fmt.Sprintf("services: duplicate registration for %q", serviceType))
	}
	r.order = append(r.order, serviceType)
	r.constructors[serviceType] = ctor
}

// Build constructs a Service for the given type, or an error when the
// type is unknown.
func (r *Registry) Build(serviceType string, payload json.RawMessage) (Service, error) {
	ctor, ok := r.constructors[serviceType]
	if !ok {
		return nil, fmt.Errorf("services: unknown service type %q", serviceType)
	}
	return ctor(payload)
}

// Types returns the registered service types in registration order.
func (r *Registry) Types() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
