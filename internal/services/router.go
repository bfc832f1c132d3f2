package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/threadlinehq/threadline/internal/cache"
	"github.com/threadlinehq/threadline/internal/store"
)

const (
	instanceCacheSize = 256
	instanceCacheTTL  = 10 * time.Minute
)

// orderUnavailableReply is sent when an order question arrives but no
// configured backend can act on it. It deliberately asks for the one
// detail most often missing rather than exposing configuration state.
const orderUnavailableReply = "I couldn't look up your order right now. " +
	"Please reply with your order number (for example: order 1234) and I'll try again."

// Router resolves a classified request to the first configured backend
// able to handle it. Backend instances are cached per credential so
// hot-path requests skip payload parsing and client construction.
type Router struct {
	registry  *Registry
	creds     store.CredentialStore
	instances *cache.TTL[Service]
	log       *slog.Logger
}

func NewRouter(registry *Registry, creds store.CredentialStore, log *slog.Logger) *Router {
	return &Router{
		registry:  registry,
		creds:     creds,
		instances: cache.NewTTL[Service](instanceCacheSize, instanceCacheTTL),
		log:       log,
	}
}

// Route finds the first active credential, in created_at order, whose
// backend reports CanHandle for this purpose, and processes the request
// against it. A nil Result with nil error means no backend applied and
// the caller should fall through to freeform generation.
func (r *Router) Route(ctx context.Context, orgID uuid.UUID, purpose string, details map[string]string) (*Result, error) {
	creds, err := r.creds.ListActive(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}

	for _, cred := range creds {
		svc, err := r.instance(cred)
		if err != nil {
			r.log.Warn("skipping unusable credential",
				"credential_id", cred.ID, "service_type", cred.ServiceType, "error", err)
			continue
		}
		if !svc.CanHandle(purpose, details) {
			continue
		}
		res, err := svc.Process(ctx, purpose, details)
		if err != nil {
			return nil, fmt.Errorf("service %s: %w", cred.ServiceType, err)
		}
		return res, nil
	}

	if purpose == "order_query" {
		return &Result{ResponseText: orderUnavailableReply}, nil
	}
	return nil, nil
}

func (r *Router) instance(cred store.Credential) (Service, error) {
	// UpdatedAt in the key invalidates instances on credential rotation.
	key := fmt.Sprintf("%s:%d", cred.ID, cred.UpdatedAt.UnixNano())
	if svc, ok := r.instances.Get(key); ok {
		return svc, nil
	}
	svc, err := r.registry.Build(cred.ServiceType, json.RawMessage(cred.Payload))
	if err != nil {
		return nil, err
	}
	r.instances.Set(key, svc)
	return svc, nil
}
