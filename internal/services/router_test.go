package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/threadlinehq/threadline/internal/store"
)

type fakeCredStore struct {
	creds []store.Credential
}

func (f *fakeCredStore) ListActive(ctx context.Context, orgID uuid.UUID) ([]store.Credential, error) {
	return f.creds, nil
}
func (f *fakeCredStore) Upsert(ctx context.Context, cred *store.Credential) error { return nil }
func (f *fakeCredStore) Deactivate(ctx context.Context, orgID uuid.UUID, serviceType string) error {
	return nil
}

type stubService struct {
	serviceType string
	handles     bool
	result      *Result
}

func (s *stubService) Type() string            { return s.serviceType }
func (s *stubService) Capabilities() []string  { return []string{"order_query"} }
func (s *stubService) CanHandle(purpose string, details map[string]string) bool {
	return s.handles
}
func (s *stubService) Process(ctx context.Context, purpose string, details map[string]string) (*Result, error) {
	return s.result, nil
}

func cred(serviceType, payload string) store.Credential {
	return store.Credential{
		ID:          uuid.Must(uuid.NewV7()),
		ServiceType: serviceType,
		Payload:     payload,
		IsActive:    true,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
}

func TestRoute_FirstHandlerWins(t *testing.T) {
	reg := NewRegistry()
	reg.Register("declines", func(payload json.RawMessage) (Service, error) {
		return &stubService{serviceType: "declines", handles: false}, nil
	})
	reg.Register("accepts", func(payload json.RawMessage) (Service, error) {
		return &stubService{serviceType: "accepts", handles: true,
			result: &Result{ResponseText: "handled"}}, nil
	})

	r := NewRouter(reg, &fakeCredStore{creds: []store.Credential{
		cred("declines", "{}"),
		cred("accepts", "{}"),
	}}, slog.Default())

	res, err := r.Route(context.Background(), uuid.Nil, "order_query", map[string]string{"order_id": "1"})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if res == nil || res.ResponseText != "handled" {
		t.Errorf("Route = %+v, want result from the second credential", res)
	}
}

func TestRoute_OrderQueryFallback(t *testing.T) {
	r := NewRouter(NewRegistry(), &fakeCredStore{}, slog.Default())

	res, err := r.Route(context.Background(), uuid.Nil, "order_query", nil)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if res == nil || res.ResponseText != orderUnavailableReply {
		t.Errorf("order query with no backend should get the canned reply, got %+v", res)
	}
}

func TestRoute_NoHandlerNoFallback(t *testing.T) {
	r := NewRouter(NewRegistry(), &fakeCredStore{}, slog.Default())

	res, err := r.Route(context.Background(), uuid.Nil, "greeting", nil)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if res != nil {
		t.Errorf("non-order purpose with no backend should fall through, got %+v", res)
	}
}

func TestRoute_SkipsUnusableCredential(t *testing.T) {
	reg := NewRegistry()
	// "broken" is never registered, so Build fails for it.
	reg.Register("healthy", func(payload json.RawMessage) (Service, error) {
		return &stubService{serviceType: "healthy", handles: true,
			result: &Result{ResponseText: "ok"}}, nil
	})

	r := NewRouter(reg, &fakeCredStore{creds: []store.Credential{
		cred("broken", "{}"),
		cred("healthy", "{}"),
	}}, slog.Default())

	res, err := r.Route(context.Background(), uuid.Nil, "order_query", map[string]string{"order_id": "1"})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if res == nil || res.ResponseText != "ok" {
		t.Errorf("router should skip the unbuildable credential, got %+v", res)
	}
}

func TestRoute_CachesInstances(t *testing.T) {
	built := 0
	reg := NewRegistry()
	reg.Register("counted", func(payload json.RawMessage) (Service, error) {
		built++
		return &stubService{serviceType: "counted", handles: true,
			result: &Result{ResponseText: "ok"}}, nil
	})

	c := cred("counted", "{}")
	r := NewRouter(reg, &fakeCredStore{creds: []store.Credential{c}}, slog.Default())

	for i := 0; i < 3; i++ {
		if _, err := r.Route(context.Background(), uuid.Nil, "order_query", nil); err != nil {
			t.Fatalf("Route: %v", err)
		}
	}
	if built != 1 {
		t.Errorf("constructor ran %d times, want 1 (cached)", built)
	}
}
