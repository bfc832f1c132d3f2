package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/threadlinehq/threadline/internal/config"
	"github.com/threadlinehq/threadline/internal/pipeline"
	"github.com/threadlinehq/threadline/internal/store"
	"github.com/threadlinehq/threadline/internal/twilio"
)

type fakeProcessor struct {
	events []pipeline.InboundEvent
	err    error
}

func (f *fakeProcessor) ProcessInbound(ctx context.Context, ev pipeline.InboundEvent) error {
	f.events = append(f.events, ev)
	return f.err
}

type statusRecordingConvoStore struct {
	store.ConversationStore
	sids     []string
	statuses []string
}

func (f *statusRecordingConvoStore) UpdateMessageStatus(ctx context.Context, providerSID, status, errCode, errMsg string) error {
	f.sids = append(f.sids, providerSID)
	f.statuses = append(f.statuses, status)
	return nil
}

func testServer(proc InboundProcessor, stores *store.Stores, mutate func(*config.Config)) *Server {
	cfg := config.Default()
	cfg.Server.SkipSignatureCheck = true
	cfg.Twilio.AuthToken = "test-token"
	cfg.Server.PublicBaseURL = "https://bot.example.com"
	if mutate != nil {
		mutate(cfg)
	}
	if stores == nil {
		stores = &store.Stores{}
	}
	return NewServer(cfg, proc, stores, slog.Default())
}

func inboundForm() url.Values {
	return url.Values{
		"To":          {"whatsapp:+14155238886"},
		"From":        {"whatsapp:+27721234567"},
		"Body":        {"hello"},
		"ProfileName": {"Thandi"},
		"MessageSid":  {"SM-in"},
		"NumMedia":    {"0"},
	}
}

func postForm(t *testing.T, h http.Handler, path string, form url.Values, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestInboundWebhook(t *testing.T) {
	proc := &fakeProcessor{}
	srv := testServer(proc, nil, nil)

	rec := postForm(t, srv.Handler(), "/webhooks/whatsapp/inbound", inboundForm(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), `"received"`) {
		t.Errorf("body = %s", rec.Body)
	}
	if len(proc.events) != 1 {
		t.Fatalf("processed %d events", len(proc.events))
	}
	ev := proc.events[0]
	if ev.To != "whatsapp:+14155238886" || ev.Body != "hello" || ev.ProviderSID != "SM-in" {
		t.Errorf("event = %+v", ev)
	}
}

func TestInboundWebhook_MissingFields(t *testing.T) {
	srv := testServer(&fakeProcessor{}, nil, nil)

	form := inboundForm()
	form.Del("From")
	rec := postForm(t, srv.Handler(), "/webhooks/whatsapp/inbound", form, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestInboundWebhook_UnknownOrg(t *testing.T) {
	srv := testServer(&fakeProcessor{err: fmt.Errorf("resolve: %w", pipeline.ErrUnknownOrganization)}, nil, nil)

	rec := postForm(t, srv.Handler(), "/webhooks/whatsapp/inbound", inboundForm(), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestInboundWebhook_PipelineErrorStill200(t *testing.T) {
	srv := testServer(&fakeProcessor{err: errors.New("db down")}, nil, nil)

	rec := postForm(t, srv.Handler(), "/webhooks/whatsapp/inbound", inboundForm(), nil)
	if rec.Code != http.StatusOK {
		t.Errorf("degradation must answer 200, got %d", rec.Code)
	}
}

func TestInboundWebhook_SignatureEnforced(t *testing.T) {
	srv := testServer(&fakeProcessor{}, nil, func(cfg *config.Config) {
		cfg.Server.SkipSignatureCheck = false
	})

	form := inboundForm()
	rec := postForm(t, srv.Handler(), "/webhooks/whatsapp/inbound", form, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("unsigned request: status = %d, want 403", rec.Code)
	}

	sig := signForm("test-token", "https://bot.example.com/webhooks/whatsapp/inbound", form)
	rec = postForm(t, srv.Handler(), "/webhooks/whatsapp/inbound", form, map[string]string{
		twilio.SignatureHeader: sig,
	})
	if rec.Code != http.StatusOK {
		t.Errorf("signed request: status = %d, body %s", rec.Code, rec.Body)
	}
}

// signForm computes the provider-side signature for a form post.
func signForm(authToken, reqURL string, form url.Values) string {
	names := make([]string, 0, len(form))
	for name := range form {
		names = append(names, name)
	}
	sort.Strings(names)
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(reqURL))
	for _, name := range names {
		for _, value := range form[name] {
			mac.Write([]byte(name))
			mac.Write([]byte(value))
		}
	}
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestInboundWebhook_RateLimit(t *testing.T) {
	proc := &fakeProcessor{}
	srv := testServer(proc, nil, nil)

	var limited bool
	for i := 0; i < defaultSenderLimits().MaxHits+5; i++ {
		rec := postForm(t, srv.Handler(), "/webhooks/whatsapp/inbound", inboundForm(), nil)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Error("sender should be rate limited within the window")
	}

	// A different sender is unaffected.
	form := inboundForm()
	form.Set("From", "whatsapp:+15550001111")
	rec := postForm(t, srv.Handler(), "/webhooks/whatsapp/inbound", form, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("other sender: status = %d", rec.Code)
	}
}

func TestStatusWebhook(t *testing.T) {
	convos := &statusRecordingConvoStore{}
	srv := testServer(&fakeProcessor{}, &store.Stores{Conversations: convos}, nil)

	form := url.Values{
		"MessageSid":    {"SM-out"},
		"MessageStatus": {"delivered"},
	}
	rec := postForm(t, srv.Handler(), "/webhooks/whatsapp/status", form, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(convos.sids) != 1 || convos.sids[0] != "SM-out" || convos.statuses[0] != "delivered" {
		t.Errorf("recorded %v/%v", convos.sids, convos.statuses)
	}
}

func TestStatusWebhook_MissingFields(t *testing.T) {
	srv := testServer(&fakeProcessor{}, &store.Stores{Conversations: &statusRecordingConvoStore{}}, nil)

	rec := postForm(t, srv.Handler(), "/webhooks/whatsapp/status", url.Values{"MessageSid": {"SM-1"}}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	srv := testServer(&fakeProcessor{}, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}
