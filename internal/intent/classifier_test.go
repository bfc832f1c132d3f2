package intent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/threadlinehq/threadline/internal/providers"
)

// scriptedProvider returns a fixed response or error.
type scriptedProvider struct {
	content string
	err     error
}

func (s *scriptedProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &providers.ChatResponse{Content: s.content, FinishReason: "stop"}, nil
}
func (s *scriptedProvider) DefaultModel() string { return "test-model" }
func (s *scriptedProvider) Name() string         { return "scripted" }

func TestClassify_MapDetails(t *testing.T) {
	c := NewClassifier(&scriptedProvider{
		content: `{"purpose": "Order Query", "details": {"order_id": 4521, "urgent": true}}`,
	}, nil)

	got := c.Classify(context.Background(), "order ID 4521 status?", "+27821234567")

	if got.Purpose != "order_query" {
		t.Errorf("purpose = %q, want order_query", got.Purpose)
	}
	if got.Details["order_id"] != "4521" {
		t.Errorf("order_id = %q, want 4521", got.Details["order_id"])
	}
	if got.Details["urgent"] != "true" {
		t.Errorf("urgent = %q, want true", got.Details["urgent"])
	}
	if got.Details[DetailUserPhone] != "+27821234567" {
		t.Errorf("phone = %q, want injected caller phone", got.Details[DetailUserPhone])
	}
}

func TestClassify_StringDetailsRegexExtracted(t *testing.T) {
	c := NewClassifier(&scriptedProvider{
		content: `{"purpose": "order_query", "details": "the customer asked about order ID 123"}`,
	}, nil)

	got := c.Classify(context.Background(), "where is order 123", "+111")
	if got.Details["order_id"] != "123" {
		t.Errorf("order_id = %q, want 123", got.Details["order_id"])
	}
}

func TestClassify_OracleCannotOverridePhone(t *testing.T) {
	c := NewClassifier(&scriptedProvider{
		content: `{"purpose": "order_query", "details": {"user_phone_number": "+999999999"}}`,
	}, nil)

	got := c.Classify(context.Background(), "order 5", "+27821234567")
	if got.Details[DetailUserPhone] != "+27821234567" {
		t.Errorf("phone = %q, oracle output must not win", got.Details[DetailUserPhone])
	}
}

func TestClassify_MalformedOutputFallsBack(t *testing.T) {
	tests := []struct {
		name     string
		provider *scriptedProvider
	}{
		{name: "garbage", provider: &scriptedProvider{content: "not json at all"}},
		{name: "oracle error", provider: &scriptedProvider{err: errors.New("upstream status 500")}},
		{name: "null details", provider: &scriptedProvider{content: `{"purpose": "greeting", "details": null}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(tt.provider, nil)
			got := c.Classify(context.Background(), "hello", "+1")
			if got.Purpose == "" {
				t.Error("purpose must never be empty")
			}
			if got.Details[DetailUserPhone] != "+1" {
				t.Errorf("phone = %q, want +1 even on failure", got.Details[DetailUserPhone])
			}
		})
	}
}

func TestClassify_FencedJSON(t *testing.T) {
	c := NewClassifier(&scriptedProvider{
		content: "```json\n{\"purpose\": \"greeting\", \"details\": {}}\n```",
	}, nil)

	got := c.Classify(context.Background(), "hi", "+1")
	if got.Purpose != "greeting" {
		t.Errorf("purpose = %q, want greeting", got.Purpose)
	}
}

func TestNormalizePurpose(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Order Query", "order_query"},
		{"order-query", "order_query"},
		{"  GET_PRODUCT_INFO ", "get_product_info"},
		{"what?!", "what"},
		{"", ""},
		{"a  b", "a_b"},
	}
	for _, tt := range tests {
		if got := NormalizePurpose(tt.in); got != tt.want {
			t.Errorf("NormalizePurpose(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExtractFields(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"order ID 4521 status?", "4521"},
		{"where is order #77", "77"},
		{"Order number: 900", "900"},
		{"no identifiers here", ""},
	}
	for _, tt := range tests {
		got := ExtractFields(tt.in)
		if got["order_id"] != tt.want {
			t.Errorf("ExtractFields(%q)[order_id] = %q, want %q", tt.in, got["order_id"], tt.want)
		}
	}
}

func TestNormalizeDetails_InvalidJSON(t *testing.T) {
	got := NormalizeDetails(json.RawMessage(`[1,2,3]`))
	if len(got) != 0 {
		t.Errorf("array details = %v, want empty map", got)
	}
}
