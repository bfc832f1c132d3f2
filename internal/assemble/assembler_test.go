package assemble

import (
	"fmt"
	"strings"
	"testing"

	"github.com/threadlinehq/threadline/internal/services"
)

func orderOutput(itemCount int) map[string]any {
	items := make([]map[string]any, 0, itemCount)
	for i := 0; i < itemCount; i++ {
		items = append(items, map[string]any{
			"name":     fmt.Sprintf("Item %d", i+1),
			"quantity": 1,
			"total":    "10.00",
		})
	}
	return map[string]any{
		"order_id":       4521,
		"status":         "processing",
		"date_created":   "2026-08-12T10:04:00",
		"total":          "89.90",
		"currency":       "ZAR",
		"payment_method": "Card",
		"line_items":     items,
	}
}

func TestResponse_OrderSummary(t *testing.T) {
	body := Response(&services.Result{
		ResponseText: "I found information for order #4521.",
		ToolOutput:   orderOutput(2),
	})

	for _, want := range []string{
		"Order #4521",
		"Status: processing",
		"Total: 89.90 ZAR",
		"Payment: Card",
		"• Item 1 x1",
		"• Item 2 x1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("summary missing %q:\n%s", want, body)
		}
	}
	if strings.Contains(body, "+0 more") {
		t.Error("no overflow line expected for two items")
	}
}

func TestResponse_LineItemOverflow(t *testing.T) {
	body := Response(&services.Result{ToolOutput: orderOutput(8)})

	if !strings.Contains(body, "• Item 5") {
		t.Error("fifth item should be listed")
	}
	if strings.Contains(body, "• Item 6") {
		t.Error("sixth item should be folded into the overflow line")
	}
	if !strings.Contains(body, "+3 more") {
		t.Errorf("want +3 more overflow line:\n%s", body)
	}
}

func TestResponse_JSONShapedLineItems(t *testing.T) {
	// After a JSON round trip, line items arrive as []any with float
	// quantities.
	out := map[string]any{
		"order_id": float64(77),
		"line_items": []any{
			map[string]any{"name": "Hoodie", "quantity": float64(2)},
		},
	}
	body := Response(&services.Result{ToolOutput: out})

	if !strings.Contains(body, "Order #77") {
		t.Errorf("float order id should print without decimals:\n%s", body)
	}
	if !strings.Contains(body, "• Hoodie x2") {
		t.Errorf("want Hoodie x2:\n%s", body)
	}
}

func TestResponse_TextOnly(t *testing.T) {
	body := Response(&services.Result{ResponseText: "  hello there  "})
	if body != "hello there" {
		t.Errorf("Response = %q", body)
	}
	if Response(nil) != "" {
		t.Error("nil result should produce empty body")
	}
}

func TestClamp(t *testing.T) {
	if got := Clamp("short"); got != "short" {
		t.Errorf("Clamp(short) = %q", got)
	}

	long := strings.Repeat("a", MaxMessageLen+100)
	got := Clamp(long)
	if len(got) > MaxMessageLen {
		t.Errorf("clamped length = %d, exceeds cap", len(got))
	}
	if !strings.HasSuffix(got, "…") {
		t.Error("truncated body should end with an ellipsis")
	}
}

func TestClamp_RuneBoundary(t *testing.T) {
	long := strings.Repeat("é", MaxMessageLen)
	got := Clamp(long)
	if !strings.HasSuffix(got, "…") {
		t.Error("want ellipsis suffix")
	}
	if strings.Contains(got, "\uFFFD") || !strings.HasSuffix(strings.TrimSuffix(got, "…"), "é") {
		t.Errorf("truncation split a rune")
	}
}
