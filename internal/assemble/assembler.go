// Package assemble turns backend results and generated text into the
// final outbound message body.
package assemble

import (
	"fmt"
	"strings"

	"github.com/threadlinehq/threadline/internal/services"
)

// MaxMessageLen is the channel's hard cap on one message body.
// Anything longer is truncated at truncateAt with an ellipsis so the
// cut is visible to the reader.
const (
	MaxMessageLen = 1600
	truncateAt    = 1550
)

// maxLineItems bounds how many order lines appear in a summary;
// the remainder collapses into a "+N more" line.
const maxLineItems = 5

// Response composes the outbound body for a routed result. When the
// backend returned structured order data, a formatted summary follows
// the lead-in text; otherwise the backend's text stands alone. The
// returned string is always within MaxMessageLen.
func Response(res *services.Result) string {
	if res == nil {
		return ""
	}
	body := strings.TrimSpace(res.ResponseText)
	if summary := orderSummary(res.ToolOutput); summary != "" {
		if body != "" {
			body += "\n\n"
		}
		body += summary
	}
	return Clamp(body)
}

// Clamp enforces the channel message cap, truncating on a rune
// boundary and appending an ellipsis.
func Clamp(s string) string {
	if len(s) <= MaxMessageLen {
		return s
	}
	cut := truncateAt
	for cut > 0 && !utf8Start(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }

func orderSummary(out map[string]any) string {
	if out == nil || out["order_id"] == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Order #%s\n", stringify(out["order_id"]))
	writeField(&b, "Status", out["status"])
	writeField(&b, "Date", out["date_created"])
	writeField(&b, "Total", total(out))
	writeField(&b, "Payment", out["payment_method"])

	items := lineItems(out["line_items"])
	if len(items) > 0 {
		b.WriteString("\nItems:\n")
		shown := items
		if len(shown) > maxLineItems {
			shown = shown[:maxLineItems]
		}
		for _, item := range shown {
			qty := stringify(item["quantity"])
			name := stringify(item["name"])
			if qty != "" && qty != "0" {
				fmt.Fprintf(&b, "• %s x%s\n", name, qty)
			} else {
				fmt.Fprintf(&b, "• %s\n", name)
			}
		}
		if extra := len(items) - maxLineItems; extra > 0 {
			fmt.Fprintf(&b, "+%d more\n", extra)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeField(b *strings.Builder, label string, v any) {
	s := stringify(v)
	if s == "" {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", label, s)
}

func total(out map[string]any) string {
	t := stringify(out["total"])
	if t == "" {
		return ""
	}
	if cur := stringify(out["currency"]); cur != "" {
		return t + " " + cur
	}
	return t
}

// lineItems tolerates both the in-process shape ([]map[string]any) and
// the post-JSON shape ([]any of maps).
func lineItems(v any) []map[string]any {
	switch items := v.(type) {
	case []map[string]any:
		return items
	case []any:
		out := make([]map[string]any, 0, len(items))
		for _, it := range items {
			if m, ok := it.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int:
		return fmt.Sprintf("%d", t)
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
