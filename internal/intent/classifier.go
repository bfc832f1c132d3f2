// Package intent normalizes the oracle's message-classification output into
// a stable purpose tag and typed details. The oracle is untrusted: its
// output may be a map, a bare string, or malformed JSON, and nothing it
// returns is allowed to break the pipeline or influence authorization.
package intent

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/threadlinehq/threadline/internal/providers"
)

// PurposeGeneral is the fallback purpose when classification fails or the
// oracle returns something unusable.
const PurposeGeneral = "general_inquiry"

// DetailUserPhone is the details key that always carries the caller's
// verified phone number. It is injected by the adapter, never taken from
// oracle output, so downstream authorization does not depend on
// oracle-controlled input.
const DetailUserPhone = "user_phone_number"

// Intent is the normalized classification of one inbound message.
type Intent struct {
	Purpose string
	Details map[string]string
}

const classifySystemPrompt = `You classify WhatsApp messages sent by customers to a business.
Respond with a JSON object: {"purpose": "<tag>", "details": {...}}.
Purpose must be one of: order_query, get_product_info, general_inquiry, complaint, greeting.
For order_query include details.order_id when the customer mentions an order number.
For get_product_info include details.product_name.
Details values must be strings.`

// Classifier wraps the oracle's classify call.
type Classifier struct {
	provider providers.Provider
	log      *slog.Logger
}

// NewClassifier creates a classifier over the given provider.
func NewClassifier(p providers.Provider, log *slog.Logger) *Classifier {
	if log == nil {
		log = slog.Default()
	}
	return &Classifier{provider: p, log: log}
}

// Classify asks the oracle for the message's purpose and details and
// normalizes whatever comes back. It never fails: any oracle or parse error
// degrades to PurposeGeneral with empty details. userPhone is the caller's
// verified number and is always injected into the result.
func (c *Classifier) Classify(ctx context.Context, text, userPhone string) Intent {
	out := Intent{Purpose: PurposeGeneral, Details: map[string]string{}}

	resp, err := c.provider.Chat(ctx, providers.ChatRequest{
		Messages: []providers.Message{
			{Role: "system", Content: classifySystemPrompt},
			{Role: "user", Content: text},
		},
		Temperature: 0,
		MaxTokens:   256,
		JSONMode:    true,
	})
	if err != nil {
		c.log.Warn("intent classification failed, using fallback", "error", err)
		out.Details[DetailUserPhone] = userPhone
		return out
	}

	var raw struct {
		Purpose string          `json:"purpose"`
		Details json.RawMessage `json:"details"`
	}
	if err := json.Unmarshal([]byte(stripFences(resp.Content)), &raw); err != nil {
		c.log.Warn("unparseable classification output", "error", err)
		out.Details[DetailUserPhone] = userPhone
		return out
	}

	if p := NormalizePurpose(raw.Purpose); p != "" {
		out.Purpose = p
	}
	out.Details = NormalizeDetails(raw.Details)
	out.Details[DetailUserPhone] = userPhone
	return out
}

// NormalizePurpose canonicalizes a purpose tag to lower_snake_case,
// dropping anything that is not alphanumeric or underscore.
func NormalizePurpose(purpose string) string {
	purpose = strings.ToLower(strings.TrimSpace(purpose))
	var b strings.Builder
	lastUnderscore := false
	for _, r := range purpose {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_', r == ' ', r == '-':
			if !lastUnderscore && b.Len() > 0 {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

var orderIDPattern = regexp.MustCompile(`(?i)(?:order\s*(?:id|number|no\.?)?\s*[:#]?|#)\s*(\d+)`)

// NormalizeDetails turns whatever the oracle produced for details into a
// flat string map. A JSON object has its values stringified; a bare string
// gets recognizable fields regex-extracted; anything else yields an empty
// map. It never fails.
func NormalizeDetails(raw json.RawMessage) map[string]string {
	details := map[string]string{}
	if len(raw) == 0 {
		return details
	}

	var asMap map[string]any
	if err := json.Unmarshal(raw, &asMap); err == nil {
		for k, v := range asMap {
			key := NormalizePurpose(k)
			if key == "" {
				continue
			}
			switch val := v.(type) {
			case string:
				details[key] = val
			case float64:
				details[key] = strconv.FormatFloat(val, 'f', -1, 64)
			case bool:
				details[key] = strconv.FormatBool(val)
			}
		}
		return details
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return ExtractFields(asString)
	}

	return details
}

// ExtractFields regex-extracts recognizable fields from free text, e.g.
// "order ID 4521" or "#4521" yields {"order_id": "4521"}.
func ExtractFields(text string) map[string]string {
	details := map[string]string{}
	if m := orderIDPattern.FindStringSubmatch(text); m != nil {
		details["order_id"] = m[1]
	}
	return details
}

// stripFences removes markdown code fences some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
