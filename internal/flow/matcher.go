// Package flow implements operator-authored automations: trigger matching
// against inbound text, publish-time graph validation, and a bounded
// executor that walks a flow to its send-message node.
package flow

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/threadlinehq/threadline/internal/store"
)

// Matcher selects at most one eligible flow for an inbound message.
type Matcher struct {
	flows store.FlowStore
}

// NewMatcher creates a matcher over the given flow store.
func NewMatcher(flows store.FlowStore) *Matcher {
	return &Matcher{flows: flows}
}

// Match returns the flow triggered by text, or nil.
//
// Eligible flows (published + active) are scanned in (priority, created_at)
// order in a single pass. Keyword flows form the higher tier: the first
// whose lower-cased keyword is a substring of the lower-cased trimmed text
// wins immediately. An any_message flow is only selected when no keyword
// flow matched; the first one seen is remembered during the same pass.
func (m *Matcher) Match(ctx context.Context, orgID uuid.UUID, text string) (*store.Flow, error) {
	flows, err := m.flows.ListEligible(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("list eligible flows: %w", err)
	}

	needle := strings.ToLower(strings.TrimSpace(text))
	var catchAll *store.Flow

	for i := range flows {
		f := &flows[i]
		switch f.TriggerType {
		case store.TriggerKeyword:
			for _, kw := range f.TriggerKeywords {
				kw = strings.ToLower(strings.TrimSpace(kw))
				if kw != "" && strings.Contains(needle, kw) {
					return f, nil
				}
			}
		case store.TriggerAnyMessage:
			if catchAll == nil {
				catchAll = f
			}
		}
	}

	return catchAll, nil
}
