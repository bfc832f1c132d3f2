// Package history loads recent conversation turns for grounding generated
// replies. Tenant isolation is structural: an end user belongs to exactly
// one organization, so loading by end-user ID alone cannot cross tenants.
package history

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/threadlinehq/threadline/internal/store"
)

// DefaultLimit is the number of recent messages loaded for context.
const DefaultLimit = 20

// Turn is one conversation turn in provider-friendly shape.
type Turn struct {
	Role    string
	Content string
}

// Loader fetches recent conversation history.
type Loader struct {
	conversations store.ConversationStore
	limit         int
}

// NewLoader creates a loader with the default message limit.
func NewLoader(conversations store.ConversationStore) *Loader {
	return &Loader{conversations: conversations, limit: DefaultLimit}
}

// Load returns the end user's most recent turns in chronological order.
// Inbound messages map to the "user" role, outbound to "assistant".
func (l *Loader) Load(ctx context.Context, endUserID uuid.UUID) ([]Turn, error) {
	messages, err := l.conversations.RecentMessages(ctx, endUserID, l.limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	turns := make([]Turn, 0, len(messages))
	for _, m := range messages {
		role := "assistant"
		if m.Direction == store.DirectionInbound {
			role = "user"
		}
		turns = append(turns, Turn{Role: role, Content: m.Content})
	}
	return turns, nil
}
