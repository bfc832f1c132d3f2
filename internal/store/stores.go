// Package store defines the persistence entities and store interfaces for
// Threadline. Concrete implementations live in store/pg (managed mode,
// Postgres) and store/sqlite (standalone mode, single-file database).
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Get-style lookups when no row matches.
var ErrNotFound = errors.New("not found")

// Message direction and role values.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"

	RoleUser  = "user"
	RoleAgent = "agent"
)

// Message delivery status values. Provider callbacks advance the
// status; "failed" also covers sends that never reached the provider.
const (
	StatusReceived  = "received"
	StatusQueued    = "queued"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusFailed    = "failed"
)

// Flow lifecycle status values.
const (
	FlowDraft     = "draft"
	FlowPublished = "published"
	FlowArchived  = "archived"
)

// Flow trigger types.
const (
	TriggerKeyword    = "keyword"
	TriggerAnyMessage = "any_message"
)

// Organization is a tenant. PhoneNumber is the organization's registered
// WhatsApp sender identity and is the only number outbound messages may
// be sent from.
type Organization struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	PhoneNumber string    `json:"phone_number"`
	CreatedAt   time.Time `json:"created_at"`
}

// EndUser is a phone-number identity scoped to exactly one organization.
// OptedOut is mutated only via RecordInbound's opt change (compliance gate).
type EndUser struct {
	ID             uuid.UUID  `json:"id"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	PhoneNumber    string     `json:"phone_number"`
	ProfileName    string     `json:"profile_name,omitempty"`
	OptedOut       bool       `json:"opted_out"`
	OptedOutAt     *time.Time `json:"opted_out_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Thread is the conversation session between one end user and their
// organization. LastUserMessageAt is the sole input to the 24-hour
// compliance window and is bumped exactly once per inbound message,
// in the same transaction as message persistence.
type Thread struct {
	ID                uuid.UUID  `json:"id"`
	OrganizationID    uuid.UUID  `json:"organization_id"`
	EndUserID         uuid.UUID  `json:"end_user_id"`
	Topic             string     `json:"topic,omitempty"`
	IsActive          bool       `json:"is_active"`
	LastUserMessageAt *time.Time `json:"last_user_message_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Message is an immutable, append-only conversation record. Delivery status
// lives in Status and is updated from provider callbacks; content, direction
// and timestamps never change after creation.
type Message struct {
	ID          uuid.UUID `json:"id"`
	ThreadID    uuid.UUID `json:"thread_id"`
	EndUserID   uuid.UUID `json:"end_user_id"`
	Direction   string    `json:"direction"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	ProviderSID string    `json:"provider_sid,omitempty"`
	Status      string    `json:"status,omitempty"`
	NumMedia    int       `json:"num_media,omitempty"`
	ProfileName string    `json:"profile_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// FlowButton is one quick-reply option on a send node. The channel has no
// native button primitive, so buttons render as a numbered list.
type FlowButton struct {
	Text string `json:"text"`
}

// FlowNodeData carries the node payload. NodeType takes precedence over the
// node's top-level Type when set (builder UIs emit either).
type FlowNodeData struct {
	NodeType string       `json:"nodeType,omitempty"`
	Message  string       `json:"message,omitempty"`
	Buttons  []FlowButton `json:"buttons,omitempty"`
	Delay    int          `json:"delay,omitempty"` // seconds
}

// FlowNode is one node of an automation graph.
type FlowNode struct {
	ID   string       `json:"id"`
	Type string       `json:"type,omitempty"`
	Data FlowNodeData `json:"data"`
}

// FlowEdge is a directed edge between two nodes.
type FlowEdge struct {
	ID     string `json:"id,omitempty"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// Flow is an operator-authored automation. Only published+active flows are
// eligible for trigger matching. Priority orders flows within an
// organization: lower value wins, ties break on CreatedAt.
type Flow struct {
	ID              uuid.UUID  `json:"id"`
	OrganizationID  uuid.UUID  `json:"organization_id"`
	Name            string     `json:"name"`
	Description     string     `json:"description,omitempty"`
	Status          string     `json:"status"`
	IsActive        bool       `json:"is_active"`
	TriggerType     string     `json:"trigger_type"`
	TriggerKeywords []string   `json:"trigger_keywords,omitempty"`
	Priority        int        `json:"priority"`
	Nodes           []FlowNode `json:"nodes"`
	Edges           []FlowEdge `json:"edges"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Node returns the node with the given id, or nil.
func (f *Flow) Node(id string) *FlowNode {
	for i := range f.Nodes {
		if f.Nodes[i].ID == id {
			return &f.Nodes[i]
		}
	}
	return nil
}

// NodeType resolves a node's effective type (data.nodeType wins over type).
func (n *FlowNode) NodeType() string {
	if n.Data.NodeType != "" {
		return n.Data.NodeType
	}
	return n.Type
}

// Credential is a per-organization, per-service-type configuration blob.
// Payload is encrypted at rest by the store; it is decrypted only
// transiently, in memory, for the duration of one request.
type Credential struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	ServiceType    string    `json:"service_type"`
	Payload        string    `json:"-"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// OptChange requests an opt-out state mutation applied atomically with
// inbound message persistence. Nil means no change.
type OptChange struct {
	OptedOut bool
}

// InboundRecord is everything needed to ingest one inbound message.
type InboundRecord struct {
	OrganizationID uuid.UUID
	FromPhone      string
	ProfileName    string
	Body           string
	ProviderSID    string
	NumMedia       int
	// Opt applies a compliance opt-in/opt-out in the same transaction.
	Opt *OptChange
}

// Conversation is the result of ingesting an inbound message: the (possibly
// created) end user and active thread, plus the persisted message. User and
// Thread reflect state after the transaction, including any opt change and
// the LastUserMessageAt bump.
type Conversation struct {
	User    *EndUser
	Thread  *Thread
	Message *Message
}

// OrganizationStore resolves tenants.
type OrganizationStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Organization, error)
	// GetByPhone resolves the organization owning a registered sender number.
	GetByPhone(ctx context.Context, phone string) (*Organization, error)
	Create(ctx context.Context, org *Organization) error
}

// ConversationStore persists end users, threads and messages.
type ConversationStore interface {
	// GetEndUser returns the end user for (org, phone), or ErrNotFound.
	GetEndUser(ctx context.Context, orgID uuid.UUID, phone string) (*EndUser, error)

	// RecordInbound ingests one inbound message in a single transaction:
	// find-or-create end user and active thread, append the message, bump
	// the thread's LastUserMessageAt/UpdatedAt, and apply rec.Opt if set.
	RecordInbound(ctx context.Context, rec InboundRecord) (*Conversation, error)

	// RecordOutbound appends an outbound message to a thread.
	RecordOutbound(ctx context.Context, threadID, endUserID uuid.UUID, content, providerSID, status string) (*Message, error)

	// RecentMessages returns the most recent limit messages for an end
	// user in chronological order.
	RecentMessages(ctx context.Context, endUserID uuid.UUID, limit int) ([]Message, error)

	// UpdateMessageStatus records a provider delivery-status callback.
	UpdateMessageStatus(ctx context.Context, providerSID, status, errCode, errMsg string) error
}

// FlowStore persists automation flows.
type FlowStore interface {
	Create(ctx context.Context, flow *Flow) error
	Get(ctx context.Context, id uuid.UUID) (*Flow, error)
	Update(ctx context.Context, flow *Flow) error
	// ListEligible returns published+active flows for an organization,
	// ordered by (priority, created_at).
	ListEligible(ctx context.Context, orgID uuid.UUID) ([]Flow, error)
	ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]Flow, error)
	// SetStatus transitions a flow's lifecycle status and active bit.
	SetStatus(ctx context.Context, id uuid.UUID, status string, isActive bool) (*Flow, error)
}

// CredentialStore persists encrypted service credentials. Implementations
// encrypt Payload on write and decrypt on read; plaintext never touches disk.
type CredentialStore interface {
	// ListActive returns active credentials for an organization in fixed
	// created_at order, payloads decrypted.
	ListActive(ctx context.Context, orgID uuid.UUID) ([]Credential, error)
	Upsert(ctx context.Context, cred *Credential) error
	Deactivate(ctx context.Context, orgID uuid.UUID, serviceType string) error
}

// Stores aggregates all store interfaces behind one handle.
type Stores struct {
	Organizations OrganizationStore
	Conversations ConversationStore
	Flows         FlowStore
	Credentials   CredentialStore

	closer func() error
}

// NewStores builds an aggregate with an optional close hook.
func NewStores(orgs OrganizationStore, convs ConversationStore, flows FlowStore, creds CredentialStore, closer func() error) *Stores {
	return &Stores{
		Organizations: orgs,
		Conversations: convs,
		Flows:         flows,
		Credentials:   creds,
		closer:        closer,
	}
}

// Close releases the underlying database handle.
func (s *Stores) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// StoreConfig selects and parameterizes a backend.
type StoreConfig struct {
	// Driver is "postgres" (managed) or "sqlite" (standalone).
	Driver string
	// DSN is the Postgres DSN or the sqlite file path.
	DSN string
	// EncryptionKey protects credential payloads at rest.
	EncryptionKey string
}

// Validate checks the config is usable before opening anything.
func (c StoreConfig) Validate() error {
	switch c.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unknown store driver %q", c.Driver)
	}
	if c.DSN == "" {
		return errors.New("store DSN is required")
	}
	if c.EncryptionKey == "" {
		return errors.New("encryption key is required (set THREADLINE_ENCRYPTION_KEY)")
	}
	return nil
}
