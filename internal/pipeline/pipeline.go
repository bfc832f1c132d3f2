// Package pipeline drives one inbound WhatsApp message through the
// full processing chain: tenant resolution, transactional ingest,
// compliance gating, flow automation, intent classification, capability
// routing and delivery.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/threadlinehq/threadline/internal/assemble"
	"github.com/threadlinehq/threadline/internal/compliance"
	"github.com/threadlinehq/threadline/internal/flow"
	"github.com/threadlinehq/threadline/internal/history"
	"github.com/threadlinehq/threadline/internal/intent"
	"github.com/threadlinehq/threadline/internal/providers"
	"github.com/threadlinehq/threadline/internal/services"
	"github.com/threadlinehq/threadline/internal/store"
	"github.com/threadlinehq/threadline/internal/twilio"
)

// ErrUnknownOrganization means the webhook's To number is not a
// registered sender identity. The webhook layer rejects these.
var ErrUnknownOrganization = errors.New("pipeline: no organization for destination number")

// apologyReply is sent when an upstream dependency failed and no
// better answer exists. Fixed text so a broken oracle cannot leak
// error detail to end users.
const apologyReply = "Sorry, I'm having trouble responding right now. Please try again in a few minutes."

const generateSystemPrompt = `You are a helpful WhatsApp assistant for a business.
Answer the customer's message concisely and politely. If you don't know
something, say so and suggest contacting the business directly.`

// Deliverer sends one outbound message. Satisfied by *twilio.Client.
type Deliverer interface {
	Send(ctx context.Context, req twilio.SendRequest) (*twilio.SendResult, error)
}

// InboundEvent is one provider webhook, already authenticated and
// validated by the HTTP layer.
type InboundEvent struct {
	To          string
	From        string
	Body        string
	ProfileName string
	ProviderSID string
	NumMedia    int
}

// RequestContext is the typed state threaded between pipeline stages.
type RequestContext struct {
	Org           *store.Organization
	User          *store.EndUser
	Thread        *store.Thread
	Inbound       *store.Message
	Intent        intent.Intent
	ServiceResult *services.Result
}

// Pipeline wires the stages together. All collaborators are interfaces
// or small structs so tests run the whole chain against fakes.
type Pipeline struct {
	orgs       store.OrganizationStore
	convos     store.ConversationStore
	gate       *compliance.Gate
	matcher    *flow.Matcher
	executor   *flow.Executor
	classifier *intent.Classifier
	loader     *history.Loader
	router     *services.Router
	oracle     providers.Provider
	sender     Deliverer
	log        *slog.Logger
	tracer     trace.Tracer

	// devRedirect reroutes every outbound send to one number when set.
	// Atomic because config hot-reload updates it while webhook
	// goroutines deliver.
	devRedirect atomic.Value // string
}

// SetDevRedirect reroutes all outbound sends to the given number, or
// restores normal delivery when empty. Non-production environments
// only. Safe to call concurrently with message processing.
func (p *Pipeline) SetDevRedirect(number string) {
	p.devRedirect.Store(number)
}

func (p *Pipeline) redirectTarget() string {
	v, _ := p.devRedirect.Load().(string)
	return v
}

type Config struct {
	Stores     *store.Stores
	Gate       *compliance.Gate
	Classifier *intent.Classifier
	Router     *services.Router
	Oracle     providers.Provider
	Sender     Deliverer
	Log        *slog.Logger
}

func New(cfg Config) *Pipeline {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		orgs:       cfg.Stores.Organizations,
		convos:     cfg.Stores.Conversations,
		gate:       cfg.Gate,
		matcher:    flow.NewMatcher(cfg.Stores.Flows),
		executor:   flow.NewExecutor(cfg.Gate, log),
		classifier: cfg.Classifier,
		loader:     history.NewLoader(cfg.Stores.Conversations),
		router:     cfg.Router,
		oracle:     cfg.Oracle,
		sender:     cfg.Sender,
		log:        log,
		tracer:     otel.Tracer("threadline/pipeline"),
	}
}

// ProcessInbound runs one inbound message through the pipeline. A nil
// return covers both "reply sent" and "deliberately no reply"
// (compliance halt); errors are reserved for boundary rejects and
// ingest failures the webhook layer must know about.
func (p *Pipeline) ProcessInbound(ctx context.Context, ev InboundEvent) error {
	ctx, span := p.tracer.Start(ctx, "pipeline.process_inbound")
	defer span.End()

	org, err := p.resolveOrg(ctx, ev.To)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String("org.id", org.ID.String()))

	// Pre-ingest compliance read: the decision determines the opt
	// change applied inside the ingest transaction.
	user, err := p.convos.GetEndUser(ctx, org.ID, normalizePhone(ev.From))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("load end user: %w", err)
	}
	decision := p.gate.Evaluate(user, ev.Body)

	conv, err := p.ingest(ctx, org, ev, decision)
	if err != nil {
		return fmt.Errorf("ingest inbound: %w", err)
	}

	if decision.Halt {
		p.log.Info("compliance halt, no reply",
			"org_id", org.ID, "action", decision.Action, "end_user_id", conv.User.ID)
		return nil
	}

	rc := &RequestContext{Org: org, User: conv.User, Thread: conv.Thread, Inbound: conv.Message}

	handled, err := p.runFlow(ctx, rc, ev)
	if err != nil {
		p.log.Error("flow stage failed, falling through", "error", err, "org_id", org.ID)
	}
	if handled {
		return nil
	}

	return p.runAgent(ctx, rc, ev)
}

func (p *Pipeline) resolveOrg(ctx context.Context, to string) (*store.Organization, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.resolve_org")
	defer span.End()

	org, err := p.orgs.GetByPhone(ctx, normalizePhone(to))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOrganization, to)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve organization: %w", err)
	}
	return org, nil
}

func (p *Pipeline) ingest(ctx context.Context, org *store.Organization, ev InboundEvent, decision compliance.Decision) (*store.Conversation, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.ingest")
	defer span.End()

	return p.convos.RecordInbound(ctx, store.InboundRecord{
		OrganizationID: org.ID,
		FromPhone:      normalizePhone(ev.From),
		ProfileName:    ev.ProfileName,
		Body:           ev.Body,
		ProviderSID:    ev.ProviderSID,
		NumMedia:       ev.NumMedia,
		Opt:            decision.Opt,
	})
}

// runFlow tries the automation tier. handled=true means the pipeline
// is done: a flow replied, or a flow matched but compliance blocked
// its send.
func (p *Pipeline) runFlow(ctx context.Context, rc *RequestContext, ev InboundEvent) (handled bool, err error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.flow")
	defer span.End()

	matched, err := p.matcher.Match(ctx, rc.Org.ID, ev.Body)
	if err != nil {
		return false, fmt.Errorf("match flow: %w", err)
	}
	if matched == nil {
		return false, nil
	}
	span.SetAttributes(attribute.String("flow.id", matched.ID.String()))

	res, err := p.executor.Execute(ctx, matched, flow.Context{
		UserInput:   ev.Body,
		UserPhone:   rc.User.PhoneNumber,
		ProfileName: rc.User.ProfileName,
	}, rc.User, rc.Thread)
	if err != nil {
		return false, fmt.Errorf("execute flow %s: %w", matched.ID, err)
	}
	if res.Blocked {
		p.log.Info("flow send blocked", "flow_id", matched.ID, "reason", res.Reason)
		return true, nil
	}
	if res.Message == "" {
		// Graph had no reachable send node. Fall through to the agent.
		return false, nil
	}

	p.deliver(ctx, rc, assemble.Clamp(res.Message))
	return true, nil
}

// runAgent is the freeform tier: classify, route to a backend, fall
// back to the oracle, then deliver under the compliance gate.
func (p *Pipeline) runAgent(ctx context.Context, rc *RequestContext, ev InboundEvent) error {
	ctx, span := p.tracer.Start(ctx, "pipeline.agent")
	defer span.End()

	rc.Intent = p.classifier.Classify(ctx, ev.Body, rc.User.PhoneNumber)
	span.SetAttributes(attribute.String("intent.purpose", rc.Intent.Purpose))

	turns, err := p.loader.Load(ctx, rc.User.ID)
	if err != nil {
		p.log.Warn("history load failed, continuing without context", "error", err)
		turns = nil
	}

	body := p.respond(ctx, rc, ev, turns)

	if err := p.gate.CheckSendTime(rc.User, rc.Thread); err != nil {
		p.log.Info("agent reply suppressed",
			"reason", compliance.BlockReason(err), "end_user_id", rc.User.ID,
			"window_remaining", p.gate.WindowRemaining(rc.Thread))
		return nil
	}

	p.deliver(ctx, rc, body)
	return nil
}

// respond produces the reply body: a routed backend result when one
// applies, otherwise oracle generation over the conversation history.
// Upstream failures degrade to the fixed apology.
func (p *Pipeline) respond(ctx context.Context, rc *RequestContext, ev InboundEvent, turns []history.Turn) string {
	res, err := p.router.Route(ctx, rc.Org.ID, rc.Intent.Purpose, rc.Intent.Details)
	if err != nil {
		p.log.Error("service routing failed", "purpose", rc.Intent.Purpose, "error", err)
		return apologyReply
	}
	if res != nil {
		rc.ServiceResult = res
		return assemble.Response(res)
	}
	return p.generate(ctx, ev.Body, turns)
}

func (p *Pipeline) generate(ctx context.Context, userMessage string, turns []history.Turn) string {
	ctx, span := p.tracer.Start(ctx, "pipeline.generate")
	defer span.End()

	msgs := make([]providers.Message, 0, len(turns)+2)
	msgs = append(msgs, providers.Message{Role: "system", Content: generateSystemPrompt})
	for _, t := range turns {
		msgs = append(msgs, providers.Message{Role: t.Role, Content: t.Content})
	}
	msgs = append(msgs, providers.Message{Role: "user", Content: userMessage})

	resp, err := p.oracle.Chat(ctx, providers.ChatRequest{Messages: msgs})
	if err != nil {
		p.log.Error("oracle generation failed", "error", err)
		return apologyReply
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return apologyReply
	}
	return assemble.Clamp(text)
}

// deliver sends the reply from the organization's registered number and
// persists the outbound message with the provider's SID and status.
// Delivery failures are terminal for this request: logged, recorded as
// failed, never surfaced to the webhook caller.
func (p *Pipeline) deliver(ctx context.Context, rc *RequestContext, body string) {
	ctx, span := p.tracer.Start(ctx, "pipeline.deliver")
	defer span.End()

	to := rc.User.PhoneNumber
	if redirect := p.redirectTarget(); redirect != "" {
		p.log.Info("dev redirect active", "original_to", to, "redirect_to", redirect)
		to = redirect
	}

	res, err := p.sender.Send(ctx, twilio.SendRequest{
		To:   to,
		From: rc.Org.PhoneNumber,
		Body: body,
	})

	sid, status := "", store.StatusFailed
	if err != nil {
		p.log.Error("delivery failed", "end_user_id", rc.User.ID, "error", err)
	} else {
		sid, status = res.SID, res.Status
	}

	if _, perr := p.convos.RecordOutbound(ctx, rc.Thread.ID, rc.User.ID, body, sid, status); perr != nil {
		p.log.Error("record outbound failed", "end_user_id", rc.User.ID, "error", perr)
	}
}

// normalizePhone strips the channel prefix Twilio puts on WhatsApp
// numbers, leaving bare E.164.
func normalizePhone(n string) string {
	return strings.TrimPrefix(n, "whatsapp:")
}
