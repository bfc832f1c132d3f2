package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/threadlinehq/threadline/internal/compliance"
	"github.com/threadlinehq/threadline/internal/store"
)

// maxSteps caps the graph walk so malformed or cyclic edge sets always
// terminate.
const maxSteps = 20

// maxButtons is the channel limit for quick-reply options on one message.
const maxButtons = 3

// Context carries the named substitution values available to a flow's
// message templates as {{key}} placeholders.
type Context struct {
	UserInput   string
	UserPhone   string
	ProfileName string
}

func (c Context) vars() map[string]string {
	return map[string]string{
		"user_input":   c.UserInput,
		"message":      c.UserInput,
		"user_phone":   c.UserPhone,
		"profile_name": c.ProfileName,
	}
}

// Result is the outcome of executing a flow. An empty Message with
// Blocked=false means the walk found no send node — distinct from "no flow
// matched" upstream, but handled the same way (fall through to the agent).
type Result struct {
	Message string
	Blocked bool
	Reason  string
	Delayed time.Duration
}

// Executor walks a flow graph to its send node. Before handing back a
// sendable message it re-runs the compliance gate against the live user and
// thread: a flow's own send point gets the same defense as the agent path.
type Executor struct {
	gate *compliance.Gate
	log  *slog.Logger
}

// NewExecutor creates an executor using the given gate for send-time checks.
func NewExecutor(gate *compliance.Gate, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{gate: gate, log: log}
}

// Execute walks f from its trigger node, following the first outgoing edge
// of each node, until a send node is reached or the walk exhausts. Cycles
// are cut by a visited set and a hard step cap.
//
// The send node's optional delay is an explicit suspension point: it waits
// on the context without holding any resource, and the compliance check
// runs after the delay so the decision reflects send-time state.
func (e *Executor) Execute(ctx context.Context, f *store.Flow, fctx Context, user *store.EndUser, thread *store.Thread) (Result, error) {
	trigger := triggerNode(f)
	if trigger == nil {
		e.log.Warn("flow has no trigger node", "flow_id", f.ID, "flow", f.Name)
		return Result{}, nil
	}

	visited := make(map[string]bool, len(f.Nodes))
	current := trigger.ID

	for step := 0; current != "" && step < maxSteps; step++ {
		if visited[current] {
			e.log.Warn("flow graph cycle detected", "flow_id", f.ID, "node", current)
			break
		}
		visited[current] = true

		node := f.Node(current)
		if node == nil {
			break
		}

		if isSendNode(node) {
			return e.renderSendNode(ctx, node, fctx, user, thread)
		}
		current = nextNodeID(f, current)
	}

	return Result{}, nil
}

func (e *Executor) renderSendNode(ctx context.Context, node *store.FlowNode, fctx Context, user *store.EndUser, thread *store.Thread) (Result, error) {
	message := substitute(node.Data.Message, fctx.vars())
	message = appendButtons(message, node.Data.Buttons)

	var delayed time.Duration
	if node.Data.Delay > 0 {
		delayed = time.Duration(node.Data.Delay) * time.Second
		select {
		case <-time.After(delayed):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	if err := e.gate.CheckSendTime(user, thread); err != nil {
		reason := compliance.BlockReason(err)
		e.log.Info("flow send blocked by compliance", "reason", reason, "user_id", user.ID)
		return Result{Blocked: true, Reason: reason, Delayed: delayed}, nil
	}

	return Result{Message: message, Delayed: delayed}, nil
}

// substitute replaces every {{key}} placeholder with its stringified value.
func substitute(template string, vars map[string]string) string {
	out := template
	for key, value := range vars {
		out = strings.ReplaceAll(out, fmt.Sprintf("{{%s}}", key), value)
	}
	return out
}

// appendButtons renders up to maxButtons options as a numbered list.
func appendButtons(message string, buttons []store.FlowButton) string {
	var b strings.Builder
	b.WriteString(message)
	n := 0
	for _, btn := range buttons {
		if btn.Text == "" {
			continue
		}
		n++
		if n > maxButtons {
			break
		}
		if n == 1 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "\n%d. %s", n, btn.Text)
	}
	return b.String()
}
