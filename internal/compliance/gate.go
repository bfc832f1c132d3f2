// Package compliance enforces the messaging rules that carry legal risk:
// opt-out keyword handling (STOP/START) and the 24-hour freeform window.
// The gate runs first on every inbound message, and its send-time check is
// re-run immediately before every delivery attempt — both the flow path and
// the agent path — because processing has non-zero latency.
package compliance

import (
	"fmt"
	"strings"
	"time"

	"github.com/threadlinehq/threadline/internal/store"
)

// FreeformWindow is the period after a user's last inbound message during
// which unsolicited replies are permitted.
const FreeformWindow = 24 * time.Hour

// Action values returned by Evaluate.
const (
	ActionContinue = "continue"
	ActionOptOut   = "opt_out"
	ActionOptIn    = "opt_in"
)

// Block reasons.
const (
	ReasonOptedOut      = "opted_out"
	ReasonWindowExpired = "24h_window_expired"
)

// Error is the structured, expected outcome of a blocked send or a message
// from an opted-out user. It is not a crash: callers skip delivery and move on.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return fmt.Sprintf("compliance block: %s", e.Reason) }

// BlockReason extracts the reason from a compliance error, or "".
func BlockReason(err error) string {
	if ce, ok := err.(*Error); ok {
		return ce.Reason
	}
	return ""
}

// Decision is the outcome of evaluating an inbound message.
type Decision struct {
	Action string
	// Halt means no further pipeline stage may run and no reply is sent.
	Halt bool
	// Opt carries the state mutation to apply atomically with message
	// persistence; nil when the message is not an opt keyword.
	Opt *store.OptChange
}

// Gate evaluates inbound messages and send attempts. The zero value uses
// the wall clock; tests inject Now.
type Gate struct {
	Now func() time.Time
}

func (g *Gate) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// Evaluate applies opt-out rules to an inbound message. user may be nil
// (first contact). The returned decision's Opt must be applied in the same
// transaction as message persistence; Evaluate itself has no side effects.
//
// Exact trim-normalized, case-insensitive "stop" opts out and halts with no
// reply. Exact "start" opts back in and processing continues. Any other
// message from an opted-out user halts with ReasonOptedOut.
func (g *Gate) Evaluate(user *store.EndUser, body string) Decision {
	switch strings.ToLower(strings.TrimSpace(body)) {
	case "stop":
		return Decision{Action: ActionOptOut, Halt: true, Opt: &store.OptChange{OptedOut: true}}
	case "start":
		return Decision{Action: ActionOptIn, Halt: false, Opt: &store.OptChange{OptedOut: false}}
	}
	if user != nil && user.OptedOut {
		return Decision{Action: ActionContinue, Halt: true}
	}
	return Decision{Action: ActionContinue, Halt: false}
}

// CanSendFreeform reports whether the thread is inside the 24-hour window.
// No user message ever received means no window exists. Exactly 24h is
// outside the window (boundary exclusive).
func (g *Gate) CanSendFreeform(thread *store.Thread) bool {
	if thread == nil || thread.LastUserMessageAt == nil {
		return false
	}
	return g.now().Sub(*thread.LastUserMessageAt) < FreeformWindow
}

// WindowRemaining reports how much of the freeform window is left, zero when
// closed. Used for logging near-expiry sends.
func (g *Gate) WindowRemaining(thread *store.Thread) time.Duration {
	if thread == nil || thread.LastUserMessageAt == nil {
		return 0
	}
	remaining := FreeformWindow - g.now().Sub(*thread.LastUserMessageAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// CheckSendTime is the gate re-run at the point of send against live state.
// Returns a *Error when delivery must not happen.
func (g *Gate) CheckSendTime(user *store.EndUser, thread *store.Thread) error {
	if user != nil && user.OptedOut {
		return &Error{Reason: ReasonOptedOut}
	}
	if !g.CanSendFreeform(thread) {
		return &Error{Reason: ReasonWindowExpired}
	}
	return nil
}
