package flow

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/threadlinehq/threadline/internal/compliance"
	"github.com/threadlinehq/threadline/internal/store"
)

func testExecutor(now time.Time) *Executor {
	return NewExecutor(&compliance.Gate{Now: func() time.Time { return now }}, nil)
}

func openConversation(now time.Time) (*store.EndUser, *store.Thread) {
	last := now.Add(-5 * time.Minute)
	return &store.EndUser{ID: uuid.New()}, &store.Thread{LastUserMessageAt: &last}
}

func node(id, nodeType, message string) store.FlowNode {
	return store.FlowNode{ID: id, Data: store.FlowNodeData{NodeType: nodeType, Message: message}}
}

func edge(source, target string) store.FlowEdge {
	return store.FlowEdge{Source: source, Target: target}
}

func TestExecute_ReachesSendNode(t *testing.T) {
	now := time.Now()
	e := testExecutor(now)
	user, thread := openConversation(now)

	f := &store.Flow{
		Nodes: []store.FlowNode{
			node("t", "trigger-keyword", ""),
			node("mid", "condition", ""),
			node("send", "send-message", "Hi {{profile_name}}, you said: {{user_input}}"),
		},
		Edges: []store.FlowEdge{edge("t", "mid"), edge("mid", "send")},
	}

	res, err := e.Execute(context.Background(), f, Context{UserInput: "refund please", ProfileName: "Ana"}, user, thread)
	if err != nil {
		t.Fatal(err)
	}
	if res.Blocked {
		t.Fatalf("blocked: %s", res.Reason)
	}
	want := "Hi Ana, you said: refund please"
	if res.Message != want {
		t.Errorf("message = %q, want %q", res.Message, want)
	}
}

func TestExecute_ButtonsRenderAsNumberedList(t *testing.T) {
	now := time.Now()
	e := testExecutor(now)
	user, thread := openConversation(now)

	send := node("send", "response", "Pick one:")
	send.Data.Buttons = []store.FlowButton{
		{Text: "Track order"}, {Text: "Talk to a human"}, {Text: "Cancel"}, {Text: "Fourth is dropped"},
	}
	f := &store.Flow{
		Nodes: []store.FlowNode{node("t", "trigger", ""), send},
		Edges: []store.FlowEdge{edge("t", "send")},
	}

	res, err := e.Execute(context.Background(), f, Context{}, user, thread)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"1. Track order", "2. Talk to a human", "3. Cancel"} {
		if !strings.Contains(res.Message, want) {
			t.Errorf("message %q missing %q", res.Message, want)
		}
	}
	if strings.Contains(res.Message, "Fourth") {
		t.Errorf("message %q should cap at three buttons", res.Message)
	}
}

func TestExecute_EmptyButtonsLeaveMessageUntouched(t *testing.T) {
	now := time.Now()
	e := testExecutor(now)
	user, thread := openConversation(now)

	send := node("send", "response", "Pick one:")
	send.Data.Buttons = []store.FlowButton{{Text: ""}, {Text: ""}}
	f := &store.Flow{
		Nodes: []store.FlowNode{node("t", "trigger", ""), send},
		Edges: []store.FlowEdge{edge("t", "send")},
	}

	res, err := e.Execute(context.Background(), f, Context{}, user, thread)
	if err != nil {
		t.Fatal(err)
	}
	if res.Message != "Pick one:" {
		t.Errorf("message = %q, want %q", res.Message, "Pick one:")
	}
}

func TestExecute_CyclicGraphTerminates(t *testing.T) {
	now := time.Now()
	e := testExecutor(now)
	user, thread := openConversation(now)

	f := &store.Flow{
		Nodes: []store.FlowNode{
			node("t", "trigger", ""),
			node("a", "condition", ""),
			node("b", "condition", ""),
		},
		Edges: []store.FlowEdge{edge("t", "a"), edge("a", "b"), edge("b", "a")},
	}

	done := make(chan Result, 1)
	go func() {
		res, _ := e.Execute(context.Background(), f, Context{}, user, thread)
		done <- res
	}()

	select {
	case res := <-done:
		if res.Message != "" || res.Blocked {
			t.Errorf("cyclic graph result = %+v, want empty", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("executor did not terminate on cyclic graph")
	}
}

func TestExecute_NoTriggerNodeIsNonFatal(t *testing.T) {
	now := time.Now()
	e := testExecutor(now)
	user, thread := openConversation(now)

	f := &store.Flow{
		Nodes: []store.FlowNode{node("send", "send-message", "orphan")},
	}

	res, err := e.Execute(context.Background(), f, Context{}, user, thread)
	if err != nil {
		t.Fatal(err)
	}
	if res.Message != "" {
		t.Errorf("message = %q, want empty for missing trigger", res.Message)
	}
}

func TestExecute_DanglingEdgesReturnNoMessage(t *testing.T) {
	now := time.Now()
	e := testExecutor(now)
	user, thread := openConversation(now)

	f := &store.Flow{
		Nodes: []store.FlowNode{node("t", "trigger", ""), node("a", "condition", "")},
		Edges: []store.FlowEdge{edge("t", "a"), edge("a", "ghost")},
	}

	res, err := e.Execute(context.Background(), f, Context{}, user, thread)
	if err != nil {
		t.Fatal(err)
	}
	if res.Message != "" || res.Blocked {
		t.Errorf("result = %+v, want empty", res)
	}
}

func TestExecute_SendBlockedWhenOptedOut(t *testing.T) {
	now := time.Now()
	e := testExecutor(now)
	user, thread := openConversation(now)
	user.OptedOut = true

	f := &store.Flow{
		Nodes: []store.FlowNode{node("t", "trigger", ""), node("send", "send-message", "hello")},
		Edges: []store.FlowEdge{edge("t", "send")},
	}

	res, err := e.Execute(context.Background(), f, Context{}, user, thread)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Blocked || res.Reason != compliance.ReasonOptedOut {
		t.Fatalf("result = %+v, want opted_out block", res)
	}
	if res.Message != "" {
		t.Errorf("blocked result carries sendable message %q", res.Message)
	}
}

func TestExecute_SendBlockedOutsideWindow(t *testing.T) {
	now := time.Now()
	e := testExecutor(now)
	user := &store.EndUser{ID: uuid.New()}
	stale := now.Add(-25 * time.Hour)
	thread := &store.Thread{LastUserMessageAt: &stale}

	f := &store.Flow{
		Nodes: []store.FlowNode{node("t", "trigger", ""), node("send", "send-message", "hello")},
		Edges: []store.FlowEdge{edge("t", "send")},
	}

	res, err := e.Execute(context.Background(), f, Context{}, user, thread)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Blocked || res.Reason != compliance.ReasonWindowExpired {
		t.Fatalf("result = %+v, want window_expired block", res)
	}
}

func TestExecute_DelayHonorsContextCancel(t *testing.T) {
	now := time.Now()
	e := testExecutor(now)
	user, thread := openConversation(now)

	send := node("send", "send-message", "delayed")
	send.Data.Delay = 30
	f := &store.Flow{
		Nodes: []store.FlowNode{node("t", "trigger", ""), send},
		Edges: []store.FlowEdge{edge("t", "send")},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := e.Execute(ctx, f, Context{}, user, thread)
	if err == nil {
		t.Fatal("want context error from cancelled delay")
	}
}
