package flow

import (
	"fmt"
	"strings"

	"github.com/threadlinehq/threadline/internal/store"
)

// Node type tags. A trigger node is any node whose type has the "trigger"
// prefix (builders emit trigger-keyword, trigger-any, plain "trigger", ...).
const (
	triggerPrefix = "trigger"

	nodeSendMessage = "send-message"
	nodeResponse    = "response"
)

func isTriggerNode(n *store.FlowNode) bool {
	return strings.HasPrefix(n.NodeType(), triggerPrefix)
}

func isSendNode(n *store.FlowNode) bool {
	t := n.NodeType()
	return t == nodeSendMessage || t == nodeResponse
}

// ValidateGraph checks the structural constraints the executor relies on.
// It runs at publish time so malformed graphs are rejected up front instead
// of being discovered mid-conversation: exactly one trigger node, every edge
// endpoint resolving to a node, and at most one outgoing edge per node
// (the executor always follows the first and only successor).
func ValidateGraph(f *store.Flow) error {
	if len(f.Nodes) == 0 {
		return fmt.Errorf("flow has no nodes")
	}

	ids := make(map[string]bool, len(f.Nodes))
	triggers := 0
	for i := range f.Nodes {
		n := &f.Nodes[i]
		if n.ID == "" {
			return fmt.Errorf("node %d has no id", i)
		}
		if ids[n.ID] {
			return fmt.Errorf("duplicate node id %q", n.ID)
		}
		ids[n.ID] = true
		if isTriggerNode(n) {
			triggers++
		}
	}
	switch {
	case triggers == 0:
		return fmt.Errorf("flow has no trigger node")
	case triggers > 1:
		return fmt.Errorf("flow has %d trigger nodes, want exactly one", triggers)
	}

	outgoing := make(map[string]int, len(f.Nodes))
	for _, e := range f.Edges {
		if !ids[e.Source] {
			return fmt.Errorf("edge references unknown source node %q", e.Source)
		}
		if !ids[e.Target] {
			return fmt.Errorf("edge references unknown target node %q", e.Target)
		}
		outgoing[e.Source]++
		if outgoing[e.Source] > 1 {
			return fmt.Errorf("node %q has multiple outgoing edges", e.Source)
		}
	}

	return nil
}

// triggerNode returns the flow's trigger node, or nil. Unlike ValidateGraph
// this tolerates legacy unvalidated flows: the executor treats a missing
// trigger as "no response", not an error.
func triggerNode(f *store.Flow) *store.FlowNode {
	for i := range f.Nodes {
		if isTriggerNode(&f.Nodes[i]) {
			return &f.Nodes[i]
		}
	}
	return nil
}

// nextNodeID follows the first outgoing edge from a node, or returns "".
func nextNodeID(f *store.Flow, from string) string {
	for _, e := range f.Edges {
		if e.Source == from {
			return e.Target
		}
	}
	return ""
}
