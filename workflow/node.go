// Package workflow executes directed graphs of typed nodes as a sequential
// state machine. A run starts at the configured initial node, processes each
// node by kind, merges node output into the accumulated context, and follows
// outbound edges until a node with no outbound edges is reached. An iteration
// cap guarantees termination on cyclic graphs.
package workflow

import (
	"context"
	"time"

	"github.com/BaSui01/agentcoord/types"
)

// Node is the closed set of workflow node kinds. The set is sealed through an
// unexported method so the orchestrator's kind switch is exhaustive; outside
// packages cannot introduce a kind the executor does not know.
type Node interface {
	ID() string
	kind() string
}

const (
	kindAgent    = "agent"
	kindProcess  = "process"
	kindDecision = "decision"
)

// AgentNode delegates its step to an external agent execution engine.
type AgentNode struct {
	NodeID string
	Task   types.Task
}

func (n AgentNode) ID() string   { return n.NodeID }
func (n AgentNode) kind() string { return kindAgent }

// TransformFunc applies a generic processing step to the accumulated context
// and returns the output to merge back in.
type TransformFunc func(ctx context.Context, state map[string]any) (map[string]any, error)

// ProcessNode applies a transform to the accumulated context.
type ProcessNode struct {
	NodeID    string
	Transform TransformFunc
}

func (n ProcessNode) ID() string   { return n.NodeID }
func (n ProcessNode) kind() string { return kindProcess }

// DecideFunc evaluates a branch outcome for a decision node.
type DecideFunc func(ctx context.Context, state map[string]any) (string, error)

// DecisionNode evaluates a branch outcome. Branch selection currently follows
// the first outbound edge in insertion order regardless of the computed
// outcome; the outcome is recorded into the context under "decision:<id>".
// TODO: route on the decision outcome once the branching contract is settled
// with the workflow authors.
type DecisionNode struct {
	NodeID string
	Decide DecideFunc
}

func (n DecisionNode) ID() string   { return n.NodeID }
func (n DecisionNode) kind() string { return kindDecision }

// Edge is a directed transition between two nodes. ID identifies the edge for
// auditing; AddEdge assigns one when it is left empty.
type Edge struct {
	ID   string `json:"id"`
	From string `json:"from"`
	To   string `json:"to"`
}

// InvocationResult is what an agent execution engine reports back for one
// delegated task.
type InvocationResult struct {
	Success       bool           `json:"success"`
	Result        map[string]any `json:"result,omitempty"`
	ExecutionTime time.Duration  `json:"execution_time"`
}

// AgentInvoker runs a task on behalf of an agent-kind node. The orchestrator
// never inlines agent execution; concrete engines satisfy this interface and
// never import the orchestrator.
type AgentInvoker interface {
	ExecuteTask(ctx context.Context, task types.Task) (*InvocationResult, error)
}
