package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentcoord/bus"
	"github.com/BaSui01/agentcoord/internal/metrics"
	"github.com/BaSui01/agentcoord/persistence"
	"github.com/BaSui01/agentcoord/types"
)

// DefaultMaxIterations caps the number of node visits per execution so cyclic
// graphs terminate.
const DefaultMaxIterations = 100

// Orchestrator owns a workflow graph and executes it as a sequential state
// machine. The mutex guards graph mutation; each run executes against a
// snapshot of the graph, strictly sequentially, so the execution path stays
// deterministic and auditable.
type Orchestrator struct {
	mu            sync.Mutex
	nodes         map[string]Node
	nodeOrder     []string
	edges         []Edge
	initialNodeID string

	maxIterations int
	invoker       AgentInvoker
	bus           *bus.Bus
	store         persistence.Store
	metrics       *metrics.Collector
	logger        *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxIterations overrides the iteration cap; values below 1 keep the
// default.
func WithMaxIterations(n int) Option {
	return func(o *Orchestrator) {
		if n >= 1 {
			o.maxIterations = n
		}
	}
}

// WithInvoker attaches the agent execution engine used by agent-kind nodes.
func WithInvoker(inv AgentInvoker) Option {
	return func(o *Orchestrator) { o.invoker = inv }
}

// WithStore attaches an optional persistence store for run records.
func WithStore(store persistence.Store) Option {
	return func(o *Orchestrator) { o.store = store }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *Orchestrator) { o.metrics = c }
}

// NewOrchestrator creates an orchestrator that starts execution at
// initialNodeID. The bus may be nil.
func NewOrchestrator(initialNodeID string, b *bus.Bus, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		nodes:         make(map[string]Node),
		initialNodeID: initialNodeID,
		maxIterations: DefaultMaxIterations,
		bus:           b,
		logger:        logger.With(zap.String("component", "workflow_orchestrator")),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// AddNode registers a node. Re-adding an id replaces the node but keeps its
// original position in insertion order.
func (o *Orchestrator) AddNode(n Node) error {
	if n == nil || n.ID() == "" {
		return types.NewError(types.ErrValidation, "node must have an id")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.nodes[n.ID()]; !exists {
		o.nodeOrder = append(o.nodeOrder, n.ID())
	}
	o.nodes[n.ID()] = n
	return nil
}

// AddEdge registers a directed edge. Edge order is insertion order; decision
// branching depends on it.
func (o *Orchestrator) AddEdge(e Edge) error {
	if e.From == "" || e.To == "" {
		return types.NewError(types.ErrValidation, "edge must have from and to node ids")
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.edges = append(o.edges, e)
	return nil
}

// Nodes returns the registered nodes in insertion order.
func (o *Orchestrator) Nodes() []Node {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Node, 0, len(o.nodeOrder))
	for _, id := range o.nodeOrder {
		out = append(out, o.nodes[id])
	}
	return out
}

// Edges returns all registered edges in insertion order.
func (o *Orchestrator) Edges() []Edge {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Edge(nil), o.edges...)
}

// OutboundEdges returns the outbound edges of a node in insertion order.
func (o *Orchestrator) OutboundEdges(nodeID string) []Edge {
	o.mu.Lock()
	defer o.mu.Unlock()
	return outbound(o.edges, nodeID)
}

func outbound(edges []Edge, nodeID string) []Edge {
	var out []Edge
	for _, e := range edges {
		if e.From == nodeID {
			out = append(out, e)
		}
	}
	return out
}

// ExecuteWorkflow runs the graph from the configured initial node with the
// given initial context. A missing initial node fails fast with a non-nil
// error before any processing; every other failure is captured into the
// returned WorkflowResult with Success=false and a nil error.
//
// The graph is snapshotted up front and the run proceeds without the
// orchestrator lock, so independent runs execute concurrently, accessors
// stay responsive mid-run, and event subscribers may call back into the
// orchestrator.
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, initial map[string]any) (*types.WorkflowResult, error) {
	o.mu.Lock()
	if _, ok := o.nodes[o.initialNodeID]; !ok {
		o.mu.Unlock()
		return nil, types.Errorf(types.ErrValidation, "Initial state node %s not found", o.initialNodeID)
	}
	nodes := make(map[string]Node, len(o.nodes))
	for id, n := range o.nodes {
		nodes[id] = n
	}
	edges := append([]Edge(nil), o.edges...)
	o.mu.Unlock()

	runID := uuid.New().String()
	ctx = types.WithRunID(ctx, runID)
	started := time.Now()

	state := make(map[string]any, len(initial))
	for k, v := range initial {
		state[k] = v
	}

	result := &types.WorkflowResult{ExecutionPath: []string{}}
	currentID := o.initialNodeID

	o.logger.Info("workflow started",
		zap.String("run_id", runID),
		zap.String("initial_node", currentID),
	)

	for step := 0; ; step++ {
		if step >= o.maxIterations {
			result.Err = types.NewError(types.ErrInternal, "MaxIterationsExceeded")
			break
		}
		if err := ctx.Err(); err != nil {
			result.Err = types.NewError(types.ErrInternal, "workflow cancelled").WithCause(err)
			break
		}

		node, ok := nodes[currentID]
		if !ok {
			result.Err = types.Errorf(types.ErrValidation, "edge target node %s not found", currentID)
			break
		}

		if err := o.processNode(ctx, node, state); err != nil {
			result.Err = err
			break
		}

		result.ExecutionPath = append(result.ExecutionPath, currentID)
		o.metrics.RecordWorkflowNode(node.kind())
		if o.bus != nil {
			o.bus.Publish(bus.NewEvent(bus.EventWorkflowNodeExecuted, "workflow_orchestrator", bus.WorkflowNodeExecutedPayload{
				RunID:  runID,
				NodeID: currentID,
				Kind:   node.kind(),
				Step:   step,
			}))
		}

		next := outbound(edges, currentID)
		if len(next) == 0 {
			result.Success = true
			result.FinalContext = state
			break
		}
		// Decision nodes included: the first outbound edge in insertion
		// order is always the one followed.
		currentID = next[0].To
	}

	o.finishRun(runID, started, result)
	return result, nil
}

// processNode runs one node and merges its output into state.
func (o *Orchestrator) processNode(ctx context.Context, node Node, state map[string]any) *types.Error {
	switch n := node.(type) {
	case AgentNode:
		if o.invoker == nil {
			return types.Errorf(types.ErrInternal, "no agent invoker configured for node %s", n.NodeID)
		}
		task := n.Task
		if task.Context == nil {
			task.Context = state
		}
		res, err := o.invoker.ExecuteTask(ctx, task)
		if err != nil {
			return types.Errorf(types.ErrInternal, "agent execution failed at node %s", n.NodeID).WithCause(err)
		}
		if !res.Success {
			return types.Errorf(types.ErrInternal, "agent reported failure at node %s", n.NodeID)
		}
		for k, v := range res.Result {
			state[k] = v
		}
		return nil
	case ProcessNode:
		if n.Transform == nil {
			return nil
		}
		out, err := n.Transform(ctx, state)
		if err != nil {
			return types.Errorf(types.ErrInternal, "transform failed at node %s", n.NodeID).WithCause(err)
		}
		for k, v := range out {
			state[k] = v
		}
		return nil
	case DecisionNode:
		if n.Decide == nil {
			return nil
		}
		outcome, err := n.Decide(ctx, state)
		if err != nil {
			return types.Errorf(types.ErrInternal, "decision failed at node %s", n.NodeID).WithCause(err)
		}
		state["decision:"+n.NodeID] = outcome
		return nil
	default:
		// Unreachable while Node stays sealed; kept so a future kind
		// cannot silently fall through.
		return types.NewError(types.ErrValidation, "Unknown node type")
	}
}

// finishRun publishes and persists the terminal run state. Called without the
// orchestrator lock.
func (o *Orchestrator) finishRun(runID string, started time.Time, result *types.WorkflowResult) {
	o.metrics.RecordWorkflowRun(result.Success)
	if result.Success {
		o.logger.Info("workflow completed",
			zap.String("run_id", runID),
			zap.Int("steps", len(result.ExecutionPath)),
			zap.Duration("elapsed", time.Since(started)),
		)
	} else {
		o.logger.Warn("workflow failed",
			zap.String("run_id", runID),
			zap.Int("steps", len(result.ExecutionPath)),
			zap.String("error", result.Err.Error()),
		)
	}
	if o.bus != nil {
		o.bus.Publish(bus.NewEvent(bus.EventWorkflowCompleted, "workflow_orchestrator", bus.WorkflowCompletedPayload{
			RunID:   runID,
			Success: result.Success,
			Steps:   len(result.ExecutionPath),
		}))
	}
	if o.store != nil {
		errMsg := ""
		if result.Err != nil {
			errMsg = result.Err.Error()
		}
		rec := persistence.WorkflowRunRecord{
			RunID:         runID,
			Success:       result.Success,
			ExecutionPath: append([]string(nil), result.ExecutionPath...),
			Error:         errMsg,
			FinishedAt:    time.Now(),
		}
		if err := o.store.SaveWorkflowRun(context.Background(), rec); err != nil {
			o.logger.Warn("failed to persist workflow run",
				zap.String("run_id", runID),
				zap.Error(err),
			)
		}
	}
}
