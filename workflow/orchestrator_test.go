package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentcoord/bus"
	"github.com/BaSui01/agentcoord/types"
)

// stubInvoker records delegated tasks and returns canned results.
type stubInvoker struct {
	calls  []types.Task
	result map[string]any
	fail   bool
	err    error
}

func (s *stubInvoker) ExecuteTask(_ context.Context, task types.Task) (*InvocationResult, error) {
	s.calls = append(s.calls, task)
	if s.err != nil {
		return nil, s.err
	}
	return &InvocationResult{Success: !s.fail, Result: s.result}, nil
}

func passthrough(id string) ProcessNode {
	return ProcessNode{NodeID: id}
}

func TestWorkflow_LinearExecution(t *testing.T) {
	t.Parallel()
	o := NewOrchestrator("start", nil, zap.NewNop())

	require.NoError(t, o.AddNode(passthrough("start")))
	require.NoError(t, o.AddNode(ProcessNode{
		NodeID: "enrich",
		Transform: func(_ context.Context, state map[string]any) (map[string]any, error) {
			return map[string]any{"enriched": true}, nil
		},
	}))
	require.NoError(t, o.AddNode(passthrough("end")))
	require.NoError(t, o.AddEdge(Edge{From: "start", To: "enrich"}))
	require.NoError(t, o.AddEdge(Edge{From: "enrich", To: "end"}))

	result, err := o.ExecuteWorkflow(context.Background(), map[string]any{"seed": 1})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"start", "enrich", "end"}, result.ExecutionPath)
	assert.Equal(t, 1, result.FinalContext["seed"])
	assert.Equal(t, true, result.FinalContext["enriched"])
}

func TestWorkflow_DecisionFollowsFirstEdge(t *testing.T) {
	t.Parallel()
	o := NewOrchestrator("start", nil, zap.NewNop())

	require.NoError(t, o.AddNode(passthrough("start")))
	require.NoError(t, o.AddNode(DecisionNode{
		NodeID: "decision",
		Decide: func(context.Context, map[string]any) (string, error) { return "pathB", nil },
	}))
	require.NoError(t, o.AddNode(passthrough("pathA")))
	require.NoError(t, o.AddNode(passthrough("pathB")))
	require.NoError(t, o.AddEdge(Edge{From: "start", To: "decision"}))
	require.NoError(t, o.AddEdge(Edge{From: "decision", To: "pathA"}))
	require.NoError(t, o.AddEdge(Edge{From: "decision", To: "pathB"}))

	// The computed outcome says pathB, but branch selection follows the
	// first outbound edge in insertion order.
	result, err := o.ExecuteWorkflow(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"start", "decision", "pathA"}, result.ExecutionPath)
	assert.Equal(t, "pathB", result.FinalContext["decision:decision"])
}

func TestWorkflow_MissingInitialNodeFailsFast(t *testing.T) {
	t.Parallel()
	o := NewOrchestrator("ghost", nil, zap.NewNop())
	require.NoError(t, o.AddNode(passthrough("start")))

	result, err := o.ExecuteWorkflow(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, types.IsCode(err, types.ErrValidation))
	assert.Contains(t, err.Error(), "Initial state node ghost not found")
}

func TestWorkflow_CycleHitsIterationCap(t *testing.T) {
	t.Parallel()
	o := NewOrchestrator("a", nil, zap.NewNop())

	require.NoError(t, o.AddNode(passthrough("a")))
	require.NoError(t, o.AddNode(passthrough("b")))
	require.NoError(t, o.AddEdge(Edge{From: "a", To: "b"}))
	require.NoError(t, o.AddEdge(Edge{From: "b", To: "a"}))

	result, err := o.ExecuteWorkflow(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.NotNil(t, result.Err)
	assert.Equal(t, types.ErrInternal, result.Err.Code)
	assert.Equal(t, "MaxIterationsExceeded", result.Err.Message)
	assert.Len(t, result.ExecutionPath, DefaultMaxIterations)
}

func TestWorkflow_DanglingEdgeCaptured(t *testing.T) {
	t.Parallel()
	o := NewOrchestrator("start", nil, zap.NewNop())

	require.NoError(t, o.AddNode(passthrough("start")))
	require.NoError(t, o.AddEdge(Edge{From: "start", To: "missing"}))

	result, err := o.ExecuteWorkflow(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.NotNil(t, result.Err)
	assert.Equal(t, types.ErrValidation, result.Err.Code)
	assert.Equal(t, []string{"start"}, result.ExecutionPath)
}

func TestWorkflow_AgentNodeDelegation(t *testing.T) {
	t.Parallel()
	inv := &stubInvoker{result: map[string]any{"answer": 42}}
	o := NewOrchestrator("work", nil, zap.NewNop(), WithInvoker(inv))

	require.NoError(t, o.AddNode(AgentNode{
		NodeID: "work",
		Task:   types.Task{ID: "t1", Type: "code_generation"},
	}))

	result, err := o.ExecuteWorkflow(context.Background(), map[string]any{"seed": 1})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 42, result.FinalContext["answer"])
	require.Len(t, inv.calls, 1)
	// The accumulated context rides along when the task declares none.
	assert.Equal(t, 1, inv.calls[0].Context["seed"])
}

func TestWorkflow_AgentFailuresCaptured(t *testing.T) {
	t.Parallel()

	t.Run("no invoker configured", func(t *testing.T) {
		o := NewOrchestrator("work", nil, zap.NewNop())
		require.NoError(t, o.AddNode(AgentNode{NodeID: "work"}))

		result, err := o.ExecuteWorkflow(context.Background(), map[string]any{})
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, types.ErrInternal, result.Err.Code)
	})

	t.Run("invoker error", func(t *testing.T) {
		inv := &stubInvoker{err: errors.New("engine down")}
		o := NewOrchestrator("work", nil, zap.NewNop(), WithInvoker(inv))
		require.NoError(t, o.AddNode(AgentNode{NodeID: "work"}))

		result, err := o.ExecuteWorkflow(context.Background(), map[string]any{})
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, types.ErrInternal, result.Err.Code)
	})

	t.Run("agent reports failure", func(t *testing.T) {
		inv := &stubInvoker{fail: true}
		o := NewOrchestrator("work", nil, zap.NewNop(), WithInvoker(inv))
		require.NoError(t, o.AddNode(AgentNode{NodeID: "work"}))

		result, err := o.ExecuteWorkflow(context.Background(), map[string]any{})
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, types.ErrInternal, result.Err.Code)
	})
}

func TestWorkflow_CancelledContextStopsAtNodeBoundary(t *testing.T) {
	t.Parallel()
	o := NewOrchestrator("start", nil, zap.NewNop())
	require.NoError(t, o.AddNode(passthrough("start")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := o.ExecuteWorkflow(ctx, map[string]any{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, types.ErrInternal, result.Err.Code)
	assert.Empty(t, result.ExecutionPath)
}

func TestWorkflow_GraphAccessors(t *testing.T) {
	t.Parallel()
	o := NewOrchestrator("a", nil, zap.NewNop())

	require.NoError(t, o.AddNode(passthrough("a")))
	require.NoError(t, o.AddNode(passthrough("b")))
	require.NoError(t, o.AddNode(passthrough("c")))
	require.NoError(t, o.AddEdge(Edge{ID: "e-ab", From: "a", To: "b"}))
	require.NoError(t, o.AddEdge(Edge{From: "a", To: "c"}))
	require.NoError(t, o.AddEdge(Edge{From: "b", To: "c"}))

	nodes := o.Nodes()
	require.Len(t, nodes, 3)
	assert.Equal(t, "a", nodes[0].ID())
	assert.Equal(t, "b", nodes[1].ID())
	assert.Equal(t, "c", nodes[2].ID())

	assert.Len(t, o.Edges(), 3)
	fromA := o.OutboundEdges("a")
	require.Len(t, fromA, 2)
	assert.Equal(t, Edge{ID: "e-ab", From: "a", To: "b"}, fromA[0], "caller-supplied edge id is preserved")
	assert.Equal(t, "c", fromA[1].To)
	assert.NotEmpty(t, fromA[1].ID, "omitted edge id is assigned")
	assert.Empty(t, o.OutboundEdges("c"))

	err := o.AddNode(ProcessNode{})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrValidation))
	err = o.AddEdge(Edge{From: "a"})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrValidation))
}

func TestWorkflow_PublishesEvents(t *testing.T) {
	t.Parallel()
	b := bus.New(zap.NewNop())
	var visited []string
	completed := 0
	b.Subscribe(bus.EventWorkflowNodeExecuted, func(e bus.Event) {
		p := e.Payload.(bus.WorkflowNodeExecutedPayload)
		visited = append(visited, p.NodeID)
	})
	b.Subscribe(bus.EventWorkflowCompleted, func(e bus.Event) {
		p := e.Payload.(bus.WorkflowCompletedPayload)
		assert.True(t, p.Success)
		assert.Equal(t, 2, p.Steps)
		completed++
	})

	o := NewOrchestrator("start", b, zap.NewNop())
	require.NoError(t, o.AddNode(passthrough("start")))
	require.NoError(t, o.AddNode(passthrough("end")))
	require.NoError(t, o.AddEdge(Edge{From: "start", To: "end"}))

	_, err := o.ExecuteWorkflow(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "end"}, visited)
	assert.Equal(t, 1, completed)
}

func TestWorkflow_MaxIterationsOption(t *testing.T) {
	t.Parallel()
	o := NewOrchestrator("a", nil, zap.NewNop(), WithMaxIterations(5))

	require.NoError(t, o.AddNode(passthrough("a")))
	require.NoError(t, o.AddEdge(Edge{From: "a", To: "a"}))

	result, err := o.ExecuteWorkflow(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Len(t, result.ExecutionPath, 5)
}

func TestWorkflow_SubscriberReentryDuringRun(t *testing.T) {
	t.Parallel()
	b := bus.New(zap.NewNop())
	o := NewOrchestrator("start", b, zap.NewNop())

	require.NoError(t, o.AddNode(passthrough("start")))
	require.NoError(t, o.AddNode(passthrough("end")))
	require.NoError(t, o.AddEdge(Edge{From: "start", To: "end"}))

	// Subscribers inspecting the graph through the orchestrator must not
	// block the run.
	var seenEdges int
	b.Subscribe(bus.EventWorkflowNodeExecuted, func(bus.Event) {
		seenEdges = len(o.Edges())
	})
	b.Subscribe(bus.EventWorkflowCompleted, func(bus.Event) {
		_ = o.Nodes()
	})

	done := make(chan *types.WorkflowResult, 1)
	go func() {
		result, err := o.ExecuteWorkflow(context.Background(), map[string]any{})
		require.NoError(t, err)
		done <- result
	}()
	select {
	case result := <-done:
		assert.True(t, result.Success)
		assert.Equal(t, 1, seenEdges)
	case <-time.After(2 * time.Second):
		t.Fatal("ExecuteWorkflow blocked while a subscriber inspected the graph")
	}
}

func TestWorkflow_ConcurrentRunsDoNotSerialize(t *testing.T) {
	t.Parallel()
	o := NewOrchestrator("start", nil, zap.NewNop())

	arrived := make(chan struct{}, 2)
	release := make(chan struct{})
	require.NoError(t, o.AddNode(ProcessNode{
		NodeID: "start",
		Transform: func(context.Context, map[string]any) (map[string]any, error) {
			arrived <- struct{}{}
			<-release
			return nil, nil
		},
	}))

	results := make(chan *types.WorkflowResult, 2)
	for i := 0; i < 2; i++ {
		go func() {
			result, err := o.ExecuteWorkflow(context.Background(), map[string]any{})
			require.NoError(t, err)
			results <- result
		}()
	}

	// Both runs must reach their node at the same time; a whole-run lock
	// would park the second one.
	for i := 0; i < 2; i++ {
		select {
		case <-arrived:
		case <-time.After(2 * time.Second):
			t.Fatal("second run never started; runs are serialized")
		}
	}
	// Graph accessors stay responsive mid-run.
	assert.Len(t, o.Nodes(), 1)

	close(release)
	for i := 0; i < 2; i++ {
		select {
		case result := <-results:
			assert.True(t, result.Success)
		case <-time.After(2 * time.Second):
			t.Fatal("run did not finish after release")
		}
	}
}
