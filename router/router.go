// Package router selects the best agent for a task based on type
// compatibility, expertise match, spare capacity, and priority alignment.
// Routing never fails just because the fleet is busy: when every compatible
// agent is saturated, the least-overloaded one is picked with a fixed
// degraded confidence so the caller can decide whether to proceed.
package router

import (
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentcoord/bus"
	"github.com/BaSui01/agentcoord/internal/metrics"
	"github.com/BaSui01/agentcoord/registry"
	"github.com/BaSui01/agentcoord/types"
)

// Weights controls the relative influence of each scoring dimension. The
// three weights should sum to 1 so the combined score stays in [0, 1].
type Weights struct {
	Expertise float64 `json:"expertise" yaml:"expertise"`
	Capacity  float64 `json:"capacity" yaml:"capacity"`
	Priority  float64 `json:"priority" yaml:"priority"`
}

// DefaultWeights returns the default scoring weights.
func DefaultWeights() Weights {
	return Weights{Expertise: 0.5, Capacity: 0.3, Priority: 0.2}
}

// taskCompatibility maps task types to the agent types that may handle them.
// Task types missing from the table fall back to exact type match; agents of
// type "general" are compatible with every task.
var taskCompatibility = map[string][]string{
	"code_generation": {"coder"},
	"refactoring":     {"coder"},
	"debugging":       {"coder", "tester"},
	"code_review":     {"reviewer"},
	"testing":         {"tester"},
	"documentation":   {"reviewer", "coder"},
	"architecture":    {"architect", "reviewer"},
}

// GeneralAgentType agents accept any task type.
const GeneralAgentType = "general"

// maxPriority is the upper bound of the task priority scale.
const maxPriority = 10

// Router routes tasks to agents from a shared registry.
type Router struct {
	registry *registry.Registry
	bus      *bus.Bus
	weights  Weights
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithWeights overrides the default scoring weights.
func WithWeights(w Weights) Option {
	return func(r *Router) { r.weights = w }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(r *Router) { r.metrics = c }
}

// New creates a Router over the given registry. The bus may be nil.
func New(reg *registry.Registry, b *bus.Bus, logger *zap.Logger, opts ...Option) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Router{
		registry: reg,
		bus:      b,
		weights:  DefaultWeights(),
		logger:   logger.With(zap.String("component", "task_router")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterAgent adds an agent to the shared registry.
func (r *Router) RegisterAgent(agent types.Agent) error {
	return r.registry.Register(agent)
}

// UpdateAgentWorkload updates an agent's workload in the shared registry.
func (r *Router) UpdateAgentWorkload(agentID string, workload int) error {
	return r.registry.UpdateWorkload(agentID, workload)
}

// RouteTask selects the best agent for the task.
//
// Candidates are agents whose type is compatible with the task type. Each is
// scored by expertise match, spare capacity ratio, and priority alignment;
// ties break by lowest workload, then by agent ID. When every candidate is
// saturated, the least-overloaded one is returned with confidence fixed at
// types.DegradedConfidence instead of failing the task.
func (r *Router) RouteTask(task types.Task) (*types.RoutingResult, error) {
	start := time.Now()

	agents := r.registry.List()
	if len(agents) == 0 {
		r.metrics.RecordRouting(task.Type, "no_agents", time.Since(start))
		return nil, types.NewError(types.ErrCapacity, "no agents registered")
	}

	candidates := make([]types.Agent, 0, len(agents))
	for _, a := range agents {
		if compatible(task.Type, a.Type) {
			candidates = append(candidates, a)
		}
	}
	if len(candidates) == 0 {
		r.metrics.RecordRouting(task.Type, "no_compatible", time.Since(start))
		return nil, types.Errorf(types.ErrCapacity, "no compatible agent for task type %q", task.Type)
	}

	degraded := allSaturated(candidates)

	var selected types.Agent
	var confidence float64
	if degraded {
		selected = leastOverloaded(candidates)
		confidence = types.DegradedConfidence
	} else {
		selected, confidence = r.pickBest(task, candidates)
	}

	r.logger.Info("task routed",
		zap.String("task_id", task.ID),
		zap.String("task_type", task.Type),
		zap.String("agent_id", selected.ID),
		zap.Float64("confidence", confidence),
		zap.Bool("degraded", degraded),
	)

	if r.bus != nil {
		r.bus.Publish(bus.NewEvent(bus.EventTaskRouted, "task_router", bus.TaskRoutedPayload{
			TaskID:     task.ID,
			TaskType:   task.Type,
			AgentID:    selected.ID,
			Confidence: confidence,
			Degraded:   degraded,
		}))
	}
	outcome := "routed"
	if degraded {
		outcome = "degraded"
	}
	r.metrics.RecordRouting(task.Type, outcome, time.Since(start))

	return &types.RoutingResult{Agent: selected, Confidence: confidence}, nil
}

// pickBest scores every candidate and returns the winner with its confidence.
func (r *Router) pickBest(task types.Task, candidates []types.Agent) (types.Agent, float64) {
	type scored struct {
		agent types.Agent
		score float64
	}
	list := make([]scored, 0, len(candidates))
	for _, a := range candidates {
		list = append(list, scored{agent: a, score: r.score(task, a)})
	}

	sort.SliceStable(list, func(i, j int) bool {
		if list[i].score != list[j].score {
			return list[i].score > list[j].score
		}
		if list[i].agent.Workload != list[j].agent.Workload {
			return list[i].agent.Workload < list[j].agent.Workload
		}
		return list[i].agent.ID < list[j].agent.ID
	})

	best := list[0]
	return best.agent, confidenceFromScore(best.score)
}

// score combines the three weighted dimensions into [0, 1].
func (r *Router) score(task types.Task, agent types.Agent) float64 {
	return r.weights.Expertise*expertiseScore(task, agent) +
		r.weights.Capacity*agent.SpareRatio() +
		r.weights.Priority*priorityScore(task, agent)
}

// expertiseScore is the fraction of the agent's declared expertise tags that
// match the task type or appear in its description.
func expertiseScore(task types.Task, agent types.Agent) float64 {
	if len(agent.Expertise) == 0 {
		return 0
	}
	desc := strings.ToLower(task.Description)
	matched := 0
	for _, tag := range agent.Expertise {
		lower := strings.ToLower(tag)
		if lower == strings.ToLower(task.Type) || (desc != "" && strings.Contains(desc, lower)) {
			matched++
		}
	}
	return float64(matched) / float64(len(agent.Expertise))
}

// priorityScore aligns high-priority tasks with lightly loaded agents: the
// higher the task priority, the harder an agent's current load counts
// against it.
func priorityScore(task types.Task, agent types.Agent) float64 {
	p := task.Priority
	if p < 0 {
		p = 0
	}
	if p > maxPriority {
		p = maxPriority
	}
	pressure := float64(p) / float64(maxPriority)
	load := 1 - agent.SpareRatio()
	return 1 - pressure*load
}

// confidenceFromScore maps a score in [0, 1] into (DegradedConfidence, 1.0].
func confidenceFromScore(score float64) float64 {
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return types.DegradedConfidence + (1-types.DegradedConfidence)*score
}

func compatible(taskType, agentType string) bool {
	if agentType == GeneralAgentType {
		return true
	}
	if allowed, ok := taskCompatibility[taskType]; ok {
		for _, t := range allowed {
			if t == agentType {
				return true
			}
		}
		return false
	}
	return taskType == agentType
}

func allSaturated(agents []types.Agent) bool {
	for _, a := range agents {
		if !a.Saturated() {
			return false
		}
	}
	return true
}

// leastOverloaded returns the agent with the smallest absolute workload,
// breaking ties by agent ID for determinism.
func leastOverloaded(agents []types.Agent) types.Agent {
	best := agents[0]
	for _, a := range agents[1:] {
		if a.Workload < best.Workload || (a.Workload == best.Workload && a.ID < best.ID) {
			best = a
		}
	}
	return best
}
