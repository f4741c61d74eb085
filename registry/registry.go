// Package registry holds the shared agent registry used by both the task
// router and the voting engine. All mutation goes through the registry under
// a single lock, keeping per-agent updates lost-update-free.
package registry

import (
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/agentcoord/bus"
	"github.com/BaSui01/agentcoord/types"
)

// Registry stores agents by ID and preserves registration order so listing
// is deterministic.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]types.Agent
	order  []string
	bus    *bus.Bus
	logger *zap.Logger
}

// New creates an agent registry. The bus may be nil for standalone use.
func New(b *bus.Bus, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		agents: make(map[string]types.Agent),
		bus:    b,
		logger: logger.With(zap.String("component", "agent_registry")),
	}
}

// Register adds an agent or replaces an existing entry with the same ID.
// Replacing keeps the original registration order.
func (r *Registry) Register(agent types.Agent) error {
	if agent.ID == "" {
		return types.NewError(types.ErrValidation, "agent id must not be empty")
	}
	if agent.Capacity <= 0 {
		return types.Errorf(types.ErrValidation, "agent %s capacity must be positive", agent.ID)
	}
	if agent.Workload < 0 {
		return types.Errorf(types.ErrValidation, "agent %s workload must not be negative", agent.ID)
	}

	r.mu.Lock()
	_, exists := r.agents[agent.ID]
	r.agents[agent.ID] = agent.Clone()
	if !exists {
		r.order = append(r.order, agent.ID)
	}
	r.mu.Unlock()

	r.logger.Info("agent registered",
		zap.String("agent_id", agent.ID),
		zap.String("agent_type", agent.Type),
		zap.Int("capacity", agent.Capacity),
	)
	r.publish(bus.EventAgentRegistered, bus.AgentRegisteredPayload{
		AgentID:   agent.ID,
		AgentType: agent.Type,
	})
	return nil
}

// UpdateWorkload sets the workload of a registered agent.
func (r *Registry) UpdateWorkload(agentID string, workload int) error {
	if workload < 0 {
		return types.Errorf(types.ErrValidation, "workload must not be negative, got %d", workload)
	}

	r.mu.Lock()
	agent, ok := r.agents[agentID]
	if !ok {
		r.mu.Unlock()
		return types.Errorf(types.ErrValidation, "agent %s not registered", agentID)
	}
	agent.Workload = workload
	r.agents[agentID] = agent
	r.mu.Unlock()

	r.publish(bus.EventAgentWorkloadUpdated, bus.AgentWorkloadUpdatedPayload{
		AgentID:  agentID,
		Workload: workload,
	})
	return nil
}

// Get returns a copy of the agent with the given ID.
func (r *Registry) Get(agentID string) (types.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[agentID]
	if !ok {
		return types.Agent{}, false
	}
	return agent.Clone(), true
}

// List returns copies of all registered agents in registration order.
func (r *Registry) List() []types.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Agent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id].Clone())
	}
	return out
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

func (r *Registry) publish(typ bus.EventType, payload bus.Payload) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(bus.NewEvent(typ, "agent_registry", payload))
}
