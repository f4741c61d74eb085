package types

// Agent is a worker with a declared role, expertise, and load profile.
// Identity (ID) never changes; Workload and Capacity are mutable through the
// registry only, so concurrent updates stay lost-update-free.
type Agent struct {
	ID        string   `json:"id"`
	Type      string   `json:"type"`
	Name      string   `json:"name"`
	Expertise []string `json:"expertise,omitempty"`
	Workload  int      `json:"workload"`
	Capacity  int      `json:"capacity"`
}

// Saturated reports whether the agent is at or over capacity.
func (a Agent) Saturated() bool {
	return a.Workload >= a.Capacity
}

// SpareRatio returns the spare capacity ratio (capacity-workload)/capacity,
// clamped to [0, 1].
func (a Agent) SpareRatio() float64 {
	if a.Capacity <= 0 {
		return 0
	}
	r := float64(a.Capacity-a.Workload) / float64(a.Capacity)
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

// HasExpertise reports whether the agent declares the given expertise tag.
func (a Agent) HasExpertise(tag string) bool {
	for _, e := range a.Expertise {
		if e == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the agent.
func (a Agent) Clone() Agent {
	c := a
	if a.Expertise != nil {
		c.Expertise = append([]string(nil), a.Expertise...)
	}
	return c
}

// Task is a unit of work with a type, priority, and opaque context. Tasks are
// created by the caller and not mutated after dispatch; the context may be
// replaced wholesale on handoff.
type Task struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	Type        string         `json:"type"`
	Priority    int            `json:"priority"`
	Context     map[string]any `json:"context,omitempty"`
}

// RoutingResult is the outcome of routing a task: the selected agent and a
// confidence in (0.3, 1.0], or exactly 0.3 when every compatible agent was
// saturated and the least-overloaded one was picked anyway.
type RoutingResult struct {
	Agent      Agent   `json:"agent"`
	Confidence float64 `json:"confidence"`
}

// DegradedConfidence signals that selection quality is reduced because all
// compatible agents were at or over capacity.
const DegradedConfidence = 0.3
