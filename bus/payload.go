package bus

// EventType identifies an event on the bus. Types are dot-namespaced and form
// a closed set; every type maps to exactly one payload shape below.
type EventType string

const (
	EventTaskRouted           EventType = "task.routed"
	EventVoteSessionOpened    EventType = "vote.session_opened"
	EventVoteCast             EventType = "vote.cast"
	EventVoteSessionClosed    EventType = "vote.session_closed"
	EventHandoffInitiated     EventType = "handoff.initiated"
	EventHandoffCompleted     EventType = "handoff.completed"
	EventHandoffFailed        EventType = "handoff.failed"
	EventHandshakeInitiated   EventType = "handshake.initiated"
	EventHandshakeSynced      EventType = "handshake.synced"
	EventWorkflowNodeExecuted EventType = "workflow.node_executed"
	EventWorkflowCompleted    EventType = "workflow.completed"
	EventAgentRegistered      EventType = "agent.registered"
	EventAgentWorkloadUpdated EventType = "agent.workload_updated"
)

// Payload is the closed set of event payload shapes. Subscribers type-switch
// on the concrete payload instead of casting loose maps.
type Payload interface {
	eventPayload()
}

// TaskRoutedPayload announces a routing decision.
type TaskRoutedPayload struct {
	TaskID     string  `json:"task_id"`
	TaskType   string  `json:"task_type"`
	AgentID    string  `json:"agent_id"`
	Confidence float64 `json:"confidence"`
	Degraded   bool    `json:"degraded"`
}

// VoteSessionOpenedPayload announces a new voting session.
type VoteSessionOpenedPayload struct {
	SessionID string `json:"session_id"`
	Topic     string `json:"topic"`
	Quorum    int    `json:"quorum"`
	Options   int    `json:"options"`
}

// VoteCastPayload announces an accepted vote; overwrites are announced too.
type VoteCastPayload struct {
	SessionID string `json:"session_id"`
	AgentID   string `json:"agent_id"`
	OptionID  string `json:"option_id"`
	Overwrite bool   `json:"overwrite"`
}

// VoteSessionClosedPayload announces the terminal result of a session.
type VoteSessionClosedPayload struct {
	SessionID        string `json:"session_id"`
	WinningOption    string `json:"winning_option,omitempty"`
	ConsensusReached bool   `json:"consensus_reached"`
	CastVotes        int    `json:"cast_votes"`
}

// HandoffInitiatedPayload announces a pending context handoff.
type HandoffInitiatedPayload struct {
	HandoffID      string `json:"handoff_id"`
	SourceAgentID  string `json:"source_agent_id"`
	TargetAgentID  string `json:"target_agent_id"`
	TaskID         string `json:"task_id"`
	CompressedSize int    `json:"compressed_size"`
}

// HandoffCompletedPayload announces a consumed handoff.
type HandoffCompletedPayload struct {
	HandoffID     string `json:"handoff_id"`
	TargetAgentID string `json:"target_agent_id"`
}

// HandoffFailedPayload announces a handoff that reached the failed state.
type HandoffFailedPayload struct {
	HandoffID string `json:"handoff_id"`
	Reason    string `json:"reason"`
}

// HandshakeInitiatedPayload announces a handshake attempt, accepted or not.
type HandshakeInitiatedPayload struct {
	HandshakeID     string `json:"handshake_id"`
	SourceAgentID   string `json:"source_agent_id"`
	TargetAgentID   string `json:"target_agent_id"`
	ProtocolVersion string `json:"protocol_version"`
	Accepted        bool   `json:"accepted"`
}

// HandshakeSyncedPayload announces a state sync over an accepted handshake.
type HandshakeSyncedPayload struct {
	HandshakeID string `json:"handshake_id"`
	SyncType    string `json:"sync_type"`
	Keys        int    `json:"keys"`
}

// WorkflowNodeExecutedPayload announces one visited workflow node.
type WorkflowNodeExecutedPayload struct {
	RunID  string `json:"run_id"`
	NodeID string `json:"node_id"`
	Kind   string `json:"kind"`
	Step   int    `json:"step"`
}

// WorkflowCompletedPayload announces the end of a workflow execution.
type WorkflowCompletedPayload struct {
	RunID   string `json:"run_id"`
	Success bool   `json:"success"`
	Steps   int    `json:"steps"`
}

// AgentRegisteredPayload announces a new or replaced registry entry.
type AgentRegisteredPayload struct {
	AgentID   string `json:"agent_id"`
	AgentType string `json:"agent_type"`
}

// AgentWorkloadUpdatedPayload announces a workload mutation.
type AgentWorkloadUpdatedPayload struct {
	AgentID  string `json:"agent_id"`
	Workload int    `json:"workload"`
}

func (TaskRoutedPayload) eventPayload()           {}
func (VoteSessionOpenedPayload) eventPayload()    {}
func (VoteCastPayload) eventPayload()             {}
func (VoteSessionClosedPayload) eventPayload()    {}
func (HandoffInitiatedPayload) eventPayload()     {}
func (HandoffCompletedPayload) eventPayload()     {}
func (HandoffFailedPayload) eventPayload()        {}
func (HandshakeInitiatedPayload) eventPayload()   {}
func (HandshakeSyncedPayload) eventPayload()      {}
func (WorkflowNodeExecutedPayload) eventPayload() {}
func (WorkflowCompletedPayload) eventPayload()    {}
func (AgentRegisteredPayload) eventPayload()      {}
func (AgentWorkloadUpdatedPayload) eventPayload() {}
