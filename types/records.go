package types

import "time"

// VotingStatus is the lifecycle status of a voting session.
type VotingStatus string

const (
	VotingOpen   VotingStatus = "open"
	VotingClosed VotingStatus = "closed"
)

// VoteResult is computed once when a session closes and is immutable
// afterwards; closing the same session again returns the identical value.
type VoteResult struct {
	SessionID        string         `json:"session_id"`
	WinningOption    string         `json:"winning_option,omitempty"`
	ConsensusReached bool           `json:"consensus_reached"`
	Tally            map[string]int `json:"tally"`
}

// HandoffStatus is the lifecycle status of a handoff record.
type HandoffStatus string

const (
	HandoffPending   HandoffStatus = "pending"
	HandoffCompleted HandoffStatus = "completed"
	HandoffFailed    HandoffStatus = "failed"
)

// Terminal reports whether the status is a terminal one.
func (s HandoffStatus) Terminal() bool {
	return s == HandoffCompleted || s == HandoffFailed
}

// HandoffRecord tracks a one-time transfer of task context between agents.
// It is created pending and transitions exactly once to completed or failed.
type HandoffRecord struct {
	HandoffID         string        `json:"handoff_id"`
	SourceAgentID     string        `json:"source_agent_id"`
	TargetAgentID     string        `json:"target_agent_id"`
	TaskID            string        `json:"task_id"`
	CompressedPayload []byte        `json:"compressed_payload,omitempty"`
	Status            HandoffStatus `json:"status"`
	CreatedAt         time.Time     `json:"created_at"`
	CompletedAt       *time.Time    `json:"completed_at,omitempty"`
}

// HandshakeRecord tracks a capability/version negotiation between two agents.
// It is immutable once accepted or rejected.
type HandshakeRecord struct {
	HandshakeID     string    `json:"handshake_id"`
	SourceAgentID   string    `json:"source_agent_id"`
	TargetAgentID   string    `json:"target_agent_id"`
	Capabilities    []string  `json:"capabilities,omitempty"`
	ProtocolVersion string    `json:"protocol_version"`
	Accepted        bool      `json:"accepted"`
	CreatedAt       time.Time `json:"created_at"`
}

// WorkflowResult is produced once per workflow execution. The orchestrator is
// stateless between calls; no workflow instance is persisted by the core.
type WorkflowResult struct {
	Success       bool           `json:"success"`
	ExecutionPath []string       `json:"execution_path"`
	FinalContext  map[string]any `json:"final_context,omitempty"`
	Err           *Error         `json:"error,omitempty"`
}
