// Package persistence provides optional durable storage for coordination
// records: closed voting sessions, handoff records, and workflow runs. The
// core operates purely in-memory and treats these stores as best-effort
// add-ons for crash recovery and audit.
package persistence

import (
	"context"
	"time"
)

// VotingSessionRecord is the durable form of a closed voting session.
type VotingSessionRecord struct {
	SessionID        string    `json:"session_id"`
	Topic            string    `json:"topic"`
	Quorum           int       `json:"quorum"`
	CastVotes        int       `json:"cast_votes"`
	WinningOption    string    `json:"winning_option,omitempty"`
	ConsensusReached bool      `json:"consensus_reached"`
	CreatedAt        time.Time `json:"created_at"`
	ClosedAt         time.Time `json:"closed_at"`
}

// HandoffStateRecord is the durable form of a handoff record transition.
type HandoffStateRecord struct {
	HandoffID      string    `json:"handoff_id"`
	SourceAgentID  string    `json:"source_agent_id"`
	TargetAgentID  string    `json:"target_agent_id"`
	TaskID         string    `json:"task_id"`
	Status         string    `json:"status"`
	CompressedSize int       `json:"compressed_size"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// WorkflowRunRecord is the durable form of one workflow execution.
type WorkflowRunRecord struct {
	RunID         string    `json:"run_id"`
	Success       bool      `json:"success"`
	ExecutionPath []string  `json:"execution_path"`
	Error         string    `json:"error,omitempty"`
	FinishedAt    time.Time `json:"finished_at"`
}

// Store is the durable storage collaborator consumed by the core. Save calls
// upsert by primary ID so repeated transitions of the same record overwrite.
type Store interface {
	SaveVotingSession(ctx context.Context, rec VotingSessionRecord) error
	GetVotingSession(ctx context.Context, sessionID string) (*VotingSessionRecord, error)

	SaveHandoffState(ctx context.Context, rec HandoffStateRecord) error
	GetHandoffState(ctx context.Context, handoffID string) (*HandoffStateRecord, error)

	SaveWorkflowRun(ctx context.Context, rec WorkflowRunRecord) error
	GetWorkflowRun(ctx context.Context, runID string) (*WorkflowRunRecord, error)

	Close() error
}

// msToTime converts epoch milliseconds back to time.Time.
func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}
