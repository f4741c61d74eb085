package persistence

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/agentcoord/types"
)

// votingSessionModel is the gorm model for closed voting sessions.
type votingSessionModel struct {
	SessionID        string `gorm:"primaryKey;column:session_id"`
	Topic            string `gorm:"column:topic"`
	Quorum           int    `gorm:"column:quorum"`
	CastVotes        int    `gorm:"column:cast_votes"`
	WinningOption    string `gorm:"column:winning_option"`
	ConsensusReached bool   `gorm:"column:consensus_reached"`
	CreatedAt        int64  `gorm:"column:created_at"`
	ClosedAt         int64  `gorm:"column:closed_at"`
}

func (votingSessionModel) TableName() string { return "voting_sessions" }

// handoffStateModel is the gorm model for handoff state transitions.
type handoffStateModel struct {
	HandoffID      string `gorm:"primaryKey;column:handoff_id"`
	SourceAgentID  string `gorm:"column:source_agent_id"`
	TargetAgentID  string `gorm:"column:target_agent_id"`
	TaskID         string `gorm:"column:task_id"`
	Status         string `gorm:"column:status"`
	CompressedSize int    `gorm:"column:compressed_size"`
	UpdatedAt      int64  `gorm:"column:updated_at"`
}

func (handoffStateModel) TableName() string { return "handoff_states" }

// workflowRunModel is the gorm model for workflow executions. The execution
// path is stored as a JSON array.
type workflowRunModel struct {
	RunID         string `gorm:"primaryKey;column:run_id"`
	Success       bool   `gorm:"column:success"`
	ExecutionPath string `gorm:"column:execution_path"`
	Error         string `gorm:"column:error"`
	FinishedAt    int64  `gorm:"column:finished_at"`
}

func (workflowRunModel) TableName() string { return "workflow_runs" }

// SQLiteStore persists coordination records in a SQLite database via gorm.
type SQLiteStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSQLiteStore opens (and migrates) a SQLite-backed store at the given
// path. Use ":memory:" for an ephemeral database.
func NewSQLiteStore(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "failed to open sqlite store").WithCause(err)
	}
	if err := db.AutoMigrate(&votingSessionModel{}, &handoffStateModel{}, &workflowRunModel{}); err != nil {
		return nil, types.NewError(types.ErrInternal, "failed to migrate sqlite store").WithCause(err)
	}
	return &SQLiteStore{
		db:     db,
		logger: logger.With(zap.String("component", "sqlite_store")),
	}, nil
}

// SaveVotingSession upserts a closed voting session.
func (s *SQLiteStore) SaveVotingSession(ctx context.Context, rec VotingSessionRecord) error {
	model := votingSessionModel{
		SessionID:        rec.SessionID,
		Topic:            rec.Topic,
		Quorum:           rec.Quorum,
		CastVotes:        rec.CastVotes,
		WinningOption:    rec.WinningOption,
		ConsensusReached: rec.ConsensusReached,
		CreatedAt:        rec.CreatedAt.UnixMilli(),
		ClosedAt:         rec.ClosedAt.UnixMilli(),
	}
	return s.upsert(ctx, &model)
}

// GetVotingSession loads a voting session, or nil when absent.
func (s *SQLiteStore) GetVotingSession(ctx context.Context, sessionID string) (*VotingSessionRecord, error) {
	var model votingSessionModel
	err := s.db.WithContext(ctx).First(&model, "session_id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &VotingSessionRecord{
		SessionID:        model.SessionID,
		Topic:            model.Topic,
		Quorum:           model.Quorum,
		CastVotes:        model.CastVotes,
		WinningOption:    model.WinningOption,
		ConsensusReached: model.ConsensusReached,
		CreatedAt:        msToTime(model.CreatedAt),
		ClosedAt:         msToTime(model.ClosedAt),
	}, nil
}

// SaveHandoffState upserts a handoff state transition.
func (s *SQLiteStore) SaveHandoffState(ctx context.Context, rec HandoffStateRecord) error {
	model := handoffStateModel{
		HandoffID:      rec.HandoffID,
		SourceAgentID:  rec.SourceAgentID,
		TargetAgentID:  rec.TargetAgentID,
		TaskID:         rec.TaskID,
		Status:         rec.Status,
		CompressedSize: rec.CompressedSize,
		UpdatedAt:      rec.UpdatedAt.UnixMilli(),
	}
	return s.upsert(ctx, &model)
}

// GetHandoffState loads a handoff state, or nil when absent.
func (s *SQLiteStore) GetHandoffState(ctx context.Context, handoffID string) (*HandoffStateRecord, error) {
	var model handoffStateModel
	err := s.db.WithContext(ctx).First(&model, "handoff_id = ?", handoffID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &HandoffStateRecord{
		HandoffID:      model.HandoffID,
		SourceAgentID:  model.SourceAgentID,
		TargetAgentID:  model.TargetAgentID,
		TaskID:         model.TaskID,
		Status:         model.Status,
		CompressedSize: model.CompressedSize,
		UpdatedAt:      msToTime(model.UpdatedAt),
	}, nil
}

// SaveWorkflowRun upserts one workflow execution.
func (s *SQLiteStore) SaveWorkflowRun(ctx context.Context, rec WorkflowRunRecord) error {
	path, err := json.Marshal(rec.ExecutionPath)
	if err != nil {
		return err
	}
	model := workflowRunModel{
		RunID:         rec.RunID,
		Success:       rec.Success,
		ExecutionPath: string(path),
		Error:         rec.Error,
		FinishedAt:    rec.FinishedAt.UnixMilli(),
	}
	return s.upsert(ctx, &model)
}

// GetWorkflowRun loads one workflow run, or nil when absent.
func (s *SQLiteStore) GetWorkflowRun(ctx context.Context, runID string) (*WorkflowRunRecord, error) {
	var model workflowRunModel
	err := s.db.WithContext(ctx).First(&model, "run_id = ?", runID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var path []string
	if model.ExecutionPath != "" {
		if err := json.Unmarshal([]byte(model.ExecutionPath), &path); err != nil {
			return nil, err
		}
	}
	return &WorkflowRunRecord{
		RunID:         model.RunID,
		Success:       model.Success,
		ExecutionPath: path,
		Error:         model.Error,
		FinishedAt:    msToTime(model.FinishedAt),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

func (s *SQLiteStore) upsert(ctx context.Context, model any) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(model).Error
}
