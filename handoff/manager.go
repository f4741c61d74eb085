// Package handoff transfers accumulated task context between agents exactly
// once. Initiation compresses and stores the context atomically; completion
// validates the target, decompresses, and consumes the record. Records reach
// a terminal state (completed or failed) and never leave it.
package handoff

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentcoord/bus"
	"github.com/BaSui01/agentcoord/internal/metrics"
	"github.com/BaSui01/agentcoord/persistence"
	"github.com/BaSui01/agentcoord/types"
)

// Request describes a handoff initiation.
type Request struct {
	SourceAgentID string         `json:"source_agent_id"`
	TargetAgentID string         `json:"target_agent_id"`
	TaskID        string         `json:"task_id"`
	Context       map[string]any `json:"context"`
}

// InitiateResult reports a successful initiation.
type InitiateResult struct {
	Success        bool   `json:"success"`
	HandoffID      string `json:"handoff_id"`
	CompressedSize int    `json:"compressed_size"`
}

// Manager owns handoff records and serializes their state transitions so
// that exactly one completion attempt can succeed per record.
type Manager struct {
	mu      sync.Mutex
	records map[string]*types.HandoffRecord

	compressor Compressor
	bus        *bus.Bus
	store      persistence.Store
	metrics    *metrics.Collector
	logger     *zap.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithStore attaches an optional persistence store; record transitions are
// saved best-effort.
func WithStore(store persistence.Store) ManagerOption {
	return func(m *Manager) { m.store = store }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(c *metrics.Collector) ManagerOption {
	return func(m *Manager) { m.metrics = c }
}

// NewManager creates a handoff manager. A nil compressor falls back to gzip
// at the default level; the bus may be nil.
func NewManager(compressor Compressor, b *bus.Bus, logger *zap.Logger, opts ...ManagerOption) *Manager {
	if compressor == nil {
		compressor = NewGzipCompressor(-1)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		records:    make(map[string]*types.HandoffRecord),
		compressor: compressor,
		bus:        b,
		logger:     logger.With(zap.String("component", "handoff_manager")),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// InitiateHandoff compresses the context payload and stores a pending
// record. Compression failure aborts the initiation with no partial record
// left behind.
func (m *Manager) InitiateHandoff(req Request) (*InitiateResult, error) {
	if req.SourceAgentID == "" || req.TargetAgentID == "" {
		return nil, types.NewError(types.ErrValidation, "handoff requires source and target agent ids")
	}
	if req.SourceAgentID == req.TargetAgentID {
		return nil, types.NewError(types.ErrValidation, "handoff source and target must differ")
	}
	if req.Context == nil {
		return nil, types.NewError(types.ErrValidation, "handoff context must not be nil")
	}

	raw, err := json.Marshal(req.Context)
	if err != nil {
		return nil, types.NewError(types.ErrValidation, "handoff context is not serializable").WithCause(err)
	}
	compressed, err := m.compressor.Compress(raw)
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "context compression failed").WithCause(err)
	}

	record := &types.HandoffRecord{
		HandoffID:         uuid.New().String(),
		SourceAgentID:     req.SourceAgentID,
		TargetAgentID:     req.TargetAgentID,
		TaskID:            req.TaskID,
		CompressedPayload: compressed,
		Status:            types.HandoffPending,
		CreatedAt:         time.Now(),
	}

	m.mu.Lock()
	m.records[record.HandoffID] = record
	snapshot := *record
	m.mu.Unlock()

	m.logger.Info("handoff initiated",
		zap.String("handoff_id", record.HandoffID),
		zap.String("source", req.SourceAgentID),
		zap.String("target", req.TargetAgentID),
		zap.Int("compressed_size", len(compressed)),
	)
	if m.bus != nil {
		m.bus.Publish(bus.NewEvent(bus.EventHandoffInitiated, "handoff_manager", bus.HandoffInitiatedPayload{
			HandoffID:      record.HandoffID,
			SourceAgentID:  req.SourceAgentID,
			TargetAgentID:  req.TargetAgentID,
			TaskID:         req.TaskID,
			CompressedSize: len(compressed),
		}))
	}
	m.metrics.RecordHandoff(string(types.HandoffPending))
	m.persist(snapshot)

	return &InitiateResult{
		Success:        true,
		HandoffID:      record.HandoffID,
		CompressedSize: len(compressed),
	}, nil
}

// CompleteHandoff consumes a pending handoff: it validates the record and
// the claiming agent, decompresses the stored context, and marks the record
// completed. The state transition is exactly-once; concurrent attempts are
// serialized and every attempt after the first fails with a conflict. Events
// and persistence happen after the lock is released, so a subscriber may
// call back into the manager.
func (m *Manager) CompleteHandoff(handoffID, targetAgentID string) (map[string]any, error) {
	m.mu.Lock()

	record, ok := m.records[handoffID]
	if !ok {
		m.mu.Unlock()
		return nil, types.Errorf(types.ErrValidation, "handoff %s not found", handoffID)
	}
	if record.Status.Terminal() {
		status := record.Status
		m.mu.Unlock()
		return nil, types.Errorf(types.ErrConflict, "handoff %s already %s", handoffID, status)
	}
	if record.TargetAgentID != targetAgentID {
		expected := record.TargetAgentID
		m.mu.Unlock()
		return nil, types.Errorf(types.ErrValidation,
			"handoff %s is addressed to agent %s, not %s", handoffID, expected, targetAgentID)
	}

	raw, err := m.compressor.Decompress(record.CompressedPayload)
	if err != nil {
		snapshot := m.sealLocked(record, types.HandoffFailed)
		m.mu.Unlock()
		m.announceFailure(snapshot, "decompression failed")
		return nil, types.NewError(types.ErrInternal, "context decompression failed").WithCause(err)
	}
	var restored map[string]any
	if err := json.Unmarshal(raw, &restored); err != nil {
		snapshot := m.sealLocked(record, types.HandoffFailed)
		m.mu.Unlock()
		m.announceFailure(snapshot, "payload corrupted")
		return nil, types.NewError(types.ErrInternal, "handoff payload corrupted").WithCause(err)
	}

	snapshot := m.sealLocked(record, types.HandoffCompleted)
	m.mu.Unlock()

	m.logger.Info("handoff completed",
		zap.String("handoff_id", handoffID),
		zap.String("target", targetAgentID),
	)
	if m.bus != nil {
		m.bus.Publish(bus.NewEvent(bus.EventHandoffCompleted, "handoff_manager", bus.HandoffCompletedPayload{
			HandoffID:     handoffID,
			TargetAgentID: targetAgentID,
		}))
	}
	m.metrics.RecordHandoff(string(types.HandoffCompleted))
	m.persist(snapshot)

	return restored, nil
}

// GetRecord returns a copy of a handoff record.
func (m *Manager) GetRecord(handoffID string) (types.HandoffRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[handoffID]
	if !ok {
		return types.HandoffRecord{}, types.Errorf(types.ErrValidation, "handoff %s not found", handoffID)
	}
	return *record, nil
}

// sealLocked moves a record to a terminal state and returns a copy for use
// after the lock is released. Caller holds m.mu.
func (m *Manager) sealLocked(record *types.HandoffRecord, status types.HandoffStatus) types.HandoffRecord {
	now := time.Now()
	record.Status = status
	record.CompletedAt = &now
	return *record
}

// announceFailure logs, publishes, and persists a failed terminal record.
// Called without m.mu held.
func (m *Manager) announceFailure(record types.HandoffRecord, reason string) {
	m.logger.Warn("handoff failed",
		zap.String("handoff_id", record.HandoffID),
		zap.String("reason", reason),
	)
	if m.bus != nil {
		m.bus.Publish(bus.NewEvent(bus.EventHandoffFailed, "handoff_manager", bus.HandoffFailedPayload{
			HandoffID: record.HandoffID,
			Reason:    reason,
		}))
	}
	m.metrics.RecordHandoff(string(types.HandoffFailed))
	m.persist(record)
}

// persist saves a record snapshot best-effort; store errors are logged,
// never propagated. Called without m.mu held.
func (m *Manager) persist(record types.HandoffRecord) {
	if m.store == nil {
		return
	}
	rec := persistence.HandoffStateRecord{
		HandoffID:      record.HandoffID,
		SourceAgentID:  record.SourceAgentID,
		TargetAgentID:  record.TargetAgentID,
		TaskID:         record.TaskID,
		Status:         string(record.Status),
		CompressedSize: len(record.CompressedPayload),
		UpdatedAt:      time.Now(),
	}
	if err := m.store.SaveHandoffState(context.Background(), rec); err != nil {
		m.logger.Warn("failed to persist handoff state",
			zap.String("handoff_id", record.HandoffID),
			zap.Error(err),
		)
	}
}
