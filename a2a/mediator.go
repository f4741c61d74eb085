// Package a2a mediates pairwise agent negotiation: a handshake establishes
// whether two agents can collaborate (protocol-version compatibility plus
// capability exchange), and accepted handshakes carry later state syncs.
package a2a

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/agentcoord/bus"
	"github.com/BaSui01/agentcoord/types"
)

// SyncType selects how shared state is applied during SyncState.
type SyncType string

const (
	// SyncFull replaces the target's view of shared state wholesale.
	SyncFull SyncType = "full"
	// SyncIncremental merges the provided state key by key.
	SyncIncremental SyncType = "incremental"
)

// HandshakeRequest asks the mediator to negotiate between two agents.
type HandshakeRequest struct {
	SourceAgentID string   `json:"source_agent_id"`
	TargetAgentID string   `json:"target_agent_id"`
	SourceVersion string   `json:"source_version"`
	TargetVersion string   `json:"target_version"`
	Capabilities  []string `json:"capabilities,omitempty"`
}

// HandshakeResult reports the negotiation outcome. Success means the
// mediator processed the request; Accepted means the parties agreed.
type HandshakeResult struct {
	Success         bool   `json:"success"`
	Accepted        bool   `json:"accepted"`
	HandshakeID     string `json:"handshake_id"`
	ProtocolVersion string `json:"protocol_version"`
}

// SyncRequest applies shared state over an accepted handshake.
type SyncRequest struct {
	HandshakeID string         `json:"handshake_id"`
	SyncType    SyncType       `json:"sync_type"`
	State       map[string]any `json:"state"`
}

// SyncResult reports a state sync outcome.
type SyncResult struct {
	Success bool `json:"success"`
}

// Mediator negotiates handshakes and tracks per-agent shared state. Sync
// traffic is paced by a rate limiter so a chatty agent pair cannot saturate
// the mediator.
type Mediator struct {
	mu         sync.Mutex
	handshakes map[string]*types.HandshakeRecord
	shared     map[string]map[string]any

	limiter *rate.Limiter
	bus     *bus.Bus
	logger  *zap.Logger
}

// Config configures a Mediator.
type Config struct {
	// SyncsPerSecond caps SyncState throughput; zero or less disables pacing.
	SyncsPerSecond float64 `yaml:"syncs_per_second"`
	// SyncBurst is the burst size for the sync limiter.
	SyncBurst int `yaml:"sync_burst"`
}

// DefaultConfig returns the default mediator configuration.
func DefaultConfig() Config {
	return Config{SyncsPerSecond: 100, SyncBurst: 20}
}

// NewMediator creates a handshake mediator. The bus may be nil.
func NewMediator(cfg Config, b *bus.Bus, logger *zap.Logger) *Mediator {
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if cfg.SyncsPerSecond > 0 {
		burst := cfg.SyncBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.SyncsPerSecond), burst)
	}
	return &Mediator{
		handshakes: make(map[string]*types.HandshakeRecord),
		shared:     make(map[string]map[string]any),
		limiter:    limiter,
		bus:        b,
		logger:     logger.With(zap.String("component", "handshake_mediator")),
	}
}

// InitiateHandshake negotiates protocol compatibility between two agents.
// A version mismatch is not a mediator failure: the request is processed
// (Success=true), the attempt is recorded, and Accepted is false.
func (m *Mediator) InitiateHandshake(req HandshakeRequest) (*HandshakeResult, error) {
	if req.SourceAgentID == "" || req.TargetAgentID == "" {
		return nil, types.NewError(types.ErrValidation, "handshake requires source and target agent ids")
	}
	if req.SourceVersion == "" || req.TargetVersion == "" {
		return nil, types.NewError(types.ErrValidation, "handshake requires both protocol versions")
	}

	accepted := compatibleVersions(req.SourceVersion, req.TargetVersion)

	record := &types.HandshakeRecord{
		HandshakeID:     uuid.New().String(),
		SourceAgentID:   req.SourceAgentID,
		TargetAgentID:   req.TargetAgentID,
		Capabilities:    append([]string(nil), req.Capabilities...),
		ProtocolVersion: req.SourceVersion,
		Accepted:        accepted,
		CreatedAt:       time.Now(),
	}

	m.mu.Lock()
	m.handshakes[record.HandshakeID] = record
	m.mu.Unlock()

	m.logger.Info("handshake initiated",
		zap.String("handshake_id", record.HandshakeID),
		zap.String("source", req.SourceAgentID),
		zap.String("target", req.TargetAgentID),
		zap.String("source_version", req.SourceVersion),
		zap.String("target_version", req.TargetVersion),
		zap.Bool("accepted", accepted),
	)
	if m.bus != nil {
		m.bus.Publish(bus.NewEvent(bus.EventHandshakeInitiated, "handshake_mediator", bus.HandshakeInitiatedPayload{
			HandshakeID:     record.HandshakeID,
			SourceAgentID:   req.SourceAgentID,
			TargetAgentID:   req.TargetAgentID,
			ProtocolVersion: req.SourceVersion,
			Accepted:        accepted,
		}))
	}

	return &HandshakeResult{
		Success:         true,
		Accepted:        accepted,
		HandshakeID:     record.HandshakeID,
		ProtocolVersion: req.SourceVersion,
	}, nil
}

// SyncState applies shared state to the target agent of a previously
// accepted handshake. Full syncs replace the target's view wholesale;
// incremental syncs merge key by key.
func (m *Mediator) SyncState(ctx context.Context, req SyncRequest) (*SyncResult, error) {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return nil, types.NewError(types.ErrInternal, "sync rate limit wait aborted").WithCause(err)
		}
	}

	m.mu.Lock()

	record, ok := m.handshakes[req.HandshakeID]
	if !ok {
		m.mu.Unlock()
		return nil, types.Errorf(types.ErrValidation, "handshake %s not found", req.HandshakeID)
	}
	if !record.Accepted {
		m.mu.Unlock()
		return nil, types.Errorf(types.ErrProtocol, "handshake %s was not accepted", req.HandshakeID)
	}

	switch req.SyncType {
	case SyncFull:
		replacement := make(map[string]any, len(req.State))
		for k, v := range req.State {
			replacement[k] = v
		}
		m.shared[record.TargetAgentID] = replacement
	case SyncIncremental:
		current := m.shared[record.TargetAgentID]
		if current == nil {
			current = make(map[string]any, len(req.State))
			m.shared[record.TargetAgentID] = current
		}
		for k, v := range req.State {
			current[k] = v
		}
	default:
		m.mu.Unlock()
		return nil, types.Errorf(types.ErrValidation, "unknown sync type %q", req.SyncType)
	}

	// Publish outside the lock; the synchronous bus may re-enter the
	// mediator through a subscriber.
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(bus.NewEvent(bus.EventHandshakeSynced, "handshake_mediator", bus.HandshakeSyncedPayload{
			HandshakeID: req.HandshakeID,
			SyncType:    string(req.SyncType),
			Keys:        len(req.State),
		}))
	}
	return &SyncResult{Success: true}, nil
}

// GetHandshake returns a copy of a handshake record.
func (m *Mediator) GetHandshake(handshakeID string) (types.HandshakeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.handshakes[handshakeID]
	if !ok {
		return types.HandshakeRecord{}, types.Errorf(types.ErrValidation, "handshake %s not found", handshakeID)
	}
	return *record, nil
}

// SharedState returns a copy of the mediator's view of an agent's shared
// state.
func (m *Mediator) SharedState(agentID string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]any, len(m.shared[agentID]))
	for k, v := range m.shared[agentID] {
		out[k] = v
	}
	return out
}

// compatibleVersions reports whether two protocol versions can interoperate:
// the major component must match.
func compatibleVersions(a, b string) bool {
	return majorVersion(a) == majorVersion(b)
}

func majorVersion(v string) string {
	if i := strings.IndexByte(v, '.'); i >= 0 {
		return v[:i]
	}
	return v
}
