// Package voting implements quorum-based multi-agent consensus. Sessions are
// created open, accept last-vote-wins ballots, and close exactly once; the
// close transition is single-writer and its result is cached so repeated
// closes return the identical value.
package voting

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentcoord/bus"
	"github.com/BaSui01/agentcoord/internal/metrics"
	"github.com/BaSui01/agentcoord/persistence"
	"github.com/BaSui01/agentcoord/registry"
	"github.com/BaSui01/agentcoord/types"
)

// Algorithm selects how a session's votes are tallied at close time.
type Algorithm string

const (
	// SimpleMajority picks the option with the most votes; an exact tie
	// yields no consensus.
	SimpleMajority Algorithm = "simple-majority"
	// WeightedMajority weighs each vote by the casting agent's declared
	// expertise breadth before tallying.
	WeightedMajority Algorithm = "weighted-majority"
	// Supermajority requires the leading option to hold at least the
	// threshold fraction of cast votes.
	Supermajority Algorithm = "supermajority"
)

// DefaultSupermajorityThreshold is the default fraction of cast votes the
// leading option must hold under the Supermajority algorithm.
const DefaultSupermajorityThreshold = 0.6

// maxAgentWeight caps the expertise-derived vote weight.
const maxAgentWeight = 2.0

// Option is one selectable choice in a voting session.
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
}

type session struct {
	id        string
	topic     string
	options   []Option
	optionIDs map[string]struct{}
	quorum    int
	votes     map[string]string
	status    types.VotingStatus
	result    *types.VoteResult
	createdAt time.Time
}

// Engine coordinates voting sessions over the shared agent registry.
type Engine struct {
	mu       sync.Mutex
	sessions map[string]*session

	registry *registry.Registry
	bus      *bus.Bus
	store    persistence.Store
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithStore attaches an optional persistence store; closed sessions are
// saved best-effort.
func WithStore(store persistence.Store) EngineOption {
	return func(e *Engine) { e.store = store }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(c *metrics.Collector) EngineOption {
	return func(e *Engine) { e.metrics = c }
}

// New creates a voting engine over the given registry. The bus may be nil.
func New(reg *registry.Registry, b *bus.Bus, logger *zap.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		sessions: make(map[string]*session),
		registry: reg,
		bus:      b,
		logger:   logger.With(zap.String("component", "voting_engine")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterAgent adds an agent to the shared registry.
func (e *Engine) RegisterAgent(agent types.Agent) error {
	return e.registry.Register(agent)
}

// CreateVotingSession opens a new session and returns its ID. A quorum of
// zero or less defaults to a strict majority of currently registered agents
// (at least one).
func (e *Engine) CreateVotingSession(topic string, options []Option, quorum int) (string, error) {
	if topic == "" {
		return "", types.NewError(types.ErrValidation, "voting topic must not be empty")
	}
	if len(options) == 0 {
		return "", types.NewError(types.ErrValidation, "voting session needs at least one option")
	}
	optionIDs := make(map[string]struct{}, len(options))
	for _, opt := range options {
		if opt.ID == "" {
			return "", types.NewError(types.ErrValidation, "option id must not be empty")
		}
		if _, dup := optionIDs[opt.ID]; dup {
			return "", types.Errorf(types.ErrValidation, "duplicate option id %q", opt.ID)
		}
		optionIDs[opt.ID] = struct{}{}
	}

	if quorum <= 0 {
		quorum = e.registry.Len()/2 + 1
	}

	s := &session{
		id:        uuid.New().String(),
		topic:     topic,
		options:   append([]Option(nil), options...),
		optionIDs: optionIDs,
		quorum:    quorum,
		votes:     make(map[string]string),
		status:    types.VotingOpen,
		createdAt: time.Now(),
	}

	e.mu.Lock()
	e.sessions[s.id] = s
	e.mu.Unlock()

	e.logger.Info("voting session opened",
		zap.String("session_id", s.id),
		zap.String("topic", topic),
		zap.Int("quorum", quorum),
	)
	if e.bus != nil {
		e.bus.Publish(bus.NewEvent(bus.EventVoteSessionOpened, "voting_engine", bus.VoteSessionOpenedPayload{
			SessionID: s.id,
			Topic:     topic,
			Quorum:    quorum,
			Options:   len(options),
		}))
	}
	return s.id, nil
}

// CastVote records a ballot. It returns false, with no state change, for an
// unknown session, a closed session, or an unknown option ID. A repeat vote
// from the same agent overwrites the previous one (last-vote-wins).
func (e *Engine) CastVote(sessionID, agentID, optionID string) bool {
	if agentID == "" {
		return false
	}

	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	if !ok || s.status == types.VotingClosed {
		e.mu.Unlock()
		return false
	}
	if _, ok := s.optionIDs[optionID]; !ok {
		e.mu.Unlock()
		return false
	}
	_, overwrite := s.votes[agentID]
	s.votes[agentID] = optionID
	e.mu.Unlock()

	if e.bus != nil {
		e.bus.Publish(bus.NewEvent(bus.EventVoteCast, "voting_engine", bus.VoteCastPayload{
			SessionID: sessionID,
			AgentID:   agentID,
			OptionID:  optionID,
			Overwrite: overwrite,
		}))
	}
	e.metrics.RecordVoteCast(sessionID)
	return true
}

// CloseVotingSession tallies the session and transitions it to closed. The
// caller may close early regardless of how many eligible votes remain
// uncast. Closing an already-closed session returns the cached result and
// never recomputes. A threshold of zero or less uses the algorithm default.
func (e *Engine) CloseVotingSession(sessionID string, algorithm Algorithm, threshold float64) (*types.VoteResult, error) {
	e.mu.Lock()

	s, ok := e.sessions[sessionID]
	if !ok {
		e.mu.Unlock()
		return nil, types.Errorf(types.ErrValidation, "voting session %s not found", sessionID)
	}
	if s.status == types.VotingClosed {
		result := s.result
		e.mu.Unlock()
		return result, nil
	}

	if algorithm == "" {
		algorithm = SimpleMajority
	}
	if threshold <= 0 {
		threshold = DefaultSupermajorityThreshold
	}

	result, err := e.tally(s, algorithm, threshold)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}

	s.status = types.VotingClosed
	s.result = result
	castVotes := len(s.votes)
	rec := persistence.VotingSessionRecord{
		SessionID:        s.id,
		Topic:            s.topic,
		Quorum:           s.quorum,
		CastVotes:        castVotes,
		WinningOption:    result.WinningOption,
		ConsensusReached: result.ConsensusReached,
		CreatedAt:        s.createdAt,
		ClosedAt:         time.Now(),
	}

	// Announce outside the lock: the bus delivers synchronously, and a
	// subscriber may call back into the engine.
	e.mu.Unlock()

	e.logger.Info("voting session closed",
		zap.String("session_id", sessionID),
		zap.String("algorithm", string(algorithm)),
		zap.Bool("consensus", result.ConsensusReached),
		zap.String("winning_option", result.WinningOption),
	)
	if e.bus != nil {
		e.bus.Publish(bus.NewEvent(bus.EventVoteSessionClosed, "voting_engine", bus.VoteSessionClosedPayload{
			SessionID:        sessionID,
			WinningOption:    result.WinningOption,
			ConsensusReached: result.ConsensusReached,
			CastVotes:        castVotes,
		}))
	}
	e.metrics.RecordSessionClosed(string(algorithm), result.ConsensusReached)
	e.persistClosed(rec)

	return result, nil
}

// tally computes the terminal result. Consensus is forced to false whenever
// the cast-vote count is below quorum, regardless of tally shape.
func (e *Engine) tally(s *session, algorithm Algorithm, threshold float64) (*types.VoteResult, error) {
	counts := make(map[string]int, len(s.options))
	for _, opt := range s.options {
		counts[opt.ID] = 0
	}
	for _, optionID := range s.votes {
		counts[optionID]++
	}

	var winner string
	var consensus bool
	switch algorithm {
	case SimpleMajority:
		winner, consensus = leaderByScore(s.options, func(id string) float64 { return float64(counts[id]) })
	case WeightedMajority:
		winner, consensus = e.weightedLeader(s)
	case Supermajority:
		var unique bool
		winner, unique = leaderByScore(s.options, func(id string) float64 { return float64(counts[id]) })
		consensus = unique && float64(counts[winner])/float64(len(s.votes)) >= threshold
	default:
		return nil, types.Errorf(types.ErrValidation, "unknown voting algorithm %q", algorithm)
	}

	if len(s.votes) < s.quorum {
		consensus = false
	}

	return &types.VoteResult{
		SessionID:        s.id,
		WinningOption:    winner,
		ConsensusReached: consensus,
		Tally:            counts,
	}, nil
}

// weightedLeader weighs each ballot by the casting agent's expertise breadth.
func (e *Engine) weightedLeader(s *session) (string, bool) {
	weights := make(map[string]float64, len(s.options))
	for agentID, optionID := range s.votes {
		weights[optionID] += e.agentWeight(agentID)
	}
	return leaderByScore(s.options, func(id string) float64 { return weights[id] })
}

// agentWeight derives a vote weight from declared expertise: one point base
// plus a tenth per expertise tag, capped. Unregistered voters weigh 1.
func (e *Engine) agentWeight(agentID string) float64 {
	if e.registry == nil {
		return 1.0
	}
	agent, ok := e.registry.Get(agentID)
	if !ok {
		return 1.0
	}
	w := 1.0 + 0.1*float64(len(agent.Expertise))
	if w > maxAgentWeight {
		w = maxAgentWeight
	}
	return w
}

// leaderByScore returns the option with the strictly highest score, in
// option order, and whether that leader is unique with a positive score.
func leaderByScore(options []Option, score func(string) float64) (string, bool) {
	var leader string
	best := -1.0
	unique := false
	for _, opt := range options {
		v := score(opt.ID)
		switch {
		case v > best:
			best = v
			leader = opt.ID
			unique = true
		case v == best:
			unique = false
		}
	}
	if !unique || best <= 0 {
		return "", false
	}
	return leader, true
}

func (e *Engine) persistClosed(rec persistence.VotingSessionRecord) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveVotingSession(context.Background(), rec); err != nil {
		e.logger.Warn("failed to persist voting session",
			zap.String("session_id", rec.SessionID),
			zap.Error(err),
		)
	}
}
