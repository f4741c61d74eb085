package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/agentcoord/types"
)

const (
	redisKeyVoting   = "agentcoord:voting:"
	redisKeyHandoff  = "agentcoord:handoff:"
	redisKeyWorkflow = "agentcoord:workflow:"
)

// RedisStore persists coordination records as JSON values in Redis.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// RedisStoreConfig configures a RedisStore.
type RedisStoreConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// NewRedisStore connects to Redis and verifies the connection. A zero TTL
// keeps records forever.
func NewRedisStore(ctx context.Context, cfg RedisStoreConfig, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, types.NewError(types.ErrInternal, "failed to connect to redis").WithCause(err)
	}
	return &RedisStore{
		client: client,
		ttl:    cfg.TTL,
		logger: logger.With(zap.String("component", "redis_store")),
	}, nil
}

// SaveVotingSession upserts a closed voting session.
func (s *RedisStore) SaveVotingSession(ctx context.Context, rec VotingSessionRecord) error {
	return s.set(ctx, redisKeyVoting+rec.SessionID, rec)
}

// GetVotingSession loads a voting session, or nil when absent.
func (s *RedisStore) GetVotingSession(ctx context.Context, sessionID string) (*VotingSessionRecord, error) {
	var rec VotingSessionRecord
	ok, err := s.get(ctx, redisKeyVoting+sessionID, &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &rec, nil
}

// SaveHandoffState upserts a handoff state transition.
func (s *RedisStore) SaveHandoffState(ctx context.Context, rec HandoffStateRecord) error {
	return s.set(ctx, redisKeyHandoff+rec.HandoffID, rec)
}

// GetHandoffState loads a handoff state, or nil when absent.
func (s *RedisStore) GetHandoffState(ctx context.Context, handoffID string) (*HandoffStateRecord, error) {
	var rec HandoffStateRecord
	ok, err := s.get(ctx, redisKeyHandoff+handoffID, &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &rec, nil
}

// SaveWorkflowRun upserts one workflow execution.
func (s *RedisStore) SaveWorkflowRun(ctx context.Context, rec WorkflowRunRecord) error {
	return s.set(ctx, redisKeyWorkflow+rec.RunID, rec)
}

// GetWorkflowRun loads one workflow run, or nil when absent.
func (s *RedisStore) GetWorkflowRun(ctx context.Context, runID string) (*WorkflowRunRecord, error) {
	var rec WorkflowRunRecord
	ok, err := s.get(ctx, redisKeyWorkflow+runID, &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &rec, nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, s.ttl).Err()
}

func (s *RedisStore) get(ctx context.Context, key string, out any) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, err
	}
	return true, nil
}
