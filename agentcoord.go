// Package agentcoord provides a top-level entry point that wires the
// coordination core together: one event bus, one agent registry, and the
// router, voting engine, handoff manager, and handshake mediator that share
// them.
//
// Usage:
//
//	core, err := agentcoord.New()
//	core, err := agentcoord.New(agentcoord.WithConfigPath("agentcoord.yaml"))
//	core, err := agentcoord.New(agentcoord.WithLogger(logger))
//
// Every core owns its own bus instance; multiple independent cores can run in
// one process without cross-talk.
package agentcoord

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentcoord/a2a"
	"github.com/BaSui01/agentcoord/bus"
	"github.com/BaSui01/agentcoord/config"
	"github.com/BaSui01/agentcoord/handoff"
	"github.com/BaSui01/agentcoord/internal/metrics"
	"github.com/BaSui01/agentcoord/persistence"
	"github.com/BaSui01/agentcoord/registry"
	"github.com/BaSui01/agentcoord/router"
	"github.com/BaSui01/agentcoord/types"
	"github.com/BaSui01/agentcoord/voting"
	"github.com/BaSui01/agentcoord/workflow"
)

// Core bundles one coordination core: an event bus, an agent registry, and
// the components that share them.
type Core struct {
	cfg     *config.Config
	logger  *zap.Logger
	bus     *bus.Bus
	reg     *registry.Registry
	router  *router.Router
	voting  *voting.Engine
	handoff *handoff.Manager
	a2a     *a2a.Mediator

	store   persistence.Store
	metrics *metrics.Collector
	promReg prometheus.Registerer
	invoker workflow.AgentInvoker
}

// Option configures the core created by [New].
type Option func(*Core)

// WithConfig uses a pre-loaded configuration.
func WithConfig(cfg *config.Config) Option {
	return func(c *Core) { c.cfg = cfg }
}

// WithLogger sets a custom zap logger instead of building one from the log
// configuration.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Core) { c.logger = logger }
}

// WithStore overrides the persistence store regardless of the configured
// driver.
func WithStore(store persistence.Store) Option {
	return func(c *Core) { c.store = store }
}

// WithMetricsRegistry enables Prometheus metrics on the given registerer.
func WithMetricsRegistry(reg prometheus.Registerer) Option {
	return func(c *Core) { c.promReg = reg }
}

// WithInvoker sets the agent execution engine used by agent-kind workflow
// nodes.
func WithInvoker(inv workflow.AgentInvoker) Option {
	return func(c *Core) { c.invoker = inv }
}

// New builds a coordination core from the configuration.
func New(opts ...Option) (*Core, error) {
	c := &Core{cfg: config.DefaultConfig()}
	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		logger, err := buildLogger(c.cfg.Log)
		if err != nil {
			return nil, fmt.Errorf("failed to build logger: %w", err)
		}
		c.logger = logger
	}
	if c.promReg != nil {
		c.metrics = metrics.NewCollector("agentcoord", c.promReg, c.logger)
	}
	if c.store == nil {
		store, err := openStore(c.cfg.Persistence, c.logger)
		if err != nil {
			return nil, err
		}
		c.store = store
	}

	c.bus = bus.New(c.logger, bus.WithMetrics(c.metrics))
	c.reg = registry.New(c.bus, c.logger)

	c.router = router.New(c.reg, c.bus, c.logger,
		router.WithWeights(router.Weights{
			Expertise: c.cfg.Router.ExpertiseWeight,
			Capacity:  c.cfg.Router.CapacityWeight,
			Priority:  c.cfg.Router.PriorityWeight,
		}),
		router.WithMetrics(c.metrics),
	)

	votingOpts := []voting.EngineOption{voting.WithMetrics(c.metrics)}
	if c.store != nil {
		votingOpts = append(votingOpts, voting.WithStore(c.store))
	}
	c.voting = voting.New(c.reg, c.bus, c.logger, votingOpts...)

	handoffOpts := []handoff.ManagerOption{handoff.WithMetrics(c.metrics)}
	if c.store != nil {
		handoffOpts = append(handoffOpts, handoff.WithStore(c.store))
	}
	c.handoff = handoff.NewManager(
		handoff.NewGzipCompressor(c.cfg.Handoff.CompressionLevel),
		c.bus, c.logger, handoffOpts...,
	)

	c.a2a = a2a.NewMediator(a2a.Config{
		SyncsPerSecond: c.cfg.A2A.SyncsPerSecond,
		SyncBurst:      c.cfg.A2A.SyncBurst,
	}, c.bus, c.logger)

	return c, nil
}

// NewFromPath loads configuration from a YAML file and builds a core.
func NewFromPath(path string, opts ...Option) (*Core, error) {
	cfg, err := config.NewLoader().WithConfigPath(path).Load()
	if err != nil {
		return nil, err
	}
	return New(append([]Option{WithConfig(cfg)}, opts...)...)
}

// Bus returns the core's event bus.
func (c *Core) Bus() *bus.Bus { return c.bus }

// Registry returns the shared agent registry.
func (c *Core) Registry() *registry.Registry { return c.reg }

// Router returns the task router.
func (c *Core) Router() *router.Router { return c.router }

// Voting returns the consensus voting engine.
func (c *Core) Voting() *voting.Engine { return c.voting }

// Handoff returns the context handoff manager.
func (c *Core) Handoff() *handoff.Manager { return c.handoff }

// Mediator returns the A2A handshake mediator.
func (c *Core) Mediator() *a2a.Mediator { return c.a2a }

// Logger returns the core's logger.
func (c *Core) Logger() *zap.Logger { return c.logger }

// NewWorkflow creates a workflow orchestrator wired to the core's bus,
// metrics, store, and invoker, starting at initialNodeID.
func (c *Core) NewWorkflow(initialNodeID string, opts ...workflow.Option) *workflow.Orchestrator {
	base := []workflow.Option{
		workflow.WithMaxIterations(c.cfg.Workflow.MaxIterations),
		workflow.WithMetrics(c.metrics),
	}
	if c.invoker != nil {
		base = append(base, workflow.WithInvoker(c.invoker))
	}
	if c.store != nil {
		base = append(base, workflow.WithStore(c.store))
	}
	return workflow.NewOrchestrator(initialNodeID, c.bus, c.logger, append(base, opts...)...)
}

// WorkflowRun pairs an orchestrator with the initial context for one run.
type WorkflowRun struct {
	Orchestrator *workflow.Orchestrator
	Initial      map[string]any
}

// RunWorkflows executes independent workflows concurrently and returns their
// results in input order. Captured node failures land in the results; only
// fail-fast errors (missing initial node) abort the group.
func (c *Core) RunWorkflows(ctx context.Context, runs []WorkflowRun) ([]*types.WorkflowResult, error) {
	results := make([]*types.WorkflowResult, len(runs))
	g, ctx := errgroup.WithContext(ctx)
	for i, run := range runs {
		i, run := i, run
		g.Go(func() error {
			result, err := run.Orchestrator.ExecuteWorkflow(ctx, run.Initial)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Close releases the persistence store, if any.
func (c *Core) Close() error {
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func openStore(cfg config.PersistenceConfig, logger *zap.Logger) (persistence.Store, error) {
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "sqlite":
		return persistence.NewSQLiteStore(cfg.Path, logger)
	case "redis":
		return persistence.NewRedisStore(context.Background(), persistence.RedisStoreConfig{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown persistence driver %q", cfg.Driver)
	}
}
