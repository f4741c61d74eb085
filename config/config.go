// Package config loads the coordination core's configuration with the
// precedence defaults → YAML file → environment variables.
package config

// Config is the complete configuration of a coordination core.
type Config struct {
	Router      RouterConfig      `yaml:"router" env:"ROUTER"`
	Voting      VotingConfig      `yaml:"voting" env:"VOTING"`
	Handoff     HandoffConfig     `yaml:"handoff" env:"HANDOFF"`
	Workflow    WorkflowConfig    `yaml:"workflow" env:"WORKFLOW"`
	A2A         A2AConfig         `yaml:"a2a" env:"A2A"`
	Persistence PersistenceConfig `yaml:"persistence" env:"PERSISTENCE"`
	Log         LogConfig         `yaml:"log" env:"LOG"`
}

// RouterConfig weights the task-routing score components. The three weights
// are normalized at use, so they only need to be non-negative.
type RouterConfig struct {
	ExpertiseWeight float64 `yaml:"expertise_weight" env:"EXPERTISE_WEIGHT"`
	CapacityWeight  float64 `yaml:"capacity_weight" env:"CAPACITY_WEIGHT"`
	PriorityWeight  float64 `yaml:"priority_weight" env:"PRIORITY_WEIGHT"`
}

// VotingConfig sets voting-session defaults.
type VotingConfig struct {
	// DefaultAlgorithm is used when a close call does not name one.
	DefaultAlgorithm string `yaml:"default_algorithm" env:"DEFAULT_ALGORITHM"`
	// SupermajorityThreshold is the vote share required by the
	// supermajority algorithm.
	SupermajorityThreshold float64 `yaml:"supermajority_threshold" env:"SUPERMAJORITY_THRESHOLD"`
}

// HandoffConfig sets context-handoff behavior.
type HandoffConfig struct {
	// CompressionLevel is the gzip level for handoff payloads; -1 is the
	// library default.
	CompressionLevel int `yaml:"compression_level" env:"COMPRESSION_LEVEL"`
}

// WorkflowConfig sets workflow-execution bounds.
type WorkflowConfig struct {
	MaxIterations int `yaml:"max_iterations" env:"MAX_ITERATIONS"`
}

// A2AConfig sets handshake and state-sync behavior.
type A2AConfig struct {
	// ProtocolVersion is the version this core advertises in handshakes.
	ProtocolVersion string  `yaml:"protocol_version" env:"PROTOCOL_VERSION"`
	SyncsPerSecond  float64 `yaml:"syncs_per_second" env:"SYNCS_PER_SECOND"`
	SyncBurst       int     `yaml:"sync_burst" env:"SYNC_BURST"`
}

// PersistenceConfig selects the optional durable store.
type PersistenceConfig struct {
	// Driver is "none", "sqlite", or "redis".
	Driver string `yaml:"driver" env:"DRIVER"`
	// Path is the sqlite database path.
	Path string `yaml:"path" env:"PATH"`
	// Addr is the redis address.
	Addr string `yaml:"addr" env:"ADDR"`
	// Password is the redis password.
	Password string `yaml:"password" env:"PASSWORD"`
	// DB is the redis database number.
	DB int `yaml:"db" env:"DB"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is json or console.
	Format string `yaml:"format" env:"FORMAT"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Router: RouterConfig{
			ExpertiseWeight: 0.5,
			CapacityWeight:  0.3,
			PriorityWeight:  0.2,
		},
		Voting: VotingConfig{
			DefaultAlgorithm:       "simple-majority",
			SupermajorityThreshold: 0.6,
		},
		Handoff: HandoffConfig{
			CompressionLevel: -1,
		},
		Workflow: WorkflowConfig{
			MaxIterations: 100,
		},
		A2A: A2AConfig{
			ProtocolVersion: "1.0",
			SyncsPerSecond:  100,
			SyncBurst:       20,
		},
		Persistence: PersistenceConfig{
			Driver: "none",
			Path:   "agentcoord.db",
			Addr:   "localhost:6379",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
