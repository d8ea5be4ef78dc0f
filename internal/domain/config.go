package domain

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `yaml:"server"`

	// Tier determines which backends are used
	Tier Tier `yaml:"tier"`

	// Component configurations
	Repository RepositoryConfig `yaml:"repository"`
	Cache      CacheConfig      `yaml:"cache"`
	EventBus   EventBusConfig   `yaml:"eventBus"`
	Worker     WorkerConfig     `yaml:"worker"`

	// Engine tuning
	Sampling SamplingConfig `yaml:"sampling"`

	// Observability
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"readTimeout"`  // seconds
	WriteTimeout int    `yaml:"writeTimeout"` // seconds
}

// WorkerConfig controls the asynchronous sampling worker.
type WorkerConfig struct {
	Enabled     bool     `yaml:"enabled"`
	TenantIDs   []string `yaml:"tenantIds"`
	WorkerCount int      `yaml:"workerCount"`
}

// SamplingConfig tunes the sample size planner, the risk annotator and result caching.
type SamplingConfig struct {
	// Reliability factors by confidence level (zero expected misstatement).
	ReliabilityFactors map[int]float64 `yaml:"reliabilityFactors"`

	// Expansion factors by confidence level, applied to expected misstatement in MUS.
	ExpansionFactors map[int]float64 `yaml:"expansionFactors"`

	// ControlSizeCap bounds the attributes-sampling search.
	ControlSizeCap int `yaml:"controlSizeCap"`

	// Risk score weights; AmountWeight + IndicatorWeight must not exceed 1.
	AmountWeight    float64 `yaml:"amountWeight"`
	IndicatorWeight float64 `yaml:"indicatorWeight"`

	// IndicatorScores maps a risk indicator to its [0,1] score.
	IndicatorScores map[RiskIndicator]float64 `yaml:"indicatorScores"`

	// HighRiskRules are optional CEL predicates that force extra transactions into the sample.
	HighRiskRules []HighRiskRule `yaml:"highRiskRules"`

	// ResultTTL is how long a computed run stays in the result cache.
	ResultTTL time.Duration `yaml:"resultTtl"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"serviceName"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + in-memory cache + channels
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + Redis + NATS
	TierPro Tier = "pro"
)

// DefaultSamplingConfig returns the published AICPA-aligned factor table and default risk weights.
func DefaultSamplingConfig() SamplingConfig {
	return SamplingConfig{
		ReliabilityFactors: map[int]float64{90: 2.31, 95: 3.00, 99: 4.61},
		ExpansionFactors:   map[int]float64{90: 1.5, 95: 1.6, 99: 1.9},
		ControlSizeCap:     10000,
		AmountWeight:       0.6,
		IndicatorWeight:    0.4,
		IndicatorScores: map[RiskIndicator]float64{
			RiskHigh:   1.0,
			RiskMedium: 0.5,
			RiskLow:    0.2,
		},
		ResultTTL: 10 * time.Minute,
	}
}

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Worker: WorkerConfig{
			WorkerCount: 4,
		},
		Sampling: DefaultSamplingConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Worker.Enabled = true
	cfg.Tracing.Enabled = true
	return cfg
}

// LoadConfig builds the effective configuration: tier defaults, then the YAML
// file at path (or $KESTREL_CONFIG), then environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if Tier(os.Getenv("KESTREL_TIER")) == TierPro {
		cfg = ProConfig()
	}

	if path == "" {
		path = os.Getenv("KESTREL_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("KESTREL_DEBUG"); v != "" {
		if debug, err := strconv.ParseBool(v); err == nil && debug {
			cfg.Logging.Level = "debug"
		}
	}
	if v := os.Getenv("KESTREL_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("KESTREL_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("KESTREL_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
	if v := os.Getenv("KESTREL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("KESTREL_TENANTS"); v != "" {
		cfg.Worker.TenantIDs = strings.Split(v, ",")
	}
}

// Validate checks settings that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("%w: unsupported repository driver %q", ErrInvalidInput, c.Repository.Driver)
	}
	switch c.Cache.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("%w: unsupported cache type %q", ErrInvalidInput, c.Cache.Type)
	}
	switch c.EventBus.Type {
	case "channel", "nats":
	default:
		return fmt.Errorf("%w: unsupported event bus type %q", ErrInvalidInput, c.EventBus.Type)
	}

	s := c.Sampling
	if s.AmountWeight < 0 || s.IndicatorWeight < 0 || s.AmountWeight+s.IndicatorWeight > 1 {
		return fmt.Errorf("%w: risk weights must be non-negative and sum to at most 1", ErrInvalidInput)
	}
	for ind, score := range s.IndicatorScores {
		if score < 0 || score > 1 {
			return fmt.Errorf("%w: indicator score for %q must be within [0,1]", ErrInvalidInput, ind)
		}
	}
	if s.ControlSizeCap <= 0 {
		return fmt.Errorf("%w: controlSizeCap must be positive", ErrInvalidInput)
	}
	return nil
}
