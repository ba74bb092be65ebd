// Package config provides layered configuration loading for the kernel:
// built-in defaults, an optional config file, then environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates every component's typed configuration section.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	EventBus     EventBusConfig     `mapstructure:"eventBus"`
	Agent        AgentPoolConfig    `mapstructure:"agent"`
	Task         TaskConfig         `mapstructure:"task"`
	Swarm        SwarmConfig        `mapstructure:"swarm"`
	Memory       MemoryConfig       `mapstructure:"memory"`
	MCPServer    MCPServerConfig    `mapstructure:"mcpServer"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Auth         AuthConfig         `mapstructure:"auth"`
	CORS         CORSConfig         `mapstructure:"cors"`
}

// ServerConfig holds the HTTP transport's listen configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // seconds
}

func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// EventBusConfig selects and tunes the event bus implementation.
type EventBusConfig struct {
	// Backend is "memory" (default) or "nats".
	Backend string `mapstructure:"backend"`
	NATSURL string `mapstructure:"natsUrl"`
}

// AgentPoolConfig bounds the agent pool and its health monitor.
type AgentPoolConfig struct {
	MaxConcurrentAgents int     `mapstructure:"maxConcurrentAgents"`
	HealthCheckInterval int     `mapstructure:"healthCheckIntervalSec"`
	DegradedErrorRate   float64 `mapstructure:"degradedErrorRate"`
	UnhealthyErrorRate  float64 `mapstructure:"unhealthyErrorRate"`
}

// TaskConfig bounds the task queue's admission policy.
type TaskConfig struct {
	SoftLimit  int `mapstructure:"softLimit"`
	HardLimit  int `mapstructure:"hardLimit"`
	MaxRetries int `mapstructure:"maxRetries"`
}

// SwarmConfig controls the default swarm topology and consensus tuning.
type SwarmConfig struct {
	Topology          string  `mapstructure:"topology"`
	ConsensusStrategy string  `mapstructure:"consensusStrategy"` // "quorum-vote" or "raft-like"
	ConsensusQuorum   float64 `mapstructure:"consensusQuorum"`   // fraction, e.g. 0.5
	ConsensusTimeout  int     `mapstructure:"consensusTimeoutSec"`
	InboxCapacity     int     `mapstructure:"inboxCapacity"`
}

// MemoryConfig names the memory backend plugins should resolve by name.
type MemoryConfig struct {
	Backend string `mapstructure:"backend"` // sqlite, agentdb, hybrid, redis, memory
	DataDir string `mapstructure:"dataDir"`
}

// MCPServerConfig controls which MCP transport cmd/flow-kernel exposes.
type MCPServerConfig struct {
	Transport string `mapstructure:"transport"` // stdio, http, websocket
	Port      int    `mapstructure:"port"`
}

// OrchestratorConfig tunes plugin and shutdown timeouts.
type OrchestratorConfig struct {
	PluginInitTimeoutSec     int `mapstructure:"pluginInitTimeoutSec"`
	PluginShutdownTimeoutSec int `mapstructure:"pluginShutdownTimeoutSec"`
	DrainTimeoutSec          int `mapstructure:"drainTimeoutSec"`
}

// LoggingConfig controls the zap-backed logger.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// AuthConfig holds the bearer-token allow-list. Empty Tokens means
// development mode (no authentication enforced).
type AuthConfig struct {
	Tokens []string `mapstructure:"tokens"`
}

// CORSConfig holds the cross-origin allow-list. Empty means no non-empty
// Origin header is ever accepted.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("CLAUDE_FLOW_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("eventBus.backend", "memory")
	v.SetDefault("eventBus.natsUrl", "")

	v.SetDefault("agent.maxConcurrentAgents", 50)
	v.SetDefault("agent.healthCheckIntervalSec", 30)
	v.SetDefault("agent.degradedErrorRate", 0.2)
	v.SetDefault("agent.unhealthyErrorRate", 0.5)

	v.SetDefault("task.softLimit", 500)
	v.SetDefault("task.hardLimit", 1000)
	v.SetDefault("task.maxRetries", 3)

	v.SetDefault("swarm.topology", "hierarchical")
	v.SetDefault("swarm.consensusStrategy", "quorum-vote")
	v.SetDefault("swarm.consensusQuorum", 0.5)
	v.SetDefault("swarm.consensusTimeoutSec", 30)
	v.SetDefault("swarm.inboxCapacity", 256)

	v.SetDefault("memory.backend", "memory")
	v.SetDefault("memory.dataDir", "./.claude-flow/data")

	v.SetDefault("mcpServer.transport", "stdio")
	v.SetDefault("mcpServer.port", 9090)

	v.SetDefault("orchestrator.pluginInitTimeoutSec", 30)
	v.SetDefault("orchestrator.pluginShutdownTimeoutSec", 10)
	v.SetDefault("orchestrator.drainTimeoutSec", 30)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("auth.tokens", []string{})
	v.SetDefault("cors.allowedOrigins", []string{})
}

// Load reads configuration from built-in defaults, the default search path
// and the environment; the environment overrides the file, which overrides
// the defaults.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath behaves like Load but adds configPath to the config file
// search list with highest priority.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CLAUDE_FLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("agent.maxConcurrentAgents", "CLAUDE_FLOW_MAX_AGENTS")
	_ = v.BindEnv("memory.dataDir", "CLAUDE_FLOW_DATA_DIR")
	_ = v.BindEnv("memory.backend", "CLAUDE_FLOW_MEMORY_TYPE")
	_ = v.BindEnv("mcpServer.transport", "CLAUDE_FLOW_MCP_TRANSPORT")
	_ = v.BindEnv("mcpServer.port", "CLAUDE_FLOW_MCP_PORT")
	_ = v.BindEnv("swarm.topology", "CLAUDE_FLOW_SWARM_TOPOLOGY")

	v.SetConfigType("json")
	for _, name := range []string{"claude-flow.config", "claude-flow", ".claude-flow"} {
		v.SetConfigName(name)
		if configPath != "" {
			v.AddConfigPath(configPath)
		}
		v.AddConfigPath(".")
		v.AddConfigPath("..")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "claude-flow"))
		}
		if err := v.ReadInConfig(); err == nil {
			break
		} else if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if errs := validate(&cfg); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	return &cfg, nil
}

// ConfigError is one structured validation failure.
type ConfigError struct {
	Path    string
	Code    string
	Message string
}

// ValidationError aggregates every ConfigError found while validating a
// loaded Config. Invalid values fail loading outright; they are never
// silently coerced.
type ValidationError struct {
	Errors []ConfigError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, ce := range e.Errors {
		parts[i] = fmt.Sprintf("%s: %s (%s)", ce.Path, ce.Message, ce.Code)
	}
	return "config validation failed: " + strings.Join(parts, "; ")
}

func validate(cfg *Config) []ConfigError {
	var errs []ConfigError

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, ConfigError{"server.port", "out_of_range", "must be between 1 and 65535"})
	}
	if cfg.Agent.MaxConcurrentAgents <= 0 {
		errs = append(errs, ConfigError{"agent.maxConcurrentAgents", "invalid", "must be positive"})
	}
	if cfg.Task.HardLimit < cfg.Task.SoftLimit {
		errs = append(errs, ConfigError{"task.hardLimit", "invalid", "must be >= task.softLimit"})
	}
	validTopologies := map[string]bool{"hierarchical": true, "mesh": true, "ring": true, "star": true, "hierarchical-mesh": true, "adaptive": true}
	if !validTopologies[cfg.Swarm.Topology] {
		errs = append(errs, ConfigError{"swarm.topology", "invalid", "unrecognized topology"})
	}
	validConsensus := map[string]bool{"quorum-vote": true, "raft-like": true}
	if !validConsensus[cfg.Swarm.ConsensusStrategy] {
		errs = append(errs, ConfigError{"swarm.consensusStrategy", "invalid", "unrecognized consensus strategy"})
	}
	validMemory := map[string]bool{"sqlite": true, "agentdb": true, "hybrid": true, "redis": true, "memory": true}
	if !validMemory[cfg.Memory.Backend] {
		errs = append(errs, ConfigError{"memory.backend", "invalid", "unrecognized memory backend"})
	}
	validTransport := map[string]bool{"stdio": true, "http": true, "websocket": true}
	if !validTransport[cfg.MCPServer.Transport] {
		errs = append(errs, ConfigError{"mcpServer.transport", "invalid", "unrecognized mcp transport"})
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, ConfigError{"logging.level", "invalid", "must be one of: debug, info, warn, error"})
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, ConfigError{"logging.format", "invalid", "must be one of: json, text"})
	}
	if cfg.EventBus.Backend == "nats" && cfg.EventBus.NATSURL == "" {
		errs = append(errs, ConfigError{"eventBus.natsUrl", "required", "required when eventBus.backend is nats"})
	}

	return errs
}
