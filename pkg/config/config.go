// Package config loads and validates service configuration from a YAML file
// merged over built-in defaults, with a small set of environment overrides
// for deployment-sensitive values.
package config

import (
	"errors"
	"time"
)

// ErrConfigNotFound indicates the configuration file does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// ErrInvalidYAML indicates the configuration file failed to parse.
var ErrInvalidYAML = errors.New("invalid YAML")

// Config is the full service configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Workspace  WorkspaceConfig  `yaml:"workspace"`
	Simulation SimulationConfig `yaml:"simulation"`
	Remote     RemoteConfig     `yaml:"remote"`
	LLM        LLMConfig        `yaml:"llm"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// WorkspaceConfig holds the on-disk session workspace settings.
type WorkspaceConfig struct {
	// Root is the directory under which each session keeps its repo/,
	// artifacts/ and events.jsonl.
	Root string `yaml:"root"`
}

// SimulationConfig holds per-session simulation defaults. Each value can be
// overridden per session through the simulation config endpoint.
type SimulationConfig struct {
	MaxCostUSD      float64 `yaml:"max_cost_usd"`
	TickRateLimitMS int     `yaml:"tick_rate_limit_ms"`
	MaxHistoryDepth int     `yaml:"max_history_depth"`
	AutoDelayMS     int     `yaml:"auto_delay_ms"`
}

// RemoteConfig holds remote agent connection settings.
type RemoteConfig struct {
	// HeartbeatTimeout is how long a connection may go without a heartbeat
	// before the monitor closes it.
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	// HeartbeatInterval is how often the monitor scans connections.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	// DispatchTimeout is how long a pending dispatch may wait for its
	// response before the sweep resolves it as an error.
	DispatchTimeout time.Duration `yaml:"dispatch_timeout"`
	// WriteTimeout bounds each frame write on the duplex channel.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LLMConfig holds LLM client selection and pricing.
type LLMConfig struct {
	// Mode selects the client implementation: "stub" or "dry_run".
	Mode string `yaml:"mode"`
	// DefaultModel is used when a roster agent has no model_id assigned.
	DefaultModel string `yaml:"default_model"`
	// Pricing maps model_id to per-million-token USD rates. Models absent
	// from the table contribute zero cost.
	Pricing map[string]ModelPrice `yaml:"pricing"`
}

// ModelPrice is the per-million-token price for one model.
type ModelPrice struct {
	PromptUSDPerMillion     float64 `yaml:"prompt_usd_per_million"`
	CompletionUSDPerMillion float64 `yaml:"completion_usd_per_million"`
}

// LoggingConfig holds slog settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
}

// LLM mode values.
const (
	LLMModeStub   = "stub"
	LLMModeDryRun = "dry_run"
)
