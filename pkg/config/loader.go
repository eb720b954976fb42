package config

import (
	"fmt"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at path, merges it over the built-in defaults,
// applies environment overrides, and validates the result. An empty path
// skips the file and returns defaults plus overrides; the service runs
// fine without a config file.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
			}
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
		}
	}

	// Fill every unset field from the defaults.
	if err := mergo.Merge(cfg, Default()); err != nil {
		return nil, fmt.Errorf("failed to merge defaults: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	slog.Info("Configuration loaded",
		"path", path,
		"listen_addr", cfg.Server.ListenAddr,
		"workspace_root", cfg.Workspace.Root,
		"llm_mode", cfg.LLM.Mode,
		"priced_models", len(cfg.LLM.Pricing))

	return cfg, nil
}

// applyEnvOverrides applies deployment environment variables on top of the
// merged configuration. VIBEFORGE_NO_SPEND=1 wins over everything: it forces
// the stub client so no call can spend money.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VIBEFORGE_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("VIBEFORGE_WORKSPACE_ROOT"); v != "" {
		cfg.Workspace.Root = v
	}
	if v := os.Getenv("VIBEFORGE_LLM_MODE"); v != "" {
		cfg.LLM.Mode = v
	}
	if os.Getenv("VIBEFORGE_NO_SPEND") == "1" {
		cfg.LLM.Mode = LLMModeStub
	}
}

func validate(cfg *Config) error {
	if cfg.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr must be set")
	}
	if cfg.Workspace.Root == "" {
		return fmt.Errorf("workspace.root must be set")
	}
	switch cfg.LLM.Mode {
	case LLMModeStub, LLMModeDryRun:
	default:
		return fmt.Errorf("llm.mode must be %q or %q, got %q", LLMModeStub, LLMModeDryRun, cfg.LLM.Mode)
	}
	if cfg.Remote.HeartbeatTimeout <= 0 {
		return fmt.Errorf("remote.heartbeat_timeout must be positive")
	}
	if cfg.Remote.HeartbeatInterval <= 0 {
		return fmt.Errorf("remote.heartbeat_interval must be positive")
	}
	if cfg.Remote.DispatchTimeout <= 0 {
		return fmt.Errorf("remote.dispatch_timeout must be positive")
	}
	if cfg.Simulation.MaxCostUSD < 0 {
		return fmt.Errorf("simulation.max_cost_usd must not be negative")
	}
	for model, price := range cfg.LLM.Pricing {
		if price.PromptUSDPerMillion < 0 || price.CompletionUSDPerMillion < 0 {
			return fmt.Errorf("llm.pricing[%s]: rates must not be negative", model)
		}
	}
	return nil
}
