package config

import "time"

// Default returns the built-in configuration. Values here keep the service
// runnable with no config file at all.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Workspace: WorkspaceConfig{
			Root: "./workspaces",
		},
		Simulation: SimulationConfig{
			MaxCostUSD:      5.0,
			TickRateLimitMS: 1000,
			MaxHistoryDepth: 50,
			AutoDelayMS:     500,
		},
		Remote: RemoteConfig{
			HeartbeatTimeout:  30 * time.Second,
			HeartbeatInterval: 5 * time.Second,
			DispatchTimeout:   5 * time.Minute,
			WriteTimeout:      10 * time.Second,
		},
		LLM: LLMConfig{
			Mode:         LLMModeStub,
			DefaultModel: "gpt-4o-mini",
			Pricing: map[string]ModelPrice{
				"gpt-4o":        {PromptUSDPerMillion: 2.50, CompletionUSDPerMillion: 10.00},
				"gpt-4o-mini":   {PromptUSDPerMillion: 0.15, CompletionUSDPerMillion: 0.60},
				"o3-mini":       {PromptUSDPerMillion: 1.10, CompletionUSDPerMillion: 4.40},
				"claude-sonnet": {PromptUSDPerMillion: 3.00, CompletionUSDPerMillion: 15.00},
				"claude-haiku":  {PromptUSDPerMillion: 0.80, CompletionUSDPerMillion: 4.00},
			},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
