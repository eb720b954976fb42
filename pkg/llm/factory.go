package llm

import "github.com/vibeforge/vibeforge/pkg/config"

// NewClientFromConfig selects the client implementation for the configured
// mode. Unrecognized modes get the stub, the no-spend default.
func NewClientFromConfig(cfg config.LLMConfig) Client {
	switch cfg.Mode {
	case config.LLMModeDryRun:
		return DryRunClient{}
	default:
		return StubClient{}
	}
}

// NewGeneratorFromConfig assembles the full generator stack from config.
func NewGeneratorFromConfig(cfg config.LLMConfig) *Generator {
	return NewGenerator(NewClientFromConfig(cfg), cfg.DefaultModel, NewPricing(cfg.Pricing))
}
