package llm

import "github.com/vibeforge/vibeforge/pkg/config"

// Pricing computes USD cost from token usage using per-million-token rates.
type Pricing struct {
	table map[string]config.ModelPrice
}

// NewPricing wraps a model price table, usually config.LLM.Pricing.
func NewPricing(table map[string]config.ModelPrice) Pricing {
	return Pricing{table: table}
}

// Cost returns the USD cost of one completion. Models absent from the table
// contribute zero.
func (p Pricing) Cost(model string, u Usage) float64 {
	price, ok := p.table[model]
	if !ok {
		return 0
	}
	promptCost := (float64(u.PromptTokens) / 1_000_000) * price.PromptUSDPerMillion
	completionCost := (float64(u.CompletionTokens) / 1_000_000) * price.CompletionUSDPerMillion
	return promptCost + completionCost
}

// Known reports whether the model has a price entry.
func (p Pricing) Known(model string) bool {
	_, ok := p.table[model]
	return ok
}
