package llm

import (
	"context"
	"fmt"
)

// DryRunClient fabricates completions like the stub but reports realistic
// token usage, so cost tracking and guardrails can be exercised end to end
// without spending anything.
type DryRunClient struct{}

func (DryRunClient) Name() string { return DryRunClientName }

// Complete returns a placeholder completion with estimated usage. Prompt
// tokens are counted over every request message; completion tokens over the
// fabricated text.
func (DryRunClient) Complete(_ context.Context, req Request) (Response, error) {
	prompt := 0
	for _, m := range req.Messages {
		prompt += CountTokens(m.Content)
	}

	var last string
	if n := len(req.Messages); n > 0 {
		last = req.Messages[n-1].Content
	}
	text := fmt.Sprintf("[DRY RUN] %s completion (%s)", req.Model, hashPrefix([]byte(last)))

	return Response{
		Text: text,
		Usage: Usage{
			PromptTokens:     prompt,
			CompletionTokens: CountTokens(text),
		},
	}, nil
}
