// Package llm produces agent replies and pipeline artifacts. The service
// never talks to a paid provider directly: the stub client fabricates
// deterministic text and the dry-run client adds realistic token estimates
// on top, so every environment runs with zero spend by default.
package llm

import "context"

// Message roles in a completion request.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Client names, matching the configured llm.mode values.
const (
	StubClientName   = "stub"
	DryRunClientName = "dry_run"
)

// Client is the completion capability consumed by the response generator.
type Client interface {
	// Complete produces one assistant turn for the request. Implementations
	// must be safe for concurrent use.
	Complete(ctx context.Context, req Request) (Response, error)

	// Name identifies the implementation, e.g. "stub" or "dry_run".
	Name() string
}

// ChatMessage is one turn in a completion request.
type ChatMessage struct {
	Role    string
	Content string
}

// Request is a full conversation handed to a client.
type Request struct {
	Model    string
	Messages []ChatMessage
}

// Usage reports token consumption for one completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Total returns the combined token count.
func (u Usage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

// Response is the result of one completion.
type Response struct {
	Text  string
	Usage Usage
}
