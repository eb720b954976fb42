package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vibeforge/vibeforge/pkg/models"
)

// Generator assembles completion requests for roster agents: role prompt,
// conversation history, then the triggering content as the final user turn.
type Generator struct {
	client       Client
	defaultModel string
	pricing      Pricing
}

// NewGenerator builds a Generator around a client. defaultModel is used when
// neither the agent nor the session names a model.
func NewGenerator(client Client, defaultModel string, pricing Pricing) *Generator {
	return &Generator{client: client, defaultModel: defaultModel, pricing: pricing}
}

// ClientName reports which client implementation is wired in.
func (g *Generator) ClientName() string {
	return g.client.Name()
}

// DefaultModel returns the configured fallback model.
func (g *Generator) DefaultModel() string {
	return g.defaultModel
}

// Pricing exposes the price table for cost accounting by callers.
func (g *Generator) Pricing() Pricing {
	return g.pricing
}

// Respond produces agentID's reply to incoming. history is the agent's
// conversation before this message arrived; the incoming content is appended
// as the trailing user turn. Client errors propagate so the caller can fall
// back to a stub.
func (g *Generator) Respond(ctx context.Context, s *models.Session, agentID string, history []models.HistoryEntry, incoming models.MessageContent) (string, Usage, error) {
	agent := s.Agent(agentID)
	if agent == nil {
		return "", Usage{}, fmt.Errorf("agent %q not in roster", agentID)
	}

	messages := make([]ChatMessage, 0, len(history)+2)
	messages = append(messages, ChatMessage{Role: RoleSystem, Content: SystemPrompt(agent.Role)})
	for _, h := range history {
		messages = append(messages, ChatMessage{Role: h.Role, Content: h.Content})
	}
	messages = append(messages, ChatMessage{Role: RoleUser, Content: RenderContent(incoming)})

	resp, err := g.client.Complete(ctx, Request{
		Model:    g.modelFor(agent, s),
		Messages: messages,
	})
	if err != nil {
		return "", Usage{}, err
	}
	return resp.Text, resp.Usage, nil
}

// Generate runs one free-form completion. Used by the pre-simulation
// pipeline to produce artifacts outside any agent conversation.
func (g *Generator) Generate(ctx context.Context, model, systemPrompt, userPrompt string) (string, Usage, error) {
	if model == "" {
		model = g.defaultModel
	}
	resp, err := g.client.Complete(ctx, Request{
		Model: model,
		Messages: []ChatMessage{
			{Role: RoleSystem, Content: systemPrompt},
			{Role: RoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		return "", Usage{}, err
	}
	return resp.Text, resp.Usage, nil
}

// ModelFor resolves the model that Respond would use for the given agent.
func (g *Generator) ModelFor(s *models.Session, agentID string) string {
	if agent := s.Agent(agentID); agent != nil {
		return g.modelFor(agent, s)
	}
	if s.DefaultModel != "" {
		return s.DefaultModel
	}
	return g.defaultModel
}

// modelFor picks the agent's model, then the session default, then the
// configured default.
func (g *Generator) modelFor(agent *models.AgentRecord, s *models.Session) string {
	if agent.ModelID != "" {
		return agent.ModelID
	}
	if s.DefaultModel != "" {
		return s.DefaultModel
	}
	return g.defaultModel
}

// RenderContent serializes structured message content to the stable text
// form used in requests and history. Key order follows encoding/json's
// sorted map keys.
func RenderContent(c models.MessageContent) string {
	b, err := json.Marshal(c.Map())
	if err != nil {
		return c.Text
	}
	return string(b)
}
