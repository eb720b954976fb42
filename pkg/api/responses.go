package api

import (
	"time"

	"github.com/vibeforge/vibeforge/pkg/models"
	"github.com/vibeforge/vibeforge/pkg/remote"
)

// sessionSummary is one row of GET /control/sessions.
type sessionSummary struct {
	ID         string            `json:"id"`
	Phase      models.Phase      `json:"phase"`
	TickIndex  int               `json:"tick_index"`
	TickStatus models.TickStatus `json:"tick_status"`
	CreatedAt  time.Time         `json:"created_at"`
	Agents     int               `json:"agents"`
}

// registerAgentResponse is returned by POST /control/agents/register. The
// registration is provisional: the agent goes live when it connects to WSURL
// and sends a register frame carrying the allocated session id.
type registerAgentResponse struct {
	AgentID   string `json:"agent_id"`
	SessionID string `json:"session_id"`
	WSURL     string `json:"ws_url"`
	Message   string `json:"message"`
}

// dispatchResponse carries a remote agent's reply to a direct dispatch.
type dispatchResponse struct {
	MessageID  string               `json:"message_id"`
	AgentID    string               `json:"agent_id"`
	SessionID  string               `json:"session_id"`
	Content    string               `json:"content,omitempty"`
	Usage      *remote.UsagePayload `json:"usage,omitempty"`
	Error      string               `json:"error,omitempty"`
	DurationMS int64                `json:"duration_ms"`
}

// eventsResponse wraps an event slice with its scope.
type eventsResponse struct {
	SessionID string         `json:"session_id,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	Count     int            `json:"count"`
	Events    []models.Event `json:"events"`
}

// healthResponse is returned by GET /healthz.
type healthResponse struct {
	Status     string         `json:"status"`
	Version    string         `json:"version"`
	Components map[string]int `json:"components"`
}
