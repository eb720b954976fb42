package api

import (
	"github.com/gin-gonic/gin"

	"github.com/vibeforge/vibeforge/pkg/models"
)

// bindOptionalJSON decodes the request body into v when one is present. An
// empty body leaves v at its zero value, so bodyless POSTs fall through to
// the service layer's own validation instead of failing on EOF.
func bindOptionalJSON(c *gin.Context, v any) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	return c.ShouldBindJSON(v)
}

type initAgentsRequest struct {
	Agents []models.AgentRecord `json:"agents"`
}

type assignAgentRequest struct {
	AgentID     string `json:"agent_id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	ModelID     string `json:"model_id"`
}

type setTaskRequest struct {
	MainTask string `json:"main_task"`
}

type setFlowsRequest struct {
	Edges []models.GraphEdge `json:"edges"`
}

type questionnaireRequest struct {
	Answers []models.QuestionnaireAnswer `json:"answers"`
}

// reviewPlanRequest uses a pointer so an explicit false survives decoding.
type reviewPlanRequest struct {
	Accepted *bool `json:"accepted"`
}

type failSessionRequest struct {
	Reason string `json:"reason"`
}

type startSimulationRequest struct {
	InitialPrompt string `json:"initial_prompt"`
	FirstAgentID  string `json:"first_agent_id"`
}

type resetSimulationRequest struct {
	PreserveWorkflow bool `json:"preserve_workflow"`
}

type pauseSimulationRequest struct {
	Reason string `json:"reason"`
}

type advanceTicksRequest struct {
	Count int `json:"count"`
}

type registerAgentRequest struct {
	AgentID      string         `json:"agent_id"`
	Capabilities []string       `json:"capabilities"`
	Workdir      string         `json:"workdir"`
	Metadata     map[string]any `json:"metadata"`
}

type dispatchRequest struct {
	Content string `json:"content"`
	Context map[string]any `json:"context"`

	// SessionID scopes the dispatch to a simulation session. Empty means
	// the agent's own session.
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
}

type followupRequest struct {
	Content string         `json:"content"`
	Context map[string]any `json:"context"`
}
