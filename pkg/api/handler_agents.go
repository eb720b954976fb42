package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vibeforge/vibeforge/pkg/models"
	"github.com/vibeforge/vibeforge/pkg/remote"
)

// registerAgentHandler handles POST /control/agents/register. This is the
// pre-registration step: it validates the payload and allocates the agent
// session id. The WebSocket register frame remains authoritative; the agent
// should echo the returned session id in its register metadata.
func (s *Server) registerAgentHandler(c *gin.Context) {
	var req registerAgentRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.AgentID) == "" {
		respondError(c, models.NewValidationError("agent_id", "must not be empty"))
		return
	}

	sessionID := ""
	if v, ok := req.Metadata["session_id"].(string); ok {
		sessionID = strings.TrimSpace(v)
	}
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	c.JSON(http.StatusOK, registerAgentResponse{
		AgentID:   req.AgentID,
		SessionID: sessionID,
		WSURL:     "/ws/agent",
		Message:   "connect to the WebSocket endpoint and send a register frame to go live",
	})
}

// listAgentsHandler handles GET /control/agents.
func (s *Server) listAgentsHandler(c *gin.Context) {
	agents := s.manager.List()
	c.JSON(http.StatusOK, gin.H{
		"agents":             agents,
		"count":              len(agents),
		"pending_dispatches": s.manager.PendingCount(),
	})
}

// dispatchAgentHandler handles POST /control/agents/:id/dispatch: send a
// task to a connected agent and wait synchronously for its response.
func (s *Server) dispatchAgentHandler(c *gin.Context) {
	agentID := c.Param("id")
	var req dispatchRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		respondError(c, models.NewValidationError("content", "must not be empty"))
		return
	}

	conn, ok := s.manager.Connection(agentID)
	if !ok {
		respondError(c, remote.ErrAgentNotConnected)
		return
	}

	sessionID := req.SessionID
	ownSession := sessionID == "" || sessionID == conn.SessionID
	if sessionID == "" {
		sessionID = conn.SessionID
	}
	messageID := req.MessageID
	if messageID == "" {
		messageID = "dispatch-" + uuid.New().String()
	}

	s.dispatchAndWait(c, agentID, messageID, req.Content, req.Context, sessionID, ownSession)
}

// followupAgentHandler handles POST /control/agents/:id/followup: a dispatch
// that always continues the agent's own session, so the remote agent keeps
// its conversation context across calls.
func (s *Server) followupAgentHandler(c *gin.Context) {
	agentID := c.Param("id")
	var req followupRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		respondError(c, models.NewValidationError("content", "must not be empty"))
		return
	}

	conn, ok := s.manager.Connection(agentID)
	if !ok {
		respondError(c, remote.ErrAgentNotConnected)
		return
	}

	taskCtx := req.Context
	if taskCtx == nil {
		taskCtx = make(map[string]any)
	}
	taskCtx["followup"] = true

	messageID := "followup-" + uuid.New().String()
	s.dispatchAndWait(c, agentID, messageID, req.Content, taskCtx, conn.SessionID, true)
}

// dispatchAndWait sends the dispatch and blocks for the reply, bounded by
// the synchronous wait. On timeout the dispatch stays pending for the stale
// sweep; a late reply lands in the arrived buffer.
//
// drain discards the buffered copy of the outcome afterwards. Set only for
// the agent's own session: simulation sessions have the tick engine as their
// consumer and their buffers must not be touched.
func (s *Server) dispatchAndWait(c *gin.Context, agentID, messageID, content string, taskCtx map[string]any, sessionID string, drain bool) {
	start := time.Now()
	p, err := s.manager.Dispatch(agentID, messageID, content, taskCtx, sessionID, nil)
	if err != nil {
		respondError(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.syncDispatchWait)
	defer cancel()
	res, err := p.Await(ctx)
	if err != nil {
		c.JSON(http.StatusGatewayTimeout, gin.H{
			"error":      "agent did not respond within the dispatch wait",
			"message_id": messageID,
			"agent_id":   agentID,
		})
		return
	}
	if drain {
		s.manager.DrainResponses(sessionID)
	}

	c.JSON(http.StatusOK, dispatchResponse{
		MessageID:  messageID,
		AgentID:    agentID,
		SessionID:  sessionID,
		Content:    res.Content,
		Usage:      res.Usage,
		Error:      res.Error,
		DurationMS: time.Since(start).Milliseconds(),
	})
}
