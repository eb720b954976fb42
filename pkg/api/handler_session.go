package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vibeforge/vibeforge/pkg/models"
	"github.com/vibeforge/vibeforge/pkg/services"
)

// createSessionHandler handles POST /control/sessions.
func (s *Server) createSessionHandler(c *gin.Context) {
	sess, err := s.coord.CreateSession(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

// listSessionsHandler handles GET /control/sessions.
func (s *Server) listSessionsHandler(c *gin.Context) {
	all := s.coord.ListSessions()
	out := make([]sessionSummary, 0, len(all))
	for _, sess := range all {
		out = append(out, sessionSummary{
			ID:         sess.ID,
			Phase:      sess.Phase,
			TickIndex:  sess.TickIndex,
			TickStatus: sess.TickStatus,
			CreatedAt:  sess.CreatedAt,
			Agents:     len(sess.Agents),
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out, "count": len(out)})
}

// getSessionHandler handles GET /control/sessions/:id.
func (s *Server) getSessionHandler(c *gin.Context) {
	sess, err := s.coord.GetSession(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// deleteSessionHandler handles DELETE /control/sessions/:id. The workspace
// and event log stay on disk; only the in-memory session goes.
func (s *Server) deleteSessionHandler(c *gin.Context) {
	if err := s.coord.DeleteSession(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// initAgentsHandler handles POST /control/sessions/:id/agents/init.
func (s *Server) initAgentsHandler(c *gin.Context) {
	var req initAgentsRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess, err := s.coord.InitAgents(c.Request.Context(), c.Param("id"), req.Agents)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// assignAgentHandler handles POST /control/sessions/:id/agents/assign.
func (s *Server) assignAgentHandler(c *gin.Context) {
	var req assignAgentRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	record, err := s.coord.AssignAgent(c.Request.Context(), c.Param("id"), req.AgentID, services.AgentAssignment{
		DisplayName: req.DisplayName,
		Role:        models.AgentRole(req.Role),
		ModelID:     req.ModelID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// setTaskHandler handles POST /control/sessions/:id/task.
func (s *Server) setTaskHandler(c *gin.Context) {
	var req setTaskRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess, err := s.coord.SetTask(c.Request.Context(), c.Param("id"), req.MainTask)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// setFlowsHandler handles POST /control/sessions/:id/flows.
func (s *Server) setFlowsHandler(c *gin.Context) {
	var req setFlowsRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess, err := s.coord.SetFlows(c.Request.Context(), c.Param("id"), req.Edges)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// workflowHandler handles GET /control/sessions/:id/workflow.
func (s *Server) workflowHandler(c *gin.Context) {
	snap, err := s.coord.Workflow(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}
