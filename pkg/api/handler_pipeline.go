package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vibeforge/vibeforge/pkg/models"
)

// questionnaireHandler handles POST /control/sessions/:id/questionnaire.
func (s *Server) questionnaireHandler(c *gin.Context) {
	var req questionnaireRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess, err := s.coord.SubmitQuestionnaire(c.Request.Context(), c.Param("id"), req.Answers)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// generateBuildSpecHandler handles POST /control/sessions/:id/pipeline/spec.
func (s *Server) generateBuildSpecHandler(c *gin.Context) {
	sess, err := s.coord.GenerateBuildSpec(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// generateIdeaHandler handles POST /control/sessions/:id/pipeline/idea.
func (s *Server) generateIdeaHandler(c *gin.Context) {
	sess, err := s.coord.GenerateIdea(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// generatePlanHandler handles POST /control/sessions/:id/pipeline/plan.
func (s *Server) generatePlanHandler(c *gin.Context) {
	sess, err := s.coord.GeneratePlan(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// reviewPlanHandler handles POST /control/sessions/:id/pipeline/plan/review.
func (s *Server) reviewPlanHandler(c *gin.Context) {
	var req reviewPlanRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Accepted == nil {
		respondError(c, models.NewValidationError("accepted", "must be provided"))
		return
	}
	sess, err := s.coord.ReviewPlan(c.Request.Context(), c.Param("id"), *req.Accepted)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// executeNextTaskHandler handles POST /control/sessions/:id/tasks/next.
func (s *Server) executeNextTaskHandler(c *gin.Context) {
	exec, err := s.coord.ExecuteNextTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, exec)
}

// failSessionHandler handles POST /control/sessions/:id/fail.
func (s *Server) failSessionHandler(c *gin.Context) {
	var req failSessionRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess, err := s.coord.FailSession(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}
