package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vibeforge/vibeforge/pkg/sim"
)

// configureSimulationHandler handles POST /control/sessions/:id/simulation/config.
// The body is a partial update; absent fields keep their current value.
func (s *Server) configureSimulationHandler(c *gin.Context) {
	var cfg sim.SimulationConfig
	if err := bindOptionalJSON(c, &cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess, err := s.sim.Configure(c.Request.Context(), c.Param("id"), cfg)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// startSimulationHandler handles POST /control/sessions/:id/simulation/start.
func (s *Server) startSimulationHandler(c *gin.Context) {
	var req startSimulationRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess, err := s.sim.Start(c.Request.Context(), c.Param("id"), req.InitialPrompt, req.FirstAgentID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// resetSimulationHandler handles POST /control/sessions/:id/simulation/reset.
func (s *Server) resetSimulationHandler(c *gin.Context) {
	var req resetSimulationRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess, err := s.sim.Reset(c.Request.Context(), c.Param("id"), req.PreserveWorkflow)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// pauseSimulationHandler handles POST /control/sessions/:id/simulation/pause.
func (s *Server) pauseSimulationHandler(c *gin.Context) {
	var req pauseSimulationRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "paused by operator"
	}
	sess, err := s.sim.Pause(c.Request.Context(), c.Param("id"), reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// stopSimulationHandler handles POST /control/sessions/:id/simulation/stop.
func (s *Server) stopSimulationHandler(c *gin.Context) {
	sess, err := s.sim.Stop(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// advanceTickHandler handles POST /control/sessions/:id/simulation/tick.
func (s *Server) advanceTickHandler(c *gin.Context) {
	res, err := s.sim.AdvanceTick(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// advanceTicksHandler handles POST /control/sessions/:id/simulation/ticks.
// A mid-batch error still reports the ticks that completed before it.
func (s *Server) advanceTicksHandler(c *gin.Context) {
	var req advanceTicksRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	results, err := s.sim.AdvanceTicks(c.Request.Context(), c.Param("id"), req.Count)
	if err != nil && len(results) == 0 {
		respondError(c, err)
		return
	}
	resp := gin.H{"requested": req.Count, "completed": len(results), "results": results}
	if err != nil {
		resp["error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// simulationStateHandler handles GET /control/sessions/:id/simulation/state.
func (s *Server) simulationStateHandler(c *gin.Context) {
	state, err := s.sim.State(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}
