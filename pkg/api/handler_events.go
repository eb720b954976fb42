package api

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vibeforge/vibeforge/pkg/events"
	"github.com/vibeforge/vibeforge/pkg/models"
)

// listEventsHandler handles GET /control/sessions/:id/events.
func (s *Server) listEventsHandler(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := s.coord.GetSession(sessionID); err != nil {
		respondError(c, err)
		return
	}
	evts, err := s.store.Read(c.Request.Context(), sessionID, events.Filter{})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, eventsResponse{SessionID: sessionID, Count: len(evts), Events: evts})
}

// filterEventsHandler handles GET /control/sessions/:id/events/filter.
// Query params: event_type, tick_index, tick_min, tick_max, agent_id, limit.
func (s *Server) filterEventsHandler(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := s.coord.GetSession(sessionID); err != nil {
		respondError(c, err)
		return
	}

	f := events.Filter{
		EventType: c.Query("event_type"),
		AgentID:   c.Query("agent_id"),
	}
	var bad string
	f.TickIndex = intQuery(c, "tick_index", &bad)
	f.TickMin = intQuery(c, "tick_min", &bad)
	f.TickMax = intQuery(c, "tick_max", &bad)
	if v := intQuery(c, "limit", &bad); v != nil {
		f.Limit = *v
	}
	if bad != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + bad + ": must be an integer"})
		return
	}

	evts, err := s.store.Read(c.Request.Context(), sessionID, f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, eventsResponse{SessionID: sessionID, Count: len(evts), Events: evts})
}

// agentEventsHandler handles GET /control/agents/:id/events: every event
// mentioning the agent, merged across all live sessions in time order.
func (s *Server) agentEventsHandler(c *gin.Context) {
	agentID := c.Param("id")

	var bad string
	limit := 0
	if v := intQuery(c, "limit", &bad); v != nil {
		limit = *v
	}
	if bad != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + bad + ": must be an integer"})
		return
	}

	var out []models.Event
	for _, sess := range s.coord.ListSessions() {
		evts, err := s.store.Read(c.Request.Context(), sess.ID, events.Filter{AgentID: agentID})
		if err != nil {
			respondError(c, err)
			return
		}
		out = append(out, evts...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	if out == nil {
		out = []models.Event{}
	}
	c.JSON(http.StatusOK, eventsResponse{AgentID: agentID, Count: len(out), Events: out})
}

// intQuery parses an optional integer query param. A missing param returns
// nil; a malformed one records the param name in bad.
func intQuery(c *gin.Context, name string, bad *string) *int {
	v := c.Query(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		if *bad == "" {
			*bad = name
		}
		return nil
	}
	return &n
}
