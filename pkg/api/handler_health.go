package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vibeforge/vibeforge/pkg/version"
)

// healthHandler handles GET /healthz. There is no database or external
// dependency to probe; the summary counts the live component state so an
// operator can see at a glance what the process is holding.
func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, healthResponse{
		Status:  "ok",
		Version: version.Full(),
		Components: map[string]int{
			"sessions":             len(s.coord.ListSessions()),
			"agent_connections":    len(s.manager.List()),
			"pending_dispatches":   s.manager.PendingCount(),
			"observer_connections": s.hub.ActiveConnections(),
		},
	})
}
