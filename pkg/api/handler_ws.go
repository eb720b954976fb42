package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
)

// observerWSHandler handles GET /ws: upgrade and hand the connection to the
// event hub. HandleConnection blocks until the client disconnects.
func (s *Server) observerWSHandler(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("Observer upgrade failed", "error", err, "remote", c.Request.RemoteAddr)
		return
	}
	s.hub.HandleConnection(c.Request.Context(), conn)
}

// agentWSHandler handles GET /ws/agent: upgrade and hand the connection to
// the remote agent handler, which owns the register handshake and read loop.
func (s *Server) agentWSHandler(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("Agent upgrade failed", "error", err, "remote", c.Request.RemoteAddr)
		return
	}
	s.agentWS.HandleConnection(c.Request.Context(), conn)
}
