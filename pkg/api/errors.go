package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vibeforge/vibeforge/pkg/models"
	"github.com/vibeforge/vibeforge/pkg/phase"
	"github.com/vibeforge/vibeforge/pkg/remote"
	"github.com/vibeforge/vibeforge/pkg/session"
	"github.com/vibeforge/vibeforge/pkg/sim"
)

// respondError translates service-layer errors to HTTP error responses.
// Every handler funnels its errors through here so status mapping lives in
// one place.
func respondError(c *gin.Context, err error) {
	var (
		validErr      *models.ValidationError
		transitionErr *phase.TransitionError
		criteriaErr   *phase.ExitCriteriaError
		guardrailErr  *sim.GuardrailError
	)
	switch {
	case errors.As(err, &validErr),
		errors.As(err, &transitionErr),
		errors.As(err, &criteriaErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, remote.ErrAgentNotConnected):
		c.JSON(http.StatusConflict, gin.H{"error": "agent not connected"})
	case errors.As(err, &guardrailErr):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error": guardrailErr.Detail,
			"kind":  string(guardrailErr.Kind),
		})
	default:
		slog.Error("Unexpected handler error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
