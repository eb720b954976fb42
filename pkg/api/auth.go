package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// bearerAuth guards the control-plane routes with static bearer tokens. An
// empty token set disables authentication (development mode). Tokens come
// from the environment, see config.ResolveAuthTokens.
func bearerAuth(tokens map[string]struct{}) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(tokens) == 0 {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		if _, ok := tokens[strings.TrimSpace(raw)]; !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid bearer token"})
			return
		}
		c.Next()
	}
}
