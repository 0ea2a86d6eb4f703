package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/your-org/photofinder/internal/observability"
	"github.com/your-org/photofinder/pkg/dto"
)

const (
	headerName = "X-API-Key"
	queryName  = "api_key"
)

// providedKey returns the key sent in X-API-Key, an "Authorization: Bearer"
// header or, for WebSocket upgrades that cannot set headers, the api_key
// query parameter.
func providedKey(c *gin.Context) string {
	if k := c.GetHeader(headerName); k != "" {
		return k
	}
	if bearer, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(bearer)
	}
	if c.IsWebsocket() {
		return c.Query(queryName)
	}
	return ""
}

// APIKeyMiddleware validates the caller's API key.
// If apiKey is empty, authentication is disabled.
func APIKeyMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}

		provided := providedKey(c)
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "missing API key"})
			return
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
			observability.LoggerFromContext(c.Request.Context(), nil).Warn("rejected API key", "ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusForbidden, dto.ErrorResponse{Error: "invalid API key"})
			return
		}

		c.Next()
	}
}
