package auth

import (
	"net/http"
	"strings"
	"time"

	"voice-campaigns/pkg/logger"

	"github.com/gin-gonic/gin"
)

// RequireAccessToken accepts `Authorization: Bearer <access token>` and puts
// the caller's identity on the request context. Role checks live in rbac.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, ok := strings.CutPrefix(strings.TrimSpace(c.GetHeader("Authorization")), "Bearer ")
		if !ok || strings.TrimSpace(tok) == "" {
			unauthorized(c, "missing bearer token")
			return
		}

		claims, err := m.Verify(strings.TrimSpace(tok), TokenTypeAccess, time.Now())
		if err != nil {
			logger.FromGin(c).Debug("access token rejected", "err", err)
			unauthorized(c, "invalid token")
			return
		}

		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), claims.UserID, claims.Role))
		logger.Enrich(c, logger.FromGin(c).With("user_id", claims.UserID, "role", claims.Role))
		c.Next()
	}
}

func unauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Bearer realm="voice-campaigns"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
}
