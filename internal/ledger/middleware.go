package ledger

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"voice-campaigns/internal/auth"
	"voice-campaigns/internal/rbac"

	"github.com/gin-gonic/gin"
)

const headerEstimatedMinutes = "X-Estimated-Minutes"

// BalanceReader is the minimal ledger surface needed by middleware.
type BalanceReader interface {
	GetBalance(ctx context.Context, userID string) (Balance, error)
}

// RequireMinutes blocks the request if the caller's available minutes are below
// the estimate carried in X-Estimated-Minutes. It is a fast pre-check only; the
// guarded decrement in Append is what actually prevents overdraw.
//
// super_admin bypasses.
func RequireMinutes(svc BalanceReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := auth.Role(c.Request.Context())
		if rbac.IsSuperAdmin(role) {
			c.Next()
			return
		}

		userID, err := auth.UserID(c.Request.Context())
		if err != nil || userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
			return
		}

		raw := strings.TrimSpace(c.GetHeader(headerEstimatedMinutes))
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "estimated minutes required"})
			return
		}
		est, err := strconv.Atoi(raw)
		if err != nil || est <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "estimated minutes invalid"})
			return
		}

		bal, err := svc.GetBalance(c.Request.Context(), userID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "balance lookup failed"})
			return
		}
		if bal.AvailableMinutes < est {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{"error": "insufficient minutes"})
			return
		}

		c.Next()
	}
}
