package rbac

import (
	"net/http"

	"voice-campaigns/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireUser enforces that an authenticated user_id exists in context.
// Ownership of individual records is checked by handlers, which know the record.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, err := auth.UserID(c.Request.Context())
		if err != nil || uid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole allows access if the caller has any of the provided roles.
// super_admin bypasses all checks.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}

		if IsSuperAdmin(role) {
			c.Next()
			return
		}

		if _, ok := allowedSet[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// CanAccessOwner reports whether the caller in c may act on records owned by ownerID.
func CanAccessOwner(c *gin.Context, ownerID string) bool {
	uid, _ := auth.UserID(c.Request.Context())
	if uid != "" && uid == ownerID {
		return true
	}
	role, _ := auth.Role(c.Request.Context())
	return CanReadAcrossOwners(role)
}
