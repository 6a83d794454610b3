package middleware

import (
	"net/http" // HTTP status codes

	"course_feedback/internal/authz"  // Role rules
	"course_feedback/internal/domain" // Error messages

	"github.com/gin-gonic/gin" // Gin web framework
)

// RequireAction checks the role snapshot from the token against an action.
// Ownership checks are left to the handler once the resource is loaded.
func RequireAction(action authz.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, exists := CurrentPrincipal(c) // Get caller from context
		// Check if the caller was authenticated
		if !exists {
			// If not, abort with unauthorized status
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": domain.ErrUnauthenticated.Error()})
			return
		}
		// Check the role rule for this action
		if err := authz.Authorize(p, action); err != nil {
			// If not permitted, abort with forbidden status
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": err.Error()})
			return
		}
		// If permitted, proceed to the next handler
		c.Next()
	}
}
