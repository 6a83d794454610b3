package middleware

import (
	"context"  // Request context for the denylist lookup
	"net/http" // HTTP status codes
	"strings"  // String manipulation
	"time"     // Token expiry

	"course_feedback/internal/authz" // Caller identity
	"course_feedback/internal/utils" // JWT and revocation helpers

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Logrus for structured logging
)

// Context keys set by JWTAuthMiddleware
const (
	UserIDKey      = "userID"      // uint user id
	RoleKey        = "role"        // Role snapshot from the token
	TokenIDKey     = "tokenID"     // jti, used by logout
	TokenExpiryKey = "tokenExpiry" // time.Time expiry, used by logout
)

// Denylist reports whether a token id has been logged out
type Denylist interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// JWTAuthMiddleware validates JWT tokens and extracts user information.
// denylist may be nil, in which case logged out tokens are not checked.
func JWTAuthMiddleware(secret string, denylist Denylist) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization") // Get Authorization header
		// Check if the Authorization header is present and properly formatted
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			// If not, abort with unauthorized status
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Missing or invalid Authorization header"})
			return
		}
		tokenStr := strings.TrimPrefix(authHeader, "Bearer ") // Extract the token string and parse it
		claims, err := utils.ParseJWT(tokenStr, secret)       // Parse the JWT token
		if err != nil {
			// If parsing fails, abort with unauthorized status
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Invalid or expired token"})
			return
		}
		// Reject tokens that were logged out
		revoked := false
		if denylist != nil {
			revoked, err = denylist.IsRevoked(c.Request.Context(), claims.ID)
			if err != nil {
				logrus.WithError(err).Error("Token denylist unavailable")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "Server error"})
				return
			}
		}
		if revoked {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Token has been revoked"})
			return
		}
		c.Set(UserIDKey, claims.UserID)              // Store userID in context
		c.Set(RoleKey, claims.Role)                  // Store role snapshot in context
		c.Set(TokenIDKey, claims.ID)                 // Store token id for logout
		c.Set(TokenExpiryKey, claims.ExpiresAt.Time) // Store expiry for logout
		c.Next()                                     // Proceed to the next handler
	}
}

// CurrentPrincipal returns the caller set by JWTAuthMiddleware
func CurrentPrincipal(c *gin.Context) (authz.Principal, bool) {
	id, ok := c.Get(UserIDKey)
	if !ok {
		return authz.Principal{}, false
	}
	userID, ok := id.(uint)
	if !ok {
		return authz.Principal{}, false
	}
	return authz.Principal{ID: userID, Role: c.GetString(RoleKey)}, true
}

// CurrentToken returns the id and expiry of the caller's token
func CurrentToken(c *gin.Context) (string, time.Time) {
	return c.GetString(TokenIDKey), c.GetTime(TokenExpiryKey)
}
