package api

import (
	"net/http" // HTTP status codes

	"course_feedback/internal/middleware" // Caller token helpers
	"course_feedback/internal/service"    // Account directory

	"github.com/gin-gonic/gin" // Gin web framework
)

// Request struct for registration
type RegisterRequest struct {
	Username string `json:"username" binding:"required,notblank"` // Username must be provided
	Password string `json:"password" binding:"required"`          // Password must be provided
	Role     string `json:"role" binding:"required"`              // Role must be provided
}

// Request struct for login
type LoginRequest struct {
	Username string `json:"username" binding:"required"` // Username must be provided
	Password string `json:"password" binding:"required"` // Password must be provided
}

// Response struct for authentication
type AuthResponse struct {
	Token string `json:"token"` // JWT token
}

// RegisterHandler creates an account and returns its first token
func RegisterHandler(accounts *service.Accounts) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RegisterRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, bindError(err)) // If binding fails, return bad request
			return
		}
		// Validate, hash and store the user
		token, _, err := accounts.Register(c.Request.Context(), req.Username, req.Password, req.Role)
		if err != nil {
			respondError(c, err) // Conflict and validation map to bad request
			return
		}
		c.JSON(http.StatusCreated, AuthResponse{Token: token}) // Return the token
	}
}

// LoginHandler authenticates a user and returns a JWT token
func LoginHandler(accounts *service.Accounts) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, bindError(err)) // If binding fails, return bad request
			return
		}
		// Compare provided password with stored hash
		token, _, err := accounts.Login(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			respondError(c, err) // Generic invalid credentials
			return
		}
		c.JSON(http.StatusOK, AuthResponse{Token: token}) // Return the token in the response
	}
}

// LogoutHandler revokes the caller's token
func LogoutHandler(accounts *service.Accounts) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenID, expiresAt := middleware.CurrentToken(c) // Token being used
		if err := accounts.Logout(c.Request.Context(), tokenID, expiresAt); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
	}
}
