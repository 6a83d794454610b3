package api

import (
	"net/http" // HTTP status codes
	"time"     // Timestamps

	"course_feedback/internal/domain"  // User model
	"course_feedback/internal/service" // Account directory

	"github.com/gin-gonic/gin" // Gin web framework
)

// UserAdminResponse represents the user data returned to admin
type UserAdminResponse struct {
	ID        uint      `json:"id"`        // User ID
	Username  string    `json:"username"`  // Username
	Role      string    `json:"role"`      // User role
	CreatedAt time.Time `json:"createdAt"` // Registration time
}

func userResponse(u domain.User) UserAdminResponse {
	return UserAdminResponse{
		ID:        u.ID,        // User ID
		Username:  u.Username,  // Username
		Role:      u.Role,      // User role
		CreatedAt: u.CreatedAt, // Registration time
	}
}

// ListUsersHandler returns all users without their password hashes
func ListUsersHandler(accounts *service.Accounts) gin.HandlerFunc {
	return func(c *gin.Context) {
		users, err := accounts.ListUsers(c.Request.Context()) // Cached read
		if err != nil {
			respondError(c, err)
			return
		}
		// Map users to response format
		resp := make([]UserAdminResponse, len(users))
		for i, u := range users {
			resp[i] = userResponse(u)
		}
		c.JSON(http.StatusOK, resp) // Return the response
	}
}

// ChangeRoleHandler sets the role of a user
func ChangeRoleHandler(accounts *service.Accounts) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := pathID(c, "userId") // Target user
		if err != nil {
			respondError(c, err)
			return
		}
		user, err := accounts.ChangeRole(c.Request.Context(), userID, c.Param("role"))
		if err != nil {
			respondError(c, err) // Validation or not found
			return
		}
		c.JSON(http.StatusOK, userResponse(*user)) // Return the updated user
	}
}

// DeleteUserHandler removes a user
func DeleteUserHandler(accounts *service.Accounts) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := pathID(c, "userId") // Target user
		if err != nil {
			respondError(c, err)
			return
		}
		if err := accounts.DeleteUser(c.Request.Context(), userID); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "User deleted"})
	}
}
