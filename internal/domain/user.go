package domain

import "time"

// Roles a user can hold
const (
	RoleStudent   = "student"   // Reviews courses
	RoleProfessor = "professor" // Owns courses and replies to reviews
	RoleAdmin     = "admin"     // Moderates users and content
)

// Roles lists every valid role
var Roles = []string{RoleStudent, RoleProfessor, RoleAdmin}

// ValidRole reports whether role is one of Roles
func ValidRole(role string) bool {
	for _, r := range Roles {
		if r == role {
			return true
		}
	}
	return false
}

// User Model
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`                               // Primary key
	Username  string    `gorm:"size:191;uniqueIndex;not null" json:"username"`      // Unique username
	Password  string    `gorm:"size:255;not null" json:"-"`                         // Hashed password, never serialized
	Role      string    `gorm:"size:16;not null;default:student;index" json:"role"` // Role: student, professor or admin
	CreatedAt time.Time `json:"createdAt"`                                          // Registration time
}
