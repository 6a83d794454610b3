// Package authz decides whether a caller may perform an action. It is pure:
// the caller's role comes from the token snapshot and ownership from the
// resource already loaded by the caller.
package authz

import "course_feedback/internal/domain"

// Action names an operation guarded by a role rule
type Action string

const (
	ReadCatalog  Action = "read_catalog"
	CreateCourse Action = "create_course"
	SubmitReview Action = "submit_review"
	ReplyReview  Action = "reply_review"
	ViewPending  Action = "view_pending"
	DeleteCourse Action = "delete_course"
	DeleteReview Action = "delete_review"
	ListUsers    Action = "list_users"
	ChangeRole   Action = "change_role"
	DeleteUser   Action = "delete_user"
	Logout       Action = "logout"
)

// Principal is the identity and role snapshot carried by a token
type Principal struct {
	ID   uint
	Role string
}

// IsAdmin reports whether the principal holds the admin role
func (p Principal) IsAdmin() bool {
	return p.Role == domain.RoleAdmin
}

var permissions = map[string]map[Action]bool{
	domain.RoleStudent: {
		ReadCatalog:  true,
		SubmitReview: true,
		Logout:       true,
	},
	domain.RoleProfessor: {
		ReadCatalog:  true,
		CreateCourse: true,
		ReplyReview:  true,
		ViewPending:  true,
		DeleteCourse: true,
		Logout:       true,
	},
	// Admins moderate any resource but never author courses, reviews or replies.
	domain.RoleAdmin: {
		ReadCatalog:  true,
		ViewPending:  true,
		DeleteCourse: true,
		DeleteReview: true,
		ListUsers:    true,
		ChangeRole:   true,
		DeleteUser:   true,
		Logout:       true,
	},
}

// Permits reports whether role may perform action at all
func Permits(role string, action Action) bool {
	return permissions[role][action]
}

// OwnerOrAdmin reports whether p is an admin or the owning identity
func OwnerOrAdmin(p Principal, ownerID uint) bool {
	return p.IsAdmin() || (p.ID != 0 && p.ID == ownerID)
}

// Authorize fails with ErrForbidden when p's role may not perform action
func Authorize(p Principal, action Action) error {
	if !Permits(p.Role, action) {
		return domain.ErrForbidden
	}
	return nil
}

// AuthorizeOwned additionally requires p to own the resource unless admin
func AuthorizeOwned(p Principal, action Action, ownerID uint) error {
	if err := Authorize(p, action); err != nil {
		return err
	}
	if !OwnerOrAdmin(p, ownerID) {
		return domain.ErrForbidden
	}
	return nil
}
