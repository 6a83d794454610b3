package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"course_feedback/internal/authz"
	"course_feedback/internal/config"
	"course_feedback/internal/domain"
	"course_feedback/internal/testutil"
	"course_feedback/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const testSecret = "test-secret"

func newAccounts(t *testing.T, policy string) (*Accounts, *Catalog) {
	t.Helper()
	gdb := testutil.NewDB(t)
	_, rdb := testutil.NewRedis(t)
	catalog := NewCatalog(gdb, rdb, CatalogOptions{})
	accounts := NewAccounts(gdb, rdb, catalog, AccountsOptions{
		JWTSecret:    testSecret,
		TokenTTL:     time.Hour,
		BcryptCost:   bcrypt.MinCost,
		DeletePolicy: policy,
	})
	return accounts, catalog
}

func principal(u *domain.User) authz.Principal {
	return authz.Principal{ID: u.ID, Role: u.Role}
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	accounts, _ := newAccounts(t, "")

	token, user, err := accounts.Register(ctx, "  Alice ", "secret1", domain.RoleStudent)
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.Username)
	assert.NotEqual(t, "secret1", user.Password)

	claims, err := utils.ParseJWT(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, domain.RoleStudent, claims.Role)

	token, _, err = accounts.Login(ctx, "Alice", "secret1")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	_, _, err = accounts.Login(ctx, "Alice", "wrong-pass")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, _, err = accounts.Login(ctx, "nobody", "secret1")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, _, err = accounts.Register(ctx, "Alice", "another1", domain.RoleProfessor)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	accounts, _ := newAccounts(t, "")

	tests := []struct {
		name     string
		username string
		password string
		role     string
		field    string
	}{
		{"blank username", " ", "secret1", domain.RoleStudent, "username"},
		{"short password", "bob", "12345", domain.RoleStudent, "password"},
		{"short multibyte password", "bob", "ééé", domain.RoleStudent, "password"},
		{"long password", "bob", string(make([]byte, MaxPasswordBytes+1)), domain.RoleStudent, "password"},
		{"unknown role", "bob", "secret1", "dean", "role"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := accounts.Register(ctx, tt.username, tt.password, tt.role)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			require.Len(t, verr.Fields, 1)
			assert.Equal(t, tt.field, verr.Fields[0].Field)
		})
	}
}

func TestChangeRoleKeepsTokenSnapshot(t *testing.T) {
	ctx := context.Background()
	accounts, _ := newAccounts(t, "")
	token, user, err := accounts.Register(ctx, "carol", "secret1", domain.RoleStudent)
	require.NoError(t, err)

	updated, err := accounts.ChangeRole(ctx, user.ID, domain.RoleProfessor)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleProfessor, updated.Role)

	claims, err := utils.ParseJWT(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleStudent, claims.Role)

	token, _, err = accounts.Login(ctx, "carol", "secret1")
	require.NoError(t, err)
	claims, err = utils.ParseJWT(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleProfessor, claims.Role)

	_, err = accounts.ChangeRole(ctx, user.ID, "dean")
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = accounts.ChangeRole(ctx, 9999, domain.RoleAdmin)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListUsersCacheInvalidation(t *testing.T) {
	ctx := context.Background()
	accounts, _ := newAccounts(t, "")
	_, _, err := accounts.Register(ctx, "dave", "secret1", domain.RoleStudent)
	require.NoError(t, err)

	users, err := accounts.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)

	_, erin, err := accounts.Register(ctx, "erin", "secret1", domain.RoleAdmin)
	require.NoError(t, err)
	users, err = accounts.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)

	require.NoError(t, accounts.DeleteUser(ctx, erin.ID))
	users, err = accounts.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.ErrorIs(t, accounts.DeleteUser(ctx, erin.ID), domain.ErrNotFound)
}

func TestDeleteUserPolicies(t *testing.T) {
	tests := []struct {
		policy      string
		wantCourses int
		wantAverage float64
	}{
		{config.DeletePolicyRetain, 1, 3.0},
		{config.DeletePolicyCascade, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			ctx := context.Background()
			accounts, catalog := newAccounts(t, tt.policy)
			_, prof, err := accounts.Register(ctx, "prof", "secret1", domain.RoleProfessor)
			require.NoError(t, err)
			_, stu, err := accounts.Register(ctx, "stu", "secret1", domain.RoleStudent)
			require.NoError(t, err)
			_, other, err := accounts.Register(ctx, "other", "secret1", domain.RoleProfessor)
			require.NoError(t, err)

			mine, err := catalog.CreateCourse(ctx, principal(prof), "Algebra", "Groups")
			require.NoError(t, err)
			theirs, err := catalog.CreateCourse(ctx, principal(other), "Topology", "Spaces")
			require.NoError(t, err)
			_, err = catalog.SubmitReview(ctx, principal(stu), theirs.ID, 3, "ok")
			require.NoError(t, err)
			_, err = catalog.GetCourse(ctx, theirs.ID)
			require.NoError(t, err)

			require.NoError(t, accounts.DeleteUser(ctx, prof.ID))
			require.NoError(t, accounts.DeleteUser(ctx, stu.ID))

			owned, err := catalog.ListCoursesByProfessor(ctx, prof.ID)
			require.NoError(t, err)
			assert.Len(t, owned, tt.wantCourses)
			if tt.wantCourses > 0 {
				assert.Equal(t, mine.ID, owned[0].ID)
				assert.Empty(t, owned[0].Professor.Username)
			}

			got, err := catalog.GetCourse(ctx, theirs.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAverage, got.AverageRating)
		})
	}
}

func TestDeleteUserCascadeFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	accounts, catalog := newAccounts(t, config.DeletePolicyCascade)
	_, prof, err := accounts.Register(ctx, "prof", "secret1", domain.RoleProfessor)
	require.NoError(t, err)
	_, stu, err := accounts.Register(ctx, "stu", "secret1", domain.RoleStudent)
	require.NoError(t, err)
	course, err := catalog.CreateCourse(ctx, principal(prof), "Compilers", "Parsing and codegen")
	require.NoError(t, err)
	_, err = catalog.SubmitReview(ctx, principal(stu), course.ID, 4, "solid")
	require.NoError(t, err)

	// Fail every delete against the courses table
	storageErr := errors.New("transient storage error")
	deletes := accounts.db.Callback().Delete()
	require.NoError(t, deletes.Before("gorm:delete").Register("test:fail_course_delete", func(tx *gorm.DB) {
		if tx.Statement.Table == "courses" {
			_ = tx.AddError(storageErr)
		}
	}))

	err = accounts.DeleteUser(ctx, prof.ID)
	assert.ErrorIs(t, err, storageErr)

	var remaining int64
	require.NoError(t, accounts.db.Model(&domain.User{}).Where("id = ?", prof.ID).Count(&remaining).Error)
	assert.Equal(t, int64(1), remaining)
	got, err := catalog.GetCourse(ctx, course.ID)
	require.NoError(t, err)
	assert.Len(t, got.Reviews, 1)
	assert.Equal(t, "prof", got.Professor.Username)

	// Once storage recovers the same call completes
	require.NoError(t, deletes.Remove("test:fail_course_delete"))
	require.NoError(t, accounts.DeleteUser(ctx, prof.ID))
	_, err = catalog.GetCourse(ctx, course.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, accounts.db.Model(&domain.Review{}).Where("course_id = ?", course.ID).Count(&remaining).Error)
	assert.Zero(t, remaining)
}

func TestLogoutRevokesToken(t *testing.T) {
	ctx := context.Background()
	accounts, _ := newAccounts(t, "")
	token, _, err := accounts.Register(ctx, "frank", "secret1", domain.RoleStudent)
	require.NoError(t, err)
	claims, err := utils.ParseJWT(token, testSecret)
	require.NoError(t, err)

	revoked, err := accounts.IsRevoked(ctx, claims.ID)
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, accounts.Logout(ctx, claims.ID, claims.ExpiresAt.Time))
	revoked, err = accounts.IsRevoked(ctx, claims.ID)
	require.NoError(t, err)
	assert.True(t, revoked)
}
