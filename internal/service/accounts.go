package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"course_feedback/internal/config"
	"course_feedback/internal/domain"
	"course_feedback/internal/utils"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Password length bounds. The minimum counts characters; the maximum counts
// bytes because bcrypt ignores input past 72 bytes.
const (
	MinPasswordLength = 6
	MaxPasswordBytes  = 72
)

const (
	usersCacheKey = "admin:users"    // Cached user list
	usersGenKey   = "cachegen:users" // Bumped before the list is dropped
)

// AuthoredContent removes what a deleted user authored
type AuthoredContent interface {
	// RemoveAuthored runs inside the caller's transaction
	RemoveAuthored(tx *gorm.DB, userID uint) (courses, reviews int, err error)
	// FlushCache runs after the transaction commits
	FlushCache(ctx context.Context)
}

// AccountsOptions tunes an Accounts directory
type AccountsOptions struct {
	JWTSecret    string        // Token signing secret
	TokenTTL     time.Duration // Token lifetime
	BcryptCost   int           // Password hashing cost
	DeletePolicy string        // config.DeletePolicy*, defaults to retain
	CacheTTL     time.Duration // User list cache lifetime
}

// Accounts stores users and issues their tokens
type Accounts struct {
	db      *gorm.DB        // User storage
	rdb     *redis.Client   // Cache and logout denylist, may be nil
	content AuthoredContent // Cascade target, may be nil
	opts    AccountsOptions // Defaults filled in
}

// NewAccounts builds an Accounts directory. content may be nil when the
// retain policy is in force.
func NewAccounts(db *gorm.DB, rdb *redis.Client, content AuthoredContent, opts AccountsOptions) *Accounts {
	// Fill in defaults
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.DeletePolicy == "" {
		opts.DeletePolicy = config.DeletePolicyRetain
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCatalogTTL
	}
	return &Accounts{db: db, rdb: rdb, content: content, opts: opts}
}

// Register creates a user and returns a token for it
func (s *Accounts) Register(ctx context.Context, username, password, role string) (string, *domain.User, error) {
	username = strings.TrimSpace(username)
	verr := &domain.ValidationError{} // Collects every failing field
	if username == "" {
		verr.Add("username", "Username is required")
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		verr.Add("password", "Password must be at least 6 characters")
	} else if len(password) > MaxPasswordBytes {
		verr.Add("password", "Password must be at most 72 bytes")
	}
	if !domain.ValidRole(role) {
		verr.Add("role", "Role must be one of student, professor, admin")
	}
	if err := verr.OrNil(); err != nil {
		return "", nil, err
	}

	var count int64
	// Usernames are unique
	if err := s.db.WithContext(ctx).Model(&domain.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return "", nil, err
	}
	if count > 0 {
		return "", nil, domain.ErrConflict
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.opts.BcryptCost)
	if err != nil {
		return "", nil, err
	}
	user := domain.User{Username: username, Password: string(hash), Role: role}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		// Lost a race with another registration of the same name.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return "", nil, domain.ErrConflict
		}
		logrus.WithFields(logrus.Fields{
			"username": username,    // Requested name
			"error":    err.Error(), // Error message
		}).Error("Failed to create user")
		return "", nil, err
	}
	token, err := s.issue(&user)
	if err != nil {
		return "", nil, err
	}
	logrus.WithFields(logrus.Fields{
		"user_id": user.ID,   // New user
		"role":    user.Role, // Chosen role
	}).Info("User registered")
	s.dropUsersCache(ctx) // The admin list now includes them
	return token, &user, nil
}

// Login verifies credentials and returns a fresh token
func (s *Accounts) Login(ctx context.Context, username, password string) (string, *domain.User, error) {
	var user domain.User
	err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil, domain.ErrInvalidCredentials // Same answer as a bad password
	}
	if err != nil {
		return "", nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		logrus.WithField("user_id", user.ID).Info("Login rejected")
		return "", nil, domain.ErrInvalidCredentials
	}
	token, err := s.issue(&user)
	if err != nil {
		return "", nil, err
	}
	return token, &user, nil
}

// ListUsers returns every user ordered by id
func (s *Accounts) ListUsers(ctx context.Context) ([]domain.User, error) {
	var users []domain.User
	found, err := utils.GetCache(ctx, s.rdb, usersCacheKey, &users)
	if err != nil {
		logrus.WithError(err).Warn("User cache read failed")
	}
	if found {
		return users, nil // Cache hit
	}
	// Taken before the read so a racing change wins
	gen, genErr := utils.CacheGeneration(ctx, s.rdb, usersGenKey)
	users = []domain.User{}
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&users).Error; err != nil {
		return nil, err
	}
	if genErr != nil {
		logrus.WithError(genErr).Warn("User cache generation unavailable")
		return users, nil // Skip the fill
	}
	if _, err := utils.SetCacheAtGeneration(ctx, s.rdb, usersGenKey, gen, usersCacheKey, users, s.opts.CacheTTL); err != nil {
		logrus.WithError(err).Warn("User cache write failed")
	}
	return users, nil
}

// ChangeRole sets a user's role. Tokens already issued keep their old role
// until they expire.
func (s *Accounts) ChangeRole(ctx context.Context, userID uint, role string) (*domain.User, error) {
	if !domain.ValidRole(role) {
		return nil, domain.NewValidationError("role", "Role must be one of student, professor, admin")
	}
	var user domain.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Load so the response carries the whole user
		if err := tx.First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrUserNotFound
			}
			return err
		}
		if err := tx.Model(&user).Update("role", role).Error; err != nil {
			return err
		}
		user.Role = role
		return nil
	})
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"user_id": user.ID, // Changed user
		"role":    role,    // New role
	}).Info("User role changed")
	s.dropUsersCache(ctx)
	return &user, nil
}

// DeleteUser removes a user and, under the cascade policy, what they
// authored. Both happen in one transaction, so a failed cascade leaves the
// user in place and the call can be retried.
func (s *Accounts) DeleteUser(ctx context.Context, userID uint) error {
	cascade := s.opts.DeletePolicy == config.DeletePolicyCascade && s.content != nil
	fields := logrus.Fields{"user_id": userID, "policy": s.opts.DeletePolicy}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&domain.User{}, userID) // Remove the account
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrUserNotFound
		}
		if !cascade {
			return nil // Retain: authored content stays, names resolve empty
		}
		courses, reviews, err := s.content.RemoveAuthored(tx, userID)
		if err != nil {
			return err // Rolls back the user delete too
		}
		fields["courses_removed"] = courses // Owned courses deleted
		fields["reviews_removed"] = reviews // Courses that lost a review
		return nil
	})
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logrus.WithFields(fields).WithError(err).Error("User deletion failed")
		}
		return err
	}
	// Cached views embed the deleted username
	if s.content != nil {
		s.content.FlushCache(ctx)
	}
	s.dropUsersCache(ctx)
	logrus.WithFields(fields).Info("User deleted")
	return nil
}

// Logout denylists a token id until the token expires
func (s *Accounts) Logout(ctx context.Context, tokenID string, expiresAt time.Time) error {
	if err := utils.RevokeToken(ctx, s.rdb, tokenID, expiresAt); err != nil {
		logrus.WithError(err).Error("Failed to revoke token")
		return err
	}
	return nil
}

// IsRevoked reports whether a token id has been logged out. It backs the
// token check on every authenticated route.
func (s *Accounts) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	return utils.IsTokenRevoked(ctx, s.rdb, tokenID)
}

func (s *Accounts) issue(user *domain.User) (string, error) {
	return utils.GenerateJWT(user.ID, user.Role, s.opts.JWTSecret, s.opts.TokenTTL)
}

// dropUsersCache bumps the generation before deleting so a racing fill
// cannot land
func (s *Accounts) dropUsersCache(ctx context.Context) {
	if err := utils.BumpCacheGeneration(ctx, s.rdb, usersGenKey); err != nil {
		logrus.WithError(err).Warn("User cache generation bump failed")
	}
	if err := utils.DeleteCache(ctx, s.rdb, usersCacheKey); err != nil {
		logrus.WithError(err).Warn("User cache invalidation failed")
	}
}
