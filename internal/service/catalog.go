package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"course_feedback/internal/authz"
	"course_feedback/internal/config"
	"course_feedback/internal/domain"
	"course_feedback/internal/utils"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MaxPatternLength bounds search patterns
const MaxPatternLength = 256

// Cache layout. The generation counter lives outside catalog:* so a flush
// never resets it.
const (
	catalogListKey     = "catalog:courses"    // Every course, best rated first
	catalogPattern     = "catalog:*"          // Everything FlushCache drops
	catalogGenKey      = "cachegen:catalog"   // Bumped before every invalidation
	courseKeyPrefix    = "catalog:course:"    // One course by id
	professorKeyPrefix = "catalog:professor:" // Courses of one professor
	defaultCatalogTTL  = 60 * time.Second     // Used when CacheTTL is unset
)

func courseKey(id uint) string {
	return courseKeyPrefix + strconv.FormatUint(uint64(id), 10)
}

func professorKey(id uint) string {
	return professorKeyPrefix + strconv.FormatUint(uint64(id), 10)
}

// CatalogOptions tunes a Catalog
type CatalogOptions struct {
	CacheTTL    time.Duration // Cached view lifetime
	ReplyPolicy string        // config.ReplyPolicy*, defaults to discard
}

// Catalog manages courses and their embedded reviews. Every change to a
// course's reviews runs in one transaction that locks the course row,
// recomputes the average from the stored reviews and writes the course back
// guarded by its version.
type Catalog struct {
	db          *gorm.DB      // Course and review storage
	rdb         *redis.Client // Read-through cache, may be nil
	cacheTTL    time.Duration // Cached view lifetime
	replyPolicy string        // What replacing a replied review does
}

// NewCatalog builds a Catalog. rdb may be nil to disable caching.
func NewCatalog(db *gorm.DB, rdb *redis.Client, opts CatalogOptions) *Catalog {
	// Fill in defaults
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCatalogTTL
	}
	if opts.ReplyPolicy == "" {
		opts.ReplyPolicy = config.ReplyPolicyDiscard
	}
	return &Catalog{db: db, rdb: rdb, cacheTTL: opts.CacheTTL, replyPolicy: opts.ReplyPolicy}
}

// CreateCourse adds an empty course owned by the calling professor
func (s *Catalog) CreateCourse(ctx context.Context, p authz.Principal, title, description string) (*CourseView, error) {
	// Only professors create courses
	if err := authz.Authorize(p, authz.CreateCourse); err != nil {
		return nil, err
	}
	title, description = strings.TrimSpace(title), strings.TrimSpace(description)
	verr := &domain.ValidationError{} // Collects every failing field
	if title == "" {
		verr.Add("title", "Title is required")
	}
	if description == "" {
		verr.Add("description", "Description is required")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	// New courses start with no reviews and a zero average
	course := domain.Course{ProfessorID: p.ID, Title: title, Description: description}
	if err := s.db.WithContext(ctx).Create(&course).Error; err != nil {
		logrus.WithFields(logrus.Fields{
			"professor_id": p.ID,        // Owner
			"error":        err.Error(), // Error message
		}).Error("Failed to create course")
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"professor_id": p.ID,      // Owner
		"course_id":    course.ID, // New course
	}).Info("Course created")
	s.invalidate(ctx, course.ID, course.ProfessorID) // Lists now include it
	return s.view(ctx, course)
}

// ListCourses returns every course, best rated first
func (s *Catalog) ListCourses(ctx context.Context) ([]CourseView, error) {
	return s.cachedList(ctx, catalogListKey, func(tx *gorm.DB) *gorm.DB {
		return tx.Order("average_rating DESC").Order("id ASC")
	})
}

// ListCoursesByProfessor returns the courses owned by professorID
func (s *Catalog) ListCoursesByProfessor(ctx context.Context, professorID uint) ([]CourseView, error) {
	return s.cachedList(ctx, professorKey(professorID), func(tx *gorm.DB) *gorm.DB {
		return tx.Where("professor_id = ?", professorID).Order("id ASC")
	})
}

// GetCourse returns one course with names resolved
func (s *Catalog) GetCourse(ctx context.Context, courseID uint) (*CourseView, error) {
	key := courseKey(courseID)
	var cached CourseView
	if s.readCache(ctx, key, &cached) {
		return &cached, nil // Cache hit
	}
	gen := s.generation(ctx) // Taken before the read so a racing change wins
	course, err := loadCourse(s.db.WithContext(ctx), courseID)
	if err != nil {
		return nil, err
	}
	view, err := s.view(ctx, *course)
	if err != nil {
		return nil, err
	}
	s.writeCache(ctx, gen, key, view)
	return view, nil
}

// SearchCourses matches pattern case-insensitively anywhere in the title or
// description. Patterns use RE2 syntax.
func (s *Catalog) SearchCourses(ctx context.Context, pattern string) ([]CourseView, error) {
	// Bound the pattern before compiling it
	if len(pattern) > MaxPatternLength {
		return nil, fmt.Errorf("%w: pattern longer than %d bytes", domain.ErrInvalidPattern, MaxPatternLength)
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPattern, err)
	}
	// Search results are not cached; every call scans the catalog
	var courses []domain.Course
	if err := s.db.WithContext(ctx).Preload("Reviews", orderByID).Order("id ASC").Find(&courses).Error; err != nil {
		return nil, err
	}
	matched := make([]domain.Course, 0, len(courses))
	for _, c := range courses {
		if re.MatchString(c.Title) || re.MatchString(c.Description) {
			matched = append(matched, c)
		}
	}
	return courseViews(ctx, s.db, matched)
}

// SubmitReview adds the student's review or replaces it in place
func (s *Catalog) SubmitReview(ctx context.Context, p authz.Principal, courseID uint, rating int, comment string) (*CourseView, error) {
	if err := authz.Authorize(p, authz.SubmitReview); err != nil {
		return nil, err
	}
	comment = strings.TrimSpace(comment)
	verr := &domain.ValidationError{} // Collects every failing field
	if !domain.ValidRating(rating) {
		verr.Add("rating", "Rating must be between 1 and 5")
	}
	if comment == "" {
		verr.Add("comment", "Comment is required")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	replaced := false
	course, err := s.mutateReviews(ctx, courseID, func(tx *gorm.DB, course *domain.Course) error {
		now := time.Now()
		// One review per student per course: replace in place when present
		if idx := domain.FindReviewByStudent(course.Reviews, p.ID); idx >= 0 {
			existing := course.Reviews[idx]
			updates := map[string]any{"rating": rating, "comment": comment, "created_at": now}
			// A stale reply must not answer the new text
			if existing.HasReply() {
				switch s.replyPolicy {
				case config.ReplyPolicyReject:
					return domain.ErrReviewLocked
				case config.ReplyPolicyDiscard:
					updates["reply"] = nil
				}
			}
			replaced = true
			return tx.Model(&domain.Review{}).Where("id = ?", existing.ID).Updates(updates).Error
		}
		review := domain.Review{CourseID: course.ID, StudentID: p.ID, Rating: rating, Comment: comment, CreatedAt: now}
		if err := tx.Create(&review).Error; err != nil {
			// The unique (course, student) index caught a racing first review
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return domain.ErrConcurrentUpdate
			}
			return err
		}
		return nil
	})
	if err != nil {
		s.logMutationError("Review submission failed", courseID, p, err)
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"course_id":      course.ID,            // Reviewed course
		"student_id":     p.ID,                 // Reviewer
		"rating":         rating,               // New rating
		"replaced":       replaced,             // Whether an earlier review was overwritten
		"average_rating": course.AverageRating, // Recomputed average
	}).Info("Review submitted")
	return s.view(ctx, *course)
}

// ReplyToReview sets the professor's one-time reply on a review of their course
func (s *Catalog) ReplyToReview(ctx context.Context, p authz.Principal, courseID, reviewID uint, reply string) (*CourseView, error) {
	if err := authz.Authorize(p, authz.ReplyReview); err != nil {
		return nil, err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return nil, domain.NewValidationError("reply", "Reply is required")
	}

	course, err := s.mutateReviews(ctx, courseID, func(tx *gorm.DB, course *domain.Course) error {
		// Courses of other professors are reported as absent.
		if course.ProfessorID != p.ID {
			return domain.ErrCourseNotFound
		}
		review := findReview(course.Reviews, reviewID)
		if review == nil {
			return domain.ErrReviewNotFound
		}
		if review.HasReply() {
			return domain.ErrAlreadyReplied // Replies are one-time
		}
		// Conditional write keeps the one-time rule even without a row lock
		res := tx.Model(&domain.Review{}).Where("id = ? AND reply IS NULL", review.ID).Update("reply", reply)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrAlreadyReplied
		}
		return nil
	})
	if err != nil {
		s.logMutationError("Reply failed", courseID, p, err)
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"course_id":    course.ID, // Course of the review
		"review_id":    reviewID,  // Answered review
		"professor_id": p.ID,      // Replying owner
	}).Info("Review replied")
	return s.view(ctx, *course)
}

// ListPendingReviews returns the reviews of a course still awaiting a reply.
// Only the owning professor or an admin may look.
func (s *Catalog) ListPendingReviews(ctx context.Context, p authz.Principal, courseID uint) ([]ReviewView, error) {
	if err := authz.Authorize(p, authz.ViewPending); err != nil {
		return nil, err
	}
	var course domain.Course
	if err := s.db.WithContext(ctx).First(&course, courseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrCourseNotFound
		}
		return nil, err
	}
	// Someone else's course looks the same as a missing one
	if !authz.OwnerOrAdmin(p, course.ProfessorID) {
		return nil, domain.ErrCourseNotFound
	}

	var pending []domain.Review
	err := s.db.WithContext(ctx).Where("course_id = ? AND reply IS NULL", courseID).Order("id ASC").Find(&pending).Error
	if err == nil {
		var views []ReviewView
		if views, err = reviewViews(ctx, s.db, pending); err == nil {
			return views, nil
		}
	}
	// Read-only: degrade rather than fail the page.
	logrus.WithFields(logrus.Fields{
		"course_id": courseID,    // Requested course
		"error":     err.Error(), // Error message
	}).Warn("Pending reviews unavailable")
	return []ReviewView{}, nil
}

// DeleteCourse removes a course and all of its reviews
func (s *Catalog) DeleteCourse(ctx context.Context, p authz.Principal, courseID uint) error {
	var course domain.Course
	// Existence is checked before ownership so a missing course is 404
	if err := s.db.WithContext(ctx).First(&course, courseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrCourseNotFound
		}
		return err
	}
	// Owner or admin only
	if err := authz.AuthorizeOwned(p, authz.DeleteCourse, course.ProfessorID); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteCourseRows(tx, []uint{course.ID}) // Reviews go with the course
	})
	if err != nil {
		s.logMutationError("Course deletion failed", courseID, p, err)
		return err
	}
	logrus.WithFields(logrus.Fields{
		"course_id":  course.ID, // Removed course
		"deleted_by": p.ID,      // Acting user
		"role":       p.Role,    // Acting role
	}).Info("Course deleted")
	s.invalidate(ctx, course.ID, course.ProfessorID)
	return nil
}

// DeleteReview removes a single review as an admin
func (s *Catalog) DeleteReview(ctx context.Context, p authz.Principal, courseID, reviewID uint) (*CourseView, error) {
	if err := authz.Authorize(p, authz.DeleteReview); err != nil {
		return nil, err
	}
	course, err := s.mutateReviews(ctx, courseID, func(tx *gorm.DB, course *domain.Course) error {
		// The review must belong to this course
		if findReview(course.Reviews, reviewID) == nil {
			return domain.ErrReviewNotFound
		}
		return tx.Delete(&domain.Review{}, reviewID).Error
	})
	if err != nil {
		s.logMutationError("Review deletion failed", courseID, p, err)
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"course_id":      course.ID,            // Course of the review
		"review_id":      reviewID,             // Removed review
		"deleted_by":     p.ID,                 // Acting admin
		"average_rating": course.AverageRating, // Recomputed average
	}).Info("Review deleted")
	return s.view(ctx, *course)
}

// DeleteCoursesByProfessor removes every course owned by professorID
func (s *Catalog) DeleteCoursesByProfessor(ctx context.Context, professorID uint) (int, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		ids, err = removeCoursesByProfessor(tx, professorID)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.FlushCache(ctx) // Lists and course entries may all mention them
	return len(ids), nil
}

// DeleteReviewsByStudent removes the student's review from every course and
// recomputes each affected average.
func (s *Catalog) DeleteReviewsByStudent(ctx context.Context, studentID uint) (int, error) {
	var removed int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		removed, err = removeReviewsByStudent(tx, studentID)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.FlushCache(ctx) // Averages changed across the catalog
	return removed, nil
}

// RemoveAuthored deletes what userID authored inside the caller's
// transaction: the courses they own and the reviews they wrote. The caller
// flushes the cache once tx commits.
func (s *Catalog) RemoveAuthored(tx *gorm.DB, userID uint) (courses, reviews int, err error) {
	ids, err := removeCoursesByProfessor(tx, userID) // Owned courses first
	if err != nil {
		return 0, 0, err
	}
	reviews, err = removeReviewsByStudent(tx, userID) // Then reviews elsewhere
	if err != nil {
		return 0, 0, err
	}
	return len(ids), reviews, nil
}

// FlushCache drops every cached catalog entry
func (s *Catalog) FlushCache(ctx context.Context) {
	s.bumpGeneration(ctx) // In-flight fills must not land after the flush
	if err := utils.DeleteCachePattern(ctx, s.rdb, catalogPattern); err != nil {
		logrus.WithError(err).Warn("Failed to flush catalog cache")
	}
}

// mutateReviews applies mutate to a locked course in its own transaction,
// then drops the cached views of that course.
func (s *Catalog) mutateReviews(ctx context.Context, courseID uint, mutate func(tx *gorm.DB, course *domain.Course) error) (*domain.Course, error) {
	var course *domain.Course
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		course, err = applyReviews(tx, courseID, mutate)
		return err // Any error rolls back
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, course.ID, course.ProfessorID)
	return course, nil
}

// applyReviews locks a course, hands it to mutate with its current reviews,
// then recomputes and persists the average under the version guard.
func applyReviews(tx *gorm.DB, courseID uint, mutate func(tx *gorm.DB, course *domain.Course) error) (*domain.Course, error) {
	var course domain.Course
	// Lock the course row for the rest of the transaction
	if err := lockForUpdate(tx).First(&course, courseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrCourseNotFound
		}
		return nil, err
	}
	// Reviews as they stand under the lock
	if err := tx.Where("course_id = ?", course.ID).Order("id ASC").Find(&course.Reviews).Error; err != nil {
		return nil, err
	}
	if err := mutate(tx, &course); err != nil {
		return nil, err
	}
	if err := saveAggregate(tx, &course); err != nil {
		return nil, err
	}
	return &course, nil
}

// saveAggregate reloads the review set and writes the recomputed average
func saveAggregate(tx *gorm.DB, course *domain.Course) error {
	var reviews []domain.Review
	// Recompute from storage, never from a running sum
	if err := tx.Where("course_id = ?", course.ID).Order("id ASC").Find(&reviews).Error; err != nil {
		return err
	}
	average := domain.AverageRating(reviews)
	// Write back only if nobody else moved the version
	res := tx.Model(&domain.Course{}).
		Where("id = ? AND version = ?", course.ID, course.Version).
		Updates(map[string]any{
			"average_rating": average,                     // Fresh mean
			"version":        gorm.Expr("version + ?", 1), // Next version
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrConcurrentUpdate // Lost the version race
	}
	course.Reviews = reviews
	course.AverageRating = average
	course.Version++
	return nil
}

// removeCoursesByProfessor deletes the professor's courses inside tx and
// returns their ids
func removeCoursesByProfessor(tx *gorm.DB, professorID uint) ([]uint, error) {
	var ids []uint
	if err := tx.Model(&domain.Course{}).Where("professor_id = ?", professorID).Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil // Nothing owned
	}
	if err := deleteCourseRows(tx, ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// removeReviewsByStudent deletes the student's reviews inside tx, one course
// at a time under that course's lock, and returns how many courses changed
func removeReviewsByStudent(tx *gorm.DB, studentID uint) (int, error) {
	var courseIDs []uint
	if err := tx.Model(&domain.Review{}).Where("student_id = ?", studentID).Distinct().Pluck("course_id", &courseIDs).Error; err != nil {
		return 0, err
	}
	removed := 0
	for _, courseID := range courseIDs {
		_, err := applyReviews(tx, courseID, func(tx *gorm.DB, course *domain.Course) error {
			return tx.Where("course_id = ? AND student_id = ?", course.ID, studentID).Delete(&domain.Review{}).Error
		})
		if errors.Is(err, domain.ErrCourseNotFound) {
			continue // Removed concurrently
		}
		if err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// deleteCourseRows removes courses and their reviews inside tx
func deleteCourseRows(tx *gorm.DB, ids []uint) error {
	// Reviews first so no review outlives its course
	if err := tx.Where("course_id IN ?", ids).Delete(&domain.Review{}).Error; err != nil {
		return err
	}
	return tx.Where("id IN ?", ids).Delete(&domain.Course{}).Error
}

// lockForUpdate takes a row lock where the dialect has one. SQLite already
// serializes writers per database.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
}

// loadCourse reads a course with its reviews in id order
func loadCourse(tx *gorm.DB, courseID uint) (*domain.Course, error) {
	var course domain.Course
	if err := tx.Preload("Reviews", orderByID).First(&course, courseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrCourseNotFound
		}
		return nil, err
	}
	return &course, nil
}

// cachedList serves a course list from the cache or fills it from scope
func (s *Catalog) cachedList(ctx context.Context, key string, scope func(*gorm.DB) *gorm.DB) ([]CourseView, error) {
	var cached []CourseView
	if s.readCache(ctx, key, &cached) {
		return cached, nil // Cache hit
	}
	gen := s.generation(ctx) // Taken before the read so a racing change wins
	var courses []domain.Course
	if err := scope(s.db.WithContext(ctx).Preload("Reviews", orderByID)).Find(&courses).Error; err != nil {
		return nil, err
	}
	views, err := courseViews(ctx, s.db, courses)
	if err != nil {
		return nil, err
	}
	s.writeCache(ctx, gen, key, views)
	return views, nil
}

// view resolves names for a single course
func (s *Catalog) view(ctx context.Context, course domain.Course) (*CourseView, error) {
	views, err := courseViews(ctx, s.db, []domain.Course{course})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// readCache treats a Redis failure as a miss
func (s *Catalog) readCache(ctx context.Context, key string, dest any) bool {
	found, err := utils.GetCache(ctx, s.rdb, key, dest)
	if err != nil {
		logrus.WithFields(logrus.Fields{"key": key, "error": err.Error()}).Warn("Catalog cache read failed")
		return false
	}
	return found
}

// generation reads the cache generation. On failure it returns -1, which
// never matches, so the following fill is skipped.
func (s *Catalog) generation(ctx context.Context) int64 {
	gen, err := utils.CacheGeneration(ctx, s.rdb, catalogGenKey)
	if err != nil {
		logrus.WithError(err).Warn("Catalog cache generation unavailable")
		return -1
	}
	return gen
}

// writeCache stores a view read at generation gen, unless an invalidation
// happened since
func (s *Catalog) writeCache(ctx context.Context, gen int64, key string, value any) {
	if gen < 0 {
		return // Generation unknown
	}
	if _, err := utils.SetCacheAtGeneration(ctx, s.rdb, catalogGenKey, gen, key, value, s.cacheTTL); err != nil {
		logrus.WithFields(logrus.Fields{"key": key, "error": err.Error()}).Warn("Catalog cache write failed")
	}
}

func (s *Catalog) bumpGeneration(ctx context.Context) {
	if err := utils.BumpCacheGeneration(ctx, s.rdb, catalogGenKey); err != nil {
		logrus.WithError(err).Warn("Catalog cache generation bump failed")
	}
}

// invalidate drops the entries that can show one course
func (s *Catalog) invalidate(ctx context.Context, courseID, professorID uint) {
	s.dropKeys(ctx, catalogListKey, courseKey(courseID), professorKey(professorID))
}

func (s *Catalog) dropKeys(ctx context.Context, keys ...string) {
	s.bumpGeneration(ctx) // Bump before delete so a racing fill cannot land
	if err := utils.DeleteCache(ctx, s.rdb, keys...); err != nil {
		logrus.WithFields(logrus.Fields{"keys": keys, "error": err.Error()}).Warn("Catalog cache invalidation failed")
	}
}

// logMutationError logs expected outcomes at Info and failures at Error
func (s *Catalog) logMutationError(msg string, courseID uint, p authz.Principal, err error) {
	entry := logrus.WithFields(logrus.Fields{
		"course_id": courseID,    // Target course
		"user_id":   p.ID,        // Acting user
		"role":      p.Role,      // Acting role
		"error":     err.Error(), // Error message
	})
	// Expected outcomes are not server errors
	if isClientError(err) {
		entry.Info(msg)
		return
	}
	entry.Error(msg)
}

func findReview(reviews []domain.Review, reviewID uint) *domain.Review {
	for i := range reviews {
		if reviews[i].ID == reviewID {
			return &reviews[i]
		}
	}
	return nil
}

func orderByID(tx *gorm.DB) *gorm.DB {
	return tx.Order("id ASC")
}

// isClientError reports whether err is an expected business outcome
func isClientError(err error) bool {
	for _, target := range []error{
		domain.ErrNotFound, domain.ErrForbidden, domain.ErrValidation, domain.ErrAlreadyReplied,
		domain.ErrReviewLocked, domain.ErrConcurrentUpdate, domain.ErrConflict, domain.ErrInvalidCredentials,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
