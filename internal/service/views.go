package service

import (
	"context"
	"time"

	"course_feedback/internal/domain"

	"gorm.io/gorm"
)

// UserRef is a user id resolved to its display name. Username is empty when
// the referenced account has been deleted.
type UserRef struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
}

// ReviewView is a review as returned to clients
type ReviewView struct {
	ID        uint      `json:"id"`
	Student   UserRef   `json:"student"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	Reply     *string   `json:"reply"`
	CreatedAt time.Time `json:"createdAt"`
}

// CourseView is a course with professor and reviewer names resolved
type CourseView struct {
	ID            uint         `json:"id"`
	Title         string       `json:"title"`
	Description   string       `json:"description"`
	Professor     UserRef      `json:"professor"`
	Reviews       []ReviewView `json:"reviews"`
	AverageRating float64      `json:"averageRating"`
	CreatedAt     time.Time    `json:"createdAt"`
}

// usernames loads display names for the given ids in one query
func usernames(ctx context.Context, db *gorm.DB, ids []uint) (map[uint]string, error) {
	names := make(map[uint]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	var users []domain.User
	if err := db.WithContext(ctx).Select("id", "username").Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	for _, u := range users {
		names[u.ID] = u.Username
	}
	return names, nil
}

func reviewView(r domain.Review, names map[uint]string) ReviewView {
	return ReviewView{
		ID:        r.ID,
		Student:   UserRef{ID: r.StudentID, Username: names[r.StudentID]},
		Rating:    r.Rating,
		Comment:   r.Comment,
		Reply:     r.Reply,
		CreatedAt: r.CreatedAt,
	}
}

func courseView(c domain.Course, names map[uint]string) CourseView {
	reviews := make([]ReviewView, 0, len(c.Reviews))
	for _, r := range c.Reviews {
		reviews = append(reviews, reviewView(r, names))
	}
	return CourseView{
		ID:            c.ID,
		Title:         c.Title,
		Description:   c.Description,
		Professor:     UserRef{ID: c.ProfessorID, Username: names[c.ProfessorID]},
		Reviews:       reviews,
		AverageRating: c.AverageRating,
		CreatedAt:     c.CreatedAt,
	}
}

// courseViews resolves every professor and reviewer referenced by courses
func courseViews(ctx context.Context, db *gorm.DB, courses []domain.Course) ([]CourseView, error) {
	seen := make(map[uint]bool)
	var ids []uint
	add := func(id uint) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, c := range courses {
		add(c.ProfessorID)
		for _, r := range c.Reviews {
			add(r.StudentID)
		}
	}
	names, err := usernames(ctx, db, ids)
	if err != nil {
		return nil, err
	}
	views := make([]CourseView, 0, len(courses))
	for _, c := range courses {
		views = append(views, courseView(c, names))
	}
	return views, nil
}

func reviewViews(ctx context.Context, db *gorm.DB, reviews []domain.Review) ([]ReviewView, error) {
	ids := make([]uint, 0, len(reviews))
	for _, r := range reviews {
		ids = append(ids, r.StudentID)
	}
	names, err := usernames(ctx, db, ids)
	if err != nil {
		return nil, err
	}
	views := make([]ReviewView, 0, len(reviews))
	for _, r := range reviews {
		views = append(views, reviewView(r, names))
	}
	return views, nil
}
