package domain

import "time"

// Course Model
type Course struct {
	ID            uint      `gorm:"primaryKey"`                   // Primary key
	ProfessorID   uint      `gorm:"not null;index"`               // Owning professor, kept as a plain id so deleted users leave it dangling
	Title         string    `gorm:"size:255;not null"`            // Course title
	Description   string    `gorm:"type:text;not null"`           // Course description
	AverageRating float64   `gorm:"not null;default:0;index"`     // Mean of the review ratings, 0 without reviews
	Version       uint      `gorm:"not null;default:0"`           // Bumped on every review mutation
	Reviews       []Review  `gorm:"constraint:OnDelete:CASCADE;"` // Embedded reviews, ordered by id
	CreatedAt     time.Time // Creation time
}

// Review Model
type Review struct {
	ID        uint      `gorm:"primaryKey"`                                                    // Primary key
	CourseID  uint      `gorm:"not null;uniqueIndex:idx_reviews_course_student"`               // Owning course
	StudentID uint      `gorm:"not null;uniqueIndex:idx_reviews_course_student;index"`         // Authoring student, one review per course
	Rating    int       `gorm:"not null;check:chk_reviews_rating,rating >= 1 AND rating <= 5"` // 1 to 5 inclusive
	Comment   string    `gorm:"type:text;not null"`                                            // Review text
	Reply     *string   `gorm:"type:text"`                                                     // Professor reply, immutable once set
	CreatedAt time.Time // Submission time, refreshed when the review is replaced
}

// HasReply reports whether the professor already answered
func (r Review) HasReply() bool {
	return r.Reply != nil
}

// FindReviewByStudent returns the index of the student's review or -1
func FindReviewByStudent(reviews []Review, studentID uint) int {
	for i, r := range reviews {
		if r.StudentID == studentID {
			return i
		}
	}
	return -1
}
