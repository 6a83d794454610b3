package api

import (
	"net/http" // HTTP status codes

	"course_feedback/internal/authz"      // Caller identity
	"course_feedback/internal/domain"     // Error taxonomy
	"course_feedback/internal/middleware" // Caller from token
	"course_feedback/internal/service"    // Course catalog

	"github.com/gin-gonic/gin" // Gin web framework
)

// Request struct for course creation
type CreateCourseRequest struct {
	Title       string `json:"title" binding:"required,notblank"`       // Course title
	Description string `json:"description" binding:"required,notblank"` // Course description
}

// Request struct for submitting a review
type ReviewRequest struct {
	Rating  int    `json:"rating" binding:"required,min=1,max=5"` // Rating from 1 to 5
	Comment string `json:"comment" binding:"required,notblank"`   // Review text
}

// Request struct for replying to a review
type ReplyRequest struct {
	Reply string `json:"reply" binding:"required,notblank"` // Professor reply
}

// principal returns the authenticated caller or aborts with 401
func principal(c *gin.Context) (authz.Principal, bool) {
	p, ok := middleware.CurrentPrincipal(c)
	if !ok {
		respondError(c, domain.ErrUnauthenticated)
	}
	return p, ok
}

// ListCoursesHandler returns every course, best rated first
func ListCoursesHandler(catalog *service.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		courses, err := catalog.ListCourses(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, courses)
	}
}

// ListProfessorCoursesHandler returns the courses of one professor
func ListProfessorCoursesHandler(catalog *service.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		professorID, err := pathID(c, "professorId")
		if err != nil {
			respondError(c, err)
			return
		}
		courses, err := catalog.ListCoursesByProfessor(c.Request.Context(), professorID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, courses)
	}
}

// GetCourseHandler returns one course with its reviews
func GetCourseHandler(catalog *service.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		courseID, err := pathID(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}
		course, err := catalog.GetCourse(c.Request.Context(), courseID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, course)
	}
}

// SearchCoursesHandler matches a pattern against titles and descriptions
func SearchCoursesHandler(catalog *service.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		courses, err := catalog.SearchCourses(c.Request.Context(), c.Param("pattern"))
		if err != nil {
			respondError(c, err) // Malformed pattern is a bad request
			return
		}
		c.JSON(http.StatusOK, courses)
	}
}

// PendingReviewsHandler returns reviews still awaiting a reply
func PendingReviewsHandler(catalog *service.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		courseID, err := pathID(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}
		reviews, err := catalog.ListPendingReviews(c.Request.Context(), p, courseID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, reviews)
	}
}

// CreateCourseHandler adds a course owned by the caller
func CreateCourseHandler(catalog *service.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		var req CreateCourseRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, bindError(err))
			return
		}
		course, err := catalog.CreateCourse(c.Request.Context(), p, req.Title, req.Description)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, course)
	}
}

// SubmitReviewHandler adds or replaces the caller's review
func SubmitReviewHandler(catalog *service.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		courseID, err := pathID(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}
		var req ReviewRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, bindError(err))
			return
		}
		course, err := catalog.SubmitReview(c.Request.Context(), p, courseID, req.Rating, req.Comment)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, course)
	}
}

// ReplyReviewHandler sets the one-time reply on a review
func ReplyReviewHandler(catalog *service.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		courseID, err := pathID(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}
		reviewID, err := pathID(c, "reviewId")
		if err != nil {
			respondError(c, err)
			return
		}
		var req ReplyRequest // Bind JSON request to struct
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, bindError(err))
			return
		}
		course, err := catalog.ReplyToReview(c.Request.Context(), p, courseID, reviewID, req.Reply)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, course)
	}
}

// DeleteCourseHandler removes a course and its reviews
func DeleteCourseHandler(catalog *service.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		courseID, err := pathID(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}
		if err := catalog.DeleteCourse(c.Request.Context(), p, courseID); err != nil {
			respondError(c, err) // Not found before forbidden
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Course deleted"})
	}
}

// DeleteReviewHandler removes one review from a course
func DeleteReviewHandler(catalog *service.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := principal(c)
		if !ok {
			return
		}
		courseID, err := pathID(c, "id")
		if err != nil {
			respondError(c, err)
			return
		}
		reviewID, err := pathID(c, "reviewId")
		if err != nil {
			respondError(c, err)
			return
		}
		course, err := catalog.DeleteReview(c.Request.Context(), p, courseID, reviewID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, course)
	}
}
