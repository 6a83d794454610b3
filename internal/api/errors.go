package api

import (
	"errors"   // Error inspection
	"net/http" // HTTP status codes
	"strconv"  // Path parameter parsing

	"course_feedback/internal/domain" // Error taxonomy

	"github.com/gin-gonic/gin"   // Gin web framework
	"github.com/sirupsen/logrus" // Logrus for structured logging
)

// HTTPStatusFromError maps a domain error to its HTTP status
func HTTPStatusFromError(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrAlreadyReplied),
		errors.Is(err, domain.ErrReviewLocked),
		errors.Is(err, domain.ErrInvalidPattern),
		errors.Is(err, domain.ErrInvalidCredentials):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConcurrentUpdate):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as a JSON body. Unexpected errors are logged and
// replaced by a generic message.
func respondError(c *gin.Context, err error) {
	status := HTTPStatusFromError(err)
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		c.AbortWithStatusJSON(status, gin.H{"errors": verr.Fields}) // Field-level detail
	case status == http.StatusInternalServerError:
		logrus.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
			"error":  err.Error(),
		}).Error("Request failed")
		c.AbortWithStatusJSON(status, gin.H{"message": "Server error"}) // Never leak internals
	default:
		c.AbortWithStatusJSON(status, gin.H{"message": err.Error()})
	}
}

// pathID parses a positive integer path parameter
func pathID(c *gin.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		return 0, domain.NewValidationError(name, name+" must be a positive integer")
	}
	return uint(id), nil
}
