package api

import (
	"net/http" // HTTP status codes
	"time"     // CORS max age

	"course_feedback/internal/authz"      // Route actions
	"course_feedback/internal/middleware" // Auth and logging middleware
	"course_feedback/internal/service"    // Services behind the handlers

	"github.com/gin-contrib/cors" // CORS middleware
	"github.com/gin-gonic/gin"    // Gin web framework
)

// RouterConfig carries what the router needs beyond the services
type RouterConfig struct {
	JWTSecret      string   // Token signing secret
	CORSOrigins    []string // Allowed browser origins
	TrustedProxies []string // Proxies allowed to set client IP headers
}

// NewRouter registers every route on a new gin engine
func NewRouter(accounts *service.Accounts, catalog *service.Catalog, cfg RouterConfig) (*gin.Engine, error) {
	setupValidator() // Register json tag names and custom tags

	r := gin.New()              // Gin router instance
	r.UseRawPath = true         // Match on the encoded path so %2F stays inside a pattern
	r.UnescapePathValues = true // Hand handlers the decoded values
	r.Use(gin.Recovery(), middleware.LoggingMiddleware())
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Set trusted proxies for Gin
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, err
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	auth := middleware.JWTAuthMiddleware(cfg.JWTSecret, accounts) // Token check against the logout denylist
	can := middleware.RequireAction                               // Role rule per route

	// Auth routes
	user := r.Group("/user")
	user.POST("/register", RegisterHandler(accounts))                     // Registration endpoint
	user.POST("/login", LoginHandler(accounts))                           // Login endpoint
	user.GET("/logout", auth, can(authz.Logout), LogoutHandler(accounts)) // Logout endpoint

	// Admin routes
	users := r.Group("/users", auth)
	users.GET("", can(authz.ListUsers), ListUsersHandler(accounts))                        // List users endpoint
	users.PUT("/change/:role/:userId", can(authz.ChangeRole), ChangeRoleHandler(accounts)) // Change role endpoint
	users.DELETE("/:userId", can(authz.DeleteUser), DeleteUserHandler(accounts))           // Delete user endpoint

	// Catalog routes
	outlet := r.Group("/outlet", auth)
	outlet.GET("", can(authz.ReadCatalog), ListCoursesHandler(catalog))                           // All courses
	outlet.GET("/:professorId", can(authz.ReadCatalog), ListProfessorCoursesHandler(catalog))     // Courses of a professor
	outlet.GET("/outletId/:id", can(authz.ReadCatalog), GetCourseHandler(catalog))                // One course
	outlet.GET("/to_reply/:id", can(authz.ViewPending), PendingReviewsHandler(catalog))           // Reviews awaiting a reply
	outlet.GET("/regex/:pattern", can(authz.ReadCatalog), SearchCoursesHandler(catalog))          // Pattern search
	outlet.POST("", can(authz.CreateCourse), CreateCourseHandler(catalog))                        // Create course
	outlet.PUT("/review/:id", can(authz.SubmitReview), SubmitReviewHandler(catalog))              // Add or replace a review
	outlet.PUT("/reply/:id/:reviewId", can(authz.ReplyReview), ReplyReviewHandler(catalog))       // Reply to a review
	outlet.DELETE("/:id", can(authz.DeleteCourse), DeleteCourseHandler(catalog))                  // Delete course
	outlet.DELETE("/review/:id/:reviewId", can(authz.DeleteReview), DeleteReviewHandler(catalog)) // Delete review

	return r, nil
}
