// Package client is a typed HTTP client for the course feedback API. A Client
// holds one Session and attaches its token to every call explicitly.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"course_feedback/internal/api"
	"course_feedback/internal/domain"
	"course_feedback/internal/service"
)

// Session is the current login of a Client
type Session struct {
	Token string
}

// Active reports whether the session holds a token
func (s Session) Active() bool {
	return s.Token != ""
}

// APIError is a non-2xx response
type APIError struct {
	Status  int
	Message string
	Fields  []domain.FieldError
}

func (e *APIError) Error() string {
	if len(e.Fields) > 0 {
		parts := make([]string, 0, len(e.Fields))
		for _, f := range e.Fields {
			parts = append(parts, f.Field+": "+f.Message)
		}
		return fmt.Sprintf("api error %d: %s", e.Status, strings.Join(parts, "; "))
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Client calls the API on behalf of one session
type Client struct {
	baseURL string
	http    *http.Client
	session Session
}

// New returns a Client for baseURL. A nil httpClient gets a 10s timeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Session returns the current session
func (c *Client) Session() Session {
	return c.session
}

// SetSession replaces the current session
func (c *Client) SetSession(s Session) {
	c.session = s
}

// Register creates an account and starts a session for it
func (c *Client) Register(ctx context.Context, username, password, role string) error {
	var resp api.AuthResponse
	err := c.do(ctx, http.MethodPost, "/user/register", api.RegisterRequest{Username: username, Password: password, Role: role}, &resp)
	if err != nil {
		return err
	}
	c.session = Session{Token: resp.Token}
	return nil
}

// Login starts a session
func (c *Client) Login(ctx context.Context, username, password string) error {
	var resp api.AuthResponse
	if err := c.do(ctx, http.MethodPost, "/user/login", api.LoginRequest{Username: username, Password: password}, &resp); err != nil {
		return err
	}
	c.session = Session{Token: resp.Token}
	return nil
}

// Logout revokes the session token and clears the session
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, "/user/logout", nil, nil); err != nil {
		return err
	}
	c.session = Session{}
	return nil
}

func (c *Client) ListUsers(ctx context.Context) ([]api.UserAdminResponse, error) {
	return list[api.UserAdminResponse](ctx, c, http.MethodGet, "/users")
}

func (c *Client) ChangeRole(ctx context.Context, userID uint, role string) (*api.UserAdminResponse, error) {
	var user api.UserAdminResponse
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/users/change/%s/%d", url.PathEscape(role), userID), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) DeleteUser(ctx context.Context, userID uint) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/users/%d", userID), nil, nil)
}

func (c *Client) ListCourses(ctx context.Context) ([]service.CourseView, error) {
	return list[service.CourseView](ctx, c, http.MethodGet, "/outlet")
}

func (c *Client) ListCoursesByProfessor(ctx context.Context, professorID uint) ([]service.CourseView, error) {
	return list[service.CourseView](ctx, c, http.MethodGet, fmt.Sprintf("/outlet/%d", professorID))
}

func (c *Client) GetCourse(ctx context.Context, courseID uint) (*service.CourseView, error) {
	return c.course(ctx, http.MethodGet, fmt.Sprintf("/outlet/outletId/%d", courseID), nil)
}

// SearchCourses escapes pattern into a single path segment
func (c *Client) SearchCourses(ctx context.Context, pattern string) ([]service.CourseView, error) {
	return list[service.CourseView](ctx, c, http.MethodGet, "/outlet/regex/"+url.PathEscape(pattern))
}

func (c *Client) PendingReviews(ctx context.Context, courseID uint) ([]service.ReviewView, error) {
	return list[service.ReviewView](ctx, c, http.MethodGet, fmt.Sprintf("/outlet/to_reply/%d", courseID))
}

func (c *Client) CreateCourse(ctx context.Context, title, description string) (*service.CourseView, error) {
	return c.course(ctx, http.MethodPost, "/outlet", api.CreateCourseRequest{Title: title, Description: description})
}

func (c *Client) SubmitReview(ctx context.Context, courseID uint, rating int, comment string) (*service.CourseView, error) {
	return c.course(ctx, http.MethodPut, fmt.Sprintf("/outlet/review/%d", courseID), api.ReviewRequest{Rating: rating, Comment: comment})
}

func (c *Client) ReplyToReview(ctx context.Context, courseID, reviewID uint, reply string) (*service.CourseView, error) {
	return c.course(ctx, http.MethodPut, fmt.Sprintf("/outlet/reply/%d/%d", courseID, reviewID), api.ReplyRequest{Reply: reply})
}

func (c *Client) DeleteCourse(ctx context.Context, courseID uint) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/outlet/%d", courseID), nil, nil)
}

func (c *Client) DeleteReview(ctx context.Context, courseID, reviewID uint) (*service.CourseView, error) {
	return c.course(ctx, http.MethodDelete, fmt.Sprintf("/outlet/review/%d/%d", courseID, reviewID), nil)
}

func list[T any](ctx context.Context, c *Client, method, path string) ([]T, error) {
	var out []T
	if err := c.do(ctx, method, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) course(ctx context.Context, method, path string, body any) (*service.CourseView, error) {
	var course service.CourseView
	if err := c.do(ctx, method, path, body, &course); err != nil {
		return nil, err
	}
	return &course, nil
}

// do sends one request with the session token and decodes into out
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.session.Active() {
		req.Header.Set("Authorization", "Bearer "+c.session.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Message string              `json:"message"`
			Errors  []domain.FieldError `json:"errors"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
			apiErr.Message = payload.Message
			apiErr.Fields = payload.Errors
		}
		if apiErr.Message == "" && len(apiErr.Fields) == 0 {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
