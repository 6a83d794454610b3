package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"course_feedback/internal/domain"
	"course_feedback/internal/service"
	"course_feedback/internal/testutil"
	"course_feedback/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     any
	token    string
	wantCode int
}

type testServer struct {
	router *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gdb := testutil.NewDB(t)
	_, rdb := testutil.NewRedis(t)
	catalog := service.NewCatalog(gdb, rdb, service.CatalogOptions{})
	accounts := service.NewAccounts(gdb, rdb, catalog, service.AccountsOptions{
		JWTSecret:  testSecret,
		TokenTTL:   time.Hour,
		BcryptCost: bcrypt.MinCost,
	})
	router, err := NewRouter(accounts, catalog, RouterConfig{JWTSecret: testSecret})
	require.NoError(t, err)
	return &testServer{router: router}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) register(t *testing.T, username, role string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/user/register", "", gin.H{"username": username, "password": "secret1", "role": role})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Token
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) run(t *testing.T, tests []httpTest) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
		})
	}
}

func TestAuthRoutes(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "alice", domain.RoleStudent)

	s.run(t, []httpTest{
		{"duplicate username", http.MethodPost, "/user/register", gin.H{"username": "alice", "password": "secret1", "role": "student"}, "", http.StatusBadRequest},
		{"short password", http.MethodPost, "/user/register", gin.H{"username": "bob", "password": "123", "role": "student"}, "", http.StatusBadRequest},
		{"bad role", http.MethodPost, "/user/register", gin.H{"username": "bob", "password": "secret1", "role": "dean"}, "", http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/user/register", "{", "", http.StatusBadRequest},
		{"login", http.MethodPost, "/user/login", gin.H{"username": "alice", "password": "secret1"}, "", http.StatusOK},
		{"wrong password", http.MethodPost, "/user/login", gin.H{"username": "alice", "password": "nope-nope"}, "", http.StatusBadRequest},
		{"unknown user", http.MethodPost, "/user/login", gin.H{"username": "zed", "password": "secret1"}, "", http.StatusBadRequest},
		{"no token", http.MethodGet, "/outlet", nil, "", http.StatusUnauthorized},
		{"garbage token", http.MethodGet, "/outlet", nil, "garbage", http.StatusUnauthorized},
		{"health", http.MethodGet, "/health", nil, "", http.StatusOK},
	})
}

func TestValidationErrorBody(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/user/register", "", gin.H{"username": "  ", "password": "secret1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decode[struct {
		Errors []domain.FieldError `json:"errors"`
	}](t, rec)
	fields := map[string]string{}
	for _, fe := range body.Errors {
		fields[fe.Field] = fe.Message
	}
	assert.Equal(t, "username must not be blank", fields["username"])
	assert.Equal(t, "role is required", fields["role"])
}

func TestCourseLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	prof := s.register(t, "prof", domain.RoleProfessor)
	other := s.register(t, "other", domain.RoleProfessor)
	s1 := s.register(t, "s1", domain.RoleStudent)
	s2 := s.register(t, "s2", domain.RoleStudent)
	admin := s.register(t, "root", domain.RoleAdmin)

	rec := s.do(t, http.MethodPost, "/outlet", prof, CreateCourseRequest{Title: "Operating Systems", Description: "Kernels and scheduling"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	course := decode[service.CourseView](t, rec)
	assert.Equal(t, "prof", course.Professor.Username)
	id := course.ID

	s.run(t, []httpTest{
		{"student cannot create", http.MethodPost, "/outlet", CreateCourseRequest{"t", "d"}, s1, http.StatusForbidden},
		{"blank title", http.MethodPost, "/outlet", gin.H{"title": " ", "description": "d"}, prof, http.StatusBadRequest},
		{"rating out of range", http.MethodPut, fmt.Sprintf("/outlet/review/%d", id), ReviewRequest{Rating: 6, Comment: "x"}, s1, http.StatusBadRequest},
		{"professor cannot review", http.MethodPut, fmt.Sprintf("/outlet/review/%d", id), ReviewRequest{Rating: 3, Comment: "x"}, prof, http.StatusForbidden},
		{"review missing course", http.MethodPut, "/outlet/review/9999", ReviewRequest{Rating: 3, Comment: "x"}, s1, http.StatusNotFound},
		{"non numeric id", http.MethodGet, "/outlet/outletId/abc", nil, s1, http.StatusBadRequest},
		{"zero id", http.MethodGet, "/outlet/outletId/0", nil, s1, http.StatusBadRequest},
		{"missing course", http.MethodGet, "/outlet/outletId/9999", nil, s1, http.StatusNotFound},
	})

	rec = s.do(t, http.MethodPut, fmt.Sprintf("/outlet/review/%d", id), s1, ReviewRequest{Rating: 5, Comment: "great"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = s.do(t, http.MethodPut, fmt.Sprintf("/outlet/review/%d", id), s2, ReviewRequest{Rating: 3, Comment: "ok"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 4.0, decode[service.CourseView](t, rec).AverageRating)

	rec = s.do(t, http.MethodPut, fmt.Sprintf("/outlet/review/%d", id), s1, ReviewRequest{Rating: 2, Comment: "meh"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	course = decode[service.CourseView](t, rec)
	assert.Equal(t, 2.5, course.AverageRating)
	require.Len(t, course.Reviews, 2)
	reviewID := course.Reviews[0].ID

	rec = s.do(t, http.MethodGet, fmt.Sprintf("/outlet/to_reply/%d", id), prof, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]service.ReviewView](t, rec), 2)

	replyPath := fmt.Sprintf("/outlet/reply/%d/%d", id, reviewID)
	s.run(t, []httpTest{
		{"other professor reply", http.MethodPut, replyPath, ReplyRequest{"hi"}, other, http.StatusNotFound},
		{"other professor pending", http.MethodGet, fmt.Sprintf("/outlet/to_reply/%d", id), nil, other, http.StatusNotFound},
		{"student reply", http.MethodPut, replyPath, ReplyRequest{"hi"}, s1, http.StatusForbidden},
		{"first reply", http.MethodPut, replyPath, ReplyRequest{"Thanks"}, prof, http.StatusOK},
		{"second reply", http.MethodPut, replyPath, ReplyRequest{"Thanks again"}, prof, http.StatusBadRequest},
	})

	rec = s.do(t, http.MethodGet, fmt.Sprintf("/outlet/outletId/%d", id), s2, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	course = decode[service.CourseView](t, rec)
	require.NotNil(t, course.Reviews[0].Reply)
	assert.Equal(t, "Thanks", *course.Reviews[0].Reply)

	rec = s.do(t, http.MethodGet, fmt.Sprintf("/outlet/to_reply/%d", id), admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]service.ReviewView](t, rec), 1)

	s.run(t, []httpTest{
		{"professor cannot delete review", http.MethodDelete, fmt.Sprintf("/outlet/review/%d/%d", id, reviewID), nil, prof, http.StatusForbidden},
		{"admin deletes review", http.MethodDelete, fmt.Sprintf("/outlet/review/%d/%d", id, reviewID), nil, admin, http.StatusOK},
		{"other professor cannot delete course", http.MethodDelete, fmt.Sprintf("/outlet/%d", id), nil, other, http.StatusForbidden},
		{"student cannot delete course", http.MethodDelete, fmt.Sprintf("/outlet/%d", id), nil, s1, http.StatusForbidden},
		{"owner deletes course", http.MethodDelete, fmt.Sprintf("/outlet/%d", id), nil, prof, http.StatusOK},
		{"course is gone", http.MethodDelete, fmt.Sprintf("/outlet/%d", id), nil, admin, http.StatusNotFound},
		{"pending is gone", http.MethodGet, fmt.Sprintf("/outlet/to_reply/%d", id), nil, prof, http.StatusNotFound},
	})
}

func TestListAndSearchOverHTTP(t *testing.T) {
	s := newTestServer(t)
	prof := s.register(t, "prof", domain.RoleProfessor)
	stu := s.register(t, "stu", domain.RoleStudent)

	for _, title := range []string{"Intro to Go", "C/C++ Systems", "Linear Algebra"} {
		rec := s.do(t, http.MethodPost, "/outlet", prof, CreateCourseRequest{Title: title, Description: "desc"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}
	claims, err := utils.ParseJWT(prof, testSecret)
	require.NoError(t, err)

	rec := s.do(t, http.MethodGet, "/outlet", stu, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]service.CourseView](t, rec), 3)

	rec = s.do(t, http.MethodGet, fmt.Sprintf("/outlet/%d", claims.UserID), stu, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]service.CourseView](t, rec), 3)

	tests := []struct {
		pattern string
		want    int
	}{
		{"go", 1},
		{"ALGEBRA", 1},
		{"c/c", 1},
		{`c\+\+`, 1},
		{"^(intro|linear)", 2},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, "/outlet/regex/"+url.PathEscape(tt.pattern), stu, nil)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Len(t, decode[[]service.CourseView](t, rec), tt.want)
		})
	}

	rec = s.do(t, http.MethodGet, "/outlet/regex/"+url.PathEscape("(unclosed"), stu, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRoutes(t *testing.T) {
	s := newTestServer(t)
	admin := s.register(t, "root", domain.RoleAdmin)
	stu := s.register(t, "stu", domain.RoleStudent)
	claims, err := utils.ParseJWT(stu, testSecret)
	require.NoError(t, err)

	rec := s.do(t, http.MethodGet, "/users", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
	assert.Len(t, decode[[]UserAdminResponse](t, rec), 2)

	s.run(t, []httpTest{
		{"student cannot list", http.MethodGet, "/users", nil, stu, http.StatusForbidden},
		{"bad role", http.MethodPut, fmt.Sprintf("/users/change/dean/%d", claims.UserID), nil, admin, http.StatusBadRequest},
		{"missing user", http.MethodPut, "/users/change/admin/9999", nil, admin, http.StatusNotFound},
		{"promote", http.MethodPut, fmt.Sprintf("/users/change/professor/%d", claims.UserID), nil, admin, http.StatusOK},
		// The old token still carries the student role.
		{"stale role snapshot", http.MethodPost, "/outlet", CreateCourseRequest{"t", "d"}, stu, http.StatusForbidden},
		{"delete", http.MethodDelete, fmt.Sprintf("/users/%d", claims.UserID), nil, admin, http.StatusOK},
		{"delete again", http.MethodDelete, fmt.Sprintf("/users/%d", claims.UserID), nil, admin, http.StatusNotFound},
	})
}

func TestLogoutRevokesToken(t *testing.T) {
	s := newTestServer(t)
	token := s.register(t, "stu", domain.RoleStudent)

	s.run(t, []httpTest{
		{"before logout", http.MethodGet, "/outlet", nil, token, http.StatusOK},
		{"logout", http.MethodGet, "/user/logout", nil, token, http.StatusOK},
		{"after logout", http.MethodGet, "/outlet", nil, token, http.StatusUnauthorized},
	})
}

func TestHTTPStatusFromError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.NewValidationError("f", "m"), http.StatusBadRequest},
		{domain.ErrConflict, http.StatusBadRequest},
		{domain.ErrAlreadyReplied, http.StatusBadRequest},
		{domain.ErrReviewLocked, http.StatusBadRequest},
		{domain.ErrInvalidPattern, http.StatusBadRequest},
		{domain.ErrInvalidCredentials, http.StatusBadRequest},
		{domain.ErrUnauthenticated, http.StatusUnauthorized},
		{domain.ErrForbidden, http.StatusForbidden},
		{domain.ErrCourseNotFound, http.StatusNotFound},
		{domain.ErrConcurrentUpdate, http.StatusConflict},
		{fmt.Errorf("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatusFromError(tt.err), tt.err.Error())
	}
}
