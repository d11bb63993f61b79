package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/student-results-api/internal/handler"
	"github.com/noah-isme/student-results-api/internal/models"
	"github.com/noah-isme/student-results-api/internal/service"
	appErrors "github.com/noah-isme/student-results-api/pkg/errors"
)

type staticTokens map[string]*models.JWTClaims

func (s staticTokens) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := s[token]; ok {
		return claims, nil
	}
	return nil, appErrors.ErrUnauthorized
}

func newTestEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	Register(r, Dependencies{
		AuthHandler:      handler.NewAuthHandler(nil),
		StudentHandler:   handler.NewStudentHandler(nil),
		SubjectHandler:   handler.NewSubjectHandler(nil),
		MarkHandler:      handler.NewMarkHandler(nil),
		ReportHandler:    handler.NewReportHandler(nil),
		DashboardHandler: handler.NewDashboardHandler(nil),
		MetricsHandler:   handler.NewMetricsHandler(service.NewMetricsService()),
		Tokens: staticTokens{
			"admin":   {UserID: "u-1", Role: models.RoleAdmin},
			"student": {UserID: "u-2", Role: models.RoleStudent, StudentID: "stu-1"},
		},
	})
	return r
}

func request(r *gin.Engine, method, path, token string) int {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRegisterPublicRoutes(t *testing.T) {
	r := newTestEngine()
	assert.Equal(t, http.StatusOK, request(r, http.MethodGet, "/health", ""))
	assert.Equal(t, http.StatusOK, request(r, http.MethodGet, "/metrics", ""))
}

func TestRegisterRequiresToken(t *testing.T) {
	r := newTestEngine()
	for _, path := range []string{"/api/v1/students", "/api/v1/subjects", "/api/v1/reports/students/stu-1", "/api/v1/auth/me"} {
		assert.Equal(t, http.StatusUnauthorized, request(r, http.MethodGet, path, ""), path)
	}
}

func TestRegisterStudentRoleIsScopedToOwnRecord(t *testing.T) {
	r := newTestEngine()
	cases := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/students"},
		{http.MethodGet, "/api/v1/students/stu-2/results"},
		{http.MethodGet, "/api/v1/students/stu-2/marks"},
		{http.MethodGet, "/api/v1/reports/students/stu-2"},
		{http.MethodGet, "/api/v1/reports/students/stu-2/export"},
		{http.MethodPost, "/api/v1/marks"},
		{http.MethodPost, "/api/v1/marks/bulk"},
		{http.MethodDelete, "/api/v1/subjects/sub-1"},
		{http.MethodGet, "/api/v1/departments/CSE/statistics"},
		{http.MethodGet, "/api/v1/metrics/summary"},
		{http.MethodGet, "/api/v1/dashboard"},
	}
	for _, tc := range cases {
		assert.Equal(t, http.StatusForbidden, request(r, tc.method, tc.path, "student"), tc.method+" "+tc.path)
	}
}

func TestRegisterAdminReachesMetricsSummary(t *testing.T) {
	r := newTestEngine()
	assert.Equal(t, http.StatusOK, request(r, http.MethodGet, "/api/v1/metrics/summary", "admin"))
}

func TestRegisterDashboardIsAdminOnly(t *testing.T) {
	r := newTestEngine()
	assert.Equal(t, http.StatusUnauthorized, request(r, http.MethodGet, "/api/v1/dashboard", ""))
	assert.Equal(t, http.StatusInternalServerError, request(r, http.MethodGet, "/api/v1/dashboard", "admin"))
}
