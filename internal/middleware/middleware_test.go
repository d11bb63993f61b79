package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/student-results-api/internal/models"
	"github.com/noah-isme/student-results-api/internal/service"
	appErrors "github.com/noah-isme/student-results-api/pkg/errors"
)

type stubValidator struct {
	claims map[string]*models.JWTClaims
}

func (s stubValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := s.claims[token]; ok {
		return claims, nil
	}
	return nil, appErrors.ErrUnauthorized
}

type recordingAuditWriter struct {
	logs []*models.AuditLog
	err  error
}

func (r *recordingAuditWriter) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	r.logs = append(r.logs, log)
	return r.err
}

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func testValidator() stubValidator {
	return stubValidator{claims: map[string]*models.JWTClaims{
		"admin":   {UserID: "u-admin", Role: models.RoleAdmin},
		"student": {UserID: "u-stu", Role: models.RoleStudent, StudentID: "stu-1"},
	}}
}

func serve(router *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestJWTRejectsMissingAndInvalidTokens(t *testing.T) {
	router := newTestRouter()
	router.GET("/me", JWT(testValidator()), func(c *gin.Context) {
		claims, ok := Claims(c)
		require.True(t, ok)
		c.String(http.StatusOK, claims.UserID)
	})

	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/me", "bogus").Code)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Basic admin")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	ok := serve(router, http.MethodGet, "/me", "admin")
	assert.Equal(t, http.StatusOK, ok.Code)
	assert.Equal(t, "u-admin", ok.Body.String())
}

func TestOptionalJWTNeverBlocks(t *testing.T) {
	router := newTestRouter()
	router.POST("/register", OptionalJWT(testValidator()), func(c *gin.Context) {
		if claims, ok := Claims(c); ok {
			c.String(http.StatusOK, string(claims.Role))
			return
		}
		c.String(http.StatusOK, "anonymous")
	})

	assert.Equal(t, "anonymous", serve(router, http.MethodPost, "/register", "").Body.String())
	assert.Equal(t, "anonymous", serve(router, http.MethodPost, "/register", "bogus").Body.String())
	assert.Equal(t, "ADMIN", serve(router, http.MethodPost, "/register", "admin").Body.String())
}

func TestRBACAllowsRoleOrLinkedStudent(t *testing.T) {
	router := newTestRouter()
	router.GET("/students/:id/results", JWT(testValidator()), RBAC(string(models.RoleAdmin), Self), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	router.GET("/subjects", JWT(testValidator()), RequireRoles(models.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	assert.Equal(t, http.StatusNoContent, serve(router, http.MethodGet, "/students/stu-9/results", "admin").Code)
	assert.Equal(t, http.StatusNoContent, serve(router, http.MethodGet, "/students/stu-1/results", "student").Code)

	forbidden := serve(router, http.MethodGet, "/students/stu-9/results", "student")
	assert.Equal(t, http.StatusForbidden, forbidden.Code)
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(forbidden.Body.Bytes(), &body))
	assert.Equal(t, appErrors.ErrForbidden.Code, body.Error.Code)

	assert.Equal(t, http.StatusForbidden, serve(router, http.MethodGet, "/subjects", "student").Code)
}

func TestRBACWithoutClaims(t *testing.T) {
	router := newTestRouter()
	router.GET("/students/:id", RBAC(Self), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodGet, "/students/stu-1", "").Code)
}

func TestAuditRecordsSuccessfulRequests(t *testing.T) {
	writer := &recordingAuditWriter{}
	router := newTestRouter()
	router.DELETE("/marks/:id", JWT(testValidator()), Audit(writer, nil, models.AuditActionMarkDelete, "mark"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	router.POST("/marks", JWT(testValidator()), Audit(writer, nil, models.AuditActionMarkCreate, "mark"), func(c *gin.Context) {
		c.Status(http.StatusBadRequest)
	})

	serve(router, http.MethodDelete, "/marks/m-1", "admin")
	serve(router, http.MethodPost, "/marks", "admin")

	require.Len(t, writer.logs, 1)
	log := writer.logs[0]
	assert.Equal(t, models.AuditActionMarkDelete, log.Action)
	assert.Equal(t, "mark", log.Resource)
	require.NotNil(t, log.UserID)
	assert.Equal(t, "u-admin", *log.UserID)
	require.NotNil(t, log.ResourceID)
	assert.Equal(t, "m-1", *log.ResourceID)
	assert.Contains(t, string(log.NewValues), `"status":200`)
}

func TestAuditWriteFailureDoesNotChangeResponse(t *testing.T) {
	writer := &recordingAuditWriter{err: errors.New("db down")}
	router := newTestRouter()
	router.POST("/subjects", Audit(writer, nil, models.AuditActionSubjectWrite, "subject"), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})

	w := serve(router, http.MethodPost, "/subjects", "")
	assert.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, writer.logs, 1)
	assert.Nil(t, writer.logs[0].UserID)
}

func TestMetricsMiddlewareObservesRequests(t *testing.T) {
	metrics := service.NewMetricsService()
	router := newTestRouter()
	router.Use(Metrics(metrics))
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(router, http.MethodGet, "/health", "")
	serve(router, http.MethodGet, "/health", "")

	snapshot := metrics.Snapshot()
	assert.Equal(t, uint64(2), snapshot.RequestsTotal)
	assert.Greater(t, testutil.CollectAndCount(metrics.Registry()), 0)
}

func TestMetricsMiddlewareWithoutService(t *testing.T) {
	router := newTestRouter()
	router.Use(Metrics(nil))
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/health", "").Code)
}

func TestResponseMetaTracksCacheHit(t *testing.T) {
	router := newTestRouter()
	router.Use(WithResponseMeta())
	router.GET("/card", func(c *gin.Context) {
		SetCacheHit(c, true)
		c.JSON(http.StatusOK, ExtractMeta(c))
	})

	w := serve(router, http.MethodGet, "/card", "")
	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &meta))
	assert.Equal(t, true, meta["cache_hit"])
}
