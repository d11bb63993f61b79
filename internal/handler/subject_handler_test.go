package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/student-results-api/internal/models"
	"github.com/noah-isme/student-results-api/internal/service"
	appErrors "github.com/noah-isme/student-results-api/pkg/errors"
)

type subjectServiceMock struct {
	filter    models.SubjectFilter
	createErr error
	write     *service.SubjectWriteResult
}

func (m *subjectServiceMock) List(_ context.Context, filter models.SubjectFilter) ([]models.Subject, *models.Pagination, error) {
	m.filter = filter
	return []models.Subject{}, &models.Pagination{Page: 1, PageSize: 20}, nil
}

func (m *subjectServiceMock) Get(_ context.Context, id string) (*models.Subject, error) {
	return &models.Subject{ID: id}, nil
}

func (m *subjectServiceMock) Create(_ context.Context, req service.SubjectRequest) (*models.Subject, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	return &models.Subject{ID: "sub-1", Code: req.Code}, nil
}

func (m *subjectServiceMock) Update(context.Context, string, service.SubjectRequest) (*service.SubjectWriteResult, error) {
	return m.write, nil
}

func (m *subjectServiceMock) Delete(context.Context, string) (*service.SubjectWriteResult, error) {
	return m.write, nil
}

func TestSubjectHandlerListFilters(t *testing.T) {
	mock := &subjectServiceMock{}
	h := NewSubjectHandler(mock)
	c, w := newGinContext(http.MethodGet, "/subjects?department=ece&term=2&search=circuits", nil)

	h.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ECE", mock.filter.Department)
	assert.Equal(t, 2, mock.filter.Term)
	assert.Equal(t, "circuits", mock.filter.Search)
}

func TestSubjectHandlerCreateConflict(t *testing.T) {
	h := NewSubjectHandler(&subjectServiceMock{createErr: appErrors.Clone(appErrors.ErrConflict, "subject code already exists")})
	c, w := newGinContext(http.MethodPost, "/subjects", []byte(`{"code":"cs101","name":"Programming","department":"CSE","term":1}`))

	h.Create(c)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, appErrors.ErrConflict.Code, decode(t, w).Error.Code)
}

func TestSubjectHandlerDeleteSurfacesRefreshFailures(t *testing.T) {
	mock := &subjectServiceMock{write: &service.SubjectWriteResult{
		AffectedStudents:  2,
		RefreshedStudents: 1,
		Warnings:          []service.RefreshFailure{{StudentID: "stu-2", Error: "summary not refreshed"}},
	}}
	h := NewSubjectHandler(mock)
	c, w := newGinContext(http.MethodDelete, "/subjects/sub-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "sub-1"}}

	h.Delete(c)
	require.Equal(t, http.StatusOK, w.Code)
	env := decode(t, w)
	assert.Len(t, env.Meta["warnings"], 1)

	mock.write = &service.SubjectWriteResult{Subject: &models.Subject{ID: "sub-1"}}
	c, w = newGinContext(http.MethodPut, "/subjects/sub-1", []byte(`{"code":"CS101","name":"Programming","department":"CSE","term":1}`))
	c.Params = gin.Params{{Key: "id", Value: "sub-1"}}
	h.Update(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decode(t, w).Meta)
}
