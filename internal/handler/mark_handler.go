package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/student-results-api/internal/models"
	"github.com/noah-isme/student-results-api/internal/service"
	appErrors "github.com/noah-isme/student-results-api/pkg/errors"
	"github.com/noah-isme/student-results-api/pkg/response"
)

type markService interface {
	Create(ctx context.Context, req service.CreateMarkRequest, enteredBy string) (*service.MarkWriteResult, error)
	Update(ctx context.Context, id string, req service.UpdateMarkRequest, enteredBy string) (*service.MarkWriteResult, error)
	Delete(ctx context.Context, id string) (*service.MarkWriteResult, error)
	BulkCreate(ctx context.Context, req service.BulkMarkRequest, enteredBy string) (*service.BulkMarkResult, error)
	Get(ctx context.Context, id string) (*models.Mark, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Mark, error)
	ListBySubject(ctx context.Context, subjectID string, examType models.ExamType) ([]models.Mark, error)
	SubjectStatistics(ctx context.Context, subjectID string, examType models.ExamType) (*models.SubjectMarkStatistics, error)
}

// MarkHandler exposes mark entry endpoints.
type MarkHandler struct {
	marks markService
}

// NewMarkHandler constructs a mark handler.
func NewMarkHandler(marks markService) *MarkHandler {
	return &MarkHandler{marks: marks}
}

// Create godoc
// @Summary Record a mark
// @Description Records a mark and recomputes the student's summary. summary_refreshed is false when the write succeeded but the recompute did not.
// @Tags Marks
// @Accept json
// @Produce json
// @Param payload body service.CreateMarkRequest true "Mark payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /marks [post]
func (h *MarkHandler) Create(c *gin.Context) {
	var req service.CreateMarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid mark payload"))
		return
	}
	result, err := h.marks.Create(c.Request.Context(), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Update godoc
// @Summary Update a mark
// @Tags Marks
// @Accept json
// @Produce json
// @Param id path string true "Mark ID"
// @Param payload body service.UpdateMarkRequest true "Mark payload"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Security BearerAuth
// @Router /marks/{id} [put]
func (h *MarkHandler) Update(c *gin.Context) {
	var req service.UpdateMarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid mark payload"))
		return
	}
	result, err := h.marks.Update(c.Request.Context(), c.Param("id"), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Delete godoc
// @Summary Delete a mark
// @Tags Marks
// @Produce json
// @Param id path string true "Mark ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /marks/{id} [delete]
func (h *MarkHandler) Delete(c *gin.Context) {
	result, err := h.marks.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Get godoc
// @Summary Get a mark
// @Tags Marks
// @Produce json
// @Param id path string true "Mark ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /marks/{id} [get]
func (h *MarkHandler) Get(c *gin.Context) {
	mark, err := h.marks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, mark, nil)
}

// BulkCreate godoc
// @Summary Record marks in bulk
// @Description Rows are validated independently. Rejected rows are listed in errors; each touched student is recomputed once.
// @Tags Marks
// @Accept json
// @Produce json
// @Param payload body service.BulkMarkRequest true "Bulk payload"
// @Success 201 {object} response.Envelope
// @Success 207 {object} response.Envelope
// @Security BearerAuth
// @Router /marks/bulk [post]
func (h *MarkHandler) BulkCreate(c *gin.Context) {
	var req service.BulkMarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid bulk payload"))
		return
	}
	result, err := h.marks.BulkCreate(c.Request.Context(), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	status := http.StatusCreated
	if len(result.Errors) > 0 {
		status = http.StatusMultiStatus
	}
	response.JSON(c, status, result, nil)
}

// ListByStudent godoc
// @Summary List marks of a student
// @Tags Marks
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /students/{id}/marks [get]
func (h *MarkHandler) ListByStudent(c *gin.Context) {
	marks, err := h.marks.ListByStudent(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, marks, nil)
}

// ListBySubject godoc
// @Summary List marks of a subject
// @Tags Marks
// @Produce json
// @Param id path string true "Subject ID"
// @Param exam_type query string false "Exam type"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /subjects/{id}/marks [get]
func (h *MarkHandler) ListBySubject(c *gin.Context) {
	marks, err := h.marks.ListBySubject(c.Request.Context(), c.Param("id"), models.ExamType(c.Query("exam_type")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, marks, nil)
}

// SubjectStatistics godoc
// @Summary Mark statistics of a subject
// @Tags Marks
// @Produce json
// @Param id path string true "Subject ID"
// @Param exam_type query string false "Exam type"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /subjects/{id}/statistics [get]
func (h *MarkHandler) SubjectStatistics(c *gin.Context) {
	stats, err := h.marks.SubjectStatistics(c.Request.Context(), c.Param("id"), models.ExamType(c.Query("exam_type")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}
