package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/student-results-api/internal/middleware"
	"github.com/noah-isme/student-results-api/internal/service"
	"github.com/noah-isme/student-results-api/pkg/response"
)

type reportService interface {
	ReportCard(ctx context.Context, studentID string) (*service.ReportCard, error)
	Export(ctx context.Context, studentID, format string) (*service.ReportFile, error)
}

// ReportHandler exposes reporting endpoints.
type ReportHandler struct {
	reports reportService
}

// NewReportHandler constructs handler.
func NewReportHandler(reports reportService) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// ReportCard godoc
// @Summary Student report card
// @Tags Reports
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /reports/students/{id} [get]
func (h *ReportHandler) ReportCard(c *gin.Context) {
	card, err := h.reports.ReportCard(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, card.CacheHit)
	meta := middleware.ExtractMeta(c)
	if len(card.Warnings) > 0 {
		meta["warnings"] = card.Warnings
	}
	response.JSON(c, http.StatusOK, card, nil, meta)
}

// Export godoc
// @Summary Download a report card
// @Tags Reports
// @Produce application/pdf
// @Produce text/csv
// @Param id path string true "Student ID"
// @Param format query string false "csv or pdf (default pdf)"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /reports/students/{id}/export [get]
func (h *ReportHandler) Export(c *gin.Context) {
	file, err := h.reports.Export(c.Request.Context(), c.Param("id"), c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.File(c, file.ContentType, file.Filename, file.Body)
}
