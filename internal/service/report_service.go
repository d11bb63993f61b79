package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/student-results-api/internal/grading"
	"github.com/noah-isme/student-results-api/internal/models"
	appErrors "github.com/noah-isme/student-results-api/pkg/errors"
	"github.com/noah-isme/student-results-api/pkg/export"
)

// Report card subject bands by percentage.
const (
	strongSubjectThreshold  = 80.0
	averageSubjectThreshold = 60.0
)

// Supported export formats.
const (
	ReportFormatCSV = "csv"
	ReportFormatPDF = "pdf"
)

type reportStudentLookup interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ReportCard is the printable result sheet of one student.
type ReportCard struct {
	Student         models.Student          `json:"student"`
	Subjects        []grading.SubjectResult `json:"subjects"`
	StrongSubjects  []string                `json:"strong_subjects"`
	AverageSubjects []string                `json:"average_subjects"`
	WeakSubjects    []string                `json:"weak_subjects"`
	Warnings        []grading.Warning       `json:"warnings,omitempty"`
	GeneratedAt     time.Time               `json:"generated_at"`
	CacheHit        bool                    `json:"-"`
}

// ReportFile is a rendered export ready to be streamed.
type ReportFile struct {
	Filename    string
	ContentType string
	Body        []byte
}

// ReportService builds report cards and their exports.
type ReportService struct {
	students reportStudentLookup
	results  resultPreviewer
	cache    *CacheService
	csv      csvRenderer
	pdf      pdfRenderer
	logger   *zap.Logger
	cacheTTL time.Duration
	now      func() time.Time
}

// NewReportService constructs the report service.
func NewReportService(students reportStudentLookup, results resultPreviewer, cache *CacheService, csv csvRenderer, pdf pdfRenderer, cacheTTL time.Duration, logger *zap.Logger) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter("")
	}
	return &ReportService{
		students: students,
		results:  results,
		cache:    cache,
		csv:      csv,
		pdf:      pdf,
		logger:   logger,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// ReportCard returns the student's report card, served from cache when the summary is consistent.
func (s *ReportService) ReportCard(ctx context.Context, studentID string) (*ReportCard, error) {
	key := ReportCardKey(studentID)
	var cached ReportCard
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		cached.CacheHit = true
		return &cached, nil
	}

	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	preview, err := s.results.Preview(ctx, student)
	if err != nil {
		return nil, err
	}

	card := &ReportCard{
		Student:         *student,
		Subjects:        preview.Results,
		StrongSubjects:  []string{},
		AverageSubjects: []string{},
		WeakSubjects:    []string{},
		Warnings:        preview.Warnings,
		GeneratedAt:     s.now().UTC(),
	}
	for _, result := range preview.Results {
		label := result.SubjectCode
		switch {
		case result.Percentage >= strongSubjectThreshold:
			card.StrongSubjects = append(card.StrongSubjects, label)
		case result.Percentage >= averageSubjectThreshold:
			card.AverageSubjects = append(card.AverageSubjects, label)
		default:
			card.WeakSubjects = append(card.WeakSubjects, label)
		}
	}

	if student.SyncState == models.SyncStateConsistent {
		if err := s.cache.Set(ctx, key, card, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache report card", zap.String("student_id", studentID), zap.Error(err))
		}
	}
	return card, nil
}

// Export renders the report card as CSV or PDF.
func (s *ReportService) Export(ctx context.Context, studentID, format string) (*ReportFile, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = ReportFormatPDF
	}
	if format != ReportFormatCSV && format != ReportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	card, err := s.ReportCard(ctx, studentID)
	if err != nil {
		return nil, err
	}
	dataset := reportDataset(card)
	filename := fmt.Sprintf("report-card-%s.%s", strings.ToLower(card.Student.Code), format)

	var body []byte
	contentType := "text/csv"
	if format == ReportFormatCSV {
		body, err = s.csv.Render(dataset)
	} else {
		contentType = "application/pdf"
		body, err = s.pdf.Render(dataset, "Report Card")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render report card")
	}
	return &ReportFile{Filename: filename, ContentType: contentType, Body: body}, nil
}

func reportDataset(card *ReportCard) export.Dataset {
	st := card.Student
	summary := []export.Field{
		{Label: "Student", Value: st.Name},
		{Label: "Code", Value: st.Code},
		{Label: "Department", Value: st.Department},
		{Label: "Term", Value: fmt.Sprintf("%d", st.CurrentTerm)},
		{Label: "Average", Value: formatFloat(st.Average)},
		{Label: "Percentage", Value: formatFloat(st.OverallPercentage)},
		{Label: "CGPA", Value: formatFloat(st.CGPA)},
		{Label: "Credits", Value: fmt.Sprintf("%d/%d", st.EarnedCredits, st.TotalCredits)},
		{Label: "Grade", Value: st.Grade},
		{Label: "Status", Value: st.Status},
		{Label: "Remark", Value: st.ProgressRemark},
	}
	headers := []string{"Code", "Subject", "Exam", "Term", "Credits", "Marks", "Percentage", "Grade", "Result"}
	rows := make([]map[string]string, 0, len(card.Subjects))
	for _, r := range card.Subjects {
		result := "FAIL"
		if r.Passed {
			result = "PASS"
		}
		rows = append(rows, map[string]string{
			"Code":       r.SubjectCode,
			"Subject":    r.SubjectName,
			"Exam":       string(r.ExamType),
			"Term":       fmt.Sprintf("%d", r.Term),
			"Credits":    fmt.Sprintf("%d", r.Credits),
			"Marks":      fmt.Sprintf("%s/%s", formatFloat(r.RawScore), formatFloat(r.FullMarks)),
			"Percentage": formatFloat(r.Percentage),
			"Grade":      r.Grade,
			"Result":     result,
		})
	}
	return export.Dataset{Summary: summary, Headers: headers, Rows: rows}
}

func formatFloat(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
