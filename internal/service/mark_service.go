package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/student-results-api/internal/grading"
	"github.com/noah-isme/student-results-api/internal/models"
	"github.com/noah-isme/student-results-api/pkg/database"
	appErrors "github.com/noah-isme/student-results-api/pkg/errors"
)

type markRepository interface {
	ListByStudent(ctx context.Context, studentID string) ([]models.Mark, error)
	List(ctx context.Context, filter models.MarkFilter) ([]models.Mark, error)
	FindByID(ctx context.Context, id string) (*models.Mark, error)
	FindByKey(ctx context.Context, studentID, subjectID string, examType models.ExamType) (*models.Mark, error)
	Create(ctx context.Context, mark *models.Mark) error
	Update(ctx context.Context, mark *models.Mark) error
	Delete(ctx context.Context, id string) error
	SubjectStatistics(ctx context.Context, subjectID string, examType models.ExamType) (*models.SubjectMarkStatistics, error)
}

type markStudentLookup interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type markSubjectLookup interface {
	FindByID(ctx context.Context, id string) (*models.Subject, error)
}

// Mark write operations used as metric labels.
const (
	markOpCreate = "create"
	markOpUpsert = "upsert"
	markOpUpdate = "update"
	markOpDelete = "delete"
)

// MaxBulkMarks bounds a single bulk entry request.
const MaxBulkMarks = 500

// CreateMarkRequest records a score either directly or through its components.
type CreateMarkRequest struct {
	StudentID     string                 `json:"student_id" validate:"required"`
	SubjectID     string                 `json:"subject_id" validate:"required"`
	ExamType      models.ExamType        `json:"exam_type" validate:"required,oneof=midterm final quiz assignment regular supplementary improvement"`
	MarksObtained *float64               `json:"marks_obtained" validate:"omitempty,gte=0"`
	Components    *models.MarkComponents `json:"components"`
	ExamDate      *time.Time             `json:"exam_date"`
	// Upsert overwrites an existing mark for the same student, subject and exam type.
	Upsert bool `json:"upsert"`
}

// UpdateMarkRequest rewrites the score of an existing mark.
type UpdateMarkRequest struct {
	MarksObtained *float64               `json:"marks_obtained" validate:"omitempty,gte=0"`
	Components    *models.MarkComponents `json:"components"`
	ExamDate      *time.Time             `json:"exam_date"`
}

// BulkMarkRequest enters many marks in one call.
type BulkMarkRequest struct {
	Marks []CreateMarkRequest `json:"marks" validate:"required,min=1"`
}

// MarkWriteResult is returned by every mark mutation. The write and the summary refresh it
// triggered are reported separately.
type MarkWriteResult struct {
	Mark *models.Mark `json:"mark,omitempty"`
	SummaryRefresh
}

// BulkRowError describes why one row of a bulk request was rejected.
type BulkRowError struct {
	Index     int    `json:"index"`
	StudentID string `json:"student_id"`
	SubjectID string `json:"subject_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// BulkMarkResult summarises a bulk entry.
type BulkMarkResult struct {
	Created   []models.Mark             `json:"created"`
	Errors    []BulkRowError            `json:"errors,omitempty"`
	Summaries map[string]SummaryRefresh `json:"summaries"`
}

// MarkService records marks and keeps the owning student's summary in step.
type MarkService struct {
	marks     markRepository
	students  markStudentLookup
	subjects  markSubjectLookup
	sync      summaryRefresher
	engine    *grading.Engine
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
}

// NewMarkService constructs the mark service.
func NewMarkService(marks markRepository, students markStudentLookup, subjects markSubjectLookup, sync summaryRefresher, engine *grading.Engine, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *MarkService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if engine == nil {
		engine, _ = grading.NewEngine(grading.DefaultPolicy())
	}
	return &MarkService{
		marks:     marks,
		students:  students,
		subjects:  subjects,
		sync:      sync,
		engine:    engine,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
	}
}

// Create records a mark and refreshes the student's summary.
func (s *MarkService) Create(ctx context.Context, req CreateMarkRequest, enteredBy string) (*MarkWriteResult, error) {
	mark, op, err := s.write(ctx, req, enteredBy)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordMarkWrite(op)
	return &MarkWriteResult{Mark: mark, SummaryRefresh: s.sync.Refresh(ctx, mark.StudentID)}, nil
}

// Update rewrites a mark's score and refreshes the student's summary.
func (s *MarkService) Update(ctx context.Context, id string, req UpdateMarkRequest, enteredBy string) (*MarkWriteResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid mark payload")
	}
	mark, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	subject, err := s.subjects.FindByID(ctx, mark.SubjectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrOrphanedReference, fmt.Sprintf("subject %s of mark %s no longer exists", mark.SubjectID, mark.ID))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject")
	}

	raw, err := resolveScore(req.MarksObtained, req.Components, subject)
	if err != nil {
		return nil, err
	}
	mark.RawScore = raw
	mark.Components = req.Components
	if req.ExamDate != nil {
		mark.ExamDate = *req.ExamDate
	}
	if enteredBy != "" {
		mark.EnteredBy = &enteredBy
	}
	if err := s.grade(mark, subject); err != nil {
		return nil, err
	}
	if err := s.marks.Update(ctx, mark); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "mark not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update mark")
	}
	s.metrics.RecordMarkWrite(markOpUpdate)
	return &MarkWriteResult{Mark: mark, SummaryRefresh: s.sync.Refresh(ctx, mark.StudentID)}, nil
}

// Delete removes a mark and refreshes the student's summary. Deleting the last mark resets the
// summary to its not-evaluated defaults.
func (s *MarkService) Delete(ctx context.Context, id string) (*MarkWriteResult, error) {
	mark, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.marks.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "mark not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete mark")
	}
	s.metrics.RecordMarkWrite(markOpDelete)
	return &MarkWriteResult{Mark: mark, SummaryRefresh: s.sync.Refresh(ctx, mark.StudentID)}, nil
}

// BulkCreate records each row independently and refreshes every touched student once.
func (s *MarkService) BulkCreate(ctx context.Context, req BulkMarkRequest, enteredBy string) (*BulkMarkResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk payload")
	}
	if len(req.Marks) > MaxBulkMarks {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("at most %d marks per request", MaxBulkMarks))
	}

	result := &BulkMarkResult{Created: make([]models.Mark, 0, len(req.Marks)), Summaries: map[string]SummaryRefresh{}}
	var touched []string
	seen := map[string]struct{}{}
	for i, row := range req.Marks {
		mark, op, err := s.write(ctx, row, enteredBy)
		if err != nil {
			appErr := appErrors.FromError(err)
			result.Errors = append(result.Errors, BulkRowError{
				Index:     i,
				StudentID: row.StudentID,
				SubjectID: row.SubjectID,
				Code:      appErr.Code,
				Message:   appErr.Message,
			})
			continue
		}
		s.metrics.RecordMarkWrite(op)
		result.Created = append(result.Created, *mark)
		if _, ok := seen[mark.StudentID]; !ok {
			seen[mark.StudentID] = struct{}{}
			touched = append(touched, mark.StudentID)
		}
	}

	sort.Strings(touched)
	for _, studentID := range touched {
		result.Summaries[studentID] = s.sync.Refresh(ctx, studentID)
	}
	s.logger.Info("bulk marks recorded",
		zap.Int("created", len(result.Created)),
		zap.Int("rejected", len(result.Errors)),
		zap.Int("students", len(touched)),
	)
	return result, nil
}

// Get returns a mark by identifier.
func (s *MarkService) Get(ctx context.Context, id string) (*models.Mark, error) {
	mark, err := s.marks.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "mark not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load mark")
	}
	return mark, nil
}

// ListByStudent returns every mark of a student.
func (s *MarkService) ListByStudent(ctx context.Context, studentID string) ([]models.Mark, error) {
	if _, err := s.loadStudent(ctx, studentID); err != nil {
		return nil, err
	}
	marks, err := s.marks.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list marks")
	}
	return marks, nil
}

// ListBySubject returns the marks recorded for a subject, optionally for one exam type.
func (s *MarkService) ListBySubject(ctx context.Context, subjectID string, examType models.ExamType) ([]models.Mark, error) {
	if _, err := s.loadSubject(ctx, subjectID); err != nil {
		return nil, err
	}
	marks, err := s.marks.List(ctx, models.MarkFilter{SubjectID: subjectID, ExamType: examType})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list marks")
	}
	return marks, nil
}

// SubjectStatistics aggregates the marks of a subject.
func (s *MarkService) SubjectStatistics(ctx context.Context, subjectID string, examType models.ExamType) (*models.SubjectMarkStatistics, error) {
	if _, err := s.loadSubject(ctx, subjectID); err != nil {
		return nil, err
	}
	stats, err := s.marks.SubjectStatistics(ctx, subjectID, examType)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute subject statistics")
	}
	return stats, nil
}

// write validates and persists one create request without refreshing the summary.
func (s *MarkService) write(ctx context.Context, req CreateMarkRequest, enteredBy string) (*models.Mark, string, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid mark payload")
	}
	if _, err := s.loadStudent(ctx, req.StudentID); err != nil {
		return nil, "", err
	}
	subject, err := s.loadSubject(ctx, req.SubjectID)
	if err != nil {
		return nil, "", err
	}
	raw, err := resolveScore(req.MarksObtained, req.Components, subject)
	if err != nil {
		return nil, "", err
	}

	existing, err := s.marks.FindByKey(ctx, req.StudentID, req.SubjectID, req.ExamType)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing mark")
	}
	if existing != nil && !req.Upsert {
		return nil, "", appErrors.Clone(appErrors.ErrDuplicateMark, fmt.Sprintf("%s mark for subject %s already exists; set upsert to overwrite", req.ExamType, subject.Code))
	}

	mark := existing
	op := markOpUpsert
	if mark == nil {
		mark = &models.Mark{StudentID: req.StudentID, SubjectID: req.SubjectID, ExamType: req.ExamType}
		op = markOpCreate
	}
	mark.RawScore = raw
	mark.Components = req.Components
	if req.ExamDate != nil {
		mark.ExamDate = *req.ExamDate
	}
	if enteredBy != "" {
		mark.EnteredBy = &enteredBy
	}
	if err := s.grade(mark, subject); err != nil {
		return nil, "", err
	}

	if op == markOpUpsert {
		err = s.marks.Update(ctx, mark)
	} else {
		err = s.marks.Create(ctx, mark)
	}
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, "", appErrors.Clone(appErrors.ErrDuplicateMark, fmt.Sprintf("%s mark for subject %s already exists", req.ExamType, subject.Code))
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save mark")
	}
	mark.SubjectCode = subject.Code
	mark.SubjectName = subject.Name
	return mark, op, nil
}

func (s *MarkService) grade(mark *models.Mark, subject *models.Subject) error {
	result, err := s.engine.ComputeResult(*mark, subject)
	if err != nil {
		if errors.Is(err, grading.ErrInvalidFullMarks) {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("subject %s has invalid full marks", subject.Code))
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to grade mark")
	}
	mark.ResultSnapshot = result.ResultSnapshot
	return nil
}

func (s *MarkService) loadStudent(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.students.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("student %s not found", id))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

func (s *MarkService) loadSubject(ctx context.Context, id string) (*models.Subject, error) {
	subject, err := s.subjects.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("subject %s not found", id))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject")
	}
	return subject, nil
}

// resolveScore picks the raw score from either the direct value or the component breakdown and
// checks it against the subject's full marks.
func resolveScore(direct *float64, components *models.MarkComponents, subject *models.Subject) (float64, error) {
	var raw float64
	switch {
	case components != nil:
		if err := validateComponents(*components); err != nil {
			return 0, err
		}
		raw = components.Total()
		if direct != nil && *direct != raw {
			return 0, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("marks_obtained %.2f does not match component total %.2f", *direct, raw))
		}
	case direct != nil:
		raw = *direct
	default:
		return 0, appErrors.Clone(appErrors.ErrValidation, "either marks_obtained or components is required")
	}
	if raw < 0 {
		return 0, appErrors.Clone(appErrors.ErrValidation, "marks_obtained cannot be negative")
	}
	if raw > subject.FullMarks {
		return 0, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("marks_obtained %.2f exceeds full marks %.2f for subject %s", raw, subject.FullMarks, subject.Code))
	}
	return raw, nil
}

func validateComponents(c models.MarkComponents) error {
	checks := []struct {
		name  string
		value float64
		max   float64
	}{
		{"theory", c.Theory, models.MaxTheoryMarks},
		{"practical", c.Practical, models.MaxPracticalMarks},
		{"internal", c.Internal, models.MaxInternalMarks},
		{"attendance", c.Attendance, models.MaxAttendanceMarks},
	}
	for _, check := range checks {
		if check.value < 0 || check.value > check.max {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s marks must be between 0 and %.0f", check.name, check.max))
		}
	}
	return nil
}
