package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/student-results-api/internal/models"
	appErrors "github.com/noah-isme/student-results-api/pkg/errors"
)

type subjectRepository interface {
	List(ctx context.Context, filter models.SubjectFilter) ([]models.Subject, int, error)
	FindByID(ctx context.Context, id string) (*models.Subject, error)
	ExistsByCode(ctx context.Context, code string, excludeID string) (bool, error)
	Create(ctx context.Context, subject *models.Subject) error
	Update(ctx context.Context, subject *models.Subject) error
	Delete(ctx context.Context, id string) ([]string, error)
}

type subjectMarkLookup interface {
	StudentIDsBySubject(ctx context.Context, subjectID string) ([]string, error)
	MaxRawScoreBySubject(ctx context.Context, subjectID string) (float64, error)
}

type summaryRefresher interface {
	Refresh(ctx context.Context, studentID string) SummaryRefresh
	RefreshAll(ctx context.Context, studentIDs []string) []RefreshFailure
}

// SubjectRequest captures fields for creating or updating subjects.
type SubjectRequest struct {
	Code       string             `json:"code" validate:"required,max=20"`
	Name       string             `json:"name" validate:"required,max=100"`
	Department string             `json:"department" validate:"required,max=20"`
	Term       int                `json:"term" validate:"required,min=1,max=8"`
	Credits    int                `json:"credits" validate:"omitempty,min=1,max=5"`
	FullMarks  float64            `json:"full_marks" validate:"omitempty,gt=0"`
	PassMarks  float64            `json:"pass_marks" validate:"omitempty,gte=0"`
	Type       models.SubjectType `json:"type" validate:"omitempty,oneof=Theory Lab Project Seminar Elective"`
}

// SubjectWriteResult reports a subject change together with the students whose summaries
// could not be refreshed afterwards.
type SubjectWriteResult struct {
	Subject           *models.Subject  `json:"subject,omitempty"`
	AffectedStudents  int              `json:"affected_students"`
	RefreshedStudents int              `json:"refreshed_students"`
	Warnings          []RefreshFailure `json:"warnings,omitempty"`
}

// SubjectService handles subject domain workflows.
type SubjectService struct {
	repo      subjectRepository
	marks     subjectMarkLookup
	sync      summaryRefresher
	validator *validator.Validate
	logger    *zap.Logger
}

// NewSubjectService creates a new subject service.
func NewSubjectService(repo subjectRepository, marks subjectMarkLookup, sync summaryRefresher, validate *validator.Validate, logger *zap.Logger) *SubjectService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubjectService{repo: repo, marks: marks, sync: sync, validator: validate, logger: logger}
}

// List returns paginated subjects.
func (s *SubjectService) List(ctx context.Context, filter models.SubjectFilter) ([]models.Subject, *models.Pagination, error) {
	subjects, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list subjects")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return subjects, pagination, nil
}

// Get returns subject by identifier.
func (s *SubjectService) Get(ctx context.Context, id string) (*models.Subject, error) {
	subject, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject")
	}
	return subject, nil
}

// Create adds a new subject ensuring code uniqueness.
func (s *SubjectService) Create(ctx context.Context, req SubjectRequest) (*models.Subject, error) {
	subject, err := s.normalize(req)
	if err != nil {
		return nil, err
	}

	exists, err := s.repo.ExistsByCode(ctx, subject.Code, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check subject code")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "subject code already exists")
	}

	if err := s.repo.Create(ctx, subject); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create subject")
	}
	s.logger.Info("subject created", zap.String("subject_id", subject.ID), zap.String("code", subject.Code))
	return subject, nil
}

// Update modifies an existing subject. Marks are graded against current subject metadata, so every
// student holding a mark on it is recomputed.
func (s *SubjectService) Update(ctx context.Context, id string, req SubjectRequest) (*SubjectWriteResult, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	subject, err := s.normalize(req)
	if err != nil {
		return nil, err
	}

	exists, err := s.repo.ExistsByCode(ctx, subject.Code, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check subject code")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "subject code already exists")
	}

	if subject.FullMarks < existing.FullMarks {
		highest, err := s.marks.MaxRawScoreBySubject(ctx, id)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check recorded marks")
		}
		if highest > subject.FullMarks {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("full_marks %.2f is below a recorded mark of %.2f", subject.FullMarks, highest))
		}
	}

	subject.ID = existing.ID
	subject.CreatedAt = existing.CreatedAt
	if err := s.repo.Update(ctx, subject); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update subject")
	}

	result := &SubjectWriteResult{Subject: subject}
	if !changesResults(existing, subject) {
		return result, nil
	}
	studentIDs, err := s.marks.StudentIDsBySubject(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load affected students")
	}
	s.refresh(ctx, result, studentIDs)
	return result, nil
}

// Delete removes a subject together with its marks and recomputes the students who held them.
func (s *SubjectService) Delete(ctx context.Context, id string) (*SubjectWriteResult, error) {
	studentIDs, err := s.repo.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete subject")
	}
	s.logger.Info("subject deleted", zap.String("subject_id", id), zap.Int("affected_students", len(studentIDs)))

	result := &SubjectWriteResult{}
	s.refresh(ctx, result, studentIDs)
	return result, nil
}

func (s *SubjectService) refresh(ctx context.Context, result *SubjectWriteResult, studentIDs []string) {
	result.AffectedStudents = len(studentIDs)
	if s.sync == nil || len(studentIDs) == 0 {
		return
	}
	result.Warnings = s.sync.RefreshAll(ctx, studentIDs)
	result.RefreshedStudents = len(studentIDs) - len(result.Warnings)
	for _, failure := range result.Warnings {
		s.logger.Warn("summary not refreshed after subject change", zap.String("student_id", failure.StudentID), zap.String("error", failure.Error))
	}
}

func (s *SubjectService) normalize(req SubjectRequest) (*models.Subject, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid subject payload")
	}

	subject := &models.Subject{
		Code:       strings.ToUpper(strings.TrimSpace(req.Code)),
		Name:       strings.TrimSpace(req.Name),
		Department: strings.ToUpper(strings.TrimSpace(req.Department)),
		Term:       req.Term,
		Credits:    req.Credits,
		FullMarks:  req.FullMarks,
		PassMarks:  req.PassMarks,
		Type:       req.Type,
	}
	if subject.Code == "" || subject.Name == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "subject code and name are required")
	}
	if subject.Credits == 0 {
		subject.Credits = models.DefaultCredits
	}
	if subject.FullMarks == 0 {
		subject.FullMarks = models.DefaultFullMarks
	}
	if subject.PassMarks == 0 {
		subject.PassMarks = math.Round(subject.FullMarks*models.DefaultPassMarks/models.DefaultFullMarks*100) / 100
	}
	if subject.Type == "" {
		subject.Type = models.SubjectTypeTheory
	}
	if subject.PassMarks > subject.FullMarks {
		return nil, appErrors.Clone(appErrors.ErrValidation, "pass_marks cannot exceed full_marks")
	}
	return subject, nil
}

func changesResults(before, after *models.Subject) bool {
	return before.FullMarks != after.FullMarks ||
		before.PassMarks != after.PassMarks ||
		before.Credits != after.Credits ||
		before.Term != after.Term ||
		before.Department != after.Department ||
		before.Code != after.Code ||
		before.Name != after.Name
}
