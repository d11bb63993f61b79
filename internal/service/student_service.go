package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/student-results-api/internal/grading"
	"github.com/noah-isme/student-results-api/internal/models"
	"github.com/noah-isme/student-results-api/pkg/database"
	appErrors "github.com/noah-isme/student-results-api/pkg/errors"
)

const (
	defaultTopPerformers   = 5
	codeGenerationAttempts = 3
)

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
	ExistsByCode(ctx context.Context, code string, excludeID string) (bool, error)
	MaxCodeSequence(ctx context.Context, prefix string) (int, error)
	Create(ctx context.Context, student *models.Student) error
	UpdateProfile(ctx context.Context, student *models.Student) error
	Delete(ctx context.Context, id string) error
	DepartmentStatistics(ctx context.Context, department string, top int) (*models.DepartmentStatistics, error)
}

type resultPreviewer interface {
	Preview(ctx context.Context, student *models.Student) (*RecomputeResult, error)
}

// StudentRequest holds payload for creating or updating students.
type StudentRequest struct {
	Code         string `json:"code" validate:"omitempty,max=20"`
	Name         string `json:"name" validate:"required,max=100"`
	Email        string `json:"email" validate:"required,email"`
	Phone        string `json:"phone" validate:"omitempty,max=20"`
	Address      string `json:"address" validate:"omitempty,max=255"`
	ClassName    string `json:"class_name" validate:"omitempty,max=50"`
	Department   string `json:"department" validate:"required,max=20"`
	CurrentTerm  int    `json:"current_term" validate:"omitempty,min=1,max=8"`
	AcademicYear string `json:"academic_year" validate:"omitempty,max=20"`
}

// StudentResults is the result view of a student: stored summary plus per-subject detail.
type StudentResults struct {
	Student  *models.Student         `json:"student"`
	Results  []grading.SubjectResult `json:"results"`
	Warnings []grading.Warning       `json:"warnings,omitempty"`
}

// StudentService handles student use-cases.
type StudentService struct {
	repo      studentRepository
	results   resultPreviewer
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewStudentService constructs the student service.
func NewStudentService(repo studentRepository, results resultPreviewer, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, results: results, cache: cache, validator: validate, logger: logger, now: time.Now}
}

// List returns students and pagination metadata.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
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
	return students, pagination, nil
}

// Get retrieves a student by ID.
func (s *StudentService) Get(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to get student")
	}
	return student, nil
}

// Create registers a new student with a not-evaluated summary. A blank code is generated from
// the department, the year and a running sequence.
func (s *StudentService) Create(ctx context.Context, req StudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}

	student := s.fromRequest(req)
	student.StudentSummary = models.DefaultSummary()
	if student.Code != "" {
		if err := s.insert(ctx, student); err != nil {
			return nil, err
		}
	} else if err := s.insertWithGeneratedCode(ctx, student); err != nil {
		return nil, err
	}
	s.logger.Info("student created", zap.String("student_id", student.ID), zap.String("code", student.Code))
	return student, nil
}

// Update modifies profile fields. The summary can only change through a recompute.
func (s *StudentService) Update(ctx context.Context, id string, req StudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updated := s.fromRequest(req)
	if updated.Code == "" {
		updated.Code = existing.Code
	}
	exists, err := s.repo.ExistsByCode(ctx, updated.Code, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check student code")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student code already exists")
	}

	updated.ID = existing.ID
	updated.CreatedAt = existing.CreatedAt
	updated.StudentSummary = existing.StudentSummary
	if err := s.repo.UpdateProfile(ctx, updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		if database.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "student code already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student")
	}
	if err := s.cache.InvalidateStudent(ctx, id); err != nil {
		s.logger.Warn("report cache invalidation failed", zap.String("student_id", id), zap.Error(err))
	}
	return updated, nil
}

// Delete removes the student together with their marks.
func (s *StudentService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete student")
	}
	if err := s.cache.InvalidateStudent(ctx, id); err != nil {
		s.logger.Warn("report cache invalidation failed", zap.String("student_id", id), zap.Error(err))
	}
	s.logger.Info("student deleted", zap.String("student_id", id))
	return nil
}

// Results returns the stored summary with per-subject results graded against current subjects.
func (s *StudentService) Results(ctx context.Context, id string) (*StudentResults, error) {
	student, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	preview, err := s.results.Preview(ctx, student)
	if err != nil {
		return nil, err
	}
	return &StudentResults{Student: student, Results: preview.Results, Warnings: preview.Warnings}, nil
}

// DepartmentStatistics summarises the students of a department.
func (s *StudentService) DepartmentStatistics(ctx context.Context, department string, top int) (*models.DepartmentStatistics, error) {
	department = strings.ToUpper(strings.TrimSpace(department))
	if department == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "department is required")
	}
	if top <= 0 {
		top = defaultTopPerformers
	}
	stats, err := s.repo.DepartmentStatistics(ctx, department, top)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute department statistics")
	}
	return stats, nil
}

func (s *StudentService) fromRequest(req StudentRequest) *models.Student {
	term := req.CurrentTerm
	if term == 0 {
		term = 1
	}
	return &models.Student{
		Code:         strings.ToUpper(strings.TrimSpace(req.Code)),
		Name:         strings.TrimSpace(req.Name),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		Phone:        strings.TrimSpace(req.Phone),
		Address:      strings.TrimSpace(req.Address),
		ClassName:    strings.TrimSpace(req.ClassName),
		Department:   strings.ToUpper(strings.TrimSpace(req.Department)),
		CurrentTerm:  term,
		AcademicYear: strings.TrimSpace(req.AcademicYear),
	}
}

// insert stores a student whose code was supplied by the caller.
func (s *StudentService) insert(ctx context.Context, student *models.Student) error {
	exists, err := s.repo.ExistsByCode(ctx, student.Code, "")
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check student code")
	}
	if exists {
		return appErrors.Clone(appErrors.ErrConflict, "student code already exists")
	}
	if err := s.repo.Create(ctx, student); err != nil {
		if database.IsUniqueViolation(err) {
			return appErrors.Clone(appErrors.ErrConflict, "student code already exists")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
	}
	return nil
}

// insertWithGeneratedCode takes the next free code for the department and year, trying again when
// a concurrent create claimed it first.
func (s *StudentService) insertWithGeneratedCode(ctx context.Context, student *models.Student) error {
	for attempt := 0; attempt < codeGenerationAttempts; attempt++ {
		code, err := s.generateCode(ctx, student.Department)
		if err != nil {
			return err
		}
		student.Code = code
		err = s.repo.Create(ctx, student)
		if err == nil {
			return nil
		}
		if !database.IsUniqueViolation(err) {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
		}
		s.logger.Warn("generated student code taken, retrying", zap.String("code", code), zap.Int("attempt", attempt+1))
	}
	return appErrors.Clone(appErrors.ErrConflict, "could not allocate a student code, try again")
}

// generateCode builds codes such as CSE24A001, continuing after the highest code in use.
func (s *StudentService) generateCode(ctx context.Context, department string) (string, error) {
	prefix := fmt.Sprintf("%s%02dA", department, s.now().Year()%100)
	seq, err := s.repo.MaxCodeSequence(ctx, prefix)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate student code")
	}
	return fmt.Sprintf("%s%03d", prefix, seq+1), nil
}
