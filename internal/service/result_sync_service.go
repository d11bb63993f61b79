package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/student-results-api/internal/grading"
	"github.com/noah-isme/student-results-api/internal/models"
	appErrors "github.com/noah-isme/student-results-api/pkg/errors"
)

const defaultRecomputeAttempts = 3

type summaryStudentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	MarkStale(ctx context.Context, id string) error
	SetSyncState(ctx context.Context, id string, state models.SyncState) error
	UpdateSummary(ctx context.Context, id string, expectedVersion int64, summary models.StudentSummary) (bool, error)
}

type summaryMarkRepository interface {
	ListByStudent(ctx context.Context, studentID string) ([]models.Mark, error)
}

type summarySubjectRepository interface {
	ListByDepartment(ctx context.Context, department string) ([]models.Subject, error)
	FindByIDs(ctx context.Context, ids []string) ([]models.Subject, error)
}

// RetryScheduler queues a background recompute for a student whose summary was left stale.
type RetryScheduler interface {
	Schedule(studentID string) error
}

// RecomputeResult is what a successful recompute wrote, plus the per-subject detail it was derived from.
type RecomputeResult struct {
	Summary  models.StudentSummary   `json:"summary"`
	Results  []grading.SubjectResult `json:"results"`
	Warnings []grading.Warning       `json:"warnings,omitempty"`
}

// SummaryRefresh tells a caller how the recompute triggered by its write went. A write can
// succeed while its recompute fails; SummaryRefreshed is false and SummaryError says why.
type SummaryRefresh struct {
	Summary          *models.StudentSummary `json:"summary,omitempty"`
	SummaryRefreshed bool                   `json:"summary_refreshed"`
	SummaryError     string                 `json:"summary_error,omitempty"`
	Warnings         []grading.Warning      `json:"warnings,omitempty"`
}

// RefreshFailure names a student whose summary could not be refreshed after a bulk change.
type RefreshFailure struct {
	StudentID string `json:"student_id"`
	Error     string `json:"error"`
}

// ResultSyncService keeps each student's denormalised summary in step with their marks.
type ResultSyncService struct {
	students    summaryStudentRepository
	marks       summaryMarkRepository
	subjects    summarySubjectRepository
	engine      *grading.Engine
	cache       *CacheService
	metrics     *MetricsService
	logger      *zap.Logger
	maxAttempts int
	retries     RetryScheduler
	locks       *keyedMutex
	now         func() time.Time
}

// ResultSyncConfig bundles the collaborators of ResultSyncService.
type ResultSyncConfig struct {
	Students    summaryStudentRepository
	Marks       summaryMarkRepository
	Subjects    summarySubjectRepository
	Engine      *grading.Engine
	Cache       *CacheService
	Metrics     *MetricsService
	Logger      *zap.Logger
	MaxAttempts int
	Retries     RetryScheduler
}

// NewResultSyncService constructs the sync service.
func NewResultSyncService(cfg ResultSyncConfig) (*ResultSyncService, error) {
	engine := cfg.Engine
	if engine == nil {
		var err error
		engine, err = grading.NewEngine(grading.DefaultPolicy())
		if err != nil {
			return nil, err
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultRecomputeAttempts
	}
	return &ResultSyncService{
		students:    cfg.Students,
		marks:       cfg.Marks,
		subjects:    cfg.Subjects,
		engine:      engine,
		cache:       cfg.Cache,
		metrics:     cfg.Metrics,
		logger:      logger,
		maxAttempts: attempts,
		retries:     cfg.Retries,
		locks:       newKeyedMutex(),
		now:         time.Now,
	}, nil
}

// Engine exposes the grading engine used for recomputes.
func (s *ResultSyncService) Engine() *grading.Engine {
	return s.engine
}

// MarkStale records that the student's marks changed since the last recompute.
func (s *ResultSyncService) MarkStale(ctx context.Context, studentID string) error {
	if err := s.students.MarkStale(ctx, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark summary stale")
	}
	return nil
}

// Refresh marks the student stale and recomputes straight away. It never fails the caller's write.
func (s *ResultSyncService) Refresh(ctx context.Context, studentID string) SummaryRefresh {
	if err := s.MarkStale(ctx, studentID); err != nil {
		s.logger.Warn("failed to mark summary stale", zap.String("student_id", studentID), zap.Error(err))
	}
	result, err := s.RecomputeSummary(ctx, studentID)
	if err != nil {
		if appErrors.Is(err, appErrors.ErrSummaryNotRefreshed) {
			s.scheduleRetry(studentID)
		}
		return SummaryRefresh{SummaryError: err.Error()}
	}
	summary := result.Summary
	return SummaryRefresh{Summary: &summary, SummaryRefreshed: true, Warnings: result.Warnings}
}

// UseRetries sets the scheduler that picks up students left stale by a failed refresh.
func (s *ResultSyncService) UseRetries(retries RetryScheduler) {
	s.retries = retries
}

// RetryRecompute is the background counterpart of Refresh. A student deleted in the meantime
// is not an error.
func (s *ResultSyncService) RetryRecompute(ctx context.Context, studentID string) error {
	_, err := s.RecomputeSummary(ctx, studentID)
	if err != nil && appErrors.Is(err, appErrors.ErrNotFound) {
		return nil
	}
	return err
}

func (s *ResultSyncService) scheduleRetry(studentID string) {
	if s.retries == nil {
		return
	}
	if err := s.retries.Schedule(studentID); err != nil {
		s.logger.Warn("failed to schedule summary retry", zap.String("student_id", studentID), zap.Error(err))
	}
}

// RefreshAll refreshes each student in turn and reports the ones that failed.
func (s *ResultSyncService) RefreshAll(ctx context.Context, studentIDs []string) []RefreshFailure {
	var failures []RefreshFailure
	for _, id := range studentIDs {
		if refresh := s.Refresh(ctx, id); !refresh.SummaryRefreshed {
			failures = append(failures, RefreshFailure{StudentID: id, Error: refresh.SummaryError})
		}
	}
	return failures
}

// RecomputeSummary re-derives the student's summary from the complete current mark set and
// overwrites the stored one. On failure the previous summary stays in place, the student is left
// STALE and the returned error carries SUMMARY_NOT_REFRESHED.
func (s *ResultSyncService) RecomputeSummary(ctx context.Context, studentID string) (*RecomputeResult, error) {
	unlock := s.locks.Lock(studentID)
	defer unlock()

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		result, won, err := s.recomputeOnce(ctx, studentID)
		if err != nil {
			if appErrors.Is(err, appErrors.ErrNotFound) {
				return nil, err
			}
			lastErr = err
			break
		}
		if won {
			s.metrics.ObserveRecompute(RecomputeRefreshed, time.Since(start))
			if err := s.cache.InvalidateStudent(ctx, studentID); err != nil {
				s.logger.Warn("report cache invalidation failed", zap.String("student_id", studentID), zap.Error(err))
			}
			return result, nil
		}
		s.metrics.ObserveRecompute(RecomputeConflict, 0)
		s.logger.Debug("summary version moved during recompute", zap.String("student_id", studentID), zap.Int("attempt", attempt))
		lastErr = fmt.Errorf("summary version changed %d times during recompute", attempt)
	}

	s.metrics.ObserveRecompute(RecomputeFailed, time.Since(start))
	if err := s.students.SetSyncState(ctx, studentID, models.SyncStateStale); err != nil {
		s.logger.Error("failed to reset sync state", zap.String("student_id", studentID), zap.Error(err))
	}
	s.logger.Warn("summary recompute failed", zap.String("student_id", studentID), zap.Error(lastErr))
	return nil, appErrors.Wrap(lastErr, appErrors.ErrSummaryNotRefreshed.Code, appErrors.ErrSummaryNotRefreshed.Status, appErrors.ErrSummaryNotRefreshed.Message)
}

// Preview computes what the summary would be without writing it.
func (s *ResultSyncService) Preview(ctx context.Context, student *models.Student) (*RecomputeResult, error) {
	marks, err := s.marks.ListByStudent(ctx, student.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load marks")
	}
	subjects, err := s.loadSubjects(ctx, student.Department, marks)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subjects")
	}
	outcome, err := s.engine.Summarize(marks, subjects)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute results")
	}
	return &RecomputeResult{Summary: outcome.Summary, Results: outcome.Results, Warnings: outcome.Warnings}, nil
}

func (s *ResultSyncService) recomputeOnce(ctx context.Context, studentID string) (*RecomputeResult, bool, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, false, fmt.Errorf("load student: %w", err)
	}
	expected := student.SummaryVersion

	if err := s.students.SetSyncState(ctx, studentID, models.SyncStateComputing); err != nil {
		return nil, false, fmt.Errorf("enter computing state: %w", err)
	}

	marks, err := s.marks.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, false, fmt.Errorf("load marks: %w", err)
	}
	subjects, err := s.loadSubjects(ctx, student.Department, marks)
	if err != nil {
		return nil, false, fmt.Errorf("load subjects: %w", err)
	}

	outcome, err := s.engine.Summarize(marks, subjects)
	if err != nil {
		return nil, false, fmt.Errorf("compute summary: %w", err)
	}
	for _, w := range outcome.Warnings {
		s.logger.Warn("orphaned mark skipped",
			zap.String("student_id", studentID),
			zap.String("mark_id", w.MarkID),
			zap.String("subject_id", w.SubjectID),
		)
	}
	s.metrics.AddOrphanedMarks(len(outcome.Warnings))

	summary := outcome.Summary
	if student.ComputedAt != nil && summary.SameOutcome(student.StudentSummary) {
		summary.ComputedAt = student.ComputedAt
	} else {
		computedAt := s.now().UTC()
		summary.ComputedAt = &computedAt
	}
	summary.SyncState = models.SyncStateConsistent

	won, err := s.students.UpdateSummary(ctx, studentID, expected, summary)
	if err != nil {
		return nil, false, err
	}
	if !won {
		return nil, false, nil
	}
	summary.SummaryVersion = expected + 1
	return &RecomputeResult{Summary: summary, Results: outcome.Results, Warnings: outcome.Warnings}, true, nil
}

// loadSubjects resolves every subject referenced by marks: the department batch first, then the
// remaining IDs one query at a time. Subjects that cannot be found are simply absent from the map.
func (s *ResultSyncService) loadSubjects(ctx context.Context, department string, marks []models.Mark) (map[string]*models.Subject, error) {
	subjects := make(map[string]*models.Subject, len(marks))
	if len(marks) == 0 {
		return subjects, nil
	}
	if department != "" {
		batch, err := s.subjects.ListByDepartment(ctx, department)
		if err != nil {
			return nil, err
		}
		for i := range batch {
			subjects[batch[i].ID] = &batch[i]
		}
	}

	var missing []string
	seen := make(map[string]struct{})
	for _, mark := range marks {
		if _, ok := subjects[mark.SubjectID]; ok {
			continue
		}
		if _, ok := seen[mark.SubjectID]; ok {
			continue
		}
		seen[mark.SubjectID] = struct{}{}
		missing = append(missing, mark.SubjectID)
	}
	if len(missing) == 0 {
		return subjects, nil
	}
	rest, err := s.subjects.FindByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}
	for i := range rest {
		subjects[rest[i].ID] = &rest[i]
	}
	return subjects, nil
}

// keyedMutex serialises work per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu      sync.Mutex
	holders int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock blocks until key is free and returns the matching unlock func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.holders++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.holders--
		if l.holders == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
