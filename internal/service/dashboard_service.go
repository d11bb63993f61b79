package service

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/student-results-api/internal/models"
	appErrors "github.com/noah-isme/student-results-api/pkg/errors"
)

type studentAggregates interface {
	InstitutionOverview(ctx context.Context) (*models.InstitutionOverview, error)
	PerformanceBy(ctx context.Context, group string) ([]models.GroupPerformance, error)
	TopAchievers(ctx context.Context, limit int) ([]models.Achiever, error)
}

type markAggregates interface {
	Totals(ctx context.Context) (*models.MarkTotals, error)
	Recent(ctx context.Context, limit int) ([]models.RecentMark, error)
}

type subjectCounter interface {
	Count(ctx context.Context) (int, error)
}

// DashboardServiceConfig tunes dashboard behaviour.
type DashboardServiceConfig struct {
	CacheTTL          time.Duration
	RecentMarksLimit  int
	TopAchieversLimit int
}

// DashboardServiceParams groups constructor dependencies.
type DashboardServiceParams struct {
	Students studentAggregates
	Marks    markAggregates
	Subjects subjectCounter
	Cache    *CacheService
	Logger   *zap.Logger
	Config   DashboardServiceConfig
}

// DashboardService composes institution-wide summaries from the stored student summaries.
type DashboardService struct {
	students studentAggregates
	marks    markAggregates
	subjects subjectCounter
	cache    *CacheService
	logger   *zap.Logger
	now      func() time.Time
	cfg      DashboardServiceConfig
}

// NewDashboardService constructs a DashboardService with sane defaults.
func NewDashboardService(params DashboardServiceParams) *DashboardService {
	cfg := params.Config
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}
	if cfg.RecentMarksLimit <= 0 {
		cfg.RecentMarksLimit = 10
	}
	if cfg.TopAchieversLimit <= 0 {
		cfg.TopAchieversLimit = 20
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardService{
		students: params.Students,
		marks:    params.Marks,
		subjects: params.Subjects,
		cache:    params.Cache,
		logger:   logger,
		now:      time.Now,
		cfg:      cfg,
	}
}

// Admin returns the administrator summary and indicates cache utilisation.
func (s *DashboardService) Admin(ctx context.Context) (*models.AdminDashboard, bool, error) {
	var cached models.AdminDashboard
	hit, err := s.cache.Get(ctx, AdminDashboardKey, &cached)
	if err != nil {
		s.logger.Warn("dashboard cache read failed", zap.Error(err))
	} else if hit {
		return &cached, true, nil
	}

	summary, err := s.composeAdmin(ctx)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to build dashboard")
	}
	if err := s.cache.Set(ctx, AdminDashboardKey, summary, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("dashboard cache write failed", zap.Error(err))
	}
	return summary, false, nil
}

func (s *DashboardService) composeAdmin(ctx context.Context) (*models.AdminDashboard, error) {
	overview, err := s.students.InstitutionOverview(ctx)
	if err != nil {
		return nil, err
	}
	overview.PassPercentage = percentageOf(overview.PassedStudents, overview.TotalStudents)

	departments, err := s.students.PerformanceBy(ctx, "department")
	if err != nil {
		return nil, err
	}
	classes, err := s.students.PerformanceBy(ctx, "class")
	if err != nil {
		return nil, err
	}
	achievers, err := s.students.TopAchievers(ctx, s.cfg.TopAchieversLimit)
	if err != nil {
		return nil, err
	}
	subjects, err := s.subjects.Count(ctx)
	if err != nil {
		return nil, err
	}
	totals, err := s.marks.Totals(ctx)
	if err != nil {
		return nil, err
	}
	recent, err := s.marks.Recent(ctx, s.cfg.RecentMarksLimit)
	if err != nil {
		return nil, err
	}

	return &models.AdminDashboard{
		TotalStudents:         overview.TotalStudents,
		TotalSubjects:         subjects,
		Marks:                 *totals,
		RecentMarks:           nonNil(recent),
		Institution:           *overview,
		DepartmentPerformance: rankGroups(departments),
		ClassPerformance:      rankGroups(classes),
		TopAchievers:          nonNil(achievers),
		GeneratedAt:           s.now().UTC(),
	}, nil
}

// rankGroups fills pass percentages and orders groups by them, best first.
func rankGroups(groups []models.GroupPerformance) []models.GroupPerformance {
	for i := range groups {
		groups[i].PassPercentage = percentageOf(groups[i].PassedStudents, groups[i].TotalStudents)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].PassPercentage > groups[j].PassPercentage
	})
	return nonNil(groups)
}

func percentageOf(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*10000) / 100
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
