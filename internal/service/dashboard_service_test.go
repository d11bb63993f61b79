package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/student-results-api/internal/models"
	appErrors "github.com/noah-isme/student-results-api/pkg/errors"
)

type fakeStudentAggregates struct {
	overview  models.InstitutionOverview
	groups    map[string][]models.GroupPerformance
	achievers []models.Achiever
	limit     int
	err       error
	calls     int
}

func (f *fakeStudentAggregates) InstitutionOverview(context.Context) (*models.InstitutionOverview, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	overview := f.overview
	return &overview, nil
}

func (f *fakeStudentAggregates) PerformanceBy(_ context.Context, group string) ([]models.GroupPerformance, error) {
	return append([]models.GroupPerformance(nil), f.groups[group]...), nil
}

func (f *fakeStudentAggregates) TopAchievers(_ context.Context, limit int) ([]models.Achiever, error) {
	f.limit = limit
	return f.achievers, nil
}

type fakeMarkAggregates struct {
	totals models.MarkTotals
	recent []models.RecentMark
	limit  int
}

func (f *fakeMarkAggregates) Totals(context.Context) (*models.MarkTotals, error) {
	totals := f.totals
	return &totals, nil
}

func (f *fakeMarkAggregates) Recent(_ context.Context, limit int) ([]models.RecentMark, error) {
	f.limit = limit
	return f.recent, nil
}

type fakeSubjectCounter int

func (f fakeSubjectCounter) Count(context.Context) (int, error) { return int(f), nil }

func newDashboardFixture() (*fakeStudentAggregates, *fakeMarkAggregates) {
	students := &fakeStudentAggregates{
		overview: models.InstitutionOverview{TotalStudents: 8, EvaluatedStudents: 6, PassedStudents: 3, OverallAverage: 61.25},
		groups: map[string][]models.GroupPerformance{
			"department": {
				{Name: "CSE", TotalStudents: 4, PassedStudents: 1, AverageScore: 52},
				{Name: "ECE", TotalStudents: 4, PassedStudents: 2, AverageScore: 70.5},
			},
			"class": {
				{Name: "A", TotalStudents: 3, PassedStudents: 3, AverageScore: 81},
			},
		},
		achievers: []models.Achiever{{ID: "stu-1", Code: "ECE24A001", Average: 92}},
	}
	marks := &fakeMarkAggregates{
		totals: models.MarkTotals{TotalEntries: 12, PassCount: 9, FailCount: 3},
		recent: []models.RecentMark{{ID: "mark-9", StudentCode: "ECE24A001", SubjectCode: "MATH", RawScore: 88}},
	}
	return students, marks
}

func TestDashboardServiceAdminComposesSummary(t *testing.T) {
	students, marks := newDashboardFixture()
	svc := NewDashboardService(DashboardServiceParams{Students: students, Marks: marks, Subjects: fakeSubjectCounter(5), Logger: zap.NewNop()})
	svc.now = func() time.Time { return time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC) }

	summary, hit, err := svc.Admin(context.Background())
	require.NoError(t, err)
	assert.False(t, hit)

	assert.Equal(t, 8, summary.TotalStudents)
	assert.Equal(t, 5, summary.TotalSubjects)
	assert.Equal(t, 12, summary.Marks.TotalEntries)
	assert.Equal(t, 3, summary.Marks.FailCount)
	assert.Equal(t, 37.5, summary.Institution.PassPercentage)
	assert.Equal(t, 61.25, summary.Institution.OverallAverage)

	require.Len(t, summary.DepartmentPerformance, 2)
	assert.Equal(t, "ECE", summary.DepartmentPerformance[0].Name)
	assert.Equal(t, 50.0, summary.DepartmentPerformance[0].PassPercentage)
	assert.Equal(t, 25.0, summary.DepartmentPerformance[1].PassPercentage)
	require.Len(t, summary.ClassPerformance, 1)
	assert.Equal(t, 100.0, summary.ClassPerformance[0].PassPercentage)

	assert.Len(t, summary.TopAchievers, 1)
	assert.Len(t, summary.RecentMarks, 1)
	assert.Equal(t, 20, students.limit)
	assert.Equal(t, 10, marks.limit)
	assert.Equal(t, time.Date(2024, 9, 1, 8, 0, 0, 0, time.UTC), summary.GeneratedAt)
}

func TestDashboardServiceAdminEmptyInstitution(t *testing.T) {
	svc := NewDashboardService(DashboardServiceParams{
		Students: &fakeStudentAggregates{},
		Marks:    &fakeMarkAggregates{},
		Subjects: fakeSubjectCounter(0),
	})

	summary, _, err := svc.Admin(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.0, summary.Institution.PassPercentage)
	assert.NotNil(t, summary.DepartmentPerformance)
	assert.NotNil(t, summary.ClassPerformance)
	assert.NotNil(t, summary.TopAchievers)
	assert.NotNil(t, summary.RecentMarks)
}

func TestDashboardServiceAdminUsesCache(t *testing.T) {
	cache, _ := newTestCache(t, true)
	students, marks := newDashboardFixture()
	svc := NewDashboardService(DashboardServiceParams{Students: students, Marks: marks, Subjects: fakeSubjectCounter(5), Cache: cache})
	ctx := context.Background()

	first, hit, err := svc.Admin(ctx)
	require.NoError(t, err)
	assert.False(t, hit)

	second, hit, err := svc.Admin(ctx)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, first.Institution, second.Institution)
	assert.Equal(t, 1, students.calls)

	require.NoError(t, cache.InvalidateStudent(ctx, "stu-1"))
	_, hit, err = svc.Admin(ctx)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, students.calls)
}

func TestDashboardServiceAdminRepositoryFailure(t *testing.T) {
	svc := NewDashboardService(DashboardServiceParams{
		Students: &fakeStudentAggregates{err: assert.AnError},
		Marks:    &fakeMarkAggregates{},
		Subjects: fakeSubjectCounter(0),
	})

	_, _, err := svc.Admin(context.Background())
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInternal))
}
