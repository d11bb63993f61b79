package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/student-results-api/internal/grading"
	"github.com/noah-isme/student-results-api/internal/models"
	appErrors "github.com/noah-isme/student-results-api/pkg/errors"
)

func newReportServiceForTest(t *testing.T, cacheEnabled bool) (*ReportService, *memStore) {
	t.Helper()
	store := newMemStore()
	sync := newSyncService(t, store, grading.DefaultPolicy())
	cache, _ := newTestCache(t, cacheEnabled)
	sync.cache = cache
	svc := NewReportService(memStudents{store}, sync, cache, nil, nil, time.Minute, zap.NewNop())

	store.addStudent("stu-1", "CSE")
	store.addSubject("math", "CSE", 4, 1)
	store.addSubject("phys", "CSE", 4, 1)
	store.addSubject("chem", "CSE", 4, 1)
	store.addMark("stu-1", "math", 85)
	store.addMark("stu-1", "phys", 65)
	store.addMark("stu-1", "chem", 35)
	_, err := sync.RecomputeSummary(context.Background(), "stu-1")
	require.NoError(t, err)
	return svc, store
}

func TestReportServiceBandsSubjects(t *testing.T) {
	svc, _ := newReportServiceForTest(t, true)

	card, err := svc.ReportCard(context.Background(), "stu-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"MATH"}, card.StrongSubjects)
	assert.Equal(t, []string{"PHYS"}, card.AverageSubjects)
	assert.Equal(t, []string{"CHEM"}, card.WeakSubjects)
	assert.Equal(t, 61.67, card.Student.Average)
	assert.Len(t, card.Subjects, 3)
}

func TestReportServiceCachesUntilRecompute(t *testing.T) {
	svc, store := newReportServiceForTest(t, true)
	ctx := context.Background()

	first, err := svc.ReportCard(ctx, "stu-1")
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	store.addMark("stu-1", "math", 95)
	cached, err := svc.ReportCard(ctx, "stu-1")
	require.NoError(t, err)
	assert.Len(t, cached.Subjects, 3)
	assert.True(t, cached.CacheHit)

	sync := svc.results.(*ResultSyncService)
	_, err = sync.RecomputeSummary(ctx, "stu-1")
	require.NoError(t, err)

	fresh, err := svc.ReportCard(ctx, "stu-1")
	require.NoError(t, err)
	assert.Len(t, fresh.Subjects, 4)
	assert.False(t, fresh.CacheHit)
}

func TestReportServiceExport(t *testing.T) {
	svc, _ := newReportServiceForTest(t, false)
	ctx := context.Background()

	csvFile, err := svc.Export(ctx, "stu-1", "CSV")
	require.NoError(t, err)
	assert.Equal(t, "report-card-stu-1.csv", csvFile.Filename)
	assert.Equal(t, "text/csv", csvFile.ContentType)
	body := string(csvFile.Body)
	assert.True(t, strings.Contains(body, "Status,Pass"))
	assert.True(t, strings.Contains(body, "CHEM,chem,final,1,4,35.00/100.00,35.00,F,FAIL"))

	pdfFile, err := svc.Export(ctx, "stu-1", "")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", pdfFile.ContentType)
	assert.True(t, strings.HasPrefix(string(pdfFile.Body), "%PDF"))

	_, err = svc.Export(ctx, "stu-1", "xlsx")
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestReportServiceUnknownStudent(t *testing.T) {
	svc, _ := newReportServiceForTest(t, false)
	_, err := svc.ReportCard(context.Background(), "ghost")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestReportServiceSkipsCacheForStaleSummary(t *testing.T) {
	svc, store := newReportServiceForTest(t, true)
	require.NoError(t, memStudents{store}.MarkStale(context.Background(), "stu-1"))

	card, err := svc.ReportCard(context.Background(), "stu-1")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStateStale, card.Student.SyncState)

	var cached ReportCard
	hit, err := svc.cache.Get(context.Background(), ReportCardKey("stu-1"), &cached)
	require.NoError(t, err)
	assert.False(t, hit)
}
