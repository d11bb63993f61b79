package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/student-results-api/internal/grading"
	"github.com/noah-isme/student-results-api/internal/models"
	appErrors "github.com/noah-isme/student-results-api/pkg/errors"
)

func newSubjectServiceForTest(t *testing.T) (*SubjectService, *memStore) {
	t.Helper()
	store := newMemStore()
	sync := newSyncService(t, store, grading.DefaultPolicy())
	return NewSubjectService(memSubjects{store}, memMarks{store}, sync, nil, zap.NewNop()), store
}

func TestSubjectServiceCreateNormalizesAndDefaults(t *testing.T) {
	svc, _ := newSubjectServiceForTest(t)

	subject, err := svc.Create(context.Background(), SubjectRequest{Code: " cs101 ", Name: "Programming", Department: "cse", Term: 1})
	require.NoError(t, err)
	assert.Equal(t, "CS101", subject.Code)
	assert.Equal(t, "CSE", subject.Department)
	assert.Equal(t, models.DefaultCredits, subject.Credits)
	assert.Equal(t, 100.0, subject.FullMarks)
	assert.Equal(t, 40.0, subject.PassMarks)
	assert.Equal(t, models.SubjectTypeTheory, subject.Type)

	_, err = svc.Create(context.Background(), SubjectRequest{Code: "CS101", Name: "Again", Department: "CSE", Term: 1})
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestSubjectServiceCreateScalesDefaultPassMarks(t *testing.T) {
	svc, _ := newSubjectServiceForTest(t)
	subject, err := svc.Create(context.Background(), SubjectRequest{Code: "LAB1", Name: "Lab", Department: "CSE", Term: 2, FullMarks: 50, Type: models.SubjectTypeLab})
	require.NoError(t, err)
	assert.Equal(t, 20.0, subject.PassMarks)
}

func TestSubjectServiceCreateValidation(t *testing.T) {
	svc, _ := newSubjectServiceForTest(t)
	cases := map[string]SubjectRequest{
		"term out of range": {Code: "X1", Name: "X", Department: "CSE", Term: 9},
		"credits too high":  {Code: "X1", Name: "X", Department: "CSE", Term: 1, Credits: 6},
		"pass above full":   {Code: "X1", Name: "X", Department: "CSE", Term: 1, FullMarks: 50, PassMarks: 60},
		"unknown type":      {Code: "X1", Name: "X", Department: "CSE", Term: 1, Type: "Workshop"},
		"negative full":     {Code: "X1", Name: "X", Department: "CSE", Term: 1, FullMarks: -10},
		"blank code":        {Code: "   ", Name: "X", Department: "CSE", Term: 1},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), req)
			require.Error(t, err)
			assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
		})
	}
}

func TestSubjectServiceUpdateRecomputesAffectedStudents(t *testing.T) {
	svc, store := newSubjectServiceForTest(t)
	store.addStudent("stu-1", "CSE")
	store.addSubject("math", "CSE", 4, 1)
	store.addMark("stu-1", "math", 45)

	result, err := svc.Update(context.Background(), "math", SubjectRequest{Code: "MATH", Name: "Math", Department: "CSE", Term: 1, Credits: 4, FullMarks: 50, PassMarks: 20})
	require.NoError(t, err)
	assert.Equal(t, 1, result.AffectedStudents)
	assert.Equal(t, 1, result.RefreshedStudents)
	assert.Empty(t, result.Warnings)

	stored := store.student("stu-1")
	assert.Equal(t, 90.0, stored.OverallPercentage)
	assert.Equal(t, models.SyncStateConsistent, stored.SyncState)
}

func TestSubjectServiceUpdateRejectsFullMarksBelowRecordedMark(t *testing.T) {
	svc, store := newSubjectServiceForTest(t)
	store.addStudent("stu-1", "CSE")
	store.addSubject("math", "CSE", 4, 1)
	store.addMark("stu-1", "math", 90)

	_, err := svc.Update(context.Background(), "math", SubjectRequest{Code: "MATH", Name: "Math", Department: "CSE", Term: 1, Credits: 4, FullMarks: 50, PassMarks: 20})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	unchanged, err := svc.Get(context.Background(), "math")
	require.NoError(t, err)
	assert.Equal(t, 100.0, unchanged.FullMarks)
	assert.Equal(t, models.StatusNotEvaluated, store.student("stu-1").Status)

	result, err := svc.Update(context.Background(), "math", SubjectRequest{Code: "MATH", Name: "Math", Department: "CSE", Term: 1, Credits: 4, FullMarks: 90, PassMarks: 36})
	require.NoError(t, err)
	assert.Equal(t, 90.0, result.Subject.FullMarks)
	assert.Equal(t, 100.0, store.student("stu-1").OverallPercentage)
}

func TestSubjectServiceUpdateNotFound(t *testing.T) {
	svc, _ := newSubjectServiceForTest(t)
	_, err := svc.Update(context.Background(), "missing", SubjectRequest{Code: "M", Name: "M", Department: "CSE", Term: 1})
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestSubjectServiceDeleteCascadesAndRecomputes(t *testing.T) {
	svc, store := newSubjectServiceForTest(t)
	store.addStudent("stu-1", "CSE")
	store.addStudent("stu-2", "CSE")
	store.addSubject("math", "CSE", 4, 1)
	store.addSubject("phys", "CSE", 4, 1)
	store.addMark("stu-1", "math", 90)
	store.addMark("stu-1", "phys", 50)
	store.addMark("stu-2", "math", 30)

	result, err := svc.Delete(context.Background(), "math")
	require.NoError(t, err)
	assert.Equal(t, 2, result.AffectedStudents)
	assert.Equal(t, 2, result.RefreshedStudents)

	assert.Equal(t, 50.0, store.student("stu-1").Average)
	assert.Equal(t, models.StatusNotEvaluated, store.student("stu-2").Status)

	_, err = svc.Delete(context.Background(), "math")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestSubjectServiceDeleteReportsRefreshFailures(t *testing.T) {
	svc, store := newSubjectServiceForTest(t)
	store.addStudent("stu-1", "CSE")
	store.addSubject("math", "CSE", 4, 1)
	store.addMark("stu-1", "math", 90)
	store.updateSumErr = assert.AnError

	result, err := svc.Delete(context.Background(), "math")
	require.NoError(t, err)
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "stu-1", result.Warnings[0].StudentID)
	assert.Equal(t, 0, result.RefreshedStudents)
}
