package grading

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/student-results-api/internal/models"
)

type entry struct {
	raw     float64
	credits int
	term    int
}

func gradeAll(t *testing.T, calc *Calculator, entries ...entry) []SubjectResult {
	t.Helper()
	results := make([]SubjectResult, 0, len(entries))
	for i, entry := range entries {
		id := string(rune('a' + i))
		result, err := calc.ComputeResult(models.Mark{ID: "m" + id, SubjectID: id, RawScore: entry.raw}, subjectFixture(id, entry.credits, entry.term))
		require.NoError(t, err)
		results = append(results, *result)
	}
	return results
}

func normalized(t *testing.T, policy Policy) Policy {
	t.Helper()
	out, err := policy.Normalize()
	require.NoError(t, err)
	return out
}

func TestFoldSimpleAverage(t *testing.T) {
	policy := normalized(t, Policy{})
	results := gradeAll(t, NewCalculator(policy.Scale), entry{30, 4, 1}, entry{90, 4, 1})

	agg := Fold(results, policy)
	assert.Equal(t, 2, agg.Count)
	assert.Equal(t, 60.0, agg.Average)
	assert.Equal(t, 60.0, agg.OverallPercentage)
	assert.Equal(t, 120.0, agg.TotalMarks)
	assert.Equal(t, "B", agg.Grade)
	assert.Equal(t, 1, agg.PassedSubjects)
	assert.Equal(t, 1, agg.FailedSubjects)
	assert.Zero(t, agg.CGPA)

	narration := Narrate(policy, agg)
	assert.Equal(t, StatusPass, narration.Status)
	assert.Equal(t, "Good", narration.Remark)
}

func TestFoldStrictPassFailsOnAnyFailedSubject(t *testing.T) {
	policy := normalized(t, Policy{StrictPass: true})
	results := gradeAll(t, NewCalculator(policy.Scale), entry{30, 4, 1}, entry{90, 4, 1})

	narration := Narrate(policy, Fold(results, policy))
	assert.Equal(t, StatusFail, narration.Status)
	assert.Equal(t, "Good", narration.Remark)
}

func TestFoldCreditSGPA(t *testing.T) {
	policy := normalized(t, Policy{Dialect: DialectCredit})
	results := gradeAll(t, NewCalculator(policy.Scale), entry{75, 4, 1}, entry{57, 3, 1})
	require.Equal(t, 8.0, results[0].GradePoint)
	require.Equal(t, 6.0, results[1].GradePoint)

	agg := Fold(results, policy)
	assert.Equal(t, 7.14, agg.TermGPA[1])
	assert.Equal(t, 7.14, agg.CGPA)
	assert.Equal(t, 7, agg.TotalCredits)
	assert.Equal(t, 7, agg.EarnedCredits)
	assert.Equal(t, "C", agg.Grade)

	narration := Narrate(policy, agg)
	assert.Equal(t, StatusPassed, narration.Status)
	assert.Equal(t, "Good - Higher Second Class", narration.Remark)
}

func TestFoldFailedSubjectCreditsAreNotEarned(t *testing.T) {
	policy := normalized(t, Policy{Dialect: DialectCredit})
	results := gradeAll(t, NewCalculator(policy.Scale), entry{30, 4, 1}, entry{95, 3, 1})

	agg := Fold(results, policy)
	assert.Equal(t, 7, agg.TotalCredits)
	assert.Equal(t, 3, agg.EarnedCredits)
	assert.Equal(t, 4.29, agg.CGPA)
	assert.Equal(t, "F", agg.Grade)
	assert.Equal(t, 1, agg.FailedSubjects)

	narration := Narrate(policy, agg)
	assert.Equal(t, StatusPassed, narration.Status)
	assert.Equal(t, "Below Average - Requires improvement", narration.Remark)
}

func TestFoldGroupsTerms(t *testing.T) {
	policy := normalized(t, Policy{Dialect: DialectCredit})
	results := gradeAll(t, NewCalculator(policy.Scale), entry{92, 4, 1}, entry{65, 2, 2}, entry{82, 2, 2})

	agg := Fold(results, policy)
	assert.Equal(t, map[int]float64{1: 10, 2: 8}, agg.TermGPA)
	assert.Equal(t, 9.0, agg.CGPA)
	assert.Equal(t, "A", agg.Grade)
	assert.Equal(t, StatusGraduated, Narrate(policy, agg).Status)
}

func TestFoldZeroCreditTermDoesNotDivide(t *testing.T) {
	policy := normalized(t, Policy{Dialect: DialectCredit})
	results := []SubjectResult{{
		MarkID:         "m1",
		Term:           3,
		Credits:        0,
		RawScore:       75,
		FullMarks:      100,
		ResultSnapshot: models.ResultSnapshot{Percentage: 75, Grade: "B", GradePoint: 8, Passed: true},
	}}

	agg := Fold(results, policy)
	assert.Zero(t, agg.TermGPA[3])
	assert.Zero(t, agg.CGPA)
	assert.Zero(t, agg.TotalCredits)
}

func TestFoldEmpty(t *testing.T) {
	agg := Fold(nil, normalized(t, Policy{}))
	assert.Zero(t, agg.Count)
	assert.Zero(t, agg.Average)
	assert.Empty(t, agg.TermGPA)
}

func TestPolicyNormalize(t *testing.T) {
	policy := normalized(t, Policy{Dialect: " Credit "})
	assert.Equal(t, DialectCredit, policy.Dialect)
	assert.Equal(t, ScaleTenPoint, policy.Scale.Name())
	assert.Equal(t, DefaultPassThreshold, policy.PassThreshold)

	_, err := Policy{Dialect: DialectCredit, Scale: PercentageScale()}.Normalize()
	assert.ErrorIs(t, err, ErrScaleWithoutPoints)

	_, err = Policy{Dialect: "weighted"}.Normalize()
	assert.Error(t, err)
}
