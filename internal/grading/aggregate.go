package grading

import (
	"errors"
	"fmt"
	"strings"
)

// Dialects supported by the aggregation engine.
const (
	DialectPercentage = "percentage"
	DialectCredit     = "credit"
)

// DefaultPassThreshold is the average a student needs to pass in the percentage dialect.
const DefaultPassThreshold = 40.0

// ErrScaleWithoutPoints is returned when the credit dialect is paired with a letter-only scale.
var ErrScaleWithoutPoints = errors.New("grading: credit dialect requires a scale with grade points")

// Policy configures how per-subject results fold into a summary.
type Policy struct {
	Dialect       string
	Scale         *Scale
	PassThreshold float64
	// StrictPass fails the student when any counted subject failed, on top of the dialect rule.
	StrictPass bool
}

// DefaultPolicy is the percentage dialect on the percentage scale.
func DefaultPolicy() Policy {
	return Policy{Dialect: DialectPercentage, Scale: PercentageScale(), PassThreshold: DefaultPassThreshold}
}

// Normalize fills defaults and validates the combination.
func (p Policy) Normalize() (Policy, error) {
	p.Dialect = strings.ToLower(strings.TrimSpace(p.Dialect))
	if p.Dialect == "" {
		p.Dialect = DialectPercentage
	}
	if p.Scale == nil {
		if p.Dialect == DialectCredit {
			p.Scale = TenPointScale()
		} else {
			p.Scale = PercentageScale()
		}
	}
	if p.PassThreshold <= 0 {
		p.PassThreshold = DefaultPassThreshold
	}
	switch p.Dialect {
	case DialectPercentage:
	case DialectCredit:
		if !p.Scale.HasPoints() {
			return p, fmt.Errorf("%w: %s", ErrScaleWithoutPoints, p.Scale.Name())
		}
	default:
		return p, fmt.Errorf("grading: unknown dialect %q", p.Dialect)
	}
	return p, nil
}

// Aggregate is the numeric fold of a student's subject results.
type Aggregate struct {
	Count             int
	TotalMarks        float64
	TotalFullMarks    float64
	Average           float64
	OverallPercentage float64
	Grade             string
	CGPA              float64
	TermGPA           map[int]float64
	TotalCredits      int
	EarnedCredits     int
	PassedSubjects    int
	FailedSubjects    int
}

type termAccumulator struct {
	gradePoints float64
	credits     int
}

// Fold aggregates results under policy. The policy must already be normalized.
// Rounding is applied to the outputs only.
func Fold(results []SubjectResult, policy Policy) Aggregate {
	agg := Aggregate{Count: len(results), TermGPA: map[int]float64{}}
	if len(results) == 0 {
		return agg
	}
	failing := policy.Scale.FailingLetter()
	terms := make(map[int]*termAccumulator)
	var totalPoints float64
	for _, result := range results {
		agg.TotalMarks += result.RawScore
		agg.TotalFullMarks += result.FullMarks
		if result.Passed {
			agg.PassedSubjects++
		} else {
			agg.FailedSubjects++
		}

		acc, ok := terms[result.Term]
		if !ok {
			acc = &termAccumulator{}
			terms[result.Term] = acc
		}
		acc.gradePoints += result.GradePoint * float64(result.Credits)
		acc.credits += result.Credits
		totalPoints += result.GradePoint * float64(result.Credits)
		agg.TotalCredits += result.Credits
		if result.Grade != failing {
			agg.EarnedCredits += result.Credits
		}
	}

	average := agg.TotalMarks / float64(agg.Count)
	agg.Average = round2(average)
	agg.OverallPercentage = round2(ratio(agg.TotalMarks, agg.TotalFullMarks) * 100)
	agg.TotalMarks = round2(agg.TotalMarks)
	agg.TotalFullMarks = round2(agg.TotalFullMarks)

	switch policy.Dialect {
	case DialectCredit:
		for term, acc := range terms {
			agg.TermGPA[term] = round2(ratio(acc.gradePoints, float64(acc.credits)))
		}
		cgpa := ratio(totalPoints, float64(agg.TotalCredits))
		agg.CGPA = round2(cgpa)
		agg.Grade = policy.Scale.GradeForPoint(cgpa)
	default:
		agg.Grade, _ = policy.Scale.GradeForPercentage(average)
	}
	return agg
}
