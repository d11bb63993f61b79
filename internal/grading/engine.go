package grading

import (
	"errors"
	"fmt"

	"github.com/noah-isme/student-results-api/internal/models"
)

// Warning describes a mark that was left out of a summary.
type Warning struct {
	MarkID    string `json:"mark_id"`
	SubjectID string `json:"subject_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// WarningOrphanedMark flags a mark whose subject is gone.
const WarningOrphanedMark = "ORPHANED_REFERENCE"

// Outcome is everything a recompute derives from a mark set.
type Outcome struct {
	Summary   models.StudentSummary
	Aggregate Aggregate
	Results   []SubjectResult
	Warnings  []Warning
}

// Engine runs calculator, aggregation and narration over a student's complete mark set.
type Engine struct {
	policy     Policy
	calculator *Calculator
}

// NewEngine validates policy and builds an Engine.
func NewEngine(policy Policy) (*Engine, error) {
	normalized, err := policy.Normalize()
	if err != nil {
		return nil, err
	}
	return &Engine{policy: normalized, calculator: NewCalculator(normalized.Scale)}, nil
}

// Policy returns the normalized policy.
func (e *Engine) Policy() Policy { return e.policy }

// Calculator exposes the per-mark calculator.
func (e *Engine) Calculator() *Calculator { return e.calculator }

// ComputeResult grades one mark with the engine's scale.
func (e *Engine) ComputeResult(mark models.Mark, subject *models.Subject) (*SubjectResult, error) {
	return e.calculator.ComputeResult(mark, subject)
}

// Narrate reads an aggregate with the engine's policy.
func (e *Engine) Narrate(agg Aggregate) Narration {
	return Narrate(e.policy, agg)
}

// Summarize derives a full summary from marks and the subjects they reference, keyed by subject ID.
// Marks whose subject is missing are skipped and reported as warnings. Any other grading error aborts.
func (e *Engine) Summarize(marks []models.Mark, subjects map[string]*models.Subject) (*Outcome, error) {
	outcome := &Outcome{Results: make([]SubjectResult, 0, len(marks))}
	for _, mark := range marks {
		result, err := e.calculator.ComputeResult(mark, subjects[mark.SubjectID])
		if err != nil {
			var orphan *OrphanedReferenceError
			if errors.As(err, &orphan) {
				outcome.Warnings = append(outcome.Warnings, Warning{
					MarkID:    mark.ID,
					SubjectID: mark.SubjectID,
					Code:      WarningOrphanedMark,
					Message:   orphan.Error(),
				})
				continue
			}
			return nil, fmt.Errorf("mark %s: %w", mark.ID, err)
		}
		outcome.Results = append(outcome.Results, *result)
	}

	outcome.Aggregate = Fold(outcome.Results, e.policy)
	outcome.Summary = e.summaryFrom(outcome.Aggregate)
	return outcome, nil
}

func (e *Engine) summaryFrom(agg Aggregate) models.StudentSummary {
	if agg.Count == 0 {
		return models.DefaultSummary()
	}
	narration := Narrate(e.policy, agg)
	return models.StudentSummary{
		TotalMarks:        agg.TotalMarks,
		Average:           agg.Average,
		OverallPercentage: agg.OverallPercentage,
		CGPA:              agg.CGPA,
		TermGPA:           models.TermGPAMap(agg.TermGPA),
		TotalCredits:      agg.TotalCredits,
		EarnedCredits:     agg.EarnedCredits,
		PassedSubjects:    agg.PassedSubjects,
		FailedSubjects:    agg.FailedSubjects,
		Grade:             agg.Grade,
		Status:            narration.Status,
		ProgressRemark:    narration.Remark,
		SyncState:         models.SyncStateConsistent,
	}
}
