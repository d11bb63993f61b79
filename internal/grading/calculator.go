package grading

import (
	"errors"
	"fmt"
	"math"

	"github.com/noah-isme/student-results-api/internal/models"
)

// ErrOrphanedReference matches any OrphanedReferenceError via errors.Is.
var ErrOrphanedReference = errors.New("grading: mark references a missing subject")

// OrphanedReferenceError is returned when a mark points at a subject that no longer exists.
type OrphanedReferenceError struct {
	MarkID    string
	StudentID string
	SubjectID string
}

func (e *OrphanedReferenceError) Error() string {
	return fmt.Sprintf("grading: mark %s of student %s references missing subject %s", e.MarkID, e.StudentID, e.SubjectID)
}

// Is lets errors.Is(err, ErrOrphanedReference) succeed.
func (e *OrphanedReferenceError) Is(target error) bool { return target == ErrOrphanedReference }

// Subject remark bands.
const (
	RemarkExcellent        = "Excellent"
	RemarkGood             = "Good"
	RemarkAverage          = "Average"
	RemarkNeedsImprovement = "Needs Improvement"
)

// SubjectResult is the outcome of grading one mark against its subject.
type SubjectResult struct {
	MarkID      string          `json:"mark_id"`
	SubjectID   string          `json:"subject_id"`
	SubjectCode string          `json:"subject_code"`
	SubjectName string          `json:"subject_name"`
	ExamType    models.ExamType `json:"exam_type"`
	Term        int             `json:"term"`
	Credits     int             `json:"credits"`
	RawScore    float64         `json:"raw_score"`
	FullMarks   float64         `json:"full_marks"`
	PassMarks   float64         `json:"pass_marks"`
	models.ResultSnapshot
}

// Calculator grades single marks.
type Calculator struct {
	scale *Scale
}

// NewCalculator builds a Calculator; a nil scale falls back to the percentage preset.
func NewCalculator(scale *Scale) *Calculator {
	if scale == nil {
		scale = PercentageScale()
	}
	return &Calculator{scale: scale}
}

// Scale returns the configured scale.
func (c *Calculator) Scale() *Scale { return c.scale }

// ComputeResult grades mark against subject. A nil subject yields *OrphanedReferenceError.
func (c *Calculator) ComputeResult(mark models.Mark, subject *models.Subject) (*SubjectResult, error) {
	if subject == nil {
		return nil, &OrphanedReferenceError{MarkID: mark.ID, StudentID: mark.StudentID, SubjectID: mark.SubjectID}
	}
	letter, point, err := c.scale.Grade(mark.RawScore, subject.FullMarks)
	if err != nil {
		return nil, fmt.Errorf("subject %s: %w", subject.Code, err)
	}
	percentage := mark.RawScore / subject.FullMarks * 100
	credits := subject.Credits
	if credits <= 0 {
		credits = models.DefaultCredits
	}
	return &SubjectResult{
		MarkID:      mark.ID,
		SubjectID:   subject.ID,
		SubjectCode: subject.Code,
		SubjectName: subject.Name,
		ExamType:    mark.ExamType,
		Term:        subject.Term,
		Credits:     credits,
		RawScore:    mark.RawScore,
		FullMarks:   subject.FullMarks,
		PassMarks:   subject.PassMarks,
		ResultSnapshot: models.ResultSnapshot{
			Percentage: round2(percentage),
			Grade:      letter,
			GradePoint: point,
			Passed:     mark.RawScore >= subject.PassMarks,
			Remark:     SubjectRemark(percentage),
		},
	}, nil
}

// SubjectRemark narrates a single subject percentage.
func SubjectRemark(percentage float64) string {
	switch {
	case percentage >= 80:
		return RemarkExcellent
	case percentage >= 60:
		return RemarkGood
	case percentage >= 40:
		return RemarkAverage
	default:
		return RemarkNeedsImprovement
	}
}

func round2(v float64) float64 {
	return math.RoundToEven(v*100) / 100
}

// ratio divides and short-circuits a zero denominator to 0.
func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}
