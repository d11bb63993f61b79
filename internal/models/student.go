package models

import (
	"maps"
	"time"
)

// SyncState tracks whether a student's denormalised summary reflects the current marks.
type SyncState string

const (
	SyncStateStale      SyncState = "STALE"
	SyncStateComputing  SyncState = "COMPUTING"
	SyncStateConsistent SyncState = "CONSISTENT"
)

// Summary defaults for students without any counted marks.
const (
	GradeNotAvailable  = "N/A"
	StatusNotEvaluated = "Not Evaluated"
	RemarkNoMarks      = "No marks entered"
)

// Student represents a learner together with the summary derived from their marks.
type Student struct {
	ID           string    `db:"id" json:"id"`
	Code         string    `db:"code" json:"code"`
	Name         string    `db:"name" json:"name"`
	Email        string    `db:"email" json:"email"`
	Phone        string    `db:"phone" json:"phone"`
	Address      string    `db:"address" json:"address"`
	ClassName    string    `db:"class_name" json:"class_name"`
	Department   string    `db:"department" json:"department"`
	CurrentTerm  int       `db:"current_term" json:"current_term"`
	AcademicYear string    `db:"academic_year" json:"academic_year"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
	StudentSummary
}

// StudentSummary holds the denormalised academic outcome of a student. It is only
// ever written by a full recompute. SyncState, SummaryVersion and ComputedAt are
// bookkeeping; the remaining fields are derived from marks and subjects alone.
type StudentSummary struct {
	TotalMarks        float64    `db:"total_marks" json:"total_marks"`
	Average           float64    `db:"average" json:"average"`
	OverallPercentage float64    `db:"overall_percentage" json:"overall_percentage"`
	CGPA              float64    `db:"cgpa" json:"cgpa"`
	TermGPA           TermGPAMap `db:"term_gpa" json:"term_gpa"`
	TotalCredits      int        `db:"total_credits" json:"total_credits"`
	EarnedCredits     int        `db:"earned_credits" json:"earned_credits"`
	PassedSubjects    int        `db:"passed_subjects" json:"passed_subjects"`
	FailedSubjects    int        `db:"failed_subjects" json:"failed_subjects"`
	Grade             string     `db:"grade" json:"grade"`
	Status            string     `db:"status" json:"status"`
	ProgressRemark    string     `db:"progress_remark" json:"progress_remark"`
	SyncState         SyncState  `db:"sync_state" json:"sync_state"`
	SummaryVersion    int64      `db:"summary_version" json:"summary_version"`
	ComputedAt        *time.Time `db:"computed_at" json:"computed_at,omitempty"`
}

// SameOutcome reports whether both summaries carry the same derived fields.
func (s StudentSummary) SameOutcome(other StudentSummary) bool {
	return s.TotalMarks == other.TotalMarks &&
		s.Average == other.Average &&
		s.OverallPercentage == other.OverallPercentage &&
		s.CGPA == other.CGPA &&
		maps.Equal(s.TermGPA, other.TermGPA) &&
		s.TotalCredits == other.TotalCredits &&
		s.EarnedCredits == other.EarnedCredits &&
		s.PassedSubjects == other.PassedSubjects &&
		s.FailedSubjects == other.FailedSubjects &&
		s.Grade == other.Grade &&
		s.Status == other.Status &&
		s.ProgressRemark == other.ProgressRemark
}

// DefaultSummary returns the "not evaluated" summary assigned to students without marks.
func DefaultSummary() StudentSummary {
	return StudentSummary{
		TermGPA:        TermGPAMap{},
		Grade:          GradeNotAvailable,
		Status:         StatusNotEvaluated,
		ProgressRemark: RemarkNoMarks,
		SyncState:      SyncStateConsistent,
	}
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search       string
	Department   string
	Term         int
	AcademicYear string
	Status       string
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}

// DepartmentStatistics summarises the students of one department.
type DepartmentStatistics struct {
	Department     string           `json:"department"`
	TotalStudents  int              `json:"total_students"`
	AverageCGPA    float64          `json:"average_cgpa"`
	AverageScore   float64          `json:"average_score"`
	PassedStudents int              `json:"passed_students"`
	TermCounts     map[int]int      `json:"term_distribution"`
	TopPerformers  []StudentRanking `json:"top_performers"`
}

// StudentRanking is a compact student row used in rankings.
type StudentRanking struct {
	ID      string  `db:"id" json:"id"`
	Code    string  `db:"code" json:"code"`
	Name    string  `db:"name" json:"name"`
	Term    int     `db:"current_term" json:"term"`
	CGPA    float64 `db:"cgpa" json:"cgpa"`
	Average float64 `db:"average" json:"average"`
	Grade   string  `db:"grade" json:"grade"`
	Status  string  `db:"status" json:"status"`
}
