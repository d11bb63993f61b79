package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ExamType distinguishes the assessment a mark belongs to.
type ExamType string

const (
	ExamTypeMidterm       ExamType = "midterm"
	ExamTypeFinal         ExamType = "final"
	ExamTypeQuiz          ExamType = "quiz"
	ExamTypeAssignment    ExamType = "assignment"
	ExamTypeRegular       ExamType = "regular"
	ExamTypeSupplementary ExamType = "supplementary"
	ExamTypeImprovement   ExamType = "improvement"
)

// Upper bounds for the detailed mark components.
const (
	MaxTheoryMarks     = 100.0
	MaxPracticalMarks  = 100.0
	MaxInternalMarks   = 50.0
	MaxAttendanceMarks = 10.0
)

// MarkComponents splits a raw score into its assessed parts.
type MarkComponents struct {
	Theory     float64 `json:"theory" validate:"gte=0,lte=100"`
	Practical  float64 `json:"practical" validate:"gte=0,lte=100"`
	Internal   float64 `json:"internal" validate:"gte=0,lte=50"`
	Attendance float64 `json:"attendance" validate:"gte=0,lte=10"`
}

// Total returns the raw score represented by the components.
func (c MarkComponents) Total() float64 {
	return c.Theory + c.Practical + c.Internal + c.Attendance
}

// Value implements driver.Valuer.
func (c MarkComponents) Value() (driver.Value, error) {
	return json.Marshal(c)
}

// Scan implements sql.Scanner.
func (c *MarkComponents) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, c)
	case string:
		return json.Unmarshal([]byte(v), c)
	default:
		return fmt.Errorf("unsupported mark components type %T", src)
	}
}

// ResultSnapshot caches the per-subject result computed when the mark was written.
type ResultSnapshot struct {
	Percentage float64 `db:"percentage" json:"percentage"`
	Grade      string  `db:"grade" json:"grade"`
	GradePoint float64 `db:"grade_point" json:"grade_point"`
	Passed     bool    `db:"passed" json:"passed"`
	Remark     string  `db:"remark" json:"remark"`
}

// Mark is the score a student obtained in one exam of one subject.
type Mark struct {
	ID          string          `db:"id" json:"id"`
	StudentID   string          `db:"student_id" json:"student_id"`
	SubjectID   string          `db:"subject_id" json:"subject_id"`
	ExamType    ExamType        `db:"exam_type" json:"exam_type"`
	RawScore    float64         `db:"raw_score" json:"raw_score"`
	Components  *MarkComponents `db:"components" json:"components,omitempty"`
	ExamDate    time.Time       `db:"exam_date" json:"exam_date"`
	EnteredBy   *string         `db:"entered_by" json:"entered_by,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
	SubjectCode string          `db:"subject_code" json:"subject_code,omitempty"`
	SubjectName string          `db:"subject_name" json:"subject_name,omitempty"`
	ResultSnapshot
}

// MarkFilter allows querying of mark entries.
type MarkFilter struct {
	StudentID string
	SubjectID string
	ExamType  ExamType
}

// SubjectMarkStatistics summarises every mark recorded for a subject.
type SubjectMarkStatistics struct {
	SubjectID     string  `json:"subject_id"`
	ExamType      string  `json:"exam_type,omitempty"`
	TotalStudents int     `json:"total_students"`
	AverageMarks  float64 `json:"average_marks"`
	HighestMarks  float64 `json:"highest_marks"`
	LowestMarks   float64 `json:"lowest_marks"`
	PassCount     int     `json:"pass_count"`
	FailCount     int     `json:"fail_count"`
}
