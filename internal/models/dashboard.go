package models

import "time"

// InstitutionOverview aggregates every student summary.
type InstitutionOverview struct {
	TotalStudents     int     `db:"total_students" json:"total_students"`
	EvaluatedStudents int     `db:"evaluated_students" json:"evaluated_students"`
	PassedStudents    int     `db:"passed_students" json:"passed_students"`
	OverallAverage    float64 `db:"overall_average" json:"overall_average"`
	PassPercentage    float64 `db:"-" json:"pass_percentage"`
}

// GroupPerformance summarises the students sharing a department or a class.
type GroupPerformance struct {
	Name           string  `db:"name" json:"name"`
	TotalStudents  int     `db:"total_students" json:"total_students"`
	PassedStudents int     `db:"passed_students" json:"passed_students"`
	AverageScore   float64 `db:"average_score" json:"average_score"`
	PassPercentage float64 `db:"-" json:"pass_percentage"`
}

// Achiever is one row of the institution leaderboard.
type Achiever struct {
	ID         string  `db:"id" json:"id"`
	Code       string  `db:"code" json:"code"`
	Name       string  `db:"name" json:"name"`
	ClassName  string  `db:"class_name" json:"class_name"`
	Department string  `db:"department" json:"department"`
	Average    float64 `db:"average" json:"average"`
	CGPA       float64 `db:"cgpa" json:"cgpa"`
	Grade      string  `db:"grade" json:"grade"`
}

// MarkTotals counts mark entries by their pass flag.
type MarkTotals struct {
	TotalEntries int `db:"total_entries" json:"total_entries"`
	PassCount    int `db:"pass_count" json:"pass_count"`
	FailCount    int `db:"fail_count" json:"fail_count"`
}

// RecentMark is a mark entry with the names needed to show it in an activity feed.
type RecentMark struct {
	ID          string    `db:"id" json:"id"`
	StudentID   string    `db:"student_id" json:"student_id"`
	StudentCode string    `db:"student_code" json:"student_code"`
	StudentName string    `db:"student_name" json:"student_name"`
	SubjectID   string    `db:"subject_id" json:"subject_id"`
	SubjectCode string    `db:"subject_code" json:"subject_code"`
	SubjectName string    `db:"subject_name" json:"subject_name"`
	ExamType    ExamType  `db:"exam_type" json:"exam_type"`
	RawScore    float64   `db:"raw_score" json:"raw_score"`
	Grade       string    `db:"grade" json:"grade"`
	Passed      bool      `db:"passed" json:"passed"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// AdminDashboard is the administrator landing summary.
type AdminDashboard struct {
	TotalStudents         int                 `json:"total_students"`
	TotalSubjects         int                 `json:"total_subjects"`
	Marks                 MarkTotals          `json:"marks"`
	RecentMarks           []RecentMark        `json:"recent_marks"`
	Institution           InstitutionOverview `json:"institution"`
	DepartmentPerformance []GroupPerformance  `json:"department_performance"`
	ClassPerformance      []GroupPerformance  `json:"class_performance"`
	TopAchievers          []Achiever          `json:"top_achievers"`
	GeneratedAt           time.Time           `json:"generated_at"`
}
