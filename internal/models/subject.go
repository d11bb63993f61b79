package models

import "time"

// SubjectType describes how a subject is taught.
type SubjectType string

const (
	SubjectTypeTheory   SubjectType = "Theory"
	SubjectTypeLab      SubjectType = "Lab"
	SubjectTypeProject  SubjectType = "Project"
	SubjectTypeSeminar  SubjectType = "Seminar"
	SubjectTypeElective SubjectType = "Elective"
)

// DepartmentCommon marks subjects shared by every department.
const DepartmentCommon = "COMMON"

// Default marking scheme applied when a subject does not specify one.
const (
	DefaultFullMarks = 100.0
	DefaultPassMarks = 40.0
	DefaultCredits   = 1
)

// Subject represents an academic subject and its marking scheme.
type Subject struct {
	ID         string      `db:"id" json:"id"`
	Code       string      `db:"code" json:"code"`
	Name       string      `db:"name" json:"name"`
	Department string      `db:"department" json:"department"`
	Term       int         `db:"term" json:"term"`
	Credits    int         `db:"credits" json:"credits"`
	FullMarks  float64     `db:"full_marks" json:"full_marks"`
	PassMarks  float64     `db:"pass_marks" json:"pass_marks"`
	Type       SubjectType `db:"type" json:"type"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time   `db:"updated_at" json:"updated_at"`
}

// SubjectFilter captures supported filters for listing subjects.
type SubjectFilter struct {
	Department string
	Term       int
	Search     string
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}
