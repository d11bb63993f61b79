package repository

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/student-results-api/internal/models"
	"github.com/noah-isme/student-results-api/pkg/database"
)

const studentColumns = `id, code, name, email, phone, address, class_name, department, current_term, academic_year, created_at, updated_at,
        total_marks, average, overall_percentage, cgpa, term_gpa, total_credits, earned_credits, passed_subjects, failed_subjects,
        grade, status, progress_remark, sync_state, summary_version, computed_at`

// passingStatuses are the summary statuses counted as passed in statistics.
var passingStatuses = []string{"Pass", "Passed", "Graduated"}

// StudentRepository manages persistence for student records.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// List returns students matching the provided filters.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	conditions := []string{"1=1"}
	var args []interface{}

	if filter.Department != "" {
		conditions = append(conditions, fmt.Sprintf("department = $%d", len(args)+1))
		args = append(args, strings.ToUpper(filter.Department))
	}
	if filter.Term > 0 {
		conditions = append(conditions, fmt.Sprintf("current_term = $%d", len(args)+1))
		args = append(args, filter.Term)
	}
	if filter.AcademicYear != "" {
		conditions = append(conditions, fmt.Sprintf("academic_year = $%d", len(args)+1))
		args = append(args, filter.AcademicYear)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(name) LIKE $%d OR LOWER(code) LIKE $%d OR LOWER(email) LIKE $%d)", len(args)+1, len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	base := fmt.Sprintf("FROM students WHERE %s", strings.Join(conditions, " AND "))

	sortBy := filter.SortBy
	allowedSorts := map[string]string{
		"name":       "name",
		"code":       "code",
		"cgpa":       "cgpa",
		"average":    "average",
		"created_at": "created_at",
	}
	if sortBy == "" {
		sortBy = "created_at"
	}
	column, ok := allowedSorts[sortBy]
	if !ok {
		column = "created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", studentColumns, base, column, order, size, offset)
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// FindByID fetches a student with its summary.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	query := "SELECT " + studentColumns + " FROM students WHERE id = $1"
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// FindByCode fetches a student by its code.
func (r *StudentRepository) FindByCode(ctx context.Context, code string) (*models.Student, error) {
	query := "SELECT " + studentColumns + " FROM students WHERE code = $1"
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, strings.ToUpper(strings.TrimSpace(code))); err != nil {
		return nil, err
	}
	return &student, nil
}

// ExistsByCode checks if a student with the given code exists, optionally excluding an ID.
func (r *StudentRepository) ExistsByCode(ctx context.Context, code string, excludeID string) (bool, error) {
	query := "SELECT 1 FROM students WHERE code = $1"
	args := []interface{}{strings.ToUpper(code)}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check student code: %w", err)
	}
	return true, nil
}

// MaxCodeSequence returns the highest numeric suffix among codes starting with prefix, or 0.
// Codes freed by deletions are never handed out again.
func (r *StudentRepository) MaxCodeSequence(ctx context.Context, prefix string) (int, error) {
	const query = `SELECT COALESCE(MAX(CAST(SUBSTRING(code FROM $2::int) AS INTEGER)), 0) FROM students
        WHERE code LIKE $1 AND SUBSTRING(code FROM $2::int) ~ '^[0-9]+$'`
	var seq int
	if err := r.db.GetContext(ctx, &seq, query, prefix+"%", len(prefix)+1); err != nil {
		return 0, fmt.Errorf("max student code sequence: %w", err)
	}
	return seq, nil
}

// Create inserts a new student record with its initial summary.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	student.UpdatedAt = now
	if student.TermGPA == nil {
		student.TermGPA = models.TermGPAMap{}
	}
	const query = `INSERT INTO students (id, code, name, email, phone, address, class_name, department, current_term, academic_year,
        total_marks, average, overall_percentage, cgpa, term_gpa, total_credits, earned_credits, passed_subjects, failed_subjects,
        grade, status, progress_remark, sync_state, summary_version, computed_at, created_at, updated_at)
        VALUES (:id, :code, :name, :email, :phone, :address, :class_name, :department, :current_term, :academic_year,
        :total_marks, :average, :overall_percentage, :cgpa, :term_gpa, :total_credits, :earned_credits, :passed_subjects, :failed_subjects,
        :grade, :status, :progress_remark, :sync_state, :summary_version, :computed_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// UpdateProfile modifies identity and contact fields. Summary columns are never touched here.
func (r *StudentRepository) UpdateProfile(ctx context.Context, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `UPDATE students SET code = :code, name = :name, email = :email, phone = :phone, address = :address, class_name = :class_name,
        department = :department, current_term = :current_term, academic_year = :academic_year, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	return nil
}

// Delete removes a student, their marks and the link from any user account in one transaction.
func (r *StudentRepository) Delete(ctx context.Context, id string) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM marks WHERE student_id = $1`, id); err != nil {
			return fmt.Errorf("delete student marks: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE users SET student_id = NULL, active = false, updated_at = $2 WHERE student_id = $1`, id, time.Now().UTC()); err != nil {
			return fmt.Errorf("unlink student account: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM students WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete student: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
}

// MarkStale flags the summary as out of date and bumps its version so that any recompute still
// working from an older mark snapshot loses its compare-and-swap.
func (r *StudentRepository) MarkStale(ctx context.Context, id string) error {
	const query = `UPDATE students SET sync_state = $2, summary_version = summary_version + 1 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, models.SyncStateStale)
	if err != nil {
		return fmt.Errorf("mark summary stale: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetSyncState records a sync state transition without touching the summary.
func (r *StudentRepository) SetSyncState(ctx context.Context, id string, state models.SyncState) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE students SET sync_state = $2 WHERE id = $1`, id, state); err != nil {
		return fmt.Errorf("set sync state: %w", err)
	}
	return nil
}

// UpdateSummary overwrites every summary column in one statement if the stored version still
// equals expectedVersion. It reports whether the write won.
func (r *StudentRepository) UpdateSummary(ctx context.Context, id string, expectedVersion int64, summary models.StudentSummary) (bool, error) {
	termGPA := summary.TermGPA
	if termGPA == nil {
		termGPA = models.TermGPAMap{}
	}
	const query = `UPDATE students SET total_marks = $3, average = $4, overall_percentage = $5, cgpa = $6, term_gpa = $7,
        total_credits = $8, earned_credits = $9, passed_subjects = $10, failed_subjects = $11, grade = $12, status = $13,
        progress_remark = $14, sync_state = $15, computed_at = $16, summary_version = summary_version + 1
        WHERE id = $1 AND summary_version = $2`
	res, err := r.db.ExecContext(ctx, query,
		id,
		expectedVersion,
		summary.TotalMarks,
		summary.Average,
		summary.OverallPercentage,
		summary.CGPA,
		termGPA,
		summary.TotalCredits,
		summary.EarnedCredits,
		summary.PassedSubjects,
		summary.FailedSubjects,
		summary.Grade,
		summary.Status,
		summary.ProgressRemark,
		models.SyncStateConsistent,
		summary.ComputedAt,
	)
	if err != nil {
		return false, fmt.Errorf("update student summary: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update student summary rows: %w", err)
	}
	return affected == 1, nil
}

// DepartmentStatistics aggregates the summaries of a department's students.
func (r *StudentRepository) DepartmentStatistics(ctx context.Context, department string, top int) (*models.DepartmentStatistics, error) {
	department = strings.ToUpper(department)
	stats := &models.DepartmentStatistics{Department: department, TermCounts: map[int]int{}}

	var totals struct {
		Total       int             `db:"total"`
		AverageCGPA sql.NullFloat64 `db:"average_cgpa"`
		AverageMark sql.NullFloat64 `db:"average_score"`
		Passed      int             `db:"passed"`
	}
	const totalsQuery = `SELECT COUNT(*) AS total, AVG(cgpa) AS average_cgpa, AVG(average) AS average_score,
        COUNT(*) FILTER (WHERE status IN ($2, $3, $4)) AS passed
        FROM students WHERE department = $1`
	if err := r.db.GetContext(ctx, &totals, totalsQuery, department, passingStatuses[0], passingStatuses[1], passingStatuses[2]); err != nil {
		return nil, fmt.Errorf("department totals: %w", err)
	}
	stats.TotalStudents = totals.Total
	stats.AverageCGPA = roundTwo(totals.AverageCGPA.Float64)
	stats.AverageScore = roundTwo(totals.AverageMark.Float64)
	stats.PassedStudents = totals.Passed

	var terms []struct {
		Term  int `db:"current_term"`
		Count int `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &terms, `SELECT current_term, COUNT(*) AS count FROM students WHERE department = $1 GROUP BY current_term ORDER BY current_term`, department); err != nil {
		return nil, fmt.Errorf("department term distribution: %w", err)
	}
	for _, term := range terms {
		stats.TermCounts[term.Term] = term.Count
	}

	if top <= 0 {
		top = 5
	}
	query := fmt.Sprintf(`SELECT id, code, name, current_term, cgpa, average, grade, status FROM students
        WHERE department = $1 AND status <> $2 ORDER BY cgpa DESC, average DESC, code ASC LIMIT %d`, top)
	if err := r.db.SelectContext(ctx, &stats.TopPerformers, query, department, models.StatusNotEvaluated); err != nil {
		return nil, fmt.Errorf("department top performers: %w", err)
	}
	return stats, nil
}

// performanceGroups are the student columns dashboards may group by.
var performanceGroups = map[string]string{
	"department": "department",
	"class":      "class_name",
}

// InstitutionOverview aggregates the summaries of every student. The average covers evaluated
// students only.
func (r *StudentRepository) InstitutionOverview(ctx context.Context) (*models.InstitutionOverview, error) {
	const query = `SELECT COUNT(*) AS total_students,
        COUNT(*) FILTER (WHERE status <> $1) AS evaluated_students,
        COUNT(*) FILTER (WHERE status IN ($2, $3, $4)) AS passed_students,
        COALESCE(AVG(average) FILTER (WHERE status <> $1), 0) AS overall_average
        FROM students`
	var overview models.InstitutionOverview
	if err := r.db.GetContext(ctx, &overview, query, models.StatusNotEvaluated, passingStatuses[0], passingStatuses[1], passingStatuses[2]); err != nil {
		return nil, fmt.Errorf("institution overview: %w", err)
	}
	overview.OverallAverage = roundTwo(overview.OverallAverage)
	return &overview, nil
}

// PerformanceBy groups students by department or class and reports counts and averages per group.
// Students without a value for the column are left out.
func (r *StudentRepository) PerformanceBy(ctx context.Context, group string) ([]models.GroupPerformance, error) {
	column, ok := performanceGroups[group]
	if !ok {
		return nil, fmt.Errorf("unsupported performance group %q", group)
	}
	query := fmt.Sprintf(`SELECT %[1]s AS name, COUNT(*) AS total_students,
        COUNT(*) FILTER (WHERE status IN ($1, $2, $3)) AS passed_students,
        COALESCE(AVG(average), 0) AS average_score
        FROM students WHERE %[1]s <> '' GROUP BY %[1]s ORDER BY %[1]s`, column)
	var rows []models.GroupPerformance
	if err := r.db.SelectContext(ctx, &rows, query, passingStatuses[0], passingStatuses[1], passingStatuses[2]); err != nil {
		return nil, fmt.Errorf("performance by %s: %w", group, err)
	}
	for i := range rows {
		rows[i].AverageScore = roundTwo(rows[i].AverageScore)
	}
	return rows, nil
}

// TopAchievers returns the highest averages across the institution.
func (r *StudentRepository) TopAchievers(ctx context.Context, limit int) ([]models.Achiever, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT id, code, name, class_name, department, average, cgpa, grade FROM students
        WHERE average > 0 ORDER BY average DESC, cgpa DESC, code ASC LIMIT $1`
	var achievers []models.Achiever
	if err := r.db.SelectContext(ctx, &achievers, query, limit); err != nil {
		return nil, fmt.Errorf("top achievers: %w", err)
	}
	return achievers, nil
}

func roundTwo(v float64) float64 {
	return math.RoundToEven(v*100) / 100
}
