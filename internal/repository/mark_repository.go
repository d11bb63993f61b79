package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/student-results-api/internal/models"
)

const markSelect = `SELECT m.id, m.student_id, m.subject_id, m.exam_type, m.raw_score, m.components, m.exam_date, m.entered_by,
        m.created_at, m.updated_at, m.percentage, m.grade, m.grade_point, m.passed, m.remark,
        COALESCE(sub.code, '') AS subject_code, COALESCE(sub.name, '') AS subject_name
        FROM marks m LEFT JOIN subjects sub ON sub.id = m.subject_id`

// MarkRepository persists marks.
type MarkRepository struct {
	db *sqlx.DB
}

// NewMarkRepository constructs a MarkRepository.
func NewMarkRepository(db *sqlx.DB) *MarkRepository {
	return &MarkRepository{db: db}
}

// ListByStudent returns the complete mark set of a student, including marks whose subject is gone.
func (r *MarkRepository) ListByStudent(ctx context.Context, studentID string) ([]models.Mark, error) {
	query := markSelect + " WHERE m.student_id = $1 ORDER BY m.created_at ASC, m.id ASC"
	var marks []models.Mark
	if err := r.db.SelectContext(ctx, &marks, query, studentID); err != nil {
		return nil, fmt.Errorf("list student marks: %w", err)
	}
	return marks, nil
}

// List returns marks matching the filter.
func (r *MarkRepository) List(ctx context.Context, filter models.MarkFilter) ([]models.Mark, error) {
	var conditions []string
	var args []interface{}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("m.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.SubjectID != "" {
		conditions = append(conditions, fmt.Sprintf("m.subject_id = $%d", len(args)+1))
		args = append(args, filter.SubjectID)
	}
	if filter.ExamType != "" {
		conditions = append(conditions, fmt.Sprintf("m.exam_type = $%d", len(args)+1))
		args = append(args, filter.ExamType)
	}
	query := markSelect
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY m.created_at ASC, m.id ASC"

	var marks []models.Mark
	if err := r.db.SelectContext(ctx, &marks, query, args...); err != nil {
		return nil, fmt.Errorf("list marks: %w", err)
	}
	return marks, nil
}

// FindByID returns a mark by id.
func (r *MarkRepository) FindByID(ctx context.Context, id string) (*models.Mark, error) {
	var mark models.Mark
	if err := r.db.GetContext(ctx, &mark, markSelect+" WHERE m.id = $1", id); err != nil {
		return nil, err
	}
	return &mark, nil
}

// FindByKey returns the mark of a (student, subject, exam type) triple.
func (r *MarkRepository) FindByKey(ctx context.Context, studentID, subjectID string, examType models.ExamType) (*models.Mark, error) {
	query := markSelect + " WHERE m.student_id = $1 AND m.subject_id = $2 AND m.exam_type = $3"
	var mark models.Mark
	if err := r.db.GetContext(ctx, &mark, query, studentID, subjectID, examType); err != nil {
		return nil, err
	}
	return &mark, nil
}

// Create inserts a mark. Duplicate triples surface as a unique violation from the database.
func (r *MarkRepository) Create(ctx context.Context, mark *models.Mark) error {
	if mark.ID == "" {
		mark.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if mark.CreatedAt.IsZero() {
		mark.CreatedAt = now
	}
	mark.UpdatedAt = now
	if mark.ExamDate.IsZero() {
		mark.ExamDate = now
	}
	const query = `INSERT INTO marks (id, student_id, subject_id, exam_type, raw_score, components, exam_date, entered_by,
        percentage, grade, grade_point, passed, remark, created_at, updated_at)
        VALUES (:id, :student_id, :subject_id, :exam_type, :raw_score, :components, :exam_date, :entered_by,
        :percentage, :grade, :grade_point, :passed, :remark, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, mark); err != nil {
		return fmt.Errorf("create mark: %w", err)
	}
	return nil
}

// Update rewrites the score and cached result of a mark.
func (r *MarkRepository) Update(ctx context.Context, mark *models.Mark) error {
	mark.UpdatedAt = time.Now().UTC()
	const query = `UPDATE marks SET raw_score = :raw_score, components = :components, exam_date = :exam_date, entered_by = :entered_by,
        percentage = :percentage, grade = :grade, grade_point = :grade_point, passed = :passed, remark = :remark, updated_at = :updated_at
        WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, mark)
	if err != nil {
		return fmt.Errorf("update mark: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a mark.
func (r *MarkRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM marks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete mark: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// StudentIDsBySubject lists the students holding at least one mark on a subject.
func (r *MarkRepository) StudentIDsBySubject(ctx context.Context, subjectID string) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT DISTINCT student_id FROM marks WHERE subject_id = $1 ORDER BY student_id`, subjectID); err != nil {
		return nil, fmt.Errorf("list subject students: %w", err)
	}
	return ids, nil
}

// Totals counts every mark entry and splits them by their stored pass flag.
func (r *MarkRepository) Totals(ctx context.Context) (*models.MarkTotals, error) {
	const query = `SELECT COUNT(*) AS total_entries,
        COUNT(*) FILTER (WHERE passed) AS pass_count,
        COUNT(*) FILTER (WHERE NOT passed) AS fail_count
        FROM marks`
	var totals models.MarkTotals
	if err := r.db.GetContext(ctx, &totals, query); err != nil {
		return nil, fmt.Errorf("mark totals: %w", err)
	}
	return &totals, nil
}

// Recent returns the latest mark entries with student and subject names.
func (r *MarkRepository) Recent(ctx context.Context, limit int) ([]models.RecentMark, error) {
	if limit <= 0 {
		limit = 10
	}
	const query = `SELECT m.id, m.student_id, st.code AS student_code, st.name AS student_name,
        m.subject_id, COALESCE(sub.code, '') AS subject_code, COALESCE(sub.name, '') AS subject_name,
        m.exam_type, m.raw_score, m.grade, m.passed, m.created_at
        FROM marks m
        JOIN students st ON st.id = m.student_id
        LEFT JOIN subjects sub ON sub.id = m.subject_id
        ORDER BY m.created_at DESC, m.id DESC LIMIT $1`
	var marks []models.RecentMark
	if err := r.db.SelectContext(ctx, &marks, query, limit); err != nil {
		return nil, fmt.Errorf("recent marks: %w", err)
	}
	return marks, nil
}

// MaxRawScoreBySubject returns the highest raw score recorded on a subject, or 0 without marks.
func (r *MarkRepository) MaxRawScoreBySubject(ctx context.Context, subjectID string) (float64, error) {
	var max float64
	if err := r.db.GetContext(ctx, &max, `SELECT COALESCE(MAX(raw_score), 0) FROM marks WHERE subject_id = $1`, subjectID); err != nil {
		return 0, fmt.Errorf("max subject raw score: %w", err)
	}
	return max, nil
}

// SubjectStatistics aggregates the raw scores recorded for a subject, optionally for one exam type.
// Pass counts use the subject's current pass marks.
func (r *MarkRepository) SubjectStatistics(ctx context.Context, subjectID string, examType models.ExamType) (*models.SubjectMarkStatistics, error) {
	query := `SELECT COUNT(DISTINCT m.student_id) AS total_students,
        COALESCE(AVG(m.raw_score), 0) AS average_marks,
        COALESCE(MAX(m.raw_score), 0) AS highest_marks,
        COALESCE(MIN(m.raw_score), 0) AS lowest_marks,
        COUNT(*) FILTER (WHERE m.raw_score >= sub.pass_marks) AS pass_count,
        COUNT(*) FILTER (WHERE m.raw_score < sub.pass_marks) AS fail_count
        FROM marks m JOIN subjects sub ON sub.id = m.subject_id
        WHERE m.subject_id = $1`
	args := []interface{}{subjectID}
	if examType != "" {
		query += " AND m.exam_type = $2"
		args = append(args, examType)
	}
	var row struct {
		TotalStudents int     `db:"total_students"`
		Average       float64 `db:"average_marks"`
		Highest       float64 `db:"highest_marks"`
		Lowest        float64 `db:"lowest_marks"`
		PassCount     int     `db:"pass_count"`
		FailCount     int     `db:"fail_count"`
	}
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		return nil, fmt.Errorf("subject statistics: %w", err)
	}
	return &models.SubjectMarkStatistics{
		SubjectID:     subjectID,
		ExamType:      string(examType),
		TotalStudents: row.TotalStudents,
		AverageMarks:  roundTwo(row.Average),
		HighestMarks:  row.Highest,
		LowestMarks:   row.Lowest,
		PassCount:     row.PassCount,
		FailCount:     row.FailCount,
	}, nil
}
