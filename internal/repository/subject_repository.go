package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/student-results-api/internal/models"
	"github.com/noah-isme/student-results-api/pkg/database"
)

const subjectColumns = "id, code, name, department, term, credits, full_marks, pass_marks, type, created_at, updated_at"

// SubjectRepository handles persistence for subjects.
type SubjectRepository struct {
	db *sqlx.DB
}

// NewSubjectRepository creates a new repository instance.
func NewSubjectRepository(db *sqlx.DB) *SubjectRepository {
	return &SubjectRepository{db: db}
}

// Count returns the number of subjects.
func (r *SubjectRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM subjects`); err != nil {
		return 0, fmt.Errorf("count subjects: %w", err)
	}
	return count, nil
}

// List returns subjects matching filters with pagination metadata.
func (r *SubjectRepository) List(ctx context.Context, filter models.SubjectFilter) ([]models.Subject, int, error) {
	base := "FROM subjects WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.Department != "" {
		conditions = append(conditions, fmt.Sprintf("department = $%d", len(args)+1))
		args = append(args, strings.ToUpper(filter.Department))
	}
	if filter.Term > 0 {
		conditions = append(conditions, fmt.Sprintf("term = $%d", len(args)+1))
		args = append(args, filter.Term)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(code) LIKE $%d OR LOWER(name) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "code"
	}
	allowedSorts := map[string]bool{
		"code":       true,
		"name":       true,
		"term":       true,
		"credits":    true,
		"created_at": true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "code"
	}

	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
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

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", subjectColumns, base, sortBy, order, size, offset)
	var subjects []models.Subject
	if err := r.db.SelectContext(ctx, &subjects, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list subjects: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count subjects: %w", err)
	}

	return subjects, total, nil
}

// FindByID returns a subject by id.
func (r *SubjectRepository) FindByID(ctx context.Context, id string) (*models.Subject, error) {
	query := "SELECT " + subjectColumns + " FROM subjects WHERE id = $1"
	var subject models.Subject
	if err := r.db.GetContext(ctx, &subject, query, id); err != nil {
		return nil, err
	}
	return &subject, nil
}

// FindByIDs returns the subjects that still exist among ids. Missing ids are simply absent.
func (r *SubjectRepository) FindByIDs(ctx context.Context, ids []string) ([]models.Subject, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := "SELECT " + subjectColumns + " FROM subjects WHERE id = ANY($1)"
	var subjects []models.Subject
	if err := r.db.SelectContext(ctx, &subjects, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("find subjects by ids: %w", err)
	}
	return subjects, nil
}

// ListByDepartment returns a department's subjects together with the common ones.
func (r *SubjectRepository) ListByDepartment(ctx context.Context, department string) ([]models.Subject, error) {
	query := "SELECT " + subjectColumns + " FROM subjects WHERE department = $1 OR department = $2 ORDER BY term, code"
	var subjects []models.Subject
	if err := r.db.SelectContext(ctx, &subjects, query, strings.ToUpper(department), models.DepartmentCommon); err != nil {
		return nil, fmt.Errorf("list department subjects: %w", err)
	}
	return subjects, nil
}

// ExistsByCode checks uniqueness of subject code.
func (r *SubjectRepository) ExistsByCode(ctx context.Context, code string, excludeID string) (bool, error) {
	query := "SELECT 1 FROM subjects WHERE UPPER(code) = UPPER($1)"
	args := []interface{}{code}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}

	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check subject code: %w", err)
	}
	return true, nil
}

// Create persists a new subject.
func (r *SubjectRepository) Create(ctx context.Context, subject *models.Subject) error {
	if subject.ID == "" {
		subject.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if subject.CreatedAt.IsZero() {
		subject.CreatedAt = now
	}
	subject.UpdatedAt = now

	const query = `INSERT INTO subjects (id, code, name, department, term, credits, full_marks, pass_marks, type, created_at, updated_at)
        VALUES (:id, :code, :name, :department, :term, :credits, :full_marks, :pass_marks, :type, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, subject); err != nil {
		return fmt.Errorf("create subject: %w", err)
	}
	return nil
}

// Update modifies a subject.
func (r *SubjectRepository) Update(ctx context.Context, subject *models.Subject) error {
	subject.UpdatedAt = time.Now().UTC()
	const query = `UPDATE subjects SET code = :code, name = :name, department = :department, term = :term, credits = :credits,
        full_marks = :full_marks, pass_marks = :pass_marks, type = :type, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, subject); err != nil {
		return fmt.Errorf("update subject: %w", err)
	}
	return nil
}

// Delete removes a subject and every mark referencing it in one transaction. It returns the
// students whose marks were removed so their summaries can be recomputed.
func (r *SubjectRepository) Delete(ctx context.Context, id string) ([]string, error) {
	var studentIDs []string
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := tx.SelectContext(ctx, &studentIDs, `SELECT DISTINCT student_id FROM marks WHERE subject_id = $1 ORDER BY student_id`, id); err != nil {
			return fmt.Errorf("collect affected students: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM marks WHERE subject_id = $1`, id); err != nil {
			return fmt.Errorf("delete subject marks: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM subjects WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete subject: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return studentIDs, nil
}
