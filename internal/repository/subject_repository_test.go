package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/student-results-api/internal/models"
)

var subjectRowColumns = []string{"id", "code", "name", "department", "term", "credits", "full_marks", "pass_marks", "type", "created_at", "updated_at"}

func TestSubjectRepositoryList(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSubjectRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(subjectRowColumns).
		AddRow("s1", "CS101", "Programming", "CSE", 1, 4, 100.0, 40.0, "Theory", now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + subjectColumns + " FROM subjects WHERE 1=1 AND department = $1 AND term = $2 ORDER BY code ASC LIMIT 20 OFFSET 0")).
		WithArgs("CSE", 1).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM subjects WHERE 1=1 AND department = $1 AND term = $2")).
		WithArgs("CSE", 1).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	subjects, total, err := repo.List(context.Background(), models.SubjectFilter{Department: "cse", Term: 1})
	require.NoError(t, err)
	require.Len(t, subjects, 1)
	assert.Equal(t, 4, subjects[0].Credits)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubjectRepositoryFindByIDs(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSubjectRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM subjects WHERE id = ANY($1)")).
		WithArgs(pq.Array([]string{"s1", "gone"})).
		WillReturnRows(sqlmock.NewRows(subjectRowColumns).AddRow("s1", "CS101", "Programming", "CSE", 1, 4, 100.0, 40.0, "Theory", now, now))

	subjects, err := repo.FindByIDs(context.Background(), []string{"s1", "gone"})
	require.NoError(t, err)
	assert.Len(t, subjects, 1)

	empty, err := repo.FindByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubjectRepositoryListByDepartmentIncludesCommon(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSubjectRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE department = $1 OR department = $2 ORDER BY term, code")).
		WithArgs("CSE", models.DepartmentCommon).
		WillReturnRows(sqlmock.NewRows(subjectRowColumns))

	_, err := repo.ListByDepartment(context.Background(), "cse")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubjectRepositoryExistsByCode(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSubjectRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM subjects WHERE UPPER(code) = UPPER($1) AND id <> $2 LIMIT 1")).
		WithArgs("CS101", "s1").
		WillReturnError(sql.ErrNoRows)

	exists, err := repo.ExistsByCode(context.Background(), "CS101", "s1")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubjectRepositoryDeleteCascadesMarks(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSubjectRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT student_id FROM marks WHERE subject_id = $1")).
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"student_id"}).AddRow("st-1").AddRow("st-2"))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM marks WHERE subject_id = $1")).
		WithArgs("s1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM subjects WHERE id = $1")).
		WithArgs("s1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	affected, err := repo.Delete(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"st-1", "st-2"}, affected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubjectRepositoryDeleteMissingRollsBack(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSubjectRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT DISTINCT student_id FROM marks").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"student_id"}))
	mock.ExpectExec("DELETE FROM marks").WithArgs("missing").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM subjects").WithArgs("missing").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repo.Delete(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubjectRepositoryCount(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSubjectRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM subjects")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(6))

	count, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
