package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kcea-attendance/internal/models"
)

func TestEnrollmentCreateDuplicateOnSQLite(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec("INSERT INTO enrollments").
		WillReturnError(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique})

	err := repo.Create(context.Background(), &models.Enrollment{CourseID: "c1", StudentID: "s1"})
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentExists(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollments WHERE course_id = $1 AND student_id = $2")).
		WithArgs("c1", "s1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	ok, err := repo.Exists(context.Background(), "c1", "s1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentListStudents(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery("SELECT u.id AS student_id, u.username, u.roll_number, u.full_name, u.department\\s+FROM enrollments e JOIN users u").
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"student_id", "username", "roll_number", "full_name", "department"}).
			AddRow("s1", "ravi", "21CSE001", "Ravi Kumar", "CSE").
			AddRow("s2", "anita", "21CSE002", "Anita Rao", "CSE"))

	students, err := repo.ListStudents(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, students, 2)
	assert.Equal(t, "anita", students[1].Username)
	assert.NoError(t, mock.ExpectationsWereMet())
}
