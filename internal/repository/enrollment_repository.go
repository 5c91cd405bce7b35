package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/kcea-attendance/internal/models"
)

// EnrollmentRepository links students to courses.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs an EnrollmentRepository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// Create enrolls a student; an existing enrollment yields ErrDuplicate.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.EnrolledAt.IsZero() {
		enrollment.EnrolledAt = time.Now().UTC()
	}
	const query = `INSERT INTO enrollments (id, course_id, student_id, enrolled_at) VALUES (:id, :course_id, :student_id, :enrolled_at)`
	if _, err := r.db.NamedExecContext(ctx, query, enrollment); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// Delete removes an enrollment.
func (r *EnrollmentRepository) Delete(ctx context.Context, courseID, studentID string) error {
	const query = `DELETE FROM enrollments WHERE course_id = $1 AND student_id = $2`
	res, err := r.db.ExecContext(ctx, query, courseID, studentID)
	if err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Exists reports whether the student is enrolled in the course.
func (r *EnrollmentRepository) Exists(ctx context.Context, courseID, studentID string) (bool, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE course_id = $1 AND student_id = $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, courseID, studentID); err != nil {
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return count > 0, nil
}

// ListStudents returns the course roster ordered by roll number.
func (r *EnrollmentRepository) ListStudents(ctx context.Context, courseID string) ([]models.EnrolledStudent, error) {
	const query = `SELECT u.id AS student_id, u.username, u.roll_number, u.full_name, u.department
FROM enrollments e JOIN users u ON u.id = e.student_id
WHERE e.course_id = $1 AND u.active = TRUE
ORDER BY u.roll_number, u.username`
	var students []models.EnrolledStudent
	if err := r.db.SelectContext(ctx, &students, query, courseID); err != nil {
		return nil, fmt.Errorf("list enrolled students: %w", err)
	}
	return students, nil
}
