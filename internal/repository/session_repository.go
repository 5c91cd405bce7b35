package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/kcea-attendance/internal/models"
)

const sessionColumns = `id, course_id, session_date, starts_at, ends_at, code, active, created_by, created_at, closed_at`

// SessionRepository persists teacher-opened attendance sessions.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs a SessionRepository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts an active session. When another session is already active
// for the same course and day the partial unique index rejects it with ErrDuplicate.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	session.Active = true

	const query = `INSERT INTO sessions (id, course_id, session_date, starts_at, ends_at, code, active, created_by, created_at) VALUES (:id, :course_id, :session_date, :starts_at, :ends_at, :code, :active, :created_by, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// FindByID returns a session.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.Session, error) {
	return r.findOne(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
}

// FindByCode returns the session carrying the scanned code.
func (r *SessionRepository) FindByCode(ctx context.Context, code string) (*models.Session, error) {
	return r.findOne(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE code = $1`, code)
}

func (r *SessionRepository) findOne(ctx context.Context, query string, arg string) (*models.Session, error) {
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, arg); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	return &session, nil
}

// ListByCourse returns a course's sessions, newest first.
func (r *SessionRepository) ListByCourse(ctx context.Context, courseID string) ([]models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE course_id = $1 ORDER BY session_date DESC, starts_at DESC`
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, courseID); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// Close deactivates an active session. It reports false when the session was
// already closed, so concurrent closes transition it exactly once.
func (r *SessionRepository) Close(ctx context.Context, id string, closedAt time.Time) (bool, error) {
	const query = `UPDATE sessions SET active = FALSE, closed_at = $1 WHERE id = $2 AND active = TRUE`
	res, err := r.db.ExecContext(ctx, query, closedAt, id)
	if err != nil {
		return false, fmt.Errorf("close session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("close session rows: %w", err)
	}
	return n > 0, nil
}

// CountActive returns the number of sessions currently open.
func (r *SessionRepository) CountActive(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM sessions WHERE active = TRUE`
	var total int
	if err := r.db.GetContext(ctx, &total, query); err != nil {
		return 0, fmt.Errorf("count active sessions: %w", err)
	}
	return total, nil
}

// ListActive returns open sessions joined with their course, earliest first.
// With a StudentID only enrolled courses are returned, along with the
// student's own status for each session.
func (r *SessionRepository) ListActive(ctx context.Context, filter models.ActiveSessionFilter) ([]models.ActiveSession, error) {
	var (
		conditions = []string{"s.active = TRUE"}
		args       []interface{}
		marked     = "'' AS marked_status"
	)
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}
	if filter.StudentID != "" {
		add("EXISTS (SELECT 1 FROM enrollments e WHERE e.course_id = s.course_id AND e.student_id = $%d)", filter.StudentID)
		marked = fmt.Sprintf("COALESCE((SELECT a.status FROM attendance_records a WHERE a.session_id = s.id AND a.student_id = $%d), '') AS marked_status", len(args))
	}
	if filter.TeacherID != "" {
		add("c.teacher_id = $%d", filter.TeacherID)
	}

	query := `SELECT s.id, s.course_id, s.session_date, s.starts_at, s.ends_at, s.code, s.active, s.created_by, s.created_at, s.closed_at, c.code AS course_code, c.name AS course_name, ` + marked +
		` FROM sessions s JOIN courses c ON c.id = s.course_id WHERE ` + strings.Join(conditions, " AND ") +
		` ORDER BY s.starts_at, c.code`
	sessions := []models.ActiveSession{}
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	return sessions, nil
}
