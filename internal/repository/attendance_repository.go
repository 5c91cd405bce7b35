package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/kcea-attendance/internal/models"
)

const recordColumns = `id, student_id, window_kind, window_key, period_number, session_id, course_id, subject, attendance_date, marked_at, status, method`

// AttendanceRepository stores attendance marks.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs an AttendanceRepository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// InsertIfAbsent stores record unless one already exists for the same
// student, window and date. The check and the insert are a single statement.
func (r *AttendanceRepository) InsertIfAbsent(ctx context.Context, record *models.AttendanceRecord) (bool, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	const query = `INSERT INTO attendance_records (` + recordColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (student_id, window_key, attendance_date) DO NOTHING
RETURNING id`

	var id string
	err := r.db.QueryRowxContext(ctx, query,
		record.ID,
		record.StudentID,
		record.WindowKind,
		record.WindowKey,
		record.PeriodNumber,
		record.SessionID,
		record.CourseID,
		record.Subject,
		record.AttendanceDate,
		record.MarkedAt,
		record.Status,
		record.Method,
	).Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("insert attendance record: %w", err)
	}
	return true, nil
}

// FindByKey returns the record for a student, window and day.
func (r *AttendanceRepository) FindByKey(ctx context.Context, studentID, windowKey, date string) (*models.AttendanceRecord, error) {
	const query = `SELECT ` + recordColumns + ` FROM attendance_records WHERE student_id = $1 AND window_key = $2 AND attendance_date = $3`
	var record models.AttendanceRecord
	if err := r.db.GetContext(ctx, &record, query, studentID, windowKey, date); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find attendance record: %w", err)
	}
	return &record, nil
}

// Counters returns present and total record counts for the student.
func (r *AttendanceRepository) Counters(ctx context.Context, studentID string) (int, int, error) {
	const query = `SELECT COALESCE(SUM(CASE WHEN status = 'present' THEN 1 ELSE 0 END), 0) AS present, COUNT(*) AS total FROM attendance_records WHERE student_id = $1`
	var row struct {
		Present int `db:"present"`
		Total   int `db:"total"`
	}
	if err := r.db.GetContext(ctx, &row, query, studentID); err != nil {
		return 0, 0, fmt.Errorf("count attendance: %w", err)
	}
	return row.Present, row.Total, nil
}

// SubjectCounters groups the student's records by subject label.
func (r *AttendanceRepository) SubjectCounters(ctx context.Context, studentID string) ([]models.SubjectSummary, error) {
	const query = `SELECT subject, COALESCE(SUM(CASE WHEN status = 'present' THEN 1 ELSE 0 END), 0) AS present, COUNT(*) AS total
FROM attendance_records WHERE student_id = $1 GROUP BY subject ORDER BY subject`
	var subjects []models.SubjectSummary
	if err := r.db.SelectContext(ctx, &subjects, query, studentID); err != nil {
		return nil, fmt.Errorf("count attendance by subject: %w", err)
	}
	return subjects, nil
}

// ListByStudent pages the student's records, most recent first.
func (r *AttendanceRepository) ListByStudent(ctx context.Context, studentID string, limit, offset int) ([]models.AttendanceRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM attendance_records WHERE student_id = $1 ORDER BY attendance_date DESC, marked_at DESC, id LIMIT %d OFFSET %d`, recordColumns, limit, offset)
	var records []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &records, query, studentID); err != nil {
		return nil, fmt.Errorf("list attendance by student: %w", err)
	}
	return records, nil
}

// ListBySession returns every record for a session.
func (r *AttendanceRepository) ListBySession(ctx context.Context, sessionID string) ([]models.AttendanceRecord, error) {
	const query = `SELECT ` + recordColumns + ` FROM attendance_records WHERE session_id = $1 ORDER BY marked_at`
	var records []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &records, query, sessionID); err != nil {
		return nil, fmt.Errorf("list attendance by session: %w", err)
	}
	return records, nil
}

// CountPresentBySession returns how many students are marked present for a session.
func (r *AttendanceRepository) CountPresentBySession(ctx context.Context, sessionID string) (int, error) {
	const query = `SELECT COUNT(*) FROM attendance_records WHERE session_id = $1 AND status = 'present'`
	var total int
	if err := r.db.GetContext(ctx, &total, query, sessionID); err != nil {
		return 0, fmt.Errorf("count session attendance: %w", err)
	}
	return total, nil
}

// ListRows returns records joined with student identity. CourseIDs, when
// non-empty, restricts rows to those courses.
func (r *AttendanceRepository) ListRows(ctx context.Context, filter models.AttendanceFilter, courseIDs []string) ([]models.AttendanceRow, int, error) {
	where, args, err := r.rowConditions(filter, courseIDs)
	if err != nil {
		return nil, 0, err
	}

	base := ` FROM attendance_records a JOIN users u ON u.id = a.student_id` + where

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*)`+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count attendance rows: %w", err)
	}

	query := `SELECT a.id, a.student_id, a.window_kind, a.window_key, a.period_number, a.session_id, a.course_id, a.subject, a.attendance_date, a.marked_at, a.status, a.method,
u.full_name AS student_name, u.username, u.roll_number, u.department` + base + ` ORDER BY a.attendance_date DESC, a.marked_at DESC, a.id`
	if filter.PageSize > 0 {
		page, size := normalizePage(filter.Page, filter.PageSize, 50)
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", size, (page-1)*size)
	}

	var rows []models.AttendanceRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list attendance rows: %w", err)
	}
	return rows, total, nil
}

func (r *AttendanceRepository) rowConditions(filter models.AttendanceFilter, courseIDs []string) (string, []interface{}, error) {
	var conditions []string
	var args []interface{}

	add := func(expr string, value interface{}) {
		conditions = append(conditions, fmt.Sprintf(expr, len(args)+1))
		args = append(args, value)
	}

	if filter.Date != "" {
		add("a.attendance_date = $%d", filter.Date)
	}
	if filter.StudentID != "" {
		add("a.student_id = $%d", filter.StudentID)
	}
	if filter.RollNumber != "" {
		add("UPPER(u.roll_number) = $%d", strings.ToUpper(filter.RollNumber))
	}
	if filter.CourseID != "" {
		add("a.course_id = $%d", filter.CourseID)
	}
	if filter.SessionID != "" {
		add("a.session_id = $%d", filter.SessionID)
	}
	if filter.Status != "" {
		add("a.status = $%d", filter.Status)
	}
	if len(courseIDs) > 0 {
		placeholders := make([]string, len(courseIDs))
		for i, id := range courseIDs {
			placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
			args = append(args, id)
		}
		conditions = append(conditions, "a.course_id IN ("+strings.Join(placeholders, ", ")+")")
	}

	if len(conditions) == 0 {
		return "", args, nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args, nil
}

// CountTotals returns all-time and per-day record counts for the overview.
func (r *AttendanceRepository) CountTotals(ctx context.Context, date string) (total, today, presentToday int, err error) {
	const query = `SELECT COUNT(*) AS total,
COALESCE(SUM(CASE WHEN attendance_date = $1 THEN 1 ELSE 0 END), 0) AS today,
COALESCE(SUM(CASE WHEN attendance_date = $1 AND status = 'present' THEN 1 ELSE 0 END), 0) AS present_today
FROM attendance_records`
	var row struct {
		Total        int `db:"total"`
		Today        int `db:"today"`
		PresentToday int `db:"present_today"`
	}
	if err := r.db.GetContext(ctx, &row, query, date); err != nil {
		return 0, 0, 0, fmt.Errorf("count attendance totals: %w", err)
	}
	return row.Total, row.Today, row.PresentToday, nil
}
