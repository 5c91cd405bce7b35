package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/kcea-attendance/internal/models"
	appErrors "github.com/noah-isme/kcea-attendance/pkg/errors"
	"github.com/noah-isme/kcea-attendance/pkg/export"
)

type attendanceRowSource interface {
	ListRows(ctx context.Context, filter models.AttendanceFilter, courseIDs []string) ([]models.AttendanceRow, int, error)
}

type courseLister interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, error)
}

// ExportFile is a rendered attendance report.
type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
	Rows        int
}

// ExportService lists and renders attendance records for staff.
type ExportService struct {
	rows      attendanceRowSource
	courses   courseLister
	validator *validator.Validate
	logger    *zap.Logger
	loc       *time.Location
	now       func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(rows attendanceRowSource, courses courseLister, validate *validator.Validate, loc *time.Location, logger *zap.Logger) *ExportService {
	if validate == nil {
		validate = validator.New()
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{rows: rows, courses: courses, validator: validate, logger: logger, loc: loc, now: systemClock}
}

// List returns a page of attendance rows. Teachers only see their own courses.
func (s *ExportService) List(ctx context.Context, principal models.Principal, filter models.AttendanceFilter) ([]models.AttendanceRow, *models.Pagination, error) {
	if err := checkPage(filter.Page); err != nil {
		return nil, nil, err
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 200 {
		filter.PageSize = 50
	}
	rows, total, err := s.query(ctx, principal, filter)
	if err != nil {
		return nil, nil, err
	}
	return rows, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// Export renders every row matching filter as CSV or PDF.
func (s *ExportService) Export(ctx context.Context, principal models.Principal, filter models.AttendanceFilter, format export.Format) (*ExportFile, error) {
	filter.Page, filter.PageSize = 0, 0
	rows, _, err := s.query(ctx, principal, filter)
	if err != nil {
		return nil, err
	}

	now := s.now().In(s.loc)
	dataset := export.Dataset{
		Title:    "KCEA Attendance Report",
		Subtitle: describeFilter(filter, now),
		Headers:  []string{"Date", "Roll Number", "Student", "Department", "Subject", "Window", "Status", "Method", "Marked At"},
	}
	for _, row := range rows {
		roll := ""
		if row.RollNumber != nil {
			roll = *row.RollNumber
		}
		dataset.Append(
			row.AttendanceDate,
			roll,
			row.StudentName,
			row.Department,
			row.Subject,
			row.WindowKey,
			string(row.Status),
			string(row.Method),
			row.MarkedAt.In(s.loc).Format("2006-01-02 15:04"),
		)
	}

	data, err := export.Render(format, dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	s.logger.Info("attendance exported", zap.String("format", string(format)), zap.Int("rows", len(rows)), zap.String("by", principal.UserID))

	return &ExportFile{
		Filename:    fmt.Sprintf("attendance_%s.%s", now.Format("20060102_1504"), format),
		ContentType: format.ContentType(),
		Data:        data,
		Rows:        len(rows),
	}, nil
}

func (s *ExportService) query(ctx context.Context, principal models.Principal, filter models.AttendanceFilter) ([]models.AttendanceRow, int, error) {
	if !principal.IsStaff() {
		return nil, 0, appErrors.Clone(appErrors.ErrForbidden, "staff access required")
	}
	if err := s.validator.Struct(filter); err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid filter")
	}

	var courseIDs []string
	if principal.Role == models.RoleTeacher {
		courses, err := s.courses.List(ctx, models.CourseFilter{TeacherID: principal.UserID})
		if err != nil {
			return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
		}
		owned := false
		for _, c := range courses {
			courseIDs = append(courseIDs, c.ID)
			if c.ID == filter.CourseID {
				owned = true
			}
		}
		if filter.CourseID != "" && !owned {
			return nil, 0, appErrors.Clone(appErrors.ErrForbidden, "teachers may only view their own courses")
		}
		if len(courseIDs) == 0 {
			return []models.AttendanceRow{}, 0, nil
		}
	}

	rows, total, err := s.rows.ListRows(ctx, filter, courseIDs)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance")
	}
	if rows == nil {
		rows = []models.AttendanceRow{}
	}
	return rows, total, nil
}

func describeFilter(filter models.AttendanceFilter, generated time.Time) string {
	desc := "Generated " + generated.Format("02 Jan 2006 15:04")
	if filter.Date != "" {
		desc += " | Date " + filter.Date
	}
	if filter.RollNumber != "" {
		desc += " | Roll " + filter.RollNumber
	}
	if filter.CourseID != "" {
		desc += " | Course " + filter.CourseID
	}
	if filter.Status != "" {
		desc += " | Status " + filter.Status
	}
	return desc
}
