package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/kcea-attendance/internal/models"
	appErrors "github.com/noah-isme/kcea-attendance/pkg/errors"
	"github.com/noah-isme/kcea-attendance/pkg/realtime"
)

type attendanceRepository interface {
	InsertIfAbsent(ctx context.Context, record *models.AttendanceRecord) (bool, error)
	FindByKey(ctx context.Context, studentID, windowKey, date string) (*models.AttendanceRecord, error)
	ListBySession(ctx context.Context, sessionID string) ([]models.AttendanceRecord, error)
	CountPresentBySession(ctx context.Context, sessionID string) (int, error)
	ListRows(ctx context.Context, filter models.AttendanceFilter, courseIDs []string) ([]models.AttendanceRow, int, error)
}

type windowResolver interface {
	Resolve(ctx context.Context, ref string, now time.Time) (models.Window, error)
}

type sessionLookup interface {
	FindByID(ctx context.Context, id string) (*models.Session, error)
	FindByCode(ctx context.Context, code string) (*models.Session, error)
}

// AttendanceServiceDeps wires an AttendanceService.
type AttendanceServiceDeps struct {
	Records     attendanceRepository
	Periods     windowResolver
	Sessions    sessionLookup
	Courses     courseLookup
	Enrollments enrollmentLookup
	Cache       *CacheService
	Publisher   EventPublisher
	Metrics     *MetricsService
	Validator   *validator.Validate
	Logger      *zap.Logger
	Location    *time.Location
	Now         func() time.Time
}

// AttendanceService records marks against period and session windows.
type AttendanceService struct {
	records     attendanceRepository
	periods     windowResolver
	sessions    sessionLookup
	courses     courseLookup
	enrollments enrollmentLookup
	cache       *CacheService
	publisher   EventPublisher
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	loc         *time.Location
	now         func() time.Time
}

// NewAttendanceService constructs an AttendanceService.
func NewAttendanceService(deps AttendanceServiceDeps) *AttendanceService {
	s := &AttendanceService{
		records:     deps.Records,
		periods:     deps.Periods,
		sessions:    deps.Sessions,
		courses:     deps.Courses,
		enrollments: deps.Enrollments,
		cache:       deps.Cache,
		publisher:   deps.Publisher,
		metrics:     deps.Metrics,
		validator:   deps.Validator,
		logger:      deps.Logger,
		loc:         deps.Location,
		now:         deps.Now,
	}
	if s.publisher == nil {
		s.publisher = nopPublisher{}
	}
	if s.validator == nil {
		s.validator = validator.New()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.now == nil {
		s.now = systemClock
	}
	return s
}

// MarkPeriod marks the calling student present for a static period.
func (s *AttendanceService) MarkPeriod(ctx context.Context, principal models.Principal, req models.MarkPeriodRequest) (*models.MarkResult, error) {
	if principal.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students can mark attendance")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload")
	}

	now := s.now().In(s.loc)
	w, err := s.periods.Resolve(ctx, req.Period, now)
	if err != nil {
		return nil, err
	}
	if e := Evaluate(w, now); e != Allowed {
		s.metrics.RecordMark(w.Kind, e.String())
		return nil, e.Reject(w)
	}
	if err := s.checkDuplicate(ctx, principal.UserID, w); err != nil {
		return nil, err
	}

	subject := req.Subject
	if subject == "" {
		subject = w.Label
	}
	record, err := s.insert(ctx, principal.UserID, w, subject, now, models.AttendanceStatusPresent, models.MarkMethodSelf)
	if err != nil {
		return nil, err
	}
	return &models.MarkResult{Record: *record, Window: w.Label}, nil
}

// MarkSession marks the calling student present for a session, by id or by scanned code.
func (s *AttendanceService) MarkSession(ctx context.Context, principal models.Principal, req models.MarkSessionRequest) (*models.MarkResult, error) {
	if principal.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students can mark attendance")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload")
	}

	method := models.MarkMethodSelf
	var session *models.Session
	var err error
	if req.Code != "" {
		method = models.MarkMethodQR
		session, err = s.sessions.FindByCode(ctx, req.Code)
	} else {
		session, err = s.sessions.FindByID(ctx, req.SessionID)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	course, err := loadCourse(ctx, s.courses, session.CourseID)
	if err != nil {
		return nil, err
	}

	now := s.now().In(s.loc)
	w := session.Window(course.Name, s.loc)
	if e := Evaluate(w, now); e != Allowed {
		s.metrics.RecordMark(w.Kind, e.String())
		return nil, e.Reject(w)
	}
	if err := s.checkDuplicate(ctx, principal.UserID, w); err != nil {
		return nil, err
	}
	enrolled, err := s.enrollments.Exists(ctx, course.ID, principal.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if !enrolled {
		s.metrics.RecordMark(w.Kind, markOutcomeNotEnrolled)
		return nil, appErrors.Clone(appErrors.ErrNotEnrolled, "you are not enrolled in "+course.Name)
	}

	record, err := s.insert(ctx, principal.UserID, w, course.Name, now, models.AttendanceStatusPresent, method)
	if err != nil {
		return nil, err
	}

	count, err := s.records.CountPresentBySession(ctx, session.ID)
	if err != nil {
		s.logger.Warn("failed to count session attendance", zap.String("session_id", session.ID), zap.Error(err))
	} else {
		queued := s.publisher.Publish(realtime.Event{
			Type:      realtime.EventMarkRecorded,
			CourseID:  course.ID,
			SessionID: session.ID,
			Count:     count,
			At:        now,
		})
		s.metrics.RecordBroadcast(string(realtime.EventMarkRecorded), queued)
	}

	return &models.MarkResult{Record: *record, Window: w.Label}, nil
}

// RecordAbsentees stores an absent mark for every enrolled student without a
// record for the session. Existing marks are left untouched.
func (s *AttendanceService) RecordAbsentees(ctx context.Context, session models.Session) (int, error) {
	course, err := loadCourse(ctx, s.courses, session.CourseID)
	if err != nil {
		return 0, err
	}
	students, err := s.enrollments.ListStudents(ctx, session.CourseID)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrolled students")
	}

	w := session.Window(course.Name, s.loc)
	now := s.now().In(s.loc)
	inserted := 0
	for _, student := range students {
		record := s.newRecord(student.StudentID, w, course.Name, now, models.AttendanceStatusAbsent, models.MarkMethodClose)
		ok, err := s.records.InsertIfAbsent(ctx, record)
		if err != nil {
			return inserted, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record absentee")
		}
		if ok {
			inserted++
			s.cache.Invalidate(ctx, SummaryCacheKey(student.StudentID))
		}
	}
	s.logger.Info("absentees recorded", zap.String("session_id", session.ID), zap.Int("count", inserted))
	return inserted, nil
}

// SessionClosed implements SessionCloseListener.
func (s *AttendanceService) SessionClosed(ctx context.Context, session models.Session) error {
	_, err := s.RecordAbsentees(ctx, session)
	return err
}

// SessionRoster lists every enrolled student with their status for the session.
func (s *AttendanceService) SessionRoster(ctx context.Context, principal models.Principal, sessionID string) (*models.SessionRoster, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	course, err := loadCourse(ctx, s.courses, session.CourseID)
	if err != nil {
		return nil, err
	}
	if err := authorizeManage(principal, course); err != nil {
		return nil, err
	}

	students, err := s.enrollments.ListStudents(ctx, course.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrolled students")
	}
	records, err := s.records.ListBySession(ctx, session.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list session attendance")
	}
	byStudent := make(map[string]models.AttendanceRecord, len(records))
	for _, r := range records {
		byStudent[r.StudentID] = r
	}

	roster := &models.SessionRoster{Session: *session, Entries: make([]models.RosterEntry, 0, len(students))}
	for _, student := range students {
		entry := models.RosterEntry{EnrolledStudent: student, Status: models.RosterUnmarked}
		if r, ok := byStudent[student.StudentID]; ok {
			markedAt := r.MarkedAt
			entry.MarkedAt = &markedAt
			if r.Status == models.AttendanceStatusPresent {
				entry.Status = models.RosterPresent
			} else {
				entry.Status = models.RosterAbsent
			}
		}
		switch entry.Status {
		case models.RosterPresent:
			roster.Present++
		case models.RosterAbsent:
			roster.Absent++
		default:
			roster.Unmarked++
		}
		roster.Entries = append(roster.Entries, entry)
	}
	return roster, nil
}

// CourseSheet returns the course's attendance rows. Students only see their own.
func (s *AttendanceService) CourseSheet(ctx context.Context, principal models.Principal, courseID string) ([]models.AttendanceRow, error) {
	course, err := loadCourse(ctx, s.courses, courseID)
	if err != nil {
		return nil, err
	}
	filter := models.AttendanceFilter{CourseID: course.ID}
	if principal.Role == models.RoleStudent {
		filter.StudentID = principal.UserID
	} else if err := authorizeManage(principal, course); err != nil {
		return nil, err
	}
	rows, _, err := s.records.ListRows(ctx, filter, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course sheet")
	}
	return rows, nil
}

func (s *AttendanceService) checkDuplicate(ctx context.Context, studentID string, w models.Window) error {
	_, err := s.records.FindByKey(ctx, studentID, w.Key(), w.Date)
	switch {
	case err == nil:
		s.metrics.RecordMark(w.Kind, markOutcomeDuplicate)
		return appErrors.Clone(appErrors.ErrDuplicateMark, "attendance already marked for "+w.Label)
	case errors.Is(err, sql.ErrNoRows):
		return nil
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing attendance")
	}
}

func (s *AttendanceService) insert(ctx context.Context, studentID string, w models.Window, subject string, now time.Time, status models.AttendanceStatus, method models.MarkMethod) (*models.AttendanceRecord, error) {
	record := s.newRecord(studentID, w, subject, now, status, method)
	inserted, err := s.records.InsertIfAbsent(ctx, record)
	if err != nil {
		s.metrics.RecordMark(w.Kind, markOutcomeError)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record attendance")
	}
	if !inserted {
		s.metrics.RecordMark(w.Kind, markOutcomeDuplicate)
		return nil, appErrors.Clone(appErrors.ErrDuplicateMark, "attendance already marked for "+w.Label)
	}
	s.metrics.RecordMark(w.Kind, markOutcomeRecorded)
	s.cache.Invalidate(ctx, SummaryCacheKey(studentID))
	s.logger.Debug("attendance recorded", zap.String("student_id", studentID), zap.String("window", w.Key()), zap.String("date", w.Date))
	return record, nil
}

func (s *AttendanceService) newRecord(studentID string, w models.Window, subject string, now time.Time, status models.AttendanceStatus, method models.MarkMethod) *models.AttendanceRecord {
	return &models.AttendanceRecord{
		ID:             uuid.NewString(),
		StudentID:      studentID,
		WindowKind:     w.Kind,
		WindowKey:      w.Key(),
		PeriodNumber:   w.PeriodNumber,
		SessionID:      w.SessionID,
		CourseID:       w.CourseID,
		Subject:        subject,
		AttendanceDate: w.Date,
		MarkedAt:       now.UTC(),
		Status:         status,
		Method:         method,
	}
}
