package service

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/noah-isme/kcea-attendance/internal/models"
	"github.com/noah-isme/kcea-attendance/internal/repository"
	appErrors "github.com/noah-isme/kcea-attendance/pkg/errors"
	"github.com/noah-isme/kcea-attendance/pkg/realtime"
)

const qrImageSize = 256

type sessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	FindByID(ctx context.Context, id string) (*models.Session, error)
	FindByCode(ctx context.Context, code string) (*models.Session, error)
	ListByCourse(ctx context.Context, courseID string) ([]models.Session, error)
	ListActive(ctx context.Context, filter models.ActiveSessionFilter) ([]models.ActiveSession, error)
	Close(ctx context.Context, id string, closedAt time.Time) (bool, error)
}

// SessionCloseListener is notified once per session when it transitions to closed.
type SessionCloseListener interface {
	SessionClosed(ctx context.Context, session models.Session) error
}

// SessionServiceDeps wires a SessionService.
type SessionServiceDeps struct {
	Sessions    sessionRepository
	Courses     courseLookup
	Enrollments enrollmentLookup
	Audit       auditRepository
	Publisher   EventPublisher
	OnClose     SessionCloseListener
	Metrics     *MetricsService
	Validator   *validator.Validate
	Logger      *zap.Logger
	Location    *time.Location
	Now         func() time.Time
}

// SessionService manages teacher-opened attendance sessions.
type SessionService struct {
	sessions    sessionRepository
	courses     courseLookup
	enrollments enrollmentLookup
	audit       auditRepository
	publisher   EventPublisher
	onClose     SessionCloseListener
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
	loc         *time.Location
	now         func() time.Time
}

// NewSessionService constructs a SessionService.
func NewSessionService(deps SessionServiceDeps) *SessionService {
	s := &SessionService{
		sessions:    deps.Sessions,
		courses:     deps.Courses,
		enrollments: deps.Enrollments,
		audit:       deps.Audit,
		publisher:   deps.Publisher,
		onClose:     deps.OnClose,
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

// Open starts a session for a course. At most one session per course and day
// may be active; a second open fails with a conflict.
func (s *SessionService) Open(ctx context.Context, principal models.Principal, req models.OpenSessionRequest) (*models.Session, error) {
	if !principal.IsStaff() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only teachers and admins may open sessions")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}

	course, err := loadCourse(ctx, s.courses, req.CourseID)
	if err != nil {
		return nil, err
	}
	if err := authorizeManage(principal, course); err != nil {
		return nil, err
	}

	now := s.now().In(s.loc)
	date := req.Date
	if date == "" {
		date = now.Format(models.DateLayout)
	}
	day, err := time.ParseInLocation(models.DateLayout, date, s.loc)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session date")
	}
	startsAt, err := clockOnDay(day, req.StartsAt, s.loc)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid start time")
	}
	endsAt, err := clockOnDay(day, req.EndsAt, s.loc)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid end time")
	}
	if !startsAt.Before(endsAt) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "session must start before it ends")
	}

	createdBy := principal.UserID
	session := &models.Session{
		ID:          uuid.NewString(),
		CourseID:    course.ID,
		SessionDate: date,
		StartsAt:    startsAt.UTC(),
		EndsAt:      endsAt.UTC(),
		Code:        uuid.NewString(),
		CreatedBy:   &createdBy,
		CreatedAt:   now.UTC(),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "an attendance session is already active for this course today")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open session")
	}

	s.metrics.RecordSession("opened")
	s.publish(realtime.Event{
		Type:      realtime.EventSessionOpened,
		CourseID:  session.CourseID,
		SessionID: session.ID,
		Code:      session.Code,
		At:        now,
	})
	writeAudit(ctx, s.audit, s.logger, &models.AuditLog{
		UserID:     &createdBy,
		Action:     models.AuditActionSessionOpen,
		Resource:   "session",
		ResourceID: &session.ID,
		NewValues:  auditValues(s.logger, map[string]string{"course_id": session.CourseID, "date": date, "starts_at": req.StartsAt, "ends_at": req.EndsAt}),
	})
	s.logger.Info("session opened", zap.String("session_id", session.ID), zap.String("course_id", session.CourseID), zap.String("date", date))

	return session, nil
}

// Close deactivates a session. Closing an already closed session returns it
// unchanged without side effects.
func (s *SessionService) Close(ctx context.Context, principal models.Principal, id string) (*models.Session, error) {
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	course, err := loadCourse(ctx, s.courses, session.CourseID)
	if err != nil {
		return nil, err
	}
	if err := authorizeManage(principal, course); err != nil {
		return nil, err
	}
	if !session.Active {
		return session, nil
	}

	now := s.now()
	transitioned, err := s.sessions.Close(ctx, session.ID, now.UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to close session")
	}
	if !transitioned {
		return s.load(ctx, id)
	}

	closedAt := now.UTC()
	session.Active = false
	session.ClosedAt = &closedAt

	s.metrics.RecordSession("closed")
	s.publish(realtime.Event{
		Type:      realtime.EventSessionClosed,
		CourseID:  session.CourseID,
		SessionID: session.ID,
		At:        now.In(s.loc),
	})
	if s.onClose != nil {
		if err := s.onClose.SessionClosed(ctx, *session); err != nil {
			s.logger.Warn("session close listener failed", zap.String("session_id", session.ID), zap.Error(err))
		}
	}
	userID := principal.UserID
	writeAudit(ctx, s.audit, s.logger, &models.AuditLog{
		UserID:     &userID,
		Action:     models.AuditActionSessionClose,
		Resource:   "session",
		ResourceID: &session.ID,
		NewValues:  auditValues(s.logger, map[string]string{"course_id": session.CourseID, "closed_at": closedAt.Format(time.RFC3339)}),
	})
	s.logger.Info("session closed", zap.String("session_id", session.ID), zap.String("course_id", session.CourseID))

	return session, nil
}

// Get returns a session visible to the principal.
func (s *SessionService) Get(ctx context.Context, principal models.Principal, id string) (*models.Session, error) {
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	course, err := loadCourse(ctx, s.courses, session.CourseID)
	if err != nil {
		return nil, err
	}
	if err := authorizeView(ctx, s.enrollments, principal, course); err != nil {
		return nil, err
	}
	return session, nil
}

// ListByCourse returns a course's sessions, newest first.
func (s *SessionService) ListByCourse(ctx context.Context, principal models.Principal, courseID string) ([]models.Session, error) {
	course, err := loadCourse(ctx, s.courses, courseID)
	if err != nil {
		return nil, err
	}
	if err := authorizeView(ctx, s.enrollments, principal, course); err != nil {
		return nil, err
	}
	sessions, err := s.sessions.ListByCourse(ctx, course.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	return sessions, nil
}

// ListActive returns the open sessions the principal may see: students get
// their enrolled courses, teachers the courses they teach, admins everything.
// Students never receive the session code; they have to scan it in class.
func (s *SessionService) ListActive(ctx context.Context, principal models.Principal) ([]models.ActiveSession, error) {
	var filter models.ActiveSessionFilter
	switch principal.Role {
	case models.RoleAdmin:
	case models.RoleTeacher:
		filter.TeacherID = principal.UserID
	case models.RoleStudent:
		filter.StudentID = principal.UserID
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role may not list sessions")
	}
	sessions, err := s.sessions.ListActive(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list active sessions")
	}
	if filter.StudentID != "" {
		for i := range sessions {
			sessions[i].Code = ""
		}
	}
	return sessions, nil
}

// FindByCode resolves a scanned session code.
func (s *SessionService) FindByCode(ctx context.Context, code string) (*models.Session, error) {
	session, err := s.sessions.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	return session, nil
}

// QRCode renders the session code as a PNG data URL for projection in class.
func (s *SessionService) QRCode(ctx context.Context, principal models.Principal, id string) (*models.SessionQR, error) {
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	course, err := loadCourse(ctx, s.courses, session.CourseID)
	if err != nil {
		return nil, err
	}
	if err := authorizeManage(principal, course); err != nil {
		return nil, err
	}
	png, err := qrcode.Encode(session.Code, qrcode.Medium, qrImageSize)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render qr code")
	}
	return &models.SessionQR{
		Session: *session,
		Code:    session.Code,
		Image:   "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
	}, nil
}

func (s *SessionService) load(ctx context.Context, id string) (*models.Session, error) {
	session, err := s.sessions.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	return session, nil
}

func (s *SessionService) publish(evt realtime.Event) {
	queued := s.publisher.Publish(evt)
	s.metrics.RecordBroadcast(string(evt.Type), queued)
}

func clockOnDay(day time.Time, clock string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(models.ClockLayout, clock, loc)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, loc), nil
}
