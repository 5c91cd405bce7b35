package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/kcea-attendance/internal/models"
	appErrors "github.com/noah-isme/kcea-attendance/pkg/errors"
	"github.com/noah-isme/kcea-attendance/pkg/realtime"
)

// EventPublisher pushes realtime events. Publish must not block.
type EventPublisher interface {
	Publish(evt realtime.Event) bool
}

type nopPublisher struct{}

func (nopPublisher) Publish(realtime.Event) bool { return false }

type auditRepository interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type courseLookup interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type enrollmentLookup interface {
	Exists(ctx context.Context, courseID, studentID string) (bool, error)
	ListStudents(ctx context.Context, courseID string) ([]models.EnrolledStudent, error)
}

func systemClock() time.Time { return time.Now() }

// checkPage rejects page numbers whose OFFSET would not fit the database.
func checkPage(page int) error {
	if page > models.MaxPage {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("page must not exceed %d", models.MaxPage))
	}
	return nil
}

func loadCourse(ctx context.Context, courses courseLookup, id string) (*models.Course, error) {
	course, err := courses.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	return course, nil
}

// authorizeManage allows admins and the teacher of the course.
func authorizeManage(principal models.Principal, course *models.Course) error {
	switch {
	case principal.Role == models.RoleAdmin:
		return nil
	case principal.Role == models.RoleTeacher && course.TaughtBy(principal.UserID):
		return nil
	default:
		return appErrors.Clone(appErrors.ErrForbidden, "only the course teacher or an admin may do this")
	}
}

// authorizeView additionally allows students enrolled in the course.
func authorizeView(ctx context.Context, enrollments enrollmentLookup, principal models.Principal, course *models.Course) error {
	if principal.Role != models.RoleStudent {
		return authorizeManage(principal, course)
	}
	enrolled, err := enrollments.Exists(ctx, course.ID, principal.UserID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if !enrolled {
		return appErrors.Clone(appErrors.ErrNotEnrolled, "")
	}
	return nil
}

func auditValues(logger *zap.Logger, v interface{}) *string {
	raw, err := json.Marshal(v)
	if err != nil {
		logger.Warn("failed to encode audit values", zap.Error(err))
		return nil
	}
	s := string(raw)
	return &s
}

func writeAudit(ctx context.Context, repo auditRepository, logger *zap.Logger, entry *models.AuditLog) {
	if repo == nil {
		return
	}
	if err := repo.CreateAuditLog(ctx, entry); err != nil {
		logger.Warn("failed to record audit log", zap.String("action", entry.Action), zap.Error(err))
	}
}
