package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/kcea-attendance/internal/models"
	"github.com/noah-isme/kcea-attendance/internal/repository"
	appErrors "github.com/noah-isme/kcea-attendance/pkg/errors"
)

type courseRepository interface {
	Create(ctx context.Context, course *models.Course) error
	FindByID(ctx context.Context, id string) (*models.Course, error)
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, error)
}

type enrollmentRepository interface {
	enrollmentLookup
	Create(ctx context.Context, enrollment *models.Enrollment) error
	Delete(ctx context.Context, courseID, studentID string) error
}

type courseUserLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// CourseService manages courses and enrollment.
type CourseService struct {
	courses     courseRepository
	enrollments enrollmentRepository
	users       courseUserLookup
	audit       auditRepository
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewCourseService constructs a CourseService.
func NewCourseService(courses courseRepository, enrollments enrollmentRepository, users courseUserLookup, audit auditRepository, validate *validator.Validate, logger *zap.Logger) *CourseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CourseService{courses: courses, enrollments: enrollments, users: users, audit: audit, validator: validate, logger: logger}
}

// Create adds a course. Teachers always own what they create; admins may
// assign any teacher.
func (s *CourseService) Create(ctx context.Context, principal models.Principal, req models.CreateCourseRequest) (*models.Course, error) {
	if !principal.IsStaff() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only teachers and admins may create courses")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}

	var teacherID *string
	switch {
	case principal.Role == models.RoleTeacher:
		id := principal.UserID
		teacherID = &id
	case req.TeacherID != nil && *req.TeacherID != "":
		teacher, err := s.users.FindByID(ctx, *req.TeacherID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrValidation, "teacher not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
		}
		if teacher.Role != models.RoleTeacher {
			return nil, appErrors.Clone(appErrors.ErrValidation, "assigned user is not a teacher")
		}
		teacherID = &teacher.ID
	}

	course := &models.Course{
		ID:          uuid.NewString(),
		Code:        strings.ToUpper(strings.TrimSpace(req.Code)),
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		TeacherID:   teacherID,
		Active:      true,
	}
	if err := s.courses.Create(ctx, course); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "course code already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
	}

	actor := principal.UserID
	writeAudit(ctx, s.audit, s.logger, &models.AuditLog{
		UserID:     &actor,
		Action:     models.AuditActionCourseCreate,
		Resource:   "course",
		ResourceID: &course.ID,
		NewValues:  auditValues(s.logger, map[string]string{"code": course.Code, "name": course.Name}),
	})
	return course, nil
}

// List returns the courses visible to the caller: own for teachers, enrolled
// for students, all for admins.
func (s *CourseService) List(ctx context.Context, principal models.Principal, search string) ([]models.Course, error) {
	filter := models.CourseFilter{Search: strings.TrimSpace(search)}
	switch principal.Role {
	case models.RoleTeacher:
		filter.TeacherID = principal.UserID
	case models.RoleStudent:
		filter.StudentID = principal.UserID
	}
	courses, err := s.courses.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	if courses == nil {
		courses = []models.Course{}
	}
	return courses, nil
}

// Get returns a course by id.
func (s *CourseService) Get(ctx context.Context, id string) (*models.Course, error) {
	return loadCourse(ctx, s.courses, id)
}

// Enroll adds a student to a course. Students enroll themselves; the course
// teacher or an admin may enroll anyone.
func (s *CourseService) Enroll(ctx context.Context, principal models.Principal, courseID string, req models.EnrollRequest) (*models.Enrollment, error) {
	course, err := loadCourse(ctx, s.courses, courseID)
	if err != nil {
		return nil, err
	}
	studentID, err := s.enrollmentTarget(ctx, principal, course, req.StudentID)
	if err != nil {
		return nil, err
	}

	enrollment := &models.Enrollment{ID: uuid.NewString(), CourseID: course.ID, StudentID: studentID}
	if err := s.enrollments.Create(ctx, enrollment); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "student already enrolled")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enroll student")
	}
	return enrollment, nil
}

// Unenroll removes a student from a course under the same rules as Enroll.
func (s *CourseService) Unenroll(ctx context.Context, principal models.Principal, courseID, studentID string) error {
	course, err := loadCourse(ctx, s.courses, courseID)
	if err != nil {
		return err
	}
	studentID, err = s.enrollmentTarget(ctx, principal, course, studentID)
	if err != nil {
		return err
	}
	if err := s.enrollments.Delete(ctx, course.ID, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove enrollment")
	}
	return nil
}

func (s *CourseService) enrollmentTarget(ctx context.Context, principal models.Principal, course *models.Course, studentID string) (string, error) {
	if principal.Role == models.RoleStudent {
		if studentID != "" && studentID != principal.UserID {
			return "", appErrors.Clone(appErrors.ErrForbidden, "students may only manage their own enrollment")
		}
		return principal.UserID, nil
	}
	if err := authorizeManage(principal, course); err != nil {
		return "", err
	}
	if studentID == "" {
		return "", appErrors.Clone(appErrors.ErrValidation, "student_id is required")
	}
	student, err := s.users.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student.Role != models.RoleStudent {
		return "", appErrors.Clone(appErrors.ErrValidation, "only students can be enrolled")
	}
	return student.ID, nil
}
