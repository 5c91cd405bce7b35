package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kcea-attendance/internal/models"
	"github.com/noah-isme/kcea-attendance/internal/repository"
	appErrors "github.com/noah-isme/kcea-attendance/pkg/errors"
)

// courseRepoFake extends courseView with Create.
type courseRepoFake struct{ courseView }

func (c courseRepoFake) Create(ctx context.Context, course *models.Course) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.courses {
		if existing.Code == course.Code {
			return repository.ErrDuplicate
		}
	}
	cp := *course
	c.courses[course.ID] = &cp
	return nil
}

type enrollmentRepoFake struct{ enrollmentView }

func (e enrollmentRepoFake) Create(ctx context.Context, enrollment *models.Enrollment) error {
	e.mu.Lock()
	already := e.enrollments[enrollment.CourseID][enrollment.StudentID]
	e.mu.Unlock()
	if already {
		return repository.ErrDuplicate
	}
	e.enroll(enrollment.CourseID, enrollment.StudentID)
	return nil
}

func (e enrollmentRepoFake) Delete(ctx context.Context, courseID, studentID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.enrollments[courseID][studentID] {
		return sql.ErrNoRows
	}
	delete(e.enrollments[courseID], studentID)
	return nil
}

func newCourseHarness() (*CourseService, *memStore) {
	store := newMemStore()
	store.addCourse("cse101", "Data Structures", "tina")
	users := userFixtures()
	users.users["bob"] = &models.User{ID: "bob", Username: "bob", Role: models.RoleStudent, Active: true}
	users.users["omar"] = &models.User{ID: "omar", Username: "omar", Role: models.RoleTeacher, Active: true}
	svc := NewCourseService(courseRepoFake{courseView{store}}, enrollmentRepoFake{enrollmentView{store}}, users, store, nil, nil)
	return svc, store
}

func TestCourseCreateOwnership(t *testing.T) {
	svc, store := newCourseHarness()

	_, err := svc.Create(context.Background(), studentAlice, models.CreateCourseRequest{Code: "X1", Name: "Nope"})
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	omar := "omar"
	course, err := svc.Create(context.Background(), teacherTina, models.CreateCourseRequest{Code: " cse202 ", Name: "Algorithms", TeacherID: &omar})
	require.NoError(t, err)
	assert.Equal(t, "CSE202", course.Code)
	assert.True(t, course.TaughtBy("tina"))

	assigned, err := svc.Create(context.Background(), adminAda, models.CreateCourseRequest{Code: "ECE110", Name: "Circuits", TeacherID: &omar})
	require.NoError(t, err)
	assert.True(t, assigned.TaughtBy("omar"))

	alice := "alice"
	_, err = svc.Create(context.Background(), adminAda, models.CreateCourseRequest{Code: "ECE111", Name: "Signals", TeacherID: &alice})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = svc.Create(context.Background(), adminAda, models.CreateCourseRequest{Code: "cse202", Name: "Again"})
	assert.True(t, errors.Is(err, appErrors.ErrConflict))

	assert.Len(t, store.audits, 2)
}

func TestCourseListScopesByRole(t *testing.T) {
	svc, store := newCourseHarness()
	store.addCourse("mech1", "Thermodynamics", "omar")

	mine, err := svc.List(context.Background(), teacherTina, "")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "cse101", mine[0].ID)

	all, err := svc.List(context.Background(), adminAda, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCourseEnrollment(t *testing.T) {
	svc, store := newCourseHarness()

	enrollment, err := svc.Enroll(context.Background(), studentAlice, "cse101", models.EnrollRequest{})
	require.NoError(t, err)
	assert.Equal(t, "alice", enrollment.StudentID)
	assert.True(t, store.enrollments["cse101"]["alice"])

	_, err = svc.Enroll(context.Background(), studentAlice, "cse101", models.EnrollRequest{})
	assert.True(t, errors.Is(err, appErrors.ErrConflict))

	_, err = svc.Enroll(context.Background(), studentAlice, "cse101", models.EnrollRequest{StudentID: "bob"})
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	_, err = svc.Enroll(context.Background(), teacherOmar, "cse101", models.EnrollRequest{StudentID: "bob"})
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	_, err = svc.Enroll(context.Background(), teacherTina, "cse101", models.EnrollRequest{StudentID: "omar"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = svc.Enroll(context.Background(), teacherTina, "cse101", models.EnrollRequest{StudentID: "bob"})
	require.NoError(t, err)

	_, err = svc.Enroll(context.Background(), teacherTina, "missing", models.EnrollRequest{StudentID: "bob"})
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	require.NoError(t, svc.Unenroll(context.Background(), teacherTina, "cse101", "bob"))
	assert.False(t, store.enrollments["cse101"]["bob"])

	err = svc.Unenroll(context.Background(), teacherTina, "cse101", "bob")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}
