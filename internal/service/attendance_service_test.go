package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kcea-attendance/internal/models"
	appErrors "github.com/noah-isme/kcea-attendance/pkg/errors"
	"github.com/noah-isme/kcea-attendance/pkg/realtime"
)

type attendanceHarness struct {
	store      *memStore
	clock      *fakeClock
	pub        *recordingPublisher
	loc        *time.Location
	sessions   *SessionService
	attendance *AttendanceService
}

func newAttendanceHarness(t *testing.T) *attendanceHarness {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	h := &attendanceHarness{
		store: newMemStore(),
		clock: &fakeClock{now: time.Date(2024, 3, 4, 10, 30, 0, 0, loc)},
		pub:   &recordingPublisher{},
		loc:   loc,
	}
	periods := NewPeriodService(&periodRepoStub{periods: defaultPeriods(t)}, loc, nil)
	h.attendance = NewAttendanceService(AttendanceServiceDeps{
		Records:     h.store,
		Periods:     periods,
		Sessions:    h.store,
		Courses:     courseView{h.store},
		Enrollments: enrollmentView{h.store},
		Publisher:   h.pub,
		Location:    loc,
		Now:         h.clock.Now,
	})
	h.sessions = NewSessionService(SessionServiceDeps{
		Sessions:    h.store,
		Courses:     courseView{h.store},
		Enrollments: enrollmentView{h.store},
		Audit:       h.store,
		Publisher:   h.pub,
		OnClose:     h.attendance,
		Location:    loc,
		Now:         h.clock.Now,
	})
	h.store.addCourse("cse101", "Data Structures", teacherTina.UserID)
	return h
}

func (h *attendanceHarness) setClock(clock string) {
	t, _ := time.ParseInLocation("2006-01-02 15:04:05", "2024-03-04 "+clock, h.loc)
	h.clock.Set(t)
}

func (h *attendanceHarness) openSession(t *testing.T, start, end string) *models.Session {
	t.Helper()
	session, err := h.sessions.Open(context.Background(), teacherTina, models.OpenSessionRequest{CourseID: "cse101", StartsAt: start, EndsAt: end})
	require.NoError(t, err)
	return session
}

func TestMarkPeriodWindowScenarios(t *testing.T) {
	cases := []struct {
		name   string
		clock  string
		period string
		want   *appErrors.Error
	}{
		{"one minute early", "09:59:00", "1", appErrors.ErrTooEarly},
		{"inside window", "10:30:00", "1", nil},
		{"last allowed second", "11:00:59", "1", nil},
		{"one minute late", "11:01:00", "1", appErrors.ErrTooLate},
		{"lunch break", "13:15:00", "4", appErrors.ErrIsBreak},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newAttendanceHarness(t)
			h.setClock(tc.clock)

			res, err := h.attendance.MarkPeriod(context.Background(), studentAlice, models.MarkPeriodRequest{Period: tc.period})
			if tc.want == nil {
				require.NoError(t, err)
				assert.Equal(t, models.AttendanceStatusPresent, res.Record.Status)
				assert.Equal(t, "period:1", res.Record.WindowKey)
				assert.Equal(t, "2024-03-04", res.Record.AttendanceDate)
				assert.Equal(t, "Period 1", res.Record.Subject)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
			assert.Zero(t, h.store.inserts)
		})
	}
}

func TestMarkPeriodDuplicateRejected(t *testing.T) {
	h := newAttendanceHarness(t)
	_, err := h.attendance.MarkPeriod(context.Background(), studentAlice, models.MarkPeriodRequest{Period: "1", Subject: "Maths"})
	require.NoError(t, err)

	_, err = h.attendance.MarkPeriod(context.Background(), studentAlice, models.MarkPeriodRequest{Period: "1"})
	assert.True(t, errors.Is(err, appErrors.ErrDuplicateMark))

	rec, err := h.store.FindByKey(context.Background(), "alice", "period:1", "2024-03-04")
	require.NoError(t, err)
	assert.Equal(t, "Maths", rec.Subject)
}

func TestMarkPeriodRejectsNonStudentsAndBadPeriods(t *testing.T) {
	h := newAttendanceHarness(t)

	_, err := h.attendance.MarkPeriod(context.Background(), teacherTina, models.MarkPeriodRequest{Period: "1"})
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	_, err = h.attendance.MarkPeriod(context.Background(), studentAlice, models.MarkPeriodRequest{Period: "first"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = h.attendance.MarkPeriod(context.Background(), studentAlice, models.MarkPeriodRequest{Period: "9"})
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestConcurrentIdenticalMarksRecordOnce(t *testing.T) {
	h := newAttendanceHarness(t)
	const n = 32

	var wg sync.WaitGroup
	results := make(chan error, n)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := h.attendance.MarkPeriod(context.Background(), studentAlice, models.MarkPeriodRequest{Period: "1"})
			results <- err
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	success, duplicates := 0, 0
	for err := range results {
		switch {
		case err == nil:
			success++
		case errors.Is(err, appErrors.ErrDuplicateMark):
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, success)
	assert.Equal(t, n-1, duplicates)
	assert.Equal(t, 1, h.store.inserts)
}

func TestMarkSessionByCodePublishesCount(t *testing.T) {
	h := newAttendanceHarness(t)
	h.store.enroll("cse101", "alice")
	h.store.enroll("cse101", "bob")
	session := h.openSession(t, "10:00", "11:00")

	res, err := h.attendance.MarkSession(context.Background(), studentAlice, models.MarkSessionRequest{Code: session.Code})
	require.NoError(t, err)
	assert.Equal(t, models.MarkMethodQR, res.Record.Method)
	assert.Equal(t, "Data Structures", res.Record.Subject)
	assert.Equal(t, "session:"+session.ID, res.Record.WindowKey)

	_, err = h.attendance.MarkSession(context.Background(), studentBob, models.MarkSessionRequest{SessionID: session.ID})
	require.NoError(t, err)

	marks := h.pub.ofType(realtime.EventMarkRecorded)
	require.Len(t, marks, 2)
	assert.Equal(t, 1, marks[0].Count)
	assert.Equal(t, 2, marks[1].Count)
	assert.Equal(t, "cse101", marks[1].CourseID)
}

func TestMarkSessionRequiresEnrollment(t *testing.T) {
	h := newAttendanceHarness(t)
	session := h.openSession(t, "10:00", "11:00")

	_, err := h.attendance.MarkSession(context.Background(), studentAlice, models.MarkSessionRequest{SessionID: session.ID})
	assert.True(t, errors.Is(err, appErrors.ErrNotEnrolled))
	assert.Zero(t, h.store.inserts)
}

func TestMarkSessionAfterCloseIsInactive(t *testing.T) {
	h := newAttendanceHarness(t)
	h.store.enroll("cse101", "alice")
	session := h.openSession(t, "10:00", "11:00")

	_, err := h.sessions.Close(context.Background(), teacherTina, session.ID)
	require.NoError(t, err)

	_, err = h.attendance.MarkSession(context.Background(), studentAlice, models.MarkSessionRequest{SessionID: session.ID})
	assert.True(t, errors.Is(err, appErrors.ErrWindowInactive))
}

func TestMarkSessionUnknownCode(t *testing.T) {
	h := newAttendanceHarness(t)
	_, err := h.attendance.MarkSession(context.Background(), studentAlice, models.MarkSessionRequest{Code: "nope"})
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestCloseRecordsAbsenteesWithoutOverwriting(t *testing.T) {
	h := newAttendanceHarness(t)
	h.store.enroll("cse101", "alice")
	h.store.enroll("cse101", "bob")
	h.store.enroll("cse101", "carol")
	session := h.openSession(t, "10:00", "11:00")

	_, err := h.attendance.MarkSession(context.Background(), studentAlice, models.MarkSessionRequest{SessionID: session.ID})
	require.NoError(t, err)

	_, err = h.sessions.Close(context.Background(), teacherTina, session.ID)
	require.NoError(t, err)

	roster, err := h.attendance.SessionRoster(context.Background(), teacherTina, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, roster.Present)
	assert.Equal(t, 2, roster.Absent)
	assert.Equal(t, 0, roster.Unmarked)

	alice, err := h.store.FindByKey(context.Background(), "alice", "session:"+session.ID, session.SessionDate)
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceStatusPresent, alice.Status)

	n, err := h.attendance.RecordAbsentees(context.Background(), *session)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSessionRosterShowsUnmarked(t *testing.T) {
	h := newAttendanceHarness(t)
	h.store.enroll("cse101", "alice")
	h.store.enroll("cse101", "bob")
	session := h.openSession(t, "10:00", "11:00")
	_, err := h.attendance.MarkSession(context.Background(), studentBob, models.MarkSessionRequest{SessionID: session.ID})
	require.NoError(t, err)

	roster, err := h.attendance.SessionRoster(context.Background(), teacherTina, session.ID)
	require.NoError(t, err)
	require.Len(t, roster.Entries, 2)
	assert.Equal(t, models.RosterUnmarked, roster.Entries[0].Status)
	assert.Equal(t, models.RosterPresent, roster.Entries[1].Status)
	assert.NotNil(t, roster.Entries[1].MarkedAt)

	_, err = h.attendance.SessionRoster(context.Background(), teacherOmar, session.ID)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
}

func TestCourseSheetScopesStudents(t *testing.T) {
	h := newAttendanceHarness(t)
	h.store.enroll("cse101", "alice")
	h.store.enroll("cse101", "bob")
	session := h.openSession(t, "10:00", "11:00")
	for _, p := range []models.Principal{studentAlice, studentBob} {
		_, err := h.attendance.MarkSession(context.Background(), p, models.MarkSessionRequest{SessionID: session.ID})
		require.NoError(t, err)
	}

	rows, err := h.attendance.CourseSheet(context.Background(), teacherTina, "cse101")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = h.attendance.CourseSheet(context.Background(), studentAlice, "cse101")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "alice", rows[0].StudentID)

	_, err = h.attendance.CourseSheet(context.Background(), teacherOmar, "cse101")
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
}
