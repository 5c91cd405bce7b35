package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kcea-attendance/internal/models"
	appErrors "github.com/noah-isme/kcea-attendance/pkg/errors"
	"github.com/noah-isme/kcea-attendance/pkg/export"
)

func seedExportStore(t *testing.T) *memStore {
	t.Helper()
	store := newMemStore()
	store.addCourse("cse101", "Data Structures", "tina")
	store.addCourse("mech1", "Thermodynamics", "omar")
	store.enroll("cse101", "alice")
	store.enroll("mech1", "bob")

	markedAt := time.Date(2024, 3, 4, 5, 0, 0, 0, time.UTC)
	for _, r := range []struct{ student, course string }{{"alice", "cse101"}, {"bob", "mech1"}} {
		course := r.course
		_, err := store.InsertIfAbsent(context.Background(), &models.AttendanceRecord{
			ID: r.student + r.course, StudentID: r.student, WindowKind: models.WindowSession,
			WindowKey: "session:" + course, CourseID: &course, Subject: course,
			AttendanceDate: "2024-03-04", MarkedAt: markedAt, Status: models.AttendanceStatusPresent, Method: models.MarkMethodQR,
		})
		require.NoError(t, err)
	}
	return store
}

func newExportHarness(t *testing.T) *ExportService {
	store := seedExportStore(t)
	ist := time.FixedZone("IST", 5*3600+1800)
	svc := NewExportService(store, courseView{store}, nil, ist, nil)
	svc.now = func() time.Time { return time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC) }
	return svc
}

func TestExportListScoping(t *testing.T) {
	svc := newExportHarness(t)

	_, _, err := svc.List(context.Background(), studentAlice, models.AttendanceFilter{})
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	rows, page, err := svc.List(context.Background(), adminAda, models.AttendanceFilter{PageSize: 1000})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, 50, page.PageSize)

	rows, _, err = svc.List(context.Background(), teacherTina, models.AttendanceFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "alice", rows[0].StudentID)

	_, _, err = svc.List(context.Background(), teacherTina, models.AttendanceFilter{CourseID: "mech1"})
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	_, _, err = svc.List(context.Background(), adminAda, models.AttendanceFilter{Date: "04/03/2024"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestExportCSV(t *testing.T) {
	svc := newExportHarness(t)

	file, err := svc.Export(context.Background(), adminAda, models.AttendanceFilter{}, export.FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "attendance_20240304_1730.csv", file.Filename)
	assert.Equal(t, 2, file.Rows)
	assert.Contains(t, file.ContentType, "text/csv")

	lines := strings.Split(strings.TrimSpace(string(file.Data)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "Date,Roll Number,Student"))
	assert.Contains(t, lines[1], "2024-03-04 10:30")
}

func TestExportPDF(t *testing.T) {
	svc := newExportHarness(t)

	file, err := svc.Export(context.Background(), teacherTina, models.AttendanceFilter{}, export.FormatPDF)
	require.NoError(t, err)
	assert.Equal(t, 1, file.Rows)
	assert.True(t, strings.HasPrefix(string(file.Data), "%PDF"))
	assert.True(t, strings.HasSuffix(file.Filename, ".pdf"))
}
