package service

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/kcea-attendance/internal/models"
	"github.com/noah-isme/kcea-attendance/internal/repository"
	"github.com/noah-isme/kcea-attendance/pkg/realtime"
)

// memStore is an in-memory stand-in for the attendance, session, course and
// enrollment repositories.
type memStore struct {
	mu          sync.Mutex
	records     map[string]models.AttendanceRecord
	sessions    map[string]*models.Session
	courses     map[string]*models.Course
	enrollments map[string]map[string]bool
	students    map[string]models.EnrolledStudent
	audits      []*models.AuditLog
	inserts     int
}

func newMemStore() *memStore {
	return &memStore{
		records:     map[string]models.AttendanceRecord{},
		sessions:    map[string]*models.Session{},
		courses:     map[string]*models.Course{},
		enrollments: map[string]map[string]bool{},
		students:    map[string]models.EnrolledStudent{},
	}
}

func recordKey(studentID, windowKey, date string) string {
	return studentID + "|" + windowKey + "|" + date
}

func (m *memStore) addCourse(id, name, teacherID string) *models.Course {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &models.Course{ID: id, Code: id, Name: name, TeacherID: &teacherID, Active: true}
	m.courses[id] = c
	return c
}

func (m *memStore) enroll(courseID, studentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enrollments[courseID] == nil {
		m.enrollments[courseID] = map[string]bool{}
	}
	m.enrollments[courseID][studentID] = true
	if _, ok := m.students[studentID]; !ok {
		m.students[studentID] = models.EnrolledStudent{StudentID: studentID, Username: studentID, FullName: "Student " + studentID}
	}
}

func (m *memStore) InsertIfAbsent(ctx context.Context, record *models.AttendanceRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := recordKey(record.StudentID, record.WindowKey, record.AttendanceDate)
	if _, ok := m.records[key]; ok {
		return false, nil
	}
	m.records[key] = *record
	m.inserts++
	return true, nil
}

func (m *memStore) FindByKey(ctx context.Context, studentID, windowKey, date string) (*models.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[recordKey(studentID, windowKey, date)]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &r, nil
}

func (m *memStore) ListBySession(ctx context.Context, sessionID string) ([]models.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AttendanceRecord
	for _, r := range m.records {
		if r.SessionID != nil && *r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) CountPresentBySession(ctx context.Context, sessionID string) (int, error) {
	records, _ := m.ListBySession(ctx, sessionID)
	n := 0
	for _, r := range records {
		if r.Status == models.AttendanceStatusPresent {
			n++
		}
	}
	return n, nil
}

func (m *memStore) ListRows(ctx context.Context, filter models.AttendanceFilter, courseIDs []string) ([]models.AttendanceRow, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	allowed := map[string]bool{}
	for _, id := range courseIDs {
		allowed[id] = true
	}
	var rows []models.AttendanceRow
	for _, r := range m.records {
		if filter.CourseID != "" && (r.CourseID == nil || *r.CourseID != filter.CourseID) {
			continue
		}
		if filter.StudentID != "" && r.StudentID != filter.StudentID {
			continue
		}
		if len(courseIDs) > 0 && (r.CourseID == nil || !allowed[*r.CourseID]) {
			continue
		}
		rows = append(rows, models.AttendanceRow{AttendanceRecord: r, StudentName: m.students[r.StudentID].FullName})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].StudentID < rows[j].StudentID })
	return rows, len(rows), nil
}

func (m *memStore) Create(ctx context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.Active && s.CourseID == session.CourseID && s.SessionDate == session.SessionDate {
			return repository.ErrDuplicate
		}
	}
	session.Active = true
	cp := *session
	m.sessions[session.ID] = &cp
	return nil
}

func (m *memStore) FindByID(ctx context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) FindByCode(ctx context.Context, code string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.Code == code {
			cp := *s
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memStore) ListByCourse(ctx context.Context, courseID string) ([]models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Session
	for _, s := range m.sessions {
		if s.CourseID == courseID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memStore) ListActive(ctx context.Context, filter models.ActiveSessionFilter) ([]models.ActiveSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.ActiveSession{}
	for _, s := range m.sessions {
		course := m.courses[s.CourseID]
		if !s.Active || course == nil {
			continue
		}
		if filter.StudentID != "" && !m.enrollments[s.CourseID][filter.StudentID] {
			continue
		}
		if filter.TeacherID != "" && !course.TaughtBy(filter.TeacherID) {
			continue
		}
		row := models.ActiveSession{Session: *s, CourseCode: course.Code, CourseName: course.Name}
		if filter.StudentID != "" {
			for _, r := range m.records {
				if r.StudentID == filter.StudentID && r.SessionID != nil && *r.SessionID == s.ID {
					row.MarkedStatus = string(r.Status)
				}
			}
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (m *memStore) Close(ctx context.Context, id string, closedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || !s.Active {
		return false, nil
	}
	s.Active = false
	s.ClosedAt = &closedAt
	return true, nil
}

func (m *memStore) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, log)
	return nil
}

// courseView adapts memStore to the course lookup interfaces.
type courseView struct{ *memStore }

func (c courseView) FindByID(ctx context.Context, id string) (*models.Course, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	course, ok := c.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *course
	return &cp, nil
}

func (c courseView) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.Course
	for _, course := range c.courses {
		if filter.TeacherID != "" && !course.TaughtBy(filter.TeacherID) {
			continue
		}
		out = append(out, *course)
	}
	return out, nil
}

// enrollmentView adapts memStore to the enrollment interfaces.
type enrollmentView struct{ *memStore }

func (e enrollmentView) Exists(ctx context.Context, courseID, studentID string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enrollments[courseID][studentID], nil
}

func (e enrollmentView) ListStudents(ctx context.Context, courseID string) ([]models.EnrolledStudent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []models.EnrolledStudent
	for id := range e.enrollments[courseID] {
		out = append(out, e.students[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (p *recordingPublisher) Publish(evt realtime.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return true
}

func (p *recordingPublisher) ofType(t realtime.EventType) []realtime.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []realtime.Event
	for _, e := range p.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

var (
	studentAlice = models.Principal{UserID: "alice", Role: models.RoleStudent, Username: "alice"}
	studentBob   = models.Principal{UserID: "bob", Role: models.RoleStudent, Username: "bob"}
	teacherTina  = models.Principal{UserID: "tina", Role: models.RoleTeacher, Username: "tina"}
	teacherOmar  = models.Principal{UserID: "omar", Role: models.RoleTeacher, Username: "omar"}
	adminAda     = models.Principal{UserID: "ada", Role: models.RoleAdmin, Username: "ada"}
)
