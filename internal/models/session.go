package models

import "time"

// Session is a teacher-opened attendance window for one course on one day.
type Session struct {
	ID          string     `db:"id" json:"id"`
	CourseID    string     `db:"course_id" json:"course_id"`
	SessionDate string     `db:"session_date" json:"session_date"`
	StartsAt    time.Time  `db:"starts_at" json:"starts_at"`
	EndsAt      time.Time  `db:"ends_at" json:"ends_at"`
	Code        string     `db:"code" json:"code"`
	Active      bool       `db:"active" json:"active"`
	CreatedBy   *string    `db:"created_by" json:"created_by,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	ClosedAt    *time.Time `db:"closed_at" json:"closed_at,omitempty"`
}

// Window converts the session into a markable window labelled with the course name.
func (s Session) Window(courseName string, loc *time.Location) Window {
	courseID := s.CourseID
	sessionID := s.ID
	return Window{
		Kind:      WindowSession,
		Ref:       s.ID,
		Label:     courseName,
		Date:      s.SessionDate,
		Start:     s.StartsAt.In(loc),
		End:       s.EndsAt.In(loc),
		Active:    s.Active,
		CourseID:  &courseID,
		SessionID: &sessionID,
	}
}

// OpenSessionRequest opens a session. Date defaults to today and times are HH:MM in the institution zone.
type OpenSessionRequest struct {
	CourseID string `json:"course_id" validate:"required"`
	Date     string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	StartsAt string `json:"starts_at" validate:"required,datetime=15:04"`
	EndsAt   string `json:"ends_at" validate:"required,datetime=15:04"`
}

// SessionQR carries the rendered QR code for a session.
type SessionQR struct {
	Session Session `json:"session"`
	Code    string  `json:"code"`
	Image   string  `json:"image"`
}

// ActiveSessionFilter narrows the open-session listing. StudentID limits it to
// courses the student is enrolled in; TeacherID to courses the teacher owns.
type ActiveSessionFilter struct {
	StudentID string
	TeacherID string
}

// ActiveSession is an open session with its course and, for students, their own mark.
type ActiveSession struct {
	Session
	CourseCode   string `db:"course_code" json:"course_code"`
	CourseName   string `db:"course_name" json:"course_name"`
	MarkedStatus string `db:"marked_status" json:"marked_status,omitempty"`
}
