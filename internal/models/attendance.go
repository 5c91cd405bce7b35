package models

import "time"

// AttendanceStatus represents the status for attendance records.
type AttendanceStatus string

const (
	AttendanceStatusPresent AttendanceStatus = "present"
	AttendanceStatusAbsent  AttendanceStatus = "absent"
)

// MarkMethod records how an attendance row came to exist.
type MarkMethod string

const (
	MarkMethodSelf  MarkMethod = "self"
	MarkMethodQR    MarkMethod = "qr"
	MarkMethodClose MarkMethod = "close"
)

// AttendanceRecord is one mark for one student, window and day. Rows are never updated.
type AttendanceRecord struct {
	ID             string           `db:"id" json:"id"`
	StudentID      string           `db:"student_id" json:"student_id"`
	WindowKind     WindowKind       `db:"window_kind" json:"window_kind"`
	WindowKey      string           `db:"window_key" json:"window_key"`
	PeriodNumber   *int             `db:"period_number" json:"period_number,omitempty"`
	SessionID      *string          `db:"session_id" json:"session_id,omitempty"`
	CourseID       *string          `db:"course_id" json:"course_id,omitempty"`
	Subject        string           `db:"subject" json:"subject"`
	AttendanceDate string           `db:"attendance_date" json:"attendance_date"`
	MarkedAt       time.Time        `db:"marked_at" json:"marked_at"`
	Status         AttendanceStatus `db:"status" json:"status"`
	Method         MarkMethod       `db:"method" json:"method"`
}

// AttendanceRow joins a record with the student's identity for sheets and exports.
type AttendanceRow struct {
	AttendanceRecord
	StudentName string  `db:"student_name" json:"student_name"`
	Username    string  `db:"username" json:"username"`
	RollNumber  *string `db:"roll_number" json:"roll_number,omitempty"`
	Department  string  `db:"department" json:"department"`
}

// MarkPeriodRequest marks the caller present for a static period. Subject
// defaults to the period label.
type MarkPeriodRequest struct {
	Period  string `json:"period" validate:"required"`
	Subject string `json:"subject" validate:"omitempty,max=128"`
}

// MarkSessionRequest marks the caller present for a session by id or scanned code.
type MarkSessionRequest struct {
	SessionID string `json:"session_id" validate:"required_without=Code"`
	Code      string `json:"code" validate:"required_without=SessionID"`
}

// AttendanceFilter narrows record listings and exports.
type AttendanceFilter struct {
	Date       string `form:"date" validate:"omitempty,datetime=2006-01-02"`
	StudentID  string `form:"student_id"`
	RollNumber string `form:"roll_number"`
	CourseID   string `form:"course_id"`
	SessionID  string `form:"session_id"`
	Status     string `form:"status" validate:"omitempty,oneof=present absent"`
	Page       int    `form:"page"`
	PageSize   int    `form:"page_size"`
}

// SubjectSummary is the attendance ratio for one subject label.
type SubjectSummary struct {
	Subject    string  `db:"subject" json:"subject"`
	Present    int     `db:"present" json:"present"`
	Total      int     `db:"total" json:"total"`
	Percentage float64 `db:"-" json:"percentage"`
}

// SummaryCounters are the cacheable aggregate parts of a summary.
type SummaryCounters struct {
	Present  int              `json:"present"`
	Total    int              `json:"total"`
	Subjects []SubjectSummary `json:"subjects"`
}

// AttendanceSummary is the dashboard view of one student's attendance.
type AttendanceSummary struct {
	StudentID        string             `json:"student_id"`
	Present          int                `json:"present"`
	Total            int                `json:"total"`
	Percentage       float64            `json:"percentage"`
	Subjects         []SubjectSummary   `json:"subjects"`
	Recent           []AttendanceRecord `json:"recent"`
	RecentPagination *Pagination        `json:"recent_pagination"`
}

// RosterEntryStatus adds the unmarked state to roster lines.
type RosterEntryStatus string

const (
	RosterPresent  RosterEntryStatus = "present"
	RosterAbsent   RosterEntryStatus = "absent"
	RosterUnmarked RosterEntryStatus = "unmarked"
)

// RosterEntry is one enrolled student's state for a session.
type RosterEntry struct {
	EnrolledStudent
	Status   RosterEntryStatus `json:"status"`
	MarkedAt *time.Time        `json:"marked_at,omitempty"`
}

// SessionRoster lists every enrolled student for a session with counts.
type SessionRoster struct {
	Session  Session       `json:"session"`
	Entries  []RosterEntry `json:"entries"`
	Present  int           `json:"present"`
	Absent   int           `json:"absent"`
	Unmarked int           `json:"unmarked"`
}

// AttendanceOverview holds the admin dashboard counters.
type AttendanceOverview struct {
	TotalStudents  int `json:"total_students"`
	TotalRecords   int `json:"total_records"`
	RecordsToday   int `json:"records_today"`
	PresentToday   int `json:"present_today"`
	ActiveSessions int `json:"active_sessions"`
}

// MarkResult is returned to a student after a successful mark.
type MarkResult struct {
	Record AttendanceRecord `json:"record"`
	Window string           `json:"window"`
}
