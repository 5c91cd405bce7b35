package models

import "time"

// WindowKind distinguishes static periods from teacher-opened sessions.
type WindowKind string

const (
	WindowPeriod  WindowKind = "period"
	WindowSession WindowKind = "session"
)

// Window is a time range during which attendance may be marked.
type Window struct {
	Kind         WindowKind
	Ref          string
	Label        string
	Date         string
	Start        time.Time
	End          time.Time
	IsBreak      bool
	Active       bool
	CourseID     *string
	SessionID    *string
	PeriodNumber *int
}

// Key identifies the window within a day, e.g. "period:3" or "session:<id>".
func (w Window) Key() string {
	return string(w.Kind) + ":" + w.Ref
}

// Contains reports whether t falls within [Start, End], compared to the minute.
func (w Window) Contains(t time.Time) bool {
	m := t.Truncate(time.Minute)
	return !m.Before(w.Start.Truncate(time.Minute)) && !m.After(w.End.Truncate(time.Minute))
}

// IsOpenAt reports whether a mark made at t would be accepted.
func (w Window) IsOpenAt(t time.Time) bool {
	return w.Active && !w.IsBreak && w.Contains(t)
}
