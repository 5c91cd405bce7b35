package service

import (
	"fmt"
	"time"

	"github.com/noah-isme/kcea-attendance/internal/models"
	appErrors "github.com/noah-isme/kcea-attendance/pkg/errors"
)

// Eligibility is the outcome of checking a mark attempt against a window.
type Eligibility int

const (
	Allowed Eligibility = iota
	TooEarly
	TooLate
	WindowInactive
	IsBreak
)

func (e Eligibility) String() string {
	switch e {
	case Allowed:
		return "allowed"
	case TooEarly:
		return markOutcomeTooEarly
	case TooLate:
		return markOutcomeTooLate
	case WindowInactive:
		return markOutcomeInactive
	case IsBreak:
		return markOutcomeBreak
	default:
		return fmt.Sprintf("eligibility(%d)", int(e))
	}
}

// Err returns the typed rejection, or nil when the mark is allowed.
func (e Eligibility) Err() error {
	switch e {
	case TooEarly:
		return appErrors.ErrTooEarly
	case TooLate:
		return appErrors.ErrTooLate
	case WindowInactive:
		return appErrors.ErrWindowInactive
	case IsBreak:
		return appErrors.ErrIsBreak
	default:
		return nil
	}
}

// Reject describes the rejection for w in words a student can act on.
func (e Eligibility) Reject(w models.Window) error {
	base, ok := e.Err().(*appErrors.Error)
	if !ok {
		return nil
	}
	label := w.Label
	if label == "" {
		label = w.Key()
	}
	var msg string
	switch e {
	case TooEarly:
		msg = fmt.Sprintf("%s opens for attendance at %s", label, w.Start.Format(models.ClockLayout))
	case TooLate:
		msg = fmt.Sprintf("%s closed for attendance at %s", label, w.End.Format(models.ClockLayout))
	case WindowInactive:
		msg = fmt.Sprintf("%s is no longer accepting attendance", label)
	case IsBreak:
		msg = fmt.Sprintf("%s is a break, attendance is not taken", label)
	}
	return appErrors.Clone(base, msg)
}

// Evaluate decides whether a mark at now is accepted for w. Breaks are checked
// first, then activity, then the window bounds at minute resolution. The end
// minute is inclusive and there is no grace period after it.
func Evaluate(w models.Window, now time.Time) Eligibility {
	if w.IsBreak {
		return IsBreak
	}
	if !w.Active {
		return WindowInactive
	}
	at := now.Truncate(time.Minute)
	if at.Before(w.Start.Truncate(time.Minute)) {
		return TooEarly
	}
	if at.After(w.End.Truncate(time.Minute)) {
		return TooLate
	}
	return Allowed
}
