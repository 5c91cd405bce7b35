package models

import (
	"fmt"
	"time"
)

// ClockLayout is the wall-clock format used for period boundaries.
const ClockLayout = "15:04"

// DateLayout is the calendar-day format used for attendance dates.
const DateLayout = "2006-01-02"

// Period is a static daily slot of the timetable.
type Period struct {
	Number     int       `db:"number" json:"number"`
	Label      string    `db:"label" json:"label"`
	StartClock string    `db:"start_clock" json:"start"`
	EndClock   string    `db:"end_clock" json:"end"`
	IsBreak    bool      `db:"is_break" json:"is_break"`
	UpdatedAt  time.Time `db:"updated_at" json:"-"`
}

// WindowOn resolves the period against the calendar day of date in loc.
func (p Period) WindowOn(date time.Time, loc *time.Location) (Window, error) {
	day := date.In(loc)
	start, err := clockOn(day, p.StartClock, loc)
	if err != nil {
		return Window{}, fmt.Errorf("period %d start: %w", p.Number, err)
	}
	end, err := clockOn(day, p.EndClock, loc)
	if err != nil {
		return Window{}, fmt.Errorf("period %d end: %w", p.Number, err)
	}

	number := p.Number
	return Window{
		Kind:         WindowPeriod,
		Ref:          fmt.Sprintf("%d", p.Number),
		Label:        p.Label,
		Date:         day.Format(DateLayout),
		Start:        start,
		End:          end,
		IsBreak:      p.IsBreak,
		Active:       true,
		PeriodNumber: &number,
	}, nil
}

func clockOn(day time.Time, clock string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(ClockLayout, clock, loc)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, loc), nil
}

// CurrentPeriod is returned by the current-period lookup.
type CurrentPeriod struct {
	Now     time.Time `json:"now"`
	Current *Period   `json:"current,omitempty"`
	Periods []Period  `json:"periods"`
}
