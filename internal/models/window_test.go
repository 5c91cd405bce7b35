package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriodWindowOn(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	p := Period{Number: 1, Label: "Period 1", StartClock: "10:00", EndClock: "11:00"}

	w, err := p.WindowOn(time.Date(2024, 3, 4, 4, 0, 0, 0, time.UTC), loc)
	require.NoError(t, err)

	assert.Equal(t, "period:1", w.Key())
	assert.Equal(t, "2024-03-04", w.Date)
	assert.Equal(t, time.Date(2024, 3, 4, 10, 0, 0, 0, loc), w.Start)
	assert.Equal(t, time.Date(2024, 3, 4, 11, 0, 0, 0, loc), w.End)
	assert.True(t, w.Active)
	require.NotNil(t, w.PeriodNumber)
	assert.Equal(t, 1, *w.PeriodNumber)
}

func TestPeriodWindowOnRejectsBadClock(t *testing.T) {
	_, err := Period{Number: 2, StartClock: "25:00", EndClock: "26:00"}.WindowOn(time.Now(), time.UTC)
	assert.Error(t, err)
}

func TestWindowIsOpenAt(t *testing.T) {
	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	w := Window{Kind: WindowPeriod, Ref: "1", Start: day.Add(10 * time.Hour), End: day.Add(11 * time.Hour), Active: true}

	assert.False(t, w.IsOpenAt(day.Add(9*time.Hour+59*time.Minute)))
	assert.True(t, w.IsOpenAt(day.Add(10*time.Hour)))
	assert.True(t, w.IsOpenAt(day.Add(11*time.Hour+59*time.Second)))
	assert.False(t, w.IsOpenAt(day.Add(11*time.Hour+time.Minute)))

	w.IsBreak = true
	assert.False(t, w.IsOpenAt(day.Add(10*time.Hour+30*time.Minute)))
}

func TestSessionWindow(t *testing.T) {
	start := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	s := Session{ID: "s1", CourseID: "c1", SessionDate: "2024-03-04", StartsAt: start, EndsAt: start.Add(time.Hour), Active: true}

	w := s.Window("Data Structures", time.UTC)
	assert.Equal(t, "session:s1", w.Key())
	assert.Equal(t, "Data Structures", w.Label)
	require.NotNil(t, w.CourseID)
	assert.Equal(t, "c1", *w.CourseID)
	assert.True(t, w.IsOpenAt(start.Add(10*time.Minute)))
}
