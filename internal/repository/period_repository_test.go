package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kcea-attendance/internal/models"
)

func TestPeriodReplaceUpsertsAndPrunes(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPeriodRepository(db)

	periods := []models.Period{
		{Number: 1, Label: "Period 1", StartClock: "10:00", EndClock: "11:00"},
		{Number: 4, Label: "Lunch Break", StartClock: "13:00", EndClock: "13:30", IsBreak: true},
	}

	mock.ExpectBegin()
	mock.ExpectExec("(?s)INSERT INTO periods .* ON CONFLICT \\(number\\) DO UPDATE").
		WithArgs(1, "Period 1", "10:00", "11:00", false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("(?s)INSERT INTO periods .* ON CONFLICT \\(number\\) DO UPDATE").
		WithArgs(4, "Lunch Break", "13:00", "13:30", true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM periods WHERE number NOT IN (?, ?)")).
		WithArgs(1, 4).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, repo.Replace(context.Background(), periods))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPeriodList(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPeriodRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT number, label, start_clock, end_clock, is_break, updated_at FROM periods ORDER BY number")).
		WillReturnRows(sqlmock.NewRows([]string{"number", "label", "start_clock", "end_clock", "is_break", "updated_at"}).
			AddRow(1, "Period 1", "10:00", "11:00", false, now).
			AddRow(2, "Period 2", "11:00", "12:00", false, now))

	periods, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, periods, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}
