package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/kcea-attendance/internal/models"
)

// PeriodRepository stores the static daily timetable.
type PeriodRepository struct {
	db *sqlx.DB
}

// NewPeriodRepository constructs a PeriodRepository.
func NewPeriodRepository(db *sqlx.DB) *PeriodRepository {
	return &PeriodRepository{db: db}
}

// List returns every period ordered by number.
func (r *PeriodRepository) List(ctx context.Context) ([]models.Period, error) {
	const query = `SELECT number, label, start_clock, end_clock, is_break, updated_at FROM periods ORDER BY number`
	var periods []models.Period
	if err := r.db.SelectContext(ctx, &periods, query); err != nil {
		return nil, fmt.Errorf("list periods: %w", err)
	}
	return periods, nil
}

// FindByNumber returns a single period.
func (r *PeriodRepository) FindByNumber(ctx context.Context, number int) (*models.Period, error) {
	const query = `SELECT number, label, start_clock, end_clock, is_break, updated_at FROM periods WHERE number = $1`
	var period models.Period
	if err := r.db.GetContext(ctx, &period, query, number); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find period: %w", err)
	}
	return &period, nil
}

// Replace upserts the given periods keyed by number and removes any not listed.
// Running it twice with the same input leaves the table unchanged.
func (r *PeriodRepository) Replace(ctx context.Context, periods []models.Period) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed periods: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const upsert = `INSERT INTO periods (number, label, start_clock, end_clock, is_break, updated_at) VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (number) DO UPDATE SET label = excluded.label, start_clock = excluded.start_clock, end_clock = excluded.end_clock, is_break = excluded.is_break, updated_at = excluded.updated_at`

	now := time.Now().UTC()
	numbers := make([]int, 0, len(periods))
	for _, p := range periods {
		if _, err := tx.ExecContext(ctx, upsert, p.Number, p.Label, p.StartClock, p.EndClock, p.IsBreak, now); err != nil {
			return fmt.Errorf("upsert period %d: %w", p.Number, err)
		}
		numbers = append(numbers, p.Number)
	}

	if len(numbers) > 0 {
		query, args, err := sqlx.In(`DELETE FROM periods WHERE number NOT IN (?)`, numbers)
		if err != nil {
			return fmt.Errorf("build prune query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return fmt.Errorf("prune periods: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed periods: %w", err)
	}
	return nil
}
