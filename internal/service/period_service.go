package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/kcea-attendance/internal/models"
	appErrors "github.com/noah-isme/kcea-attendance/pkg/errors"
)

type periodRepository interface {
	List(ctx context.Context) ([]models.Period, error)
	FindByNumber(ctx context.Context, number int) (*models.Period, error)
	Replace(ctx context.Context, periods []models.Period) error
}

// PeriodService resolves the static daily timetable into markable windows.
type PeriodService struct {
	repo   periodRepository
	loc    *time.Location
	logger *zap.Logger
}

// NewPeriodService constructs a PeriodService for the institution zone loc.
func NewPeriodService(repo periodRepository, loc *time.Location, logger *zap.Logger) *PeriodService {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PeriodService{repo: repo, loc: loc, logger: logger}
}

// ListWindows returns every period ordered by number.
func (s *PeriodService) ListWindows(ctx context.Context) ([]models.Period, error) {
	periods, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list periods")
	}
	return periods, nil
}

// Current returns the period running at now. When two periods share a
// boundary minute the later one is reported.
func (s *PeriodService) Current(ctx context.Context, now time.Time) (*models.CurrentPeriod, error) {
	periods, err := s.ListWindows(ctx)
	if err != nil {
		return nil, err
	}
	result := &models.CurrentPeriod{Now: now.In(s.loc), Periods: periods}
	for i := range periods {
		w, err := periods[i].WindowOn(now, s.loc)
		if err != nil {
			s.logger.Warn("skipping malformed period", zap.Int("period", periods[i].Number), zap.Error(err))
			continue
		}
		if w.Contains(now) {
			p := periods[i]
			result.Current = &p
		}
	}
	return result, nil
}

// Resolve turns a period reference into its window on the day of now.
func (s *PeriodService) Resolve(ctx context.Context, ref string, now time.Time) (models.Window, error) {
	number, err := strconv.Atoi(strings.TrimSpace(ref))
	if err != nil || number <= 0 {
		return models.Window{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid period %q", ref))
	}
	period, err := s.repo.FindByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Window{}, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("period %d not found", number))
		}
		return models.Window{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load period")
	}
	w, err := period.WindowOn(now, s.loc)
	if err != nil {
		return models.Window{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "period has malformed clock times")
	}
	return w, nil
}

// Seed validates periods and upserts them by number. Numbers not listed are removed.
func (s *PeriodService) Seed(ctx context.Context, periods []models.Period) error {
	if err := ValidatePeriods(periods); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	if err := s.repo.Replace(ctx, periods); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to seed periods")
	}
	s.logger.Info("periods seeded", zap.Int("count", len(periods)))
	return nil
}

// ParsePeriodSchedule parses "number,start,end,label[,break]" entries separated by ';'.
func ParsePeriodSchedule(raw string) ([]models.Period, error) {
	var periods []models.Period
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		fields := strings.Split(entry, ",")
		if len(fields) < 4 || len(fields) > 5 {
			return nil, fmt.Errorf("period entry %q: want number,start,end,label[,break]", entry)
		}
		number, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			return nil, fmt.Errorf("period entry %q: bad number: %w", entry, err)
		}
		p := models.Period{
			Number:     number,
			StartClock: strings.TrimSpace(fields[1]),
			EndClock:   strings.TrimSpace(fields[2]),
			Label:      strings.TrimSpace(fields[3]),
		}
		if len(fields) == 5 {
			if flag := strings.ToLower(strings.TrimSpace(fields[4])); flag != "break" {
				return nil, fmt.Errorf("period entry %q: unknown flag %q", entry, flag)
			}
			p.IsBreak = true
		}
		periods = append(periods, p)
	}
	if err := ValidatePeriods(periods); err != nil {
		return nil, err
	}
	return periods, nil
}

// ValidatePeriods checks numbering, clock format, ordering and overlap.
// Periods may touch but not overlap.
func ValidatePeriods(periods []models.Period) error {
	if len(periods) == 0 {
		return errors.New("at least one period is required")
	}
	type span struct {
		number     int
		start, end time.Time
	}
	spans := make([]span, 0, len(periods))
	seen := make(map[int]bool, len(periods))
	for _, p := range periods {
		if p.Number <= 0 {
			return fmt.Errorf("period number must be positive, got %d", p.Number)
		}
		if seen[p.Number] {
			return fmt.Errorf("period %d listed twice", p.Number)
		}
		seen[p.Number] = true
		if strings.TrimSpace(p.Label) == "" {
			return fmt.Errorf("period %d needs a label", p.Number)
		}
		start, err := time.Parse(models.ClockLayout, p.StartClock)
		if err != nil {
			return fmt.Errorf("period %d start %q: expected HH:MM", p.Number, p.StartClock)
		}
		end, err := time.Parse(models.ClockLayout, p.EndClock)
		if err != nil {
			return fmt.Errorf("period %d end %q: expected HH:MM", p.Number, p.EndClock)
		}
		if !start.Before(end) {
			return fmt.Errorf("period %d must start before it ends", p.Number)
		}
		spans = append(spans, span{number: p.Number, start: start, end: end})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start.Before(spans[j].start) })
	for i := 1; i < len(spans); i++ {
		if spans[i].start.Before(spans[i-1].end) {
			return fmt.Errorf("period %d overlaps period %d", spans[i].number, spans[i-1].number)
		}
	}
	return nil
}
