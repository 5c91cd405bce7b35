package service

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/kcea-attendance/internal/models"
	appErrors "github.com/noah-isme/kcea-attendance/pkg/errors"
)

type summaryRepository interface {
	Counters(ctx context.Context, studentID string) (int, int, error)
	SubjectCounters(ctx context.Context, studentID string) ([]models.SubjectSummary, error)
	ListByStudent(ctx context.Context, studentID string, limit, offset int) ([]models.AttendanceRecord, error)
	CountTotals(ctx context.Context, date string) (int, int, int, error)
}

type studentCounter interface {
	CountByRole(ctx context.Context, role models.UserRole) (int, error)
}

type activeSessionCounter interface {
	CountActive(ctx context.Context) (int, error)
}

// SummaryCacheKey is the cache key for a student's summary counters.
func SummaryCacheKey(studentID string) string {
	return "summary:" + studentID
}

// Percentage returns present/total as a percentage rounded to one decimal place.
func Percentage(present, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(present)/float64(total)*1000) / 10
}

// SummaryService aggregates attendance records into dashboard views.
type SummaryService struct {
	records  summaryRepository
	users    studentCounter
	sessions activeSessionCounter
	cache    *CacheService
	pageSize int
	loc      *time.Location
	now      func() time.Time
	logger   *zap.Logger
}

// NewSummaryService constructs a SummaryService. pageSize bounds the recent list.
func NewSummaryService(records summaryRepository, users studentCounter, sessions activeSessionCounter, cache *CacheService, pageSize int, loc *time.Location, logger *zap.Logger) *SummaryService {
	if pageSize <= 0 {
		pageSize = 10
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SummaryService{records: records, users: users, sessions: sessions, cache: cache, pageSize: pageSize, loc: loc, now: systemClock, logger: logger}
}

// Summarize returns the attendance summary for studentID with the given page
// of recent records. Students may only summarise themselves.
func (s *SummaryService) Summarize(ctx context.Context, principal models.Principal, studentID string, page int) (*models.AttendanceSummary, error) {
	if studentID == "" {
		studentID = principal.UserID
	}
	if err := authorizeStudentData(principal, studentID); err != nil {
		return nil, err
	}
	if err := checkPage(page); err != nil {
		return nil, err
	}

	counters, err := s.counters(ctx, studentID)
	if err != nil {
		return nil, err
	}

	cursor := s.Cursor(studentID, 0)
	cursor.Seek(page)
	page = cursor.Page()
	recent, _, err := cursor.Next(ctx)
	if err != nil {
		return nil, err
	}

	subjects := make([]models.SubjectSummary, len(counters.Subjects))
	for i, sub := range counters.Subjects {
		sub.Percentage = Percentage(sub.Present, sub.Total)
		subjects[i] = sub
	}
	if recent == nil {
		recent = []models.AttendanceRecord{}
	}

	return &models.AttendanceSummary{
		StudentID:        studentID,
		Present:          counters.Present,
		Total:            counters.Total,
		Percentage:       Percentage(counters.Present, counters.Total),
		Subjects:         subjects,
		Recent:           recent,
		RecentPagination: models.NewPagination(page, s.pageSize, counters.Total),
	}, nil
}

// History returns one page of a student's records.
func (s *SummaryService) History(ctx context.Context, principal models.Principal, studentID string, page, pageSize int) ([]models.AttendanceRecord, *models.Pagination, error) {
	if studentID == "" {
		studentID = principal.UserID
	}
	if err := authorizeStudentData(principal, studentID); err != nil {
		return nil, nil, err
	}
	if err := checkPage(page); err != nil {
		return nil, nil, err
	}
	counters, err := s.counters(ctx, studentID)
	if err != nil {
		return nil, nil, err
	}
	cursor := s.Cursor(studentID, pageSize)
	cursor.Seek(page)
	page = cursor.Page()
	records, _, err := cursor.Next(ctx)
	if err != nil {
		return nil, nil, err
	}
	if records == nil {
		records = []models.AttendanceRecord{}
	}
	return records, models.NewPagination(page, cursor.pageSize, counters.Total), nil
}

// Overview returns admin dashboard counters.
func (s *SummaryService) Overview(ctx context.Context, principal models.Principal) (*models.AttendanceOverview, error) {
	if principal.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "admin access required")
	}
	students, err := s.users.CountByRole(ctx, models.RoleStudent)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count students")
	}
	total, today, presentToday, err := s.records.CountTotals(ctx, s.now().In(s.loc).Format(models.DateLayout))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count attendance")
	}
	active, err := s.sessions.CountActive(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count active sessions")
	}
	return &models.AttendanceOverview{
		TotalStudents:  students,
		TotalRecords:   total,
		RecordsToday:   today,
		PresentToday:   presentToday,
		ActiveSessions: active,
	}, nil
}

// Cursor returns a history cursor for studentID. pageSize <= 0 uses the configured size.
func (s *SummaryService) Cursor(studentID string, pageSize int) *HistoryCursor {
	if pageSize <= 0 || pageSize > 100 {
		pageSize = s.pageSize
	}
	return NewHistoryCursor(s.records, studentID, pageSize)
}

func (s *SummaryService) counters(ctx context.Context, studentID string) (*models.SummaryCounters, error) {
	key := SummaryCacheKey(studentID)
	var cached models.SummaryCounters
	hit, gen, fillable := s.cache.Lookup(ctx, key, &cached)
	if hit {
		return &cached, nil
	}

	present, total, err := s.records.Counters(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count attendance")
	}
	subjects, err := s.records.SubjectCounters(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count attendance by subject")
	}
	if subjects == nil {
		subjects = []models.SubjectSummary{}
	}
	counters := &models.SummaryCounters{Present: present, Total: total, Subjects: subjects}
	if fillable {
		s.cache.Fill(ctx, key, gen, counters, 0)
	}
	return counters, nil
}

func authorizeStudentData(principal models.Principal, studentID string) error {
	if principal.Role == models.RoleStudent && principal.UserID != studentID {
		return appErrors.Clone(appErrors.ErrForbidden, "students may only view their own attendance")
	}
	return nil
}

type historyPager interface {
	ListByStudent(ctx context.Context, studentID string, limit, offset int) ([]models.AttendanceRecord, error)
}

// HistoryCursor pages through a student's records, most recent first. It is
// finite and can be restarted with Reset.
type HistoryCursor struct {
	repo      historyPager
	studentID string
	pageSize  int
	page      int
	done      bool
}

// NewHistoryCursor builds a cursor positioned on the first page.
func NewHistoryCursor(repo historyPager, studentID string, pageSize int) *HistoryCursor {
	if pageSize <= 0 {
		pageSize = 10
	}
	return &HistoryCursor{repo: repo, studentID: studentID, pageSize: pageSize, page: 1}
}

// Page is the 1-based page the next call to Next will return.
func (c *HistoryCursor) Page() int {
	return c.page
}

// Seek positions the cursor on page. Values below 1 mean the first page and
// values above models.MaxPage are clamped to it.
func (c *HistoryCursor) Seek(page int) {
	switch {
	case page < 1:
		page = 1
	case page > models.MaxPage:
		page = models.MaxPage
	}
	c.page = page
	c.done = false
}

// Reset rewinds the cursor to the first page.
func (c *HistoryCursor) Reset() {
	c.Seek(1)
}

// Next fetches the current page and advances. ok is false once the history is exhausted.
func (c *HistoryCursor) Next(ctx context.Context) (records []models.AttendanceRecord, ok bool, err error) {
	if c.done {
		return nil, false, nil
	}
	records, err = c.repo.ListByStudent(ctx, c.studentID, c.pageSize, (c.page-1)*c.pageSize)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance history")
	}
	if len(records) < c.pageSize {
		c.done = true
	}
	if len(records) == 0 {
		return nil, false, nil
	}
	c.page++
	return records, true, nil
}
