package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kcea-attendance/internal/models"
	appErrors "github.com/noah-isme/kcea-attendance/pkg/errors"
)

type summaryRepoStub struct {
	records     []models.AttendanceRecord
	counterHits int
	onCount     func()
}

func (s *summaryRepoStub) Counters(ctx context.Context, studentID string) (int, int, error) {
	s.counterHits++
	if s.onCount != nil {
		s.onCount()
	}
	present, total := 0, 0
	for _, r := range s.records {
		if r.StudentID != studentID {
			continue
		}
		total++
		if r.Status == models.AttendanceStatusPresent {
			present++
		}
	}
	return present, total, nil
}

func (s *summaryRepoStub) SubjectCounters(ctx context.Context, studentID string) ([]models.SubjectSummary, error) {
	bySubject := map[string]*models.SubjectSummary{}
	var order []string
	for _, r := range s.records {
		if r.StudentID != studentID {
			continue
		}
		sub, ok := bySubject[r.Subject]
		if !ok {
			sub = &models.SubjectSummary{Subject: r.Subject}
			bySubject[r.Subject] = sub
			order = append(order, r.Subject)
		}
		sub.Total++
		if r.Status == models.AttendanceStatusPresent {
			sub.Present++
		}
	}
	out := make([]models.SubjectSummary, 0, len(order))
	for _, name := range order {
		out = append(out, *bySubject[name])
	}
	return out, nil
}

func (s *summaryRepoStub) ListByStudent(ctx context.Context, studentID string, limit, offset int) ([]models.AttendanceRecord, error) {
	var mine []models.AttendanceRecord
	for _, r := range s.records {
		if r.StudentID == studentID {
			mine = append(mine, r)
		}
	}
	if offset >= len(mine) {
		return nil, nil
	}
	end := offset + limit
	if end > len(mine) {
		end = len(mine)
	}
	return mine[offset:end], nil
}

func (s *summaryRepoStub) CountTotals(ctx context.Context, date string) (int, int, int, error) {
	today, present := 0, 0
	for _, r := range s.records {
		if r.AttendanceDate == date {
			today++
			if r.Status == models.AttendanceStatusPresent {
				present++
			}
		}
	}
	return len(s.records), today, present, nil
}

type countStub struct{ n int }

func (c countStub) CountByRole(ctx context.Context, role models.UserRole) (int, error) { return c.n, nil }
func (c countStub) CountActive(ctx context.Context) (int, error)                       { return c.n, nil }

type memCache struct {
	values map[string]interface{}
	gens   map[string]int64
}

func newMemCache() *memCache {
	return &memCache{values: map[string]interface{}{}, gens: map[string]int64{}}
}

func (m *memCache) Get(ctx context.Context, key string, dest interface{}) error {
	v, ok := m.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	*dest.(*models.SummaryCounters) = *v.(*models.SummaryCounters)
	return nil
}

func (m *memCache) Generation(ctx context.Context, key string) (int64, error) {
	return m.gens[key], nil
}

func (m *memCache) SetIfGeneration(ctx context.Context, key string, gen int64, value interface{}, ttl time.Duration) (bool, error) {
	if m.gens[key] != gen {
		return false, nil
	}
	m.values[key] = value
	return true, nil
}

func (m *memCache) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.values, k)
		m.gens[k]++
	}
	return nil
}

func studentRecords(studentID string, statuses ...models.AttendanceStatus) []models.AttendanceRecord {
	out := make([]models.AttendanceRecord, len(statuses))
	for i, st := range statuses {
		subject := "Maths"
		if i%2 == 1 {
			subject = "Physics"
		}
		out[i] = models.AttendanceRecord{
			ID:             fmt.Sprintf("%s-%d", studentID, i),
			StudentID:      studentID,
			Subject:        subject,
			AttendanceDate: "2024-03-04",
			Status:         st,
		}
	}
	return out
}

func TestPercentage(t *testing.T) {
	assert.Equal(t, 0.0, Percentage(0, 0))
	assert.Equal(t, 75.0, Percentage(3, 4))
	assert.Equal(t, 66.7, Percentage(2, 3))
	assert.Equal(t, 100.0, Percentage(5, 5))
}

func TestSummarizeEmptyHistory(t *testing.T) {
	svc := NewSummaryService(&summaryRepoStub{}, countStub{}, countStub{}, nil, 10, time.UTC, nil)

	summary, err := svc.Summarize(context.Background(), studentAlice, "", 1)
	require.NoError(t, err)
	assert.Equal(t, "alice", summary.StudentID)
	assert.Zero(t, summary.Total)
	assert.Zero(t, summary.Percentage)
	assert.Empty(t, summary.Recent)
	assert.NotNil(t, summary.Recent)
	assert.Equal(t, 0, summary.RecentPagination.TotalPages)
}

func TestSummarizeThreeOfFour(t *testing.T) {
	p, a := models.AttendanceStatusPresent, models.AttendanceStatusAbsent
	repo := &summaryRepoStub{records: studentRecords("alice", p, p, p, a)}
	svc := NewSummaryService(repo, countStub{}, countStub{}, nil, 3, time.UTC, nil)

	summary, err := svc.Summarize(context.Background(), studentAlice, "alice", 1)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Present)
	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 75.0, summary.Percentage)
	assert.Len(t, summary.Recent, 3)
	assert.Equal(t, 2, summary.RecentPagination.TotalPages)

	require.Len(t, summary.Subjects, 2)
	assert.Equal(t, "Maths", summary.Subjects[0].Subject)
	assert.Equal(t, 100.0, summary.Subjects[0].Percentage)
	assert.Equal(t, 50.0, summary.Subjects[1].Percentage)

	page2, err := svc.Summarize(context.Background(), studentAlice, "alice", 2)
	require.NoError(t, err)
	assert.Len(t, page2.Recent, 1)
	assert.Equal(t, 2, page2.RecentPagination.Page)
}

func TestSummarizeAuthorization(t *testing.T) {
	svc := NewSummaryService(&summaryRepoStub{}, countStub{}, countStub{}, nil, 10, time.UTC, nil)

	_, err := svc.Summarize(context.Background(), studentAlice, "bob", 1)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	_, err = svc.Summarize(context.Background(), teacherTina, "bob", 1)
	assert.NoError(t, err)
}

func TestSummarizeUsesCacheUntilInvalidated(t *testing.T) {
	p := models.AttendanceStatusPresent
	repo := &summaryRepoStub{records: studentRecords("alice", p)}
	cache := NewCacheService(newMemCache(), nil, time.Minute, nil, true)
	svc := NewSummaryService(repo, countStub{}, countStub{}, cache, 10, time.UTC, nil)

	_, err := svc.Summarize(context.Background(), studentAlice, "alice", 1)
	require.NoError(t, err)
	_, err = svc.Summarize(context.Background(), studentAlice, "alice", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.counterHits)

	repo.records = append(repo.records, studentRecords("alice", p, p)...)
	cache.Invalidate(context.Background(), SummaryCacheKey("alice"))

	summary, err := svc.Summarize(context.Background(), studentAlice, "alice", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.counterHits)
	assert.Equal(t, 3, summary.Total)
}

func TestSummarizeSkipsFillRacingAnInvalidation(t *testing.T) {
	p := models.AttendanceStatusPresent
	repo := &summaryRepoStub{records: studentRecords("alice", p)}
	store := newMemCache()
	cache := NewCacheService(store, nil, time.Minute, nil, true)
	svc := NewSummaryService(repo, countStub{}, countStub{}, cache, 10, time.UTC, nil)

	// A mark lands while the counters are being read.
	repo.onCount = func() {
		repo.onCount = nil
		repo.records = append(repo.records, studentRecords("bob", p)...)
		cache.Invalidate(context.Background(), SummaryCacheKey("alice"))
	}
	_, err := svc.Summarize(context.Background(), studentAlice, "alice", 1)
	require.NoError(t, err)
	assert.NotContains(t, store.values, SummaryCacheKey("alice"))

	_, err = svc.Summarize(context.Background(), studentAlice, "alice", 1)
	require.NoError(t, err)
	assert.Contains(t, store.values, SummaryCacheKey("alice"))
	assert.Equal(t, 2, repo.counterHits)
}

func TestHistoryRejectsPageBeyondLimit(t *testing.T) {
	repo := &summaryRepoStub{records: studentRecords("alice", models.AttendanceStatusPresent)}
	svc := NewSummaryService(repo, countStub{}, countStub{}, nil, 10, time.UTC, nil)

	_, _, err := svc.History(context.Background(), studentAlice, "", 1_000_000_000_000_000_000, 10)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	_, err = svc.Summarize(context.Background(), studentAlice, "", models.MaxPage+1)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, pagination, err := svc.History(context.Background(), studentAlice, "", models.MaxPage, 10)
	require.NoError(t, err)
	assert.Equal(t, models.MaxPage, pagination.Page)
}

type offsetSpy struct{ offsets []int }

func (s *offsetSpy) ListByStudent(ctx context.Context, studentID string, limit, offset int) ([]models.AttendanceRecord, error) {
	s.offsets = append(s.offsets, offset)
	return nil, nil
}

func TestHistoryCursorSeekClampsHugePage(t *testing.T) {
	spy := &offsetSpy{}
	cursor := NewHistoryCursor(spy, "alice", 10)
	cursor.Seek(1_000_000_000_000_000_000)
	assert.Equal(t, models.MaxPage, cursor.Page())

	_, ok, err := cursor.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	require.Len(t, spy.offsets, 1)
	assert.Equal(t, (models.MaxPage-1)*10, spy.offsets[0])
}

func TestHistoryCursorPagesAndResets(t *testing.T) {
	p := models.AttendanceStatusPresent
	repo := &summaryRepoStub{records: studentRecords("alice", p, p, p, p, p)}
	cursor := NewHistoryCursor(repo, "alice", 2)

	var sizes []int
	for {
		page, ok, err := cursor.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		sizes = append(sizes, len(page))
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)

	_, ok, err := cursor.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	cursor.Reset()
	page, ok, err := cursor.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "alice-0", page[0].ID)
}

func TestHistoryCursorExactMultiple(t *testing.T) {
	p := models.AttendanceStatusPresent
	repo := &summaryRepoStub{records: studentRecords("alice", p, p, p, p)}
	cursor := NewHistoryCursor(repo, "alice", 2)

	pages := 0
	for {
		_, ok, err := cursor.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		pages++
	}
	assert.Equal(t, 2, pages)
}

func TestHistory(t *testing.T) {
	p := models.AttendanceStatusPresent
	repo := &summaryRepoStub{records: studentRecords("alice", p, p, p)}
	svc := NewSummaryService(repo, countStub{}, countStub{}, nil, 10, time.UTC, nil)

	records, pagination, err := svc.History(context.Background(), studentAlice, "", 2, 2)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 2, pagination.Page)
	assert.Equal(t, 3, pagination.TotalCount)
}

func TestOverview(t *testing.T) {
	p, a := models.AttendanceStatusPresent, models.AttendanceStatusAbsent
	repo := &summaryRepoStub{records: studentRecords("alice", p, a)}
	svc := NewSummaryService(repo, countStub{n: 12}, countStub{n: 12}, nil, 10, time.UTC, nil)
	svc.now = func() time.Time { return time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC) }

	_, err := svc.Overview(context.Background(), teacherTina)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	overview, err := svc.Overview(context.Background(), adminAda)
	require.NoError(t, err)
	assert.Equal(t, 12, overview.TotalStudents)
	assert.Equal(t, 2, overview.TotalRecords)
	assert.Equal(t, 2, overview.RecordsToday)
	assert.Equal(t, 1, overview.PresentToday)
}
