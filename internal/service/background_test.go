package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kcea-attendance/internal/models"
)

type recorderStub struct {
	mu       sync.Mutex
	sessions []string
	done     chan struct{}
}

func (r *recorderStub) RecordAbsentees(ctx context.Context, session models.Session) (int, error) {
	r.mu.Lock()
	r.sessions = append(r.sessions, session.ID)
	r.mu.Unlock()
	r.done <- struct{}{}
	return 0, nil
}

func TestAbsenteeWorkerProcessesClosedSessions(t *testing.T) {
	rec := &recorderStub{done: make(chan struct{}, 1)}
	worker := NewAbsenteeWorker(rec, nil)
	worker.Start(context.Background())
	defer worker.Stop()

	require.NoError(t, worker.SessionClosed(context.Background(), models.Session{ID: "s1", CourseID: "cse101"}))

	select {
	case <-rec.done:
	case <-time.After(2 * time.Second):
		t.Fatal("absentee job was not processed")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"s1"}, rec.sessions)
}

func TestAbsenteeWorkerRejectsBeforeStart(t *testing.T) {
	worker := NewAbsenteeWorker(&recorderStub{done: make(chan struct{}, 1)}, nil)
	assert.Error(t, worker.SessionClosed(context.Background(), models.Session{ID: "s1"}))
}

func TestAbsenteeWorkerIgnoresRepeatedClose(t *testing.T) {
	release := make(chan struct{})
	rec := &recorderStub{done: make(chan struct{}, 2)}
	blocking := absenteeFunc(func(ctx context.Context, session models.Session) (int, error) {
		<-release
		return rec.RecordAbsentees(ctx, session)
	})
	worker := NewAbsenteeWorker(blocking, nil)
	worker.Start(context.Background())
	defer worker.Stop()

	session := models.Session{ID: "s1", CourseID: "cse101"}
	require.NoError(t, worker.SessionClosed(context.Background(), session))
	require.NoError(t, worker.SessionClosed(context.Background(), session))
	assert.Equal(t, 1, worker.Stats().Pending)

	close(release)
	select {
	case <-rec.done:
	case <-time.After(2 * time.Second):
		t.Fatal("absentee job was not processed")
	}
	require.Eventually(t, func() bool { return worker.Stats().Processed == 1 }, time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"s1"}, rec.sessions)
}

type absenteeFunc func(ctx context.Context, session models.Session) (int, error)

func (f absenteeFunc) RecordAbsentees(ctx context.Context, session models.Session) (int, error) {
	return f(ctx, session)
}
