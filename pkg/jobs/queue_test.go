package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueProcessesJobs(t *testing.T) {
	done := make(chan string, 3)
	q := NewQueue("test", func(ctx context.Context, job Job) error {
		done <- job.ID
		return nil
	}, QueueConfig{Workers: 2})
	q.Start(context.Background())
	defer q.Stop()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(Job{ID: id, Kind: "demo"}))
	}
	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		select {
		case id := <-done:
			seen[id] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for jobs")
		}
	}
	assert.Len(t, seen, 3)
}

func TestQueueRetriesFailedJobs(t *testing.T) {
	var attempts atomic.Int32
	succeeded := make(chan struct{})
	q := NewQueue("retry", func(ctx context.Context, job Job) error {
		if attempts.Add(1) < 3 {
			return errors.New("transient")
		}
		close(succeeded)
		return nil
	}, QueueConfig{RetryDelay: 10 * time.Millisecond, MaxRetries: 5})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "x"}))
	select {
	case <-succeeded:
	case <-time.After(2 * time.Second):
		t.Fatal("job never succeeded")
	}
	assert.Equal(t, int32(3), attempts.Load())
}

func TestQueueRejectsBeforeStart(t *testing.T) {
	q := NewQueue("idle", func(context.Context, Job) error { return nil }, QueueConfig{})
	assert.ErrorIs(t, q.Enqueue(Job{ID: "x"}), ErrNotStarted)
}

func TestQueueFullDoesNotBlock(t *testing.T) {
	block := make(chan struct{})
	q := NewQueue("full", func(ctx context.Context, job Job) error {
		<-block
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 1})
	q.Start(context.Background())
	defer func() {
		close(block)
		q.Stop()
	}()

	require.NoError(t, q.Enqueue(Job{ID: "1"}))
	var err error
	for i := 2; i < 5 && err == nil; i++ {
		err = q.Enqueue(Job{ID: fmt.Sprintf("%d", i)})
	}
	assert.ErrorIs(t, err, ErrFull)
}

func TestQueueRefusesPendingDuplicate(t *testing.T) {
	release := make(chan struct{})
	ran := make(chan string, 4)
	q := NewQueue("dedupe", func(ctx context.Context, job Job) error {
		ran <- job.ID
		<-release
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 4})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "session-1"}))
	<-ran
	assert.ErrorIs(t, q.Enqueue(Job{ID: "session-1"}), ErrDuplicate)
	assert.Equal(t, 1, q.Stats().Pending)

	close(release)
	require.Eventually(t, func() bool { return q.Stats().Processed == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, q.Stats().Pending)
	require.NoError(t, q.Enqueue(Job{ID: "session-1"}))
}

func TestQueueCountsExhaustedRetries(t *testing.T) {
	q := NewQueue("doomed", func(context.Context, Job) error {
		return errors.New("permanent")
	}, QueueConfig{RetryDelay: time.Millisecond, MaxRetries: 2})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "x"}))
	require.Eventually(t, func() bool { return q.Stats().Failed == 1 }, 2*time.Second, 5*time.Millisecond)
	stats := q.Stats()
	assert.Zero(t, stats.Processed)
	assert.Zero(t, stats.Pending)
}

func TestEveryStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var runs atomic.Int32
	finished := make(chan struct{})
	go func() {
		Every(ctx, "tick", 5*time.Millisecond, nil, func(context.Context) error {
			if runs.Add(1) >= 2 {
				cancel()
			}
			return errors.New("ignored")
		})
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Every did not return after cancel")
	}
	assert.GreaterOrEqual(t, runs.Load(), int32(2))
}
