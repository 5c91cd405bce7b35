package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/kcea-attendance/internal/models"
	"github.com/noah-isme/kcea-attendance/pkg/jobs"
)

const jobKindAbsentees = "record_absentees"

type absenteeRecorder interface {
	RecordAbsentees(ctx context.Context, session models.Session) (int, error)
}

// AbsenteeWorker fills absent marks for closed sessions on a background queue
// so closing a session does not wait on the roster size.
type AbsenteeWorker struct {
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewAbsenteeWorker builds a worker that feeds recorder.
func NewAbsenteeWorker(recorder absenteeRecorder, logger *zap.Logger) *AbsenteeWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := func(ctx context.Context, job jobs.Job) error {
		session, ok := job.Payload.(models.Session)
		if !ok {
			logger.Error("unexpected absentee job payload", zap.String("job_id", job.ID))
			return nil
		}
		_, err := recorder.RecordAbsentees(ctx, session)
		return err
	}
	return &AbsenteeWorker{
		queue:  jobs.NewQueue("absentees", handler, jobs.QueueConfig{Workers: 2, BufferSize: 64, RetryDelay: 2 * time.Second, Logger: logger}),
		logger: logger,
	}
}

// Start launches the queue workers.
func (w *AbsenteeWorker) Start(ctx context.Context) {
	w.queue.Start(ctx)
}

// Stop drains the workers.
func (w *AbsenteeWorker) Stop() {
	w.queue.Stop()
}

// Stats reports the queue counters for metrics.
func (w *AbsenteeWorker) Stats() jobs.Stats {
	return w.queue.Stats()
}

// SessionClosed implements SessionCloseListener. A session whose absentees
// are already queued is not queued again.
func (w *AbsenteeWorker) SessionClosed(_ context.Context, session models.Session) error {
	err := w.queue.Enqueue(jobs.Job{ID: session.ID, Kind: jobKindAbsentees, Payload: session})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jobs.ErrDuplicate):
		w.logger.Debug("absentees already queued", zap.String("session_id", session.ID))
		return nil
	default:
		return fmt.Errorf("queue absentees for session %s: %w", session.ID, err)
	}
}
