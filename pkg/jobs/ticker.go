package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Every runs fn each interval until ctx is done. Errors are logged and the
// schedule continues.
func Every(ctx context.Context, name string, interval time.Duration, logger *zap.Logger, fn func(context.Context) error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				logger.Warn("periodic job failed", zap.String("job", name), zap.Error(err))
			}
		}
	}
}
