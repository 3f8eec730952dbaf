package jobmetrics

import (
	"context"
	"log/slog"
	"time"
)

// Task is one unit of background work. It returns the number of rows it changed.
type Task func(ctx context.Context) (int64, error)

// Every runs task on each tick until ctx is done. Failures are logged and
// counted; they never stop the loop.
func Every(ctx context.Context, logger *slog.Logger, metrics *Metrics, job string, interval time.Duration, task Task) error {
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			RunOnce(ctx, logger, metrics, job, task)
		}
	}
}

// RunOnce executes task a single time with tracking.
func RunOnce(ctx context.Context, logger *slog.Logger, metrics *Metrics, job string, task Task) {
	tracker := metrics.Track(job)
	n, err := task(ctx)
	if tracker.End(err) != nil {
		logger.WarnContext(ctx, "background job failed", slog.String("job", job), slog.Any("error", err))
		return
	}
	metrics.AddAffected(job, n)
	if n > 0 {
		logger.DebugContext(ctx, "background job finished", slog.String("job", job), slog.Int64("affected", n))
	}
}
