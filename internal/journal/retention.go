package journal

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultPruneSchedule runs retention at the top of every hour.
const DefaultPruneSchedule = "0 * * * *"

// RetentionRunner prunes the journal on a cron schedule.
type RetentionRunner struct {
	journal   *Journal
	schedule  cron.Schedule
	retention atomic.Int64
	logger    *slog.Logger
}

// NewRetentionRunner parses expr as a standard five-field cron expression.
// An empty expr selects DefaultPruneSchedule.
func NewRetentionRunner(j *Journal, expr string, retention time.Duration, logger *slog.Logger) (*RetentionRunner, error) {
	if expr == "" {
		expr = DefaultPruneSchedule
	}
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &RetentionRunner{
		journal:  j,
		schedule: schedule,
		logger:   logger.With("component", "retention"),
	}
	r.SetRetention(retention)
	return r, nil
}

// SetRetention changes how long entries are kept. It takes effect on the
// next run.
func (r *RetentionRunner) SetRetention(d time.Duration) {
	r.retention.Store(int64(d))
}

// Retention returns the current retention period.
func (r *RetentionRunner) Retention() time.Duration {
	return time.Duration(r.retention.Load())
}

// Next returns the next run time after from.
func (r *RetentionRunner) Next(from time.Time) time.Time {
	return r.schedule.Next(from)
}

// Run prunes on schedule until ctx is cancelled.
func (r *RetentionRunner) Run(ctx context.Context) error {
	next := r.Next(time.Now())
	r.logger.Info("retention runner started", "next_run", next.Format(time.RFC3339))

	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("retention runner stopped")
			return nil
		case now := <-timer.C:
			r.RunOnce(ctx, now)

			next = r.Next(now)
			r.logger.Debug("next run scheduled", "next_run", next.Format(time.RFC3339))
			timer.Reset(time.Until(next))
		}
	}
}

// RunOnce prunes entries older than the retention period as of now. A zero
// retention keeps everything.
func (r *RetentionRunner) RunOnce(ctx context.Context, now time.Time) {
	retention := r.Retention()
	if retention <= 0 {
		return
	}

	start := time.Now()
	removed, err := r.journal.Prune(ctx, now.Add(-retention))
	if err != nil {
		r.logger.Error("prune failed", "error", err)
		return
	}
	r.logger.Info("journal pruned", "removed", removed, "duration", time.Since(start))
}
