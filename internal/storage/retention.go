package storage

import (
	"context"
	"log/slog"
	"time"
)

// RetentionWorker trims check history older than the configured number of days.
type RetentionWorker struct {
	store         Store
	retentionDays int
	period        time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

func NewRetentionWorker(store Store, retentionDays int, period time.Duration, logger *slog.Logger) *RetentionWorker {
	return &RetentionWorker{
		store:         store,
		retentionDays: retentionDays,
		period:        period,
		logger:        logger,
		now:           time.Now,
	}
}

// Run purges once immediately and then every period until ctx is done.
// A non-positive retention keeps history forever.
func (w *RetentionWorker) Run(ctx context.Context) {
	if w.retentionDays <= 0 {
		w.logger.Info("check history retention disabled")
		return
	}

	ticker := time.NewTicker(w.period)
	defer ticker.Stop()

	w.Purge(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Purge(ctx)
		}
	}
}

// Purge removes history rows older than the retention window and returns
// the number of rows deleted.
func (w *RetentionWorker) Purge(ctx context.Context) int64 {
	before := w.now().AddDate(0, 0, -w.retentionDays)
	deleted, err := w.store.PurgeOldData(ctx, before)
	if err != nil {
		w.logger.Error("check history purge failed", "error", err)
		return 0
	}
	if deleted > 0 {
		w.logger.Info("check history purged", "deleted", deleted, "before", before.Format(time.RFC3339))
	}
	return deleted
}
