package idempotency

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunJanitor purges expired entries every interval until ctx is cancelled.
func RunJanitor(ctx context.Context, store Store, interval time.Duration, batch int, logger *zap.Logger) {
	if store == nil || interval <= 0 {
		return
	}
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
			removed, err := PurgeAll(ctx, store, time.Now().UTC(), batch)
			if err != nil {
				logger.Warn("idempotency: purge failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("idempotency: purged expired keys", zap.Int("removed", removed))
			}
		}
	}
}

// PurgeAll drains expired entries batch by batch.
func PurgeAll(ctx context.Context, store Store, now time.Time, batch int) (int, error) {
	if batch <= 0 {
		batch = 200
	}
	total := 0
	for {
		removed, err := store.Purge(ctx, now, batch)
		total += removed
		if err != nil || removed < batch {
			return total, err
		}
	}
}
