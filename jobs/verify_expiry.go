package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/beacon-erp/beacon-payments/internal/observability"
)

// verifyLogRetention is how long verification attempts stay queryable.
const verifyLogRetention = 180 * 24 * time.Hour

// LogPruner deletes aged verification log rows.
type LogPruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// NewVerifyExpiryHandler returns the verify:expiry handler. Token expiry
// itself is computed at lookup time; the job only prunes the attempt log.
func NewVerifyExpiryHandler(pruner LogPruner, metrics *observability.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		deleted, err := pruner.DeleteOlderThan(ctx, time.Now().Add(-verifyLogRetention))
		if err != nil {
			if metrics != nil {
				metrics.ObserveSweep("verify_expiry", "error")
			}
			return err
		}
		if metrics != nil {
			metrics.ObserveSweep("verify_expiry", "ok")
		}
		logger.Info("verification log prune", slog.Int64("deleted", deleted))
		return nil
	}
}
