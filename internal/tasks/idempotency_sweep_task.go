package tasks

import (
	"context"
	"fmt"
)

// newIdempotencySweepTask creates the scheduled task that evicts expired
// entries from the idempotency guard.
func newIdempotencySweepTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "idempotency_sweep")

	return func(ctx context.Context) error {
		removed, err := deps.Guard.Sweep(ctx)
		if err != nil {
			log.ErrorContext(ctx, "Idempotency sweep failed", "error", err)
			return fmt.Errorf("idempotency sweep failed: %w", err)
		}

		if removed > 0 {
			log.InfoContext(ctx, "Idempotency sweep completed", "removed", removed)
		}
		return nil
	}
}
