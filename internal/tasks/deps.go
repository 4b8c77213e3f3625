// Package tasks defines the background tasks the scheduler runs and the
// registry that maps task names from configuration to task functions.
package tasks

import (
	"context"
	"log/slog"

	"github.com/crowdesk/messenger/internal/database"
	"github.com/crowdesk/messenger/internal/idempotency"
)

// ScheduledTaskFunc is the signature every scheduled task implements.
type ScheduledTaskFunc func(ctx context.Context) error

// TaskDeps holds the dependencies available to scheduled tasks.
type TaskDeps struct {
	Logger *slog.Logger
	Store  database.Store
	Guard  idempotency.Guard
}
