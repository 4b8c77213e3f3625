// Package main contains the entrypoint for the messengerd service.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crowdesk/messenger/internal/api"
	"github.com/crowdesk/messenger/internal/app"
	"github.com/crowdesk/messenger/internal/config"
	"github.com/crowdesk/messenger/internal/database"
	"github.com/crowdesk/messenger/internal/dispatch"
	"github.com/crowdesk/messenger/internal/graph"
	"github.com/crowdesk/messenger/internal/idempotency"
	"github.com/crowdesk/messenger/internal/logger"
	"github.com/crowdesk/messenger/internal/tasks"

	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes and starts all application components (config, logger, db,
// graph client, dispatcher, HTTP router, scheduler), handles graceful
// shutdown, and returns an exit code (0 for success, 1 for failure).
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Log.Level, cfg.Log.JSON)
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", cfg.Log.Level, "json", cfg.Log.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	guard, closeGuard, err := newGuard(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize idempotency guard", "backend", cfg.Idempotency.Backend, "error", err)
		return 1
	}
	defer closeGuard()

	graphClient := graph.NewClient(cfg.Graph, log)

	dispatcher := dispatch.NewDispatcher(store, graphClient, guard, dispatch.Config{
		AppID:         cfg.Graph.AppID,
		Channel:       cfg.Messenger.Channel,
		PublicBaseURL: cfg.Messenger.PublicBaseURL,
	}, log)

	router := api.NewRouter(cfg, store, dispatcher, log)

	taskDeps := tasks.TaskDeps{
		Logger: log,
		Store:  store,
		Guard:  guard,
	}
	scheduler, err := app.NewScheduler(log, &cfg.Scheduler, tasks.RegisterAllTasks(taskDeps))
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	service := app.New(log, cfg, router, scheduler)

	log.Info("Starting messengerd...")
	runErr := service.Run(ctx)
	log.Info("Run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Service stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Service stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}

// newGuard builds the configured idempotency guard. The returned close
// function is a no-op for the memory backend.
func newGuard(ctx context.Context, cfg *config.Config, log *slog.Logger) (idempotency.Guard, func(), error) {
	switch cfg.Idempotency.Backend {
	case "redis":
		guard, err := idempotency.NewRedisGuard(ctx, cfg.Idempotency.RedisURL, cfg.Idempotency.TTL, log)
		if err != nil {
			return nil, nil, err
		}
		return guard, func() {
			if err := guard.Close(); err != nil {
				log.Error("Error closing redis guard", "error", err)
			}
		}, nil
	default:
		guard := idempotency.NewMemoryGuard(cfg.Idempotency.TTL, cfg.Idempotency.MaxEntries, log)
		return guard, func() {}, nil
	}
}
