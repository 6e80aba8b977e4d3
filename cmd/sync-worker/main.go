package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"citasync/internal/amqp"
	gcal "citasync/internal/calendar/google"
	"citasync/internal/config"
	"citasync/internal/core"
	"citasync/internal/log"
	"citasync/internal/storage"
	"citasync/internal/sync"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := log.New(log.DefaultConfig()).WithComponent(log.ComponentWorker)
	log.SetDefault(logger)

	logger.Info("Starting sync-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	source, err := gcal.NewFromEnv(context.Background())
	if err != nil {
		logger.Error("Failed to initialize Google Calendar client", "error", err)
		os.Exit(1)
	}

	calendarIDs, excludePatterns, err := cfg.ResolveCalendars()
	if err != nil {
		logger.Error("Failed to resolve calendar configuration", "error", err)
		os.Exit(1)
	}

	resolver := sync.NewResolver(repo, sync.StaticConfig{
		CalendarIDs:      calendarIDs,
		TimeZone:         cfg.CalendarTimeZone,
		SyncStartDate:    cfg.SyncStartDate,
		LookaheadDays:    cfg.SyncLookaheadDays,
		ExcludeSummaries: excludePatterns,
		DailyMaxDays:     cfg.DailyMaxDays,
	})
	fetcher := sync.NewFetcher(source, sync.MaxPagesPerCalendar)
	snapshots := sync.NewSnapshotWriter(cfg.StorageRoot)
	orchestrator := sync.NewOrchestrator(resolver, fetcher, repo, repo, snapshots)

	// Initialize AMQP client for trigger consumption and completion events (optional)
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer amqpClient.Close()
	} else {
		logger.Info("AMQP disabled - no AMQP_URL provided")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runSync := func(ctx context.Context, trigger core.SyncTrigger) {
		result, err := orchestrator.Run(ctx, trigger)

		if amqpClient != nil && !errors.Is(err, core.ErrSyncInProgress) {
			msg := &amqp.SyncCompletedMessage{
				Status:    core.SyncSuccess,
				Timestamp: time.Now(),
			}
			if result != nil {
				msg.LogID = result.LogID
				msg.Counts = result.Counts
			}
			if err != nil {
				msg.Status = core.SyncError
				msg.Error = err.Error()
			}
			if pubErr := amqpClient.PublishSyncCompleted(ctx, msg); pubErr != nil {
				logger.Error("Failed to publish sync completed message", "error", pubErr)
			}
		}

		switch {
		case errors.Is(err, core.ErrSyncInProgress):
			logger.Warn("Sync already running, skipping", "source", trigger.Source)
		case err != nil:
			logger.Error("Sync run failed", "error", err, "source", trigger.Source)
		}
	}

	// Catch up on whatever happened while the worker was down.
	logger.Info("Performing startup sync...")
	runSync(rootCtx, core.SyncTrigger{Source: "startup"})

	g, ctx := errgroup.WithContext(rootCtx)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.SyncCron, func() {
		runSync(ctx, core.SyncTrigger{Source: "cron"})
	}); err != nil {
		logger.Error("Invalid sync cron expression", "error", err, "cron", cfg.SyncCron)
		os.Exit(1)
	}
	scheduler.Start()
	logger.Info("Scheduled periodic sync", "cron", cfg.SyncCron)

	if amqpClient != nil {
		g.Go(func() error {
			err := amqpClient.ConsumeSyncTriggers(ctx, func(msg *amqp.SyncTriggerMessage) error {
				runSync(ctx, msg.Trigger())
				return nil
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped with error", "error", err)
	}

	// Let an in-flight scheduled sync finish before exiting.
	logger.Info("Shutting down worker...")
	stopCtx := scheduler.Stop()
	select {
	case <-stopCtx.Done():
		logger.Info("Worker shutdown complete")
	case <-time.After(30 * time.Second):
		logger.Warn("Shutdown timeout reached")
	}
}
