package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"citasync/internal/amqp"
	"citasync/internal/cache"
	"citasync/internal/calendar"
	gcal "citasync/internal/calendar/google"
	mem "citasync/internal/calendar/memory"
	"citasync/internal/config"
	apphttp "citasync/internal/http"
	"citasync/internal/log"
	"citasync/internal/query"
	"citasync/internal/storage"
	"citasync/internal/sync"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := log.New(log.DefaultConfig())
	log.SetDefault(logger)

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

	// Choose calendar backend (default: google). Memory is for local dev.
	backend := os.Getenv("CALENDAR_BACKEND")
	if backend == "" {
		backend = "google"
	}

	var source calendar.EventSource
	switch backend {
	case "memory":
		source = mem.New(0)
		logger.Info("Initialized in-memory calendar backend", "backend", backend)
	default:
		cli, err := gcal.NewFromEnv(context.Background())
		if err != nil {
			logger.Error("Failed to initialize Google Calendar client", "error", err, "backend", backend)
			os.Exit(1)
		}
		source = cli
		logger.Info("Initialized Google Calendar backend", "backend", backend)
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

	engine := query.NewEngine(repo)

	cacheManager := cache.NewManager()
	for _, c := range engine.Cleaners() {
		cacheManager.Register(c)
	}
	cacheManager.StartCleanup(5 * time.Minute)
	defer cacheManager.Stop()

	// Async sync triggers go through the broker when it is configured.
	var publisher apphttp.TriggerPublisher
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer amqpClient.Close()
		publisher = amqpClient
	}

	srv := apphttp.NewServer(":"+cfg.Port, repo, engine, orchestrator, resolver, publisher, logger)

	// Configure server timeouts and limits
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 30 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	// Graceful shutdown handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("Starting citasync server", "port", cfg.Port, "backend", backend, "calendars", len(calendarIDs))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
