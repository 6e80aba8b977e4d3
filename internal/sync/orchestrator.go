package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"citasync/internal/classify"
	"citasync/internal/core"
)

// EventStore is the reconciliation contract against the persistent store.
// Upsert must be idempotent per (calendarId, eventId).
type EventStore interface {
	UpsertEvents(ctx context.Context, events []core.EventRecord) (core.UpsertCounts, error)
	RemoveEvents(ctx context.Context, keys []core.EventKey) error
}

// LogStore owns sync log lifecycle: create PENDING, finalize once.
type LogStore interface {
	CreateSyncLog(ctx context.Context, trigger core.SyncTrigger) (int64, error)
	FinalizeSyncLog(ctx context.Context, id int64, status core.SyncStatus, fetchedAt *time.Time, counts core.SyncCounts, errMsg string) error
}

// StageTimings records per-stage wall-clock durations for observability.
type StageTimings struct {
	Fetch    time.Duration `json:"fetch"`
	Upsert   time.Duration `json:"upsert"`
	Remove   time.Duration `json:"remove"`
	Snapshot time.Duration `json:"snapshot"`
	Total    time.Duration `json:"total"`
}

// Result is a successful sync's outcome.
type Result struct {
	LogID   int64           `json:"logId"`
	Counts  core.SyncCounts `json:"counts"`
	Timings StageTimings    `json:"timings"`
}

// Orchestrator sequences one sync run: resolve config, fetch, filter,
// classify, reconcile, snapshot, finalize the log entry. A single-slot
// guard rejects overlapping runs.
type Orchestrator struct {
	resolver  *Resolver
	fetcher   *Fetcher
	store     EventStore
	logs      LogStore
	snapshots *SnapshotWriter

	running sync.Mutex
	now     func() time.Time
}

func NewOrchestrator(resolver *Resolver, fetcher *Fetcher, store EventStore, logs LogStore, snapshots *SnapshotWriter) *Orchestrator {
	return &Orchestrator{
		resolver:  resolver,
		fetcher:   fetcher,
		store:     store,
		logs:      logs,
		snapshots: snapshots,
		now:       time.Now,
	}
}

// Run executes one full sync. It returns core.ErrSyncInProgress when
// another run holds the slot. Failures after the log entry was created
// finalize it as ERROR with the causing message; Run is never retried
// internally.
func (o *Orchestrator) Run(ctx context.Context, trigger core.SyncTrigger) (*Result, error) {
	if !o.running.TryLock() {
		return nil, core.ErrSyncInProgress
	}
	defer o.running.Unlock()

	started := o.now()

	logID, err := o.logs.CreateSyncLog(ctx, trigger)
	if err != nil {
		return nil, fmt.Errorf("create sync log: %w", err)
	}

	slog.InfoContext(ctx, "Sync started",
		"log_id", logID, "source", trigger.Source, "user", trigger.User)

	cfg := o.resolver.Resolve(ctx)
	if len(cfg.CalendarIDs) == 0 {
		return nil, o.fail(ctx, logID, fmt.Errorf("no calendars configured"))
	}
	window := Window(cfg, started)

	fetchStart := o.now()
	fetched, err := o.fetcher.Fetch(ctx, cfg.CalendarIDs, window)
	if err != nil {
		return nil, o.fail(ctx, logID, fmt.Errorf("fetch: %w", err))
	}
	fetchedAt := o.now()
	timings := StageTimings{Fetch: fetchedAt.Sub(fetchStart)}

	kept, excluded := SplitExcluded(fetched.Events, cfg.ExcludePatterns)
	for i := range kept {
		kept[i].Classification = classify.Classify(kept[i].Summary, kept[i].Description)
	}

	upsertStart := o.now()
	upserted, err := o.store.UpsertEvents(ctx, kept)
	if err != nil {
		return nil, o.fail(ctx, logID, fmt.Errorf("upsert: %w", err))
	}
	timings.Upsert = o.now().Sub(upsertStart)

	if len(excluded) > 0 {
		removeStart := o.now()
		if err := o.store.RemoveEvents(ctx, excluded); err != nil {
			return nil, o.fail(ctx, logID, fmt.Errorf("remove excluded: %w", err))
		}
		timings.Remove = o.now().Sub(removeStart)
	}

	snapshotStart := o.now()
	snapshotPath, _, err := o.snapshots.Persist(SnapshotPayload{
		SyncedAt:    started,
		Window:      window,
		PerCalendar: fetched.PerCalendar,
		Events:      kept,
		Excluded:    excluded,
	})
	if err != nil {
		return nil, o.fail(ctx, logID, fmt.Errorf("snapshot: %w", err))
	}
	timings.Snapshot = o.now().Sub(snapshotStart)
	timings.Total = o.now().Sub(started)

	counts := core.SyncCounts{
		Inserted: upserted.Inserted,
		Updated:  upserted.Updated,
		Skipped:  upserted.Skipped,
		Excluded: len(excluded),
	}
	if err := o.logs.FinalizeSyncLog(ctx, logID, core.SyncSuccess, &fetchedAt, counts, ""); err != nil {
		return nil, fmt.Errorf("finalize sync log: %w", err)
	}

	slog.InfoContext(ctx, "Sync completed",
		"log_id", logID,
		"inserted", counts.Inserted,
		"updated", counts.Updated,
		"skipped", counts.Skipped,
		"excluded", counts.Excluded,
		"snapshot", snapshotPath,
		"fetch_ms", timings.Fetch.Milliseconds(),
		"upsert_ms", timings.Upsert.Milliseconds(),
		"remove_ms", timings.Remove.Milliseconds(),
		"snapshot_ms", timings.Snapshot.Milliseconds(),
		"total_ms", timings.Total.Milliseconds())

	return &Result{LogID: logID, Counts: counts, Timings: timings}, nil
}

// fail finalizes the log entry as ERROR and returns the original error.
func (o *Orchestrator) fail(ctx context.Context, logID int64, cause error) error {
	if err := o.logs.FinalizeSyncLog(ctx, logID, core.SyncError, nil, core.SyncCounts{}, cause.Error()); err != nil {
		slog.ErrorContext(ctx, "Failed to finalize sync log as ERROR",
			"log_id", logID, "error", err)
	}
	slog.ErrorContext(ctx, "Sync failed", "log_id", logID, "error", cause)
	return cause
}
