package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"citasync/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func strptr(s string) *string { return &s }
func intptr(v int64) *int64   { return &v }
func boolptr(b bool) *bool    { return &b }

func sampleEvent(eventID string, ts time.Time) core.EventRecord {
	return core.EventRecord{
		CalendarID: "cal",
		EventID:    eventID,
		Status:     "confirmed",
		Summary:    "Vacuna mensual",
		Start:      core.EventTime{DateTime: &ts, TimeZone: "UTC"},
		End:        core.EventTime{DateTime: &ts, TimeZone: "UTC"},
		Created:    ts.Add(-time.Hour),
		Updated:    ts.Add(-time.Minute),
		Classification: core.Classification{
			Category:       strptr("tratamiento_subcutaneo"),
			AmountExpected: intptr(15000),
		},
	}
}

func TestUpsertInsertThenSkip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	ts := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	counts, err := repo.UpsertEvents(ctx, []core.EventRecord{sampleEvent("1", ts)})
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if counts.Inserted != 1 || counts.Updated != 0 || counts.Skipped != 0 {
		t.Fatalf("unexpected first counts %+v", counts)
	}

	// identical content: second run must be a no-op
	counts, err = repo.UpsertEvents(ctx, []core.EventRecord{sampleEvent("1", ts)})
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if counts.Skipped != 1 || counts.Inserted != 0 || counts.Updated != 0 {
		t.Fatalf("unexpected second counts %+v", counts)
	}
}

func TestUpsertUpdatesChangedContent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	ts := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	if _, err := repo.UpsertEvents(ctx, []core.EventRecord{sampleEvent("1", ts)}); err != nil {
		t.Fatal(err)
	}

	changed := sampleEvent("1", ts)
	changed.Summary = "Vacuna mensual (reprogramada)"
	counts, err := repo.UpsertEvents(ctx, []core.EventRecord{changed})
	if err != nil {
		t.Fatal(err)
	}
	if counts.Updated != 1 {
		t.Fatalf("expected 1 update, got %+v", counts)
	}

	got, err := repo.GetEvent(ctx, changed.Key())
	if err != nil {
		t.Fatal(err)
	}
	if got.Summary != changed.Summary {
		t.Fatalf("summary not updated: %q", got.Summary)
	}
}

func TestUpsertRejectsInvalidKey(t *testing.T) {
	repo := newTestRepo(t)
	ts := time.Now()
	e := sampleEvent("", ts)
	if _, err := repo.UpsertEvents(context.Background(), []core.EventRecord{e}); !errors.Is(err, core.ErrInvalidEventKey) {
		t.Fatalf("expected ErrInvalidEventKey, got %v", err)
	}
}

func TestRemoveEvents(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	ts := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	if _, err := repo.UpsertEvents(ctx, []core.EventRecord{sampleEvent("1", ts)}); err != nil {
		t.Fatal(err)
	}

	if err := repo.RemoveEvents(ctx, []core.EventKey{
		{CalendarID: "cal", EventID: "1"},
		{CalendarID: "cal", EventID: "missing"}, // missing keys are fine
	}); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if _, err := repo.GetEvent(ctx, core.EventKey{CalendarID: "cal", EventID: "1"}); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected ErrNoRows after removal, got %v", err)
	}
}

func TestOverrideClassification(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	ts := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	if _, err := repo.UpsertEvents(ctx, []core.EventRecord{sampleEvent("1", ts)}); err != nil {
		t.Fatal(err)
	}

	key := core.EventKey{CalendarID: "cal", EventID: "1"}
	override := core.Classification{
		Category:   strptr("examen"),
		AmountPaid: intptr(20000),
		Attended:   boolptr(true),
	}
	if err := repo.OverrideClassification(ctx, key, override); err != nil {
		t.Fatalf("override: %v", err)
	}

	got, err := repo.GetEvent(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if got.Category == nil || *got.Category != "examen" {
		t.Fatalf("category not overridden: %+v", got.Category)
	}
	if got.AmountExpected != nil {
		t.Fatal("omitted field should be written as null")
	}
	if got.Attended == nil || !*got.Attended {
		t.Fatal("attended not overridden")
	}

	missing := core.EventKey{CalendarID: "cal", EventID: "nope"}
	if err := repo.OverrideClassification(ctx, missing, override); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected ErrNoRows for unknown event, got %v", err)
	}
}

func TestQueryEventsFilters(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	june1 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	june2 := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

	a := sampleEvent("a", june1)
	b := sampleEvent("b", june2)
	b.Category = nil
	b.Summary = "Examen de sangre"
	if _, err := repo.UpsertEvents(ctx, []core.EventRecord{a, b}); err != nil {
		t.Fatal(err)
	}

	// date range: To is inclusive of the whole day
	from := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	got, err := repo.QueryEvents(ctx, core.EventFilter{From: &from})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].EventID != "b" {
		t.Fatalf("from filter: got %v", got)
	}

	to := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	got, err = repo.QueryEvents(ctx, core.EventFilter{To: &to})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].EventID != "a" {
		t.Fatalf("to filter: got %v", got)
	}

	// FilterNone selects null categories
	got, err = repo.QueryEvents(ctx, core.EventFilter{Categories: []string{core.FilterNone}})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].EventID != "b" {
		t.Fatalf("none filter: got %v", got)
	}

	// search over summary and description
	got, err = repo.QueryEvents(ctx, core.EventFilter{Search: "SANGRE"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].EventID != "b" {
		t.Fatalf("search filter: got %v", got)
	}

	// no filter: ordered by effective timestamp
	got, err = repo.QueryEvents(ctx, core.EventFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].EventID != "a" || got[1].EventID != "b" {
		t.Fatalf("ordering: got %v", got)
	}
}

func TestRepositoriesShareDatabaseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")

	writer, err := NewSQLiteRepository(path)
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	defer writer.Close()

	reader, err := NewSQLiteRepository(path)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	defer reader.Close()

	ctx := context.Background()
	ts := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	if _, err := writer.UpsertEvents(ctx, []core.EventRecord{sampleEvent("shared-1", ts)}); err != nil {
		t.Fatalf("upsert via writer: %v", err)
	}

	rows, err := reader.QueryEvents(ctx, core.EventFilter{})
	if err != nil {
		t.Fatalf("query via reader: %v", err)
	}
	if len(rows) != 1 || rows[0].EventID != "shared-1" {
		t.Fatalf("reader did not see writer's row: %+v", rows)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.SetSetting(ctx, "calendarTimeZone", "Europe/Madrid"); err != nil {
		t.Fatal(err)
	}
	if err := repo.SetSetting(ctx, "calendarTimeZone", "America/Bogota"); err != nil {
		t.Fatal(err)
	}

	settings, err := repo.LoadSettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if settings["calendarTimeZone"] != "America/Bogota" {
		t.Fatalf("unexpected settings %v", settings)
	}
}

func TestSyncLogLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	id, err := repo.CreateSyncLog(ctx, core.SyncTrigger{Source: "api", User: "dev"})
	if err != nil {
		t.Fatal(err)
	}

	fetchedAt := time.Now().UTC()
	counts := core.SyncCounts{Inserted: 3, Updated: 1, Excluded: 2}
	if err := repo.FinalizeSyncLog(ctx, id, core.SyncSuccess, &fetchedAt, counts, ""); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	// finalizing twice must fail
	if err := repo.FinalizeSyncLog(ctx, id, core.SyncError, nil, core.SyncCounts{}, "late"); !errors.Is(err, core.ErrLogFinalized) {
		t.Fatalf("expected ErrLogFinalized, got %v", err)
	}

	logs, err := repo.ListSyncLogs(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 log, got %d", len(logs))
	}
	entry := logs[0]
	if entry.Status != core.SyncSuccess || entry.Counts.Inserted != 3 || entry.Counts.Excluded != 2 {
		t.Fatalf("unexpected log %+v", entry)
	}
	if entry.Trigger.Source != "api" || entry.Trigger.User != "dev" {
		t.Fatalf("unexpected trigger %+v", entry.Trigger)
	}
	if entry.FetchedAt == nil {
		t.Fatal("fetchedAt should be set")
	}
}

func TestListSyncLogsNewestFirst(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := repo.CreateSyncLog(ctx, core.SyncTrigger{Source: "cron"}); err != nil {
			t.Fatal(err)
		}
	}

	logs, err := repo.ListSyncLogs(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 2 || logs[0].ID != 3 || logs[1].ID != 2 {
		t.Fatalf("unexpected order %v", logs)
	}
}
