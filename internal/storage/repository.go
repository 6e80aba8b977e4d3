package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"citasync/internal/core"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// The server and worker binaries open this file independently; WAL
	// plus a busy timeout lets their writers queue instead of failing
	// with SQLITE_BUSY.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

const eventColumns = `calendar_id, event_id, status, event_type, summary, description,
	start_date, start_datetime, start_timezone, end_date, end_datetime, end_timezone,
	created_at, updated_at, color_id, location, transparency, visibility, html_link,
	category, amount_expected, amount_paid, attended, dosage, treatment_stage`

// UpsertEvents inserts or updates events keyed by (calendar_id, event_id).
// Re-running with unchanged content reports the event as skipped; the
// operation never produces duplicate rows for a key.
func (r *SQLiteRepository) UpsertEvents(ctx context.Context, events []core.EventRecord) (core.UpsertCounts, error) {
	var result core.UpsertCounts

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin upsert transaction: %w", err)
	}
	defer tx.Rollback()

	for _, e := range events {
		if err := e.Key().Validate(); err != nil {
			return result, fmt.Errorf("upsert event: %w", err)
		}

		existing, err := getEventTx(ctx, tx, e.Key())
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return result, fmt.Errorf("lookup event %s/%s: %w", e.CalendarID, e.EventID, err)
		}

		switch {
		case errors.Is(err, sql.ErrNoRows):
			if err := insertEventTx(ctx, tx, e); err != nil {
				return result, fmt.Errorf("insert event %s/%s: %w", e.CalendarID, e.EventID, err)
			}
			result.Inserted++
		case contentEqual(*existing, e):
			result.Skipped++
		default:
			if err := updateEventTx(ctx, tx, e); err != nil {
				return result, fmt.Errorf("update event %s/%s: %w", e.CalendarID, e.EventID, err)
			}
			result.Updated++
		}
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("commit upsert transaction: %w", err)
	}
	return result, nil
}

// RemoveEvents deletes the given keys. Missing keys are not an error.
func (r *SQLiteRepository) RemoveEvents(ctx context.Context, keys []core.EventKey) error {
	if len(keys) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin remove transaction: %w", err)
	}
	defer tx.Rollback()

	for _, k := range keys {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM events WHERE calendar_id = ? AND event_id = ?`,
			k.CalendarID, k.EventID); err != nil {
			return fmt.Errorf("remove event %s/%s: %w", k.CalendarID, k.EventID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit remove transaction: %w", err)
	}
	return nil
}

// GetEvent returns a single event by key.
func (r *SQLiteRepository) GetEvent(ctx context.Context, key core.EventKey) (*core.EventRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE calendar_id = ? AND event_id = ?`,
		key.CalendarID, key.EventID)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("get event %s/%s: %w", key.CalendarID, key.EventID, err)
	}
	return &e, nil
}

// OverrideClassification writes classifier-derived fields directly,
// bypassing the classifier. Used to correct heuristic misclassifications;
// a later sync that sees changed provider content re-classifies the event.
func (r *SQLiteRepository) OverrideClassification(ctx context.Context, key core.EventKey, c core.Classification) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE events SET category = ?, amount_expected = ?, amount_paid = ?,
			attended = ?, dosage = ?, treatment_stage = ?
		 WHERE calendar_id = ? AND event_id = ?`,
		nullString(c.Category), nullInt(c.AmountExpected), nullInt(c.AmountPaid),
		nullBool(c.Attended), nullString(c.Dosage), nullString(c.TreatmentStage),
		key.CalendarID, key.EventID)
	if err != nil {
		return fmt.Errorf("override classification for %s/%s: %w", key.CalendarID, key.EventID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("override classification rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// QueryEvents returns events matching the filter, ordered by effective
// timestamp then event id.
func (r *SQLiteRepository) QueryEvents(ctx context.Context, f core.EventFilter) ([]core.EventRecord, error) {
	where, args := buildFilter(f)

	query := `SELECT ` + eventColumns + ` FROM events`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY effective_at ASC, event_id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []core.EventRecord
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}
	return out, nil
}

func buildFilter(f core.EventFilter) ([]string, []any) {
	var where []string
	var args []any

	if f.From != nil {
		where = append(where, `effective_at >= ?`)
		args = append(args, f.From.UTC().Format(time.RFC3339))
	}
	if f.To != nil {
		// inclusive upper day: exclusive bound is the day after
		where = append(where, `effective_at < ?`)
		args = append(args, f.To.AddDate(0, 0, 1).UTC().Format(time.RFC3339))
	}
	if len(f.CalendarIDs) > 0 {
		where = append(where, `calendar_id IN (`+placeholders(len(f.CalendarIDs))+`)`)
		for _, id := range f.CalendarIDs {
			args = append(args, id)
		}
	}
	if len(f.EventTypes) > 0 {
		values, hasNone := splitSentinel(f.EventTypes)
		var parts []string
		if len(values) > 0 {
			parts = append(parts, `event_type IN (`+placeholders(len(values))+`)`)
			for _, v := range values {
				args = append(args, v)
			}
		}
		if hasNone {
			parts = append(parts, `event_type = ''`)
		}
		where = append(where, `(`+strings.Join(parts, " OR ")+`)`)
	}
	if len(f.Categories) > 0 {
		values, hasNone := splitSentinel(f.Categories)
		var parts []string
		if len(values) > 0 {
			parts = append(parts, `category IN (`+placeholders(len(values))+`)`)
			for _, v := range values {
				args = append(args, v)
			}
		}
		if hasNone {
			parts = append(parts, `(category IS NULL OR category = '')`)
		}
		where = append(where, `(`+strings.Join(parts, " OR ")+`)`)
	}
	if f.Search != "" {
		where = append(where, `lower(summary || char(10) || description) LIKE ?`)
		args = append(args, "%"+strings.ToLower(f.Search)+"%")
	}

	return where, args
}

func splitSentinel(values []string) ([]string, bool) {
	var out []string
	hasNone := false
	for _, v := range values {
		if v == core.FilterNone {
			hasNone = true
			continue
		}
		out = append(out, v)
	}
	return out, hasNone
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// LoadSettings returns the settings table as a key-value map.
func (r *SQLiteRepository) LoadSettings(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan setting row: %w", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate setting rows: %w", err)
	}
	return out, nil
}

// SetSetting upserts one settings key.
func (r *SQLiteRepository) SetSetting(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// CreateSyncLog inserts a PENDING log entry and returns its id.
func (r *SQLiteRepository) CreateSyncLog(ctx context.Context, trigger core.SyncTrigger) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO sync_logs (source, triggered_by, label, status, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		trigger.Source, trigger.User, trigger.Label,
		string(core.SyncPending), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("create sync log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sync log id: %w", err)
	}
	return id, nil
}

// FinalizeSyncLog transitions a PENDING entry to SUCCESS or ERROR. A log
// entry is finalized at most once; finalizing twice fails.
func (r *SQLiteRepository) FinalizeSyncLog(ctx context.Context, id int64, status core.SyncStatus, fetchedAt *time.Time, counts core.SyncCounts, errMsg string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sync_logs
		 SET status = ?, fetched_at = ?, inserted = ?, updated = ?, skipped = ?,
		     excluded = ?, error = ?, finalized_at = ?
		 WHERE id = ? AND status = ?`,
		string(status), nullTime(fetchedAt),
		counts.Inserted, counts.Updated, counts.Skipped, counts.Excluded,
		errMsg, time.Now().UTC().Format(time.RFC3339),
		id, string(core.SyncPending))
	if err != nil {
		return fmt.Errorf("finalize sync log %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize sync log rows affected: %w", err)
	}
	if affected == 0 {
		return core.ErrLogFinalized
	}

	slog.InfoContext(ctx, "Sync log finalized", "id", id, "status", status)
	return nil
}

// ListSyncLogs returns the most recent entries, newest first.
func (r *SQLiteRepository) ListSyncLogs(ctx context.Context, limit int) ([]core.SyncLog, error) {
	if limit < 1 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, source, triggered_by, label, status, created_at, fetched_at,
		        inserted, updated, skipped, excluded, error
		 FROM sync_logs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync logs: %w", err)
	}
	defer rows.Close()

	var out []core.SyncLog
	for rows.Next() {
		var (
			entry     core.SyncLog
			status    string
			createdAt string
			fetchedAt sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.Trigger.Source, &entry.Trigger.User,
			&entry.Trigger.Label, &status, &createdAt, &fetchedAt,
			&entry.Counts.Inserted, &entry.Counts.Updated, &entry.Counts.Skipped,
			&entry.Counts.Excluded, &entry.Error); err != nil {
			return nil, fmt.Errorf("scan sync log row: %w", err)
		}
		entry.Status = core.SyncStatus(status)
		entry.CreatedAt = parseStoredTime(createdAt)
		if fetchedAt.Valid {
			t := parseStoredTime(fetchedAt.String)
			entry.FetchedAt = &t
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync log rows: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func getEventTx(ctx context.Context, tx *sql.Tx, key core.EventKey) (*core.EventRecord, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE calendar_id = ? AND event_id = ?`,
		key.CalendarID, key.EventID)
	e, err := scanEvent(row)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func insertEventTx(ctx context.Context, tx *sql.Tx, e core.EventRecord) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO events (`+eventColumns+`, effective_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		eventArgs(e)...)
	return err
}

func updateEventTx(ctx context.Context, tx *sql.Tx, e core.EventRecord) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE events SET status = ?, event_type = ?, summary = ?, description = ?,
			start_date = ?, start_datetime = ?, start_timezone = ?,
			end_date = ?, end_datetime = ?, end_timezone = ?,
			created_at = ?, updated_at = ?, color_id = ?, location = ?,
			transparency = ?, visibility = ?, html_link = ?,
			category = ?, amount_expected = ?, amount_paid = ?, attended = ?,
			dosage = ?, treatment_stage = ?, effective_at = ?,
			synced_at = ?
		 WHERE calendar_id = ? AND event_id = ?`,
		e.Status, e.EventType, e.Summary, e.Description,
		e.Start.Date, nullTime(e.Start.DateTime), e.Start.TimeZone,
		e.End.Date, nullTime(e.End.DateTime), e.End.TimeZone,
		storedTime(e.Created), storedTime(e.Updated), e.ColorID, e.Location,
		e.Transparency, e.Visibility, e.HTMLLink,
		nullString(e.Category), nullInt(e.AmountExpected), nullInt(e.AmountPaid),
		nullBool(e.Attended), nullString(e.Dosage), nullString(e.TreatmentStage),
		effectiveAt(e),
		time.Now().UTC().Format(time.RFC3339),
		e.CalendarID, e.EventID)
	return err
}

func eventArgs(e core.EventRecord) []any {
	return []any{
		e.CalendarID, e.EventID, e.Status, e.EventType, e.Summary, e.Description,
		e.Start.Date, nullTime(e.Start.DateTime), e.Start.TimeZone,
		e.End.Date, nullTime(e.End.DateTime), e.End.TimeZone,
		storedTime(e.Created), storedTime(e.Updated), e.ColorID, e.Location,
		e.Transparency, e.Visibility, e.HTMLLink,
		nullString(e.Category), nullInt(e.AmountExpected), nullInt(e.AmountPaid),
		nullBool(e.Attended), nullString(e.Dosage), nullString(e.TreatmentStage),
		effectiveAt(e),
	}
}

func scanEvent(row rowScanner) (core.EventRecord, error) {
	var (
		e              core.EventRecord
		startDateTime  sql.NullString
		endDateTime    sql.NullString
		createdAt      string
		updatedAt      string
		category       sql.NullString
		amountExpected sql.NullInt64
		amountPaid     sql.NullInt64
		attended       sql.NullInt64
		dosage         sql.NullString
		treatmentStage sql.NullString
	)
	err := row.Scan(&e.CalendarID, &e.EventID, &e.Status, &e.EventType,
		&e.Summary, &e.Description,
		&e.Start.Date, &startDateTime, &e.Start.TimeZone,
		&e.End.Date, &endDateTime, &e.End.TimeZone,
		&createdAt, &updatedAt, &e.ColorID, &e.Location,
		&e.Transparency, &e.Visibility, &e.HTMLLink,
		&category, &amountExpected, &amountPaid, &attended,
		&dosage, &treatmentStage)
	if err != nil {
		return core.EventRecord{}, err
	}

	if startDateTime.Valid {
		t := parseStoredTime(startDateTime.String)
		e.Start.DateTime = &t
	}
	if endDateTime.Valid {
		t := parseStoredTime(endDateTime.String)
		e.End.DateTime = &t
	}
	e.Created = parseStoredTime(createdAt)
	e.Updated = parseStoredTime(updatedAt)

	if category.Valid {
		e.Category = &category.String
	}
	if amountExpected.Valid {
		e.AmountExpected = &amountExpected.Int64
	}
	if amountPaid.Valid {
		e.AmountPaid = &amountPaid.Int64
	}
	if attended.Valid {
		yes := attended.Int64 != 0
		e.Attended = &yes
	}
	if dosage.Valid {
		e.Dosage = &dosage.String
	}
	if treatmentStage.Valid {
		e.TreatmentStage = &treatmentStage.String
	}
	return e, nil
}

func contentEqual(a, b core.EventRecord) bool {
	return a.Status == b.Status &&
		a.EventType == b.EventType &&
		a.Summary == b.Summary &&
		a.Description == b.Description &&
		eventTimeEqual(a.Start, b.Start) &&
		eventTimeEqual(a.End, b.End) &&
		timeEqual(a.Created, b.Created) &&
		timeEqual(a.Updated, b.Updated) &&
		a.ColorID == b.ColorID &&
		a.Location == b.Location &&
		a.Transparency == b.Transparency &&
		a.Visibility == b.Visibility &&
		a.HTMLLink == b.HTMLLink &&
		strPtrEqual(a.Category, b.Category) &&
		intPtrEqual(a.AmountExpected, b.AmountExpected) &&
		intPtrEqual(a.AmountPaid, b.AmountPaid) &&
		boolPtrEqual(a.Attended, b.Attended) &&
		strPtrEqual(a.Dosage, b.Dosage) &&
		strPtrEqual(a.TreatmentStage, b.TreatmentStage)
}

func eventTimeEqual(a, b core.EventTime) bool {
	if a.Date != b.Date || a.TimeZone != b.TimeZone {
		return false
	}
	if (a.DateTime == nil) != (b.DateTime == nil) {
		return false
	}
	return a.DateTime == nil || timeEqual(*a.DateTime, *b.DateTime)
}

// timeEqual compares at second precision: stored timestamps are RFC3339
// without sub-second digits, so finer precision would defeat the
// unchanged-content check on every sync.
func timeEqual(a, b time.Time) bool {
	return a.Truncate(time.Second).Equal(b.Truncate(time.Second))
}

func strPtrEqual(a, b *string) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}

func intPtrEqual(a, b *int64) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}

func boolPtrEqual(a, b *bool) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}

func effectiveAt(e core.EventRecord) string {
	eff := e.Start.Effective()
	if eff.IsZero() {
		return ""
	}
	return eff.UTC().Format(time.RFC3339)
}

func storedTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseStoredTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullBool(b *bool) any {
	if b == nil {
		return nil
	}
	if *b {
		return int64(1)
	}
	return int64(0)
}
