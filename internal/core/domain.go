package core

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

const (
	SyncPending SyncStatus = "PENDING"
	SyncSuccess SyncStatus = "SUCCESS"
	SyncError   SyncStatus = "ERROR"
)

type (
	SyncStatus string

	// EventKey is the natural key of a mirrored calendar event, unique
	// across all syncs.
	EventKey struct {
		CalendarID string `json:"calendarId"`
		EventID    string `json:"eventId"`
	}

	// EventTime is a provider start/end: either an all-day date or a
	// concrete datetime, plus the provider's zone name.
	EventTime struct {
		Date     string     `json:"date,omitempty"` // "2006-01-02" for all-day events
		DateTime *time.Time `json:"dateTime,omitempty"`
		TimeZone string     `json:"timeZone,omitempty"`
	}

	// Classification holds the metadata derived from an event's free text.
	// All fields are optional: nil means the heuristics found nothing.
	Classification struct {
		Category       *string `json:"category"`
		AmountExpected *int64  `json:"amountExpected"`
		AmountPaid     *int64  `json:"amountPaid"`
		Attended       *bool   `json:"attended"` // only true or nil, never explicit false
		Dosage         *string `json:"dosage"`
		TreatmentStage *string `json:"treatmentStage"`
	}

	// EventRecord is a mirrored calendar event. Identity is immutable,
	// content is overwritten on every sync.
	EventRecord struct {
		CalendarID   string    `json:"calendarId"`
		EventID      string    `json:"eventId"`
		Status       string    `json:"status,omitempty"`
		EventType    string    `json:"eventType,omitempty"`
		Summary      string    `json:"summary"`
		Description  string    `json:"description,omitempty"`
		Start        EventTime `json:"start"`
		End          EventTime `json:"end"`
		Created      time.Time `json:"created,omitempty"`
		Updated      time.Time `json:"updated,omitempty"`
		ColorID      string    `json:"colorId,omitempty"`
		Location     string    `json:"location,omitempty"`
		Transparency string    `json:"transparency,omitempty"`
		Visibility   string    `json:"visibility,omitempty"`
		HTMLLink     string    `json:"htmlLink,omitempty"`

		Classification
	}

	// SyncWindow is the provider query range [TimeMin, TimeMax).
	SyncWindow struct {
		TimeMin  time.Time `json:"timeMin"`
		TimeMax  time.Time `json:"timeMax"`
		TimeZone string    `json:"timeZone"`
	}

	// RuntimeConfig is the resolved per-sync configuration: static config
	// merged with persisted settings overrides.
	RuntimeConfig struct {
		CalendarIDs     []string
		TimeZone        string
		SyncStart       time.Time
		LookaheadDays   int
		ExcludePatterns []*regexp.Regexp
		DailyMaxDays    int
	}

	SyncTrigger struct {
		Source string `json:"source"`
		User   string `json:"user,omitempty"`
		Label  string `json:"label,omitempty"`
	}

	SyncCounts struct {
		Inserted int `json:"inserted"`
		Updated  int `json:"updated"`
		Skipped  int `json:"skipped"`
		Excluded int `json:"excluded"`
	}

	// UpsertCounts is the reconciliation upsert outcome per batch.
	UpsertCounts struct {
		Inserted int `json:"inserted"`
		Updated  int `json:"updated"`
		Skipped  int `json:"skipped"`
	}

	// SyncLog records one sync run. Created PENDING, finalized exactly
	// once to SUCCESS or ERROR.
	SyncLog struct {
		ID        int64       `json:"id"`
		Trigger   SyncTrigger `json:"trigger"`
		Status    SyncStatus  `json:"status"`
		CreatedAt time.Time   `json:"createdAt"`
		FetchedAt *time.Time  `json:"fetchedAt,omitempty"`
		Counts    SyncCounts  `json:"counts"`
		Error     string      `json:"error,omitempty"`
	}
)

var (
	ErrInvalidEventKey = errors.New("event key requires calendar id and event id")
	ErrSyncInProgress  = errors.New("a sync is already in progress")
	ErrLogFinalized    = errors.New("sync log already finalized")
)

// Key returns the event's natural key.
func (e EventRecord) Key() EventKey {
	return EventKey{CalendarID: e.CalendarID, EventID: e.EventID}
}

func (k EventKey) Validate() error {
	if strings.TrimSpace(k.CalendarID) == "" || strings.TrimSpace(k.EventID) == "" {
		return ErrInvalidEventKey
	}
	return nil
}

// IsDateOnly reports whether the time carries no clock component.
func (t EventTime) IsDateOnly() bool {
	return t.DateTime == nil
}

// Effective returns the datetime if present, else the date at midnight UTC.
// Returns the zero time when neither is usable.
func (t EventTime) Effective() time.Time {
	if t.DateTime != nil {
		return *t.DateTime
	}
	if t.Date == "" {
		return time.Time{}
	}
	d, err := time.Parse("2006-01-02", t.Date)
	if err != nil {
		return time.Time{}
	}
	return d
}

// EffectiveDate returns the event day as "2006-01-02", derived from the
// effective timestamp.
func (t EventTime) EffectiveDate() string {
	eff := t.Effective()
	if eff.IsZero() {
		return ""
	}
	return eff.Format("2006-01-02")
}
