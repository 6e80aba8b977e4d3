package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"citasync/internal/calendar"
	"citasync/internal/core"
)

// MaxPagesPerCalendar bounds pagination per calendar. A provider that
// keeps returning continuation tokens stops being paged after this many
// pages; the rest of the sync proceeds with what was fetched.
const MaxPagesPerCalendar = 100

// ErrNoCalendars is returned when every configured calendar failed to
// fetch (or none were configured).
var ErrNoCalendars = errors.New("no calendars could be fetched")

// CalendarFetchStatus is the per-calendar fetch outcome, kept for
// snapshot/observability; the sync outcome itself stays binary.
type CalendarFetchStatus struct {
	Events int    `json:"events"`
	Pages  int    `json:"pages"`
	Error  string `json:"error,omitempty"`
}

// FetchResult is the combined multi-calendar fetch outcome.
type FetchResult struct {
	Events      []core.EventRecord
	PerCalendar map[string]CalendarFetchStatus
}

// Fetcher pages events out of an EventSource, one calendar at a time.
type Fetcher struct {
	source   calendar.EventSource
	maxPages int
}

// NewFetcher creates a fetcher with the given pagination cap; values
// below 1 fall back to MaxPagesPerCalendar.
func NewFetcher(source calendar.EventSource, maxPages int) *Fetcher {
	if maxPages < 1 {
		maxPages = MaxPagesPerCalendar
	}
	return &Fetcher{source: source, maxPages: maxPages}
}

// Fetch lists events for every calendar id sequentially. A calendar that
// fails is logged and skipped; Fetch fails only when no calendar could be
// processed at all.
func (f *Fetcher) Fetch(ctx context.Context, calendarIDs []string, window core.SyncWindow) (FetchResult, error) {
	result := FetchResult{PerCalendar: make(map[string]CalendarFetchStatus, len(calendarIDs))}

	succeeded := 0
	for _, calendarID := range calendarIDs {
		events, pages, err := f.fetchCalendar(ctx, calendarID, window)
		status := CalendarFetchStatus{Events: len(events), Pages: pages}
		if err != nil {
			status.Error = err.Error()
			result.PerCalendar[calendarID] = status
			slog.WarnContext(ctx, "Calendar fetch failed, skipping",
				"calendar_id", calendarID, "error", err)
			continue
		}
		result.PerCalendar[calendarID] = status
		result.Events = append(result.Events, events...)
		succeeded++

		slog.InfoContext(ctx, "Calendar fetched",
			"calendar_id", calendarID, "events", len(events), "pages", pages)
	}

	if succeeded == 0 {
		return result, fmt.Errorf("%w (attempted %d)", ErrNoCalendars, len(calendarIDs))
	}
	return result, nil
}

// fetchCalendar pages one calendar to exhaustion or the page cap.
func (f *Fetcher) fetchCalendar(ctx context.Context, calendarID string, window core.SyncWindow) ([]core.EventRecord, int, error) {
	var events []core.EventRecord
	pageToken := ""
	pages := 0

	for {
		page, err := f.source.ListEvents(ctx, calendarID, window, pageToken)
		if err != nil {
			return nil, pages, err
		}
		pages++
		events = append(events, page.Events...)

		if page.NextToken == "" {
			return events, pages, nil
		}
		if pages >= f.maxPages {
			slog.WarnContext(ctx, "Pagination cap reached, stopping calendar early",
				"calendar_id", calendarID, "pages", pages, "events", len(events))
			return events, pages, nil
		}
		pageToken = page.NextToken
	}
}
