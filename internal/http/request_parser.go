package http

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"citasync/internal/core"
)

// parseEventFilter builds the query-layer filter from URL parameters:
// from/to (YYYY-MM-DD), calendars/types/categories (comma-separated,
// "none" maps to the null sentinel) and q (free-text search).
func parseEventFilter(r *http.Request) (core.EventFilter, error) {
	q := r.URL.Query()
	var f core.EventFilter

	if v := strings.TrimSpace(q.Get("from")); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return f, fmt.Errorf("invalid 'from' date %q: must be YYYY-MM-DD", v)
		}
		f.From = &t
	}
	if v := strings.TrimSpace(q.Get("to")); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return f, fmt.Errorf("invalid 'to' date %q: must be YYYY-MM-DD", v)
		}
		f.To = &t
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return f, fmt.Errorf("'to' date is before 'from' date")
	}

	f.CalendarIDs = parseList(q.Get("calendars"))
	f.EventTypes = parseListWithNone(q.Get("types"))
	f.Categories = parseListWithNone(q.Get("categories"))
	f.Search = strings.TrimSpace(q.Get("q"))

	return f, nil
}

// parseMaxDays reads maxDays; missing or unparsable values fall back to
// the configured default. Range clamping happens in the query engine.
func parseMaxDays(r *http.Request, defaultDays int) int {
	v := strings.TrimSpace(r.URL.Query().Get("maxDays"))
	if v == "" {
		return defaultDays
	}
	days, err := strconv.Atoi(v)
	if err != nil {
		return defaultDays
	}
	return days
}

func parseList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// parseListWithNone is parseList plus the "none" alias for the null
// membership sentinel.
func parseListWithNone(s string) []string {
	values := parseList(s)
	for i, v := range values {
		if strings.EqualFold(v, "none") {
			values[i] = core.FilterNone
		}
	}
	return values
}
