package http

import (
	"net/http/httptest"
	"testing"

	"citasync/internal/core"
)

func TestParseEventFilterDates(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/summary?from=2025-01-01&to=2025-06-30", nil)
	f, err := parseEventFilter(r)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.From == nil || f.From.Format("2006-01-02") != "2025-01-01" {
		t.Fatalf("unexpected from %v", f.From)
	}
	if f.To == nil || f.To.Format("2006-01-02") != "2025-06-30" {
		t.Fatalf("unexpected to %v", f.To)
	}
}

func TestParseEventFilterErrors(t *testing.T) {
	cases := []string{
		"/api/summary?from=01-01-2025",
		"/api/summary?to=notadate",
		"/api/summary?from=2025-06-30&to=2025-01-01", // to before from
	}
	for i, url := range cases {
		r := httptest.NewRequest("GET", url, nil)
		if _, err := parseEventFilter(r); err == nil {
			t.Fatalf("case %d: expected error for %s", i, url)
		}
	}
}

func TestParseEventFilterLists(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/summary?calendars=a,b&types=default,none&categories=NONE,examen&q=vacuna", nil)
	f, err := parseEventFilter(r)
	if err != nil {
		t.Fatal(err)
	}
	if len(f.CalendarIDs) != 2 {
		t.Fatalf("unexpected calendars %v", f.CalendarIDs)
	}
	if len(f.EventTypes) != 2 || f.EventTypes[1] != core.FilterNone {
		t.Fatalf("'none' should map to sentinel, got %v", f.EventTypes)
	}
	if f.Categories[0] != core.FilterNone || f.Categories[1] != "examen" {
		t.Fatalf("case-insensitive 'none' should map to sentinel, got %v", f.Categories)
	}
	if f.Search != "vacuna" {
		t.Fatalf("unexpected search %q", f.Search)
	}
}

func TestParseEventFilterEmpty(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/summary", nil)
	f, err := parseEventFilter(r)
	if err != nil {
		t.Fatal(err)
	}
	if f.From != nil || f.To != nil || f.CalendarIDs != nil || f.Search != "" {
		t.Fatalf("expected zero filter, got %+v", f)
	}
}

func TestParseMaxDays(t *testing.T) {
	cases := []struct {
		url  string
		want int
	}{
		{"/api/daily", 30},
		{"/api/daily?maxDays=7", 7},
		{"/api/daily?maxDays=abc", 30},
		{"/api/daily?maxDays=500", 500}, // clamping is the engine's job
	}
	for i, tc := range cases {
		r := httptest.NewRequest("GET", tc.url, nil)
		if got := parseMaxDays(r, 30); got != tc.want {
			t.Fatalf("case %d: got %d, want %d", i, got, tc.want)
		}
	}
}
