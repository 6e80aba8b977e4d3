package query

import (
	"context"
	"testing"
	"time"

	"citasync/internal/core"
)

type readerStub struct {
	events []core.EventRecord
	calls  int
}

func (r *readerStub) QueryEvents(context.Context, core.EventFilter) ([]core.EventRecord, error) {
	r.calls++
	return r.events, nil
}

func strptr(s string) *string { return &s }
func intptr(v int64) *int64   { return &v }

func timed(calendarID, eventID string, ts time.Time, expected, paid int64) core.EventRecord {
	e := core.EventRecord{
		CalendarID: calendarID,
		EventID:    eventID,
		Summary:    "Cita",
		Start:      core.EventTime{DateTime: &ts},
	}
	if expected > 0 {
		e.AmountExpected = intptr(expected)
	}
	if paid > 0 {
		e.AmountPaid = intptr(paid)
	}
	return e
}

func TestSummaryTotalsAndBreakdowns(t *testing.T) {
	// Monday June 2 and Tuesday June 3, 2025
	mon := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	tue := time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)

	a := timed("cal", "a", mon, 15000, 15000)
	b := timed("cal", "b", mon.Add(2*time.Hour), 20000, 0)
	c := timed("cal", "c", tue, 0, 0)
	a.Category = strptr("tratamiento_subcutaneo")

	store := &readerStub{events: []core.EventRecord{a, b, c}}
	e := NewEngine(store)

	s, err := e.Summary(context.Background(), core.EventFilter{})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}

	if s.Totals.Events != 3 || s.Totals.Days != 2 {
		t.Fatalf("unexpected totals %+v", s.Totals)
	}
	if s.Totals.AmountExpected != 35000 || s.Totals.AmountPaid != 15000 {
		t.Fatalf("unexpected amounts %+v", s.Totals)
	}

	if len(s.ByYear) != 1 || s.ByYear[0].Year != 2025 || s.ByYear[0].Totals.Events != 3 {
		t.Fatalf("unexpected ByYear %v", s.ByYear)
	}
	if len(s.ByMonth) != 1 || s.ByMonth[0].Month != 6 {
		t.Fatalf("unexpected ByMonth %v", s.ByMonth)
	}
	if len(s.ByISOWeek) != 1 || s.ByISOWeek[0].ISOWeek != 23 {
		t.Fatalf("unexpected ByISOWeek %v", s.ByISOWeek)
	}

	// Monday=0, Tuesday=1
	if len(s.ByWeekday) != 2 || s.ByWeekday[0].Weekday != 0 || s.ByWeekday[1].Weekday != 1 {
		t.Fatalf("unexpected ByWeekday %v", s.ByWeekday)
	}
	if s.ByWeekday[0].Totals.Events != 2 {
		t.Fatalf("Monday should hold 2 events, got %+v", s.ByWeekday[0])
	}

	if len(s.ByDate) != 2 || s.ByDate[0].Date != "2025-06-02" || s.ByDate[1].Date != "2025-06-03" {
		t.Fatalf("unexpected ByDate %v", s.ByDate)
	}

	// facets: uncategorized events surface as the empty value
	if len(s.Categories) != 2 {
		t.Fatalf("unexpected Categories %v", s.Categories)
	}
	if s.Categories[0].Value != "" || s.Categories[0].Count != 2 {
		t.Fatalf("empty category facet should lead with count 2, got %v", s.Categories)
	}
}

func TestSummarySkipsUndatedEvents(t *testing.T) {
	store := &readerStub{events: []core.EventRecord{
		{CalendarID: "cal", EventID: "x"}, // no start at all
		timed("cal", "ok", time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC), 0, 0),
	}}
	s, err := NewEngine(store).Summary(context.Background(), core.EventFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if s.Totals.Events != 1 {
		t.Fatalf("undated event should be dropped, got %+v", s.Totals)
	}
}

func TestSummaryCached(t *testing.T) {
	store := &readerStub{events: []core.EventRecord{
		timed("cal", "a", time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC), 0, 0),
	}}
	e := NewEngine(store)

	if _, err := e.Summary(context.Background(), core.EventFilter{}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Summary(context.Background(), core.EventFilter{}); err != nil {
		t.Fatal(err)
	}
	if store.calls != 1 {
		t.Fatalf("second identical call should hit the cache, got %d store calls", store.calls)
	}

	e.InvalidateCaches()
	if _, err := e.Summary(context.Background(), core.EventFilter{}); err != nil {
		t.Fatal(err)
	}
	if store.calls != 2 {
		t.Fatalf("invalidated cache should re-query, got %d store calls", store.calls)
	}

	// different filter, different cache entry
	search := core.EventFilter{Search: "vacuna"}
	if _, err := e.Summary(context.Background(), search); err != nil {
		t.Fatal(err)
	}
	if store.calls != 3 {
		t.Fatalf("distinct filter should re-query, got %d store calls", store.calls)
	}
}

func TestDailyDetailTopDays(t *testing.T) {
	days := []time.Time{
		time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC),
	}
	var events []core.EventRecord
	for i, d := range days {
		events = append(events, timed("cal", string(rune('a'+i)), d, 10000, 0))
	}
	store := &readerStub{events: events}

	detail, err := NewEngine(store).DailyDetail(context.Background(), core.EventFilter{}, 2)
	if err != nil {
		t.Fatal(err)
	}

	// most recent 2 dates, newest first
	if len(detail.Days) != 2 {
		t.Fatalf("expected 2 days, got %d", len(detail.Days))
	}
	if detail.Days[0].Date != "2025-06-03" || detail.Days[1].Date != "2025-06-02" {
		t.Fatalf("unexpected day order %v", detail.Days)
	}
	if detail.Totals.Events != 2 || detail.Totals.AmountExpected != 20000 {
		t.Fatalf("grand totals cover only selected days, got %+v", detail.Totals)
	}
}

func TestDailyDetailClampsMaxDays(t *testing.T) {
	store := &readerStub{events: []core.EventRecord{
		timed("cal", "a", time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC), 0, 0),
	}}
	e := NewEngine(store)

	for _, maxDays := range []int{0, -5, 500} {
		if _, err := e.DailyDetail(context.Background(), core.EventFilter{}, maxDays); err != nil {
			t.Fatalf("maxDays=%d: %v", maxDays, err)
		}
	}
}

func TestDailyDetailOrderWithinDay(t *testing.T) {
	morning := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	evening := time.Date(2025, 6, 2, 18, 0, 0, 0, time.UTC)

	allDay := core.EventRecord{CalendarID: "cal", EventID: "z-allday",
		Start: core.EventTime{Date: "2025-06-02"}}
	early := timed("cal", "early", morning, 0, 0)
	late := timed("cal", "late", evening, 0, 0)

	store := &readerStub{events: []core.EventRecord{late, early, allDay}}
	detail, err := NewEngine(store).DailyDetail(context.Background(), core.EventFilter{}, 10)
	if err != nil {
		t.Fatal(err)
	}

	if len(detail.Days) != 1 {
		t.Fatalf("expected 1 day, got %d", len(detail.Days))
	}
	got := detail.Days[0].Events
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	// date-only first, then by time ascending
	if got[0].EventID != "z-allday" || got[1].EventID != "early" || got[2].EventID != "late" {
		t.Fatalf("unexpected order %s %s %s", got[0].EventID, got[1].EventID, got[2].EventID)
	}
}
