package core

import (
	"testing"
	"time"
)

func strptr(s string) *string { return &s }

func eventAt(ts time.Time) EventRecord {
	return EventRecord{
		CalendarID: "cal",
		EventID:    "ev",
		Summary:    "Vacuna mensual",
		Start:      EventTime{DateTime: &ts},
	}
}

func TestFilterDateBounds(t *testing.T) {
	day := func(d int) *time.Time {
		v := time.Date(2025, 6, d, 0, 0, 0, 0, time.UTC)
		return &v
	}
	e := eventAt(time.Date(2025, 6, 15, 18, 0, 0, 0, time.UTC))

	cases := []struct {
		from, to *time.Time
		want     bool
	}{
		{nil, nil, true},
		{day(15), nil, true},
		{day(16), nil, false},
		{nil, day(15), true}, // To is inclusive of the whole day
		{nil, day(14), false},
		{day(10), day(20), true},
	}
	for i, tc := range cases {
		f := EventFilter{From: tc.from, To: tc.to}
		if got := f.Matches(e); got != tc.want {
			t.Fatalf("case %d: got %v, want %v", i, got, tc.want)
		}
	}
}

func TestFilterMembership(t *testing.T) {
	e := eventAt(time.Date(2025, 6, 15, 18, 0, 0, 0, time.UTC))
	e.EventType = "default"
	e.Category = strptr("examen")

	if !(EventFilter{CalendarIDs: []string{"cal"}}).Matches(e) {
		t.Fatal("calendar membership should match")
	}
	if (EventFilter{CalendarIDs: []string{"other"}}).Matches(e) {
		t.Fatal("wrong calendar should not match")
	}
	if !(EventFilter{Categories: []string{"examen", "otro"}}).Matches(e) {
		t.Fatal("category membership should match")
	}

	// FilterNone matches missing values only
	uncategorized := eventAt(time.Date(2025, 6, 15, 18, 0, 0, 0, time.UTC))
	if !(EventFilter{Categories: []string{FilterNone}}).Matches(uncategorized) {
		t.Fatal("FilterNone should match nil category")
	}
	if (EventFilter{Categories: []string{FilterNone}}).Matches(e) {
		t.Fatal("FilterNone should not match a set category")
	}
	uncategorized.EventType = ""
	if !(EventFilter{EventTypes: []string{FilterNone}}).Matches(uncategorized) {
		t.Fatal("FilterNone should match empty event type")
	}
}

func TestFilterSearch(t *testing.T) {
	e := eventAt(time.Date(2025, 6, 15, 18, 0, 0, 0, time.UTC))
	e.Description = "Pago pendiente"

	if !(EventFilter{Search: "VACUNA"}).Matches(e) {
		t.Fatal("search should be case-insensitive over summary")
	}
	if !(EventFilter{Search: "pendiente"}).Matches(e) {
		t.Fatal("search should cover description")
	}
	if (EventFilter{Search: "radiografia"}).Matches(e) {
		t.Fatal("absent term should not match")
	}
}
