package core

import (
	"strings"
	"time"
)

// FilterNone is the membership sentinel meaning "field is null/empty".
const FilterNone = "__none__"

// EventFilter is the query-layer predicate. All set fields are ANDed.
type EventFilter struct {
	// From is the inclusive lower bound, To the inclusive upper day; the
	// effective upper bound is the day after To, exclusive. Both apply to
	// the event's effective timestamp.
	From *time.Time
	To   *time.Time

	CalendarIDs []string
	EventTypes  []string // FilterNone matches a null/empty type
	Categories  []string // FilterNone matches a null/empty category
	Search      string   // case-insensitive substring over summary+description
}

// Matches reports whether the record satisfies every set predicate.
func (f EventFilter) Matches(e EventRecord) bool {
	eff := e.Start.Effective()
	if f.From != nil && eff.Before(*f.From) {
		return false
	}
	if f.To != nil && !eff.Before(f.To.AddDate(0, 0, 1)) {
		return false
	}
	if len(f.CalendarIDs) > 0 && !contains(f.CalendarIDs, e.CalendarID) {
		return false
	}
	if len(f.EventTypes) > 0 && !matchesMembership(f.EventTypes, e.EventType) {
		return false
	}
	if len(f.Categories) > 0 {
		category := ""
		if e.Category != nil {
			category = *e.Category
		}
		if !matchesMembership(f.Categories, category) {
			return false
		}
	}
	if f.Search != "" {
		haystack := strings.ToLower(e.Summary + "\n" + e.Description)
		if !strings.Contains(haystack, strings.ToLower(f.Search)) {
			return false
		}
	}
	return true
}

func matchesMembership(allowed []string, value string) bool {
	for _, a := range allowed {
		if a == FilterNone && value == "" {
			return true
		}
		if a == value {
			return true
		}
	}
	return false
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
