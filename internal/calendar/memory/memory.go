// Package memory provides an in-memory EventSource used in tests and as
// a local development backend.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"citasync/internal/calendar"
	"citasync/internal/core"
)

type Source struct {
	mu       sync.Mutex
	events   map[string][]core.EventRecord
	pageSize int

	// FailCalendars simulates per-calendar fetch failures.
	FailCalendars map[string]bool
	// EndlessToken, when set, makes every page return a non-empty
	// continuation token to exercise pagination safety caps.
	EndlessToken bool
}

var _ calendar.EventSource = (*Source)(nil)

func New(pageSize int) *Source {
	if pageSize < 1 {
		pageSize = 100
	}
	return &Source{
		events:        map[string][]core.EventRecord{},
		pageSize:      pageSize,
		FailCalendars: map[string]bool{},
	}
}

// Add registers events under their calendar id.
func (s *Source) Add(events ...core.EventRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		s.events[e.CalendarID] = append(s.events[e.CalendarID], e)
	}
}

func (s *Source) ListEvents(_ context.Context, calendarID string, window core.SyncWindow, pageToken string) (calendar.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailCalendars[calendarID] {
		return calendar.Page{}, fmt.Errorf("simulated fetch failure for %s", calendarID)
	}

	if s.EndlessToken {
		return calendar.Page{NextToken: "more"}, nil
	}

	var matched []core.EventRecord
	for _, e := range s.events[calendarID] {
		eff := e.Start.Effective()
		if eff.IsZero() {
			continue
		}
		if eff.Before(window.TimeMin) || !eff.Before(window.TimeMax) {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Start.Effective().Before(matched[j].Start.Effective())
	})

	offset := 0
	if pageToken != "" {
		parsed, err := strconv.Atoi(pageToken)
		if err != nil {
			return calendar.Page{}, fmt.Errorf("invalid page token %q", pageToken)
		}
		offset = parsed
	}
	if offset > len(matched) {
		offset = len(matched)
	}

	end := offset + s.pageSize
	if end > len(matched) {
		end = len(matched)
	}

	page := calendar.Page{Events: matched[offset:end]}
	if end < len(matched) {
		page.NextToken = strconv.Itoa(end)
	}
	return page, nil
}
