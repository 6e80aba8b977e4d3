package calendar

import (
	"context"

	"citasync/internal/core"
)

// Page is one page of provider results plus the continuation token for
// the next page. An empty NextToken ends pagination.
type Page struct {
	Events    []core.EventRecord
	NextToken string
}

// EventSource lists events for one calendar within a window, paged via a
// continuation token. Implementations must honor singleEvents semantics
// (recurring events expanded) and order results by start time.
type EventSource interface {
	ListEvents(ctx context.Context, calendarID string, window core.SyncWindow, pageToken string) (Page, error)
}
