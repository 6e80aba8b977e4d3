package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	goption "google.golang.org/api/option"

	"citasync/internal/calendar"
	"citasync/internal/core"
)

// PageSize is the number of events requested per provider page, the
// maximum the Calendar API accepts.
const PageSize = 2500

type Client struct {
	svc *gcal.Service
}

// Ensure interface conformance
var _ calendar.EventSource = (*Client)(nil)

// NewFromEnv creates a Calendar client using Service Account credentials.
// Uses GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or
// GOOGLE_APPLICATION_CREDENTIALS.
func NewFromEnv(ctx context.Context) (*Client, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	var err error

	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		credentialsJSON, err = os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	return New(ctx, credentialsJSON)
}

// New creates a Calendar client from service account credentials JSON.
func New(ctx context.Context, credentialsJSON []byte) (*Client, error) {
	svc, err := gcal.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gcal.CalendarReadonlyScope))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}

	slog.InfoContext(ctx, "Google Calendar service created")
	return &Client{svc: svc}, nil
}

// ListEvents fetches one page of events for a calendar within the window.
func (c *Client) ListEvents(ctx context.Context, calendarID string, window core.SyncWindow, pageToken string) (calendar.Page, error) {
	if c.svc == nil {
		return calendar.Page{}, errors.New("calendar service not initialized")
	}

	call := c.svc.Events.List(calendarID).
		TimeMin(window.TimeMin.Format(time.RFC3339)).
		TimeMax(window.TimeMax.Format(time.RFC3339)).
		TimeZone(window.TimeZone).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(PageSize).
		Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	res, err := call.Do()
	if err != nil {
		return calendar.Page{}, fmt.Errorf("list events for %s: %w", calendarID, err)
	}

	page := calendar.Page{NextToken: res.NextPageToken}
	page.Events = make([]core.EventRecord, 0, len(res.Items))
	for _, item := range res.Items {
		page.Events = append(page.Events, toRecord(calendarID, item))
	}
	return page, nil
}

func toRecord(calendarID string, e *gcal.Event) core.EventRecord {
	return core.EventRecord{
		CalendarID:   calendarID,
		EventID:      e.Id,
		Status:       e.Status,
		EventType:    e.EventType,
		Summary:      e.Summary,
		Description:  e.Description,
		Start:        toEventTime(e.Start),
		End:          toEventTime(e.End),
		Created:      parseRFC3339(e.Created),
		Updated:      parseRFC3339(e.Updated),
		ColorID:      e.ColorId,
		Location:     e.Location,
		Transparency: e.Transparency,
		Visibility:   e.Visibility,
		HTMLLink:     e.HtmlLink,
	}
}

func toEventTime(t *gcal.EventDateTime) core.EventTime {
	if t == nil {
		return core.EventTime{}
	}
	out := core.EventTime{Date: t.Date, TimeZone: t.TimeZone}
	if t.DateTime != "" {
		if parsed, err := time.Parse(time.RFC3339, t.DateTime); err == nil {
			out.DateTime = &parsed
		}
	}
	return out
}

func parseRFC3339(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
