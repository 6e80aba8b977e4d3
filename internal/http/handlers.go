package http

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"citasync/internal/amqp"
	"citasync/internal/core"
	"citasync/internal/query"
)

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	filter, err := parseEventFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := s.engine.Summary(r.Context(), filter)
	if err != nil {
		slog.ErrorContext(r.Context(), "Summary query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "summary query failed")
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleDailyDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	filter, err := parseEventFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	maxDays := parseMaxDays(r, s.dailyDefault(r.Context()))

	detail, err := s.engine.DailyDetail(r.Context(), filter, maxDays)
	if err != nil {
		slog.ErrorContext(r.Context(), "Daily detail query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "daily detail query failed")
		return
	}

	writeJSON(w, http.StatusOK, detail)
}

// dailyDefault is the day count used when the request omits maxDays.
// The resolver merges persisted settings overrides, so a stored
// calendarDailyMaxDays takes effect without a restart.
func (s *Server) dailyDefault(ctx context.Context) int {
	if s.resolver != nil {
		if d := s.resolver.Resolve(ctx).DailyMaxDays; d > 0 {
			return d
		}
	}
	return query.MaxDailyDetailDays
}

func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	trigger := core.SyncTrigger{
		Source: "api",
		User:   strings.TrimSpace(r.URL.Query().Get("user")),
		Label:  strings.TrimSpace(r.URL.Query().Get("label")),
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		s.handleAsyncTrigger(w, r, trigger)
		return
	}

	result, err := s.syncer.Run(r.Context(), trigger)
	if err != nil {
		if errors.Is(err, core.ErrSyncInProgress) {
			writeError(w, http.StatusConflict, "a sync is already in progress")
			return
		}
		slog.ErrorContext(r.Context(), "Sync failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.engine.InvalidateCaches()
	writeJSON(w, http.StatusOK, result)
}

// handleAsyncTrigger queues the sync on the message broker for the
// worker instead of running it in-process.
func (s *Server) handleAsyncTrigger(w http.ResponseWriter, r *http.Request, trigger core.SyncTrigger) {
	if s.publisher == nil {
		writeError(w, http.StatusServiceUnavailable, "async sync requires the message broker")
		return
	}

	msg := amqp.NewSyncTriggerMessage(trigger)
	if err := s.publisher.PublishSyncTrigger(r.Context(), msg); err != nil {
		slog.ErrorContext(r.Context(), "Failed to publish sync trigger", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to queue sync")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) handleSyncLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := 20
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	logs, err := s.store.ListSyncLogs(r.Context(), limit)
	if err != nil {
		slog.ErrorContext(r.Context(), "Sync log listing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "sync log listing failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

// reclassifyRequest is the manual override payload. It bypasses the
// classifier entirely; omitted fields are written as null.
type reclassifyRequest struct {
	CalendarID     string  `json:"calendarId"`
	EventID        string  `json:"eventId"`
	Category       *string `json:"category"`
	AmountExpected *int64  `json:"amountExpected"`
	AmountPaid     *int64  `json:"amountPaid"`
	Attended       *bool   `json:"attended"`
	Dosage         *string `json:"dosage"`
	TreatmentStage *string `json:"treatmentStage"`
}

func (s *Server) handleReclassify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req reclassifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	key := core.EventKey{CalendarID: req.CalendarID, EventID: req.EventID}
	if err := key.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.AmountExpected != nil && *req.AmountExpected < 0 {
		writeError(w, http.StatusBadRequest, "amountExpected must be non-negative")
		return
	}
	if req.AmountPaid != nil && *req.AmountPaid < 0 {
		writeError(w, http.StatusBadRequest, "amountPaid must be non-negative")
		return
	}
	// attended is true or null, never explicit false
	if req.Attended != nil && !*req.Attended {
		req.Attended = nil
	}

	c := core.Classification{
		Category:       req.Category,
		AmountExpected: req.AmountExpected,
		AmountPaid:     req.AmountPaid,
		Attended:       req.Attended,
		Dosage:         req.Dosage,
		TreatmentStage: req.TreatmentStage,
	}
	if c.AmountPaid != nil && c.AmountExpected == nil {
		v := *c.AmountPaid
		c.AmountExpected = &v
	}

	if err := s.store.OverrideClassification(r.Context(), key, c); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		slog.ErrorContext(r.Context(), "Reclassify failed",
			"calendar_id", key.CalendarID, "event_id", key.EventID, "error", err)
		writeError(w, http.StatusInternalServerError, "reclassify failed")
		return
	}

	s.engine.InvalidateCaches()
	slog.InfoContext(r.Context(), "Event manually reclassified",
		"calendar_id", key.CalendarID, "event_id", key.EventID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
