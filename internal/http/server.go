package http

import (
	"context"
	"net/http"
	"time"

	"citasync/internal/amqp"
	"citasync/internal/core"
	"citasync/internal/log"
	"citasync/internal/middleware/ratelimit"
	"citasync/internal/middleware/security"
	"citasync/internal/middleware/trace"
	"citasync/internal/query"
	"citasync/internal/sync"
)

// Syncer triggers one sync run.
type Syncer interface {
	Run(ctx context.Context, trigger core.SyncTrigger) (*sync.Result, error)
}

// ConfigResolver supplies the runtime configuration that drives request
// defaults, merging persisted settings overrides on every call.
type ConfigResolver interface {
	Resolve(ctx context.Context) core.RuntimeConfig
}

// TriggerPublisher hands a sync trigger to the worker over the message
// broker instead of running it in-process.
type TriggerPublisher interface {
	PublishSyncTrigger(ctx context.Context, msg *amqp.SyncTriggerMessage) error
}

// EventStore is what the API needs from the persistent store beyond the
// query engine: sync log listing and the manual override write path.
type EventStore interface {
	query.EventReader
	ListSyncLogs(ctx context.Context, limit int) ([]core.SyncLog, error)
	OverrideClassification(ctx context.Context, key core.EventKey, c core.Classification) error
}

type Server struct {
	http.Server

	store     EventStore
	engine    *query.Engine
	syncer    Syncer
	resolver  ConfigResolver
	publisher TriggerPublisher
	slog      *log.StructuredLogger
}

// NewServer configures routes, returning a ready-to-run http.Server.
// The handler chain is security headers, then request tracing, then the
// context logger; API routes additionally sit behind a per-IP rate limit.
// resolver and publisher are optional: a nil resolver fixes the daily
// default at the clamp ceiling, a nil publisher disables async triggers.
func NewServer(addr string, store EventStore, engine *query.Engine, syncer Syncer, resolver ConfigResolver, publisher TriggerPublisher, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}

	s := &Server{
		store:     store,
		engine:    engine,
		syncer:    syncer,
		resolver:  resolver,
		publisher: publisher,
		slog:      log.NewStructuredLogger(logger.WithComponent(log.ComponentHTTP)),
	}

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/api/summary", s.withRequestLog(s.handleSummary))
	apiMux.HandleFunc("/api/daily", s.withRequestLog(s.handleDailyDetail))
	apiMux.HandleFunc("/api/sync", s.withRequestLog(s.handleTriggerSync))
	apiMux.HandleFunc("/api/sync/logs", s.withRequestLog(s.handleSyncLogs))
	apiMux.HandleFunc("/api/events/reclassify", s.withRequestLog(s.handleReclassify))

	limiter := ratelimit.NewLimiter(ratelimit.DefaultConfig())

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/readyz", handleReady)
	mux.Handle("/api/", limiter.Middleware(extractClientIP, nil)(apiMux))

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	handler := headers.Middleware(trace.Middleware(log.Middleware(logger)(mux)))

	s.Server = http.Server{
		Addr:    addr,
		Handler: handler,
	}
	s.RegisterOnShutdown(limiter.Stop)

	return s
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// withRequestLog logs request completion with status and duration.
func (s *Server) withRequestLog(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		s.slog.LogHTTPEnd(r.Context(), r, trace.GetRequestID(r.Context()), rw.statusCode, time.Since(start).Milliseconds())
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
