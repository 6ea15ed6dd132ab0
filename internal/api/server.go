// Package api implements the Nexus HTTP API: the event stream consumed
// by the chat frontend, a plain JSON chat endpoint, invocation history,
// and an operational websocket monitor.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nugget/hive-nexus/internal/agent"
	"github.com/nugget/hive-nexus/internal/buildinfo"
	"github.com/nugget/hive-nexus/internal/connwatch"
	"github.com/nugget/hive-nexus/internal/events"
	"github.com/nugget/hive-nexus/internal/invocation"
	"github.com/nugget/hive-nexus/internal/metrics"
	"github.com/nugget/hive-nexus/internal/tools"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// History answers invocation log queries. *invocation.Store satisfies it.
type History interface {
	BySession(ctx context.Context, sessionID string) ([]invocation.Record, error)
	Stats(ctx context.Context, start, end time.Time) ([]invocation.Stats, error)
}

// Options configures a Server. Loop and Registry are required.
type Options struct {
	Address string
	Port    int

	// Development allows any http://localhost:<port> origin. Otherwise
	// only CORSOrigins are allowed.
	Development bool
	CORSOrigins []string

	Loop     *agent.Loop
	Registry *tools.Registry
	History  History
	Health   *connwatch.Manager
	Bus      *events.Bus
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// KeepAlive is the SSE comment interval while a run is quiet.
	KeepAlive time.Duration
}

// Server is the HTTP API server.
type Server struct {
	opts   Options
	cors   *corsPolicy
	logger *slog.Logger
	server *http.Server
}

// NewServer creates a new API server.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 15 * time.Second
	}
	return &Server{
		opts:   opts,
		cors:   newCORSPolicy(opts.Development, opts.CORSOrigins),
		logger: opts.Logger.With("component", "api"),
	}
}

// Handler returns the full route table wrapped in CORS and request
// logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Frontend stream and chat
	mux.HandleFunc("POST /nexus/stream_events", s.handleStreamEvents)
	mux.HandleFunc("POST /v1/chat", s.handleChat)

	// Invocation history
	mux.HandleFunc("GET /v1/sessions/{id}/invocations", s.handleSessionInvocations)
	mux.HandleFunc("GET /v1/invocations/stats", s.handleInvocationStats)

	// Introspection
	mux.HandleFunc("GET /v1/tools", s.handleTools)
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.opts.Metrics.Handler())
	mux.HandleFunc("GET /{$}", s.handleRoot)

	return s.withLogging(s.cors.wrap(mux))
}

// Start begins serving HTTP requests. It returns when the server is
// shut down or fails to listen.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.opts.Address, s.opts.Port),
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// Streams reset their own write deadline per event.
		WriteTimeout: 120 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	addr := s.opts.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server",
		"address", addr,
		"port", s.opts.Port,
		"development", s.opts.Development,
		"cors_origins", s.opts.CORSOrigins,
	)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Hive Nexus",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.RuntimeInfo(), s.logger)
}

// handleHealth reports "degraded" while any watched dependency is
// down. The process itself is up either way, so the code is always 200.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	services := s.opts.Health.Status()
	if services == nil {
		services = []connwatch.ServiceStatus{}
	}
	status := "healthy"
	for _, svc := range services {
		if !svc.Ready {
			status = "degraded"
			break
		}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"status": status, "services": services}, s.logger)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"tools": s.opts.Registry.Catalog()}, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
