package api

import (
	"net/http"
	"time"

	"github.com/nugget/hive-nexus/internal/invocation"
)

func (s *Server) handleSessionInvocations(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "invocation history not configured")
		return
	}
	id := r.PathValue("id")
	records, err := s.opts.History.BySession(r.Context(), id)
	if err != nil {
		s.logger.Error("invocation lookup failed", "session_id", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if records == nil {
		records = []invocation.Record{}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"session_id":  id,
		"invocations": records,
		"count":       len(records),
	}, s.logger)
}

// handleInvocationStats aggregates the last ?hours= hours (default 24).
func (s *Server) handleInvocationStats(w http.ResponseWriter, r *http.Request) {
	if s.opts.History == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "invocation history not configured")
		return
	}
	hours := parseIntParam(r, "hours", 24)
	if hours == 0 {
		hours = 24
	}
	end := time.Now()
	start := end.Add(-time.Duration(hours) * time.Hour)

	stats, err := s.opts.History.Stats(r.Context(), start, end)
	if err != nil {
		s.logger.Error("invocation stats failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "stats failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"start": start.UTC(),
		"end":   end.UTC(),
		"tools": stats,
	}, s.logger)
}
