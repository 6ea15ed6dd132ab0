package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nugget/hive-nexus/internal/agent"
)

// maxRequestBody bounds chat and stream request bodies.
const maxRequestBody = 1 << 20

// StreamRequest is the body of POST /nexus/stream_events. The frontend
// sends its whole transcript under input.messages; only the last user
// message seeds the run. Message is the short form for scripts.
type StreamRequest struct {
	Input struct {
		Messages []InputMessage `json:"messages"`
	} `json:"input"`
	Message   string `json:"message,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// InputMessage is one transcript entry. Role is user or human for the
// person talking to Nexus.
type InputMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// instruction returns the text that seeds the run.
func (r StreamRequest) instruction() string {
	if s := strings.TrimSpace(r.Message); s != "" {
		return s
	}
	for i := len(r.Input.Messages) - 1; i >= 0; i-- {
		m := r.Input.Messages[i]
		switch strings.ToLower(m.Role) {
		case "user", "human":
			if s := strings.TrimSpace(m.Content); s != "" {
				return s
			}
		}
	}
	return ""
}

func decodeStreamRequest(body io.Reader) (StreamRequest, error) {
	var req StreamRequest
	if err := json.NewDecoder(io.LimitReader(body, maxRequestBody)).Decode(&req); err != nil {
		return req, errors.New("invalid request body")
	}
	if req.instruction() == "" {
		return req, errors.New("a user message is required")
	}
	return req, nil
}

// errStreamClosed is returned by writes after the handler has finished.
var errStreamClosed = errors.New("event stream closed")

// sseWriter serializes writes from the loop and the keepalive ticker
// onto one response. Once closed, writes are dropped: the
// ResponseWriter must not be touched after the handler returns.
type sseWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
	timeout time.Duration
	closed  bool
}

func (s *sseWriter) write(format string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStreamClosed
	}
	// Long runs would otherwise hit the server's WriteTimeout.
	_ = s.rc.SetWriteDeadline(time.Now().Add(s.timeout))
	if _, err := fmt.Fprintf(s.w, format, args...); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Send implements agent.Sink: one SSE frame per event, named by kind.
func (s *sseWriter) Send(_ context.Context, e agent.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event %d: %w", e.Seq, err)
	}
	return s.write("event: %s\ndata: %s\n\n", e.Kind, data)
}

func (s *sseWriter) keepalive() error {
	return s.write(": keepalive\n\n")
}

func (s *sseWriter) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	req, err := decodeStreamRequest(r.Body)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.errorResponse(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sse := &sseWriter{
		w:       w,
		flusher: flusher,
		rc:      http.NewResponseController(w),
		timeout: 120 * time.Second,
	}
	defer sse.close()

	// The request context ends when the client disconnects, which
	// cancels the run.
	ctx := r.Context()
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		t := time.NewTicker(s.opts.KeepAlive)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				if err := sse.keepalive(); err != nil {
					return
				}
			}
		}
	}()

	input := req.instruction()
	s.logger.Info("stream request", "session_id", req.SessionID, "input_len", len(input))

	res, err := s.opts.Loop.Run(ctx, agent.Request{Input: input, SessionID: req.SessionID}, sse)
	close(done)
	<-stopped

	switch {
	case err == nil:
		s.logger.Debug("stream complete", "session_id", res.SessionID, "turns", res.Turns)
	case ctx.Err() != nil:
		s.logger.Info("stream client went away", "error", err)
	case errors.Is(err, agent.ErrDelivery):
		s.logger.Warn("stream delivery failed", "session_id", res.SessionID, "error", err)
	case res == nil:
		// Run failed before the loop started, so no terminal event went out.
		_ = sse.Send(ctx, agent.Event{Kind: agent.EventTerminalError, Timestamp: time.Now(), Error: err.Error()})
	default:
		s.logger.Warn("stream ended with error", "session_id", res.SessionID, "error", err)
	}
}
