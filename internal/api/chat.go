package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/nugget/hive-nexus/internal/agent"
)

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// ChatResponse is the reply to POST /v1/chat.
type ChatResponse struct {
	Response     string   `json:"response"`
	ResponseHTML string   `json:"response_html,omitempty"`
	SessionID    string   `json:"session_id"`
	Turns        int      `json:"turns"`
	ToolCalls    []string `json:"tool_calls,omitempty"`
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// renderMarkdown converts the engine's markdown answer to HTML. Raw
// HTML in the answer is not passed through.
func renderMarkdown(md string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	res, err := s.opts.Loop.Run(r.Context(), agent.Request{Input: req.Message, SessionID: req.SessionID}, nil)
	if err != nil {
		s.logger.Error("agent loop failed", "error", err)
		code := http.StatusInternalServerError
		var re *agent.ReasoningError
		switch {
		case errors.As(err, &re):
			code = http.StatusBadGateway
		case errors.Is(err, agent.ErrDeadline), errors.Is(err, agent.ErrTurnLimit):
			code = http.StatusGatewayTimeout
		}
		s.errorResponse(w, code, "agent error: "+err.Error())
		return
	}

	resp := ChatResponse{
		Response:  res.Answer,
		SessionID: res.SessionID,
		Turns:     res.Turns,
	}
	for _, m := range res.Messages {
		if m.Assistant == nil {
			continue
		}
		for _, c := range m.Assistant.ToolCalls {
			resp.ToolCalls = append(resp.ToolCalls, c.Name)
		}
	}
	if html, err := renderMarkdown(res.Answer); err != nil {
		s.logger.Warn("render answer failed", "session_id", res.SessionID, "error", err)
	} else {
		resp.ResponseHTML = html
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}
