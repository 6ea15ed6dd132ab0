package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nugget/hive-nexus/internal/conversation"
	"github.com/nugget/hive-nexus/internal/events"
	"github.com/nugget/hive-nexus/internal/invocation"
	"github.com/nugget/hive-nexus/internal/llm"
	"github.com/nugget/hive-nexus/internal/prompts"
)

// queryKeys are the argument names, in preference order, that carry the
// question a tool call was made to answer.
var queryKeys = []string{"query", "question"}

// reflect condenses every result in indices that is longer than
// MaxContentLength characters, replacing it in place. A failed
// condensation is recorded in the conversation, not returned.
func (r *run) reflect(ctx context.Context, indices []int) error {
	for _, idx := range indices {
		m := r.state.At(idx)
		content := m.ToolResult.Content
		n := utf8.RuneCountInString(content)
		if n <= r.cfg.MaxContentLength {
			continue
		}

		id := m.ToolResult.ToolCallID
		req, _ := r.state.FindRequest(id)
		condensed, err := r.condense(ctx, req, content, n)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var repl conversation.Message
		if err != nil {
			repl = conversation.NewToolResult(id,
				fmt.Sprintf("tool result was too long (%d characters) and condensation failed: %v", n, err), true)
		} else {
			repl = conversation.NewToolResult(id, condensed, false)
		}
		if err := r.state.Replace(idx, repl); err != nil {
			return err
		}
		r.em.replaced(r.callerCtx, idx, r.state.At(idx))
	}
	return nil
}

// condense asks the lightweight engine for the parts of content that
// matter to the originating call's query.
func (r *run) condense(ctx context.Context, req conversation.ToolCallRequest, content string, length int) (string, error) {
	query := queryOf(req.Arguments)
	rec := invocation.Record{
		SessionID: r.session,
		CallID:    req.ID,
		Name:      "reflect:" + req.Name,
		Input:     invocation.JSON(map[string]any{"query": query, "length": length, "limit": r.cfg.MaxContentLength}),
		StartTime: time.Now(),
	}

	rctx, cancel := context.WithTimeout(ctx, r.cfg.ReflectionTimeout)
	resp, err := r.loop.lightweight().Chat(rctx, llm.ChatRequest{
		Messages: []llm.Message{{
			Role:    "user",
			Content: prompts.CondensationPrompt(query, truncateRunes(content, r.cfg.MaxContentLength)+"..."),
		}},
	})
	cancel()

	var condensed string
	if err == nil {
		condensed = strings.TrimSpace(resp.Message.Content)
		if condensed == "" {
			err = errors.New("engine returned an empty condensation")
		}
	} else if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("no reply within %s: %w", r.cfg.ReflectionTimeout, err)
	}

	rec.Finish(err)
	if err == nil {
		rec.Output = invocation.JSON(condensed)
	}
	r.loop.deps.Invocations.Log(ctx, rec)
	r.loop.deps.Metrics.Condensed(err == nil)
	r.loop.deps.Bus.Emit(events.SourceReflector, events.KindCondensation, map[string]any{
		"session_id": r.session, "call_id": req.ID, "tool": req.Name, "length": length, "ok": err == nil,
	})
	if err != nil {
		r.logger.Warn("condensation failed", "tool", req.Name, "call_id", req.ID, "length", length, "error", err)
	} else {
		r.logger.Debug("tool result condensed", "tool", req.Name, "call_id", req.ID, "from", length, "to", utf8.RuneCountInString(condensed))
	}
	return condensed, err
}

// queryOf returns the first non-empty string among queryKeys, or the
// placeholder.
func queryOf(args map[string]any) string {
	for _, k := range queryKeys {
		if s, ok := args[k].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return prompts.DefaultCondensationQuery
}

// truncateRunes cuts s to at most n characters without splitting one.
func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
