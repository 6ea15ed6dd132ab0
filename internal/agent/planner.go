package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/hive-nexus/internal/conversation"
	"github.com/nugget/hive-nexus/internal/events"
	"github.com/nugget/hive-nexus/internal/llm"
)

// plan calls the primary engine once and appends its reply.
func (r *run) plan(ctx context.Context) error {
	if r.turns >= r.cfg.MaxTurns {
		return fmt.Errorf("%w: %d planner calls", ErrTurnLimit, r.turns)
	}
	r.turns++

	req := llm.ChatRequest{
		System:   r.loop.system,
		Messages: toLLMMessages(r.state.Messages()),
		Tools:    r.loop.toolDefs,
	}

	r.loop.deps.Bus.Emit(events.SourceLoop, events.KindPlannerCall, map[string]any{
		"session_id": r.session, "turn": r.turns, "messages": len(req.Messages),
	})
	start := time.Now()

	pctx, cancel := context.WithTimeout(ctx, r.cfg.PlannerTimeout)
	resp, err := r.loop.deps.Primary.Chat(pctx, req)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("no reply within %s: %w", r.cfg.PlannerTimeout, err)
		}
		return &ReasoningError{Stage: "planner", Err: err}
	}

	msg := fromLLMReply(resp.Message)
	idx, err := r.state.Append(msg)
	if err != nil {
		return &ReasoningError{Stage: "planner", Err: err}
	}

	r.loop.deps.Bus.Emit(events.SourceLoop, events.KindPlannerDone, map[string]any{
		"session_id": r.session,
		"turn":       r.turns,
		"tool_calls": len(resp.Message.ToolCalls),
		"tokens_in":  resp.InputTokens,
		"tokens_out": resp.OutputTokens,
		"elapsed_ms": time.Since(start).Milliseconds(),
	})
	r.logger.Debug("planner replied",
		"turn", r.turns,
		"model", resp.Model,
		"tool_calls", len(resp.Message.ToolCalls),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	r.em.appended(r.callerCtx, idx, r.state.At(idx))
	return nil
}

// toLLMMessages maps the conversation onto provider-neutral chat
// messages.
func toLLMMessages(msgs []conversation.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Kind() {
		case conversation.KindUser:
			out = append(out, llm.Message{Role: "user", Content: m.User.Text})
		case conversation.KindAssistant:
			lm := llm.Message{Role: "assistant", Content: m.Assistant.Text}
			for _, c := range m.Assistant.ToolCalls {
				lm.ToolCalls = append(lm.ToolCalls, llm.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments})
			}
			out = append(out, lm)
		case conversation.KindToolResult:
			out = append(out, llm.Message{Role: "tool", Content: m.ToolResult.Content, ToolCallID: m.ToolResult.ToolCallID})
		}
	}
	return out
}

// fromLLMReply converts an engine reply to an assistant message. Calls
// without an ID, or repeating one already used in the reply, get a
// generated call_<uuid> ID.
func fromLLMReply(m llm.Message) conversation.Message {
	var calls []conversation.ToolCallRequest
	seen := make(map[string]bool, len(m.ToolCalls))
	for _, tc := range m.ToolCalls {
		id := tc.ID
		if id == "" || seen[id] {
			id = "call_" + uuid.NewString()
		}
		seen[id] = true
		args := tc.Arguments
		if args == nil {
			args = map[string]any{}
		}
		calls = append(calls, conversation.ToolCallRequest{ID: id, Name: tc.Name, Arguments: args})
	}
	return conversation.NewAssistant(m.Content, calls)
}
