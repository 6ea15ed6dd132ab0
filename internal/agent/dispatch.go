package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nugget/hive-nexus/internal/conversation"
	"github.com/nugget/hive-nexus/internal/events"
	"github.com/nugget/hive-nexus/internal/invocation"
	"github.com/nugget/hive-nexus/internal/tools"
)

// toolOutcome is one finished tool call, waiting for its turn to be
// appended.
type toolOutcome struct {
	content string
	isError bool
}

// dispatch runs the tool calls of the latest assistant message and
// appends one result per call, in request order. Calls run
// concurrently up to MaxConcurrentTools; a result is appended as soon
// as every result before it is in. It returns the appended indices.
func (r *run) dispatch(ctx context.Context, calls []conversation.ToolCallRequest) ([]int, error) {
	outcomes := make([]toolOutcome, len(calls))
	ready := make([]chan struct{}, len(calls))
	for i := range ready {
		ready[i] = make(chan struct{})
	}

	var g errgroup.Group
	g.SetLimit(r.cfg.MaxConcurrentTools)
	launched := make(chan struct{})
	go func() {
		defer close(launched)
		for i, c := range calls {
			if ctx.Err() != nil {
				return
			}
			g.Go(func() error {
				outcomes[i] = r.invoke(ctx, c)
				close(ready[i])
				return nil
			})
		}
	}()
	wait := func() {
		<-launched
		_ = g.Wait()
	}

	indices := make([]int, 0, len(calls))
	for i, c := range calls {
		select {
		case <-ready[i]:
		case <-ctx.Done():
			// Workers still running finish on their own. They only write
			// to outcomes and the invocation sink.
			return indices, ctx.Err()
		}
		o := outcomes[i]
		idx, err := r.state.Append(conversation.NewToolResult(c.ID, o.content, o.isError))
		if err != nil {
			wait()
			return indices, err
		}
		indices = append(indices, idx)
		r.em.appended(r.callerCtx, idx, r.state.At(idx))
	}
	wait()
	return indices, nil
}

// invoke resolves, validates and runs one call. Every failure becomes
// an error outcome; nothing here is loop-fatal. It is called from
// worker goroutines and must not touch the conversation or emitter.
func (r *run) invoke(ctx context.Context, c conversation.ToolCallRequest) toolOutcome {
	rec := invocation.Record{
		SessionID: r.session,
		CallID:    c.ID,
		Name:      c.Name,
		Input:     invocation.JSON(c.Arguments),
		StartTime: time.Now(),
	}
	bus := r.loop.deps.Bus
	bus.Emit(events.SourceDispatch, events.KindToolCall, map[string]any{
		"session_id": r.session, "call_id": c.ID, "tool": c.Name,
	})

	content, err := r.execute(ctx, c)

	rec.Finish(err)
	var out toolOutcome
	if err != nil {
		out = toolOutcome{content: err.Error(), isError: true}
		r.logger.Warn("tool call failed", "tool", c.Name, "call_id", c.ID, "error", err)
	} else {
		out = toolOutcome{content: content}
		rec.Output = content
		r.logger.Debug("tool call succeeded", "tool", c.Name, "call_id", c.ID, "bytes", len(content), "duration_ms", rec.DurationMs)
	}

	r.loop.deps.Invocations.Log(ctx, rec)
	r.loop.deps.Metrics.ToolInvoked(c.Name, err == nil, rec.EndTime.Sub(rec.StartTime))
	bus.Emit(events.SourceDispatch, events.KindToolDone, map[string]any{
		"session_id": r.session, "call_id": c.ID, "tool": c.Name, "ok": err == nil, "duration_ms": rec.DurationMs,
	})
	return out
}

// execute returns the tool's JSON-encoded output, or an error whose
// text is the result content the planner will see.
func (r *run) execute(ctx context.Context, c conversation.ToolCallRequest) (string, error) {
	reg := r.loop.deps.Registry
	tool, ok := reg.Get(c.Name)
	if !ok {
		return "", fmt.Errorf("tool '%s' not found", c.Name)
	}
	if err := reg.Validate(c.Name, c.Arguments); err != nil {
		return "", fmt.Errorf("tool '%s' failed: %v", c.Name, err)
	}

	tctx, cancel := context.WithTimeout(ctx, r.cfg.ToolTimeout)
	defer cancel()
	tctx = tools.WithCallID(tools.WithSessionID(tctx, r.session), c.ID)

	out, err := r.safeInvoke(tctx, tool, c.Arguments)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("timed out after %s", r.cfg.ToolTimeout)
		}
		return "", fmt.Errorf("tool '%s' failed: %v", c.Name, err)
	}

	content, err := encodeOutput(out)
	if err != nil {
		return "", fmt.Errorf("tool '%s' failed: unencodable output: %v", c.Name, err)
	}
	return content, nil
}

func (r *run) safeInvoke(ctx context.Context, t tools.Tool, args map[string]any) (out any, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool panicked", "tool", t.Name(), "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return t.Invoke(ctx, args)
}

// encodeOutput renders a tool result as compact JSON without HTML
// escaping, so fetched page text stays readable.
func encodeOutput(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
