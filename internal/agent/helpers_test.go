package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/nugget/hive-nexus/internal/conversation"
	"github.com/nugget/hive-nexus/internal/invocation"
	"github.com/nugget/hive-nexus/internal/llm"
	"github.com/nugget/hive-nexus/internal/tools"
	"github.com/nugget/hive-nexus/internal/tools/abacus"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// step produces one engine reply.
type step func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)

// scriptedEngine replays steps in order and records every request.
type scriptedEngine struct {
	mu    sync.Mutex
	steps []step
	reqs  []llm.ChatRequest
}

func script(steps ...step) *scriptedEngine { return &scriptedEngine{steps: steps} }

func (e *scriptedEngine) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	e.mu.Lock()
	e.reqs = append(e.reqs, req)
	if len(e.steps) == 0 {
		e.mu.Unlock()
		return nil, errors.New("script exhausted")
	}
	s := e.steps[0]
	e.steps = e.steps[1:]
	e.mu.Unlock()
	return s(ctx, req)
}

func (e *scriptedEngine) Ping(context.Context) error { return nil }

func (e *scriptedEngine) requests() []llm.ChatRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]llm.ChatRequest(nil), e.reqs...)
}

func answer(text string) step {
	return func(context.Context, llm.ChatRequest) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: text}}, nil
	}
}

func callTools(calls ...llm.ToolCall) step {
	return func(context.Context, llm.ChatRequest) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{Message: llm.Message{Role: "assistant", ToolCalls: calls}}, nil
	}
}

func fail(err error) step {
	return func(context.Context, llm.ChatRequest) (*llm.ChatResponse, error) { return nil, err }
}

func block() step {
	return func(ctx context.Context, _ llm.ChatRequest) (*llm.ChatResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

func call(id, name string, args map[string]any) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Arguments: args}
}

// recorder is a Sink that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Send(_ context.Context, e Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) kinds() []EventKind {
	var out []EventKind
	for _, e := range r.all() {
		out = append(out, e.Kind)
	}
	return out
}

func (r *recorder) last() Event {
	evs := r.all()
	if len(evs) == 0 {
		return Event{}
	}
	return evs[len(evs)-1]
}

// textTool returns a tool whose JSON-encoded output is exactly n
// characters long.
func textTool(name string, n int) tools.Tool {
	return tools.NewFunc(name, "returns filler text", nil, func(context.Context, map[string]any) (any, error) {
		return strings.Repeat("x", n-2), nil
	})
}

type harness struct {
	primary *scriptedEngine
	light   *scriptedEngine
	reg     *tools.Registry
	log     *invocation.Memory
	loop    *Loop
}

func newHarness(t *testing.T, cfg Config, primary, light *scriptedEngine, extra ...tools.Tool) *harness {
	t.Helper()
	reg := tools.NewRegistry()
	a, err := abacus.New()
	if err != nil {
		t.Fatalf("abacus.New: %v", err)
	}
	for _, tool := range append([]tools.Tool{a}, extra...) {
		if err := reg.Register(tool); err != nil {
			t.Fatalf("Register(%s): %v", tool.Name(), err)
		}
	}
	if light == nil {
		light = script()
	}
	mem := &invocation.Memory{}
	loop, err := NewLoop(Deps{
		Primary:     primary,
		Lightweight: light,
		Registry:    reg,
		Invocations: mem,
		Logger:      quiet(),
	}, cfg)
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	return &harness{primary: primary, light: light, reg: reg, log: mem, loop: loop}
}

// checkLog replays msgs through a fresh State, failing on any
// ordering or correlation violation.
func checkLog(t *testing.T, msgs []conversation.Message) {
	t.Helper()
	if len(msgs) == 0 || msgs[0].Kind() != conversation.KindUser {
		t.Fatalf("log does not start with a user message")
	}
	s := conversation.New(msgs[0].User.Text)
	for i, m := range msgs[1:] {
		if _, err := s.Append(m); err != nil {
			t.Fatalf("message %d violates the log rules: %v", i+1, err)
		}
	}
}

func toolResults(msgs []conversation.Message) []*conversation.ToolResultMessage {
	var out []*conversation.ToolResultMessage
	for _, m := range msgs {
		if m.ToolResult != nil {
			out = append(out, m.ToolResult)
		}
	}
	return out
}
