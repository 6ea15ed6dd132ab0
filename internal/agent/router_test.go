package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/nugget/hive-nexus/internal/conversation"
	"github.com/nugget/hive-nexus/internal/llm"
)

func TestRoute(t *testing.T) {
	tests := []struct {
		name string
		msg  conversation.Message
		want Decision
	}{
		{"answer", conversation.NewAssistant("4", nil), Terminate},
		{"empty answer", conversation.NewAssistant("", nil), Terminate},
		{"one call", conversation.NewAssistant("", []conversation.ToolCallRequest{{ID: "c1", Name: "abacus"}}), Dispatch},
		{"text and calls", conversation.NewAssistant("checking", []conversation.ToolCallRequest{{ID: "c1", Name: "abacus"}}), Dispatch},
		{"user", conversation.NewUser("hi"), Terminate},
		{"tool result", conversation.NewToolResult("c1", "4", false), Terminate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Route(tt.msg); got != tt.want {
				t.Errorf("Route() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestMachine_Transitions(t *testing.T) {
	tests := []struct {
		name  string
		steps []string
		want  Phase
		ok    bool
	}{
		{"full cycle", []string{transDispatch, transReflect, transPlan}, PhasePlanning, true},
		{"terminate", []string{transTerminate}, PhaseTerminated, true},
		{"fail while dispatching", []string{transDispatch, transFail}, PhaseTerminated, true},
		{"fail while reflecting", []string{transDispatch, transReflect, transFail}, PhaseTerminated, true},
		{"reflect from planning", []string{transReflect}, PhasePlanning, false},
		{"plan from dispatching", []string{transDispatch, transPlan}, PhaseDispatching, false},
		{"nothing after terminated", []string{transTerminate, transPlan}, PhaseTerminated, false},
		{"no double fail", []string{transFail, transFail}, PhaseTerminated, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			r := &run{
				callerCtx: context.Background(),
				machine:   newMachine(),
				logger:    quiet(),
				em:        &emitter{sink: rec, session: "s", logger: quiet()},
			}
			var err error
			for _, s := range tt.steps {
				if err = r.transition(s); err != nil {
					break
				}
			}
			if (err == nil) != tt.ok {
				t.Fatalf("transition error = %v, want ok=%v", err, tt.ok)
			}
			if r.phase() != tt.want {
				t.Errorf("phase = %s, want %s", r.phase(), tt.want)
			}
			for _, e := range rec.all() {
				if e.Kind != EventStateTransition || e.From == e.State {
					t.Errorf("unexpected event %+v", e)
				}
			}
		})
	}
}

func TestFromLLMReply(t *testing.T) {
	m := fromLLMReply(llm.Message{
		Role:    "assistant",
		Content: "let me check",
		ToolCalls: []llm.ToolCall{
			{Name: "abacus", Arguments: map[string]any{"expression": "1"}},
			{ID: "a", Name: "abacus"},
			{ID: "a", Name: "fetch"},
		},
	})
	if m.Kind() != conversation.KindAssistant || m.Assistant.Text != "let me check" {
		t.Fatalf("message = %+v", m)
	}
	calls := m.Assistant.ToolCalls
	if len(calls) != 3 {
		t.Fatalf("calls = %d", len(calls))
	}
	if !strings.HasPrefix(calls[0].ID, "call_") {
		t.Errorf("missing ID not generated: %q", calls[0].ID)
	}
	if calls[1].ID != "a" {
		t.Errorf("provider ID replaced: %q", calls[1].ID)
	}
	if calls[2].ID == "a" || !strings.HasPrefix(calls[2].ID, "call_") {
		t.Errorf("duplicate ID kept: %q", calls[2].ID)
	}
	if calls[1].Arguments == nil {
		t.Error("nil arguments not replaced with an empty object")
	}

	s := conversation.New("q")
	if _, err := s.Append(m); err != nil {
		t.Errorf("converted reply rejected by the log: %v", err)
	}
}

func TestToLLMMessages(t *testing.T) {
	s := conversation.New("2+2?")
	s.Append(conversation.NewAssistant("", []conversation.ToolCallRequest{{ID: "c1", Name: "abacus", Arguments: map[string]any{"expression": "2+2"}}}))
	s.Append(conversation.NewToolResult("c1", `{"result":4}`, false))
	s.Append(conversation.NewAssistant("4", nil))

	got := toLLMMessages(s.Messages())
	roles := make([]string, len(got))
	for i, m := range got {
		roles[i] = m.Role
	}
	if strings.Join(roles, ",") != "user,assistant,tool,assistant" {
		t.Errorf("roles = %v", roles)
	}
	if got[1].ToolCalls[0].ID != "c1" || got[1].ToolCalls[0].Arguments["expression"] != "2+2" {
		t.Errorf("tool call = %+v", got[1].ToolCalls[0])
	}
	if got[2].ToolCallID != "c1" || got[2].Content != `{"result":4}` {
		t.Errorf("tool message = %+v", got[2])
	}
}

func TestQueryOf(t *testing.T) {
	tests := []struct {
		args map[string]any
		want string
	}{
		{map[string]any{"query": "weather in Oslo"}, "weather in Oslo"},
		{map[string]any{"question": "who won?"}, "who won?"},
		{map[string]any{"query": "  ", "question": "fallback"}, "fallback"},
		{map[string]any{"query": 7}, "the user's original request"},
		{nil, "the user's original request"},
	}
	for _, tt := range tests {
		if got := queryOf(tt.args); got != tt.want {
			t.Errorf("queryOf(%v) = %q, want %q", tt.args, got, tt.want)
		}
	}
}

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 3, "hel"},
		{"日本語テキスト", 3, "日本語"},
		{"", 3, ""},
	}
	for _, tt := range tests {
		if got := truncateRunes(tt.in, tt.n); got != tt.want {
			t.Errorf("truncateRunes(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestEncodeOutput(t *testing.T) {
	got, err := encodeOutput(map[string]any{"html": "<b>a & b</b>"})
	if err != nil {
		t.Fatal(err)
	}
	if got != `{"html":"<b>a & b</b>"}` {
		t.Errorf("encodeOutput = %s", got)
	}
	if _, err := encodeOutput(func() {}); err == nil {
		t.Error("encoding a func should fail")
	}
}
