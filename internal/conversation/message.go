// Package conversation holds the ordered message log a single loop
// instance operates on.
package conversation

import (
	"encoding/json"
	"fmt"
)

// Kind identifies which variant a [Message] carries.
type Kind string

// Message kinds.
const (
	KindUser       Kind = "user"
	KindAssistant  Kind = "assistant"
	KindToolResult Kind = "tool_result"
)

// ToolCallRequest is one action requested by the reasoning engine.
// ID correlates the request with its eventual [ToolResultMessage] and is
// unique within one assistant message.
type ToolCallRequest struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// UserMessage is the instruction that seeds a conversation.
type UserMessage struct {
	Text string
}

// AssistantMessage is one reasoning-engine reply. An empty ToolCalls
// makes Text the candidate final answer.
type AssistantMessage struct {
	Text      string
	ToolCalls []ToolCallRequest
}

// ToolResultMessage answers exactly one pending [ToolCallRequest].
type ToolResultMessage struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// Message is a tagged variant. Exactly one of the pointer fields is set;
// use the constructors rather than building one by hand.
type Message struct {
	User       *UserMessage
	Assistant  *AssistantMessage
	ToolResult *ToolResultMessage
}

// NewUser returns a user message.
func NewUser(text string) Message {
	return Message{User: &UserMessage{Text: text}}
}

// NewAssistant returns an assistant message. calls may be nil.
func NewAssistant(text string, calls []ToolCallRequest) Message {
	return Message{Assistant: &AssistantMessage{Text: text, ToolCalls: calls}}
}

// NewToolResult returns a tool result message for the given call ID.
func NewToolResult(id, content string, isError bool) Message {
	return Message{ToolResult: &ToolResultMessage{ToolCallID: id, Content: content, IsError: isError}}
}

// Kind reports the variant carried by m, or "" when m is not a valid
// variant (zero or more than one field set).
func (m Message) Kind() Kind {
	n := 0
	var k Kind
	if m.User != nil {
		n++
		k = KindUser
	}
	if m.Assistant != nil {
		n++
		k = KindAssistant
	}
	if m.ToolResult != nil {
		n++
		k = KindToolResult
	}
	if n != 1 {
		return ""
	}
	return k
}

// HasToolCalls reports whether m is an assistant message requesting at
// least one tool call.
func (m Message) HasToolCalls() bool {
	return m.Assistant != nil && len(m.Assistant.ToolCalls) > 0
}

// Clone returns a deep copy of m. Tool-call arguments are copied
// recursively so the copy shares no maps or slices with m.
func (m Message) Clone() Message {
	var out Message
	if m.User != nil {
		u := *m.User
		out.User = &u
	}
	if m.Assistant != nil {
		a := AssistantMessage{Text: m.Assistant.Text}
		if m.Assistant.ToolCalls != nil {
			a.ToolCalls = make([]ToolCallRequest, len(m.Assistant.ToolCalls))
			for i, c := range m.Assistant.ToolCalls {
				a.ToolCalls[i] = c.Clone()
			}
		}
		out.Assistant = &a
	}
	if m.ToolResult != nil {
		r := *m.ToolResult
		out.ToolResult = &r
	}
	return out
}

// Clone returns a deep copy of c.
func (c ToolCallRequest) Clone() ToolCallRequest {
	out := c
	if c.Arguments != nil {
		out.Arguments = cloneValue(c.Arguments).(map[string]any)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = cloneValue(vv)
		}
		return s
	default:
		return v
	}
}

// wireMessage is the flat JSON form used on the event stream.
type wireMessage struct {
	Kind       Kind              `json:"kind"`
	Text       string            `json:"text,omitempty"`
	ToolCalls  []ToolCallRequest `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	Content    string            `json:"content,omitempty"`
	IsError    bool              `json:"is_error,omitempty"`
}

// MarshalJSON encodes m as a flat object tagged with its kind.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{Kind: m.Kind()}
	switch w.Kind {
	case KindUser:
		w.Text = m.User.Text
	case KindAssistant:
		w.Text = m.Assistant.Text
		w.ToolCalls = m.Assistant.ToolCalls
	case KindToolResult:
		w.ToolCallID = m.ToolResult.ToolCallID
		w.Content = m.ToolResult.Content
		w.IsError = m.ToolResult.IsError
	default:
		return nil, fmt.Errorf("marshal message: invalid variant")
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the flat form produced by MarshalJSON.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Kind {
	case KindUser:
		*m = NewUser(w.Text)
	case KindAssistant:
		*m = NewAssistant(w.Text, w.ToolCalls)
	case KindToolResult:
		*m = NewToolResult(w.ToolCallID, w.Content, w.IsError)
	default:
		return fmt.Errorf("unmarshal message: unknown kind %q", w.Kind)
	}
	return nil
}
