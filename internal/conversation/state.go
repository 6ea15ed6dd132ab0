package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrInvariant is wrapped by every error returned when an Append or
// Replace would break the log's ordering or correlation rules.
var ErrInvariant = errors.New("conversation invariant violated")

// State is the ordered message log owned by one loop instance. It is
// append-only except for [State.Replace]. A State is not safe for
// concurrent use; the loop that owns it serializes all mutations.
type State struct {
	messages []Message
	track    tracker
}

// New returns a State seeded with a single user message.
func New(userText string) *State {
	s := &State{track: newTracker()}
	// A fresh tracker always admits a user message.
	_ = s.track.admit(NewUser(userText), 0)
	s.messages = append(s.messages, NewUser(userText))
	return s
}

// Append adds msg to the end of the log and returns its index.
func (s *State) Append(msg Message) (int, error) {
	idx := len(s.messages)
	if err := s.track.admit(msg, idx); err != nil {
		return -1, err
	}
	s.messages = append(s.messages, msg.Clone())
	return idx, nil
}

// Replace swaps the tool result at index for msg. It is only permitted
// for a tool result in the trailing run after the most recent assistant
// message, and only with a tool result carrying the same call ID.
func (s *State) Replace(index int, msg Message) error {
	if index < 0 || index >= len(s.messages) {
		return fmt.Errorf("%w: replace index %d out of range [0,%d)", ErrInvariant, index, len(s.messages))
	}
	old := s.messages[index]
	if old.Kind() != KindToolResult {
		return fmt.Errorf("%w: message %d is %q, only tool results can be replaced", ErrInvariant, index, old.Kind())
	}
	if msg.Kind() != KindToolResult {
		return fmt.Errorf("%w: replacement for message %d must be a tool result", ErrInvariant, index)
	}
	if msg.ToolResult.ToolCallID != old.ToolResult.ToolCallID {
		return fmt.Errorf("%w: replacement call id %q does not match %q",
			ErrInvariant, msg.ToolResult.ToolCallID, old.ToolResult.ToolCallID)
	}
	if index <= s.track.lastAssistant {
		return fmt.Errorf("%w: message %d precedes the latest assistant message", ErrInvariant, index)
	}
	for i := s.track.lastAssistant + 1; i < index; i++ {
		if s.messages[i].Kind() != KindToolResult {
			return fmt.Errorf("%w: message %d is not in the trailing tool-result run", ErrInvariant, index)
		}
	}
	s.messages[index] = msg.Clone()
	return nil
}

// Len returns the number of messages.
func (s *State) Len() int { return len(s.messages) }

// At returns a copy of the message at index i. It panics if i is out of
// range, like a slice index.
func (s *State) At(i int) Message { return s.messages[i].Clone() }

// Latest returns a copy of the last message.
func (s *State) Latest() Message { return s.messages[len(s.messages)-1].Clone() }

// Messages returns a deep copy of the whole log.
func (s *State) Messages() []Message {
	out := make([]Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Clone()
	}
	return out
}

// Pending returns the IDs of tool calls from the most recent assistant
// message that have not been answered yet, in request order.
func (s *State) Pending() []string {
	return s.track.pendingIDs()
}

// FindRequest returns the tool call request with the given ID from the
// most recent assistant message that issued it.
func (s *State) FindRequest(id string) (ToolCallRequest, bool) {
	for i := len(s.messages) - 1; i >= 0; i-- {
		a := s.messages[i].Assistant
		if a == nil {
			continue
		}
		for _, c := range a.ToolCalls {
			if c.ID == id {
				return c.Clone(), true
			}
		}
	}
	return ToolCallRequest{}, false
}

// CheckInvariants replays the whole log against the ordering and
// correlation rules. It returns nil for any State built only through
// New, Append and Replace.
func (s *State) CheckInvariants() error {
	if len(s.messages) == 0 || s.messages[0].Kind() != KindUser {
		return fmt.Errorf("%w: log must start with a user message", ErrInvariant)
	}
	t := newTracker()
	for i, m := range s.messages {
		if err := t.admit(m, i); err != nil {
			return err
		}
	}
	return nil
}

// Transcript renders the log for humans, one block per message.
func (s *State) Transcript() string {
	var b strings.Builder
	for i, m := range s.messages {
		switch m.Kind() {
		case KindUser:
			fmt.Fprintf(&b, "[%d] user: %s\n", i, m.User.Text)
		case KindAssistant:
			fmt.Fprintf(&b, "[%d] assistant: %s\n", i, m.Assistant.Text)
			for _, c := range m.Assistant.ToolCalls {
				args, _ := json.Marshal(c.Arguments)
				fmt.Fprintf(&b, "      -> %s(%s) %s\n", c.Name, c.ID, args)
			}
		case KindToolResult:
			status := "ok"
			if m.ToolResult.IsError {
				status = "error"
			}
			fmt.Fprintf(&b, "[%d] tool %s (%s): %s\n", i, m.ToolResult.ToolCallID, status, m.ToolResult.Content)
		}
	}
	return b.String()
}

// tracker holds the incremental bookkeeping behind Append.
type tracker struct {
	lastAssistant int
	calls         []string
	answered      map[string]bool
}

func newTracker() tracker {
	return tracker{lastAssistant: -1}
}

func (t *tracker) pendingIDs() []string {
	var out []string
	for _, id := range t.calls {
		if !t.answered[id] {
			out = append(out, id)
		}
	}
	return out
}

func (t *tracker) admit(m Message, idx int) error {
	switch m.Kind() {
	case KindUser:
		if p := t.pendingIDs(); len(p) > 0 {
			return fmt.Errorf("%w: user message while tool calls %v are unanswered", ErrInvariant, p)
		}
		return nil

	case KindAssistant:
		if p := t.pendingIDs(); len(p) > 0 {
			return fmt.Errorf("%w: assistant message while tool calls %v are unanswered", ErrInvariant, p)
		}
		seen := make(map[string]bool, len(m.Assistant.ToolCalls))
		for _, c := range m.Assistant.ToolCalls {
			if c.ID == "" {
				return fmt.Errorf("%w: tool call %q has no id", ErrInvariant, c.Name)
			}
			if seen[c.ID] {
				return fmt.Errorf("%w: duplicate tool call id %q", ErrInvariant, c.ID)
			}
			seen[c.ID] = true
		}
		t.lastAssistant = idx
		t.calls = t.calls[:0]
		for _, c := range m.Assistant.ToolCalls {
			t.calls = append(t.calls, c.ID)
		}
		t.answered = make(map[string]bool, len(t.calls))
		return nil

	case KindToolResult:
		id := m.ToolResult.ToolCallID
		known := false
		for _, c := range t.calls {
			if c == id {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("%w: tool result %q matches no request of the latest assistant message", ErrInvariant, id)
		}
		if t.answered[id] {
			return fmt.Errorf("%w: tool call %q already answered", ErrInvariant, id)
		}
		t.answered[id] = true
		return nil
	}
	return fmt.Errorf("%w: message %d is not a valid variant", ErrInvariant, idx)
}
