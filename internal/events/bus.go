// Package events is the process-wide observability bus. Loop instances
// publish what they are doing; the websocket endpoint and the MQTT
// mirror subscribe. Publishing on a nil *Bus is a no-op so components
// can hold an optional bus without guard checks.
package events

import (
	"sync"
	"time"
)

// Sources.
const (
	SourceLoop      = "loop"
	SourceDispatch  = "dispatch"
	SourceReflector = "reflector"
	SourceConnwatch = "connwatch"
)

// Kinds. The data keys each kind carries are listed alongside.
const (
	// KindLoopStart: session_id, input_len.
	KindLoopStart = "loop_start"
	// KindStateTransition: session_id, seq, from, to.
	KindStateTransition = "state_transition"
	// KindPlannerCall: session_id, turn, messages.
	KindPlannerCall = "planner_call"
	// KindPlannerDone: session_id, turn, tool_calls, tokens_in, tokens_out, elapsed_ms.
	KindPlannerDone = "planner_done"
	// KindToolCall: session_id, call_id, tool.
	KindToolCall = "tool_call"
	// KindToolDone: session_id, call_id, tool, ok, duration_ms.
	KindToolDone = "tool_done"
	// KindCondensation: session_id, call_id, tool, length, ok.
	KindCondensation = "condensation"
	// KindLoopComplete: session_id, turns, elapsed_ms.
	KindLoopComplete = "loop_complete"
	// KindLoopError: session_id, error.
	KindLoopError = "loop_error"
)

// Event is one published occurrence.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast bus. A subscriber whose buffer is full
// misses events instead of slowing the publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// byRecv lets Unsubscribe take the receive-only view handed out by
	// Subscribe.
	byRecv map[<-chan Event]chan Event
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{
		subs:   make(map[chan Event]struct{}),
		byRecv: make(map[<-chan Event]chan Event),
	}
}

// Publish delivers e to every subscriber that has room.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Emit publishes an event stamped with the current time.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	if b == nil {
		return
	}
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// Subscribe returns a channel of published events buffered to bufSize.
// Callers must Unsubscribe when done.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.byRecv[ch] = ch
	return ch
}

// Unsubscribe removes the subscription and closes its channel. Unknown
// channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	send, ok := b.byRecv[ch]
	if !ok {
		return
	}
	delete(b.subs, send)
	delete(b.byRecv, ch)
	close(send)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
