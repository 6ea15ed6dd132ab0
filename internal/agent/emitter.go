package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/nugget/hive-nexus/internal/conversation"
	"github.com/nugget/hive-nexus/internal/events"
	"github.com/nugget/hive-nexus/internal/metrics"
)

// EventKind tags an Event.
type EventKind string

// Event kinds.
const (
	EventStateTransition EventKind = "state_transition"
	EventMessageAppended EventKind = "message_appended"
	EventMessageReplaced EventKind = "message_replaced"
	EventFinalAnswer     EventKind = "final_answer"
	EventTerminalError   EventKind = "terminal_error"
)

// Event is one incremental notification from a running loop. Seq
// increases by one per event within a session.
type Event struct {
	Seq       int64                 `json:"seq"`
	Kind      EventKind             `json:"kind"`
	SessionID string                `json:"session_id"`
	Timestamp time.Time             `json:"ts"`
	From      Phase                 `json:"from,omitempty"`
	State     Phase                 `json:"state,omitempty"`
	Index     *int                  `json:"index,omitempty"`
	Message   *conversation.Message `json:"message,omitempty"`
	Answer    string                `json:"answer,omitempty"`
	Error     string                `json:"error,omitempty"`
}

// Terminal reports whether e is the last event of a run.
func (e Event) Terminal() bool {
	return e.Kind == EventFinalAnswer || e.Kind == EventTerminalError
}

// Sink receives events as they happen. Send is only ever called from
// the loop's own goroutine.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// FuncSink adapts a function to Sink.
type FuncSink func(ctx context.Context, e Event) error

func (f FuncSink) Send(ctx context.Context, e Event) error { return f(ctx, e) }

// DiscardSink drops every event.
type DiscardSink struct{}

func (DiscardSink) Send(context.Context, Event) error { return nil }

// ChannelSink delivers events on a buffered channel. Send blocks while
// the buffer is full, until ctx ends.
type ChannelSink struct {
	C chan Event
}

// NewChannelSink returns a ChannelSink buffered to size.
func NewChannelSink(size int) *ChannelSink {
	return &ChannelSink{C: make(chan Event, size)}
}

func (s *ChannelSink) Send(ctx context.Context, e Event) error {
	select {
	case s.C <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// emitter stamps, mirrors and forwards events for one run. After the
// first delivery failure it stops calling the sink; after the caller's
// context ends it emits nothing at all.
type emitter struct {
	sink    Sink
	session string
	bus     *events.Bus
	metrics *metrics.Metrics
	logger  *slog.Logger

	seq    int64
	failed error
}

func (em *emitter) emit(ctx context.Context, e Event) {
	if ctx.Err() != nil {
		return
	}
	em.seq++
	e.Seq = em.seq
	e.SessionID = em.session
	e.Timestamp = time.Now()

	em.mirror(e)

	if em.failed != nil {
		return
	}
	if err := em.sink.Send(ctx, e); err != nil {
		if ctx.Err() != nil {
			return
		}
		em.failed = err
		em.metrics.DeliveryFailed()
		em.logger.Warn("event delivery failed, continuing without sink", "seq", e.Seq, "kind", e.Kind, "error", err)
	}
}

// finish sends the terminal event. If the sink failed earlier it gets
// one more best-effort attempt so the caller learns why the stream
// stopped.
func (em *emitter) finish(ctx context.Context, e Event) {
	if em.failed == nil {
		em.emit(ctx, e)
		return
	}
	if ctx.Err() != nil {
		return
	}
	em.seq++
	notice := Event{
		Seq:       em.seq,
		Kind:      EventTerminalError,
		State:     PhaseTerminated,
		SessionID: em.session,
		Timestamp: time.Now(),
		Error:     ErrDelivery.Error() + ": " + em.failed.Error(),
	}
	em.mirror(notice)
	_ = em.sink.Send(ctx, notice)
}

func (em *emitter) mirror(e Event) {
	if em.bus == nil {
		return
	}
	data := map[string]any{"session_id": e.SessionID, "seq": e.Seq}
	if e.Kind == EventStateTransition {
		data["from"] = e.From
		data["to"] = e.State
	}
	if e.Index != nil {
		data["index"] = *e.Index
	}
	if e.Message != nil {
		data["message_kind"] = e.Message.Kind()
	}
	if e.Error != "" {
		data["error"] = e.Error
	}
	em.bus.Emit(events.SourceLoop, string(e.Kind), data)
}

func (em *emitter) appended(ctx context.Context, idx int, m conversation.Message) {
	em.emit(ctx, Event{Kind: EventMessageAppended, Index: &idx, Message: &m})
}

func (em *emitter) replaced(ctx context.Context, idx int, m conversation.Message) {
	em.emit(ctx, Event{Kind: EventMessageReplaced, Index: &idx, Message: &m})
}
