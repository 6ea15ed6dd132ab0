package invocation

import (
	"context"
	"log/slog"
	"sync"
)

// AsyncSink hands records to a background writer so tool dispatch never
// waits on disk or network. When the buffer is full the record is
// dropped with a warning.
type AsyncSink struct {
	next   Sink
	ch     chan Record
	logger *slog.Logger

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
}

// NewAsyncSink starts the writer goroutine. buffer <= 0 uses 256.
func NewAsyncSink(next Sink, buffer int, logger *slog.Logger) *AsyncSink {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &AsyncSink{
		next:   next,
		ch:     make(chan Record, buffer),
		logger: logger,
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *AsyncSink) run() {
	defer close(a.done)
	for rec := range a.ch {
		// The caller's context is long gone by the time we write.
		a.next.Log(context.Background(), rec)
	}
}

// Log queues rec. It never blocks.
func (a *AsyncSink) Log(_ context.Context, rec Record) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.ch <- rec:
	default:
		a.logger.Warn("invocation log buffer full, dropping record", "name", rec.Name, "session_id", rec.SessionID)
	}
}

// Close stops accepting records and waits for queued ones to be
// written, or for ctx to end.
func (a *AsyncSink) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.ch)
		a.mu.Unlock()
	})
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
