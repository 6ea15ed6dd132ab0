// Package invocation keeps an observability log of every tool call:
// what was asked, what came back, and how long it took.
package invocation

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Status values for a record. The store rejects any other value.
const (
	StatusSuccess = "SUCCESS"
	StatusFailure = "FAILURE"
)

// Record describes one tool invocation. Input and Output hold JSON text.
type Record struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	CallID       string    `json:"call_id,omitempty"`
	Name         string    `json:"name"`
	Input        string    `json:"input"`
	Output       string    `json:"output,omitempty"`
	Status       string    `json:"status"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	DurationMs   int64     `json:"duration_ms"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// Finish fills EndTime and DurationMs from start and now, and sets
// Status from err.
func (r *Record) Finish(err error) {
	r.EndTime = time.Now()
	r.DurationMs = r.EndTime.Sub(r.StartTime).Milliseconds()
	if err != nil {
		r.Status = StatusFailure
		r.ErrorMessage = err.Error()
		return
	}
	r.Status = StatusSuccess
}

// JSON renders v for the Input or Output column. Values that cannot be
// encoded are rendered as a JSON string of their error.
func JSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal("unencodable: " + err.Error())
	}
	return string(data)
}

// Sink receives records. Log must not block the caller for long and
// never fails the caller: sinks deal with their own errors.
type Sink interface {
	Log(ctx context.Context, rec Record)
}

// Nop discards records.
type Nop struct{}

func (Nop) Log(context.Context, Record) {}

// MultiSink fans a record out to every sink in order.
type MultiSink []Sink

func (m MultiSink) Log(ctx context.Context, rec Record) {
	for _, s := range m {
		if s != nil {
			s.Log(ctx, rec)
		}
	}
}

// Memory keeps records in memory. Tests and the ask command use it.
type Memory struct {
	mu      sync.Mutex
	records []Record
}

func (m *Memory) Log(_ context.Context, rec Record) {
	m.mu.Lock()
	m.records = append(m.records, rec)
	m.mu.Unlock()
}

// Records returns a copy of everything logged so far.
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}
