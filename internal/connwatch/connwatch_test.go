package connwatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nugget/hive-nexus/internal/events"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var fast = Schedule{
	InitialDelay:  time.Millisecond,
	MaxDelay:      5 * time.Millisecond,
	StartupProbes: 5,
	PollInterval:  5 * time.Millisecond,
	ProbeTimeout:  50 * time.Millisecond,
}

// flaky fails until it has been called n times.
type flaky struct {
	n     int64
	calls atomic.Int64
}

func (f *flaky) probe(context.Context) error {
	if f.calls.Add(1) <= f.n {
		return errors.New("connection refused")
	}
	return nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWatcher_BecomesReadyAfterRetries(t *testing.T) {
	m := NewManager(nil, quiet())
	defer m.Stop()

	f := &flaky{n: 3}
	w := m.Watch(context.Background(), "engine", f.probe, fast)
	waitFor(t, "ready", w.Ready)

	if got := f.calls.Load(); got < 4 {
		t.Errorf("probe calls = %d, want at least 4", got)
	}
	st := w.Status()
	if st.Name != "engine" || st.LastError != "" || st.LastCheck.IsZero() {
		t.Errorf("status = %+v", st)
	}
}

func TestWatcher_PublishesTransitions(t *testing.T) {
	bus := events.New()
	ch := bus.Subscribe(16)
	defer bus.Unsubscribe(ch)

	var mu sync.Mutex
	healthy := true
	probe := func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		if healthy {
			return nil
		}
		return errors.New("gone")
	}

	m := NewManager(bus, quiet())
	defer m.Stop()
	w := m.Watch(context.Background(), "mcp:files", probe, fast)

	next := func() events.Event {
		t.Helper()
		select {
		case e := <-ch:
			return e
		case <-time.After(2 * time.Second):
			t.Fatal("no event")
			return events.Event{}
		}
	}

	if e := next(); e.Kind != KindServiceUp || e.Source != events.SourceConnwatch || e.Data["service"] != "mcp:files" {
		t.Fatalf("first event = %+v", e)
	}

	mu.Lock()
	healthy = false
	mu.Unlock()
	if e := next(); e.Kind != KindServiceDown || e.Data["error"] != "gone" {
		t.Fatalf("second event = %+v", e)
	}
	if w.Ready() {
		t.Error("still ready after going down")
	}

	mu.Lock()
	healthy = true
	mu.Unlock()
	if e := next(); e.Kind != KindServiceUp {
		t.Fatalf("third event = %+v", e)
	}
}

func TestWatcher_ProbeTimeout(t *testing.T) {
	m := NewManager(nil, quiet())
	defer m.Stop()

	s := fast
	s.ProbeTimeout = 5 * time.Millisecond
	w := m.Watch(context.Background(), "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, s)

	waitFor(t, "a recorded check", func() bool { return !w.Status().LastCheck.IsZero() })
	if st := w.Status(); st.Ready || st.LastError == "" {
		t.Errorf("status = %+v, want not ready with an error", st)
	}
}

func TestManager_StatusSortedAndStop(t *testing.T) {
	m := NewManager(nil, quiet())
	ok := func(context.Context) error { return nil }
	m.Watch(context.Background(), "lightweight_local", ok, fast)
	m.Watch(context.Background(), "heavyweight", ok, fast)
	again := m.Watch(context.Background(), "heavyweight", ok, fast)
	if again == nil {
		t.Fatal("Watch returned nil for an existing name")
	}

	waitFor(t, "both ready", func() bool {
		st := m.Status()
		return len(st) == 2 && st[0].Ready && st[1].Ready
	})
	st := m.Status()
	if st[0].Name != "heavyweight" || st[1].Name != "lightweight_local" {
		t.Errorf("order = %s, %s", st[0].Name, st[1].Name)
	}

	done := make(chan struct{})
	go func() { m.Stop(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestManager_NilStatus(t *testing.T) {
	var m *Manager
	if m.Status() != nil {
		t.Error("nil manager should report no services")
	}
}
