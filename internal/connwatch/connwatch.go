// Package connwatch tracks whether the services Nexus depends on
// (reasoning engines, MCP servers) are reachable.
//
// Each Watcher probes one service: first with capped exponential
// backoff until it answers or the startup attempts run out, then on a
// fixed poll interval. Up and down transitions are logged and published
// on the event bus. An unreachable dependency never stops the process;
// requests that need it fail until it recovers.
package connwatch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/nugget/hive-nexus/internal/events"
)

// Event kinds published under [events.SourceConnwatch]. Data: service, error.
const (
	KindServiceUp   = "service_up"
	KindServiceDown = "service_down"
)

// ProbeFunc returns nil when the service is healthy.
type ProbeFunc func(ctx context.Context) error

// Schedule controls probe timing. Zero fields take the defaults.
type Schedule struct {
	InitialDelay  time.Duration // 2s
	MaxDelay      time.Duration // 60s
	StartupProbes uint64        // 8
	PollInterval  time.Duration // 60s
	ProbeTimeout  time.Duration // 10s
}

func (s Schedule) withDefaults() Schedule {
	if s.InitialDelay <= 0 {
		s.InitialDelay = 2 * time.Second
	}
	if s.MaxDelay <= 0 {
		s.MaxDelay = 60 * time.Second
	}
	if s.StartupProbes == 0 {
		s.StartupProbes = 8
	}
	if s.PollInterval <= 0 {
		s.PollInterval = 60 * time.Second
	}
	if s.ProbeTimeout <= 0 {
		s.ProbeTimeout = 10 * time.Second
	}
	return s
}

// ServiceStatus is one service's health as reported by /health.
type ServiceStatus struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check,omitzero"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher probes a single service.
type Watcher struct {
	name     string
	probe    ProbeFunc
	schedule Schedule
	bus      *events.Bus
	logger   *slog.Logger
	done     chan struct{}

	mu     sync.Mutex
	status ServiceStatus
}

// Status returns the latest probe outcome.
func (w *Watcher) Status() ServiceStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Ready reports whether the last probe succeeded.
func (w *Watcher) Ready() bool { return w.Status().Ready }

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	b := retry.NewExponential(w.schedule.InitialDelay)
	b = retry.WithCappedDuration(w.schedule.MaxDelay, b)
	b = retry.WithMaxRetries(w.schedule.StartupProbes-1, b)
	_ = retry.Do(ctx, b, func(ctx context.Context) error {
		if err := w.check(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if ctx.Err() != nil {
		return
	}

	tick := time.NewTicker(w.schedule.PollInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			w.check(ctx)
		}
	}
}

// check runs one probe and records any transition.
func (w *Watcher) check(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, w.schedule.ProbeTimeout)
	err := w.probe(pctx)
	cancel()
	if ctx.Err() != nil {
		return err
	}

	w.mu.Lock()
	was := w.status.Ready
	first := w.status.LastCheck.IsZero()
	w.status.Ready = err == nil
	w.status.LastCheck = time.Now()
	w.status.LastError = ""
	if err != nil {
		w.status.LastError = err.Error()
	}
	w.mu.Unlock()

	switch {
	case err == nil && !was:
		w.logger.Info("service reachable", "service", w.name)
		w.bus.Emit(events.SourceConnwatch, KindServiceUp, map[string]any{"service": w.name})
	case err != nil && (was || first):
		w.logger.Warn("service unreachable", "service", w.name, "error", err)
		w.bus.Emit(events.SourceConnwatch, KindServiceDown, map[string]any{"service": w.name, "error": err.Error()})
	case err != nil:
		w.logger.Debug("service still unreachable", "service", w.name, "error", err)
	}
	return err
}

// Manager owns a set of watchers that share a lifetime.
type Manager struct {
	bus    *events.Bus
	logger *slog.Logger

	mu       sync.RWMutex
	watchers map[string]*Watcher
	cancels  []context.CancelFunc
}

// NewManager returns an empty manager. bus may be nil.
func NewManager(bus *events.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{bus: bus, logger: logger, watchers: make(map[string]*Watcher)}
}

// Watch starts probing a service in the background until ctx is done
// or Stop is called. Watching a name twice replaces nothing and
// returns the existing watcher.
func (m *Manager) Watch(ctx context.Context, name string, probe ProbeFunc, s Schedule) *Watcher {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.watchers[name]; ok {
		return w
	}

	w := &Watcher{
		name:     name,
		probe:    probe,
		schedule: s.withDefaults(),
		bus:      m.bus,
		logger:   m.logger,
		done:     make(chan struct{}),
		status:   ServiceStatus{Name: name},
	}
	wctx, cancel := context.WithCancel(ctx)
	m.watchers[name] = w
	m.cancels = append(m.cancels, cancel)
	go w.run(wctx)
	return w
}

// Status returns every watched service, sorted by name.
func (m *Manager) Status() []ServiceStatus {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ServiceStatus, 0, len(m.watchers))
	for _, w := range m.watchers {
		out = append(out, w.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stop cancels every watcher and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.RLock()
	cancels := m.cancels
	watchers := make([]*Watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		watchers = append(watchers, w)
	}
	m.mu.RUnlock()

	for _, c := range cancels {
		c()
	}
	for _, w := range watchers {
		<-w.done
	}
}
