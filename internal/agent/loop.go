// Package agent runs the orchestration loop: Planner, Router, then
// Dispatch and Reflect until the reasoning engine answers without
// calling a tool.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/nugget/hive-nexus/internal/config"
	"github.com/nugget/hive-nexus/internal/conversation"
	"github.com/nugget/hive-nexus/internal/events"
	"github.com/nugget/hive-nexus/internal/invocation"
	"github.com/nugget/hive-nexus/internal/llm"
	"github.com/nugget/hive-nexus/internal/metrics"
	"github.com/nugget/hive-nexus/internal/prompts"
	"github.com/nugget/hive-nexus/internal/tools"
)

const levelTrace = config.LevelTrace

// Deps are the collaborators a Loop is built from. Primary and Registry
// are required; the rest are optional.
type Deps struct {
	Primary     llm.Client
	Lightweight llm.Client // condensation; defaults to Primary
	Registry    *tools.Registry
	Invocations invocation.Sink
	Bus         *events.Bus
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Config bounds each run. Zero fields take the defaults from
// config.ApplyDefaults.
type Config struct {
	MaxTurns           int
	MaxDuration        time.Duration // 0 means no wall-clock budget
	MaxConcurrentTools int
	PlannerTimeout     time.Duration
	ToolTimeout        time.Duration
	ReflectionTimeout  time.Duration
	MaxContentLength   int
}

// ConfigFrom extracts the loop settings from the application config.
func ConfigFrom(c *config.Config) Config {
	return Config{
		MaxTurns:           c.Loop.MaxTurns,
		MaxDuration:        c.Loop.MaxDuration,
		MaxConcurrentTools: c.Loop.MaxConcurrentTools,
		PlannerTimeout:     c.Loop.PlannerTimeout,
		ToolTimeout:        c.Loop.ToolTimeout,
		ReflectionTimeout:  c.Loop.ReflectionTimeout,
		MaxContentLength:   c.Reflector.MaxTextLength,
	}
}

func (c Config) withDefaults() Config {
	d := config.Default()
	def := ConfigFrom(d)
	if c.MaxTurns <= 0 {
		c.MaxTurns = def.MaxTurns
	}
	if c.MaxConcurrentTools <= 0 {
		c.MaxConcurrentTools = def.MaxConcurrentTools
	}
	if c.PlannerTimeout <= 0 {
		c.PlannerTimeout = def.PlannerTimeout
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = def.ToolTimeout
	}
	if c.ReflectionTimeout <= 0 {
		c.ReflectionTimeout = def.ReflectionTimeout
	}
	if c.MaxContentLength <= 0 {
		c.MaxContentLength = def.MaxContentLength
	}
	return c
}

// Request is one user instruction.
type Request struct {
	Input string
	// SessionID identifies the run in events and invocation records. A
	// UUIDv7 is generated when empty.
	SessionID string
}

// Result is what a run produced. Run returns a Result even on error, so
// callers can inspect the partial conversation.
type Result struct {
	SessionID string                 `json:"session_id"`
	Answer    string                 `json:"answer"`
	Messages  []conversation.Message `json:"messages"`
	Turns     int                    `json:"turns"`
	Elapsed   time.Duration          `json:"elapsed"`
}

// Loop runs requests. It is safe for concurrent use; each Run owns its
// own conversation and shares only the read-only registry and the
// engine clients.
type Loop struct {
	deps     Deps
	cfg      Config
	system   string
	toolDefs []llm.ToolDef
	logger   *slog.Logger
}

// NewLoop builds a Loop. The registry is frozen: tools registered after
// this point would be invisible to the planner's catalog.
func NewLoop(deps Deps, cfg Config) (*Loop, error) {
	if deps.Primary == nil {
		return nil, errors.New("agent: primary reasoning engine is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("agent: tool registry is required")
	}
	if deps.Invocations == nil {
		deps.Invocations = invocation.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	deps.Registry.Freeze()

	catalog := deps.Registry.Catalog()
	lines := make([]prompts.ToolLine, len(catalog))
	defs := make([]llm.ToolDef, len(catalog))
	for i, e := range catalog {
		lines[i] = prompts.ToolLine{Name: e.Name, Description: e.Description}
		defs[i] = llm.ToolDef{Name: e.Name, Description: e.Description, Parameters: e.Parameters}
	}

	return &Loop{
		deps:     deps,
		cfg:      cfg.withDefaults(),
		system:   prompts.NexusSystemPrompt(lines),
		toolDefs: defs,
		logger:   deps.Logger.With("component", "agent"),
	}, nil
}

// Config returns the effective run bounds.
func (l *Loop) Config() Config { return l.cfg }

func (l *Loop) lightweight() llm.Client {
	if l.deps.Lightweight != nil {
		return l.deps.Lightweight
	}
	return l.deps.Primary
}

// run is the state of one Run call.
type run struct {
	loop    *Loop
	cfg     Config
	session string
	logger  *slog.Logger

	// callerCtx governs event delivery; stage work runs under a child
	// carrying the wall-clock budget.
	callerCtx context.Context

	state   *conversation.State
	machine *fsm.FSM
	em      *emitter
	turns   int
}

// Run drives one request to a final answer. Every event goes to sink
// as it happens; the last one is final_answer or terminal_error unless
// ctx was cancelled, in which case nothing more is sent and ctx.Err()
// is returned.
func (l *Loop) Run(ctx context.Context, req Request, sink Sink) (*Result, error) {
	if sink == nil {
		sink = DiscardSink{}
	}
	session := req.SessionID
	if session == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("generate session ID: %w", err)
		}
		session = id.String()
	}
	logger := l.logger.With("session_id", session)

	r := &run{
		loop:      l,
		cfg:       l.cfg,
		session:   session,
		logger:    logger,
		callerCtx: ctx,
		state:     conversation.New(req.Input),
		machine:   newMachine(),
		em: &emitter{
			sink:    sink,
			session: session,
			bus:     l.deps.Bus,
			metrics: l.deps.Metrics,
			logger:  logger,
		},
	}

	work := ctx
	if l.cfg.MaxDuration > 0 {
		var cancel context.CancelFunc
		work, cancel = context.WithTimeoutCause(ctx, l.cfg.MaxDuration, ErrDeadline)
		defer cancel()
	}

	start := time.Now()
	l.deps.Metrics.LoopStarted()
	l.deps.Bus.Emit(events.SourceLoop, events.KindLoopStart, map[string]any{
		"session_id": session, "input_len": len(req.Input),
	})
	logger.Info("loop started", "input_len", len(req.Input), "tools", len(l.toolDefs))

	r.em.appended(ctx, 0, r.state.At(0))

	answer, err := r.drive(work)

	res := &Result{
		SessionID: session,
		Answer:    answer,
		Messages:  r.state.Messages(),
		Turns:     r.turns,
		Elapsed:   time.Since(start),
	}
	if err != nil {
		return res, r.fail(work, err, res)
	}

	l.deps.Metrics.LoopFinished(metrics.OutcomeAnswered, r.turns)
	l.deps.Bus.Emit(events.SourceLoop, events.KindLoopComplete, map[string]any{
		"session_id": session, "turns": r.turns, "elapsed_ms": res.Elapsed.Milliseconds(),
	})
	logger.Info("loop completed", "turns", r.turns, "messages", len(res.Messages), "elapsed", res.Elapsed.Round(time.Millisecond))

	r.em.finish(ctx, Event{Kind: EventFinalAnswer, State: PhaseTerminated, Answer: answer})
	if r.em.failed != nil {
		return res, fmt.Errorf("%w: %v", ErrDelivery, r.em.failed)
	}
	return res, nil
}

// drive runs the cycle until the router terminates it or a stage
// fails.
func (r *run) drive(ctx context.Context) (string, error) {
	var batch []int
	for {
		switch r.phase() {
		case PhasePlanning:
			if err := r.plan(ctx); err != nil {
				return "", err
			}
			latest := r.state.Latest()
			if Route(latest) == Terminate {
				if err := r.transition(transTerminate); err != nil {
					return "", err
				}
				return latest.Assistant.Text, nil
			}
			if err := r.transition(transDispatch); err != nil {
				return "", err
			}

		case PhaseDispatching:
			calls := r.state.Latest().Assistant.ToolCalls
			var err error
			batch, err = r.dispatch(ctx, calls)
			if err != nil {
				return "", err
			}
			if err := r.transition(transReflect); err != nil {
				return "", err
			}

		case PhaseReflecting:
			if err := r.reflect(ctx, batch); err != nil {
				return "", err
			}
			batch = nil
			if err := r.transition(transPlan); err != nil {
				return "", err
			}

		default:
			return "", fmt.Errorf("loop in unexpected phase %q", r.phase())
		}
	}
}

// fail moves the machine to terminated and reports err. Caller
// cancellation suppresses the terminal event and yields ctx.Err().
func (r *run) fail(work context.Context, err error, res *Result) error {
	l := r.loop
	caller := r.callerCtx

	if caller.Err() == nil && errors.Is(context.Cause(work), ErrDeadline) {
		err = fmt.Errorf("%w after %s (%d planner calls): %v", ErrDeadline, r.cfg.MaxDuration, r.turns, err)
	}

	if r.phase() != PhaseTerminated {
		if terr := r.transition(transFail); terr != nil {
			r.logger.Error("fail transition rejected", "error", terr)
		}
	}

	outcome := metrics.OutcomeError
	switch {
	case caller.Err() != nil:
		outcome = metrics.OutcomeCancelled
	case errors.Is(err, ErrTurnLimit):
		outcome = metrics.OutcomeTurnLimit
	}
	l.deps.Metrics.LoopFinished(outcome, r.turns)

	if caller.Err() != nil {
		r.logger.Info("loop cancelled", "turns", r.turns, "elapsed", res.Elapsed.Round(time.Millisecond))
		return caller.Err()
	}

	l.deps.Bus.Emit(events.SourceLoop, events.KindLoopError, map[string]any{
		"session_id": r.session, "error": err.Error(),
	})
	r.logger.Error("loop failed", "turns", r.turns, "error", err)
	r.em.finish(caller, Event{Kind: EventTerminalError, State: PhaseTerminated, Error: err.Error()})
	return err
}
