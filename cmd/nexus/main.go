// Nexus is a tool-using orchestration agent.
//
// It serves a streaming event API consumed by the chat frontend, a plain
// JSON chat endpoint and invocation history, and offers a CLI for
// one-shot questions. Configuration is loaded from a single YAML file
// discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	nexus serve              Start the API server
//	nexus init [dir]         Initialize a working directory with defaults
//	nexus ask <question>     Ask a single question
//	nexus tools              List the tools the planner can call
//	nexus version            Print version and build information
//	nexus -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"

	"github.com/nugget/hive-nexus/internal/agent"
	"github.com/nugget/hive-nexus/internal/api"
	"github.com/nugget/hive-nexus/internal/buildinfo"
	"github.com/nugget/hive-nexus/internal/config"
	"github.com/nugget/hive-nexus/internal/connwatch"
	"github.com/nugget/hive-nexus/internal/events"
	"github.com/nugget/hive-nexus/internal/invocation"
	"github.com/nugget/hive-nexus/internal/llm"
	"github.com/nugget/hive-nexus/internal/mcp"
	"github.com/nugget/hive-nexus/internal/metrics"
	"github.com/nugget/hive-nexus/internal/mqtt"
	"github.com/nugget/hive-nexus/internal/search"
	"github.com/nugget/hive-nexus/internal/tools"
	"github.com/nugget/hive-nexus/internal/tools/abacus"
	"github.com/nugget/hive-nexus/internal/tools/extract"
	"github.com/nugget/hive-nexus/internal/tools/fetch"
	"github.com/nugget/hive-nexus/internal/tools/seeker"
	"github.com/nugget/hive-nexus/internal/tools/steward"
)

// main constructs the OS-level environment (context, stdio, argv) and
// delegates to [run], keeping os.Exit and os.Args out of the
// application logic so tests can drive it.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// options are the parsed global flags.
type options struct {
	configPath string
	outputFmt  string // text (default) or json
	verbose    bool
}

// run is the real entry point. Arguments are parsed by hand: the flag
// package relies on package-level globals, which makes concurrent calls
// from tests impossible.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var opts options
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case command != "":
			// Everything after the command belongs to it.
			cmdArgs = append(cmdArgs, args[i])
		case args[i] == "-config" && i+1 < len(args):
			opts.configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			opts.configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			opts.outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			opts.outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			opts.outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-v" || args[i] == "--verbose":
			opts.verbose = true
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-"):
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if opts.outputFmt == "" {
		opts.outputFmt = "text"
	}
	if opts.outputFmt != "text" && opts.outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", opts.outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, opts)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: nexus ask <question>")
		}
		return runAsk(ctx, stdout, stderr, opts, strings.Join(cmdArgs, " "))
	case "tools":
		return runTools(ctx, stdout, opts)
	case "version":
		return runVersion(stdout, opts.outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Nexus - tool-using orchestration agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: nexus [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  init [dir]   Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  ask          Ask a single question")
	fmt.Fprintln(w, "  tools        List the available tools")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w, "  -v, --verbose     Show loop progress (ask)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// runAsk runs one question through a full loop and prints the answer.
// Invocation records are kept in memory only. Without a config file the
// built-in defaults are used.
func runAsk(ctx context.Context, stdout, stderr io.Writer, opts options, question string) error {
	logger := newLogger(stderr, slog.LevelWarn, "text")

	var cfg *config.Config
	cfgPath := "(built-in defaults)"
	if _, err := config.FindConfig(opts.configPath); err != nil && opts.configPath == "" {
		// No config anywhere: ask still works against a local model.
		cfg = config.Default()
	} else {
		cfg, cfgPath, err = loadConfig(opts.configPath)
		if err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}
	if lvl, _ := config.ParseLogLevel(cfg.LogLevel); lvl < slog.LevelWarn {
		logger = newLogger(stderr, lvl, cfg.LogFormat)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	tiers, err := llm.NewTiers(cfg, logger)
	if err != nil {
		return fmt.Errorf("reasoning engines: %w", err)
	}
	reg, clients, err := buildRegistry(ctx, cfg, tiers, logger)
	if err != nil {
		return err
	}
	defer closeMCP(clients, logger)

	mem := &invocation.Memory{}
	loop, err := agent.NewLoop(agent.Deps{
		Primary:     tiers.Heavyweight,
		Lightweight: tiers.Lightweight,
		Registry:    reg,
		Invocations: mem,
		Logger:      logger,
	}, agent.ConfigFrom(cfg))
	if err != nil {
		return err
	}

	var sink agent.Sink = agent.DiscardSink{}
	if opts.verbose {
		sink = progressSink(stderr)
	}

	res, err := loop.Run(ctx, agent.Request{Input: question}, sink)
	if err != nil && !errors.Is(err, agent.ErrDelivery) {
		return fmt.Errorf("ask: %w", err)
	}

	if opts.outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"result":      res,
			"invocations": mem.Records(),
		})
	}
	fmt.Fprintln(stdout, res.Answer)
	return nil
}

// progressSink prints a one-line trace of each event.
func progressSink(w io.Writer) agent.Sink {
	return agent.FuncSink(func(_ context.Context, e agent.Event) error {
		switch e.Kind {
		case agent.EventStateTransition:
			fmt.Fprintf(w, "[%d] %s -> %s\n", e.Seq, e.From, e.State)
		case agent.EventMessageAppended, agent.EventMessageReplaced:
			verb := "+"
			if e.Kind == agent.EventMessageReplaced {
				verb = "~"
			}
			m := e.Message
			switch {
			case m.Assistant != nil && len(m.Assistant.ToolCalls) > 0:
				for _, c := range m.Assistant.ToolCalls {
					args, _ := json.Marshal(c.Arguments)
					fmt.Fprintf(w, "[%d] %s call %s %s\n", e.Seq, verb, c.Name, args)
				}
			case m.ToolResult != nil:
				status := "ok"
				if m.ToolResult.IsError {
					status = "error"
				}
				fmt.Fprintf(w, "[%d] %s result %s (%s, %d chars)\n", e.Seq, verb, m.ToolResult.ToolCallID, status, len([]rune(m.ToolResult.Content)))
			}
		case agent.EventTerminalError:
			fmt.Fprintf(w, "[%d] error: %s\n", e.Seq, e.Error)
		}
		return nil
	})
}

// runTools prints the tool catalog the planner sees.
func runTools(ctx context.Context, stdout io.Writer, opts options) error {
	logger := newLogger(io.Discard, slog.LevelInfo, "text")
	cfg, _, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	tiers, err := llm.NewTiers(cfg, logger)
	if err != nil {
		return fmt.Errorf("reasoning engines: %w", err)
	}
	reg, clients, err := buildRegistry(ctx, cfg, tiers, logger)
	if err != nil {
		return err
	}
	defer closeMCP(clients, logger)

	catalog := reg.Catalog()
	if opts.outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(catalog)
	}
	for _, e := range catalog {
		fmt.Fprintf(stdout, "%-10s %s\n", e.Name, e.Description)
	}
	return nil
}

// runServe is the primary operating mode: it opens the invocation
// store, builds the engines, tools and loop, starts the API server and
// the optional MQTT mirror, and blocks until SIGINT or SIGTERM.
func runServe(ctx context.Context, stdout io.Writer, opts options) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Nexus", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	// Reconfigure now that the desired level and format are known.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger = newLogger(stdout, level, cfg.LogFormat)
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"app_env", cfg.AppEnv,
		"heavyweight", cfg.Models.Heavyweight.Model,
		"lightweight_tier", cfg.Models.DefaultLightweightTier,
		"max_turns", cfg.Loop.MaxTurns,
		"max_text_length", cfg.Reflector.MaxTextLength,
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	store, err := invocation.NewStore(filepath.Join(cfg.DataDir, "invocations.db"), logger.With("component", "invocations"))
	if err != nil {
		return err
	}
	defer store.Close()

	bus := events.New()
	m := metrics.New()

	sinks := invocation.MultiSink{store}
	var mirror *mqtt.Mirror
	if cfg.MQTT.Configured() {
		instanceID, err := mqtt.InstanceID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("mqtt instance id: %w", err)
		}
		mirror = mqtt.NewMirror(cfg.MQTT, instanceID, logger.With("component", "mqtt"))
		sinks = append(sinks, mirror)
	}
	async := invocation.NewAsyncSink(sinks, 1024, logger)

	tiers, err := llm.NewTiers(cfg, logger)
	if err != nil {
		return fmt.Errorf("reasoning engines: %w", err)
	}

	reg, clients, err := buildRegistry(ctx, cfg, tiers, logger)
	if err != nil {
		return err
	}
	defer closeMCP(clients, logger)

	health := watchDependencies(ctx, tiers, clients, bus, logger)
	defer health.Stop()

	loop, err := agent.NewLoop(agent.Deps{
		Primary:     tiers.Heavyweight,
		Lightweight: tiers.Lightweight,
		Registry:    reg,
		Invocations: async,
		Bus:         bus,
		Metrics:     m,
		Logger:      logger,
	}, agent.ConfigFrom(cfg))
	if err != nil {
		return err
	}

	srv := api.NewServer(api.Options{
		Address:     cfg.Listen.Address,
		Port:        cfg.Listen.Port,
		Development: cfg.IsDevelopment(),
		CORSOrigins: cfg.CORSOrigins,
		Loop:        loop,
		Registry:    reg,
		History:     store,
		Health:      health,
		Bus:         bus,
		Metrics:     m,
		Logger:      logger,
	})

	var wg sync.WaitGroup
	if mirror != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mirror.Start(ctx, bus); err != nil {
				logger.Error("mqtt mirror stopped", "error", err)
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start(ctx) }()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api shutdown incomplete", "error", err)
	}
	if err := async.Close(shutdownCtx); err != nil {
		logger.Warn("invocation log not fully flushed", "error", err)
	}
	if mirror != nil {
		if err := mirror.Stop(shutdownCtx); err != nil {
			logger.Debug("mqtt disconnect", "error", err)
		}
	}
	stop()
	wg.Wait()

	logger.Info("Nexus stopped", "uptime", buildinfo.Uptime().Round(time.Second))
	return nil
}

// watchDependencies starts health probes for both engine tiers and
// every bridged MCP server.
func watchDependencies(ctx context.Context, tiers *llm.Tiers, clients []*mcp.Client, bus *events.Bus, logger *slog.Logger) *connwatch.Manager {
	m := connwatch.NewManager(bus, logger.With("component", "connwatch"))
	m.Watch(ctx, config.TierHeavyweight, tiers.Heavyweight.Ping, connwatch.Schedule{})
	m.Watch(ctx, tiers.LightweightTier, tiers.Lightweight.Ping, connwatch.Schedule{})
	for _, c := range clients {
		m.Watch(ctx, "mcp:"+c.Name(), c.Ping, connwatch.Schedule{})
	}
	return m
}

// buildRegistry registers every tool the configuration enables.
// abacus, get and fetch are always available; steward needs a
// workspace and seeker a search provider. Tools from configured MCP
// servers are bridged last; a server that cannot be reached is logged
// and skipped. The caller closes the returned MCP clients.
func buildRegistry(ctx context.Context, cfg *config.Config, tiers *llm.Tiers, logger *slog.Logger) (*tools.Registry, []*mcp.Client, error) {
	reg := tools.NewRegistry()

	a, err := abacus.New()
	if err != nil {
		return nil, nil, err
	}
	list := []tools.Tool{a, extract.New(tiers.Lightweight), fetch.New()}

	if cfg.Workspace.Path != "" {
		s, err := steward.New(cfg.Workspace.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("steward: %w", err)
		}
		list = append(list, s)
	} else {
		logger.Info("workspace not configured, steward disabled")
	}

	mgr := search.NewManagerFromConfig(cfg.Search)
	if mgr.Configured() {
		list = append(list, seeker.New(mgr, tiers.Lightweight, logger.With("component", "seeker")))
	} else {
		logger.Info("no search provider configured, seeker disabled")
	}

	for _, t := range list {
		if err := reg.Register(t); err != nil {
			return nil, nil, err
		}
	}

	var clients []*mcp.Client
	for _, srv := range cfg.MCP.Servers {
		octx, cancel := context.WithTimeout(ctx, 30*time.Second)
		c, err := mcp.Open(octx, srv, logger.With("component", "mcp"))
		if err == nil {
			_, err = mcp.Bridge(octx, c, srv, reg, logger.With("component", "mcp"))
			if err != nil {
				c.Close()
			}
		}
		cancel()
		if err != nil {
			logger.Warn("mcp server unavailable, its tools are disabled", "server", srv.Name, "error", err)
			continue
		}
		clients = append(clients, c)
	}

	logger.Info("tools registered", "tools", reg.Names())
	return reg, clients, nil
}

func closeMCP(clients []*mcp.Client, logger *slog.Logger) {
	for _, c := range clients {
		if err := c.Close(); err != nil {
			logger.Debug("mcp close", "server", c.Name(), "error", err)
		}
	}
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "color":
		handler = tint.NewHandler(w, &tint.Options{
			Level:       level,
			TimeFormat:  time.TimeOnly,
			ReplaceAttr: config.ReplaceLogLevelNames,
			NoColor:     !isTerminal(w),
		})
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// isTerminal reports whether w is a terminal. Color output falls back
// to plain text when redirected.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// loadConfig loads .env files, then locates and parses the YAML
// configuration.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	config.LoadDotEnv(cfgPath)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}
