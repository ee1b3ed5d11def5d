package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/mattjoyce/testrelay/internal/balancer"
	"github.com/mattjoyce/testrelay/internal/config"
	"github.com/mattjoyce/testrelay/internal/dispatch"
	"github.com/mattjoyce/testrelay/internal/events"
	"github.com/mattjoyce/testrelay/internal/log"
	"github.com/mattjoyce/testrelay/internal/mux"
	"github.com/mattjoyce/testrelay/internal/report"
	"github.com/mattjoyce/testrelay/internal/runlog"
	"github.com/mattjoyce/testrelay/internal/storage"
	"github.com/mattjoyce/testrelay/internal/suite"
	"github.com/mattjoyce/testrelay/internal/tui/watch"
)

type runOptions struct {
	configPath  string
	endpoints   string
	timeout     time.Duration
	readTimeout time.Duration
	runner      string
	fallback    string
	dbPath      string
	noHistory   bool
	watch       bool
	logLevel    string
	logFormat   string
}

// runIO is where a run writes. Tests swap it out.
type runIO struct {
	stdout io.Writer
	stderr io.Writer
}

var runOutput = runIO{stdout: os.Stdout, stderr: os.Stderr}

func runRun(args []string) int {
	var opts runOptions

	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	fs.StringVar(&opts.endpoints, "endpoints", "", "Comma-separated worker URLs (overrides dispatch.endpoints)")
	fs.DurationVar(&opts.timeout, "timeout", 0, "Overall run timeout")
	fs.DurationVar(&opts.readTimeout, "read-timeout", 0, "Per-read timeout on worker responses")
	fs.StringVar(&opts.runner, "runner", "", "Runner tag: sequential, method or custom")
	fs.StringVar(&opts.fallback, "fallback", "", "When no worker is live: local or fail")
	fs.StringVar(&opts.dbPath, "db", "", "Run history database (overrides state.path)")
	fs.BoolVar(&opts.noHistory, "no-history", false, "Do not record this run")
	fs.BoolVar(&opts.watch, "watch", false, "Show live progress instead of test output")
	addLogFlags(fs, &opts.logLevel, &opts.logFormat)
	if code, ok := parseFlags(fs, args); !ok {
		return code
	}

	cfg, err := loadConfig(opts.configPath, opts.logLevel, opts.logFormat)
	if err != nil {
		fmt.Fprintf(runOutput.stderr, "Failed to load config: %v\n", err)
		return 1
	}
	applyRunOverrides(cfg, fs, opts)
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(runOutput.stderr, "Invalid configuration: %v\n", err)
		return 1
	}
	setupLogging(cfg)

	registry := newRegistry()
	ids, err := resolveTests(registry, fs.Args())
	if err != nil {
		fmt.Fprintf(runOutput.stderr, "Cannot resolve tests: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := dispatchRun(ctx, cfg, registry, ids, opts)
	if err != nil && summary == nil {
		fmt.Fprintf(runOutput.stderr, "Run failed: %v\n", err)
		return 1
	}

	printSummary(runOutput.stderr, summary, err)
	if err != nil || !summary.OK() {
		return 1
	}
	return 0
}

// applyRunOverrides copies explicitly set flags over the loaded config.
func applyRunOverrides(cfg *config.Config, fs *flag.FlagSet, opts runOptions) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "endpoints":
			cfg.Dispatch.Endpoints = opts.endpoints
		case "timeout":
			cfg.Dispatch.Timeout = opts.timeout
		case "read-timeout":
			cfg.Dispatch.ReadTimeout = opts.readTimeout
		case "runner":
			cfg.Dispatch.Runner = opts.runner
		case "fallback":
			cfg.Dispatch.Fallback = opts.fallback
		case "db":
			cfg.State.Path = opts.dbPath
		}
	})
	if opts.noHistory {
		cfg.State.Path = ""
	}
}

// dispatchRun wires the pool, history and reporters, then runs ids.
func dispatchRun(ctx context.Context, cfg *config.Config, registry *suite.Registry, ids []suite.TestID, opts runOptions) (*dispatch.Summary, error) {
	logger := log.WithComponent("main")

	endpoints, err := cfg.Endpoints()
	if err != nil {
		return nil, err
	}
	pool := balancer.NewPool(ctx, endpoints, balancer.DialProber{Timeout: cfg.Dispatch.ProbeTimeout}, log.WithComponent("balancer"))

	// History writes outlive a cancelled run so interrupted runs are recorded.
	historyCtx := context.WithoutCancel(ctx)
	runID := uuid.NewString()
	var store *runlog.Store
	var recorder *runlog.Recorder
	if cfg.State.Path != "" {
		db, err := storage.OpenSQLite(historyCtx, cfg.State.Path)
		if err != nil {
			return nil, fmt.Errorf("open run history: %w", err)
		}
		defer db.Close()

		store = runlog.New(db)
		if _, err := store.BeginRun(historyCtx, runlog.BeginRequest{
			ID:        runID,
			Total:     len(ids),
			Endpoints: endpointStrings(pool.Configured()),
			Runner:    cfg.Dispatch.Runner,
		}); err != nil {
			return nil, err
		}
		recorder = runlog.NewRecorder(historyCtx, store)
	}

	reporters := report.Multi{}
	if recorder != nil {
		reporters = append(reporters, recorder)
	}

	var console *mux.Console
	var hub *events.Hub
	if opts.watch {
		console = mux.NewConsole(io.Discard, io.Discard)
		// Each test emits at most started, failed and finished; the ring
		// holds the whole run so the view can replay what it missed.
		hub = events.NewHub(3*len(ids) + 16)
		reporters = append(reporters, hub)
	} else {
		console = mux.NewConsole(runOutput.stdout, runOutput.stderr)
		reporters = append(reporters, report.NewText(runOutput.stderr))
	}

	d := dispatch.New(cfg.DispatcherConfig(), pool, registry, console, reporters)

	var summary *dispatch.Summary
	if opts.watch {
		summary, err = watchRun(ctx, d, hub, runID, ids)
	} else {
		summary, err = d.RunWithID(ctx, runID, ids)
	}

	if store != nil {
		totals := runlog.Totals{}
		if summary != nil {
			totals = runlog.Totals{Passed: summary.Passed, Failed: summary.Failed, TimedOut: summary.TimedOut, Local: summary.Local}
		}
		if ferr := store.FinishRun(historyCtx, runID, totals); ferr != nil {
			logger.Error("failed to finish run record", "run_id", runID, "error", ferr)
		}
		if rerr := recorder.Err(); rerr != nil {
			logger.Warn("run history is incomplete", "run_id", runID, "error", rerr)
		}
	}
	return summary, err
}

// watchRun runs the dispatcher under the watch TUI. Quitting the TUI cancels
// the run.
func watchRun(ctx context.Context, d *dispatch.Dispatcher, hub *events.Hub, runID string, ids []suite.TestID) (*dispatch.Summary, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub, unsubscribe := hub.Subscribe()
	p := tea.NewProgram(watch.New(runID, ids, sub, cancel).WithReplay(hub), tea.WithContext(ctx), tea.WithOutput(runOutput.stdout))

	var summary *dispatch.Summary
	var runErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		summary, runErr = d.RunWithID(runCtx, runID, ids)
		unsubscribe()
		p.Send(watch.DoneMsg{Summary: summary, Err: runErr})
	}()

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		log.WithComponent("watch").Warn("watch view exited", "error", err)
	}
	cancel()
	<-done
	return summary, runErr
}

func endpointStrings(eps []balancer.Endpoint) []string {
	out := make([]string, 0, len(eps))
	for _, ep := range eps {
		out = append(out, ep.String())
	}
	return out
}

func printSummary(w io.Writer, s *dispatch.Summary, err error) {
	where := "remote"
	if s.Local {
		where = "local"
	}
	result := "ok"
	if err != nil || !s.OK() {
		result = "FAIL"
	}
	fmt.Fprintf(w, "%s\t%d passed, %d failed, %d timed out of %d (%s, run %s)\n",
		result, s.Passed, s.Failed, s.TimedOut, s.Total, where, s.RunID)
	if err != nil {
		fmt.Fprintf(w, "error: %v\n", err)
	}
}
