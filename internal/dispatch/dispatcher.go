package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/testrelay/internal/balancer"
	"github.com/mattjoyce/testrelay/internal/log"
	"github.com/mattjoyce/testrelay/internal/mux"
	"github.com/mattjoyce/testrelay/internal/protocol"
	"github.com/mattjoyce/testrelay/internal/report"
	"github.com/mattjoyce/testrelay/internal/suite"
)

const (
	// maxErrorBodyBytes caps how much of a non-200 response body is kept.
	maxErrorBodyBytes = 64 * 1024

	// connectTimeout bounds the TCP connect to a worker.
	connectTimeout = 10 * time.Second
)

// Fallback policies for a pool with no live endpoints.
const (
	FallbackLocal = "local"
	FallbackFail  = "fail"
)

// Config holds dispatcher settings.
type Config struct {
	// Timeout bounds the whole batch.
	Timeout time.Duration
	// ReadTimeout bounds the silence on any single worker connection.
	ReadTimeout time.Duration
	// Runner is the runner tag sent to workers and used for local fallback.
	Runner string
	// Fallback is FallbackLocal or FallbackFail.
	Fallback string
}

// LocalExecutor runs a test in-process. *suite.Registry implements it.
type LocalExecutor interface {
	Execute(ctx context.Context, req protocol.Request, out mux.Output) (*protocol.Failure, error)
}

// Dispatcher runs batches of tests against an endpoint pool.
type Dispatcher struct {
	cfg      Config
	pool     *balancer.Pool
	local    LocalExecutor
	console  *mux.Console
	reporter report.Reporter
	client   *http.Client
	logger   *slog.Logger
}

// New creates a Dispatcher. A nil console discards forwarded output and a
// nil reporter discards notifications.
func New(cfg Config, pool *balancer.Pool, local LocalExecutor, console *mux.Console, reporter report.Reporter) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 120 * time.Second
	}
	if cfg.Fallback == "" {
		cfg.Fallback = FallbackLocal
	}
	if console == nil {
		console = mux.NewConsole(nil, nil)
	}
	if reporter == nil {
		reporter = report.Nop
	}
	return &Dispatcher{
		cfg:      cfg,
		pool:     pool,
		local:    local,
		console:  console,
		reporter: reporter,
		client:   newClient(connectTimeout, cfg.ReadTimeout),
		logger:   log.WithComponent("dispatch"),
	}
}

// Run dispatches ids under a fresh run ID.
func (d *Dispatcher) Run(ctx context.Context, ids []suite.TestID) (*Summary, error) {
	return d.RunWithID(ctx, uuid.NewString(), ids)
}

// RunWithID dispatches ids and blocks until every test has finished or the
// overall timeout has cancelled the rest. The summary is returned even when
// the error is non-nil, except for ErrNoLiveEndpoints.
func (d *Dispatcher) RunWithID(ctx context.Context, runID string, ids []suite.TestID) (*Summary, error) {
	logger := d.logger.With("run_id", runID)
	state := newState(len(ids))

	local := d.pool == nil || !d.pool.Live()
	if local && d.cfg.Fallback == FallbackFail {
		logger.Error("no live endpoints and fallback disabled")
		return nil, ErrNoLiveEndpoints
	}
	if local && d.local == nil {
		return nil, fmt.Errorf("%w: no local executor configured", ErrNoLiveEndpoints)
	}

	runCtx, cancel := context.WithTimeoutCause(ctx, d.cfg.Timeout, ErrRunTimeout)
	defer cancel()
	stopTimeoutLog := context.AfterFunc(runCtx, func() {
		if errors.Is(context.Cause(runCtx), ErrRunTimeout) {
			logger.Warn("run timeout elapsed, cancelling remaining tests",
				"timeout", d.cfg.Timeout,
				"in_flight", state.Running(),
				"unfinished", state.Unfinished(),
			)
		}
	})

	start := time.Now()
	if local {
		logger.Warn("no live endpoints, running locally", "tests", len(ids))
		for _, id := range ids {
			d.runTest(runCtx, runID, id, state, d.executeLocal)
		}
	} else {
		logger.Info("dispatching run", "tests", len(ids), "endpoints", d.pool.Len())
		var g errgroup.Group
		g.SetLimit(d.pool.Len())
		for _, id := range ids {
			g.Go(func() error {
				d.runTest(runCtx, runID, id, state, d.executeRemote)
				return nil
			})
		}
		_ = g.Wait()
	}

	stopTimeoutLog()

	summary := state.summary(runID, local)
	logger.Info("run complete",
		"duration_ms", time.Since(start).Milliseconds(),
		"passed", summary.Passed,
		"failed", summary.Failed,
		"timed_out", summary.TimedOut,
	)

	if err := runCtx.Err(); err != nil {
		if cause := context.Cause(runCtx); errors.Is(cause, ErrRunTimeout) {
			return summary, fmt.Errorf("%w after %s", ErrRunTimeout, d.cfg.Timeout)
		}
		return summary, err
	}
	return summary, nil
}

// executeFunc runs one test and returns the endpoint that served it ("" for
// local) and a non-nil error when the test did not pass.
type executeFunc func(ctx context.Context, id suite.TestID) (endpoint string, err error)

// runTest emits started, then failed if applicable, then exactly one finished.
func (d *Dispatcher) runTest(ctx context.Context, runID string, id suite.TestID, state *State, exec executeFunc) {
	start := time.Now()
	var endpoint string
	status := report.StatusFailed

	state.start()
	d.reporter.Notify(report.Notification{RunID: runID, Test: id, Phase: report.PhaseStarted, At: start})

	defer func() {
		if r := recover(); r != nil {
			status = d.fail(ctx, runID, id, endpoint, fmt.Errorf("dispatch panic: %v", r))
		}
		state.finish(status)
		d.reporter.Notify(report.Notification{
			RunID:    runID,
			Test:     id,
			Phase:    report.PhaseFinished,
			Status:   status,
			Endpoint: endpoint,
			At:       time.Now(),
			Duration: time.Since(start),
		})
	}()

	if ctx.Err() != nil {
		status = d.fail(ctx, runID, id, endpoint, fmt.Errorf("not started: %w", ctx.Err()))
		return
	}

	var err error
	endpoint, err = exec(ctx, id)
	if err != nil {
		status = d.fail(ctx, runID, id, endpoint, err)
		return
	}
	status = report.StatusPassed
}

// fail emits the failed notification and returns the final status. Errors
// caused by the overall timeout are wrapped with ErrRunTimeout.
func (d *Dispatcher) fail(ctx context.Context, runID string, id suite.TestID, endpoint string, err error) report.Status {
	status := report.StatusFailed
	if ctx.Err() != nil && errors.Is(context.Cause(ctx), ErrRunTimeout) {
		status = report.StatusTimedOut
		if !errors.Is(err, ErrRunTimeout) {
			err = fmt.Errorf("%w: %w", ErrRunTimeout, err)
		}
	}

	logger := log.WithTest(id.String()).With("run_id", runID, "endpoint", endpoint)
	var failure *protocol.Failure
	if errors.As(err, &failure) {
		logger.Info("test failed", "failure", failure.Headline)
	} else {
		logger.Warn("test errored", "error", err)
	}

	d.reporter.Notify(report.Notification{
		RunID:    runID,
		Test:     id,
		Phase:    report.PhaseFailed,
		Err:      err,
		Endpoint: endpoint,
		At:       time.Now(),
	})
	return status
}

func (d *Dispatcher) request(id suite.TestID) protocol.Request {
	return protocol.Request{Suite: id.Suite, Method: id.Method, Runner: d.cfg.Runner}
}

// executeRemote runs id on the next endpoint in rotation.
func (d *Dispatcher) executeRemote(ctx context.Context, id suite.TestID) (string, error) {
	ep := d.pool.Next()
	endpoint := ep.String()
	logger := log.WithTest(id.String()).With("endpoint", endpoint)

	outcome, err := d.post(ctx, ep, d.request(id), logger)
	if outcome.Violations > 0 {
		logger.Warn("worker sent malformed lines", "count", outcome.Violations)
	}
	if err != nil {
		return endpoint, &TransportError{Endpoint: endpoint, Test: id, Err: err}
	}
	if outcome.Failure != nil {
		return endpoint, outcome.Failure
	}
	return endpoint, nil
}

func (d *Dispatcher) post(ctx context.Context, ep balancer.Endpoint, req protocol.Request, logger *slog.Logger) (protocol.Outcome, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL(ep.URL), nil)
	if err != nil {
		return protocol.Outcome{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Close = true
	httpReq.Header.Set("Connection", "close")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return protocol.Outcome{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return protocol.Outcome{}, fmt.Errorf("worker returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	return protocol.Decode(resp.Body, func(o protocol.Output) {
		d.console.Println(o.Channel, o.Text)
	}, logger)
}

// executeLocal runs id in-process with output going straight to the console.
func (d *Dispatcher) executeLocal(ctx context.Context, id suite.TestID) (string, error) {
	failure, err := d.local.Execute(ctx, d.request(id), d.console.Output())
	if err != nil {
		if errors.Is(err, suite.ErrNoTestsRemain) {
			return "", &protocol.Failure{Headline: protocol.NoTestsRemaining}
		}
		return "", err
	}
	if failure != nil {
		return "", failure
	}
	return "", nil
}
