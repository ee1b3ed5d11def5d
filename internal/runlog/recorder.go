package runlog

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mattjoyce/testrelay/internal/log"
	"github.com/mattjoyce/testrelay/internal/report"
)

// Recorder is a report.Reporter that writes each finished test to a Store.
type Recorder struct {
	ctx    context.Context
	store  *Store
	logger *slog.Logger

	mu       sync.Mutex
	failures map[string]error
	err      error
}

// NewRecorder returns a recorder writing with ctx.
func NewRecorder(ctx context.Context, store *Store) *Recorder {
	return &Recorder{
		ctx:      ctx,
		store:    store,
		logger:   log.WithComponent("runlog"),
		failures: make(map[string]error),
	}
}

// Notify keeps the failure cause until the test finishes, then records it.
func (r *Recorder) Notify(n report.Notification) {
	key := n.RunID + "/" + n.Test.String()

	switch n.Phase {
	case report.PhaseFailed:
		r.mu.Lock()
		if _, seen := r.failures[key]; !seen {
			r.failures[key] = n.Err
		}
		r.mu.Unlock()

	case report.PhaseFinished:
		r.mu.Lock()
		failure := r.failures[key]
		delete(r.failures, key)
		r.mu.Unlock()

		if _, err := r.store.RecordResult(r.ctx, ResultFrom(n, failure)); err != nil {
			r.logger.Error("failed to record result", "run_id", n.RunID, "test", n.Test.String(), "error", err)
			r.mu.Lock()
			if r.err == nil {
				r.err = err
			}
			r.mu.Unlock()
		}
	}
}

// Err returns the first write error.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
