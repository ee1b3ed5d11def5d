package dispatch

import (
	"sync/atomic"

	"github.com/mattjoyce/testrelay/internal/report"
)

// State tracks one run's progress. Counters are updated by concurrent
// dispatch workers.
type State struct {
	total    int64
	started  atomic.Int64
	finished atomic.Int64
	passed   atomic.Int64
	failed   atomic.Int64
	timedOut atomic.Int64
}

func newState(total int) *State {
	return &State{total: int64(total)}
}

func (s *State) start() { s.started.Add(1) }

func (s *State) finish(status report.Status) {
	switch status {
	case report.StatusPassed:
		s.passed.Add(1)
	case report.StatusTimedOut:
		s.timedOut.Add(1)
	default:
		s.failed.Add(1)
	}
	s.finished.Add(1)
}

// Unfinished returns the number of tests without a finished notification.
func (s *State) Unfinished() int64 { return s.total - s.finished.Load() }

// Running returns the number of tests started but not yet finished.
func (s *State) Running() int64 { return s.started.Load() - s.finished.Load() }

// Summary is the outcome of one run.
type Summary struct {
	RunID    string
	Total    int
	Passed   int
	Failed   int
	TimedOut int
	// Local is set when the run used in-process fallback execution.
	Local bool
}

// OK reports whether every test passed.
func (s *Summary) OK() bool {
	return s.Passed == s.Total
}

func (s *State) summary(runID string, local bool) *Summary {
	return &Summary{
		RunID:    runID,
		Total:    int(s.total),
		Passed:   int(s.passed.Load()),
		Failed:   int(s.failed.Load()),
		TimedOut: int(s.timedOut.Load()),
		Local:    local,
	}
}
