// Package report defines the lifecycle notifications a dispatched run emits
// for each test, and a few reporters that consume them.
package report

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mattjoyce/testrelay/internal/suite"
)

//go:generate mockgen -destination=mocks/mock_reporter.go -package=mocks github.com/mattjoyce/testrelay/internal/report Reporter

// Phase is a step in one test's lifecycle.
type Phase string

const (
	PhaseStarted  Phase = "started"
	PhaseFailed   Phase = "failed"
	PhaseFinished Phase = "finished"
)

// Status is the final result of one test.
type Status string

const (
	StatusPassed   Status = "passed"
	StatusFailed   Status = "failed"
	StatusTimedOut Status = "timed_out"
)

// Notification is one lifecycle event. Status and Duration are set on
// PhaseFinished; Err is set on PhaseFailed.
type Notification struct {
	RunID    string
	Test     suite.TestID
	Phase    Phase
	Status   Status
	Err      error
	Endpoint string
	At       time.Time
	Duration time.Duration
}

// Reporter receives lifecycle notifications. Implementations must be safe
// for concurrent use.
type Reporter interface {
	Notify(n Notification)
}

// Func adapts a function to Reporter.
type Func func(n Notification)

// Notify calls f.
func (f Func) Notify(n Notification) { f(n) }

// Multi fans each notification out to every reporter, in order.
type Multi []Reporter

// Notify forwards n to every non-nil reporter.
func (m Multi) Notify(n Notification) {
	for _, r := range m {
		if r != nil {
			r.Notify(n)
		}
	}
}

// Nop discards notifications.
var Nop Reporter = Func(func(Notification) {})

// Text writes one human-readable line per failure and finish.
type Text struct {
	mu sync.Mutex
	w  io.Writer
}

// NewText returns a reporter writing to w.
func NewText(w io.Writer) *Text {
	return &Text{w: w}
}

// Notify implements Reporter.
func (t *Text) Notify(n Notification) {
	t.mu.Lock()
	defer t.mu.Unlock()

	where := "local"
	if n.Endpoint != "" {
		where = n.Endpoint
	}
	switch n.Phase {
	case PhaseFailed:
		fmt.Fprintf(t.w, "--- FAIL %s (%s)\n", n.Test, where)
		if n.Err != nil {
			fmt.Fprintf(t.w, "    %s\n", n.Err)
		}
	case PhaseFinished:
		fmt.Fprintf(t.w, "%-9s %s %s\n", n.Status, n.Test, n.Duration.Round(time.Millisecond))
	}
}
