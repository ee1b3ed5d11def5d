package watch

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"

	"github.com/mattjoyce/testrelay/internal/report"
	"github.com/mattjoyce/testrelay/internal/suite"
)

const (
	statusQueued  = "queued"
	statusRunning = "running"
)

// TestState tracks one test of the run.
type TestState struct {
	ID       suite.TestID
	Status   string
	Endpoint string
	Started  time.Time
	Duration time.Duration
	Err      string
}

// Done reports whether the test has a final status.
func (s *TestState) Done() bool {
	return s.Status != statusQueued && s.Status != statusRunning
}

// Counts summarizes the run so far.
type Counts struct {
	Total    int
	Running  int
	Passed   int
	Failed   int
	TimedOut int
}

// Finished is the number of tests with a final status.
func (c Counts) Finished() int {
	return c.Passed + c.Failed + c.TimedOut
}

// apply folds one notification into the matching test.
func apply(st *TestState, n report.Notification) {
	if n.Endpoint != "" {
		st.Endpoint = n.Endpoint
	}
	switch n.Phase {
	case report.PhaseStarted:
		st.Status = statusRunning
		st.Started = n.At
	case report.PhaseFailed:
		if n.Err != nil && st.Err == "" {
			st.Err = firstLine(n.Err.Error())
		}
	case report.PhaseFinished:
		st.Status = string(n.Status)
		st.Duration = n.Duration
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func testColumns(width int) []table.Column {
	// ST, Status, Endpoint, Duration are fixed; the rest goes to ID and Error.
	flex := width - 2 - 10 - 24 - 10 - 12
	if flex < 30 {
		flex = 30
	}
	return []table.Column{
		{Title: "ST", Width: 2},
		{Title: "Test", Width: flex * 3 / 5},
		{Title: "Status", Width: 10},
		{Title: "Endpoint", Width: 24},
		{Title: "Duration", Width: 10},
		{Title: "Error", Width: flex - flex*3/5},
	}
}

func testRow(st *TestState, now time.Time) table.Row {
	endpoint := st.Endpoint
	if endpoint == "" && st.Status != statusQueued {
		endpoint = "local"
	}

	var dur string
	switch {
	case st.Done():
		dur = formatDuration(st.Duration)
	case st.Status == statusRunning && !st.Started.IsZero():
		dur = formatDuration(now.Sub(st.Started))
	}

	return table.Row{statusIcon(st.Status), st.ID.String(), st.Status, endpoint, dur, st.Err}
}

func statusIcon(status string) string {
	switch status {
	case string(report.StatusPassed):
		return "✓"
	case string(report.StatusFailed):
		return "✗"
	case string(report.StatusTimedOut):
		return "⏱"
	case statusRunning:
		return "▶"
	default:
		return "·"
	}
}
