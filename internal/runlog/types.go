package runlog

import (
	"errors"
	"time"

	"github.com/mattjoyce/testrelay/internal/report"
	"github.com/mattjoyce/testrelay/internal/suite"
)

type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt *time.Time
	Total      int
	Passed     int
	Failed     int
	TimedOut   int
	Local      bool
	Endpoints  string
	Runner     string
}

type BeginRequest struct {
	// ID is generated when empty.
	ID        string
	Total     int
	Endpoints []string
	Runner    string
}

// Totals are the final counters written by FinishRun.
type Totals struct {
	Passed   int
	Failed   int
	TimedOut int
	Local    bool
}

type Result struct {
	ID         string
	RunID      string
	Test       suite.TestID
	Status     report.Status
	Message    *string
	Endpoint   string
	Duration   time.Duration
	FinishedAt time.Time
}

var ErrRunNotFound = errors.New("run not found")
