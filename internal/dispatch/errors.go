package dispatch

import (
	"errors"
	"fmt"

	"github.com/mattjoyce/testrelay/internal/suite"
)

var (
	// ErrNoLiveEndpoints is returned when no endpoint answered the probe and
	// the fallback policy is FallbackFail.
	ErrNoLiveEndpoints = errors.New("no live endpoints")
	// ErrRunTimeout marks tests cut short by the overall batch timeout.
	ErrRunTimeout = errors.New("run timed out")
)

// TransportError is a failure to get a complete answer from a worker:
// connect errors, read timeouts, unexpected status codes, truncated streams.
type TransportError struct {
	Endpoint string
	Test     suite.TestID
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %s on %s: %v", e.Test, e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
