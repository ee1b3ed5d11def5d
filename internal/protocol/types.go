package protocol

import (
	"net/url"
	"strings"
)

// Channel is the single-byte marker that tags an output line with the
// console stream it was written to.
type Channel byte

const (
	Stdout Channel = 'O'
	Stderr Channel = 'E'
)

func (c Channel) String() string {
	switch c {
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	default:
		return "unknown"
	}
}

const (
	successMarker = "RSUCCESS"
	errorMarker   = "RERROR"
)

// NoTestsRemaining is the headline sent when a method filter leaves nothing to run.
const NoTestsRemaining = "No tests remaining"

// Output is a single console line carried in a response stream.
type Output struct {
	Channel Channel
	Text    string
}

// Failure is the terminal failure line of a response: a one-line headline
// followed by zero or more raw trace lines.
type Failure struct {
	Headline string
	Trace    []string
}

// NewFailure splits a possibly multi-line message into a headline and
// trace lines, appending any extra trace lines after it.
func NewFailure(message string, trace ...string) *Failure {
	message = strings.TrimRight(message, "\n")
	headline, rest, _ := strings.Cut(message, "\n")
	f := &Failure{Headline: headline}
	if rest != "" {
		f.Trace = append(f.Trace, strings.Split(rest, "\n")...)
	}
	f.Trace = append(f.Trace, trace...)
	return f
}

// Error returns the headline and trace joined by newlines.
func (f *Failure) Error() string {
	if len(f.Trace) == 0 {
		return f.Headline
	}
	return f.Headline + "\n" + strings.Join(f.Trace, "\n")
}

// Outcome is the decoded terminal result of one response stream.
type Outcome struct {
	// Failure is nil when the stream ended with RSUCCESS.
	Failure *Failure
	// Violations counts lines that matched no known shape.
	Violations int
}

// Success reports whether the stream ended with RSUCCESS.
func (o Outcome) Success() bool {
	return o.Failure == nil
}

// Request asks a worker to run one suite, optionally restricted to a
// single method, using the named runner strategy.
type Request struct {
	Suite  string
	Method string
	Runner string
}

// URL builds the request target below base, which is the worker endpoint
// (scheme://host:port/).
func (r Request) URL(base *url.URL) string {
	u := *base
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	u.Path += r.Suite
	u.RawPath = ""
	q := url.Values{}
	if r.Method != "" {
		q.Set("method", r.Method)
	}
	if r.Runner != "" {
		q.Set("runner", r.Runner)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// ParseRequest rebuilds a Request from the suite path segment and query.
func ParseRequest(suiteName string, query url.Values) Request {
	return Request{
		Suite:  suiteName,
		Method: query.Get("method"),
		Runner: query.Get("runner"),
	}
}
