// Package dispatch fans a batch of tests out to remote execution workers and
// reports each test's lifecycle.
//
// The dispatcher takes an ordered list of test identifiers and a probed
// endpoint pool. Each test becomes one unit of work on a worker pool bounded
// by the live endpoint count. A unit picks the next endpoint in rotation,
// POSTs the execution request, decodes the streamed response and forwards
// output lines to the local console as they arrive.
//
// Key features:
//   - Bounded parallel dispatch (errgroup, limit = live endpoints)
//   - One connection per test, Connection: close, no caching
//   - Per-read timeout on every worker connection
//   - Overall batch timeout that cancels in-flight requests
//   - Local in-process fallback when no endpoint is live (or a hard error,
//     depending on the fallback policy)
//
// Notifications:
//   - Every test receives started, optionally failed, then finished
//   - finished is emitted exactly once per test, panics included
//   - Tests the timeout prevents from starting still receive all three
//
// Error handling:
//   - Refused connect, read timeout, non-200 status, truncated stream →
//     TransportError, failed status
//   - RERROR terminal line → *protocol.Failure, failed status
//   - Overall timeout → error wrapping ErrRunTimeout, timed_out status
//   - Malformed lines are logged and skipped; they do not fail the test
//
// No failure aborts sibling dispatches.
package dispatch
