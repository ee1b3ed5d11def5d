package suite

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/mattjoyce/testrelay/internal/mux"
	"github.com/mattjoyce/testrelay/internal/protocol"
)

// T is passed to test methods. Output written through it is captured by
// the execution that runs the method.
type T struct {
	ctx  context.Context
	name string
	out  mux.Output

	mu      sync.Mutex
	failure *protocol.Failure
}

func newT(ctx context.Context, name string, out mux.Output) *T {
	return &T{ctx: ctx, name: name, out: out}
}

// Context is cancelled when the request running the test goes away.
func (t *T) Context() context.Context { return t.ctx }

// Name returns Suite#Method.
func (t *T) Name() string { return t.name }

// Stdout returns the captured standard output stream.
func (t *T) Stdout() io.Writer { return t.out.Stdout }

// Stderr returns the captured standard error stream.
func (t *T) Stderr() io.Writer { return t.out.Stderr }

// Log writes a line to stdout.
func (t *T) Log(args ...any) { fmt.Fprintln(t.out.Stdout, args...) }

// Logf writes a formatted line to stdout.
func (t *T) Logf(format string, args ...any) {
	fmt.Fprintln(t.out.Stdout, fmt.Sprintf(format, args...))
}

// Error records a failure and continues.
func (t *T) Error(args ...any) { t.fail(fmt.Sprintln(args...), 2) }

// Errorf records a formatted failure and continues.
func (t *T) Errorf(format string, args ...any) { t.fail(fmt.Sprintf(format, args...), 2) }

// Fatal records a failure and stops the current method.
func (t *T) Fatal(args ...any) {
	t.fail(fmt.Sprintln(args...), 2)
	runtime.Goexit()
}

// Fatalf records a formatted failure and stops the current method.
func (t *T) Fatalf(format string, args ...any) {
	t.fail(fmt.Sprintf(format, args...), 2)
	runtime.Goexit()
}

// Failed reports whether a failure has been recorded.
func (t *T) Failed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failure != nil
}

// Failure returns the first recorded failure, or nil.
func (t *T) Failure() *protocol.Failure {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failure
}

func (t *T) fail(msg string, skip int) {
	var trace []string
	if _, file, line, ok := runtime.Caller(skip); ok {
		trace = append(trace, fmt.Sprintf("\tat %s:%d", file, line))
	}
	t.record(protocol.NewFailure(t.name+": "+strings.TrimSpace(msg), trace...))
}

func (t *T) record(f *protocol.Failure) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failure == nil {
		t.failure = f
	}
}

func (t *T) recordPanic(v any, stack []byte) {
	var trace []string
	for _, line := range strings.Split(strings.TrimRight(string(stack), "\n"), "\n") {
		trace = append(trace, "\t"+line)
	}
	t.record(protocol.NewFailure(fmt.Sprintf("%s: panic: %v", t.name, v), trace...))
}

// exec runs fn on its own goroutine so Fatal and panics end only fn.
func (t *T) exec(fn Func) {
	if fn == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				t.recordPanic(r, debug.Stack())
			}
		}()
		fn(t)
	}()
	<-done
}

// Recorder keeps the first failure across every method of one execution.
type Recorder struct {
	mu    sync.Mutex
	first *protocol.Failure
	ran   int
}

// Fail records f if no failure has been recorded yet.
func (r *Recorder) Fail(f *protocol.Failure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.first == nil {
		r.first = f
	}
}

// First returns the first recorded failure, or nil when everything passed.
func (r *Recorder) First() *protocol.Failure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.first
}

// Ran returns the number of methods executed.
func (r *Recorder) Ran() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ran
}

// runMethod executes one method with the suite's hooks around it.
func runMethod(ctx context.Context, s *Suite, m Method, out mux.Output, rec *Recorder) {
	t := newT(ctx, s.Name+"#"+m.Name, out)
	if err := ctx.Err(); err != nil {
		t.record(protocol.NewFailure(fmt.Sprintf("%s: not started: %v", t.name, err)))
	} else {
		t.exec(s.SetUp)
		if !t.Failed() {
			t.exec(m.Func)
		}
		t.exec(s.TearDown)
	}

	rec.mu.Lock()
	rec.ran++
	rec.mu.Unlock()
	if f := t.Failure(); f != nil {
		rec.Fail(f)
	}
}
