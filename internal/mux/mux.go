// Package mux tees console output into per-execution protocol sinks.
//
// A Console owns the process's real stdout and stderr. Each execution
// acquires its own Capture bound to a sink (usually an HTTP response body);
// writes through the capture reach the real console unchanged and the sink
// as channel-prefixed protocol lines. Captures share nothing but the
// console, so concurrent executions cannot corrupt each other's prefixes.
package mux

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/mattjoyce/testrelay/internal/protocol"
)

// Output is the pair of streams handed to a running test.
type Output struct {
	Stdout io.Writer
	Stderr io.Writer
}

// Discard drops everything.
var Discard = Output{Stdout: io.Discard, Stderr: io.Discard}

// Console serializes writes to the process's shared console streams.
type Console struct {
	mu     sync.Mutex
	stdout io.Writer
	stderr io.Writer
}

// NewConsole wraps the destinations that every capture also writes to.
func NewConsole(stdout, stderr io.Writer) *Console {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	return &Console{stdout: stdout, stderr: stderr}
}

// Output returns writers that go straight to the console.
func (c *Console) Output() Output {
	return Output{
		Stdout: consoleWriter{c: c, ch: protocol.Stdout},
		Stderr: consoleWriter{c: c, ch: protocol.Stderr},
	}
}

// Println writes one line to the stream named by ch.
func (c *Console) Println(ch protocol.Channel, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.dest(ch), text)
}

func (c *Console) write(ch protocol.Channel, p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dest(ch).Write(p)
}

func (c *Console) dest(ch protocol.Channel) io.Writer {
	if ch == protocol.Stderr {
		return c.stderr
	}
	return c.stdout
}

type consoleWriter struct {
	c  *Console
	ch protocol.Channel
}

func (w consoleWriter) Write(p []byte) (int, error) {
	return w.c.write(w.ch, p)
}

// Acquire installs sink as the redirection target for one execution.
// The caller must Release the capture before writing a terminal line.
func (c *Console) Acquire(sink io.Writer) *Capture {
	capt := &Capture{console: c, sink: sink}
	capt.stdout = &lineWriter{capture: capt, ch: protocol.Stdout}
	capt.stderr = &lineWriter{capture: capt, ch: protocol.Stderr}
	return capt
}

// Capture is one installation of a sink on the console.
type Capture struct {
	console *Console
	stdout  *lineWriter
	stderr  *lineWriter

	mu       sync.Mutex
	sink     io.Writer
	released bool
	err      error
}

// Output returns the writers a test should use while the capture is held.
func (c *Capture) Output() Output {
	return Output{Stdout: c.stdout, Stderr: c.stderr}
}

// Release flushes any partial line to the sink, newline-terminated, and
// detaches the sink. Later writes reach only the console. It reports the
// first error seen writing to the sink.
func (c *Capture) Release() error {
	c.stdout.flushPartial()
	c.stderr.flushPartial()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = true
	c.sink = nil
	return c.err
}

func (c *Capture) emit(ch protocol.Channel, line []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released || c.err != nil {
		return
	}
	buf := make([]byte, 0, len(line)+2)
	buf = append(buf, byte(ch))
	buf = append(buf, line...)
	buf = append(buf, '\n')
	if _, err := c.sink.Write(buf); err != nil {
		c.err = fmt.Errorf("write %s line to sink: %w", ch, err)
		return
	}
	flush(c.sink)
}

func flush(w io.Writer) {
	switch f := w.(type) {
	case interface{ Flush() }:
		f.Flush()
	case interface{ Flush() error }:
		_ = f.Flush()
	}
}

// lineWriter buffers one channel's partial line so the sink only ever
// sees whole lines with exactly one prefix each.
type lineWriter struct {
	capture *Capture
	ch      protocol.Channel

	mu      sync.Mutex
	pending []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	n, err := w.capture.console.write(w.ch, p)
	if err != nil {
		return n, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		w.capture.emit(w.ch, bytes.TrimSuffix(w.pending[:i], []byte("\r")))
		w.pending = w.pending[i+1:]
	}
	if len(w.pending) == 0 {
		w.pending = nil
	}
	return len(p), nil
}

func (w *lineWriter) flushPartial() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) > 0 {
		w.capture.emit(w.ch, w.pending)
		w.pending = nil
	}
}
