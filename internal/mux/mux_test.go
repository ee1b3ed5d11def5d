package mux

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/testrelay/internal/protocol"
)

type flushRecorder struct {
	bytes.Buffer
	flushes int
}

func (f *flushRecorder) Flush() { f.flushes++ }

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestCapturePrefixesEachLineOnce(t *testing.T) {
	var stdout, stderr bytes.Buffer
	console := NewConsole(&stdout, &stderr)

	var sink flushRecorder
	capt := console.Acquire(&sink)
	out := capt.Output()

	_, err := out.Stdout.Write([]byte("one\ntwo\nthr"))
	require.NoError(t, err)
	_, err = out.Stdout.Write([]byte("ee\n"))
	require.NoError(t, err)
	fmt.Fprint(out.Stderr, "oops\n")
	require.NoError(t, capt.Release())

	assert.Equal(t, "Oone\nOtwo\nOthree\nEoops\n", sink.String())
	assert.Equal(t, 4, sink.flushes, "each completed line flushes the sink")
	assert.Equal(t, "one\ntwo\nthree\n", stdout.String())
	assert.Equal(t, "oops\n", stderr.String())
}

func TestReleaseTerminatesPartialLine(t *testing.T) {
	console := NewConsole(nil, nil)
	var sink bytes.Buffer
	capt := console.Acquire(&sink)

	fmt.Fprint(capt.Output().Stdout, "no newline")
	require.NoError(t, capt.Release())
	require.NoError(t, protocol.WriteSuccess(&sink))

	var got []protocol.Output
	outcome, err := protocol.Decode(strings.NewReader(sink.String()), func(o protocol.Output) {
		got = append(got, o)
	}, nil)
	require.NoError(t, err)
	assert.True(t, outcome.Success())
	assert.Equal(t, []protocol.Output{{Channel: protocol.Stdout, Text: "no newline"}}, got)
}

func TestWritesAfterReleaseOnlyReachConsole(t *testing.T) {
	var stdout bytes.Buffer
	console := NewConsole(&stdout, nil)
	var sink bytes.Buffer
	capt := console.Acquire(&sink)
	require.NoError(t, capt.Release())

	fmt.Fprintln(capt.Output().Stdout, "late")
	assert.Empty(t, sink.String())
	assert.Equal(t, "late\n", stdout.String())
}

func TestEmptyLinesKeepPrefix(t *testing.T) {
	console := NewConsole(nil, nil)
	var sink bytes.Buffer
	capt := console.Acquire(&sink)
	fmt.Fprint(capt.Output().Stdout, "a\n\nb\n")
	require.NoError(t, capt.Release())
	assert.Equal(t, "Oa\nO\nOb\n", sink.String())
}

func TestReleaseReportsSinkError(t *testing.T) {
	console := NewConsole(nil, nil)
	capt := console.Acquire(failingWriter{})
	fmt.Fprintln(capt.Output().Stdout, "x")
	err := capt.Release()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")
}

func TestConcurrentCapturesStayIsolated(t *testing.T) {
	console := NewConsole(nil, nil)

	const workers = 8
	sinks := make([]*bytes.Buffer, workers)
	var wg sync.WaitGroup
	for i := range workers {
		sinks[i] = &bytes.Buffer{}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			capt := console.Acquire(sinks[i])
			for j := range 50 {
				fmt.Fprintf(capt.Output().Stdout, "w%d-%d\n", i, j)
				fmt.Fprintf(capt.Output().Stderr, "e%d-%d\n", i, j)
			}
			_ = capt.Release()
		}(i)
	}
	wg.Wait()

	for i, sink := range sinks {
		lines := strings.Split(strings.TrimSuffix(sink.String(), "\n"), "\n")
		require.Len(t, lines, 100)
		for _, line := range lines {
			switch line[0] {
			case 'O':
				assert.True(t, strings.HasPrefix(line, fmt.Sprintf("Ow%d-", i)), line)
			case 'E':
				assert.True(t, strings.HasPrefix(line, fmt.Sprintf("Ee%d-", i)), line)
			default:
				t.Errorf("unexpected line %q", line)
			}
		}
	}
}

func TestConsolePrintln(t *testing.T) {
	var stdout, stderr bytes.Buffer
	console := NewConsole(&stdout, &stderr)
	console.Println(protocol.Stdout, "to out")
	console.Println(protocol.Stderr, "to err")
	fmt.Fprint(console.Output().Stdout, "direct\n")
	assert.Equal(t, "to out\ndirect\n", stdout.String())
	assert.Equal(t, "to err\n", stderr.String())
}
