package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ErrTruncated is returned by Decode when the stream ends before a terminal line.
var ErrTruncated = errors.New("response stream closed before terminal line")

// WriteOutput writes text as one or more channel-prefixed lines.
func WriteOutput(w io.Writer, ch Channel, text string) error {
	for _, line := range strings.Split(text, "\n") {
		if _, err := fmt.Fprintf(w, "%c%s\n", ch, line); err != nil {
			return fmt.Errorf("write output line: %w", err)
		}
	}
	return nil
}

// WriteSuccess writes the RSUCCESS terminal line.
func WriteSuccess(w io.Writer) error {
	if _, err := io.WriteString(w, successMarker+"\n"); err != nil {
		return fmt.Errorf("write success line: %w", err)
	}
	return nil
}

// WriteFailure writes RERROR followed by the headline, then the raw trace lines.
func WriteFailure(w io.Writer, f *Failure) error {
	headline := strings.ReplaceAll(f.Headline, "\n", " ")
	var b strings.Builder
	b.WriteString(errorMarker)
	b.WriteString(headline)
	b.WriteByte('\n')
	for _, line := range f.Trace {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("write failure line: %w", err)
	}
	return nil
}

// Decode reads a response stream line by line. Output lines are handed to
// onOutput as they arrive. Decoding stops at RSUCCESS, or at end of stream
// after RERROR. A stream that ends before either returns ErrTruncated.
// Unrecognized lines are logged and skipped.
func Decode(r io.Reader, onOutput func(Output), logger *slog.Logger) (Outcome, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	br := bufio.NewReader(r)
	var outcome Outcome
	for {
		line, err := readLine(br)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return outcome, ErrTruncated
			}
			return outcome, fmt.Errorf("read response: %w", err)
		}

		switch {
		case strings.HasPrefix(line, successMarker):
			return outcome, nil

		case strings.HasPrefix(line, errorMarker):
			f := &Failure{Headline: line[len(errorMarker):]}
			for {
				trace, err := readLine(br)
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return outcome, fmt.Errorf("read failure trace: %w", err)
				}
				f.Trace = append(f.Trace, trace)
			}
			outcome.Failure = f
			return outcome, nil

		case len(line) > 0 && (line[0] == byte(Stdout) || line[0] == byte(Stderr)):
			if onOutput != nil {
				onOutput(Output{Channel: Channel(line[0]), Text: line[1:]})
			}

		default:
			outcome.Violations++
			logger.Warn("protocol violation in response", "line", line)
		}
	}
}

// readLine returns the next line without its terminator. A final line with
// no trailing newline is returned normally; io.EOF is returned only once
// nothing is left.
func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimSuffix(line, "\r"), nil
		}
		return "", err
	}
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r"), nil
}
