package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/testrelay/internal/config"
	"github.com/mattjoyce/testrelay/internal/demo"
	"github.com/mattjoyce/testrelay/internal/server"
	"github.com/mattjoyce/testrelay/internal/suite"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	outCh := make(chan []byte)
	errCh := make(chan []byte)
	go func() { b, _ := io.ReadAll(stdoutR); outCh <- b }()
	go func() { b, _ := io.ReadAll(stderrR); errCh <- b }()

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes := <-outCh
	stderrBytes := <-errCh
	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

// isolate keeps config discovery away from the developer's files.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv(config.ConfigEnv, "")
	t.Setenv(config.EndpointsEnv, "")
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
}

func useRegistry(t *testing.T, build func() *suite.Registry) {
	t.Helper()
	orig := newRegistry
	newRegistry = build
	t.Cleanup(func() { newRegistry = orig })
}

// captureRun swaps runOutput for buffers while run executes.
func captureRun(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	orig := runOutput
	runOutput = runIO{stdout: &stdout, stderr: &stderr}
	t.Cleanup(func() { runOutput = orig })

	code := runRun(append([]string{"-log-level", "error"}, args...))
	return code, stdout.String(), stderr.String()
}

func startWorker(t *testing.T, reg *suite.Registry) string {
	t.Helper()
	ts := httptest.NewServer(server.New(server.Config{}, reg, nil, slog.New(slog.DiscardHandler)).Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func brokenRegistry() *suite.Registry {
	reg := suite.NewRegistry()
	reg.MustRegister(&suite.Suite{
		Name: "Broken",
		Methods: []suite.Method{
			{Name: "testOK", Func: func(*suite.T) {}},
			{Name: "testBad", Func: func(t *suite.T) { t.Fatalf("expected %d, got %d", 2, 3) }},
		},
	})
	return reg
}

var runIDPattern = regexp.MustCompile(`run ([0-9a-f-]{36})\)`)

func TestRunCLI(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want int
	}{
		{name: "no args", args: nil, want: 1},
		{name: "unknown", args: []string{"frobnicate"}, want: 1},
		{name: "help", args: []string{"help"}, want: 0},
		{name: "version", args: []string{"version"}, want: 0},
		{name: "version extra arg", args: []string{"version", "now"}, want: 1},
		{name: "flag help", args: []string{"run", "-h"}, want: 0},
		{name: "bad flag", args: []string{"serve", "-nope"}, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, _ := captureOutputWithExitCode(t, func() int { return runCLI(tt.args) })
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestVersionJSON(t *testing.T) {
	orig := version
	version = "1.2.3"
	t.Cleanup(func() { version = orig })

	code, stdout, _ := captureOutputWithExitCode(t, func() int { return runVersion([]string{"-json"}) })
	require.Equal(t, 0, code)

	var info versionInfo
	require.NoError(t, json.Unmarshal([]byte(stdout), &info))
	assert.Equal(t, "1.2.3", info.Version)
	assert.NotEmpty(t, info.Commit)
}

func TestRunRemoteRecordsHistory(t *testing.T) {
	isolate(t)
	worker := startWorker(t, demo.Registry())
	db := filepath.Join(t.TempDir(), "history.db")

	code, stdout, stderr := captureRun(t, "-endpoints", worker, "-db", db, "Calc", "Greeter#testHello")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "2+2 = 4")
	assert.Contains(t, stdout, "Hello, world!")
	assert.Contains(t, stderr, "ok\t5 passed, 0 failed, 0 timed out of 5 (remote")

	m := runIDPattern.FindStringSubmatch(stderr)
	require.Len(t, m, 2, stderr)
	runID := m[1]

	code, out, _ := captureOutputWithExitCode(t, func() int { return runHistory([]string{"-db", db}) })
	require.Equal(t, 0, code)
	assert.Contains(t, out, runID)
	assert.Contains(t, out, "remote")

	code, out, _ = captureOutputWithExitCode(t, func() int { return runHistory([]string{"-db", db, "-run", runID}) })
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Calc#testMul")
	assert.Contains(t, out, "Greeter#testHello")
	assert.Contains(t, out, worker)
}

func TestRunFailureExitsNonZero(t *testing.T) {
	isolate(t)
	useRegistry(t, brokenRegistry)
	worker := startWorker(t, brokenRegistry())
	db := filepath.Join(t.TempDir(), "history.db")

	code, _, stderr := captureRun(t, "-endpoints", worker, "-db", db)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "--- FAIL Broken#testBad")
	assert.Contains(t, stderr, "expected 2, got 3")
	assert.Contains(t, stderr, "FAIL\t1 passed, 1 failed")

	runID := runIDPattern.FindStringSubmatch(stderr)[1]
	code, out, _ := captureOutputWithExitCode(t, func() int { return runHistory([]string{"-db", db, "-run", runID}) })
	require.Equal(t, 0, code)
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, out, "Broken#testBad: expected 2, got 3")
}

func TestRunLocalFallback(t *testing.T) {
	isolate(t)

	code, stdout, stderr := captureRun(t, "-endpoints", "http://127.0.0.1:1/", "-no-history", "Calc#testAdd")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "2+2 = 4")
	assert.Contains(t, stderr, "(local, run")
}

func TestRunFallbackFail(t *testing.T) {
	isolate(t)

	code, _, stderr := captureRun(t, "-endpoints", "http://127.0.0.1:1/", "-fallback", "fail", "-no-history")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Run failed")
	assert.Contains(t, stderr, "no live endpoints")
}

func TestRunRejects(t *testing.T) {
	isolate(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "unknown suite", args: []string{"-no-history", "Nope"}, want: "Cannot resolve tests"},
		{name: "unknown method", args: []string{"-no-history", "Calc#testPow"}, want: "no method testPow"},
		{name: "bad runner", args: []string{"-runner", "parallel"}, want: "dispatch.runner"},
		{name: "bad endpoint", args: []string{"-endpoints", "localhost"}, want: "dispatch.endpoints"},
		{name: "zero timeout", args: []string{"-timeout", "0s"}, want: "dispatch.timeout must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := captureRun(t, tt.args...)
			assert.Equal(t, 1, code)
			assert.Contains(t, stderr, tt.want)
		})
	}
}

func TestResolveTests(t *testing.T) {
	ids, err := resolveTests(demo.Registry(), []string{"Calc#testAdd,Greeter#testWarn", " Slow "})
	require.NoError(t, err)
	var names []string
	for _, id := range ids {
		names = append(names, id.String())
	}
	assert.Equal(t, []string{"Calc#testAdd", "Greeter#testWarn", "Slow#testSleep"}, names)

	ids, err = resolveTests(demo.Registry(), []string{"Calc#testMul", "Calc#testMul,Calc"})
	require.NoError(t, err)
	names = names[:0]
	for _, id := range ids {
		names = append(names, id.String())
	}
	assert.Equal(t, []string{"Calc#testMul", "Calc#testAdd", "Calc#testSub", "Calc#testDiv"}, names)

	_, err = resolveTests(suite.NewRegistry(), nil)
	assert.ErrorContains(t, err, "no tests registered")
}

func TestList(t *testing.T) {
	code, stdout, _ := captureOutputWithExitCode(t, func() int { return runList(nil) })
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "Ordered (custom runner)")
	assert.Contains(t, stdout, "  Calc#testAdd")

	code, stdout, _ = captureOutputWithExitCode(t, func() int { return runList([]string{"-json"}) })
	require.Equal(t, 0, code)
	var desc server.SuitesResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &desc))
	assert.Len(t, desc.Suites, len(demo.Suites()))
}

func TestDoctor(t *testing.T) {
	isolate(t)
	healthy := startWorker(t, demo.Registry())
	stale := startWorker(t, brokenRegistry())

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runDoctor([]string{"-endpoints", healthy, "-log-level", "error"})
	})
	assert.Equal(t, 0, code, stdout)
	assert.Contains(t, stdout, "ok")

	code, stdout, _ = captureOutputWithExitCode(t, func() int {
		return runDoctor([]string{"-endpoints", stale, "-json", "-log-level", "error"})
	})
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, `"valid": false`)
}

func TestHistoryDisabled(t *testing.T) {
	isolate(t)
	cfgPath := filepath.Join(t.TempDir(), "testrelay.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("state:\n  path: \"\"\n"), 0o644))

	code, _, stderr := captureOutputWithExitCode(t, func() int { return runHistory([]string{"-config", cfgPath}) })
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "run history is disabled")
}

func TestHistoryUnknownRun(t *testing.T) {
	db := filepath.Join(t.TempDir(), "history.db")
	code, stdout, stderr := captureOutputWithExitCode(t, func() int { return runHistory([]string{"-db", db, "-run", "missing"}) })
	assert.Equal(t, 1, code)
	assert.Empty(t, strings.TrimSpace(stdout))
	assert.Contains(t, stderr, "No run missing")
}

func TestServeRejectsConflictingListenFlags(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runServe([]string{"-listen", ":9000", "-p", "9001"})
	})
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "mutually exclusive")
}
