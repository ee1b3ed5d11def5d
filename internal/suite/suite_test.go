package suite

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/testrelay/internal/mux"
	"github.com/mattjoyce/testrelay/internal/protocol"
)

func newTestRegistry(t *testing.T, suites ...*Suite) *Registry {
	t.Helper()
	r := NewRegistry()
	for _, s := range suites {
		require.NoError(t, r.Register(s))
	}
	return r
}

func calcSuite(calls *[]string) *Suite {
	return &Suite{
		Name: "Calc",
		SetUp: func(t *T) {
			*calls = append(*calls, "setup "+t.Name())
		},
		TearDown: func(t *T) {
			*calls = append(*calls, "teardown "+t.Name())
		},
		Methods: []Method{
			{Name: "testAdd", Func: func(t *T) {
				*calls = append(*calls, "add")
				t.Log("adding")
			}},
			{Name: "testFatal", Func: func(t *T) {
				*calls = append(*calls, "fatal")
				t.Fatalf("expected %d, got %d", 2, 3)
				*calls = append(*calls, "unreachable")
			}},
			{Name: "testPanic", Func: func(t *T) {
				*calls = append(*calls, "panic")
				panic("kaboom")
			}},
		},
	}
}

func TestParseTestID(t *testing.T) {
	tests := []struct {
		in      string
		want    TestID
		wantErr bool
	}{
		{in: "Foo#testBar", want: TestID{Suite: "Foo", Method: "testBar"}},
		{in: " Foo ", want: TestID{Suite: "Foo"}},
		{in: "#testBar", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTestID(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, strings.TrimSpace(tt.in), got.String())
		})
	}
}

func TestRegisterRejectsInvalidSuites(t *testing.T) {
	noop := func(*T) {}
	tests := []struct {
		name  string
		suite *Suite
	}{
		{name: "nil", suite: nil},
		{name: "empty name", suite: &Suite{}},
		{name: "unnamed method", suite: &Suite{Name: "A", Methods: []Method{{Func: noop}}}},
		{name: "missing body", suite: &Suite{Name: "A", Methods: []Method{{Name: "m"}}}},
		{name: "duplicate method", suite: &Suite{Name: "A", Methods: []Method{{Name: "m", Func: noop}, {Name: "m", Func: noop}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, NewRegistry().Register(tt.suite))
		})
	}

	r := newTestRegistry(t, &Suite{Name: "A"})
	assert.Error(t, r.Register(&Suite{Name: "A"}), "duplicate suite")
}

func TestSequentialRunsHooksAroundEveryMethod(t *testing.T) {
	var calls []string
	r := newTestRegistry(t, calcSuite(&calls))

	var stdout bytes.Buffer
	failure, err := r.Execute(context.Background(), protocol.Request{Suite: "Calc"}, mux.Output{Stdout: &stdout, Stderr: &stdout})
	require.NoError(t, err)
	require.NotNil(t, failure)

	assert.Equal(t, []string{
		"setup Calc#testAdd", "add", "teardown Calc#testAdd",
		"setup Calc#testFatal", "fatal", "teardown Calc#testFatal",
		"setup Calc#testPanic", "panic", "teardown Calc#testPanic",
	}, calls)
	assert.Equal(t, "Calc#testFatal: expected 2, got 3", failure.Headline, "first failure wins")
	assert.NotEmpty(t, failure.Trace)
	assert.Equal(t, "adding\n", stdout.String())
}

func TestPanicIsRecordedWithStack(t *testing.T) {
	var calls []string
	r := newTestRegistry(t, calcSuite(&calls))

	failure, err := r.Execute(context.Background(), protocol.Request{Suite: "Calc", Method: "testPanic"}, mux.Discard)
	require.NoError(t, err)
	require.NotNil(t, failure)
	assert.Equal(t, "Calc#testPanic: panic: kaboom", failure.Headline)
	assert.Contains(t, strings.Join(failure.Trace, "\n"), "goroutine")
}

func TestSetUpFailureSkipsMethodButRunsTearDown(t *testing.T) {
	var calls []string
	s := &Suite{
		Name:     "S",
		SetUp:    func(t *T) { t.Fatal("no database") },
		TearDown: func(t *T) { calls = append(calls, "teardown") },
		Methods:  []Method{{Name: "m", Func: func(t *T) { calls = append(calls, "m") }}},
	}
	r := newTestRegistry(t, s)

	failure, err := r.Execute(context.Background(), protocol.Request{Suite: "S"}, mux.Discard)
	require.NoError(t, err)
	require.NotNil(t, failure)
	assert.Equal(t, "S#m: no database", failure.Headline)
	assert.Equal(t, []string{"teardown"}, calls)
}

func TestPlan(t *testing.T) {
	var calls []string
	r := newTestRegistry(t, calcSuite(&calls), &Suite{Name: "Empty"})

	tests := []struct {
		name        string
		req         protocol.Request
		wantErr     error
		wantMethods int
	}{
		{name: "whole suite", req: protocol.Request{Suite: "Calc"}, wantMethods: 3},
		{name: "single method", req: protocol.Request{Suite: "Calc", Method: "testAdd", Runner: RunnerMethod}, wantMethods: 1},
		{name: "unknown suite", req: protocol.Request{Suite: "Nope"}, wantErr: ErrNotFound},
		{name: "unknown runner", req: protocol.Request{Suite: "Calc", Runner: "junit"}, wantErr: ErrUnknownRunner},
		{name: "filter removes everything", req: protocol.Request{Suite: "Calc", Method: "testMissing"}, wantErr: ErrNoTestsRemain},
		{name: "suite without methods", req: protocol.Request{Suite: "Empty"}, wantErr: ErrNoTestsRemain},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := r.Plan(tt.req)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, plan.Methods, tt.wantMethods)
		})
	}
}

func TestSingleMethodRunnerRequiresOneMethod(t *testing.T) {
	var calls []string
	r := newTestRegistry(t, calcSuite(&calls))

	failure, err := r.Execute(context.Background(), protocol.Request{Suite: "Calc", Runner: RunnerMethod}, mux.Discard)
	require.NoError(t, err)
	require.NotNil(t, failure)
	assert.Contains(t, failure.Headline, "requires exactly one method")
	assert.Empty(t, calls)
}

func TestCustomRunner(t *testing.T) {
	var calls []string
	s := calcSuite(&calls)
	s.Custom = func(ctx context.Context, methods []Method, run func(Method)) {
		for i := len(methods) - 1; i >= 0; i-- {
			if methods[i].Name == "testAdd" {
				run(methods[i])
			}
		}
	}
	r := newTestRegistry(t, s, &Suite{Name: "Plain", Methods: []Method{{Name: "m", Func: func(*T) {}}}})

	failure, err := r.Execute(context.Background(), protocol.Request{Suite: "Calc", Runner: RunnerCustom}, mux.Discard)
	require.NoError(t, err)
	assert.Nil(t, failure)
	assert.Equal(t, []string{"setup Calc#testAdd", "add", "teardown Calc#testAdd"}, calls)

	failure, err = r.Execute(context.Background(), protocol.Request{Suite: "Plain", Runner: RunnerCustom}, mux.Discard)
	require.NoError(t, err)
	require.NotNil(t, failure)
	assert.Equal(t, "suite Plain has no custom runner", failure.Headline)
}

func TestCustomRunnerThatRunsNothing(t *testing.T) {
	s := &Suite{
		Name:    "Skipper",
		Methods: []Method{{Name: "m", Func: func(*T) {}}},
		Custom:  func(context.Context, []Method, func(Method)) {},
	}
	r := newTestRegistry(t, s)

	failure, err := r.Execute(context.Background(), protocol.Request{Suite: "Skipper", Runner: RunnerCustom}, mux.Discard)
	require.NoError(t, err)
	require.NotNil(t, failure)
	assert.Equal(t, protocol.NoTestsRemaining, failure.Headline)
}

func TestStrategyFor(t *testing.T) {
	tests := []struct {
		tag  string
		want string
	}{
		{tag: "", want: RunnerSequential},
		{tag: RunnerSequential, want: RunnerSequential},
		{tag: RunnerMethod, want: RunnerMethod},
		{tag: RunnerCustom, want: RunnerCustom},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			s, err := StrategyFor(tt.tag)
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Name())
		})
	}

	_, err := StrategyFor("junit")
	assert.ErrorIs(t, err, ErrUnknownRunner)
}

func TestCancelledContextFailsBeforeStart(t *testing.T) {
	ran := false
	r := newTestRegistry(t, &Suite{Name: "S", Methods: []Method{{Name: "m", Func: func(*T) { ran = true }}}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	failure, err := r.Execute(ctx, protocol.Request{Suite: "S"}, mux.Discard)
	require.NoError(t, err)
	require.NotNil(t, failure)
	assert.False(t, ran)
	assert.Contains(t, failure.Headline, "not started")
}

func TestIdentifiers(t *testing.T) {
	var calls []string
	noop := func(*T) {}
	r := newTestRegistry(t, calcSuite(&calls), &Suite{Name: "Other", Methods: []Method{{Name: "x", Func: noop}}})

	all, err := r.Identifiers()
	require.NoError(t, err)
	var names []string
	for _, id := range all {
		names = append(names, id.String())
	}
	assert.Equal(t, []string{"Calc#testAdd", "Calc#testFatal", "Calc#testPanic", "Other#x"}, names)

	picked, err := r.Identifiers("Other", "Calc#testAdd")
	require.NoError(t, err)
	assert.Equal(t, []TestID{{Suite: "Other", Method: "x"}, {Suite: "Calc", Method: "testAdd"}}, picked)

	_, err = r.Identifiers("Calc#nope")
	assert.ErrorIs(t, err, ErrNoTestsRemain)
	_, err = r.Identifiers("Missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFingerprint(t *testing.T) {
	noop := func(*T) {}
	a := newTestRegistry(t,
		&Suite{Name: "A", Methods: []Method{{Name: "x", Func: noop}}},
		&Suite{Name: "B", Methods: []Method{{Name: "y", Func: noop}}},
	)
	b := newTestRegistry(t,
		&Suite{Name: "B", Methods: []Method{{Name: "y", Func: noop}}},
		&Suite{Name: "A", Methods: []Method{{Name: "x", Func: noop}}},
	)
	c := newTestRegistry(t, &Suite{Name: "A", Methods: []Method{{Name: "x", Func: noop}}})

	assert.Equal(t, a.Fingerprint(), b.Fingerprint(), "registration order does not matter")
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
	assert.Len(t, a.Fingerprint(), 64)
}
