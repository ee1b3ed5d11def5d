// Package demo provides the suites the testrelay binary registers out of the
// box, so a worker and a dispatcher built from the same binary can exercise
// every runner strategy without user code.
package demo

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/mattjoyce/testrelay/internal/suite"
)

// SlowEnv sets how long Slow#testSleep waits. It defaults to one second.
const SlowEnv = "TESTRELAY_DEMO_SLEEP"

// Suites returns fresh copies of the demonstration suites.
func Suites() []*suite.Suite {
	return []*suite.Suite{Calc(), Greeter(), Ordered(), Slow()}
}

// Registry returns a registry holding every demonstration suite.
func Registry() *suite.Registry {
	reg := suite.NewRegistry()
	reg.MustRegister(Suites()...)
	return reg
}

// Calc checks integer arithmetic, logging from SetUp and TearDown.
func Calc() *suite.Suite {
	check := func(t *suite.T, op string, got, want int) {
		t.Logf("%s = %d", op, got)
		if got != want {
			t.Fatalf("%s: expected %d, got %d", op, want, got)
		}
	}
	return &suite.Suite{
		Name:     "Calc",
		SetUp:    func(t *suite.T) { t.Logf("setup %s", t.Name()) },
		TearDown: func(t *suite.T) { t.Logf("teardown %s", t.Name()) },
		Methods: []suite.Method{
			{Name: "testAdd", Func: func(t *suite.T) { check(t, "2+2", 2+2, 4) }},
			{Name: "testSub", Func: func(t *suite.T) { check(t, "7-5", 7-5, 2) }},
			{Name: "testMul", Func: func(t *suite.T) { check(t, "6*7", 6*7, 42) }},
			{Name: "testDiv", Func: func(t *suite.T) {
				a, b := 9, 3
				check(t, "9/3", a/b, 3)
			}},
		},
	}
}

// Greeter writes to both output channels.
func Greeter() *suite.Suite {
	return &suite.Suite{
		Name: "Greeter",
		Methods: []suite.Method{
			{Name: "testHello", Func: func(t *suite.T) {
				greeting := greet("world")
				fmt.Fprintln(t.Stdout(), greeting)
				if greeting != "Hello, world!" {
					t.Errorf("unexpected greeting %q", greeting)
				}
			}},
			{Name: "testWarn", Func: func(t *suite.T) {
				fmt.Fprintln(t.Stderr(), "warning: greeting an empty name")
				if got := greet(""); got != "Hello, stranger!" {
					t.Errorf("unexpected greeting %q", got)
				}
			}},
			{Name: "testMultiline", Func: func(t *suite.T) {
				for _, name := range []string{"ada", "grace", "linus"} {
					fmt.Fprintln(t.Stdout(), greet(name))
				}
			}},
		},
	}
}

func greet(name string) string {
	if name = strings.TrimSpace(name); name == "" {
		name = "stranger"
	}
	return "Hello, " + name + "!"
}

// Ordered declares its methods out of order; under the custom runner they
// run by their "order" metadata instead.
func Ordered() *suite.Suite {
	step := func(order string) suite.Method {
		return suite.Method{Metadata: map[string]string{"order": order}}
	}
	methods := []suite.Method{step("3"), step("1"), step("2")}
	for i, name := range []string{"testClose", "testConnect", "testQuery"} {
		order := methods[i].Metadata["order"]
		methods[i].Name = name
		methods[i].Func = func(t *suite.T) {
			t.Logf("step %s: %s", order, t.Name())
		}
	}
	return &suite.Suite{
		Name:    "Ordered",
		Methods: methods,
		Custom: func(ctx context.Context, methods []suite.Method, run func(suite.Method)) {
			sorted := slices.Clone(methods)
			slices.SortStableFunc(sorted, func(a, b suite.Method) int {
				return strings.Compare(a.Metadata["order"], b.Metadata["order"])
			})
			for _, m := range sorted {
				if ctx.Err() != nil {
					return
				}
				run(m)
			}
		},
	}
}

// Slow sleeps, honouring cancellation, to demonstrate timeouts.
func Slow() *suite.Suite {
	return &suite.Suite{
		Name: "Slow",
		Methods: []suite.Method{
			{Name: "testSleep", Func: func(t *suite.T) {
				d := sleepDuration()
				t.Logf("sleeping %s", d)
				select {
				case <-time.After(d):
				case <-t.Context().Done():
					t.Fatalf("interrupted after less than %s: %v", d, t.Context().Err())
				}
			}},
		},
	}
}

func sleepDuration() time.Duration {
	if v := os.Getenv(SlowEnv); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			return d
		}
	}
	return time.Second
}
