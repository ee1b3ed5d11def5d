// Package suite holds the explicit registry of executable test suites and
// the runner strategies that execute them.
//
// Suites are registered by name. A worker resolves the suite named in a
// request against its registry, narrows it to the requested method, and
// runs it with one of a fixed set of strategies selected by tag:
//
//   - sequential: every method in order, SetUp/TearDown around each
//   - method:     exactly one method, rejected otherwise
//   - custom:     the suite's own Custom hook decides order and grouping
//
// The same registry backs local execution when no worker is reachable.
package suite

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound means the requested suite is not registered.
	ErrNotFound = errors.New("suite not found")
	// ErrNoTestsRemain means a method filter removed every test.
	ErrNoTestsRemain = errors.New("no tests remaining")
	// ErrUnknownRunner means the runner tag names no strategy.
	ErrUnknownRunner = errors.New("unknown runner")
)

// TestID names a suite and optionally one of its methods.
type TestID struct {
	Suite    string
	Method   string
	Metadata map[string]string
}

// String renders the identifier as Suite#Method, or Suite when no method is set.
func (id TestID) String() string {
	if id.Method == "" {
		return id.Suite
	}
	return id.Suite + "#" + id.Method
}

// ParseTestID parses Suite or Suite#Method.
func ParseTestID(s string) (TestID, error) {
	s = strings.TrimSpace(s)
	name, method, _ := strings.Cut(s, "#")
	if name == "" {
		return TestID{}, fmt.Errorf("invalid test id %q: empty suite name", s)
	}
	return TestID{Suite: name, Method: method}, nil
}

// Func is the body of a test method or hook.
type Func func(t *T)

// Method is one named test in a suite.
type Method struct {
	Name     string
	Func     Func
	Metadata map[string]string
}

// CustomRunner lets a suite control its own execution. It must call run
// for each method it wants executed.
type CustomRunner func(ctx context.Context, methods []Method, run func(Method))

// Suite is a named, ordered group of test methods.
type Suite struct {
	Name    string
	Methods []Method

	// SetUp and TearDown run around every method. TearDown runs even when
	// SetUp or the method fails.
	SetUp    Func
	TearDown Func

	// Custom is used by the custom runner strategy.
	Custom CustomRunner
}

func (s *Suite) method(name string) (Method, bool) {
	for _, m := range s.Methods {
		if m.Name == name {
			return m, true
		}
	}
	return Method{}, false
}

// IDs returns one identifier per method, in declaration order.
func (s *Suite) IDs() []TestID {
	ids := make([]TestID, 0, len(s.Methods))
	for _, m := range s.Methods {
		ids = append(ids, TestID{Suite: s.Name, Method: m.Name, Metadata: m.Metadata})
	}
	return ids
}
