package suite

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/testrelay/internal/mux"
	"github.com/mattjoyce/testrelay/internal/protocol"
)

// Registry maps suite names to executable suites.
type Registry struct {
	mu     sync.RWMutex
	suites map[string]*Suite
	order  []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{suites: make(map[string]*Suite)}
}

// Register adds a suite. Names must be unique and methods within a suite
// must have unique, non-empty names.
func (r *Registry) Register(s *Suite) error {
	if s == nil || s.Name == "" {
		return fmt.Errorf("suite name is empty")
	}
	seen := make(map[string]bool, len(s.Methods))
	for i, m := range s.Methods {
		if m.Name == "" {
			return fmt.Errorf("suite %s: method[%d] has no name", s.Name, i)
		}
		if m.Func == nil {
			return fmt.Errorf("suite %s: method %s has no body", s.Name, m.Name)
		}
		if seen[m.Name] {
			return fmt.Errorf("suite %s: duplicate method %s", s.Name, m.Name)
		}
		seen[m.Name] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.suites[s.Name]; exists {
		return fmt.Errorf("suite %s already registered", s.Name)
	}
	r.suites[s.Name] = s
	r.order = append(r.order, s.Name)
	return nil
}

// MustRegister is Register for package-level setup; it panics on error.
func (r *Registry) MustRegister(suites ...*Suite) {
	for _, s := range suites {
		if err := r.Register(s); err != nil {
			panic(err)
		}
	}
}

// Lookup returns the named suite.
func (r *Registry) Lookup(name string) (*Suite, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.suites[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return s, nil
}

// Suites returns every suite in registration order.
func (r *Registry) Suites() []*Suite {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Suite, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.suites[name])
	}
	return out
}

// Identifiers expands suite names into per-method identifiers, in
// registration and declaration order. With no names, every suite is used.
func (r *Registry) Identifiers(names ...string) ([]TestID, error) {
	if len(names) == 0 {
		var ids []TestID
		for _, s := range r.Suites() {
			ids = append(ids, s.IDs()...)
		}
		return ids, nil
	}

	var ids []TestID
	for _, name := range names {
		id, err := ParseTestID(name)
		if err != nil {
			return nil, err
		}
		s, err := r.Lookup(id.Suite)
		if err != nil {
			return nil, err
		}
		if id.Method == "" {
			ids = append(ids, s.IDs()...)
			continue
		}
		m, ok := s.method(id.Method)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no method %s", ErrNoTestsRemain, s.Name, id.Method)
		}
		ids = append(ids, TestID{Suite: s.Name, Method: m.Name, Metadata: m.Metadata})
	}
	return ids, nil
}

// Fingerprint is a BLAKE3 digest over the sorted Suite#Method names. Two
// processes built from the same test set report the same fingerprint.
func (r *Registry) Fingerprint() string {
	var names []string
	for _, s := range r.Suites() {
		names = append(names, s.Name)
		for _, m := range s.Methods {
			names = append(names, s.Name+"#"+m.Name)
		}
	}
	sort.Strings(names)

	h := blake3.New()
	for _, n := range names {
		_, _ = h.Write([]byte(n))
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Plan is a resolved request, ready to execute.
type Plan struct {
	Suite    *Suite
	Methods  []Method
	Strategy Strategy
}

// Plan resolves req against the registry. It returns ErrNotFound or
// ErrUnknownRunner for requests that cannot be loaded, and
// ErrNoTestsRemain when the method filter selects nothing.
func (r *Registry) Plan(req protocol.Request) (*Plan, error) {
	s, err := r.Lookup(req.Suite)
	if err != nil {
		return nil, err
	}
	strategy, err := StrategyFor(req.Runner)
	if err != nil {
		return nil, err
	}

	methods := s.Methods
	if req.Method != "" {
		m, ok := s.method(req.Method)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no method %s", ErrNoTestsRemain, s.Name, req.Method)
		}
		methods = []Method{m}
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("%w: %s has no methods", ErrNoTestsRemain, s.Name)
	}
	return &Plan{Suite: s, Methods: methods, Strategy: strategy}, nil
}

// Run executes the plan once and returns the first failure, or nil. A
// strategy that ran no method reports NoTestsRemaining.
func (p *Plan) Run(ctx context.Context, out mux.Output) *protocol.Failure {
	rec := &Recorder{}
	p.Strategy.Run(ctx, p.Suite, p.Methods, out, rec)
	if f := rec.First(); f != nil {
		return f
	}
	if rec.Ran() == 0 {
		return &protocol.Failure{Headline: protocol.NoTestsRemaining}
	}
	return nil
}

// Execute resolves and runs req in-process.
func (r *Registry) Execute(ctx context.Context, req protocol.Request, out mux.Output) (*protocol.Failure, error) {
	plan, err := r.Plan(req)
	if err != nil {
		return nil, err
	}
	return plan.Run(ctx, out), nil
}
