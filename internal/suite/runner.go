package suite

import (
	"context"
	"fmt"

	"github.com/mattjoyce/testrelay/internal/mux"
	"github.com/mattjoyce/testrelay/internal/protocol"
)

// Runner tags accepted in the runner query parameter.
const (
	RunnerSequential = "sequential"
	RunnerMethod     = "method"
	RunnerCustom     = "custom"
)

// Runners lists every accepted runner tag.
var Runners = []string{RunnerSequential, RunnerMethod, RunnerCustom}

// Strategy executes the selected methods of a suite.
type Strategy interface {
	Name() string
	Run(ctx context.Context, s *Suite, methods []Method, out mux.Output, rec *Recorder)
}

// StrategyFor returns the strategy for tag. An empty tag selects sequential.
func StrategyFor(tag string) (Strategy, error) {
	switch tag {
	case "", RunnerSequential:
		return sequential{}, nil
	case RunnerMethod:
		return singleMethod{}, nil
	case RunnerCustom:
		return custom{}, nil
	default:
		return nil, fmt.Errorf("%w %q (want one of %v)", ErrUnknownRunner, tag, Runners)
	}
}

type sequential struct{}

func (sequential) Name() string { return RunnerSequential }

func (sequential) Run(ctx context.Context, s *Suite, methods []Method, out mux.Output, rec *Recorder) {
	for _, m := range methods {
		runMethod(ctx, s, m, out, rec)
	}
}

type singleMethod struct{}

func (singleMethod) Name() string { return RunnerMethod }

func (singleMethod) Run(ctx context.Context, s *Suite, methods []Method, out mux.Output, rec *Recorder) {
	if len(methods) != 1 {
		rec.Fail(protocol.NewFailure(fmt.Sprintf("runner %q requires exactly one method, %s has %d selected", RunnerMethod, s.Name, len(methods))))
		return
	}
	runMethod(ctx, s, methods[0], out, rec)
}

type custom struct{}

func (custom) Name() string { return RunnerCustom }

func (custom) Run(ctx context.Context, s *Suite, methods []Method, out mux.Output, rec *Recorder) {
	if s.Custom == nil {
		rec.Fail(protocol.NewFailure(fmt.Sprintf("suite %s has no custom runner", s.Name)))
		return
	}
	s.Custom(ctx, methods, func(m Method) {
		runMethod(ctx, s, m, out, rec)
	})
}
