package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/testrelay/internal/protocol"
	"github.com/mattjoyce/testrelay/internal/suite"
)

// handleRun handles POST /{suite}?method=&runner=.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	req := protocol.ParseRequest(chi.URLParam(r, "suite"), r.URL.Query())
	logger := s.logger.With("suite", req.Suite, "method", req.Method, "runner", req.Runner,
		"request_id", middleware.GetReqID(r.Context()))

	plan, err := s.registry.Plan(req)
	if err != nil {
		if errors.Is(err, suite.ErrNoTestsRemain) {
			logger.Info("method filter left no tests", "error", err)
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			if err := protocol.WriteFailure(w, &protocol.Failure{Headline: protocol.NoTestsRemaining}); err != nil {
				logger.Warn("failed to write terminal line", "error", err)
			}
			return
		}
		logger.Warn("cannot resolve request", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	logger = logger.With("strategy", plan.Strategy.Name())

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	start := time.Now()
	failure := s.execute(r, plan, w)

	if failure != nil {
		logger.Info("execution failed", "duration_ms", time.Since(start).Milliseconds(), "failure", failure.Headline)
		err = protocol.WriteFailure(w, failure)
	} else {
		logger.Info("execution succeeded", "duration_ms", time.Since(start).Milliseconds())
		err = protocol.WriteSuccess(w)
	}
	if err != nil {
		logger.Warn("failed to write terminal line", "error", err)
	}
}

// execute runs plan with console output captured into w. The capture is
// released before returning, panics included.
func (s *Server) execute(r *http.Request, plan *suite.Plan, w http.ResponseWriter) (failure *protocol.Failure) {
	capture := s.console.Acquire(w)
	defer func() {
		if rec := recover(); rec != nil {
			failure = protocol.NewFailure(fmt.Sprintf("%s: runner panic: %v", plan.Suite.Name, rec))
		}
		if err := capture.Release(); err != nil {
			s.logger.Warn("output sink failed", "suite", plan.Suite.Name, "error", err)
		}
	}()
	return plan.Run(r.Context(), capture.Output())
}

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Suites:        len(s.registry.Suites()),
		Fingerprint:   s.registry.Fingerprint(),
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleSuites handles GET /suites.
func (s *Server) handleSuites(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, Describe(s.registry))
}

// Describe lists the suites of reg in registration order.
func Describe(reg *suite.Registry) SuitesResponse {
	suites := reg.Suites()
	resp := SuitesResponse{Suites: make([]SuiteInfo, 0, len(suites))}
	for _, st := range suites {
		info := SuiteInfo{Name: st.Name, Custom: st.Custom != nil, Methods: make([]string, 0, len(st.Methods))}
		for _, m := range st.Methods {
			info.Methods = append(info.Methods, m.Name)
		}
		resp.Suites = append(resp.Suites, info)
	}
	return resp
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}
