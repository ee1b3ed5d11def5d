// Package doctor checks a testrelay setup: configuration, worker
// reachability, and whether workers were built from the same test set.
package doctor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mattjoyce/testrelay/internal/balancer"
	"github.com/mattjoyce/testrelay/internal/config"
	"github.com/mattjoyce/testrelay/internal/dispatch"
	"github.com/mattjoyce/testrelay/internal/server"
	"github.com/mattjoyce/testrelay/internal/suite"
)

// Result holds the outcome of a check run.
type Result struct {
	Valid     bool             `json:"valid"`
	Errors    []Issue          `json:"errors,omitempty"`
	Warnings  []Issue          `json:"warnings,omitempty"`
	Endpoints []EndpointStatus `json:"endpoints"`
}

// Issue describes a single error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// EndpointStatus is what doctor learned about one configured endpoint.
type EndpointStatus struct {
	Endpoint    string `json:"endpoint"`
	Live        bool   `json:"live"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Suites      int    `json:"suites,omitempty"`
	Match       bool   `json:"match"`
	Error       string `json:"error,omitempty"`
}

// Doctor checks configuration against the local registry and the workers.
type Doctor struct {
	cfg      *config.Config
	registry *suite.Registry
	prober   balancer.Prober
	client   *http.Client
}

// New creates a Doctor. A nil prober dials with the configured probe timeout.
func New(cfg *config.Config, registry *suite.Registry, prober balancer.Prober) *Doctor {
	if prober == nil {
		prober = balancer.DialProber{Timeout: cfg.Dispatch.ProbeTimeout}
	}
	return &Doctor{
		cfg:      cfg,
		registry: registry,
		prober:   prober,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Check runs all checks and returns a result.
func (d *Doctor) Check(ctx context.Context) *Result {
	r := &Result{Valid: true, Endpoints: []EndpointStatus{}}

	d.checkConfig(r)
	d.checkRegistry(r)
	d.checkEndpoints(ctx, r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) checkConfig(r *Result) {
	if err := config.Validate(d.cfg); err != nil {
		d.addError(r, "config", "", err.Error())
	}
	if d.cfg.State.Path == "" {
		d.addWarning(r, "config", "state.path", "run history is disabled")
	}
	if d.cfg.Dispatch.ReadTimeout > d.cfg.Dispatch.Timeout {
		d.addWarning(r, "config", "dispatch.read_timeout", "read_timeout exceeds the overall timeout and never fires")
	}
}

func (d *Doctor) checkRegistry(r *Result) {
	if len(d.registry.Suites()) == 0 {
		d.addWarning(r, "registry", "", "no suites registered locally")
	}
}

// checkEndpoints probes every endpoint and compares live workers'
// fingerprints with the local registry's.
func (d *Doctor) checkEndpoints(ctx context.Context, r *Result) {
	endpoints, err := d.cfg.Endpoints()
	if err != nil {
		d.addError(r, "endpoints", "dispatch.endpoints", err.Error())
		return
	}

	want := d.registry.Fingerprint()
	live := 0
	for _, ep := range endpoints {
		st := EndpointStatus{Endpoint: ep.String()}
		if err := d.prober.Probe(ctx, ep); err != nil {
			st.Error = err.Error()
			d.addWarning(r, "endpoints", ep.String(), "unreachable: "+err.Error())
			r.Endpoints = append(r.Endpoints, st)
			continue
		}
		st.Live = true
		live++

		health, err := d.healthz(ctx, ep)
		if err != nil {
			st.Error = err.Error()
			d.addError(r, "endpoints", ep.String(), "healthz: "+err.Error())
			r.Endpoints = append(r.Endpoints, st)
			continue
		}
		st.Fingerprint = health.Fingerprint
		st.Suites = health.Suites
		st.Match = health.Fingerprint == want
		if !st.Match {
			d.addError(r, "endpoints", ep.String(),
				fmt.Sprintf("worker test set differs from local registry (fingerprint %s, want %s)", short(health.Fingerprint), short(want)))
		}
		r.Endpoints = append(r.Endpoints, st)
	}

	if live == 0 {
		if d.cfg.Dispatch.Fallback == dispatch.FallbackFail {
			d.addError(r, "endpoints", "", "no endpoint is reachable and dispatch.fallback is fail")
		} else {
			d.addWarning(r, "endpoints", "", "no endpoint is reachable; runs will execute locally")
		}
	}
}

func (d *Doctor) healthz(ctx context.Context, ep balancer.Endpoint) (*server.HealthzResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.URL.JoinPath("healthz").String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %s", resp.Status)
	}
	var health server.HealthzResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if health.Status != "ok" {
		return nil, fmt.Errorf("worker status %q", health.Status)
	}
	return &health, nil
}

func short(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}

// FormatHuman returns a human-readable report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	for _, ep := range r.Endpoints {
		state := "down"
		switch {
		case ep.Live && ep.Match:
			state = "ok"
		case ep.Live && ep.Fingerprint != "":
			state = "mismatch"
		case ep.Live:
			state = "error"
		}
		fmt.Fprintf(&b, "  %-8s %s", state, ep.Endpoint)
		if ep.Fingerprint != "" {
			fmt.Fprintf(&b, " (%d suites, %s)", ep.Suites, short(ep.Fingerprint))
		}
		b.WriteString("\n")
	}

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString("Setup healthy.\n")
		return b.String()
	case r.Valid:
		fmt.Fprintf(&b, "Setup healthy (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Setup unhealthy (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
