// Package balancer tracks which execution workers are reachable and hands
// them out in round-robin order.
package balancer

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Prober checks whether an endpoint accepts connections.
type Prober interface {
	Probe(ctx context.Context, ep Endpoint) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, ep Endpoint) error

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context, ep Endpoint) error { return f(ctx, ep) }

// DialProber probes with a plain TCP connect.
type DialProber struct {
	Timeout time.Duration
}

// Probe opens and immediately closes a TCP connection to ep.
func (p DialProber) Probe(ctx context.Context, ep Endpoint) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", ep.Address())
	if err != nil {
		return fmt.Errorf("probe %s: %w", ep.Address(), err)
	}
	return conn.Close()
}

// Pool is the set of endpoints that answered the startup probe. It is fixed
// after construction and safe for concurrent use.
type Pool struct {
	all  []Endpoint
	live []Endpoint
	next atomic.Uint64
}

// NewPool probes every endpoint once, concurrently, and keeps the live ones
// in configured order. A pool with no live endpoints is valid.
func NewPool(ctx context.Context, endpoints []Endpoint, prober Prober, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	alive := make([]bool, len(endpoints))

	var g errgroup.Group
	for i, ep := range endpoints {
		g.Go(func() error {
			if err := prober.Probe(ctx, ep); err != nil {
				logger.Warn("endpoint unreachable", "endpoint", ep.String(), "error", err)
				return nil
			}
			logger.Debug("endpoint reachable", "endpoint", ep.String())
			alive[i] = true
			return nil
		})
	}
	_ = g.Wait()

	p := &Pool{all: endpoints}
	for i, ep := range endpoints {
		if alive[i] {
			p.live = append(p.live, ep)
		}
	}
	logger.Info("endpoint pool ready", "configured", len(endpoints), "live", len(p.live))
	return p
}

// Live reports whether any endpoint answered.
func (p *Pool) Live() bool { return len(p.live) > 0 }

// Len returns the number of live endpoints.
func (p *Pool) Len() int { return len(p.live) }

// Endpoints returns the live endpoints in configured order.
func (p *Pool) Endpoints() []Endpoint { return append([]Endpoint(nil), p.live...) }

// Configured returns every configured endpoint, live or not.
func (p *Pool) Configured() []Endpoint { return append([]Endpoint(nil), p.all...) }

// Next returns the next live endpoint in rotation. It panics on an empty
// pool; callers check Live first.
func (p *Pool) Next() Endpoint {
	n := p.next.Add(1) - 1
	return p.live[n%uint64(len(p.live))]
}
