package dispatch

import (
	"context"
	"net"
	"net/http"
	"time"
)

// deadlineConn extends the read deadline before every Read, so a worker
// that stops sending for longer than timeout fails the read while a
// long-running test that keeps streaming output does not.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

// newClient returns a client that opens a fresh connection per request.
func newClient(connectTimeout, readTimeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: connectTimeout}
	transport := &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		DisableKeepAlives: true,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if readTimeout <= 0 {
				return conn, nil
			}
			return &deadlineConn{Conn: conn, timeout: readTimeout}, nil
		},
		ResponseHeaderTimeout: readTimeout,
	}
	return &http.Client{Transport: transport}
}
