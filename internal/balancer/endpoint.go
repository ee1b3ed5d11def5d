package balancer

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// DefaultEndpoint is used when no endpoints are configured.
const DefaultEndpoint = "http://localhost:4578/"

// Endpoint is the base URL of one execution worker.
type Endpoint struct {
	URL *url.URL
}

// ParseEndpoint parses an absolute http(s) base URL with an explicit host
// and port. The path is normalized to end in a slash so suite names can be
// resolved against it.
func ParseEndpoint(raw string) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: scheme must be http or https", raw)
	}
	if u.Hostname() == "" || u.Port() == "" {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: host and port are required", raw)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return Endpoint{URL: u}, nil
}

// ParseEndpoints parses a comma-separated endpoint list. Blank entries are
// skipped and an empty list yields DefaultEndpoint.
func ParseEndpoints(list string) ([]Endpoint, error) {
	return ParseEndpointList(strings.Split(list, ","))
}

// ParseEndpointList parses each entry of list, skipping blanks. An empty
// list yields DefaultEndpoint.
func ParseEndpointList(list []string) ([]Endpoint, error) {
	var out []Endpoint
	for _, raw := range list {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		ep, err := ParseEndpoint(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	if len(out) == 0 {
		ep, err := ParseEndpoint(DefaultEndpoint)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, nil
}

// Address returns host:port for connectivity probes.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.URL.Hostname(), e.URL.Port())
}

func (e Endpoint) String() string {
	if e.URL == nil {
		return ""
	}
	return e.URL.String()
}
