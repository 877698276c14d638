package client

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

const (
	SchemeCoAP  = "coap"
	SchemeCoAPS = "coaps"

	DefaultPort       = "5683"
	DefaultSecurePort = "5684"
)

// Endpoint is a parsed coap:// or coaps:// target.
type Endpoint struct {
	Scheme string
	// Host is an IP address or name without brackets. Link-local IPv6
	// addresses keep their zone, e.g. fe80::1%tap0.
	Host    string
	Port    string
	Path    string
	Queries []string
}

// Address returns host:port suitable for dialing.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, e.Port)
}

// Secure reports whether the endpoint requires DTLS.
func (e Endpoint) Secure() bool {
	return e.Scheme == SchemeCoAPS
}

func (e Endpoint) String() string {
	u := url.URL{
		Scheme:   e.Scheme,
		Host:     e.Address(),
		Path:     e.Path,
		RawQuery: strings.Join(e.Queries, "&"),
	}
	return u.String()
}

// ParseURI parses a CoAP URI. A raw IPv6 zone such as
// coap://[fe80::1%tap0]/sid is accepted in addition to the escaped %25 form.
// Multicast hosts are rejected: a request is answered by a single peer over
// a connected socket.
func ParseURI(uri string) (Endpoint, error) {
	u, err := url.Parse(escapeZone(uri))
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w %q: %v", ErrInvalidURI, uri, err)
	}
	ep := Endpoint{
		Scheme: strings.ToLower(u.Scheme),
		Host:   u.Hostname(),
		Port:   u.Port(),
		Path:   u.Path,
	}
	switch ep.Scheme {
	case SchemeCoAP:
		if ep.Port == "" {
			ep.Port = DefaultPort
		}
	case SchemeCoAPS:
		if ep.Port == "" {
			ep.Port = DefaultSecurePort
		}
	default:
		return Endpoint{}, fmt.Errorf("%w %q: unsupported scheme %q", ErrInvalidURI, uri, u.Scheme)
	}
	if ep.Host == "" {
		return Endpoint{}, fmt.Errorf("%w %q: missing host", ErrInvalidURI, uri)
	}
	if ip := net.ParseIP(stripZone(ep.Host)); ip != nil && ip.IsMulticast() {
		return Endpoint{}, fmt.Errorf("%w %q: multicast host %v", ErrInvalidURI, uri, ep.Host)
	}
	if u.RawQuery != "" {
		for _, q := range strings.Split(u.RawQuery, "&") {
			v, err := url.QueryUnescape(q)
			if err != nil {
				return Endpoint{}, fmt.Errorf("%w %q: query: %v", ErrInvalidURI, uri, err)
			}
			ep.Queries = append(ep.Queries, v)
		}
	}
	return ep, nil
}

func escapeZone(uri string) string {
	start := strings.Index(uri, "[")
	end := strings.Index(uri, "]")
	if start < 0 || end < start {
		return uri
	}
	host := uri[start:end]
	i := strings.Index(host, "%")
	if i < 0 || strings.HasPrefix(host[i:], "%25") {
		return uri
	}
	return uri[:start] + host[:i] + "%25" + host[i+1:] + uri[end:]
}

func stripZone(host string) string {
	if i := strings.IndexByte(host, '%'); i >= 0 {
		return host[:i]
	}
	return host
}
