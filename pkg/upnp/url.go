// ABOUTME: URL helpers for renderer base and control URLs
// ABOUTME: Host/port extraction and control URL normalization
package upnp

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// ParseURL returns the host and port of an http(s) URL. A missing port
// defaults to 80 for http and 443 for https.
func ParseURL(raw string) (host string, port int, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, fmt.Errorf("invalid url %q: %w", raw, err)
	}

	host = u.Hostname()
	if host == "" {
		return "", 0, fmt.Errorf("invalid url %q: no host", raw)
	}

	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return "", 0, fmt.Errorf("invalid url %q: bad port %q", raw, p)
		}
		return host, port, nil
	}

	switch strings.ToLower(u.Scheme) {
	case "http":
		return host, 80, nil
	case "https":
		return host, 443, nil
	default:
		return "", 0, fmt.Errorf("invalid url %q: unsupported scheme %q", raw, u.Scheme)
	}
}

// NormalizeControlURL prefixes a relative control URL with "/". Empty
// strings are returned unchanged; absolute URLs are reduced to their path.
func NormalizeControlURL(s string) string {
	if s == "" || strings.HasPrefix(s, "/") {
		return s
	}
	if strings.Contains(s, "://") {
		if u, err := url.Parse(s); err == nil && u.Host != "" {
			return u.RequestURI()
		}
	}
	return "/" + s
}

// SameHostPort reports whether two URLs point at the same host and port
func SameHostPort(a, b string) bool {
	ha, pa, err := ParseURL(a)
	if err != nil {
		return false
	}
	hb, pb, err := ParseURL(b)
	if err != nil {
		return false
	}
	return strings.EqualFold(ha, hb) && pa == pb
}

// BaseURL returns "http://host[:port]/" for the host of location
func BaseURL(location string) (string, error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", location, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid url %q: no host", location)
	}
	return "http://" + u.Host + "/", nil
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
