// Package target normalizes free-form scan targets (IP, domain or URL)
// into a canonical hostname and resolves domains to IPv4 addresses.
package target

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrResolutionFailed covers every way a hostname can fail to yield an IPv4
// address: NXDOMAIN, DNS errors and empty A-record sets are not distinguished.
var ErrResolutionFailed = errors.New("could not resolve target to an IPv4 address")

// ErrUnparsable is returned when no candidate host can be extracted at all.
var ErrUnparsable = errors.New("could not parse target")

// Normalized is the canonical form of a raw target string.
type Normalized struct {
	Host        string
	IsLiteralIP bool
}

// Normalize extracts the canonical host from a raw IP, bare domain or URL.
// Credentials and port suffixes are stripped from the host component.
func Normalize(raw string) (Normalized, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Normalized{}, ErrUnparsable
	}

	host := s
	if strings.Contains(s, "://") || strings.HasPrefix(s, "www.") {
		candidate := s
		if !strings.Contains(candidate, "://") {
			candidate = "http://" + candidate
		}
		u, err := url.Parse(candidate)
		if err != nil || u.Hostname() == "" {
			return Normalized{}, ErrUnparsable
		}
		host = u.Hostname()
	} else {
		// Bare host possibly carrying credentials or a port suffix
		if at := strings.LastIndex(host, "@"); at != -1 {
			host = host[at+1:]
		}
		if colon := strings.LastIndex(host, ":"); colon != -1 && !strings.Contains(host[colon+1:], "/") {
			if _, err := strconv.Atoi(host[colon+1:]); err == nil {
				host = host[:colon]
			}
		}
	}

	if host == "" {
		return Normalized{}, ErrUnparsable
	}

	return Normalized{Host: host, IsLiteralIP: IsLiteralIPv4(host)}, nil
}

// IsLiteralIPv4 reports whether s is a dotted-quad with four numeric octets.
// Literal IPs skip DNS resolution entirely and are scanned as-is.
func IsLiteralIPv4(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if p == "" || len(p) > 3 {
			return false
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return false
		}
	}
	return true
}

// LookupFunc resolves a hostname to IP addresses. Injectable for tests.
type LookupFunc func(ctx context.Context, network, host string) ([]net.IP, error)

// Resolver performs IPv4-only DNS resolution with a bounded timeout.
// IPv6 is never attempted; the probe is invoked IPv4-only.
type Resolver struct {
	Timeout time.Duration
	Lookup  LookupFunc
}

// NewResolver returns a Resolver backed by the default net.Resolver.
func NewResolver(timeout time.Duration) *Resolver {
	r := &net.Resolver{}
	return &Resolver{Timeout: timeout, Lookup: r.LookupIP}
}

// ResolveIPv4 returns every distinct A-record address for hostname.
// The result set is unordered; an empty set or any DNS error is reported
// as the single ErrResolutionFailed condition.
func (r *Resolver) ResolveIPv4(ctx context.Context, hostname string) ([]string, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	ips, err := r.Lookup(ctx, "ip4", hostname)
	if err != nil {
		return nil, ErrResolutionFailed
	}

	seen := make(map[string]struct{}, len(ips))
	var addrs []string
	for _, ip := range ips {
		v4 := ip.To4()
		if v4 == nil {
			continue
		}
		s := v4.String()
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		addrs = append(addrs, s)
	}

	if len(addrs) == 0 {
		return nil, ErrResolutionFailed
	}
	return addrs, nil
}
