package probe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// FallbackProber recovers web ports that filtering infrastructure may hide
// from the primary probe by issuing direct HTTP/HTTPS requests.
type FallbackProber struct {
	Client *http.Client
}

// NewFallbackProber returns a prober with a bounded per-request timeout.
func NewFallbackProber(timeout time.Duration) *FallbackProber {
	return &FallbackProber{
		Client: &http.Client{Timeout: timeout},
	}
}

var fallbackSchemes = []struct {
	scheme  string
	port    int
	service string
}{
	{"http", 80, "http"},
	{"https", 443, "https"},
}

// Probe checks http://hostname and https://hostname independently.
// A status below 500 counts as reachable regardless of body. Connection and
// timeout errors are swallowed; this step never fails the overall task.
func (f *FallbackProber) Probe(ctx context.Context, hostname string) []PortEntry {
	var entries []PortEntry

	for _, s := range fallbackSchemes {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s://%s", s.scheme, hostname), nil)
		if err != nil {
			continue
		}

		resp, err := f.Client.Do(req)
		if err != nil {
			log.Debugf("fallback: %s probe of %s failed: %v", s.scheme, hostname, err)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 500 {
			continue
		}

		entries = append(entries, PortEntry{
			Port:    s.port,
			State:   "open",
			Service: s.service,
			Reason:  "http-fallback",
		})
	}

	return entries
}
