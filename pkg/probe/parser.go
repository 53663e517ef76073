package probe

import (
	"encoding/xml"
	"fmt"

	"github.com/Neo-Ayush-jha/Web-Scanner/pkg/models"
)

// PortEntry is one discovered port as reported by the probe or fallback.
type PortEntry struct {
	Port    int
	State   string
	Service string
	Reason  string
	TTL     string
}

// ParseError means the probe's raw output could not be decoded; usually a
// probe/version mismatch. The owning task transitions to FAILED.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse probe XML: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// retainedStates filters which port states become ScanResult rows.
// Everything else ("unfiltered", malformed) is dropped silently.
var retainedStates = map[string]bool{
	"open":     true,
	"filtered": true,
	"closed":   true,
}

// Parse converts raw probe XML into port entries, preserving tag order.
// Parse is pure: identical input yields an identical sequence.
func Parse(raw []byte) ([]PortEntry, error) {
	var run models.ProbeRun
	if err := xml.Unmarshal(raw, &run); err != nil {
		return nil, &ParseError{Err: err}
	}

	var entries []PortEntry
	for _, host := range run.Hosts {
		if host.Ports == nil {
			continue
		}
		for _, p := range host.Ports.List {
			state := "unknown"
			reason := ""
			ttl := ""
			if p.State != nil {
				state = p.State.State
				reason = p.State.Reason
				ttl = p.State.ReasonTTL
			}
			if !retainedStates[state] {
				continue
			}

			service := ""
			if p.Service != nil {
				service = p.Service.Name
			}

			entries = append(entries, PortEntry{
				Port:    p.PortID,
				State:   state,
				Service: service,
				Reason:  reason,
				TTL:     ttl,
			})
		}
	}

	return entries, nil
}
