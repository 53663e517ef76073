// Package enrich attaches human-readable service and risk metadata to
// discovered ports. Enrichment is computed lazily on read paths and must
// never fail or block a scan's own lifecycle.
package enrich

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Placeholder is returned whenever no description can be produced.
const Placeholder = "No description available."

// Describer produces a description for ports the static table does not
// cover. Implementations may call out to an external service; errors are
// always swallowed by the applier.
type Describer interface {
	DescribePort(ctx context.Context, port int, service, state string) (string, error)
}

// staticDetails mirrors the curated port-knowledge table.
var staticDetails = map[int]string{
	20:   "FTP Data Transfer - used to transfer files; often paired with port 21.",
	21:   "FTP Control - file transfer protocol control channel (plain text).",
	22:   "SSH - secure remote login; supports key-based auth; common for admin access.",
	23:   "Telnet - plaintext remote login; insecure and rarely used in modern infra.",
	25:   "SMTP - mail transfer; servers accepting outbound mail or relays.",
	53:   "DNS - Domain Name System; UDP/TCP for queries and zone transfers.",
	67:   "DHCP Server - assigns IP addresses to clients.",
	68:   "DHCP Client - receives IP configuration from server.",
	80:   "HTTP - web traffic, unencrypted; often indicates web servers.",
	110:  "POP3 - retrieves emails from mail servers.",
	123:  "NTP - Network Time Protocol for clock synchronization.",
	143:  "IMAP - Internet Message Access Protocol for email retrieval.",
	161:  "SNMP - Simple Network Management Protocol for device monitoring.",
	389:  "LDAP - Lightweight Directory Access Protocol for directory services.",
	443:  "HTTPS - encrypted web traffic using TLS/SSL.",
	445:  "SMB - Server Message Block for file sharing on Windows.",
	3306: "MySQL - database server default port.",
	3389: "RDP - Windows Remote Desktop; sensitive if exposed to internet.",
	5432: "PostgreSQL - default port for PostgreSQL databases.",
	8080: "HTTP Alternate - commonly used for web proxies or alternative web services.",
}

// riskLevels flags ports whose exposure usually warrants attention.
// Unlisted ports default to "info".
var riskLevels = map[int]string{
	21:   "high",
	23:   "high",
	3389: "high",
	445:  "high",
	161:  "medium",
	389:  "medium",
	25:   "medium",
	110:  "medium",
	143:  "medium",
	3306: "medium",
	5432: "medium",
	80:   "low",
	8080: "low",
	22:   "low",
	53:   "low",
	443:  "info",
}

// serviceNames maps well-known ports to their conventional service name,
// used when the probe reported no service of its own.
var serviceNames = map[int]string{
	20:   "ftp-data",
	21:   "ftp",
	22:   "ssh",
	23:   "telnet",
	25:   "smtp",
	53:   "dns",
	67:   "dhcps",
	68:   "dhcpc",
	80:   "http",
	110:  "pop3",
	123:  "ntp",
	143:  "imap",
	161:  "snmp",
	389:  "ldap",
	443:  "https",
	445:  "smb",
	3306: "mysql",
	3389: "rdp",
	5432: "postgresql",
	8080: "http-alt",
}

// ServiceName returns a human-readable service name for a port. The probe's
// own detection wins; the well-known table covers the rest, and unknown
// ports yield "".
func ServiceName(port int, service string) string {
	if service != "" {
		return service
	}
	return serviceNames[port]
}

// RiskLevel returns the static exposure rating for a port.
func RiskLevel(port int) string {
	if r, ok := riskLevels[port]; ok {
		return r
	}
	return "info"
}

// StaticDescription returns the curated description for a port, or "".
func StaticDescription(port int) string {
	return staticDetails[port]
}

// Applier resolves descriptions with the static table first and an
// optional Describer for the rest, caching what the Describer returns.
type Applier struct {
	describer Describer
	timeout   time.Duration

	cache sync.Map // port -> string
}

// NewApplier creates an Applier. A nil describer is valid; unknown ports
// then resolve to the placeholder.
func NewApplier(describer Describer, timeout time.Duration) *Applier {
	return &Applier{describer: describer, timeout: timeout}
}

// Describe returns a description for one port. It never returns an error
// and never returns an empty string.
func (a *Applier) Describe(ctx context.Context, port int, service, state string) string {
	if d := staticDetails[port]; d != "" {
		return d
	}

	if v, ok := a.cache.Load(port); ok {
		return v.(string)
	}

	if a.describer == nil {
		return Placeholder
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	desc, err := a.describer.DescribePort(ctx, port, service, state)
	if err != nil || desc == "" {
		log.Debugf("enrich: describe port %d failed: %v", port, err)
		return Placeholder
	}

	a.cache.Store(port, desc)
	return desc
}
