// Package models contains shared data structures used across the application
package models

import "time"

// ScanStatus is the lifecycle state of a ScanTask.
// Transitions are monotonic: PENDING -> RUNNING -> {COMPLETED, FAILED}.
type ScanStatus string

const (
	StatusPending   ScanStatus = "PENDING"
	StatusRunning   ScanStatus = "RUNNING"
	StatusCompleted ScanStatus = "COMPLETED"
	StatusFailed    ScanStatus = "FAILED"
)

// Terminal reports whether no further transitions are allowed.
func (s ScanStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Failure reasons recorded on a FAILED ScanTask.
const (
	ReasonResolutionFailed = "RESOLUTION_FAILED"
	ReasonProbeNotFound    = "PROBE_NOT_FOUND"
	ReasonProbeExecFailed  = "PROBE_EXEC_FAILED"
	ReasonParseFailed      = "PARSE_FAILED"
)

// ScanTask is one user-initiated port scan request.
type ScanTask struct {
	ID              int64      `json:"scan_id"`
	Token           string     `json:"task_token"`
	Target          string     `json:"target"`
	CanonicalTarget string     `json:"canonical_target,omitempty"`
	PortRange       string     `json:"port_range"`
	Status          ScanStatus `json:"status"`
	FailReason      string     `json:"fail_reason,omitempty"`
	StartTime       *time.Time `json:"start_time"`
	EndTime         *time.Time `json:"end_time"`
	CreatedAt       time.Time  `json:"created_at"`
}

// ScanResult is one discovered port for a ScanTask.
// Rows are create-only; only Description may be filled in later by enrichment.
type ScanResult struct {
	ID          int64  `json:"-"`
	ScanID      int64  `json:"-"`
	Port        int    `json:"port"`
	State       string `json:"state"`
	Service     string `json:"service,omitempty"`
	Reason      string `json:"reason,omitempty"`
	TTL         string `json:"ttl,omitempty"`
	Description string `json:"description,omitempty"`
}

// WebTarget is an HTTP target registered for web-vulnerability checks.
type WebTarget struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// Web scan types accepted by the web-check runner.
var WebScanTypes = []string{"Passive", "Quick", "Full", "SQLi", "XSS", "Headers"}

// WebScan is one vulnerability-check run against a WebTarget.
// Progress is monotonically non-decreasing; Log is append-only.
type WebScan struct {
	ID         int64      `json:"id"`
	TargetID   int64      `json:"target_id"`
	ScanType   string     `json:"scan_type"`
	Status     string     `json:"status"` // queued|running|completed|cancelled
	Progress   int        `json:"progress"`
	StartedAt  *time.Time `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	Log        string     `json:"log"`
}

// Vulnerability is one finding attached to a WebScan. Immutable once created.
type Vulnerability struct {
	ID          int64     `json:"id"`
	ScanID      int64     `json:"scan_id"`
	Type        string    `json:"type"`
	Severity    string    `json:"severity"` // Critical|High|Medium|Low
	URL         string    `json:"url,omitempty"`
	Parameter   string    `json:"parameter,omitempty"`
	Status      string    `json:"status"`
	Evidence    string    `json:"evidence,omitempty"`
	Remediation string    `json:"remediation,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
