// Package webscan runs an ordered list of lightweight vulnerability checks
// against one HTTP target, tracking progress and an append-only log.
package webscan

import (
	"context"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Neo-Ayush-jha/Web-Scanner/pkg/models"
)

// maxBodyBytes caps how much of a response body any check will read.
const maxBodyBytes = 2 << 20

// Store is the slice of the repository the runner needs.
type Store interface {
	GetWebScan(id int64) (*models.WebScan, error)
	GetWebTarget(id int64) (*models.WebTarget, error)
	StartWebScan(id int64, ts time.Time) error
	AppendWebScanLog(id int64, line string) error
	SetWebScanProgress(id int64, progress int) error
	FinishWebScan(id int64, status string, progress int, ts time.Time) error
	WebScanCancelRequested(id int64) (bool, error)
	InsertVulnerability(v models.Vulnerability) error
}

type step struct {
	name string
	fn   func(*Runner, context.Context, int64, *models.WebTarget)
}

// steps is the fixed, ordered check list. Every check is
// failure-independent: one step's error never aborts the rest.
var steps = []step{
	{"Fetching target", (*Runner).fetchTarget},
	{"Checking headers", (*Runner).checkHeaders},
	{"Simulate SQLi probes", (*Runner).simulateSQLI},
	{"Simulate XSS probes", (*Runner).simulateXSS},
	{"Check misconfiguration", (*Runner).checkMisconfig},
	{"Fingerprint components", (*Runner).fingerprintComponents},
}

// Runner executes web scans to completion or cancellation.
type Runner struct {
	store  Store
	client *http.Client
}

// NewRunner creates a Runner whose checks share one HTTP client with a
// bounded per-request timeout.
func NewRunner(store Store, timeout time.Duration) *Runner {
	return &Runner{
		store:  store,
		client: &http.Client{Timeout: timeout},
	}
}

// Run executes the scan with the given ID through the fixed step list.
// Cancellation is honored between steps only; a cancelled scan keeps the
// progress it had reached rather than jumping to 100.
func (r *Runner) Run(ctx context.Context, scanID int64) error {
	scan, err := r.store.GetWebScan(scanID)
	if err != nil {
		return fmt.Errorf("load web scan %d: %w", scanID, err)
	}
	if scan == nil {
		return fmt.Errorf("web scan %d not found", scanID)
	}
	if scan.Status != "queued" {
		log.Infof("web scan %d already %s, skipping", scanID, scan.Status)
		return nil
	}

	target, err := r.store.GetWebTarget(scan.TargetID)
	if err != nil {
		return fmt.Errorf("load target %d: %w", scan.TargetID, err)
	}
	if target == nil {
		return fmt.Errorf("target %d for web scan %d not found", scan.TargetID, scanID)
	}

	if err := r.store.StartWebScan(scanID, time.Now()); err != nil {
		return fmt.Errorf("start web scan %d: %w", scanID, err)
	}

	r.logf(scanID, "Starting scan on %s (%s)", target.URL, scan.ScanType)

	total := len(steps)
	for i, s := range steps {
		cancelled, err := r.store.WebScanCancelRequested(scanID)
		if err != nil {
			log.Warnf("web scan %d: read cancel flag: %v", scanID, err)
		}
		if cancelled {
			r.logf(scanID, "Scan cancelled")
			progress := i * 100 / total
			if err := r.store.FinishWebScan(scanID, "cancelled", progress, time.Now()); err != nil {
				return fmt.Errorf("record cancellation for web scan %d: %w", scanID, err)
			}
			return nil
		}

		r.logf(scanID, "Step %d/%d: %s", i+1, total, s.name)
		s.fn(r, ctx, scanID, target)

		progress := (i + 1) * 100 / total
		if err := r.store.SetWebScanProgress(scanID, progress); err != nil {
			log.Warnf("web scan %d: set progress: %v", scanID, err)
		}
	}

	if err := r.store.FinishWebScan(scanID, "completed", 100, time.Now()); err != nil {
		return fmt.Errorf("finish web scan %d: %w", scanID, err)
	}
	r.logf(scanID, "Scan completed successfully")
	return nil
}

func (r *Runner) logf(scanID int64, format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if err := r.store.AppendWebScanLog(scanID, line); err != nil {
		log.Warnf("web scan %d: append log: %v", scanID, err)
	}
}

func (r *Runner) record(scanID int64, v models.Vulnerability) {
	v.ScanID = scanID
	v.Status = "Open"
	if err := r.store.InsertVulnerability(v); err != nil {
		log.Warnf("web scan %d: record finding %q: %v", scanID, v.Type, err)
	}
}
