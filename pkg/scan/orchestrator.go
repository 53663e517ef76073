// Package scan owns the port-scan task lifecycle: it drives a task from
// PENDING through RUNNING to a terminal COMPLETED or FAILED state while
// coordinating resolution, probing, parsing and the fallback pass.
package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Neo-Ayush-jha/Web-Scanner/pkg/models"
	"github.com/Neo-Ayush-jha/Web-Scanner/pkg/probe"
	"github.com/Neo-Ayush-jha/Web-Scanner/pkg/target"
)

// Store is the slice of the repository the orchestrator needs.
type Store interface {
	GetScanTask(id int64) (*models.ScanTask, error)
	MarkScanRunning(id int64, ts time.Time) error
	SetCanonicalTarget(id int64, addr string) error
	FinishScan(id int64, status models.ScanStatus, reason string, ts time.Time) error
	InsertScanResult(scanID int64, res models.ScanResult) error
	InsertScanResultIfAbsent(scanID int64, res models.ScanResult) (bool, error)
}

// Resolver turns a hostname into IPv4 addresses.
type Resolver interface {
	ResolveIPv4(ctx context.Context, hostname string) ([]string, error)
}

// Invoker runs the external probe for one address.
type Invoker interface {
	Invoke(ctx context.Context, addr, portRange string, tech probe.Technique) ([]byte, error)
}

// Fallback performs direct HTTP/HTTPS reachability checks.
type Fallback interface {
	Probe(ctx context.Context, hostname string) []probe.PortEntry
}

// Orchestrator executes one scan task end to end.
type Orchestrator struct {
	store     Store
	resolver  Resolver
	invoker   Invoker
	fallback  Fallback
	technique probe.Technique

	// MaxProbes bounds how many addresses are probed concurrently
	// within a single task.
	MaxProbes int
}

// New creates an Orchestrator with the given collaborators.
func New(store Store, resolver Resolver, invoker Invoker, fallback Fallback, tech probe.Technique, maxProbes int) *Orchestrator {
	if maxProbes <= 0 {
		maxProbes = 4
	}
	return &Orchestrator{
		store:     store,
		resolver:  resolver,
		invoker:   invoker,
		fallback:  fallback,
		technique: tech,
		MaxProbes: maxProbes,
	}
}

// Execute runs the task with the given ID to a terminal state and returns
// that state. Re-invocation on an already-terminal task is a no-op.
func (o *Orchestrator) Execute(ctx context.Context, scanID int64) (models.ScanStatus, error) {
	task, err := o.store.GetScanTask(scanID)
	if err != nil {
		return "", fmt.Errorf("load scan task %d: %w", scanID, err)
	}
	if task == nil {
		return "", fmt.Errorf("scan task %d not found", scanID)
	}
	if task.Status.Terminal() {
		log.Infof("scan %d already %s, skipping", scanID, task.Status)
		return task.Status, nil
	}

	// The RUNNING write must be durable before any probing starts so
	// pollers never see results on a PENDING task.
	if err := o.store.MarkScanRunning(scanID, time.Now()); err != nil {
		return "", fmt.Errorf("mark scan %d running: %w", scanID, err)
	}

	normalized, err := target.Normalize(task.Target)
	if err != nil {
		return o.fail(scanID, models.ReasonResolutionFailed,
			fmt.Sprintf("target %q could not be interpreted", task.Target))
	}

	// Literal IPs are probed directly; no DNS query is issued for them.
	var addrs []string
	if normalized.IsLiteralIP {
		addrs = []string{normalized.Host}
	} else {
		addrs, err = o.resolver.ResolveIPv4(ctx, normalized.Host)
		if err != nil {
			return o.fail(scanID, models.ReasonResolutionFailed,
				fmt.Sprintf("no usable address for %q", normalized.Host))
		}
	}

	if err := o.store.SetCanonicalTarget(scanID, addrs[0]); err != nil {
		log.Warnf("scan %d: record canonical target: %v", scanID, err)
	}

	hardFailures := o.probeAddresses(ctx, scanID, addrs, task.PortRange)

	// The fallback pass runs against the original hostname regardless of
	// how the primary probes fared.
	fallbackHits := o.runFallback(ctx, scanID, normalized.Host)

	if len(hardFailures) == len(addrs) && fallbackHits == 0 {
		details := make([]string, len(hardFailures))
		for i, f := range hardFailures {
			details[i] = f.Error()
		}
		return o.fail(scanID, aggregateReason(hardFailures), strings.Join(details, "; "))
	}

	if err := o.store.FinishScan(scanID, models.StatusCompleted, "", time.Now()); err != nil {
		return "", fmt.Errorf("finish scan %d: %w", scanID, err)
	}
	log.Infof("scan %d completed (%d addresses, %d hard failures, %d fallback hits)",
		scanID, len(addrs), len(hardFailures), fallbackHits)
	return models.StatusCompleted, nil
}

// probeAddresses probes each address with bounded concurrency, persisting
// every parsed entry immediately. Returns one diagnostic per address that
// hard-failed; an address that simply found no ports is not a failure.
func (o *Orchestrator) probeAddresses(ctx context.Context, scanID int64, addrs []string, portRange string) []error {
	sem := make(chan struct{}, o.MaxProbes)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var failures []error

	for _, addr := range addrs {
		wg.Add(1)
		sem <- struct{}{}
		go func(addr string) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := o.probeOne(ctx, scanID, addr, portRange); err != nil {
				log.Warnf("scan %d: address %s failed: %v", scanID, addr, err)
				mu.Lock()
				failures = append(failures, fmt.Errorf("%s: %w", addr, err))
				mu.Unlock()
			}
		}(addr)
	}

	wg.Wait()
	return failures
}

func (o *Orchestrator) probeOne(ctx context.Context, scanID int64, addr, portRange string) error {
	raw, err := o.invoker.Invoke(ctx, addr, portRange, o.technique)
	if err != nil {
		return err
	}

	entries, err := probe.Parse(raw)
	if err != nil {
		return err
	}

	// Per-entry persistence so status pollers see partial progress.
	for _, e := range entries {
		res := models.ScanResult{
			Port:    e.Port,
			State:   e.State,
			Service: e.Service,
			Reason:  e.Reason,
			TTL:     e.TTL,
		}
		if err := o.store.InsertScanResult(scanID, res); err != nil {
			log.Warnf("scan %d: persist port %d: %v", scanID, e.Port, err)
		}
	}

	return nil
}

// runFallback persists fallback discoveries with create-if-absent
// semantics and returns how many new rows were created.
func (o *Orchestrator) runFallback(ctx context.Context, scanID int64, hostname string) int {
	if o.fallback == nil {
		return 0
	}

	created := 0
	for _, e := range o.fallback.Probe(ctx, hostname) {
		res := models.ScanResult{
			Port:    e.Port,
			State:   e.State,
			Service: e.Service,
			Reason:  e.Reason,
		}
		inserted, err := o.store.InsertScanResultIfAbsent(scanID, res)
		if err != nil {
			log.Warnf("scan %d: persist fallback port %d: %v", scanID, e.Port, err)
			continue
		}
		if inserted {
			created++
		}
	}
	return created
}

func (o *Orchestrator) fail(scanID int64, reason, detail string) (models.ScanStatus, error) {
	msg := reason
	if detail != "" {
		msg = reason + ": " + detail
	}
	log.Warnf("scan %d failed: %s", scanID, msg)
	if err := o.store.FinishScan(scanID, models.StatusFailed, msg, time.Now()); err != nil {
		return "", fmt.Errorf("record failure for scan %d: %w", scanID, err)
	}
	return models.StatusFailed, nil
}

// aggregateReason picks the dominant failure class across addresses.
// A parse failure outranks exec failures since it indicates a
// probe/version mismatch rather than a transient network problem.
func aggregateReason(failures []error) string {
	for _, f := range failures {
		var parseErr *probe.ParseError
		if errors.As(f, &parseErr) {
			return models.ReasonParseFailed
		}
	}
	for _, f := range failures {
		if errors.Is(f, probe.ErrProbeNotFound) {
			return models.ReasonProbeNotFound
		}
	}
	return models.ReasonProbeExecFailed
}
