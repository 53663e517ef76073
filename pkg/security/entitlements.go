package security

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Entitlements decides whether a caller may start a scan and records
// started scans for accounting. Denial is the only synchronous rejection
// a scan submission can receive.
type Entitlements interface {
	MayUserStartScan(caller string) bool
	RecordScanStarted(caller string)
}

// RateEntitlements grants scan starts under a per-caller rate budget.
// Callers are keyed by client IP.
type RateEntitlements struct {
	enabled   bool
	perMinute float64

	mu       sync.Mutex
	limiters map[string]*callerLimiter
	started  map[string]int64
}

type callerLimiter struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// NewRateEntitlements creates an entitlement checker. When disabled every
// caller is permitted.
func NewRateEntitlements(enabled bool, perMinute float64) *RateEntitlements {
	return &RateEntitlements{
		enabled:   enabled,
		perMinute: perMinute,
		limiters:  make(map[string]*callerLimiter),
		started:   make(map[string]int64),
	}
}

// MayUserStartScan reports whether the caller is within its scan budget.
// The check does not consume a token; RecordScanStarted does.
func (e *RateEntitlements) MayUserStartScan(caller string) bool {
	if !e.enabled {
		return true
	}
	return e.getLimiter(caller).Tokens() >= 1
}

// RecordScanStarted consumes one token from the caller's budget and
// bumps the per-caller start counter.
func (e *RateEntitlements) RecordScanStarted(caller string) {
	if e.enabled {
		e.getLimiter(caller).Allow()
	}

	e.mu.Lock()
	e.started[caller]++
	e.mu.Unlock()
}

// ScansStarted returns how many scans a caller has started this process.
func (e *RateEntitlements) ScansStarted(caller string) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started[caller]
}

func (e *RateEntitlements) getLimiter(caller string) *rate.Limiter {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Cleanup old limiters (prevent memory leak)
	now := time.Now()
	if len(e.limiters) > 500 {
		for k, cl := range e.limiters {
			if now.Sub(cl.lastUsed) > 10*time.Minute {
				delete(e.limiters, k)
			}
		}
		log.Debugf("entitlements: cleaned up old limiters, remaining: %d", len(e.limiters))
	}

	cl, exists := e.limiters[caller]
	if !exists {
		rps := rate.Limit(e.perMinute / 60.0)
		burst := maxInt(1, int(e.perMinute))
		limiter := rate.NewLimiter(rps, burst)
		// Reserve burst tokens at past time so the first request is
		// allowed immediately even for low rates
		limiter.ReserveN(time.Now().Add(-time.Hour), burst)
		cl = &callerLimiter{limiter: limiter}
		e.limiters[caller] = cl
	}

	cl.lastUsed = now
	return cl.limiter
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
