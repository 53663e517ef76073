// Package config handles application configuration with validation
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Runtime
	Addr       string // Listen address (e.g., :8080)
	AdminToken string // Token for /admin/* endpoints (X-Admin-Token header)
	DBPath     string // SQLite database path (e.g., /data/scans.db)
	LogLevel   string // Log verbosity: debug, info, warn, error

	// TLS/HTTPS
	TLSEnabled  bool   // Enable HTTPS instead of HTTP
	TLSCertPath string // Path to cert.pem (auto-generate if missing)
	TLSKeyPath  string // Path to key.pem (auto-generate if missing)

	// Rate limiting / entitlements
	RateLimitEnabled bool    // Enable rate limiting for admin endpoints
	ScanStartsPerMin float64 // Per-caller budget for starting port scans
	EntitlementsOn   bool    // Enforce the scan-start budget

	// Port scanning
	ProbePaths      []string      // Candidate paths/names for the probe binary
	DefaultPorts    string        // Default port range when submission omits it
	ScanWorkers     int           // Number of concurrent scan task workers
	ScanQueueSize   int           // Scan queue buffer size
	MaxProbes       int           // Concurrent address probes within one task
	ProbeTimeout    time.Duration // Wall-clock budget per probe invocation
	ResolveTimeout  time.Duration // DNS resolution timeout
	FallbackTimeout time.Duration // Per-request timeout for the HTTP fallback

	// Web checks
	WebWorkers    int           // Number of concurrent web-scan workers
	WebQueueSize  int           // Web-scan queue buffer size
	WebTimeout    time.Duration // Per-request timeout for web checks
	ReportDir     string        // Directory for rendered report files
	EnrichTimeout time.Duration // Budget for one describe-port call

	// Report email delivery
	SMTPHost     string   // SMTP server hostname
	SMTPPort     string   // SMTP server port
	SMTPUser     string   // SMTP username
	SMTPPass     string   // SMTP password
	SMTPFrom     string   // Email sender address
	SMTPTo       []string // Email recipient addresses
	SMTPStartTLS bool     // Use STARTTLS for SMTP
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		// Runtime
		Addr:       ":" + getenv("PORT", "8080"),
		AdminToken: getenv("ADMIN_TOKEN", ""),
		DBPath:     getenv("DB_PATH", "/data/scans.db"),
		LogLevel:   getenv("LOG_LEVEL", "info"),

		// TLS
		TLSEnabled:  getbool("TLS_ENABLED", false),
		TLSCertPath: getenv("TLS_CERT_PATH", "/data/cert.pem"),
		TLSKeyPath:  getenv("TLS_KEY_PATH", "/data/key.pem"),

		// Rate limiting / entitlements
		RateLimitEnabled: getbool("RATE_LIMIT_ENABLED", true),
		ScanStartsPerMin: getfloat("SCAN_STARTS_PER_MIN", 10.0),
		EntitlementsOn:   getbool("ENTITLEMENTS_ENABLED", true),

		// Port scanning
		ProbePaths:      splitCSV(getenv("PROBE_PATHS", "nmap,/usr/bin/nmap,/usr/local/bin/nmap")),
		DefaultPorts:    getenv("DEFAULT_PORTS", "1-1024"),
		ScanWorkers:     getint("SCAN_WORKERS", 2),
		ScanQueueSize:   getint("SCAN_QUEUE_SIZE", 512),
		MaxProbes:       getint("MAX_PROBES", 4),
		ProbeTimeout:    getdur("PROBE_TIMEOUT", 300*time.Second),
		ResolveTimeout:  getdur("RESOLVE_TIMEOUT", 5*time.Second),
		FallbackTimeout: getdur("FALLBACK_TIMEOUT", 8*time.Second),

		// Web checks
		WebWorkers:    getint("WEB_WORKERS", 2),
		WebQueueSize:  getint("WEB_QUEUE_SIZE", 256),
		WebTimeout:    getdur("WEB_TIMEOUT", 8*time.Second),
		ReportDir:     getenv("REPORT_DIR", "/data/reports"),
		EnrichTimeout: getdur("ENRICH_TIMEOUT", 10*time.Second),

		// Reports
		SMTPHost:     getenv("SMTP_HOST", ""),
		SMTPPort:     getenv("SMTP_PORT", ""),
		SMTPUser:     getenv("SMTP_USER", ""),
		SMTPPass:     getenv("SMTP_PASS", ""),
		SMTPFrom:     getenv("SMTP_FROM", ""),
		SMTPTo:       splitCSV(getenv("SMTP_TO", "")),
		SMTPStartTLS: getbool("SMTP_STARTTLS", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration for correctness
func (c *Config) Validate() error {
	// Security: admin token must be set and long enough
	if c.AdminToken == "" {
		return fmt.Errorf("ADMIN_TOKEN is required but not set")
	}
	if len(c.AdminToken) < 16 {
		return fmt.Errorf("ADMIN_TOKEN must be at least 16 characters long, got %d", len(c.AdminToken))
	}

	// Runtime limits
	if c.ScanWorkers < 1 || c.ScanWorkers > 16 {
		return fmt.Errorf("SCAN_WORKERS must be between 1 and 16, got %d", c.ScanWorkers)
	}
	if c.ScanQueueSize < 16 || c.ScanQueueSize > 4096 {
		return fmt.Errorf("SCAN_QUEUE_SIZE must be between 16 and 4096, got %d", c.ScanQueueSize)
	}
	if c.WebWorkers < 1 || c.WebWorkers > 16 {
		return fmt.Errorf("WEB_WORKERS must be between 1 and 16, got %d", c.WebWorkers)
	}
	if c.WebQueueSize < 16 || c.WebQueueSize > 4096 {
		return fmt.Errorf("WEB_QUEUE_SIZE must be between 16 and 4096, got %d", c.WebQueueSize)
	}
	if c.MaxProbes < 1 || c.MaxProbes > 32 {
		return fmt.Errorf("MAX_PROBES must be between 1 and 32, got %d", c.MaxProbes)
	}

	if len(c.ProbePaths) == 0 {
		return fmt.Errorf("PROBE_PATHS must name at least one probe candidate")
	}
	if c.DefaultPorts == "" {
		return fmt.Errorf("DEFAULT_PORTS cannot be empty")
	}
	if err := ValidatePortRange(c.DefaultPorts); err != nil {
		return fmt.Errorf("DEFAULT_PORTS: %w", err)
	}

	if c.ProbeTimeout < 10*time.Second {
		return fmt.Errorf("PROBE_TIMEOUT must be at least 10s, got %s", c.ProbeTimeout)
	}
	if c.ScanStartsPerMin <= 0 {
		return fmt.Errorf("SCAN_STARTS_PER_MIN must be positive, got %f", c.ScanStartsPerMin)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be debug, info, warn or error, got %q", c.LogLevel)
	}

	return nil
}

// ValidatePortRange checks a port specification of the form "N", "A-B",
// or a comma-separated list of those.
func ValidatePortRange(spec string) error {
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return fmt.Errorf("empty segment in port range %q", spec)
		}
		lo, hi, ok := strings.Cut(part, "-")
		a, err := strconv.Atoi(lo)
		if err != nil || a < 1 || a > 65535 {
			return fmt.Errorf("invalid port %q", lo)
		}
		if ok {
			b, err := strconv.Atoi(hi)
			if err != nil || b < 1 || b > 65535 {
				return fmt.Errorf("invalid port %q", hi)
			}
			if b < a {
				return fmt.Errorf("descending range %q", part)
			}
		}
	}
	return nil
}

// Helper functions for environment variable parsing

func getenv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getbool(key string, defaultValue bool) bool {
	v := strings.ToLower(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func getint(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	return defaultValue
}

func getfloat(key string, defaultValue float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return defaultValue
}

func getdur(key string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return defaultValue
}

func splitCSV(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var result []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}
