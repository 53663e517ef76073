// Package main is the entry point for sentinel
package main

import (
	"context"
	"crypto/tls"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Neo-Ayush-jha/Web-Scanner/pkg/config"
	"github.com/Neo-Ayush-jha/Web-Scanner/pkg/enrich"
	pkghttp "github.com/Neo-Ayush-jha/Web-Scanner/pkg/http"
	"github.com/Neo-Ayush-jha/Web-Scanner/pkg/probe"
	"github.com/Neo-Ayush-jha/Web-Scanner/pkg/reports"
	"github.com/Neo-Ayush-jha/Web-Scanner/pkg/scan"
	"github.com/Neo-Ayush-jha/Web-Scanner/pkg/security"
	"github.com/Neo-Ayush-jha/Web-Scanner/pkg/store"
	"github.com/Neo-Ayush-jha/Web-Scanner/pkg/target"
	"github.com/Neo-Ayush-jha/Web-Scanner/pkg/tlsutil"
	"github.com/Neo-Ayush-jha/Web-Scanner/pkg/webscan"
)

//go:embed templates/report.html
var reportTemplate string

// Application holds all application dependencies
type Application struct {
	cfg          *config.Config
	store        store.Repository
	orchestrator *scan.Orchestrator
	webRunner    *webscan.Runner
	reportGen    *reports.Generator
	scanQueue    chan int64
	webQueue     chan int64
	httpServer   *http.Server
}

func main() {
	// Setup logging to both file and stderr
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if logFile, err := os.OpenFile("/data/debug.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_SYNC, 0666); err != nil {
		log.Warnf("cannot open log file: %v, using stderr only", err)
	} else {
		log.SetOutput(io.MultiWriter(os.Stderr, logFile))
		defer logFile.Close()
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	log.Infof("Security: ADMIN_TOKEN configured (%d chars)", len(cfg.AdminToken))
	if cfg.RateLimitEnabled {
		log.Infof("Rate limiting: ENABLED")
	} else {
		log.Infof("Rate limiting: DISABLED")
	}

	// Initialize dependencies
	app, err := newApplication(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer app.cleanup()

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start application components
	if err := app.start(ctx); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	// Wait for shutdown signal
	<-ctx.Done()
	log.Infof("Shutting down gracefully...")
}

// newApplication creates and initializes the application with all dependencies
func newApplication(cfg *config.Config) (*Application, error) {
	// Initialize store
	repo, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	// Locate the probe binary and pick the scan technique once at startup
	probePath, err := probe.Locate(cfg.ProbePaths)
	if err != nil {
		return nil, fmt.Errorf("probe setup: %w (checked %v)", err, cfg.ProbePaths)
	}
	technique := probe.DetectTechnique()
	log.Infof("Probe: %s (technique=%s)", probePath, technique)

	invoker := probe.NewInvoker(probePath, cfg.ProbeTimeout)
	fallback := probe.NewFallbackProber(cfg.FallbackTimeout)
	resolver := target.NewResolver(cfg.ResolveTimeout)

	orchestrator := scan.New(repo, resolver, invoker, fallback, technique, cfg.MaxProbes)
	webRunner := webscan.NewRunner(repo, cfg.WebTimeout)

	// Initialize email sender
	var emailer *reports.Emailer
	if cfg.SMTPHost != "" {
		emailer = reports.NewEmailer(reports.EmailConfig{
			SMTPHost:     cfg.SMTPHost,
			SMTPPort:     cfg.SMTPPort,
			SMTPUser:     cfg.SMTPUser,
			SMTPPass:     cfg.SMTPPass,
			SMTPFrom:     cfg.SMTPFrom,
			SMTPTo:       cfg.SMTPTo,
			SMTPStartTLS: cfg.SMTPStartTLS,
		})
		log.Infof("Email: SMTP configured (%s:%s)", cfg.SMTPHost, cfg.SMTPPort)
	}

	// Initialize report generator and inject template
	reportGen := reports.NewGenerator(repo, cfg.ReportDir, emailer)
	reports.SetTemplate(reportTemplate)

	// Create work queues
	scanQueue := make(chan int64, cfg.ScanQueueSize)
	webQueue := make(chan int64, cfg.WebQueueSize)
	log.Infof("Queues: scan=%d web=%d", cfg.ScanQueueSize, cfg.WebQueueSize)

	return &Application{
		cfg:          cfg,
		store:        repo,
		orchestrator: orchestrator,
		webRunner:    webRunner,
		reportGen:    reportGen,
		scanQueue:    scanQueue,
		webQueue:     webQueue,
	}, nil
}

// start begins all application services
func (app *Application) start(ctx context.Context) error {
	log.Infof("Starting sentinel on %s (scan_workers=%d, web_workers=%d)",
		app.cfg.Addr, app.cfg.ScanWorkers, app.cfg.WebWorkers)

	// Start worker pools
	for i := 0; i < app.cfg.ScanWorkers; i++ {
		go app.scanWorker(ctx, i+1)
	}
	for i := 0; i < app.cfg.WebWorkers; i++ {
		go app.webWorker(ctx, i+1)
	}

	// Setup HTTP handlers
	auth := security.NewAuthenticator(app.cfg.AdminToken)
	entitlements := security.NewRateEntitlements(app.cfg.EntitlementsOn, app.cfg.ScanStartsPerMin)
	adminRateLimiter := security.NewAdminRateLimiter(app.cfg.RateLimitEnabled)
	enricher := enrich.NewApplier(nil, app.cfg.EnrichTimeout)
	resolver := target.NewResolver(app.cfg.ResolveTimeout)

	handler := pkghttp.NewHandler(
		app.cfg,
		app.store,
		resolver,
		enricher,
		auth,
		entitlements,
		adminRateLimiter,
		app.scanQueue,
		app.webQueue,
		app.reportGen,
	)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	// Create HTTP server
	srv := &http.Server{
		Addr:              app.cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		if app.cfg.TLSEnabled {
			// Ensure TLS certificate exists (auto-generate if missing)
			if err := tlsutil.EnsureCertificate(app.cfg.TLSCertPath, app.cfg.TLSKeyPath); err != nil {
				log.Fatalf("TLS: failed to setup certificate: %v", err)
			}

			// Configure modern TLS settings
			srv.TLSConfig = &tls.Config{
				MinVersion:       tls.VersionTLS12,
				CurvePreferences: []tls.CurveID{tls.CurveP256, tls.X25519},
				CipherSuites: []uint16{
					tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
					tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
					tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
					tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
					tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
					tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
				},
			}

			log.Infof("sentinel listening on %s (HTTPS)", app.cfg.Addr)
			if err := srv.ListenAndServeTLS(app.cfg.TLSCertPath, app.cfg.TLSKeyPath); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("HTTP server error: %v", err)
			}
		} else {
			log.Infof("sentinel listening on %s (HTTP)", app.cfg.Addr)
			log.Warnf("TLS disabled - tokens are transmitted in plaintext")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("HTTP server error: %v", err)
			}
		}
	}()

	// Store server for graceful shutdown
	app.httpServer = srv

	log.Infof("Application started successfully")
	return nil
}

// scanWorker processes port-scan tasks from the queue
func (app *Application) scanWorker(ctx context.Context, id int) {
	log.Infof("Scan worker %d started", id)
	defer log.Infof("Scan worker %d stopped", id)

	for {
		select {
		case <-ctx.Done():
			return
		case scanID := <-app.scanQueue:
			status, err := app.orchestrator.Execute(ctx, scanID)
			if err != nil {
				log.Errorf("Scan worker %d: scan %d: %v", id, scanID, err)
				continue
			}
			log.Infof("Scan worker %d: scan %d finished with %s", id, scanID, status)
		}
	}
}

// webWorker processes web vulnerability scans from the queue
func (app *Application) webWorker(ctx context.Context, id int) {
	log.Infof("Web worker %d started", id)
	defer log.Infof("Web worker %d stopped", id)

	for {
		select {
		case <-ctx.Done():
			return
		case scanID := <-app.webQueue:
			if err := app.webRunner.Run(ctx, scanID); err != nil {
				log.Errorf("Web worker %d: scan %d: %v", id, scanID, err)
			}
		}
	}
}

// cleanup releases all resources
func (app *Application) cleanup() {
	log.Infof("Cleaning up resources...")

	// Shutdown HTTP server gracefully
	if app.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Errorf("Error shutting down HTTP server: %v", err)
		}
	}

	// Close store
	if app.store != nil {
		if err := app.store.Close(); err != nil {
			log.Errorf("Error closing store: %v", err)
		}
	}
}
