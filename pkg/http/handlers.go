// Package http provides HTTP handlers for the scan API
package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/Neo-Ayush-jha/Web-Scanner/pkg/config"
	"github.com/Neo-Ayush-jha/Web-Scanner/pkg/enrich"
	"github.com/Neo-Ayush-jha/Web-Scanner/pkg/models"
	"github.com/Neo-Ayush-jha/Web-Scanner/pkg/reports"
	"github.com/Neo-Ayush-jha/Web-Scanner/pkg/security"
	"github.com/Neo-Ayush-jha/Web-Scanner/pkg/store"
	"github.com/Neo-Ayush-jha/Web-Scanner/pkg/target"
)

// Handler holds all HTTP handler dependencies
type Handler struct {
	cfg              *config.Config
	store            store.Repository
	resolver         *target.Resolver
	enricher         *enrich.Applier
	auth             *security.Authenticator
	entitlements     security.Entitlements
	adminRateLimiter *security.AdminRateLimiter
	scanQueue        chan int64
	webQueue         chan int64
	reportGen        *reports.Generator
}

// NewHandler creates a new HTTP handler with dependencies
func NewHandler(
	cfg *config.Config,
	repo store.Repository,
	resolver *target.Resolver,
	enricher *enrich.Applier,
	auth *security.Authenticator,
	entitlements security.Entitlements,
	adminRateLimiter *security.AdminRateLimiter,
	scanQueue chan int64,
	webQueue chan int64,
	reportGen *reports.Generator,
) *Handler {
	return &Handler{
		cfg:              cfg,
		store:            repo,
		resolver:         resolver,
		enricher:         enricher,
		auth:             auth,
		entitlements:     entitlements,
		adminRateLimiter: adminRateLimiter,
		scanQueue:        scanQueue,
		webQueue:         webQueue,
		reportGen:        reportGen,
	}
}

// RegisterRoutes registers all HTTP routes on the given mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Port scanning
	mux.HandleFunc("POST /api/scan", h.StartScan)
	mux.HandleFunc("GET /api/scan/{id}/status", h.ScanStatus)
	mux.HandleFunc("GET /api/scan/{id}/export", h.ExportCSV)
	mux.HandleFunc("POST /api/resolve", h.ResolveDomain)

	// Web targets and vulnerability checks
	mux.HandleFunc("POST /api/targets", h.CreateTarget)
	mux.HandleFunc("GET /api/targets", h.ListTargets)
	mux.HandleFunc("DELETE /api/targets/{id}", h.DeleteTarget)
	mux.HandleFunc("POST /api/targets/{id}/scan", h.StartWebScan)
	mux.HandleFunc("GET /api/webscans", h.ListWebScans)
	mux.HandleFunc("GET /api/webscans/{id}/status", h.WebScanStatus)
	mux.HandleFunc("GET /api/webscans/{id}/log", h.WebScanLog)
	mux.HandleFunc("POST /api/webscans/{id}/cancel", h.CancelWebScan)
	mux.HandleFunc("GET /api/dashboard", h.Dashboard)

	// Public health check
	mux.HandleFunc("/healthz", h.Healthz)

	// Admin endpoints (require X-Admin-Token)
	limits := security.DefaultAdminLimits
	mux.HandleFunc("GET /admin/health", h.requireAdminToken(h.AdminHealth))
	mux.HandleFunc("POST /admin/repair", h.requireAdminToken(h.adminRateLimiter.Middleware(limits.Repair, "repair")(h.AdminRepair)))

	// Report rendering is expensive, so it sits behind the report limiter
	mux.HandleFunc("GET /api/webscans/{id}/report",
		h.adminRateLimiter.Middleware(limits.ReportGenerate, "report")(h.WebScanReport))
}

// ----------------- Middleware -----------------

// requireAdminToken is middleware that requires admin token authentication
func (h *Handler) requireAdminToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.auth.ValidateAdminToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// ----------------- Port-scan Handlers -----------------

// StartScan accepts a scan submission, checks entitlement and queues the task
// POST /api/scan {"target": "<ip|domain|url>", "ports": "1-1024"}
func (h *Handler) StartScan(w http.ResponseWriter, r *http.Request) {
	body, err := readBodyLimit(r, 1<<20)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad body"})
		return
	}

	var req struct {
		Target string `json:"target"`
		Ports  string `json:"ports"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json"})
		return
	}
	if req.Target == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "target required"})
		return
	}
	if _, err := target.Normalize(req.Target); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "could not parse target"})
		return
	}

	ports := req.Ports
	if ports == "" {
		ports = h.cfg.DefaultPorts
	}
	if err := config.ValidatePortRange(ports); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("bad port range: %v", err)})
		return
	}

	// Entitlement denial is the only synchronous rejection; every other
	// failure is discovered asynchronously on the task itself.
	caller := clientIP(r)
	if !h.entitlements.MayUserStartScan(caller) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "scan not permitted"})
		return
	}

	token := uuid.NewString()
	task, err := h.store.CreateScanTask(token, req.Target, ports)
	if err != nil {
		log.Warnf("scan: create task failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not create scan"})
		return
	}

	select {
	case h.scanQueue <- task.ID:
	default:
		// Roll the row back so a rejected submission leaves no task
		// stuck in PENDING with nothing ever picking it up.
		if err := h.store.DeleteScanTask(task.ID); err != nil {
			log.Warnf("scan: rollback of rejected scan %d failed: %v", task.ID, err)
		}
		log.Warnf("scan: queue full, rejecting scan %d", task.ID)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "scan queue full"})
		return
	}

	h.entitlements.RecordScanStarted(caller)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"scan_id":      task.ID,
		"task_token":   task.Token,
		"queue_job_id": task.Token,
	})
}

// ScanStatus returns the task state plus enriched results
// GET /api/scan/{id}/status
func (h *Handler) ScanStatus(w http.ResponseWriter, r *http.Request) {
	task := h.loadScanTask(w, r)
	if task == nil {
		return
	}

	results, err := h.store.ListScanResults(task.ID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not load results"})
		return
	}

	type resultItem struct {
		Port        int    `json:"port"`
		State       string `json:"state"`
		Service     string `json:"service"`
		Name        string `json:"name,omitempty"`
		Description string `json:"description"`
		RiskLevel   string `json:"risk_level"`
	}

	items := make([]resultItem, 0, len(results))
	for _, res := range results {
		items = append(items, resultItem{
			Port:        res.Port,
			State:       res.State,
			Service:     res.Service,
			Name:        enrich.ServiceName(res.Port, res.Service),
			Description: h.enricher.Describe(r.Context(), res.Port, res.Service, res.State),
			RiskLevel:   enrich.RiskLevel(res.Port),
		})
	}

	resp := map[string]any{
		"scan_id":    task.ID,
		"target":     task.Target,
		"status":     task.Status,
		"results":    items,
		"start_time": task.StartTime,
		"end_time":   task.EndTime,
	}
	if task.Status == models.StatusFailed {
		resp["reason"] = task.FailReason
	}

	writeJSON(w, http.StatusOK, resp)
}

// ExportCSV streams a scan's results as a CSV attachment, ascending by
// port. A FAILED scan exports the header row only.
// GET /api/scan/{id}/export
func (h *Handler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	task := h.loadScanTask(w, r)
	if task == nil {
		return
	}

	var results []models.ScanResult
	if task.Status != models.StatusFailed {
		var err error
		results, err = h.store.ListScanResultsByPort(task.ID)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not load results"})
			return
		}
		for i := range results {
			results[i].Description = h.enricher.Describe(r.Context(), results[i].Port, results[i].Service, results[i].State)
		}
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="scan_%d.csv"`, task.ID))
	if err := reports.WriteScanCSV(w, results); err != nil {
		log.Warnf("export: scan %d: %v", task.ID, err)
	}
}

// ResolveDomain resolves a domain/URL to its first IPv4 address
// POST /api/resolve {"domain": "<domain-or-url-or-ip>"}
func (h *Handler) ResolveDomain(w http.ResponseWriter, r *http.Request) {
	body, err := readBodyLimit(r, 1<<20)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad body"})
		return
	}

	var req struct {
		Domain string `json:"domain"`
		Target string `json:"target"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json"})
		return
	}
	raw := req.Domain
	if raw == "" {
		raw = req.Target
	}
	if raw == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "domain required"})
		return
	}

	normalized, err := target.Normalize(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "could not parse domain/URL"})
		return
	}

	if normalized.IsLiteralIP {
		writeJSON(w, http.StatusOK, map[string]string{"domain": raw, "ip_address": normalized.Host})
		return
	}

	addrs, err := h.resolver.ResolveIPv4(r.Context(), normalized.Host)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("could not resolve %s", normalized.Host)})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"domain":     raw,
		"hostname":   normalized.Host,
		"ip_address": addrs[0],
	})
}

// ----------------- Web-check Handlers -----------------

// CreateTarget registers an HTTP target
// POST /api/targets {"name": "...", "url": "https://..."}
func (h *Handler) CreateTarget(w http.ResponseWriter, r *http.Request) {
	body, err := readBodyLimit(r, 1<<20)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad body"})
		return
	}

	var req struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json"})
		return
	}
	if req.URL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "url required"})
		return
	}
	if req.Name == "" {
		req.Name = req.URL
	}

	t, err := h.store.CreateWebTarget(req.Name, req.URL)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not create target"})
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// ListTargets returns all registered targets
// GET /api/targets
func (h *Handler) ListTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := h.store.ListWebTargets()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not list targets"})
		return
	}
	if targets == nil {
		targets = []models.WebTarget{}
	}
	writeJSON(w, http.StatusOK, targets)
}

// DeleteTarget removes a target with its scans and findings
// DELETE /api/targets/{id}
func (h *Handler) DeleteTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	t, err := h.store.GetWebTarget(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
		return
	}
	if t == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "target not found"})
		return
	}

	if err := h.store.DeleteWebTarget(id); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "delete failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "deleted"})
}

// StartWebScan queues a vulnerability-check run for a target
// POST /api/targets/{id}/scan {"scan_type": "Passive"}
func (h *Handler) StartWebScan(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	t, err := h.store.GetWebTarget(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
		return
	}
	if t == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "target not found"})
		return
	}

	var req struct {
		ScanType string `json:"scan_type"`
	}
	if body, err := readBodyLimit(r, 1<<20); err == nil && len(body) > 0 {
		_ = json.Unmarshal(body, &req)
	}
	if req.ScanType == "" {
		req.ScanType = "Passive"
	}
	if !validScanType(req.ScanType) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown scan type %q", req.ScanType)})
		return
	}

	scan, err := h.store.CreateWebScan(id, req.ScanType)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not create scan"})
		return
	}

	select {
	case h.webQueue <- scan.ID:
	default:
		log.Warnf("webscan: queue full, rejecting scan %d", scan.ID)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "scan queue full"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"scan_id": scan.ID, "status": scan.Status})
}

// ListWebScans returns every web scan, newest first
// GET /api/webscans
func (h *Handler) ListWebScans(w http.ResponseWriter, r *http.Request) {
	scans, err := h.store.ListWebScans()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not list scans"})
		return
	}
	if scans == nil {
		scans = []models.WebScan{}
	}
	writeJSON(w, http.StatusOK, scans)
}

// WebScanStatus returns scan state, progress and findings
// GET /api/webscans/{id}/status
func (h *Handler) WebScanStatus(w http.ResponseWriter, r *http.Request) {
	scan := h.loadWebScan(w, r)
	if scan == nil {
		return
	}

	vulns, err := h.store.ListVulnerabilities(scan.ID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not load findings"})
		return
	}
	if vulns == nil {
		vulns = []models.Vulnerability{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"scan_id":     scan.ID,
		"target_id":   scan.TargetID,
		"scan_type":   scan.ScanType,
		"status":      scan.Status,
		"progress":    scan.Progress,
		"started_at":  scan.StartedAt,
		"finished_at": scan.FinishedAt,
		"findings":    vulns,
	})
}

// WebScanLog returns the append-only scan log
// GET /api/webscans/{id}/log
func (h *Handler) WebScanLog(w http.ResponseWriter, r *http.Request) {
	scan := h.loadWebScan(w, r)
	if scan == nil {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scan_id": scan.ID, "log": scan.Log})
}

// CancelWebScan requests cancellation; the runner honors it between steps
// POST /api/webscans/{id}/cancel
func (h *Handler) CancelWebScan(w http.ResponseWriter, r *http.Request) {
	scan := h.loadWebScan(w, r)
	if scan == nil {
		return
	}
	if scan.Status == "completed" || scan.Status == "cancelled" {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "scan already finished"})
		return
	}

	if err := h.store.RequestWebScanCancel(scan.ID); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cancel failed"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancel requested"})
}

// WebScanReport renders a report for a finished scan, stores it under the
// report directory (emailing it when SMTP is configured) and serves the
// stored file.
// GET /api/webscans/{id}/report?format=pdf|html|csv
func (h *Handler) WebScanReport(w http.ResponseWriter, r *http.Request) {
	scan := h.loadWebScan(w, r)
	if scan == nil {
		return
	}

	format, err := reports.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	path, err := h.reportGen.GenerateAndStore(scan.ID, format)
	if err != nil {
		log.Warnf("report: render scan %d: %v", scan.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "report rendering failed"})
		return
	}

	out, err := os.ReadFile(path)
	if err != nil {
		log.Warnf("report: read stored report %s: %v", path, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "report rendering failed"})
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="report_%d.%s"`, scan.ID, format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

// Dashboard returns aggregate counts and the weighted risk score
// GET /api/dashboard
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.DashboardStats()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not load stats"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ----------------- Admin Handlers -----------------

// Healthz returns service health status
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":           true,
		"scan_workers": h.cfg.ScanWorkers,
		"web_workers":  h.cfg.WebWorkers,
	})
}

// AdminHealth returns health plus queue occupancy
func (h *Handler) AdminHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":             true,
		"scan_queue_len": len(h.scanQueue),
		"scan_queue_cap": cap(h.scanQueue),
		"web_queue_len":  len(h.webQueue),
		"web_queue_cap":  cap(h.webQueue),
		"probe_paths":    h.cfg.ProbePaths,
		"default_ports":  h.cfg.DefaultPorts,
		"max_probes":     h.cfg.MaxProbes,
		"report_dir":     h.cfg.ReportDir,
	})
}

// AdminRepair performs database maintenance
func (h *Handler) AdminRepair(w http.ResponseWriter, r *http.Request) {
	if err := h.store.VacuumAnalyze(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "repaired"})
}

// ----------------- Helper Functions -----------------

func (h *Handler) loadScanTask(w http.ResponseWriter, r *http.Request) *models.ScanTask {
	id, ok := pathID(w, r)
	if !ok {
		return nil
	}
	task, err := h.store.GetScanTask(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
		return nil
	}
	if task == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "scan not found"})
		return nil
	}
	return task
}

func (h *Handler) loadWebScan(w http.ResponseWriter, r *http.Request) *models.WebScan {
	id, ok := pathID(w, r)
	if !ok {
		return nil
	}
	scan, err := h.store.GetWebScan(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
		return nil
	}
	if scan == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "scan not found"})
		return nil
	}
	return scan
}

// pathID extracts the numeric {id} path segment
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad id"})
		return 0, false
	}
	return id, true
}

func validScanType(s string) bool {
	for _, t := range models.WebScanTypes {
		if t == s {
			return true
		}
	}
	return false
}

// clientIP extracts the caller address without the port
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr // Fallback if no port
	}
	return ip
}

// readBodyLimit reads request body with size limit.
// A body of exactly limit bytes is still accepted; only limit+1 and
// beyond is rejected.
func readBodyLimit(r *http.Request, limit int64) ([]byte, error) {
	defer r.Body.Close()
	b, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("body too large")
	}
	return b, nil
}

// writeJSON writes JSON response
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
