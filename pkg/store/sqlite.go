package store

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Neo-Ayush-jha/Web-Scanner/pkg/models"
)

//go:embed schema.sql
var schemaFS embed.FS

// SQLiteStore implements Repository interface using SQLite database
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store at the given path
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure for concurrency (WAL mode allows concurrent reads)
	// Lower connection count reduces lock contention for writes
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	// Enable WAL mode and optimize settings
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=MEMORY;",
		"PRAGMA busy_timeout=30000;", // 30 seconds - allow more time for lock contention
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	// Load and execute schema
	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}
	if _, err := db.Exec(string(schema)); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to execute schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// execRetry runs a write statement, retrying on SQLITE_BUSY contention
func (s *SQLiteStore) execRetry(query string, args ...any) (sql.Result, error) {
	var res sql.Result
	var err error

	// Retry up to 3 times on busy errors
	for attempt := 0; attempt < 3; attempt++ {
		res, err = s.db.Exec(query, args...)
		if err == nil {
			break
		}
		if attempt < 2 && strings.Contains(err.Error(), "database is locked") {
			time.Sleep(time.Duration(100*(attempt+1)) * time.Millisecond)
			continue
		}
		break
	}

	return res, err
}

const scanTaskCols = `id, token, target, canonical_target, port_range, status, fail_reason, start_time, end_time, created_at`

// CreateScanTask inserts a new scan task in PENDING state
func (s *SQLiteStore) CreateScanTask(token, target, portRange string) (*models.ScanTask, error) {
	now := time.Now().UTC()
	res, err := s.execRetry(`
		INSERT INTO scan_tasks(token, target, port_range, status, created_at)
		VALUES(?,?,?,?,?)
	`, token, target, portRange, string(models.StatusPending), now)
	if err != nil {
		return nil, fmt.Errorf("insert scan task failed: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id failed: %w", err)
	}

	return &models.ScanTask{
		ID:        id,
		Token:     token,
		Target:    target,
		PortRange: portRange,
		Status:    models.StatusPending,
		CreatedAt: now,
	}, nil
}

func scanTaskRow(row *sql.Row) (*models.ScanTask, error) {
	var t models.ScanTask
	var status string
	var start, end sql.NullTime
	err := row.Scan(&t.ID, &t.Token, &t.Target, &t.CanonicalTarget, &t.PortRange,
		&status, &t.FailReason, &start, &end, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil // Not an error, just no task found
	}
	if err != nil {
		return nil, fmt.Errorf("scan task row failed: %w", err)
	}
	t.Status = models.ScanStatus(status)
	if start.Valid {
		t.StartTime = &start.Time
	}
	if end.Valid {
		t.EndTime = &end.Time
	}
	return &t, nil
}

// GetScanTask retrieves a scan task by numeric ID
func (s *SQLiteStore) GetScanTask(id int64) (*models.ScanTask, error) {
	return scanTaskRow(s.db.QueryRow(`SELECT `+scanTaskCols+` FROM scan_tasks WHERE id=?`, id))
}

// GetScanTaskByToken retrieves a scan task by its opaque token
func (s *SQLiteStore) GetScanTaskByToken(token string) (*models.ScanTask, error) {
	return scanTaskRow(s.db.QueryRow(`SELECT `+scanTaskCols+` FROM scan_tasks WHERE token=?`, token))
}

// DeleteScanTask removes a task and its results. Used to roll back a
// submission whose enqueue was rejected, before any worker touched it.
func (s *SQLiteStore) DeleteScanTask(id int64) error {
	if _, err := s.execRetry(`DELETE FROM scan_results WHERE scan_id=?`, id); err != nil {
		return fmt.Errorf("delete results for scan %d failed: %w", id, err)
	}
	if _, err := s.execRetry(`DELETE FROM scan_tasks WHERE id=?`, id); err != nil {
		return fmt.Errorf("delete scan task %d failed: %w", id, err)
	}
	return nil
}

// MarkScanRunning transitions PENDING -> RUNNING and records the start time.
// The status guard keeps the transition monotonic under queue re-delivery.
func (s *SQLiteStore) MarkScanRunning(id int64, ts time.Time) error {
	_, err := s.execRetry(`
		UPDATE scan_tasks SET status=?, start_time=?
		WHERE id=? AND status=?
	`, string(models.StatusRunning), ts.UTC(), id, string(models.StatusPending))
	if err != nil {
		return fmt.Errorf("mark scan %d running failed: %w", id, err)
	}
	return nil
}

// SetCanonicalTarget records the address actually probed after resolution
func (s *SQLiteStore) SetCanonicalTarget(id int64, addr string) error {
	_, err := s.execRetry(`UPDATE scan_tasks SET canonical_target=? WHERE id=?`, addr, id)
	if err != nil {
		return fmt.Errorf("set canonical target for scan %d failed: %w", id, err)
	}
	return nil
}

// FinishScan transitions a task to COMPLETED or FAILED. Tasks already in a
// terminal state are left untouched; the WHERE guard enforces that.
func (s *SQLiteStore) FinishScan(id int64, status models.ScanStatus, reason string, ts time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("finish scan %d: %q is not a terminal status", id, status)
	}
	_, err := s.execRetry(`
		UPDATE scan_tasks SET status=?, fail_reason=?, end_time=?
		WHERE id=? AND status NOT IN (?,?)
	`, string(status), reason, ts.UTC(), id,
		string(models.StatusCompleted), string(models.StatusFailed))
	if err != nil {
		return fmt.Errorf("finish scan %d failed: %w", id, err)
	}
	return nil
}

// InsertScanResult stores one discovered port for a scan
// Results are written per-entry so pollers see partial progress
func (s *SQLiteStore) InsertScanResult(scanID int64, res models.ScanResult) error {
	_, err := s.execRetry(`
		INSERT INTO scan_results(scan_id, port, state, service, reason, ttl, description)
		VALUES(?,?,?,?,?,?,?)
	`, scanID, res.Port, res.State, res.Service, res.Reason, res.TTL, res.Description)
	if err != nil {
		return fmt.Errorf("insert result port %d for scan %d failed: %w", res.Port, scanID, err)
	}
	return nil
}

// InsertScanResultIfAbsent stores a port only when no row for the (scan, port)
// pair exists yet. Returns true when a row was inserted.
func (s *SQLiteStore) InsertScanResultIfAbsent(scanID int64, res models.ScanResult) (bool, error) {
	r, err := s.execRetry(`
		INSERT INTO scan_results(scan_id, port, state, service, reason, ttl, description)
		SELECT ?,?,?,?,?,?,?
		WHERE NOT EXISTS (SELECT 1 FROM scan_results WHERE scan_id=? AND port=?)
	`, scanID, res.Port, res.State, res.Service, res.Reason, res.TTL, res.Description,
		scanID, res.Port)
	if err != nil {
		return false, fmt.Errorf("insert-if-absent port %d for scan %d failed: %w", res.Port, scanID, err)
	}
	n, err := r.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected failed: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) listScanResults(scanID int64, orderBy string) ([]models.ScanResult, error) {
	rows, err := s.db.Query(`
		SELECT id, scan_id, port, state, service, reason, ttl, description
		FROM scan_results WHERE scan_id=? ORDER BY `+orderBy, scanID)
	if err != nil {
		return nil, fmt.Errorf("query results for scan %d failed: %w", scanID, err)
	}
	defer rows.Close()

	var results []models.ScanResult
	for rows.Next() {
		var r models.ScanResult
		if err := rows.Scan(&r.ID, &r.ScanID, &r.Port, &r.State, &r.Service, &r.Reason, &r.TTL, &r.Description); err != nil {
			continue // Skip malformed rows
		}
		results = append(results, r)
	}

	return results, rows.Err()
}

// ListScanResults returns results in insertion order
func (s *SQLiteStore) ListScanResults(scanID int64) ([]models.ScanResult, error) {
	return s.listScanResults(scanID, "id ASC")
}

// ListScanResultsByPort returns results ordered by ascending port number
func (s *SQLiteStore) ListScanResultsByPort(scanID int64) ([]models.ScanResult, error) {
	return s.listScanResults(scanID, "port ASC, id ASC")
}

// CreateWebTarget registers an HTTP target for vulnerability checks
func (s *SQLiteStore) CreateWebTarget(name, url string) (*models.WebTarget, error) {
	now := time.Now().UTC()
	res, err := s.execRetry(`INSERT INTO web_targets(name, url, created_at) VALUES(?,?,?)`, name, url, now)
	if err != nil {
		return nil, fmt.Errorf("insert web target failed: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id failed: %w", err)
	}
	return &models.WebTarget{ID: id, Name: name, URL: url, CreatedAt: now}, nil
}

// GetWebTarget retrieves a web target by ID
func (s *SQLiteStore) GetWebTarget(id int64) (*models.WebTarget, error) {
	var t models.WebTarget
	err := s.db.QueryRow(`SELECT id, name, url, created_at FROM web_targets WHERE id=?`, id).
		Scan(&t.ID, &t.Name, &t.URL, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get web target %d failed: %w", id, err)
	}
	return &t, nil
}

// ListWebTargets returns all registered targets, newest first
func (s *SQLiteStore) ListWebTargets() ([]models.WebTarget, error) {
	rows, err := s.db.Query(`SELECT id, name, url, created_at FROM web_targets ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list web targets failed: %w", err)
	}
	defer rows.Close()

	var targets []models.WebTarget
	for rows.Next() {
		var t models.WebTarget
		if err := rows.Scan(&t.ID, &t.Name, &t.URL, &t.CreatedAt); err != nil {
			continue
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// DeleteWebTarget removes a target and everything hanging off it.
// SQLite foreign keys are off by default per connection, so the cascade
// is done explicitly inside one transaction.
func (s *SQLiteStore) DeleteWebTarget(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction failed: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM vulnerabilities
		WHERE scan_id IN (SELECT id FROM web_scans WHERE target_id=?)
	`, id); err != nil {
		return fmt.Errorf("delete vulnerabilities for target %d failed: %w", id, err)
	}
	if _, err := tx.Exec(`DELETE FROM web_scans WHERE target_id=?`, id); err != nil {
		return fmt.Errorf("delete scans for target %d failed: %w", id, err)
	}
	if _, err := tx.Exec(`DELETE FROM web_targets WHERE id=?`, id); err != nil {
		return fmt.Errorf("delete target %d failed: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction failed: %w", err)
	}
	return nil
}

// CreateWebScan creates a queued web scan for a target
func (s *SQLiteStore) CreateWebScan(targetID int64, scanType string) (*models.WebScan, error) {
	res, err := s.execRetry(`
		INSERT INTO web_scans(target_id, scan_type, status, progress) VALUES(?,?,'queued',0)
	`, targetID, scanType)
	if err != nil {
		return nil, fmt.Errorf("insert web scan failed: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id failed: %w", err)
	}
	return &models.WebScan{ID: id, TargetID: targetID, ScanType: scanType, Status: "queued"}, nil
}

// GetWebScan retrieves a web scan by ID
func (s *SQLiteStore) GetWebScan(id int64) (*models.WebScan, error) {
	var w models.WebScan
	var started, finished sql.NullTime
	err := s.db.QueryRow(`
		SELECT id, target_id, scan_type, status, progress, started_at, finished_at, log
		FROM web_scans WHERE id=?
	`, id).Scan(&w.ID, &w.TargetID, &w.ScanType, &w.Status, &w.Progress, &started, &finished, &w.Log)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get web scan %d failed: %w", id, err)
	}
	if started.Valid {
		w.StartedAt = &started.Time
	}
	if finished.Valid {
		w.FinishedAt = &finished.Time
	}
	return &w, nil
}

// ListWebScans returns all web scans, newest first. The log column is
// omitted; per-scan reads carry it.
func (s *SQLiteStore) ListWebScans() ([]models.WebScan, error) {
	rows, err := s.db.Query(`
		SELECT id, target_id, scan_type, status, progress, started_at, finished_at
		FROM web_scans ORDER BY id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list web scans failed: %w", err)
	}
	defer rows.Close()

	var scans []models.WebScan
	for rows.Next() {
		var w models.WebScan
		var started, finished sql.NullTime
		if err := rows.Scan(&w.ID, &w.TargetID, &w.ScanType, &w.Status, &w.Progress, &started, &finished); err != nil {
			continue
		}
		if started.Valid {
			w.StartedAt = &started.Time
		}
		if finished.Valid {
			w.FinishedAt = &finished.Time
		}
		scans = append(scans, w)
	}
	return scans, rows.Err()
}

// StartWebScan marks a queued scan as running
func (s *SQLiteStore) StartWebScan(id int64, ts time.Time) error {
	_, err := s.execRetry(`
		UPDATE web_scans SET status='running', started_at=? WHERE id=? AND status='queued'
	`, ts.UTC(), id)
	if err != nil {
		return fmt.Errorf("start web scan %d failed: %w", id, err)
	}
	return nil
}

// AppendWebScanLog concatenates one line onto the scan log.
// The log is append-only; it is never truncated or rewritten.
func (s *SQLiteStore) AppendWebScanLog(id int64, line string) error {
	_, err := s.execRetry(`UPDATE web_scans SET log = log || ? || char(10) WHERE id=?`, line, id)
	if err != nil {
		return fmt.Errorf("append log for web scan %d failed: %w", id, err)
	}
	return nil
}

// SetWebScanProgress raises the progress counter. Progress never decreases.
func (s *SQLiteStore) SetWebScanProgress(id int64, progress int) error {
	_, err := s.execRetry(`UPDATE web_scans SET progress=MAX(progress, ?) WHERE id=?`, progress, id)
	if err != nil {
		return fmt.Errorf("set progress for web scan %d failed: %w", id, err)
	}
	return nil
}

// FinishWebScan records the terminal status and finish time
func (s *SQLiteStore) FinishWebScan(id int64, status string, progress int, ts time.Time) error {
	_, err := s.execRetry(`
		UPDATE web_scans SET status=?, progress=MAX(progress, ?), finished_at=? WHERE id=?
	`, status, progress, ts.UTC(), id)
	if err != nil {
		return fmt.Errorf("finish web scan %d failed: %w", id, err)
	}
	return nil
}

// RequestWebScanCancel sets the cancellation flag checked between steps
func (s *SQLiteStore) RequestWebScanCancel(id int64) error {
	_, err := s.execRetry(`UPDATE web_scans SET cancel_requested=1 WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("request cancel for web scan %d failed: %w", id, err)
	}
	return nil
}

// WebScanCancelRequested reports whether cancellation has been requested
func (s *SQLiteStore) WebScanCancelRequested(id int64) (bool, error) {
	var flag int
	err := s.db.QueryRow(`SELECT cancel_requested FROM web_scans WHERE id=?`, id).Scan(&flag)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read cancel flag for web scan %d failed: %w", id, err)
	}
	return flag != 0, nil
}

// InsertVulnerability stores one finding for a web scan
func (s *SQLiteStore) InsertVulnerability(v models.Vulnerability) error {
	status := v.Status
	if status == "" {
		status = "Open"
	}
	_, err := s.execRetry(`
		INSERT INTO vulnerabilities(scan_id, vtype, severity, url, parameter, status, evidence, remediation, created_at)
		VALUES(?,?,?,?,?,?,?,?,?)
	`, v.ScanID, v.Type, v.Severity, v.URL, v.Parameter, status, v.Evidence, v.Remediation, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert vulnerability for scan %d failed: %w", v.ScanID, err)
	}
	return nil
}

// ListVulnerabilities returns all findings for a scan in creation order
func (s *SQLiteStore) ListVulnerabilities(scanID int64) ([]models.Vulnerability, error) {
	rows, err := s.db.Query(`
		SELECT id, scan_id, vtype, severity, url, parameter, status, evidence, remediation, created_at
		FROM vulnerabilities WHERE scan_id=? ORDER BY id ASC
	`, scanID)
	if err != nil {
		return nil, fmt.Errorf("query vulnerabilities for scan %d failed: %w", scanID, err)
	}
	defer rows.Close()

	var vulns []models.Vulnerability
	for rows.Next() {
		var v models.Vulnerability
		if err := rows.Scan(&v.ID, &v.ScanID, &v.Type, &v.Severity, &v.URL, &v.Parameter,
			&v.Status, &v.Evidence, &v.Remediation, &v.CreatedAt); err != nil {
			continue
		}
		vulns = append(vulns, v)
	}
	return vulns, rows.Err()
}

// DashboardStats aggregates scan counts and severity distribution
func (s *SQLiteStore) DashboardStats() (*DashboardStats, error) {
	stats := &DashboardStats{Severity: map[string]int{}}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM web_scans`).Scan(&stats.TotalScans); err != nil {
		return nil, fmt.Errorf("count web scans failed: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM vulnerabilities`).Scan(&stats.TotalVulns); err != nil {
		return nil, fmt.Errorf("count vulnerabilities failed: %w", err)
	}

	rows, err := s.db.Query(`SELECT severity, COUNT(*) FROM vulnerabilities GROUP BY severity`)
	if err != nil {
		return nil, fmt.Errorf("severity counts failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sev string
		var n int
		if err := rows.Scan(&sev, &n); err != nil {
			continue
		}
		stats.Severity[sev] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Weighted risk score: Critical x5, High x3, Medium x2, Low x1
	stats.OverallRisk = stats.Severity["Critical"]*5 + stats.Severity["High"]*3 +
		stats.Severity["Medium"]*2 + stats.Severity["Low"]

	return stats, nil
}

// VacuumAnalyze performs database maintenance
func (s *SQLiteStore) VacuumAnalyze() error {
	if _, err := s.db.Exec(`PRAGMA optimize; VACUUM; ANALYZE;`); err != nil {
		return fmt.Errorf("vacuum analyze failed: %w", err)
	}
	return nil
}

// Close releases database resources
func (s *SQLiteStore) Close() error {
	// Perform WAL checkpoint to ensure all data is written to main database file
	// TRUNCATE mode also removes the WAL file after checkpoint
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE);"); err != nil {
		// Log error but continue with close - checkpoint failure shouldn't prevent cleanup
		fmt.Fprintf(os.Stderr, "warning: WAL checkpoint failed: %v\n", err)
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database failed: %w", err)
	}
	return nil
}
