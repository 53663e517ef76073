// Package store provides data persistence interfaces and implementations
package store

import (
	"time"

	"github.com/Neo-Ayush-jha/Web-Scanner/pkg/models"
)

// Repository defines the interface for data persistence operations
type Repository interface {
	// Scan task lifecycle
	CreateScanTask(token, target, portRange string) (*models.ScanTask, error)
	GetScanTask(id int64) (*models.ScanTask, error)
	GetScanTaskByToken(token string) (*models.ScanTask, error)
	DeleteScanTask(id int64) error
	MarkScanRunning(id int64, ts time.Time) error
	SetCanonicalTarget(id int64, addr string) error
	FinishScan(id int64, status models.ScanStatus, reason string, ts time.Time) error

	// Scan results (create-only rows)
	InsertScanResult(scanID int64, res models.ScanResult) error
	InsertScanResultIfAbsent(scanID int64, res models.ScanResult) (bool, error)
	ListScanResults(scanID int64) ([]models.ScanResult, error)
	ListScanResultsByPort(scanID int64) ([]models.ScanResult, error)

	// Web targets
	CreateWebTarget(name, url string) (*models.WebTarget, error)
	GetWebTarget(id int64) (*models.WebTarget, error)
	ListWebTargets() ([]models.WebTarget, error)
	DeleteWebTarget(id int64) error

	// Web scans
	CreateWebScan(targetID int64, scanType string) (*models.WebScan, error)
	GetWebScan(id int64) (*models.WebScan, error)
	ListWebScans() ([]models.WebScan, error)
	StartWebScan(id int64, ts time.Time) error
	AppendWebScanLog(id int64, line string) error
	SetWebScanProgress(id int64, progress int) error
	FinishWebScan(id int64, status string, progress int, ts time.Time) error
	RequestWebScanCancel(id int64) error
	WebScanCancelRequested(id int64) (bool, error)

	// Vulnerabilities
	InsertVulnerability(v models.Vulnerability) error
	ListVulnerabilities(scanID int64) ([]models.Vulnerability, error)
	DashboardStats() (*DashboardStats, error)

	// Maintenance
	VacuumAnalyze() error

	// Close releases database resources
	Close() error
}

// DashboardStats aggregates findings across all web scans
type DashboardStats struct {
	TotalScans  int            `json:"total_scans"`
	TotalVulns  int            `json:"total_vulns"`
	Severity    map[string]int `json:"severity"`
	OverallRisk int            `json:"overall_risk"`
}
