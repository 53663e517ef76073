// Package reports renders web-scan findings as PDF, HTML or CSV and
// writes the rendered files to disk.
package reports

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	log "github.com/sirupsen/logrus"

	"github.com/Neo-Ayush-jha/Web-Scanner/pkg/models"
	"github.com/Neo-Ayush-jha/Web-Scanner/pkg/store"
)

// Format selects the report rendering.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatHTML Format = "html"
	FormatCSV  Format = "csv"
)

// ParseFormat validates a format query value.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatPDF:
		return FormatPDF, nil
	case FormatHTML, "":
		return FormatHTML, nil
	case FormatCSV:
		return FormatCSV, nil
	}
	return "", fmt.Errorf("unknown report format %q", s)
}

// ContentType returns the MIME type for HTTP delivery.
func (f Format) ContentType() string {
	switch f {
	case FormatPDF:
		return "application/pdf"
	case FormatCSV:
		return "text/csv"
	default:
		return "text/html; charset=utf-8"
	}
}

// reportTemplate is the HTML report template, injected from the main package
var reportTemplate string

// SetTemplate allows injecting the report template from the main package
func SetTemplate(tmpl string) {
	reportTemplate = tmpl
}

// ReportData is the root data structure for report templating
type ReportData struct {
	ScanID     int64
	TargetName string
	TargetURL  string
	ScanType   string
	Status     string
	Started    string
	Finished   string
	Findings   []models.Vulnerability
}

// Generator renders reports for finished web scans
type Generator struct {
	store     store.Repository
	reportDir string
	emailer   *Emailer
}

// NewGenerator creates a new report generator
func NewGenerator(repo store.Repository, reportDir string, emailer *Emailer) *Generator {
	return &Generator{
		store:     repo,
		reportDir: reportDir,
		emailer:   emailer,
	}
}

// Render produces the report for one web scan in the requested format.
func (g *Generator) Render(scanID int64, format Format) ([]byte, error) {
	data, err := g.collectReportData(scanID)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatPDF:
		return renderPDF(data)
	case FormatCSV:
		return renderCSV(data)
	default:
		return renderHTML(data)
	}
}

// GenerateAndStore renders a report, saves it under the report directory
// and optionally emails it. Returns the written file path.
func (g *Generator) GenerateAndStore(scanID int64, format Format) (string, error) {
	out, err := g.Render(scanID, format)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(g.reportDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create reports directory: %w", err)
	}

	fname := filepath.Join(g.reportDir, fmt.Sprintf("report_%d.%s", scanID, format))
	if err := os.WriteFile(fname, out, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report file: %w", err)
	}

	log.Infof("report: generated %s for web scan %d", fname, scanID)

	// Send email if configured
	if g.emailer != nil && format == FormatHTML {
		if err := g.emailer.SendReport(fname, scanID); err != nil {
			log.Warnf("report: email send failed: %v", err)
			// Report generation succeeded, so no error is returned
		}
	}

	return fname, nil
}

// collectReportData loads the scan, its target and its findings
func (g *Generator) collectReportData(scanID int64) (*ReportData, error) {
	scan, err := g.store.GetWebScan(scanID)
	if err != nil {
		return nil, fmt.Errorf("load web scan %d failed: %w", scanID, err)
	}
	if scan == nil {
		return nil, fmt.Errorf("web scan %d not found", scanID)
	}

	target, err := g.store.GetWebTarget(scan.TargetID)
	if err != nil {
		return nil, fmt.Errorf("load target %d failed: %w", scan.TargetID, err)
	}

	vulns, err := g.store.ListVulnerabilities(scanID)
	if err != nil {
		return nil, fmt.Errorf("load findings for scan %d failed: %w", scanID, err)
	}

	data := &ReportData{
		ScanID:   scanID,
		ScanType: scan.ScanType,
		Status:   scan.Status,
		Started:  formatStamp(scan.StartedAt),
		Finished: formatStamp(scan.FinishedAt),
		Findings: vulns,
	}
	if target != nil {
		data.TargetName = target.Name
		data.TargetURL = target.URL
	}
	return data, nil
}

func formatStamp(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

// renderHTML renders the HTML template with data
func renderHTML(data *ReportData) ([]byte, error) {
	tmpl, err := template.New("report").Parse(reportTemplate)
	if err != nil {
		return nil, fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("template execute error: %w", err)
	}

	return buf.Bytes(), nil
}

// renderCSV emits one row per finding with evidence and remediation
func renderCSV(data *ReportData) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"Type", "Severity", "URL", "Parameter", "Status", "Evidence", "Remediation"}); err != nil {
		return nil, fmt.Errorf("write csv header failed: %w", err)
	}
	for _, v := range data.Findings {
		row := []string{
			v.Type,
			v.Severity,
			v.URL,
			v.Parameter,
			v.Status,
			strings.ReplaceAll(v.Evidence, "\n", " "),
			strings.ReplaceAll(v.Remediation, "\n", " "),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row failed: %w", err)
		}
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

// renderPDF builds a tabular findings report
func renderPDF(data *ReportData) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(fmt.Sprintf("Scan Report %d", data.ScanID), false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, "Sentinel Scan Report")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Target: %s (%s)", data.TargetName, data.TargetURL))
	pdf.Ln(6)
	pdf.Cell(0, 6, fmt.Sprintf("Scan ID: %d | Type: %s | Status: %s", data.ScanID, data.ScanType, data.Status))
	pdf.Ln(6)
	pdf.Cell(0, 6, fmt.Sprintf("Started: %s | Finished: %s", data.Started, data.Finished))
	pdf.Ln(10)

	headers := []string{"Type", "Severity", "URL", "Parameter", "Status"}
	widths := []float64{45, 20, 55, 25, 20}

	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(13, 17, 23)
	pdf.SetTextColor(255, 255, 255)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 8)
	pdf.SetTextColor(0, 0, 0)
	fill := false
	for _, v := range data.Findings {
		pdf.SetFillColor(245, 245, 245)
		cells := []string{v.Type, v.Severity, v.URL, v.Parameter, v.Status}
		for i, c := range cells {
			pdf.CellFormat(widths[i], 6, truncate(c, 40), "1", 0, "L", fill, 0, "")
		}
		pdf.Ln(-1)

		// Evidence and remediation on a follow-up full-width row
		detail := fmt.Sprintf("Evidence: %s  |  Remediation: %s",
			strings.ReplaceAll(v.Evidence, "\n", " "),
			strings.ReplaceAll(v.Remediation, "\n", " "))
		pdf.CellFormat(165, 6, truncate(detail, 120), "1", 0, "L", fill, 0, "")
		pdf.Ln(-1)
		fill = !fill
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("pdf output failed: %w", err)
	}
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// WriteScanCSV streams a port scan's result table as CSV.
// The header is always written; a FAILED scan exports just the header.
func WriteScanCSV(w io.Writer, results []models.ScanResult) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"port", "state", "service", "description"}); err != nil {
		return fmt.Errorf("write csv header failed: %w", err)
	}
	for _, r := range results {
		row := []string{
			strconv.Itoa(r.Port),
			r.State,
			r.Service,
			strings.ReplaceAll(r.Description, "\n", " "),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row failed: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
