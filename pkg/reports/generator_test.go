package reports_test

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Neo-Ayush-jha/Web-Scanner/pkg/models"
	"github.com/Neo-Ayush-jha/Web-Scanner/pkg/reports"
	"github.com/Neo-Ayush-jha/Web-Scanner/pkg/store"
)

const testTemplate = `<html><body>
<h1>Report {{.ScanID}}</h1>
<p>{{.TargetName}} {{.TargetURL}} {{.Status}}</p>
{{range .Findings}}<div>{{.Type}}|{{.Severity}}</div>{{else}}<div>none</div>{{end}}
</body></html>`

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedFinishedScan(t *testing.T, db *store.SQLiteStore) int64 {
	t.Helper()
	tgt, err := db.CreateWebTarget("demo", "https://example.com")
	if err != nil {
		t.Fatalf("failed to create target: %v", err)
	}
	scan, err := db.CreateWebScan(tgt.ID, "Full")
	if err != nil {
		t.Fatalf("failed to create scan: %v", err)
	}
	if err := db.FinishWebScan(scan.ID, "completed", 100, time.Now()); err != nil {
		t.Fatalf("failed to finish scan: %v", err)
	}

	findings := []models.Vulnerability{
		{ScanID: scan.ID, Type: "SQL Injection", Severity: "Medium", URL: "https://example.com", Parameter: "q",
			Evidence: "Simulated SQLi detection", Remediation: "Use parameterized queries."},
		{ScanID: scan.ID, Type: "Information Disclosure", Severity: "Low", URL: "https://example.com", Parameter: "header",
			Evidence: "X-Powered-By: PHP/5.6\nmultiline", Remediation: "Remove X-Powered-By header."},
	}
	for _, v := range findings {
		if err := db.InsertVulnerability(v); err != nil {
			t.Fatalf("failed to insert finding: %v", err)
		}
	}
	return scan.ID
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    reports.Format
		wantErr bool
	}{
		{"pdf", reports.FormatPDF, false},
		{"PDF", reports.FormatPDF, false},
		{"html", reports.FormatHTML, false},
		{"", reports.FormatHTML, false},
		{"csv", reports.FormatCSV, false},
		{"docx", "", true},
	}
	for _, tt := range tests {
		got, err := reports.ParseFormat(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseFormat(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestRenderHTML(t *testing.T) {
	reports.SetTemplate(testTemplate)
	db := newTestStore(t)
	scanID := seedFinishedScan(t, db)

	g := reports.NewGenerator(db, t.TempDir(), nil)
	out, err := g.Render(scanID, reports.FormatHTML)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	html := string(out)
	for _, want := range []string{"demo", "https://example.com", "completed", "SQL Injection|Medium", "Information Disclosure|Low"} {
		if !strings.Contains(html, want) {
			t.Errorf("html report missing %q:\n%s", want, html)
		}
	}
}

func TestRenderCSV(t *testing.T) {
	reports.SetTemplate(testTemplate)
	db := newTestStore(t)
	scanID := seedFinishedScan(t, db)

	g := reports.NewGenerator(db, t.TempDir(), nil)
	out, err := g.Render(scanID, reports.FormatCSV)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows, err := csv.NewReader(bytes.NewReader(out)).ReadAll()
	if err != nil {
		t.Fatalf("invalid csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	header := strings.Join(rows[0], ",")
	if header != "Type,Severity,URL,Parameter,Status,Evidence,Remediation" {
		t.Errorf("unexpected header: %q", header)
	}
	// Newlines in evidence are flattened to keep one row per finding.
	if strings.Contains(rows[2][5], "\n") {
		t.Errorf("evidence contains a newline: %q", rows[2][5])
	}
}

func TestRenderPDF(t *testing.T) {
	reports.SetTemplate(testTemplate)
	db := newTestStore(t)
	scanID := seedFinishedScan(t, db)

	g := reports.NewGenerator(db, t.TempDir(), nil)
	out, err := g.Render(scanID, reports.FormatPDF)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.HasPrefix(out, []byte("%PDF")) {
		t.Errorf("expected PDF magic bytes, got %q", out[:min(len(out), 8)])
	}
}

func TestGenerateAndStore(t *testing.T) {
	reports.SetTemplate(testTemplate)
	db := newTestStore(t)
	scanID := seedFinishedScan(t, db)
	dir := t.TempDir()

	g := reports.NewGenerator(db, dir, nil)
	path, err := g.GenerateAndStore(scanID, reports.FormatHTML)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := fmt.Sprintf("report_%d.html", scanID); filepath.Base(path) != want {
		t.Errorf("expected file name %s, got %s", want, filepath.Base(path))
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("report file not written: %v", err)
	}
}

func TestRenderUnknownScan(t *testing.T) {
	reports.SetTemplate(testTemplate)
	db := newTestStore(t)

	g := reports.NewGenerator(db, t.TempDir(), nil)
	if _, err := g.Render(999, reports.FormatHTML); err == nil {
		t.Error("expected error for unknown scan")
	}
}

func TestWriteScanCSV(t *testing.T) {
	results := []models.ScanResult{
		{Port: 22, State: "open", Service: "ssh", Description: "SSH - secure remote login."},
		{Port: 80, State: "open", Service: "http", Description: "HTTP - web\ntraffic."},
	}

	var buf bytes.Buffer
	if err := reports.WriteScanCSV(&buf, results); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("invalid csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if strings.Join(rows[0], ",") != "port,state,service,description" {
		t.Errorf("unexpected header: %v", rows[0])
	}
	if rows[1][0] != "22" || rows[1][2] != "ssh" {
		t.Errorf("unexpected first row: %v", rows[1])
	}
	if strings.Contains(rows[2][3], "\n") {
		t.Errorf("description contains a newline: %q", rows[2][3])
	}
}

func TestWriteScanCSVHeaderOnly(t *testing.T) {
	var buf bytes.Buffer
	if err := reports.WriteScanCSV(&buf, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(buf.String()) != "port,state,service,description" {
		t.Errorf("expected header only, got %q", buf.String())
	}
}
