package webscan

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Neo-Ayush-jha/Web-Scanner/pkg/models"
	"github.com/Neo-Ayush-jha/Web-Scanner/pkg/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// vulnerableHandler serves a page with no defensive headers, a disclosing
// X-Powered-By header and a well-known script reference.
func vulnerableHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Powered-By", "PHP/5.6")
	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write([]byte(`<html><head>
<script src="/static/jquery-1.12.4.min.js"></script>
<script src="https://cdn.example.com/bootstrap.min.js"></script>
</head><body>demo</body></html>`))
}

func newQueuedScan(t *testing.T, db *store.SQLiteStore, url string) *models.WebScan {
	t.Helper()
	tgt, err := db.CreateWebTarget("demo", url)
	if err != nil {
		t.Fatalf("failed to create target: %v", err)
	}
	scan, err := db.CreateWebScan(tgt.ID, "Passive")
	if err != nil {
		t.Fatalf("failed to create web scan: %v", err)
	}
	return scan
}

func TestRunFullScan(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(vulnerableHandler))
	defer srv.Close()

	db := newTestStore(t)
	scan := newQueuedScan(t, db, srv.URL)

	r := NewRunner(db, 5*time.Second)
	if err := r.Run(context.Background(), scan.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := db.GetWebScan(scan.ID)
	if got.Status != "completed" {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.Progress != 100 {
		t.Errorf("expected progress 100, got %d", got.Progress)
	}
	if got.StartedAt == nil || got.FinishedAt == nil {
		t.Error("expected both timestamps on a completed scan")
	}

	for _, want := range []string{"Starting scan on", "Step 1/6: Fetching target", "Step 6/6: Fingerprint components", "Scan completed successfully"} {
		if !strings.Contains(got.Log, want) {
			t.Errorf("log missing %q:\n%s", want, got.Log)
		}
	}

	vulns, _ := db.ListVulnerabilities(scan.ID)
	byType := map[string]models.Vulnerability{}
	for _, v := range vulns {
		byType[v.Type] = v
	}

	if len(vulns) != 5 {
		t.Fatalf("expected 5 findings, got %d: %v", len(vulns), byType)
	}
	if v := byType["Security Misconfiguration"]; v.Severity != "Medium" || !strings.Contains(v.Evidence, "Content-Security-Policy") {
		t.Errorf("unexpected header finding: %+v", v)
	}
	if v := byType["SQL Injection"]; v.Parameter != "q" {
		t.Errorf("unexpected SQLi finding: %+v", v)
	}
	if v := byType["Cross-Site Scripting (XSS)"]; v.Parameter != "term" {
		t.Errorf("unexpected XSS finding: %+v", v)
	}
	if v := byType["Information Disclosure"]; !strings.Contains(v.Evidence, "PHP/5.6") {
		t.Errorf("unexpected disclosure finding: %+v", v)
	}
	if v := byType["Outdated Components"]; !strings.Contains(v.Evidence, "jQuery") || !strings.Contains(v.Evidence, "Bootstrap") {
		t.Errorf("unexpected components finding: %+v", v)
	}
	for _, v := range vulns {
		if v.Status != "Open" {
			t.Errorf("finding %q has status %q, want Open", v.Type, v.Status)
		}
	}
}

func TestRunCleanTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, h := range requiredHeaders {
			w.Header().Set(h, "set")
		}
		_, _ = w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	db := newTestStore(t)
	scan := newQueuedScan(t, db, srv.URL)

	r := NewRunner(db, 5*time.Second)
	if err := r.Run(context.Background(), scan.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Only the two simulated probe findings remain.
	vulns, _ := db.ListVulnerabilities(scan.ID)
	if len(vulns) != 2 {
		t.Errorf("expected 2 simulated findings, got %d", len(vulns))
	}
}

// cancelAfterStore trips the cancel flag after a fixed number of
// between-step checks, simulating a cancel request arriving mid-scan.
type cancelAfterStore struct {
	*store.SQLiteStore
	after  int
	checks int
}

func (c *cancelAfterStore) WebScanCancelRequested(id int64) (bool, error) {
	c.checks++
	return c.checks > c.after, nil
}

func TestRunCancelledMidScan(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(vulnerableHandler))
	defer srv.Close()

	db := newTestStore(t)
	scan := newQueuedScan(t, db, srv.URL)

	// Steps 1-3 run, then the check before step 4 sees the flag.
	r := NewRunner(&cancelAfterStore{SQLiteStore: db, after: 3}, 5*time.Second)
	if err := r.Run(context.Background(), scan.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := db.GetWebScan(scan.ID)
	if got.Status != "cancelled" {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	// Progress is frozen at the last finished step: 3 of 6.
	if got.Progress != 50 {
		t.Errorf("expected progress 50, got %d", got.Progress)
	}
	if !strings.Contains(got.Log, "Scan cancelled") {
		t.Errorf("log missing cancellation line:\n%s", got.Log)
	}
	if strings.Contains(got.Log, "Step 4/6") {
		t.Error("step 4 must not run after cancellation")
	}
}

func TestRunSkipsNonQueuedScan(t *testing.T) {
	db := newTestStore(t)
	scan := newQueuedScan(t, db, "http://unused.invalid")
	if err := db.FinishWebScan(scan.ID, "completed", 100, time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r := NewRunner(db, time.Second)
	if err := r.Run(context.Background(), scan.ID); err != nil {
		t.Fatalf("expected no-op, got error: %v", err)
	}

	got, _ := db.GetWebScan(scan.ID)
	if got.Status != "completed" || got.Progress != 100 {
		t.Errorf("terminal scan was modified: %+v", got)
	}
}

func TestDetectScriptLibraries(t *testing.T) {
	t.Run("known libraries detected and sorted", func(t *testing.T) {
		page := `<html><head>
<script src="/js/jquery.min.js"></script>
<script src="/js/bootstrap.bundle.js"></script>
<script src="/js/app.js"></script>
</head></html>`
		libs := detectScriptLibraries(strings.NewReader(page))
		if len(libs) != 2 || libs[0] != "Bootstrap" || libs[1] != "jQuery" {
			t.Errorf("expected [Bootstrap jQuery], got %v", libs)
		}
	})

	t.Run("no script tags", func(t *testing.T) {
		if libs := detectScriptLibraries(strings.NewReader("<html><body>plain</body></html>")); len(libs) != 0 {
			t.Errorf("expected no libraries, got %v", libs)
		}
	})

	t.Run("inline scripts are ignored", func(t *testing.T) {
		if libs := detectScriptLibraries(strings.NewReader(`<script>var jquery = 1;</script>`)); len(libs) != 0 {
			t.Errorf("expected no libraries for inline script, got %v", libs)
		}
	})
}
