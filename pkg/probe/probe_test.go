package probe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// ── buildProbeArgs ────────────────────────────────────────────────────────────

func TestBuildProbeArgs(t *testing.T) {
	t.Run("connect technique with port range", func(t *testing.T) {
		args := buildProbeArgs("192.168.1.1", "1-1024", TechniqueConnect)
		want := []string{"-oX", "-", "-n", "-Pn", "-sT", "-p", "1-1024", "192.168.1.1"}
		if len(args) != len(want) {
			t.Fatalf("expected %v, got %v", want, args)
		}
		for i := range want {
			if args[i] != want[i] {
				t.Errorf("arg[%d]: expected %q, got %q", i, want[i], args[i])
			}
		}
	})

	t.Run("syn technique", func(t *testing.T) {
		args := buildProbeArgs("10.0.0.1", "80", TechniqueSYN)
		found := false
		for _, a := range args {
			if a == "-sS" {
				found = true
			}
			if a == "-sT" {
				t.Error("syn technique must not emit -sT")
			}
		}
		if !found {
			t.Error("expected -sS for syn technique")
		}
	})

	t.Run("empty port range omits -p", func(t *testing.T) {
		args := buildProbeArgs("10.0.0.1", "", TechniqueConnect)
		for _, a := range args {
			if a == "-p" {
				t.Error("expected no -p flag for empty port range")
			}
		}
		if args[len(args)-1] != "10.0.0.1" {
			t.Errorf("address must be the final argument, got %v", args)
		}
	})
}

// ── extractXML ────────────────────────────────────────────────────────────────

func TestExtractXML(t *testing.T) {
	doc := `<?xml version="1.0"?><nmaprun></nmaprun>`

	t.Run("noise around the document is trimmed", func(t *testing.T) {
		raw := "Starting probe...\n" + doc + "\ntrailing warning"
		got := string(extractXML([]byte(raw)))
		if got != doc {
			t.Errorf("expected clean document, got %q", got)
		}
	})

	t.Run("no xml marker returns input unchanged", func(t *testing.T) {
		raw := "no xml here"
		if got := string(extractXML([]byte(raw))); got != raw {
			t.Errorf("expected input unchanged, got %q", got)
		}
	})

	t.Run("missing closing tag keeps the tail", func(t *testing.T) {
		raw := "noise<?xml version=\"1.0\"?><nmaprun>"
		got := string(extractXML([]byte(raw)))
		if !strings.HasPrefix(got, "<?xml") {
			t.Errorf("expected output to start at the xml marker, got %q", got)
		}
	})
}

// ── Parse ─────────────────────────────────────────────────────────────────────

const sampleRunXML = `<?xml version="1.0"?>
<nmaprun>
  <host>
    <ports>
      <port protocol="tcp" portid="22">
        <state state="open" reason="syn-ack" reason_ttl="64"/>
        <service name="ssh"/>
      </port>
      <port protocol="tcp" portid="80">
        <state state="open" reason="syn-ack" reason_ttl="64"/>
        <service name="http"/>
      </port>
      <port protocol="tcp" portid="443">
        <state state="filtered" reason="no-response" reason_ttl="0"/>
      </port>
      <port protocol="tcp" portid="8080">
        <state state="unfiltered" reason="reset" reason_ttl="64"/>
      </port>
    </ports>
  </host>
</nmaprun>`

func TestParse(t *testing.T) {
	entries, err := Parse([]byte(sampleRunXML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// unfiltered is dropped, tag order is preserved
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d: %+v", len(entries), entries)
	}
	if entries[0].Port != 22 || entries[1].Port != 80 || entries[2].Port != 443 {
		t.Errorf("tag order broken: %+v", entries)
	}
	if entries[0].Service != "ssh" || entries[0].State != "open" || entries[0].Reason != "syn-ack" {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}
	if entries[2].State != "filtered" || entries[2].Service != "" {
		t.Errorf("unexpected filtered entry: %+v", entries[2])
	}
}

func TestParseNoPorts(t *testing.T) {
	entries, err := Parse([]byte(`<?xml version="1.0"?><nmaprun><host></host></nmaprun>`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %+v", entries)
	}
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse([]byte("not xml at all <<<"))
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

// ── Locate ────────────────────────────────────────────────────────────────────

func TestLocateNotFound(t *testing.T) {
	_, err := Locate([]string{"definitely-not-a-real-binary-name", "/nonexistent/path/probe"})
	if !errors.Is(err, ErrProbeNotFound) {
		t.Errorf("expected ErrProbeNotFound, got %v", err)
	}
}

// ── FallbackProber ────────────────────────────────────────────────────────────

func TestFallbackProbeReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound) // below 500 still counts as reachable
	}))
	defer srv.Close()

	f := NewFallbackProber(2 * time.Second)
	host := strings.TrimPrefix(srv.URL, "http://")

	entries := f.Probe(context.Background(), host)
	// The plain-HTTP listener answers the http attempt; the https attempt
	// fails its TLS handshake and is swallowed.
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %+v", entries)
	}
	if entries[0].Port != 80 || entries[0].State != "open" || entries[0].Reason != "http-fallback" {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
}

func TestFallbackProbeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := NewFallbackProber(2 * time.Second)
	host := strings.TrimPrefix(srv.URL, "http://")

	if entries := f.Probe(context.Background(), host); len(entries) != 0 {
		t.Errorf("expected no entries for 5xx responses, got %+v", entries)
	}
}

func TestFallbackProbeUnreachable(t *testing.T) {
	f := NewFallbackProber(500 * time.Millisecond)

	// Reserved TEST-NET address, nothing listens there.
	if entries := f.Probe(context.Background(), "192.0.2.1"); len(entries) != 0 {
		t.Errorf("expected no entries for unreachable host, got %+v", entries)
	}
}
