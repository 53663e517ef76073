package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestValidateAdminToken(t *testing.T) {
	auth := NewAuthenticator("secret-admin-token")

	t.Run("empty admin token in authenticator", func(t *testing.T) {
		a := NewAuthenticator("")
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Admin-Token", "anything")
		if a.ValidateAdminToken(req) {
			t.Error("expected false when admin token is empty")
		}
	})

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if auth.ValidateAdminToken(req) {
			t.Error("expected false for missing token header")
		}
	})

	t.Run("wrong token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Admin-Token", "wrong-token")
		if auth.ValidateAdminToken(req) {
			t.Error("expected false for wrong token")
		}
	})

	t.Run("correct token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Admin-Token", "secret-admin-token")
		if !auth.ValidateAdminToken(req) {
			t.Error("expected true for correct token")
		}
	})

	t.Run("case-sensitive comparison", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Admin-Token", "Secret-Admin-Token")
		if auth.ValidateAdminToken(req) {
			t.Error("expected false for wrong-case token")
		}
	})
}

func TestRateEntitlementsDisabled(t *testing.T) {
	e := NewRateEntitlements(false, 1.0)

	// When disabled, every caller is always permitted.
	for i := 0; i < 100; i++ {
		if !e.MayUserStartScan("192.168.1.1") {
			t.Fatalf("expected permission when disabled (call %d)", i)
		}
		e.RecordScanStarted("192.168.1.1")
	}
	if got := e.ScansStarted("192.168.1.1"); got != 100 {
		t.Errorf("expected 100 recorded starts, got %d", got)
	}
}

func TestRateEntitlementsBudget(t *testing.T) {
	t.Run("first request is allowed", func(t *testing.T) {
		e := NewRateEntitlements(true, 10.0)
		if !e.MayUserStartScan("192.168.1.1") {
			t.Error("expected first request to be allowed (burst pre-filled)")
		}
	})

	t.Run("check does not consume the budget", func(t *testing.T) {
		e := NewRateEntitlements(true, 1.0)
		caller := "192.168.1.2"

		// Repeated checks without RecordScanStarted stay allowed.
		for i := 0; i < 5; i++ {
			if !e.MayUserStartScan(caller) {
				t.Fatalf("check %d consumed the budget", i)
			}
		}
	})

	t.Run("recording a start exhausts a budget of one", func(t *testing.T) {
		e := NewRateEntitlements(true, 1.0)
		caller := "192.168.1.3"

		if !e.MayUserStartScan(caller) {
			t.Fatal("first check should pass (burst = 1)")
		}
		e.RecordScanStarted(caller)

		// Budget gone, refill is 1/min so the next check fails immediately.
		if e.MayUserStartScan(caller) {
			t.Error("expected denial after the budget is consumed")
		}
	})

	t.Run("callers have independent budgets", func(t *testing.T) {
		e := NewRateEntitlements(true, 1.0)
		e.RecordScanStarted("10.0.0.1")

		if !e.MayUserStartScan("10.0.0.2") {
			t.Error("second caller must not be affected by the first caller's budget")
		}
	})
}
