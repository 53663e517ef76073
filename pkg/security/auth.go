// Package security provides authentication, entitlement checks and rate
// limiting for the HTTP surface.
package security

import (
	"crypto/subtle"
	"net/http"
)

// Authenticator handles token-based authentication
type Authenticator struct {
	adminToken string
}

// NewAuthenticator creates a new authenticator with the given admin token
func NewAuthenticator(adminToken string) *Authenticator {
	return &Authenticator{adminToken: adminToken}
}

// ValidateAdminToken checks if the X-Admin-Token header matches
func (a *Authenticator) ValidateAdminToken(r *http.Request) bool {
	if a.adminToken == "" {
		return false
	}
	token := r.Header.Get("X-Admin-Token")
	return subtle.ConstantTimeCompare([]byte(token), []byte(a.adminToken)) == 1
}
