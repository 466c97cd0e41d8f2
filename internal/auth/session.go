package auth

import (
	"maps"
	"time"
)

// AccessToken is the bearer credential obtained from the token endpoint.
type AccessToken struct {
	Value     string    `json:"value"`
	Type      string    `json:"type"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the token can no longer be presented. A zero
// ExpiresAt means the provider did not state a lifetime.
func (t AccessToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

type RefreshToken struct {
	Value string `json:"value"`
}

// AuthorizedClient is the result of a successful code exchange, keyed by
// (registration id, principal name).
type AuthorizedClient struct {
	Registration  ClientRegistration `json:"registration"`
	PrincipalName string             `json:"principal_name"`
	AccessToken   AccessToken        `json:"access_token"`
	RefreshToken  *RefreshToken      `json:"refresh_token,omitempty"`
	Scopes        []string           `json:"scopes,omitempty"`
}

// SessionPrincipal is the identity bound to a browser session. ClaimsAtLogin
// is a snapshot and may go stale relative to the provider.
type SessionPrincipal struct {
	Name            string         `json:"name"`
	RegistrationID  string         `json:"registration_id"`
	ClaimsAtLogin   map[string]any `json:"claims_at_login"`
	AuthenticatedAt time.Time      `json:"authenticated_at"`
}

// Claim returns a string claim from the login snapshot.
func (p *SessionPrincipal) Claim(name string) string {
	if v, ok := p.ClaimsAtLogin[name].(string); ok {
		return v
	}
	return ""
}

func (p *SessionPrincipal) Snapshot() map[string]any {
	return maps.Clone(p.ClaimsAtLogin)
}

// AuthorizationRequestState is persisted between the redirect to the provider
// and the callback. It is consumed exactly once.
type AuthorizationRequestState struct {
	State          string    `json:"state"`
	Nonce          string    `json:"nonce,omitempty"`
	CodeVerifier   string    `json:"code_verifier,omitempty"`
	RedirectURI    string    `json:"redirect_uri"`
	RegistrationID string    `json:"registration_id"`
	ReturnTo       string    `json:"return_to,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type AuthRedirect struct {
	URL   string
	State string
	TTL   time.Duration
}

// Login is what a completed callback hands to the session layer.
type Login struct {
	Client    *AuthorizedClient
	Principal *SessionPrincipal
	ReturnTo  string
}
