package auth

import (
	"context"
	"net/http"
)

// Authorizer drives the authorization-code exchange against a provider.
type Authorizer interface {
	Begin(ctx context.Context, registrationID, returnTo string) (*AuthRedirect, error)
	HandleCallback(ctx context.Context, registrationID, receivedState, code string) (*Login, error)
}

// AuthorizedClientStore persists authorized clients keyed by registration id
// and principal name. Load returns ErrNotFound for unknown keys.
type AuthorizedClientStore interface {
	Save(ctx context.Context, client *AuthorizedClient) error
	Load(ctx context.Context, registrationID, principalName string) (*AuthorizedClient, error)
	Remove(ctx context.Context, registrationID, principalName string) error
}

type UserInfoFetcher interface {
	Fetch(ctx context.Context, client *AuthorizedClient) (map[string]any, error)
}

// SessionBinder ties an authenticated principal to the browser session.
// OnLoginSuccess always issues a new session id; any session carried by r is
// discarded first.
type SessionBinder interface {
	OnLoginSuccess(ctx context.Context, w http.ResponseWriter, r *http.Request, principal *SessionPrincipal) error
	Current(r *http.Request) (*SessionPrincipal, error)
	Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request) error
}
