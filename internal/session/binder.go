// Package session binds authenticated principals to browser sessions. The
// session id travels in a cookie; the principal lives in the cache.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/marcogenualdo/authorize/internal/auth"
	"github.com/marcogenualdo/authorize/internal/cache"
	"github.com/marcogenualdo/authorize/internal/config"
	"github.com/marcogenualdo/authorize/pkg/security"
)

const keyPrefix = "session:"

type contextKey string

const principalContextKey contextKey = "principal"

type Binder struct {
	cfg    config.ServerConfig
	cache  cache.Cache
	logger *slog.Logger
}

func NewBinder(cfg config.ServerConfig, c cache.Cache, logger *slog.Logger) *Binder {
	return &Binder{
		cfg:    cfg,
		cache:  c,
		logger: logger,
	}
}

func (b *Binder) OnLoginSuccess(ctx context.Context, w http.ResponseWriter, r *http.Request, principal *auth.SessionPrincipal) error {
	if principal == nil || principal.Name == "" {
		return errors.New("cannot bind an empty principal")
	}

	if r != nil {
		if cookie, err := security.GetSessionCookie(r, b.cfg.CookieName); err == nil && cookie.Value != "" {
			if err := b.cache.Delete(ctx, keyPrefix+cookie.Value); err != nil {
				b.logger.Warn("failed to delete previous session", "error", err)
			}
		}
	}

	sessionID, err := security.GenerateToken()
	if err != nil {
		return fmt.Errorf("failed to generate session id: %w", err)
	}

	data, err := json.Marshal(principal)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := b.cache.Set(ctx, keyPrefix+sessionID, data, b.cfg.SessionTTL); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}

	http.SetCookie(w, security.CreateSessionCookie(b.cfg, sessionID, b.cfg.SessionTTL))

	b.logger.Debug("session created", "registration", principal.RegistrationID, "principal", principal.Name)
	return nil
}

// Current returns the principal bound to the request, or ErrUnauthenticated.
func (b *Binder) Current(r *http.Request) (*auth.SessionPrincipal, error) {
	if principal, ok := PrincipalFrom(r.Context()); ok {
		return principal, nil
	}

	cookie, err := security.GetSessionCookie(r, b.cfg.CookieName)
	if err != nil || cookie.Value == "" {
		return nil, auth.ErrUnauthenticated
	}

	data, err := b.cache.Get(r.Context(), keyPrefix+cookie.Value)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, auth.ErrUnauthenticated
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	var principal auth.SessionPrincipal
	if err := json.Unmarshal(data, &principal); err != nil {
		b.logger.Error("failed to unmarshal session", "error", err)
		return nil, auth.ErrUnauthenticated
	}

	return &principal, nil
}

func (b *Binder) Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	http.SetCookie(w, security.ClearSessionCookie(b.cfg))

	cookie, err := security.GetSessionCookie(r, b.cfg.CookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}

	if err := b.cache.Delete(ctx, keyPrefix+cookie.Value); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func WithPrincipal(ctx context.Context, principal *auth.SessionPrincipal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}

func PrincipalFrom(ctx context.Context) (*auth.SessionPrincipal, bool) {
	principal, ok := ctx.Value(principalContextKey).(*auth.SessionPrincipal)
	return principal, ok && principal != nil
}
