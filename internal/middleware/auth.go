package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/marcogenualdo/authorize/internal/auth"
	"github.com/marcogenualdo/authorize/internal/session"
)

// LoginRedirector sends an unauthenticated browser to log in.
type LoginRedirector interface {
	RedirectToLogin(w http.ResponseWriter, r *http.Request)
}

type AuthMiddleware struct {
	binder     auth.SessionBinder
	redirector LoginRedirector
	logger     *slog.Logger
}

func NewAuthMiddleware(binder auth.SessionBinder, redirector LoginRedirector, logger *slog.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		binder:     binder,
		redirector: redirector,
		logger:     logger,
	}
}

// RequireAuth puts the session principal on the request context. Requests
// without a valid session are redirected to log in, never failed.
func (am *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := am.binder.Current(r)
		if err != nil {
			if !errors.Is(err, auth.ErrUnauthenticated) {
				am.logger.Error("failed to load session", "error", err, "path", r.URL.Path)
			} else {
				am.logger.Debug("no session found", "path", r.URL.Path)
			}
			am.redirector.RedirectToLogin(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(session.WithPrincipal(r.Context(), principal)))
	})
}
