package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/marcogenualdo/authorize/internal/cache"
	"github.com/marcogenualdo/authorize/pkg/security"
)

const (
	csrfKeyPrefix = "csrf:"
	csrfTokenTTL  = time.Hour
)

var errNoSession = errors.New("no session to bind CSRF token to")

// CSRFMiddleware issues single-use tokens for the HTML forms and rejects
// unsafe requests that do not present one. A token is only accepted from the
// session it was issued to.
type CSRFMiddleware struct {
	cache      cache.Cache
	cookieName string
	logger     *slog.Logger
}

func NewCSRFMiddleware(cache cache.Cache, cookieName string, logger *slog.Logger) *CSRFMiddleware {
	return &CSRFMiddleware{
		cache:      cache,
		cookieName: cookieName,
		logger:     logger,
	}
}

func (cm *CSRFMiddleware) sessionID(r *http.Request) string {
	cookie, err := security.GetSessionCookie(r, cm.cookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (cm *CSRFMiddleware) ValidateCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodDelete {
			token := r.FormValue("csrf_token")
			if token == "" {
				token = r.Header.Get("X-CSRF-Token")
			}

			if token == "" {
				cm.logger.Warn("missing CSRF token", "path", r.URL.Path)
				http.Error(w, "Missing CSRF token", http.StatusForbidden)
				return
			}

			owner, err := cm.cache.Pop(r.Context(), csrfKeyPrefix+token)
			if err != nil {
				if errors.Is(err, cache.ErrNotFound) {
					cm.logger.Warn("invalid CSRF token", "path", r.URL.Path)
					http.Error(w, "Invalid or expired CSRF token", http.StatusForbidden)
					return
				}
				cm.logger.Error("failed to check CSRF token", "error", err)
				http.Error(w, "Internal server error", http.StatusInternalServerError)
				return
			}

			sessionID := cm.sessionID(r)
			if sessionID == "" || !security.Equal(string(owner), sessionID) {
				cm.logger.Warn("CSRF token issued to another session", "path", r.URL.Path)
				http.Error(w, "Invalid or expired CSRF token", http.StatusForbidden)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// GenerateCSRFToken issues a token bound to the session cookie carried by r.
func (cm *CSRFMiddleware) GenerateCSRFToken(r *http.Request) (string, error) {
	sessionID := cm.sessionID(r)
	if sessionID == "" {
		return "", errNoSession
	}

	token, err := security.GenerateToken()
	if err != nil {
		return "", err
	}

	if err := cm.cache.Set(r.Context(), csrfKeyPrefix+token, []byte(sessionID), csrfTokenTTL); err != nil {
		return "", err
	}

	return token, nil
}
