package security

import (
	"net/http"
	"strings"
	"time"

	"github.com/marcogenualdo/authorize/internal/config"
)

func sameSiteMode(cfg config.ServerConfig) http.SameSite {
	switch strings.ToLower(cfg.CookieSameSite) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func CreateSessionCookie(cfg config.ServerConfig, sessionID string, maxAge time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     cfg.CookieName,
		Value:    sessionID,
		Path:     "/",
		Domain:   cfg.CookieDomain,
		MaxAge:   int(maxAge.Seconds()),
		Secure:   cfg.CookieSecure,
		HttpOnly: cfg.CookieHTTPOnly,
		SameSite: sameSiteMode(cfg),
	}
}

func ClearSessionCookie(cfg config.ServerConfig) *http.Cookie {
	cookie := CreateSessionCookie(cfg, "", 0)
	cookie.MaxAge = -1
	return cookie
}

func GetSessionCookie(req *http.Request, cookieName string) (*http.Cookie, error) {
	return req.Cookie(cookieName)
}

// StateCookieName is the cookie binding a pending authorization request to
// the browser that started it.
func StateCookieName(cfg config.ServerConfig) string {
	return cfg.CookieName + "-state"
}

// CreateStateCookie is scoped to the callback path. It is always Lax (or
// None when configured) because the provider redirect is a cross-site
// top-level navigation that Strict cookies would not survive.
func CreateStateCookie(cfg config.ServerConfig, callbackPath, state string, maxAge time.Duration) *http.Cookie {
	sameSite := sameSiteMode(cfg)
	if sameSite == http.SameSiteStrictMode {
		sameSite = http.SameSiteLaxMode
	}

	return &http.Cookie{
		Name:     StateCookieName(cfg),
		Value:    state,
		Path:     callbackPath,
		Domain:   cfg.CookieDomain,
		MaxAge:   int(maxAge.Seconds()),
		Secure:   cfg.CookieSecure,
		HttpOnly: true,
		SameSite: sameSite,
	}
}

func ClearStateCookie(cfg config.ServerConfig, callbackPath string) *http.Cookie {
	cookie := CreateStateCookie(cfg, callbackPath, "", 0)
	cookie.MaxAge = -1
	return cookie
}
