package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/marcogenualdo/authorize/internal/auth"
	"github.com/marcogenualdo/authorize/internal/middleware"
	"github.com/marcogenualdo/authorize/internal/session"
)

// PageHandler serves the read-only pages behind RequireAuth. Each one reads
// either the session snapshot or the stored authorized client.
type PageHandler struct {
	registry *auth.Registry
	store    auth.AuthorizedClientStore
	userInfo auth.UserInfoFetcher
	csrf     *middleware.CSRFMiddleware
	login    middleware.LoginRedirector
	renderer *Renderer
	logger   *slog.Logger
}

func NewPageHandler(registry *auth.Registry, store auth.AuthorizedClientStore, userInfo auth.UserInfoFetcher, csrf *middleware.CSRFMiddleware, login middleware.LoginRedirector, renderer *Renderer, logger *slog.Logger) *PageHandler {
	return &PageHandler{
		registry: registry,
		store:    store,
		userInfo: userInfo,
		csrf:     csrf,
		login:    login,
		renderer: renderer,
		logger:   logger,
	}
}

type IndexPageData struct {
	Registration   string    `json:"registration"`
	RegistrationID string    `json:"registration_id"`
	Principal      string    `json:"principal"`
	Scopes         []string  `json:"scopes"`
	ExpiresAt      time.Time `json:"expires_at"`
	CSRFToken      string    `json:"csrf_token"`
}

type HelloPageData struct {
	Username string `json:"username"`
}

type AttributesPageData struct {
	// Source is "session" for the login snapshot and "provider" for a live fetch.
	Source     string         `json:"source"`
	Attributes map[string]any `json:"attributes"`
}

func (h *PageHandler) Index(w http.ResponseWriter, r *http.Request) {
	principal, client, ok := h.authorizedClient(w, r)
	if !ok {
		return
	}

	token, err := h.csrf.GenerateCSRFToken(r)
	if err != nil {
		h.logger.Error("failed to generate CSRF token", "error", err)
		h.renderer.RenderError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	h.renderer.Render(w, r, http.StatusOK, "index", IndexPageData{
		Registration:   client.Registration.Name,
		RegistrationID: client.Registration.ID,
		Principal:      principal.Name,
		Scopes:         client.Scopes,
		ExpiresAt:      client.AccessToken.ExpiresAt,
		CSRFToken:      token,
	})
}

// FullName shows the full-name claim captured at login.
func (h *PageHandler) FullName(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	reg, err := h.registry.Get(principal.RegistrationID)
	if err != nil {
		h.logger.Warn("session refers to unknown registration", "registration", principal.RegistrationID)
		h.login.RedirectToLogin(w, r)
		return
	}

	h.renderer.Render(w, r, http.StatusOK, "hello", HelloPageData{
		Username: principal.Claim(reg.FullNameAttribute),
	})
}

func (h *PageHandler) Attributes(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	h.renderer.Render(w, r, http.StatusOK, "userinfo", AttributesPageData{
		Source:     "session",
		Attributes: principal.Snapshot(),
	})
}

// LatestAttributes asks the provider for the current claims with the stored
// access token.
func (h *PageHandler) LatestAttributes(w http.ResponseWriter, r *http.Request) {
	_, client, ok := h.authorizedClient(w, r)
	if !ok {
		return
	}

	claims, err := h.userInfo.Fetch(r.Context(), client)
	if err != nil {
		h.logger.Warn("failed to fetch latest attributes", "registration", client.Registration.ID, "error", err)
		h.renderer.RenderError(w, r, statusFor(err), auth.ErrorCode(err))
		return
	}

	h.renderer.Render(w, r, http.StatusOK, "userinfo", AttributesPageData{
		Source:     "provider",
		Attributes: claims,
	})
}

func (h *PageHandler) principal(w http.ResponseWriter, r *http.Request) (*auth.SessionPrincipal, bool) {
	principal, ok := session.PrincipalFrom(r.Context())
	if !ok {
		h.login.RedirectToLogin(w, r)
		return nil, false
	}
	return principal, true
}

func (h *PageHandler) authorizedClient(w http.ResponseWriter, r *http.Request) (*auth.SessionPrincipal, *auth.AuthorizedClient, bool) {
	principal, ok := h.principal(w, r)
	if !ok {
		return nil, nil, false
	}

	client, err := h.store.Load(r.Context(), principal.RegistrationID, principal.Name)
	switch {
	case errors.Is(err, auth.ErrNotFound):
		h.logger.Debug("no authorized client for session", "registration", principal.RegistrationID, "principal", principal.Name)
		h.login.RedirectToLogin(w, r)
		return nil, nil, false
	case err != nil:
		err = fmt.Errorf("%w: %v", auth.ErrStoreUnavailable, err)
		h.logger.Error("failed to load authorized client", "error", err)
		h.renderer.RenderError(w, r, statusFor(err), auth.ErrorCode(err))
		return nil, nil, false
	}

	return principal, client, true
}
