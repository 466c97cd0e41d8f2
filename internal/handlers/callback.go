package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/marcogenualdo/authorize/internal/auth"
	"github.com/marcogenualdo/authorize/internal/config"
	"github.com/marcogenualdo/authorize/pkg/security"
)

type CallbackHandler struct {
	cfg        config.ServerConfig
	authorizer auth.Authorizer
	binder     auth.SessionBinder
	renderer   *Renderer
	logger     *slog.Logger
}

func NewCallbackHandler(cfg config.ServerConfig, authorizer auth.Authorizer, binder auth.SessionBinder, renderer *Renderer, logger *slog.Logger) *CallbackHandler {
	return &CallbackHandler{
		cfg:        cfg,
		authorizer: authorizer,
		binder:     binder,
		renderer:   renderer,
		logger:     logger,
	}
}

// ServeHTTP handles /login/callback/{registrationId}.
func (h *CallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	registrationID := chi.URLParam(r, "registrationId")
	query := r.URL.Query()

	// The state cookie is good for exactly one callback whatever the outcome.
	http.SetCookie(w, security.ClearStateCookie(h.cfg, auth.CallbackPath(registrationID)))

	if providerErr := query.Get("error"); providerErr != "" {
		h.fail(w, r, registrationID, fmt.Errorf("%w: %s %s", auth.ErrAuthorizationDenied, providerErr, query.Get("error_description")))
		return
	}

	state := query.Get("state")
	cookie, err := r.Cookie(security.StateCookieName(h.cfg))
	if err != nil || !security.Equal(cookie.Value, state) {
		h.fail(w, r, registrationID, fmt.Errorf("%w: state cookie missing or different", auth.ErrStateMismatch))
		return
	}

	login, err := h.authorizer.HandleCallback(r.Context(), registrationID, state, query.Get("code"))
	if err != nil {
		h.fail(w, r, registrationID, err)
		return
	}

	if err := h.binder.OnLoginSuccess(r.Context(), w, r, login.Principal); err != nil {
		h.fail(w, r, registrationID, err)
		return
	}

	h.logger.Info("authentication successful",
		"registration", registrationID,
		"principal", login.Principal.Name,
	)

	http.Redirect(w, r, login.ReturnTo, http.StatusFound)
}

func (h *CallbackHandler) fail(w http.ResponseWriter, r *http.Request, registrationID string, err error) {
	code := auth.ErrorCode(err)

	if retryAtLogin(err) {
		h.logger.Warn("callback failed", "registration", registrationID, "error", err)
		http.Redirect(w, r, "/login?"+url.Values{"error": {code}}.Encode(), http.StatusFound)
		return
	}

	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("callback failed", "registration", registrationID, "error", err)
	} else {
		h.logger.Warn("callback failed", "registration", registrationID, "error", err)
	}
	h.renderer.RenderError(w, r, status, code)
}
