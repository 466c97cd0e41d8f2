package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/marcogenualdo/authorize/internal/auth"
	"github.com/marcogenualdo/authorize/internal/config"
	"github.com/marcogenualdo/authorize/pkg/security"
)

// LoginHandler serves the provider chooser and starts authorization.
type LoginHandler struct {
	cfg        config.ServerConfig
	registry   *auth.Registry
	authorizer auth.Authorizer
	renderer   *Renderer
	logger     *slog.Logger
}

func NewLoginHandler(cfg config.ServerConfig, registry *auth.Registry, authorizer auth.Authorizer, renderer *Renderer, logger *slog.Logger) *LoginHandler {
	return &LoginHandler{
		cfg:        cfg,
		registry:   registry,
		authorizer: authorizer,
		renderer:   renderer,
		logger:     logger,
	}
}

type LoginPageData struct {
	Registrations []RegistrationLink `json:"registrations"`
	Error         string             `json:"error,omitempty"`
	Message       string             `json:"message,omitempty"`
}

type RegistrationLink struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

func (h *LoginHandler) Page(w http.ResponseWriter, r *http.Request) {
	returnTo := r.URL.Query().Get("return_to")

	data := LoginPageData{
		Registrations: make([]RegistrationLink, 0, h.registry.Len()),
	}
	for _, reg := range h.registry.List() {
		link := auth.AuthorizationPath(reg.ID)
		if returnTo != "" {
			link += "?" + url.Values{"return_to": {returnTo}}.Encode()
		}
		data.Registrations = append(data.Registrations, RegistrationLink{
			ID:   reg.ID,
			Name: reg.Name,
			URL:  link,
		})
	}

	if code := r.URL.Query().Get("error"); code != "" {
		data.Error = code
		data.Message = auth.ErrorMessage(code)
	}

	h.renderer.Render(w, r, http.StatusOK, "login", data)
}

// Authorize handles /oauth2/authorization/{registrationId}.
func (h *LoginHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	registrationID := chi.URLParam(r, "registrationId")
	if err := h.begin(w, r, registrationID, r.URL.Query().Get("return_to")); err != nil {
		if errors.Is(err, auth.ErrUnknownRegistration) {
			h.renderer.RenderError(w, r, http.StatusNotFound, auth.ErrorCode(err))
			return
		}
		h.logger.Error("failed to begin authorization", "registration", registrationID, "error", err)
		h.renderer.RenderError(w, r, http.StatusInternalServerError, auth.ErrorCode(err))
	}
}

// RedirectToLogin sends an unauthenticated browser straight to the provider
// when only one is configured, and to the chooser otherwise. The original
// request URI is carried through so the browser lands back on it.
func (h *LoginHandler) RedirectToLogin(w http.ResponseWriter, r *http.Request) {
	returnTo := r.URL.RequestURI()

	if h.registry.Len() == 1 {
		reg := h.registry.List()[0]
		err := h.begin(w, r, reg.ID, returnTo)
		if err == nil {
			return
		}
		h.logger.Error("failed to begin authorization", "registration", reg.ID, "error", err)
	}

	http.Redirect(w, r, "/login?"+url.Values{"return_to": {returnTo}}.Encode(), http.StatusFound)
}

func (h *LoginHandler) begin(w http.ResponseWriter, r *http.Request, registrationID, returnTo string) error {
	redirect, err := h.authorizer.Begin(r.Context(), registrationID, returnTo)
	if err != nil {
		return err
	}

	http.SetCookie(w, security.CreateStateCookie(h.cfg, auth.CallbackPath(registrationID), redirect.State, redirect.TTL))
	http.Redirect(w, r, redirect.URL, http.StatusFound)
	return nil
}
