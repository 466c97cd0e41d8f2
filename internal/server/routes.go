package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/marcogenualdo/authorize/internal/handlers"
	"github.com/marcogenualdo/authorize/internal/middleware"
)

func (s *Server) setupRoutes() (http.Handler, error) {
	renderer, err := handlers.NewRenderer(s.logger)
	if err != nil {
		return nil, err
	}

	csrfMiddleware := middleware.NewCSRFMiddleware(s.cache, s.cfg.Server.CookieName, s.logger)

	loginHandler := handlers.NewLoginHandler(s.cfg.Server, s.deps.Registry, s.deps.Authorizer, renderer, s.logger)
	authMiddleware := middleware.NewAuthMiddleware(s.deps.Binder, loginHandler, s.logger)

	pageHandler := handlers.NewPageHandler(s.deps.Registry, s.deps.Store, s.deps.UserInfo, csrfMiddleware, loginHandler, renderer, s.logger)
	callbackHandler := handlers.NewCallbackHandler(s.cfg.Server, s.deps.Authorizer, s.deps.Binder, renderer, s.logger)
	logoutHandler := handlers.NewLogoutHandler(s.deps.Binder, s.deps.Store, s.logger)
	healthHandler := handlers.NewHealthHandler(s.cfg, s.cache, s.deps.Registry, s.logger)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.Recovery(s.logger))
	r.Use(middleware.Logging(s.logger))
	if s.cfg.MetricsEnabled() {
		r.Use(middleware.Metrics(s.deps.Metrics))
	}
	r.Use(middleware.SecurityHeaders)

	r.Get("/login", loginHandler.Page)
	r.Get("/oauth2/authorization/{registrationId}", loginHandler.Authorize)
	r.Get("/login/callback/{registrationId}", callbackHandler.ServeHTTP)
	r.With(csrfMiddleware.ValidateCSRF).Post("/logout", logoutHandler.ServeHTTP)

	r.Get("/health", healthHandler.ServeHTTP)
	if s.cfg.MetricsEnabled() && s.deps.Metrics != nil {
		r.Method(http.MethodGet, s.cfg.Metrics.Path, s.deps.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.RequireAuth)

		r.Get("/", pageHandler.Index)
		r.Get("/google", pageHandler.FullName)
		r.Get("/attributes", pageHandler.Attributes)
		r.Get("/attributes/latest", pageHandler.LatestAttributes)
	})

	return r, nil
}
