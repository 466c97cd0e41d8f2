package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marcogenualdo/authorize/internal/auth"
	"github.com/marcogenualdo/authorize/internal/cache"
	"github.com/marcogenualdo/authorize/internal/config"
	"github.com/marcogenualdo/authorize/internal/metrics"
)

// Dependencies are the components the HTTP layer composes.
type Dependencies struct {
	Registry   *auth.Registry
	Authorizer auth.Authorizer
	Store      auth.AuthorizedClientStore
	UserInfo   auth.UserInfoFetcher
	Binder     auth.SessionBinder
	Metrics    *metrics.Metrics
}

type Server struct {
	cfg        config.Config
	cache      cache.Cache
	deps       Dependencies
	logger     *slog.Logger
	handler    http.Handler
	httpServer *http.Server
}

func New(cfg config.Config, cache cache.Cache, deps Dependencies, logger *slog.Logger) (*Server, error) {
	if deps.Registry == nil || deps.Authorizer == nil || deps.Store == nil || deps.UserInfo == nil || deps.Binder == nil {
		return nil, errors.New("server dependencies are incomplete")
	}

	s := &Server{
		cfg:    cfg,
		cache:  cache,
		deps:   deps,
		logger: logger,
	}

	router, err := s.setupRoutes()
	if err != nil {
		return nil, fmt.Errorf("failed to setup routes: %w", err)
	}
	s.handler = router

	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server",
			"host", s.cfg.Server.Host,
			"port", s.cfg.Server.Port,
			"base_url", s.cfg.Server.BaseURL,
			"registrations", s.deps.Registry.IDs(),
		)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig)
		return s.Shutdown()
	}
}

func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.logger.Info("shutting down server")

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("error during server shutdown", "error", err)
			return err
		}
	}

	if err := s.cache.Close(); err != nil {
		s.logger.Error("error closing cache", "error", err)
	}

	s.logger.Info("server shutdown complete")
	return nil
}
