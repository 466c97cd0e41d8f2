package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/marcogenualdo/authorize/internal/auth"
	"github.com/marcogenualdo/authorize/internal/cache"
	"github.com/marcogenualdo/authorize/internal/config"
)

type HealthHandler struct {
	cfg       config.Config
	cache     cache.Cache
	registry  *auth.Registry
	logger    *slog.Logger
	startTime time.Time
}

func NewHealthHandler(cfg config.Config, cache cache.Cache, registry *auth.Registry, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		cfg:       cfg,
		cache:     cache,
		registry:  registry,
		logger:    logger,
		startTime: time.Now(),
	}
}

type HealthResponse struct {
	Status        string            `json:"status"`
	Uptime        string            `json:"uptime"`
	Cache         CacheHealth       `json:"cache"`
	Registrations map[string]string `json:"registrations"`
}

type CacheHealth struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:        "healthy",
		Uptime:        time.Since(h.startTime).Round(time.Second).String(),
		Registrations: make(map[string]string, h.registry.Len()),
	}

	response.Cache.Type = h.cfg.Cache.Type
	if err := h.cache.Ping(ctx); err != nil {
		h.logger.Warn("cache health check failed", "error", err)
		response.Cache.Status = "error: " + err.Error()
		response.Status = "degraded"
	} else {
		response.Cache.Status = "connected"
	}

	for _, reg := range h.registry.List() {
		kind := "oauth2"
		if reg.IsOpenID() {
			kind = "oidc"
		}
		response.Registrations[reg.ID] = reg.Name + " (" + kind + ")"
	}

	w.Header().Set("Content-Type", "application/json")
	if response.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	json.NewEncoder(w).Encode(response)
}
