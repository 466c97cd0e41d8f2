package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/marcogenualdo/authorize/internal/auth"
	"github.com/marcogenualdo/authorize/internal/auth/oidc"
	"github.com/marcogenualdo/authorize/internal/cache"
	"github.com/marcogenualdo/authorize/internal/config"
	"github.com/marcogenualdo/authorize/internal/metrics"
	"github.com/marcogenualdo/authorize/internal/server"
	"github.com/marcogenualdo/authorize/internal/session"
	"github.com/marcogenualdo/authorize/internal/store"
	"github.com/marcogenualdo/authorize/internal/userinfo"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	configPathShort := flag.String("c", "config.yaml", "path to configuration file (short)")
	envFile := flag.String("env-file", "", "dotenv file with client secrets (default .env when present)")
	showVersion := flag.Bool("version", false, "show version and exit")
	showHelp := flag.Bool("help", false, "show help and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("authorize v%s\n", version)
		os.Exit(0)
	}

	if *showHelp {
		fmt.Println("authorize - OAuth2 / OpenID Connect relying party demo")
		fmt.Println("\nUsage:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfgPath := *configPath
	if *configPathShort != "config.yaml" {
		cfgPath = *configPathShort
	}

	if err := loadEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadEnv must run before the config is parsed so that secrets from the
// dotenv file override the YAML values.
func loadEnv(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
		return nil
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	logger.Info("starting authorize", "version", version)

	cacheInstance, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to create cache: %w", err)
	}
	logger.Info("cache initialized", "type", cfg.Cache.Type)

	httpClient := oidc.NewHTTPClient(cfg.HTTPClient.Timeout)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	registry, err := oidc.BuildRegistry(ctx, cfg.Registrations, httpClient)
	if err != nil {
		return fmt.Errorf("failed to build client registrations: %w", err)
	}
	for _, reg := range registry.List() {
		logger.Info("registration initialized",
			"id", reg.ID,
			"name", reg.Name,
			"openid", reg.IsOpenID(),
			"pkce", reg.PKCE,
		)
	}

	var authorizedClients auth.AuthorizedClientStore
	if cfg.Cache.Type == "memory" {
		authorizedClients = store.NewMemoryStore()
	} else {
		authorizedClients = store.NewCacheStore(cacheInstance, registry)
	}

	var m *metrics.Metrics
	if cfg.MetricsEnabled() {
		m = metrics.New()
	}

	fetcher := userinfo.NewFetcher(httpClient, m, logger)

	flow, err := oidc.NewFlow(oidc.FlowConfig{
		BaseURL:    cfg.Server.BaseURL,
		HTTPClient: httpClient,
		Metrics:    m,
	}, registry, authorizedClients, cacheInstance, fetcher, logger)
	if err != nil {
		return fmt.Errorf("failed to create authorization flow: %w", err)
	}

	srv, err := server.New(*cfg, cacheInstance, server.Dependencies{
		Registry:   registry,
		Authorizer: flow,
		Store:      authorizedClients,
		UserInfo:   fetcher,
		Binder:     session.NewBinder(cfg.Server, cacheInstance, logger),
		Metrics:    m,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return srv.Start()
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var out io.Writer = os.Stdout
	if strings.ToLower(cfg.Output) == "stderr" {
		out = os.Stderr
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler)
}
