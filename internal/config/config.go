package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig         `yaml:"server"`
	HTTPClient    HTTPClientConfig     `yaml:"http_client"`
	Cache         CacheConfig          `yaml:"cache"`
	Registrations []RegistrationConfig `yaml:"registrations"`
	Logging       LoggingConfig        `yaml:"logging"`
	Metrics       MetricsConfig        `yaml:"metrics"`
}

type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	BaseURL        string        `yaml:"base_url"`
	CookieName     string        `yaml:"cookie_name"`
	CookieDomain   string        `yaml:"cookie_domain"`
	CookieSecure   bool          `yaml:"cookie_secure"`
	CookieHTTPOnly bool          `yaml:"cookie_http_only"`
	CookieSameSite string        `yaml:"cookie_same_site"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
}

// HTTPClientConfig bounds every server-to-server call made to a provider.
type HTTPClientConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

type CacheConfig struct {
	Type  string       `yaml:"type"`
	Redis *RedisConfig `yaml:"redis,omitempty"`
}

type RedisConfig struct {
	Address    string `yaml:"address"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	PoolSize   int    `yaml:"pool_size"`
	MaxRetries int    `yaml:"max_retries"`
}

// RegistrationConfig describes one OAuth2 client registration at an identity
// provider. Endpoints left blank are filled from OIDC discovery when Issuer is set.
type RegistrationConfig struct {
	ID                string   `yaml:"id"`
	Name              string   `yaml:"name"`
	Issuer            string   `yaml:"issuer,omitempty"`
	ClientID          string   `yaml:"client_id"`
	ClientSecret      string   `yaml:"client_secret"`
	AuthorizationURI  string   `yaml:"authorization_uri,omitempty"`
	TokenURI          string   `yaml:"token_uri,omitempty"`
	UserInfoURI       string   `yaml:"user_info_uri,omitempty"`
	JWKSURI           string   `yaml:"jwks_uri,omitempty"`
	Scopes            []string `yaml:"scopes"`
	UserNameAttribute string   `yaml:"user_name_attribute"`
	FullNameAttribute string   `yaml:"full_name_attribute"`
	PKCE              *bool    `yaml:"pkce"`
	AuthMethod        string   `yaml:"auth_method"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Path    string `yaml:"path"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML config, applies defaults and environment overrides.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.setDefaults(); err != nil {
		return nil, fmt.Errorf("failed to set defaults: %w", err)
	}

	if err := cfg.loadSecretsFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load secrets from environment: %w", err)
	}

	return &cfg, nil
}

func (c *Config) setDefaults() error {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.CookieName == "" {
		c.Server.CookieName = "authorize-session"
	}
	if !c.Server.CookieHTTPOnly {
		c.Server.CookieHTTPOnly = true
	}
	if c.Server.CookieSameSite == "" {
		c.Server.CookieSameSite = "lax"
	}
	if c.Server.SessionTTL == 0 {
		c.Server.SessionTTL = 8 * time.Hour
	}
	c.Server.BaseURL = strings.TrimSuffix(c.Server.BaseURL, "/")

	if c.HTTPClient.Timeout == 0 {
		c.HTTPClient.Timeout = 10 * time.Second
	}

	if c.Cache.Type == "" {
		c.Cache.Type = "memory"
	}

	if c.Cache.Type == "redis" && c.Cache.Redis != nil {
		if c.Cache.Redis.PoolSize == 0 {
			c.Cache.Redis.PoolSize = 10
		}
		if c.Cache.Redis.MaxRetries == 0 {
			c.Cache.Redis.MaxRetries = 3
		}
	}

	for i := range c.Registrations {
		reg := &c.Registrations[i]
		if reg.Name == "" {
			reg.Name = reg.ID
		}
		if reg.UserNameAttribute == "" {
			reg.UserNameAttribute = "sub"
		}
		if reg.FullNameAttribute == "" {
			reg.FullNameAttribute = "name"
		}
		if reg.PKCE == nil {
			enabled := true
			reg.PKCE = &enabled
		}
		if reg.AuthMethod == "" {
			reg.AuthMethod = AuthMethodClientSecretPost
		}
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	if c.Metrics.Enabled == nil {
		enabled := true
		c.Metrics.Enabled = &enabled
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	return nil
}

const (
	AuthMethodClientSecretPost  = "client_secret_post"
	AuthMethodClientSecretBasic = "client_secret_basic"
)

// loadSecretsFromEnv lets <ID>_CLIENT_ID and <ID>_CLIENT_SECRET override the
// file, with the registration id upper-cased and dashes turned into underscores.
func (c *Config) loadSecretsFromEnv() error {
	for i := range c.Registrations {
		reg := &c.Registrations[i]
		prefix := envPrefix(reg.ID)

		if envClientID := os.Getenv(prefix + "_CLIENT_ID"); envClientID != "" {
			reg.ClientID = envClientID
		}
		if envClientSecret := os.Getenv(prefix + "_CLIENT_SECRET"); envClientSecret != "" {
			reg.ClientSecret = envClientSecret
		}
	}

	if c.Cache.Type == "redis" && c.Cache.Redis != nil {
		if envPassword := os.Getenv("REDIS_PASSWORD"); envPassword != "" {
			c.Cache.Redis.Password = envPassword
		}
	}

	return nil
}

func envPrefix(id string) string {
	return strings.ToUpper(strings.ReplaceAll(id, "-", "_"))
}

// MetricsEnabled reports whether the prometheus endpoint should be mounted.
func (c *Config) MetricsEnabled() bool {
	return c.Metrics.Enabled != nil && *c.Metrics.Enabled
}
