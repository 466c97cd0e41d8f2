package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if c.HTTPClient.Timeout < 0 {
		return fmt.Errorf("http_client config: timeout must be positive")
	}

	if err := c.validateCache(); err != nil {
		return fmt.Errorf("cache config: %w", err)
	}

	if err := c.validateRegistrations(); err != nil {
		return fmt.Errorf("registrations config: %w", err)
	}

	if err := c.validateLogging(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics config: path must start with /")
	}

	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Server.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}

	if err := validateAbsoluteURL(c.Server.BaseURL); err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}

	sameSite := strings.ToLower(c.Server.CookieSameSite)
	if sameSite != "lax" && sameSite != "strict" && sameSite != "none" {
		return fmt.Errorf("invalid cookie_same_site: %s (must be lax, strict, or none)", c.Server.CookieSameSite)
	}

	if c.Server.SessionTTL < time.Minute {
		return fmt.Errorf("session_ttl must be at least 1 minute")
	}

	return nil
}

func (c *Config) validateCache() error {
	if c.Cache.Type != "memory" && c.Cache.Type != "redis" {
		return fmt.Errorf("invalid type: %s (must be memory or redis)", c.Cache.Type)
	}

	if c.Cache.Type == "redis" {
		if c.Cache.Redis == nil {
			return fmt.Errorf("redis config is required when type is redis")
		}
		if c.Cache.Redis.Address == "" {
			return fmt.Errorf("redis address is required")
		}
	}

	return nil
}

func (c *Config) validateRegistrations() error {
	if len(c.Registrations) == 0 {
		return fmt.Errorf("at least one registration is required")
	}

	ids := make(map[string]bool)
	for i, reg := range c.Registrations {
		if reg.ID == "" {
			return fmt.Errorf("registration %d: id is required", i)
		}
		if strings.ContainsAny(reg.ID, "/?#: ") {
			return fmt.Errorf("registration %d: id %q must be a single path segment", i, reg.ID)
		}

		if ids[reg.ID] {
			return fmt.Errorf("registration %d: duplicate id: %s", i, reg.ID)
		}
		ids[reg.ID] = true

		if err := validateRegistration(reg); err != nil {
			return err
		}
	}

	return nil
}

func validateRegistration(reg RegistrationConfig) error {
	if reg.ClientID == "" {
		return fmt.Errorf("registration %s: client_id is required", reg.ID)
	}

	if reg.ClientSecret == "" {
		return fmt.Errorf("registration %s: client_secret is required", reg.ID)
	}

	if len(reg.Scopes) == 0 {
		return fmt.Errorf("registration %s: at least one scope is required", reg.ID)
	}

	if reg.Issuer != "" {
		if err := validateAbsoluteURL(reg.Issuer); err != nil {
			return fmt.Errorf("registration %s: invalid issuer URL: %w", reg.ID, err)
		}
	} else {
		if slices.Contains(reg.Scopes, "openid") {
			return fmt.Errorf("registration %s: issuer is required when the 'openid' scope is requested", reg.ID)
		}
		if reg.AuthorizationURI == "" || reg.TokenURI == "" {
			return fmt.Errorf("registration %s: authorization_uri and token_uri are required without an issuer", reg.ID)
		}
	}

	endpoints := map[string]string{
		"authorization_uri": reg.AuthorizationURI,
		"token_uri":         reg.TokenURI,
		"user_info_uri":     reg.UserInfoURI,
		"jwks_uri":          reg.JWKSURI,
	}
	for name, value := range endpoints {
		if value == "" {
			continue
		}
		if err := validateAbsoluteURL(value); err != nil {
			return fmt.Errorf("registration %s: invalid %s: %w", reg.ID, name, err)
		}
	}

	if reg.AuthMethod != AuthMethodClientSecretPost && reg.AuthMethod != AuthMethodClientSecretBasic {
		return fmt.Errorf("registration %s: invalid auth_method: %s (must be %s or %s)",
			reg.ID, reg.AuthMethod, AuthMethodClientSecretPost, AuthMethodClientSecretBasic)
	}

	return nil
}

func validateAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

func (c *Config) validateLogging() error {
	level := strings.ToLower(c.Logging.Level)
	if level != "debug" && level != "info" && level != "warn" && level != "error" {
		return fmt.Errorf("invalid level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	format := strings.ToLower(c.Logging.Format)
	if format != "json" && format != "text" {
		return fmt.Errorf("invalid format: %s (must be json or text)", c.Logging.Format)
	}

	output := strings.ToLower(c.Logging.Output)
	if output != "stdout" && output != "stderr" {
		return fmt.Errorf("invalid output: %s (must be stdout or stderr)", c.Logging.Output)
	}

	return nil
}
