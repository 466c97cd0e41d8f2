package oidc

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/oauth2"

	"github.com/marcogenualdo/authorize/internal/auth"
	"github.com/marcogenualdo/authorize/internal/config"
)

// NewHTTPClient returns the pooled client used for every server-to-server call
// to a provider (discovery, JWKS, token and userinfo endpoints).
func NewHTTPClient(timeout time.Duration) *http.Client {
	client := cleanhttp.DefaultPooledClient()
	client.Timeout = timeout
	return client
}

// NewRegistration turns configuration into a ClientRegistration. When an
// issuer is configured, endpoints left blank are filled in from discovery.
func NewRegistration(ctx context.Context, cfg config.RegistrationConfig, client *http.Client) (auth.ClientRegistration, error) {
	reg := auth.ClientRegistration{
		ID:                cfg.ID,
		Name:              cfg.Name,
		Issuer:            cfg.Issuer,
		ClientID:          cfg.ClientID,
		ClientSecret:      cfg.ClientSecret,
		AuthorizationURI:  cfg.AuthorizationURI,
		TokenURI:          cfg.TokenURI,
		UserInfoURI:       cfg.UserInfoURI,
		JWKSURI:           cfg.JWKSURI,
		Scopes:            cfg.Scopes,
		UserNameAttribute: cfg.UserNameAttribute,
		FullNameAttribute: cfg.FullNameAttribute,
		PKCE:              cfg.PKCE == nil || *cfg.PKCE,
		AuthMethod:        cfg.AuthMethod,
	}

	if reg.Issuer == "" || !needsDiscovery(reg) {
		return reg, nil
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, client), reg.Issuer)
	if err != nil {
		return auth.ClientRegistration{}, fmt.Errorf("failed to discover provider %s: %w", reg.ID, err)
	}

	var metadata struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&metadata); err != nil {
		return auth.ClientRegistration{}, fmt.Errorf("failed to parse discovery document for %s: %w", reg.ID, err)
	}

	endpoint := provider.Endpoint()
	if reg.AuthorizationURI == "" {
		reg.AuthorizationURI = endpoint.AuthURL
	}
	if reg.TokenURI == "" {
		reg.TokenURI = endpoint.TokenURL
	}
	if reg.UserInfoURI == "" {
		reg.UserInfoURI = provider.UserInfoEndpoint()
	}
	if reg.JWKSURI == "" {
		reg.JWKSURI = metadata.JWKSURI
	}

	return reg, nil
}

func needsDiscovery(reg auth.ClientRegistration) bool {
	return reg.AuthorizationURI == "" || reg.TokenURI == "" || reg.UserInfoURI == "" || reg.JWKSURI == ""
}

// BuildRegistry resolves every configured registration.
func BuildRegistry(ctx context.Context, cfgs []config.RegistrationConfig, client *http.Client) (*auth.Registry, error) {
	registrations := make([]auth.ClientRegistration, 0, len(cfgs))
	for _, cfg := range cfgs {
		reg, err := NewRegistration(ctx, cfg, client)
		if err != nil {
			return nil, err
		}
		registrations = append(registrations, reg)
	}
	return auth.NewRegistry(registrations...)
}

func oauth2Config(reg auth.ClientRegistration, redirectURL string) *oauth2.Config {
	style := oauth2.AuthStyleInParams
	if reg.AuthMethod == config.AuthMethodClientSecretBasic {
		style = oauth2.AuthStyleInHeader
	}

	return &oauth2.Config{
		ClientID:     reg.ClientID,
		ClientSecret: reg.ClientSecret,
		RedirectURL:  redirectURL,
		Scopes:       reg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   reg.AuthorizationURI,
			TokenURL:  reg.TokenURI,
			AuthStyle: style,
		},
	}
}

func newVerifier(reg auth.ClientRegistration, client *http.Client) (*oidc.IDTokenVerifier, error) {
	if reg.Issuer == "" || reg.JWKSURI == "" {
		if reg.IsOpenID() {
			return nil, fmt.Errorf("registration %s requests openid but has no issuer and jwks_uri to verify id_tokens", reg.ID)
		}
		return nil, nil
	}

	// The key set refreshes lazily for the lifetime of the process, so it
	// gets a background context carrying the bounded client.
	keySet := oidc.NewRemoteKeySet(oidc.ClientContext(context.Background(), client), reg.JWKSURI)
	return oidc.NewVerifier(reg.Issuer, keySet, &oidc.Config{ClientID: reg.ClientID}), nil
}
