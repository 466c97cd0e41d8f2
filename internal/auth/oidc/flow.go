package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/marcogenualdo/authorize/internal/auth"
	"github.com/marcogenualdo/authorize/internal/cache"
	"github.com/marcogenualdo/authorize/internal/metrics"
	"github.com/marcogenualdo/authorize/pkg/security"
)

const (
	stateKeyPrefix  = "oauth2:state:"
	DefaultStateTTL = 5 * time.Minute

	// Callbacks for unregistered ids share one label so the path cannot
	// grow the login series.
	unknownRegistrationLabel = "unknown"
)

// Flow runs the authorization-code exchange for every configured registration.
type Flow struct {
	baseURL    string
	registry   *auth.Registry
	store      auth.AuthorizedClientStore
	cache      cache.Cache
	userInfo   auth.UserInfoFetcher
	httpClient *http.Client
	verifiers  map[string]*oidc.IDTokenVerifier
	metrics    *metrics.Metrics
	logger     *slog.Logger

	stateTTL time.Duration
	now      func() time.Time
}

type FlowConfig struct {
	// BaseURL is the externally visible origin of this application.
	BaseURL    string
	HTTPClient *http.Client
	StateTTL   time.Duration
	Metrics    *metrics.Metrics
}

func NewFlow(cfg FlowConfig, registry *auth.Registry, store auth.AuthorizedClientStore, c cache.Cache, userInfo auth.UserInfoFetcher, logger *slog.Logger) (*Flow, error) {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = NewHTTPClient(10 * time.Second)
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = DefaultStateTTL
	}

	verifiers := make(map[string]*oidc.IDTokenVerifier)
	for _, reg := range registry.List() {
		verifier, err := newVerifier(reg, cfg.HTTPClient)
		if err != nil {
			return nil, err
		}
		if verifier != nil {
			verifiers[reg.ID] = verifier
		}
	}

	return &Flow{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		registry:   registry,
		store:      store,
		cache:      c,
		userInfo:   userInfo,
		httpClient: cfg.HTTPClient,
		verifiers:  verifiers,
		metrics:    cfg.Metrics,
		logger:     logger,
		stateTTL:   cfg.StateTTL,
		now:        time.Now,
	}, nil
}

func (f *Flow) redirectURI(registrationID string) string {
	return f.baseURL + auth.CallbackPath(registrationID)
}

// Begin builds the provider authorization URL and persists the pending
// request under its state.
func (f *Flow) Begin(ctx context.Context, registrationID, returnTo string) (*auth.AuthRedirect, error) {
	reg, err := f.registry.Get(registrationID)
	if err != nil {
		return nil, err
	}

	state, err := security.GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}

	pending := auth.AuthorizationRequestState{
		State:          state,
		RedirectURI:    f.redirectURI(reg.ID),
		RegistrationID: reg.ID,
		ReturnTo:       SanitizeReturnTo(returnTo),
		CreatedAt:      f.now(),
	}

	var opts []oauth2.AuthCodeOption
	if reg.IsOpenID() {
		nonce, err := security.GenerateToken()
		if err != nil {
			return nil, fmt.Errorf("failed to generate nonce: %w", err)
		}
		pending.Nonce = nonce
		opts = append(opts, oidc.Nonce(nonce))
	}
	if reg.PKCE {
		pending.CodeVerifier = oauth2.GenerateVerifier()
		opts = append(opts, oauth2.S256ChallengeOption(pending.CodeVerifier))
	}

	authURL := oauth2Config(reg, pending.RedirectURI).AuthCodeURL(state, opts...)

	data, err := json.Marshal(pending)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := f.cache.Set(ctx, stateKeyPrefix+state, data, f.stateTTL); err != nil {
		return nil, fmt.Errorf("failed to store state: %w", err)
	}

	f.logger.Debug("authorization started", "registration", reg.ID, "pkce", reg.PKCE)

	return &auth.AuthRedirect{
		URL:   authURL,
		State: state,
		TTL:   f.stateTTL,
	}, nil
}

// HandleCallback consumes the pending state, exchanges the code and stores
// the resulting authorized client.
func (f *Flow) HandleCallback(ctx context.Context, registrationID, receivedState, code string) (*auth.Login, error) {
	login, err := f.handleCallback(ctx, registrationID, receivedState, code)

	label := registrationID
	if errors.Is(err, auth.ErrUnknownRegistration) {
		label = unknownRegistrationLabel
	}
	f.metrics.ObserveLogin(label, auth.ErrorCode(err))
	return login, err
}

func (f *Flow) handleCallback(ctx context.Context, registrationID, receivedState, code string) (*auth.Login, error) {
	reg, err := f.registry.Get(registrationID)
	if err != nil {
		return nil, err
	}

	pending, err := f.consumeState(ctx, registrationID, receivedState)
	if err != nil {
		return nil, err
	}

	if code == "" {
		return nil, fmt.Errorf("%w: missing code parameter", auth.ErrTokenExchangeFailed)
	}

	var opts []oauth2.AuthCodeOption
	if pending.CodeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(pending.CodeVerifier))
	}

	exchangeCtx := context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
	token, err := oauth2Config(reg, pending.RedirectURI).Exchange(exchangeCtx, code, opts...)
	if err != nil {
		return nil, classifyExchangeError(err)
	}

	issuedAt := f.now()
	authorized := &auth.AuthorizedClient{
		Registration: reg,
		AccessToken: auth.AccessToken{
			Value:     token.AccessToken,
			Type:      token.Type(),
			IssuedAt:  issuedAt,
			ExpiresAt: token.Expiry,
		},
		Scopes: grantedScopes(token, reg),
	}
	if token.RefreshToken != "" {
		authorized.RefreshToken = &auth.RefreshToken{Value: token.RefreshToken}
	}

	claims, err := f.identityClaims(ctx, reg, pending, token, authorized)
	if err != nil {
		return nil, err
	}

	principalName := claimString(claims, reg.UserNameAttribute)
	if principalName == "" {
		return nil, fmt.Errorf("%w: claim %q missing from identity", auth.ErrUserInfoFailed, reg.UserNameAttribute)
	}
	authorized.PrincipalName = principalName

	if err := f.store.Save(ctx, authorized); err != nil {
		return nil, fmt.Errorf("failed to save authorized client: %w", err)
	}

	f.logger.Info("authorization completed",
		"registration", reg.ID,
		"principal", principalName,
		"login_id", uuid.NewString(),
		"expires_at", authorized.AccessToken.ExpiresAt,
	)

	return &auth.Login{
		Client: authorized,
		Principal: &auth.SessionPrincipal{
			Name:            principalName,
			RegistrationID:  reg.ID,
			ClaimsAtLogin:   claims,
			AuthenticatedAt: issuedAt,
		},
		ReturnTo: pending.ReturnTo,
	}, nil
}

func (f *Flow) consumeState(ctx context.Context, registrationID, receivedState string) (*auth.AuthorizationRequestState, error) {
	if receivedState == "" {
		return nil, fmt.Errorf("%w: missing state parameter", auth.ErrStateMismatch)
	}

	data, err := f.cache.Pop(ctx, stateKeyPrefix+receivedState)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown or expired state", auth.ErrStateMismatch)
		}
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	var pending auth.AuthorizationRequestState
	if err := json.Unmarshal(data, &pending); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	if pending.RegistrationID != registrationID || !security.Equal(pending.State, receivedState) {
		return nil, fmt.Errorf("%w: state issued for %s", auth.ErrStateMismatch, pending.RegistrationID)
	}

	return &pending, nil
}

// identityClaims verifies the id_token when present and returns the claims
// snapshot for the session: userinfo claims when the provider has a userinfo
// endpoint, id_token claims otherwise.
func (f *Flow) identityClaims(ctx context.Context, reg auth.ClientRegistration, pending *auth.AuthorizationRequestState, token *oauth2.Token, authorized *auth.AuthorizedClient) (map[string]any, error) {
	var claims map[string]any
	var subject string

	rawIDToken, _ := token.Extra("id_token").(string)
	switch {
	case rawIDToken != "":
		verifier, ok := f.verifiers[reg.ID]
		if !ok {
			return nil, fmt.Errorf("%w: no verifier configured for %s", auth.ErrIDTokenInvalid, reg.ID)
		}

		idToken, err := verifier.Verify(oidc.ClientContext(ctx, f.httpClient), rawIDToken)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", auth.ErrIDTokenInvalid, err)
		}

		if pending.Nonce != "" && !security.Equal(idToken.Nonce, pending.Nonce) {
			return nil, fmt.Errorf("%w: nonce mismatch", auth.ErrIDTokenInvalid)
		}

		if err := idToken.Claims(&claims); err != nil {
			return nil, fmt.Errorf("%w: failed to parse claims: %v", auth.ErrIDTokenInvalid, err)
		}
		subject = idToken.Subject

	case reg.IsOpenID():
		return nil, fmt.Errorf("%w: no id_token in token response", auth.ErrTokenExchangeFailed)
	}

	if reg.UserInfoURI == "" {
		if claims == nil {
			return nil, fmt.Errorf("%w: registration %s has neither id_token nor userinfo endpoint", auth.ErrUserInfoFailed, reg.ID)
		}
		return claims, nil
	}

	info, err := f.userInfo.Fetch(ctx, authorized)
	if err != nil {
		return nil, err
	}

	if subject != "" && claimString(info, "sub") != subject {
		return nil, fmt.Errorf("%w: userinfo subject does not match id_token", auth.ErrIDTokenInvalid)
	}

	return info, nil
}

func classifyExchangeError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		return fmt.Errorf("%w: status %d %s", auth.ErrTokenExchangeFailed, status, retrieveErr.ErrorCode)
	}

	if isTransportError(err) {
		return fmt.Errorf("%w: %v", auth.ErrProviderUnavailable, err)
	}

	return fmt.Errorf("%w: %v", auth.ErrTokenExchangeFailed, err)
}

func isTransportError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func grantedScopes(token *oauth2.Token, reg auth.ClientRegistration) []string {
	if scope, ok := token.Extra("scope").(string); ok && scope != "" {
		return strings.Fields(scope)
	}
	return reg.Scopes
}

func claimString(claims map[string]any, name string) string {
	switch v := claims[name].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return fmt.Sprint(v)
	}
}

// SanitizeReturnTo only allows local absolute paths so the post-login
// redirect can never leave this origin.
func SanitizeReturnTo(returnTo string) string {
	if returnTo == "" || !strings.HasPrefix(returnTo, "/") ||
		strings.HasPrefix(returnTo, "//") || strings.HasPrefix(returnTo, "/\\") {
		return "/"
	}
	u, err := url.Parse(returnTo)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}
	return returnTo
}
