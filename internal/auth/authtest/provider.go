// Package authtest runs an in-process OpenID Connect provider for tests. It
// implements discovery, the authorization and token endpoints (with PKCE),
// userinfo and a JWKS, and signs id_tokens with a throwaway RSA key.
package authtest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"

	"github.com/marcogenualdo/authorize/internal/auth"
)

const (
	ClientID     = "test-client"
	ClientSecret = "test-secret"
)

type issuedCode struct {
	redirectURI   string
	nonce         string
	challenge     string
	scope         string
	authenticated map[string]any
}

// Provider is a stub identity provider. The exported knobs may be changed
// between requests; they are read under the provider lock.
type Provider struct {
	Server *httptest.Server

	mu     sync.Mutex
	key    *rsa.PrivateKey
	keyID  string
	claims map[string]any
	codes  map[string]issuedCode
	tokens map[string]time.Time

	// TokenStatus, when non-zero, is returned by the token endpoint instead of a token.
	TokenStatus int
	// TokenBody replaces the JSON token response when set.
	TokenBody string
	// UserInfoStatus, when non-zero, is returned by the userinfo endpoint.
	UserInfoStatus int
	// OmitIDToken drops the id_token from token responses.
	OmitIDToken bool
	// IDTokenAudience overrides the aud claim.
	IDTokenAudience string
	// IDTokenNonce overrides the nonce claim.
	IDTokenNonce string
	// UserInfoSubject overrides the sub claim served by the userinfo endpoint.
	UserInfoSubject string
	// TokenTTL is the advertised access token lifetime.
	TokenTTL time.Duration
	// TokenDelay slows the token endpoint down.
	TokenDelay time.Duration

	lastTokenForm url.Values
	tokenRequests int
	userInfoHits  int
}

func NewProvider(t testing.TB) *Provider {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	p := &Provider{
		key:   key,
		keyID: "test-key",
		claims: map[string]any{
			"sub":   "user-123",
			"name":  "Test User",
			"email": "user@example.com",
		},
		codes:    make(map[string]issuedCode),
		tokens:   make(map[string]time.Time),
		TokenTTL: time.Hour,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", p.handleDiscovery)
	mux.HandleFunc("GET /authorize", p.handleAuthorize)
	mux.HandleFunc("POST /token", p.handleToken)
	mux.HandleFunc("GET /userinfo", p.handleUserInfo)
	mux.HandleFunc("GET /jwks", p.handleJWKS)

	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Server.Close)

	return p
}

func (p *Provider) Issuer() string {
	return p.Server.URL
}

// Registration returns a fully populated OpenID registration for this provider.
func (p *Provider) Registration(id string) auth.ClientRegistration {
	return auth.ClientRegistration{
		ID:                id,
		Name:              "Test " + id,
		Issuer:            p.Issuer(),
		ClientID:          ClientID,
		ClientSecret:      ClientSecret,
		AuthorizationURI:  p.Server.URL + "/authorize",
		TokenURI:          p.Server.URL + "/token",
		UserInfoURI:       p.Server.URL + "/userinfo",
		JWKSURI:           p.Server.URL + "/jwks",
		Scopes:            []string{"openid", "profile", "email"},
		UserNameAttribute: "sub",
		FullNameAttribute: "name",
		PKCE:              true,
		AuthMethod:        "client_secret_post",
	}
}

// SetClaim changes the user's claims at the provider.
func (p *Provider) SetClaim(name string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.claims[name] = value
}

// RevokeTokens invalidates every access token issued so far.
func (p *Provider) RevokeTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.tokens)
}

func (p *Provider) LastTokenForm() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTokenForm
}

func (p *Provider) TokenRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenRequests
}

func (p *Provider) UserInfoHits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userInfoHits
}

// Configure applies fn under the provider lock.
func (p *Provider) Configure(fn func(p *Provider)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

// Authorize plays the browser at the authorization endpoint: it follows
// authURL and returns the code and state the provider redirects back with.
func (p *Provider) Authorize(t testing.TB, authURL string) (code, state string) {
	t.Helper()

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Get(authURL)
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		t.Fatalf("authorize: unexpected status %d", resp.StatusCode)
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("authorize: bad location: %v", err)
	}
	return loc.Query().Get("code"), loc.Query().Get("state")
}

func (p *Provider) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"issuer":                                p.Issuer(),
		"authorization_endpoint":                p.Server.URL + "/authorize",
		"token_endpoint":                        p.Server.URL + "/token",
		"userinfo_endpoint":                     p.Server.URL + "/userinfo",
		"jwks_uri":                              p.Server.URL + "/jwks",
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"code_challenge_methods_supported":      []string{"S256"},
	})
}

func (p *Provider) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("client_id") != ClientID || q.Get("response_type") != "code" {
		http.Error(w, "invalid_request", http.StatusBadRequest)
		return
	}

	redirectURI := q.Get("redirect_uri")
	target, err := url.Parse(redirectURI)
	if err != nil || redirectURI == "" {
		http.Error(w, "invalid redirect_uri", http.StatusBadRequest)
		return
	}

	if q.Get("code_challenge") != "" && q.Get("code_challenge_method") != "S256" {
		http.Error(w, "unsupported code_challenge_method", http.StatusBadRequest)
		return
	}

	code := randomString()

	p.mu.Lock()
	p.codes[code] = issuedCode{
		redirectURI:   redirectURI,
		nonce:         q.Get("nonce"),
		challenge:     q.Get("code_challenge"),
		scope:         q.Get("scope"),
		authenticated: maps.Clone(p.claims),
	}
	p.mu.Unlock()

	params := target.Query()
	params.Set("code", code)
	params.Set("state", q.Get("state"))
	target.RawQuery = params.Encode()

	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (p *Provider) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	p.mu.Lock()
	p.tokenRequests++
	p.lastTokenForm = r.PostForm
	delay := p.TokenDelay
	status := p.TokenStatus
	body := p.TokenBody
	p.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if status != 0 {
		writeOAuthError(w, status, "server_error")
		return
	}
	if body != "" {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
		return
	}

	clientID, clientSecret, ok := r.BasicAuth()
	if !ok {
		clientID, clientSecret = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
	}
	if clientID != ClientID || clientSecret != ClientSecret {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client")
		return
	}

	if r.PostForm.Get("grant_type") != "authorization_code" {
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type")
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	code := r.PostForm.Get("code")
	issued, ok := p.codes[code]
	if !ok {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant")
		return
	}
	delete(p.codes, code)

	if issued.redirectURI != r.PostForm.Get("redirect_uri") {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant")
		return
	}

	if issued.challenge != "" {
		sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
		if base64.RawURLEncoding.EncodeToString(sum[:]) != issued.challenge {
			writeOAuthError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
	}

	accessToken := randomString()
	p.tokens[accessToken] = time.Now().Add(p.TokenTTL)

	resp := map[string]any{
		"access_token":  accessToken,
		"token_type":    "Bearer",
		"expires_in":    int(p.TokenTTL.Seconds()),
		"refresh_token": randomString(),
		"scope":         issued.scope,
	}

	if strings.Contains(" "+issued.scope+" ", " openid ") && !p.OmitIDToken {
		idToken, err := p.signIDToken(issued)
		if err != nil {
			writeOAuthError(w, http.StatusInternalServerError, "server_error")
			return
		}
		resp["id_token"] = idToken
	}

	writeJSON(w, http.StatusOK, resp)
}

func (p *Provider) signIDToken(issued issuedCode) (string, error) {
	now := time.Now()

	audience := ClientID
	if p.IDTokenAudience != "" {
		audience = p.IDTokenAudience
	}
	nonce := issued.nonce
	if p.IDTokenNonce != "" {
		nonce = p.IDTokenNonce
	}

	claims := jwt.MapClaims{}
	for k, v := range issued.authenticated {
		claims[k] = v
	}
	claims["iss"] = p.Issuer()
	claims["aud"] = audience
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(10 * time.Minute).Unix()
	if nonce != "" {
		claims["nonce"] = nonce
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = p.keyID
	return token.SignedString(p.key)
}

func (p *Provider) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.userInfoHits++

	if p.UserInfoStatus != 0 {
		w.WriteHeader(p.UserInfoStatus)
		return
	}

	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	expiry, known := p.tokens[token]
	if !ok || !known || time.Now().After(expiry) {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	claims := maps.Clone(p.claims)
	if p.UserInfoSubject != "" {
		claims["sub"] = p.UserInfoSubject
	}
	writeJSON(w, http.StatusOK, claims)
}

func (p *Provider) handleJWKS(w http.ResponseWriter, r *http.Request) {
	set := jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{
			Key:       &p.key.PublicKey,
			KeyID:     p.keyID,
			Algorithm: string(jose.RS256),
			Use:       "sig",
		}},
	}
	writeJSON(w, http.StatusOK, set)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeOAuthError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func randomString() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("authtest: read random: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
