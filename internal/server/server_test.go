package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcogenualdo/authorize/internal/auth"
	"github.com/marcogenualdo/authorize/internal/auth/authtest"
	"github.com/marcogenualdo/authorize/internal/auth/oidc"
	"github.com/marcogenualdo/authorize/internal/cache"
	"github.com/marcogenualdo/authorize/internal/config"
	"github.com/marcogenualdo/authorize/internal/metrics"
	"github.com/marcogenualdo/authorize/internal/session"
	"github.com/marcogenualdo/authorize/internal/store"
	"github.com/marcogenualdo/authorize/internal/userinfo"
)

type testApp struct {
	provider *authtest.Provider
	server   *httptest.Server
	store    *store.MemoryStore
}

func newTestApp(t *testing.T, registrationIDs ...string) *testApp {
	t.Helper()
	if len(registrationIDs) == 0 {
		registrationIDs = []string{"stub"}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	p := authtest.NewProvider(t)

	var handler http.Handler
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)

	enabled := true
	cfg := config.Config{
		Server: config.ServerConfig{
			BaseURL:        ts.URL,
			CookieName:     "authorize-session",
			CookieHTTPOnly: true,
			CookieSameSite: "lax",
			SessionTTL:     time.Hour,
		},
		Cache:   config.CacheConfig{Type: "memory"},
		Metrics: config.MetricsConfig{Enabled: &enabled, Path: "/metrics"},
	}

	var regs []auth.ClientRegistration
	for _, id := range registrationIDs {
		regs = append(regs, p.Registration(id))
	}
	registry, err := auth.NewRegistry(regs...)
	require.NoError(t, err)

	mc := cache.NewMemoryCache()
	ms := store.NewMemoryStore()
	m := metrics.New()
	httpClient := oidc.NewHTTPClient(2 * time.Second)
	fetcher := userinfo.NewFetcher(httpClient, m, logger)

	flow, err := oidc.NewFlow(oidc.FlowConfig{BaseURL: ts.URL, HTTPClient: httpClient, Metrics: m}, registry, ms, mc, fetcher, logger)
	require.NoError(t, err)

	srv, err := New(cfg, mc, Dependencies{
		Registry:   registry,
		Authorizer: flow,
		Store:      ms,
		UserInfo:   fetcher,
		Binder:     session.NewBinder(cfg.Server, mc, logger),
		Metrics:    m,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Shutdown() })

	handler = srv.Handler()
	return &testApp{provider: p, server: ts, store: ms}
}

// browser follows redirects and keeps cookies, like a real user agent.
func (a *testApp) browser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar, Timeout: 5 * time.Second}
}

func noRedirects(client *http.Client) *http.Client {
	c := *client
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &c
}

func getJSON(t *testing.T, client *http.Client, target string, v any) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, target, nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if v != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp
}

type attributesBody struct {
	Source     string         `json:"source"`
	Attributes map[string]any `json:"attributes"`
}

func TestLoginLandsOnRequestedPage(t *testing.T) {
	app := newTestApp(t)
	browser := app.browser(t)

	var body attributesBody
	resp := getJSON(t, browser, app.server.URL+"/attributes", &body)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/attributes", resp.Request.URL.Path)
	assert.Equal(t, "session", body.Source)
	assert.Equal(t, "user-123", body.Attributes["sub"])
	assert.Equal(t, 1, app.store.Len())
}

func TestAttributesFreshness(t *testing.T) {
	app := newTestApp(t)
	browser := app.browser(t)

	var atLogin, latest attributesBody
	require.Equal(t, http.StatusOK, getJSON(t, browser, app.server.URL+"/attributes", &atLogin).StatusCode)
	require.Equal(t, http.StatusOK, getJSON(t, browser, app.server.URL+"/attributes/latest", &latest).StatusCode)
	assert.Equal(t, atLogin.Attributes, latest.Attributes)

	app.provider.SetClaim("name", "Renamed User")

	require.Equal(t, http.StatusOK, getJSON(t, browser, app.server.URL+"/attributes", &atLogin).StatusCode)
	require.Equal(t, http.StatusOK, getJSON(t, browser, app.server.URL+"/attributes/latest", &latest).StatusCode)
	assert.Equal(t, "Test User", atLogin.Attributes["name"])
	assert.Equal(t, "Renamed User", latest.Attributes["name"])
}

func TestIndexAndFullName(t *testing.T) {
	app := newTestApp(t)
	browser := app.browser(t)

	var index struct {
		Registration string   `json:"registration"`
		Principal    string   `json:"principal"`
		Scopes       []string `json:"scopes"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, browser, app.server.URL+"/", &index).StatusCode)
	assert.Equal(t, "Test stub", index.Registration)
	assert.Equal(t, "user-123", index.Principal)
	assert.Equal(t, []string{"openid", "profile", "email"}, index.Scopes)

	var hello struct {
		Username string `json:"username"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, browser, app.server.URL+"/google", &hello).StatusCode)
	assert.Equal(t, "Test User", hello.Username)
}

func TestUnauthenticatedPagesRedirectToProvider(t *testing.T) {
	app := newTestApp(t)
	client := noRedirects(app.browser(t))

	for _, path := range []string{"/", "/google", "/attributes", "/attributes/latest"} {
		t.Run(path, func(t *testing.T) {
			resp := getJSON(t, client, app.server.URL+path, nil)
			assert.Equal(t, http.StatusFound, resp.StatusCode)

			location, err := url.Parse(resp.Header.Get("Location"))
			require.NoError(t, err)
			assert.Equal(t, app.provider.Server.URL+"/authorize", location.Scheme+"://"+location.Host+location.Path)
			assert.NotEmpty(t, location.Query().Get("state"))
		})
	}
}

func TestUnauthenticatedWithSeveralRegistrationsGoesToChooser(t *testing.T) {
	app := newTestApp(t, "stub", "other")
	client := noRedirects(app.browser(t))

	resp := getJSON(t, client, app.server.URL+"/attributes", nil)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login?return_to=%2Fattributes", resp.Header.Get("Location"))

	var page struct {
		Registrations []struct {
			ID  string `json:"id"`
			URL string `json:"url"`
		} `json:"registrations"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, client, app.server.URL+"/login", &page).StatusCode)
	require.Len(t, page.Registrations, 2)
	assert.Equal(t, "/oauth2/authorization/other", page.Registrations[1].URL)
}

func TestReplayedCallbackIsRejected(t *testing.T) {
	app := newTestApp(t)
	browser := app.browser(t)

	var callbackURL string
	browser.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if strings.HasPrefix(req.URL.Path, "/login/callback/") {
			callbackURL = req.URL.String()
		}
		return nil
	}

	resp := getJSON(t, browser, app.server.URL+"/attributes", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, callbackURL)

	resp = getJSON(t, noRedirects(browser), callbackURL, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRevokedTokenSurfacesUnauthorized(t *testing.T) {
	app := newTestApp(t)
	browser := app.browser(t)

	require.Equal(t, http.StatusOK, getJSON(t, browser, app.server.URL+"/attributes", nil).StatusCode)
	app.provider.RevokeTokens()

	resp := getJSON(t, browser, app.server.URL+"/attributes/latest", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// The session survives a rejected token.
	assert.Equal(t, http.StatusOK, getJSON(t, browser, app.server.URL+"/attributes", nil).StatusCode)
}

func TestLogout(t *testing.T) {
	app := newTestApp(t)
	browser := app.browser(t)

	var index struct {
		CSRFToken string `json:"csrf_token"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, browser, app.server.URL+"/", &index).StatusCode)
	require.NotEmpty(t, index.CSRFToken)

	client := noRedirects(browser)

	resp, err := client.PostForm(app.server.URL+"/logout", url.Values{"csrf_token": {"forged"}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, err = client.PostForm(app.server.URL+"/logout", url.Values{"csrf_token": {index.CSRFToken}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))
	assert.Zero(t, app.store.Len())

	resp = getJSON(t, client, app.server.URL+"/attributes", nil)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	app := newTestApp(t)
	browser := app.browser(t)

	require.Equal(t, http.StatusOK, getJSON(t, browser, app.server.URL+"/attributes", nil).StatusCode)

	resp := getJSON(t, browser, app.server.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	resp, err := browser.Get(app.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(raw), `authorize_logins_total{registration="stub",result="ok"} 1`)
	assert.Contains(t, string(raw), `route="/login/callback/{registrationId}"`)
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(config.Config{}, cache.NewMemoryCache(), Dependencies{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
}
