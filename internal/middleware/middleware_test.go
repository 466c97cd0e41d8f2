package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcogenualdo/authorize/internal/auth"
	"github.com/marcogenualdo/authorize/internal/cache"
	"github.com/marcogenualdo/authorize/internal/metrics"
	"github.com/marcogenualdo/authorize/internal/session"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBinder struct {
	principal *auth.SessionPrincipal
	err       error
}

func (f *fakeBinder) OnLoginSuccess(ctx context.Context, w http.ResponseWriter, r *http.Request, principal *auth.SessionPrincipal) error {
	return nil
}

func (f *fakeBinder) Current(r *http.Request) (*auth.SessionPrincipal, error) {
	return f.principal, f.err
}

func (f *fakeBinder) Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return nil
}

type redirectRecorder struct {
	calls int
}

func (rr *redirectRecorder) RedirectToLogin(w http.ResponseWriter, r *http.Request) {
	rr.calls++
	http.Redirect(w, r, "/login", http.StatusFound)
}

func TestRequireAuthPassesPrincipal(t *testing.T) {
	principal := &auth.SessionPrincipal{Name: "user-123", RegistrationID: "google"}
	redirector := &redirectRecorder{}
	am := NewAuthMiddleware(&fakeBinder{principal: principal}, redirector, discardLogger())

	var seen *auth.SessionPrincipal
	handler := am.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = session.PrincipalFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/attributes", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, principal, seen)
	assert.Zero(t, redirector.calls)
}

func TestRequireAuthRedirects(t *testing.T) {
	for name, err := range map[string]error{
		"no session":    auth.ErrUnauthenticated,
		"cache failure": errors.New("connection refused"),
	} {
		t.Run(name, func(t *testing.T) {
			redirector := &redirectRecorder{}
			am := NewAuthMiddleware(&fakeBinder{err: err}, redirector, discardLogger())

			handler := am.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler must not run")
			}))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/attributes", nil))

			assert.Equal(t, http.StatusFound, rec.Code)
			assert.Equal(t, "/login", rec.Header().Get("Location"))
			assert.Equal(t, 1, redirector.calls)
		})
	}
}

// sessionRequest returns a request carrying the session cookie sid.
func sessionRequest(method, sid string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, "/logout", body)
	if sid != "" {
		req.AddCookie(&http.Cookie{Name: "sid", Value: sid})
	}
	return req
}

func newCSRF(t *testing.T) *CSRFMiddleware {
	t.Helper()
	mc := cache.NewMemoryCache()
	t.Cleanup(func() { mc.Close() })
	return NewCSRFMiddleware(mc, "sid", discardLogger())
}

func noContent(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func TestCSRFTokenIsSingleUse(t *testing.T) {
	cm := newCSRF(t)

	token, err := cm.GenerateCSRFToken(sessionRequest(http.MethodGet, "session-a", nil))
	require.NoError(t, err)

	handler := cm.ValidateCSRF(http.HandlerFunc(noContent))

	post := func(token string) int {
		form := url.Values{"csrf_token": {token}}
		req := sessionRequest(http.MethodPost, "session-a", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, post(token))
	assert.Equal(t, http.StatusForbidden, post(token))
	assert.Equal(t, http.StatusForbidden, post(""))
	assert.Equal(t, http.StatusForbidden, post("forged"))
}

func TestCSRFTokenIsBoundToSession(t *testing.T) {
	cm := newCSRF(t)
	handler := cm.ValidateCSRF(http.HandlerFunc(noContent))

	for name, sid := range map[string]string{
		"other session": "session-b",
		"no session":    "",
	} {
		t.Run(name, func(t *testing.T) {
			token, err := cm.GenerateCSRFToken(sessionRequest(http.MethodGet, "session-a", nil))
			require.NoError(t, err)

			req := sessionRequest(http.MethodPost, sid, nil)
			req.Header.Set("X-CSRF-Token", token)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusForbidden, rec.Code)
		})
	}

	_, err := cm.GenerateCSRFToken(sessionRequest(http.MethodGet, "", nil))
	require.ErrorIs(t, err, errNoSession)
}

func TestCSRFAcceptsHeaderAndIgnoresSafeMethods(t *testing.T) {
	cm := newCSRF(t)
	handler := cm.ValidateCSRF(http.HandlerFunc(noContent))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/logout", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	token, err := cm.GenerateCSRFToken(sessionRequest(http.MethodGet, "session-a", nil))
	require.NoError(t, err)

	req := sessionRequest(http.MethodPost, "session-a", nil)
	req.Header.Set("X-CSRF-Token", token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestLoggingIncludesRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := chimw.RequestID(Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "request", entry["msg"])
	assert.NotEmpty(t, entry["request_id"])
	assert.Equal(t, "/health", entry["path"])
	assert.Equal(t, float64(http.StatusTeapot), entry["status"])
	assert.Equal(t, float64(len("short and stout")), entry["bytes"])
	assert.Equal(t, entry["request_id"], rec.Header().Get("X-Request-Id"))
}

func TestMetricsUsesRoutePattern(t *testing.T) {
	m := metrics.New()

	r := chi.NewRouter()
	r.Use(Metrics(m))
	r.Get("/login/callback/{registrationId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusFound)
	})

	for _, id := range []string{"google", "github"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/login/callback/"+id, nil))
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	assert.Contains(t, body, `http_requests_total{method="GET",route="/login/callback/{registrationId}",status="302"} 2`)
	assert.Contains(t, body, `http_requests_total{method="GET",route="unmatched",status="404"} 1`)
}

func TestRecovery(t *testing.T) {
	handler := Recovery(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal Server Error", rec.Body.String())
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))
}
