package userinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/marcogenualdo/authorize/internal/auth"
	"github.com/marcogenualdo/authorize/internal/metrics"
)

const maxBodyBytes = 1 << 20

// Fetcher calls a provider's userinfo endpoint with a stored access token.
type Fetcher struct {
	client  *http.Client
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewFetcher(client *http.Client, m *metrics.Metrics, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		client:  client,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

func (f *Fetcher) Fetch(ctx context.Context, client *auth.AuthorizedClient) (map[string]any, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: no authorized client", auth.ErrUserInfoFailed)
	}

	claims, err := f.fetch(ctx, client)
	f.metrics.ObserveUserInfo(client.Registration.ID, auth.ErrorCode(err))
	if err != nil {
		f.logger.Warn("userinfo request failed",
			"registration", client.Registration.ID,
			"principal", client.PrincipalName,
			"error", err,
		)
	}
	return claims, err
}

func (f *Fetcher) fetch(ctx context.Context, client *auth.AuthorizedClient) (map[string]any, error) {
	endpoint := client.Registration.UserInfoURI
	if endpoint == "" {
		return nil, fmt.Errorf("%w: registration %s has no userinfo endpoint", auth.ErrUserInfoFailed, client.Registration.ID)
	}

	if client.AccessToken.Expired(f.now()) {
		return nil, fmt.Errorf("%w: access token expired at %s", auth.ErrUnauthorized, client.AccessToken.ExpiresAt.Format(time.RFC3339))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrUserInfoFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+client.AccessToken.Value)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", auth.ErrProviderUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", auth.ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", auth.ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%w: status %d", auth.ErrUserInfoFailed, resp.StatusCode)
	}

	var claims map[string]any
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", auth.ErrUserInfoFailed, err)
	}
	if claims == nil {
		return nil, fmt.Errorf("%w: empty response", auth.ErrUserInfoFailed)
	}

	return claims, nil
}
