package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/marcogenualdo/authorize/internal/auth"
	"github.com/marcogenualdo/authorize/internal/cache"
)

const keyPrefix = "authorized_client:"

// CacheStore serializes authorized clients into the shared cache backend so
// several replicas behind a load balancer see the same authorizations. Only
// the registration id is persisted; Load resolves it against the registry,
// so client secrets never reach the cache.
type CacheStore struct {
	cache    cache.Cache
	registry *auth.Registry
}

type storedClient struct {
	RegistrationID string             `json:"registration_id"`
	PrincipalName  string             `json:"principal_name"`
	AccessToken    auth.AccessToken   `json:"access_token"`
	RefreshToken   *auth.RefreshToken `json:"refresh_token,omitempty"`
	Scopes         []string           `json:"scopes,omitempty"`
}

func NewCacheStore(c cache.Cache, registry *auth.Registry) *CacheStore {
	return &CacheStore{cache: c, registry: registry}
}

func (s *CacheStore) Save(ctx context.Context, client *auth.AuthorizedClient) error {
	if client == nil {
		return fmt.Errorf("authorized client is required")
	}
	if client.Registration.ID == "" || client.PrincipalName == "" {
		return fmt.Errorf("authorized client needs a registration id and principal name")
	}

	data, err := json.Marshal(storedClient{
		RegistrationID: client.Registration.ID,
		PrincipalName:  client.PrincipalName,
		AccessToken:    client.AccessToken,
		RefreshToken:   client.RefreshToken,
		Scopes:         client.Scopes,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal authorized client: %w", err)
	}

	if err := s.cache.Set(ctx, cacheKey(client.Registration.ID, client.PrincipalName), data, 0); err != nil {
		return fmt.Errorf("failed to store authorized client: %w", err)
	}
	return nil
}

func (s *CacheStore) Load(ctx context.Context, registrationID, principalName string) (*auth.AuthorizedClient, error) {
	data, err := s.cache.Get(ctx, cacheKey(registrationID, principalName))
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, fmt.Errorf("authorized client %s/%s: %w", registrationID, principalName, auth.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load authorized client: %w", err)
	}

	var stored storedClient
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorized client: %w", err)
	}

	// A registration dropped from the configuration orphans its clients.
	reg, err := s.registry.Get(stored.RegistrationID)
	if err != nil {
		return nil, fmt.Errorf("authorized client %s/%s: %w", registrationID, principalName, auth.ErrNotFound)
	}

	return &auth.AuthorizedClient{
		Registration:  reg,
		PrincipalName: stored.PrincipalName,
		AccessToken:   stored.AccessToken,
		RefreshToken:  stored.RefreshToken,
		Scopes:        stored.Scopes,
	}, nil
}

func (s *CacheStore) Remove(ctx context.Context, registrationID, principalName string) error {
	return s.cache.Delete(ctx, cacheKey(registrationID, principalName))
}

func cacheKey(registrationID, principalName string) string {
	return keyPrefix + registrationID + ":" + principalName
}
