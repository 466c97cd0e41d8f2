package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/marcogenualdo/authorize/internal/auth"
)

type clientKey struct {
	registrationID string
	principalName  string
}

// MemoryStore keeps authorized clients in process. Entries are never evicted;
// they are replaced on re-authorization and removed on logout.
type MemoryStore struct {
	mu      sync.RWMutex
	clients map[clientKey]auth.AuthorizedClient
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clients: make(map[clientKey]auth.AuthorizedClient),
	}
}

func (s *MemoryStore) Save(ctx context.Context, client *auth.AuthorizedClient) error {
	if client == nil {
		return fmt.Errorf("authorized client is required")
	}
	key := clientKey{client.Registration.ID, client.PrincipalName}
	if key.registrationID == "" || key.principalName == "" {
		return fmt.Errorf("authorized client needs a registration id and principal name")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.clients[key] = cloneClient(*client)
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, registrationID, principalName string) (*auth.AuthorizedClient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientKey{registrationID, principalName}]
	if !ok {
		return nil, fmt.Errorf("authorized client %s/%s: %w", registrationID, principalName, auth.ErrNotFound)
	}

	c := cloneClient(client)
	return &c, nil
}

func (s *MemoryStore) Remove(ctx context.Context, registrationID, principalName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.clients, clientKey{registrationID, principalName})
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func cloneClient(c auth.AuthorizedClient) auth.AuthorizedClient {
	c.Registration.Scopes = slices.Clone(c.Registration.Scopes)
	c.Scopes = slices.Clone(c.Scopes)
	if c.RefreshToken != nil {
		rt := *c.RefreshToken
		c.RefreshToken = &rt
	}
	return c
}
