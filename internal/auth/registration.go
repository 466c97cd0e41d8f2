package auth

import (
	"fmt"
	"slices"
	"sort"
)

// ClientRegistration is the static description of this application at one
// identity provider. It is immutable once the registry is built.
type ClientRegistration struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Issuer            string   `json:"issuer,omitempty"`
	ClientID          string   `json:"client_id"`
	ClientSecret      string   `json:"-"`
	AuthorizationURI  string   `json:"authorization_uri"`
	TokenURI          string   `json:"token_uri"`
	UserInfoURI       string   `json:"user_info_uri,omitempty"`
	JWKSURI           string   `json:"jwks_uri,omitempty"`
	Scopes            []string `json:"scopes"`
	UserNameAttribute string   `json:"user_name_attribute"`
	FullNameAttribute string   `json:"full_name_attribute"`
	PKCE              bool     `json:"pkce"`
	AuthMethod        string   `json:"auth_method"`
}

// IsOpenID reports whether the registration requests the openid scope and
// therefore expects an id_token from the token endpoint.
func (r ClientRegistration) IsOpenID() bool {
	return slices.Contains(r.Scopes, "openid")
}

// Registry holds the client registrations keyed by registration id.
type Registry struct {
	registrations map[string]ClientRegistration
	order         []string
}

func NewRegistry(registrations ...ClientRegistration) (*Registry, error) {
	r := &Registry{
		registrations: make(map[string]ClientRegistration, len(registrations)),
	}

	for _, reg := range registrations {
		if reg.ID == "" {
			return nil, fmt.Errorf("registration id is required")
		}
		if _, exists := r.registrations[reg.ID]; exists {
			return nil, fmt.Errorf("duplicate registration id: %s", reg.ID)
		}
		reg.Scopes = slices.Clone(reg.Scopes)
		r.registrations[reg.ID] = reg
		r.order = append(r.order, reg.ID)
	}

	return r, nil
}

// Get returns a copy of the registration so callers cannot mutate the registry.
func (r *Registry) Get(id string) (ClientRegistration, error) {
	reg, ok := r.registrations[id]
	if !ok {
		return ClientRegistration{}, fmt.Errorf("%w: %s", ErrUnknownRegistration, id)
	}
	reg.Scopes = slices.Clone(reg.Scopes)
	return reg, nil
}

// List returns registrations in configuration order.
func (r *Registry) List() []ClientRegistration {
	list := make([]ClientRegistration, 0, len(r.order))
	for _, id := range r.order {
		reg, _ := r.Get(id)
		list = append(list, reg)
	}
	return list
}

func (r *Registry) IDs() []string {
	ids := slices.Clone(r.order)
	sort.Strings(ids)
	return ids
}

func (r *Registry) Len() int {
	return len(r.order)
}

// CallbackPath is the redirect URI path the provider returns the browser to.
func CallbackPath(registrationID string) string {
	return "/login/callback/" + registrationID
}

// AuthorizationPath starts the authorization-code flow for a registration.
func AuthorizationPath(registrationID string) string {
	return "/oauth2/authorization/" + registrationID
}
