package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"fiscalhub/internal/core/apperror"
	"fiscalhub/internal/domain/fiscal"
	"fiscalhub/pkg/logger"
)

// Credentials are the decrypted provider secrets of a tenant profile.
type Credentials struct {
	// Token is the API token of token-authenticated providers.
	Token string `json:"token,omitempty"`
	// ClientID and ClientSecret are OAuth2 client credentials.
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	// Environment selects the provider environment ("producao" or "homologacao").
	Environment string `json:"environment,omitempty"`
}

// Sandbox reports whether documents go to the homologation environment.
func (c Credentials) Sandbox() bool {
	return c.Environment != "producao"
}

// Opener decrypts sealed profile credentials.
type Opener interface {
	Open(sealed []byte) ([]byte, error)
}

// Factory builds an adapter for a tenant profile.
type Factory func(profile *fiscal.Profile, creds Credentials) (fiscal.Gateway, error)

type cachedGateway struct {
	gw        fiscal.Gateway
	updatedAt time.Time
}

// Registry resolves the active adapter of each tenant. Adapters are built from
// the tenant's fiscal profile and kept until the profile changes, so OAuth
// tokens and connections are reused across requests.
type Registry struct {
	profiles  fiscal.ProfileRepository
	opener    Opener
	factories map[string]Factory

	mu    sync.Mutex
	cache map[string]cachedGateway
}

// NewRegistry creates an empty registry.
func NewRegistry(profiles fiscal.ProfileRepository, opener Opener) *Registry {
	return &Registry{
		profiles:  profiles,
		opener:    opener,
		factories: make(map[string]Factory),
		cache:     make(map[string]cachedGateway),
	}
}

// Register adds a provider factory.
func (r *Registry) Register(provider string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[provider] = f
}

// Resolve implements fiscal.GatewayResolver.
func (r *Registry) Resolve(ctx context.Context, tenantID string) (fiscal.Gateway, error) {
	profile, err := r.profiles.Get(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load fiscal profile: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.cache[tenantID]; ok && c.updatedAt.Equal(profile.UpdatedAt) {
		return c.gw, nil
	}

	factory, ok := r.factories[profile.Provider]
	if !ok {
		return nil, apperror.NewBusinessRule(apperror.CodeBusinessRule, "unknown fiscal provider").
			WithDetail("provider", profile.Provider)
	}

	creds, err := r.open(profile)
	if err != nil {
		return nil, err
	}
	gw, err := factory(profile, creds)
	if err != nil {
		return nil, fmt.Errorf("build %s gateway: %w", profile.Provider, err)
	}

	r.cache[tenantID] = cachedGateway{gw: gw, updatedAt: profile.UpdatedAt}
	logger.Info(ctx, "gateway ready", "tenant_id", tenantID, "provider", profile.Provider)
	return gw, nil
}

// Forget drops the cached adapter of a tenant.
func (r *Registry) Forget(tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, tenantID)
}

func (r *Registry) open(profile *fiscal.Profile) (Credentials, error) {
	var creds Credentials
	if len(profile.SealedCredentials) == 0 {
		return creds, apperror.NewBusinessRule(apperror.CodeBusinessRule, "fiscal profile has no provider credentials")
	}
	plain, err := r.opener.Open(profile.SealedCredentials)
	if err != nil {
		return creds, fmt.Errorf("open provider credentials: %w", err)
	}
	if err := json.Unmarshal(plain, &creds); err != nil {
		return creds, fmt.Errorf("decode provider credentials: %w", err)
	}
	return creds, nil
}

var _ fiscal.GatewayResolver = (*Registry)(nil)
