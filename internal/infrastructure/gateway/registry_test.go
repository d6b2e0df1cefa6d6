package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiscalhub/internal/core/apperror"
	"fiscalhub/internal/domain/fiscal"
)

type profileStore struct {
	profile *fiscal.Profile
	err     error
}

func (s *profileStore) Get(context.Context, string) (*fiscal.Profile, error) {
	if s.err != nil {
		return nil, s.err
	}
	cp := *s.profile
	return &cp, nil
}

func (s *profileStore) Save(_ context.Context, p *fiscal.Profile) error {
	s.profile = p
	return nil
}

// plainOpener treats sealed bytes as plaintext.
type plainOpener struct{ err error }

func (o plainOpener) Open(sealed []byte) ([]byte, error) { return sealed, o.err }

type namedGateway struct {
	fiscal.Gateway
	creds Credentials
}

func (g namedGateway) Name() string { return "fake" }

func newRegistry(store *profileStore, opener Opener) (*Registry, *int) {
	builds := 0
	r := NewRegistry(store, opener)
	r.Register("fake", func(_ *fiscal.Profile, c Credentials) (fiscal.Gateway, error) {
		builds++
		return namedGateway{creds: c}, nil
	})
	return r, &builds
}

func TestRegistry_BuildsOncePerProfileVersion(t *testing.T) {
	store := &profileStore{profile: &fiscal.Profile{
		TenantID:          "t1",
		Provider:          "fake",
		SealedCredentials: []byte(`{"client_id":"id","client_secret":"s","environment":"producao"}`),
		UpdatedAt:         time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}}
	r, builds := newRegistry(store, plainOpener{})
	ctx := context.Background()

	gw, err := r.Resolve(ctx, "t1")
	require.NoError(t, err)
	creds := gw.(namedGateway).creds
	assert.Equal(t, "id", creds.ClientID)
	assert.False(t, creds.Sandbox())

	_, err = r.Resolve(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, *builds)

	store.profile.UpdatedAt = store.profile.UpdatedAt.Add(time.Minute)
	_, err = r.Resolve(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, *builds)

	r.Forget("t1")
	_, err = r.Resolve(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 3, *builds)
}

func TestRegistry_Errors(t *testing.T) {
	ctx := context.Background()

	store := &profileStore{profile: &fiscal.Profile{TenantID: "t1", Provider: "unknown", SealedCredentials: []byte(`{}`)}}
	r, _ := newRegistry(store, plainOpener{})
	_, err := r.Resolve(ctx, "t1")
	assert.True(t, apperror.HasCode(err, apperror.CodeBusinessRule))

	store.profile.Provider = "fake"
	store.profile.SealedCredentials = nil
	_, err = r.Resolve(ctx, "t1")
	assert.True(t, apperror.HasCode(err, apperror.CodeBusinessRule))

	store.profile.SealedCredentials = []byte(`{}`)
	r, _ = newRegistry(store, plainOpener{err: errors.New("bad key")})
	_, err = r.Resolve(ctx, "t1")
	assert.ErrorContains(t, err, "bad key")

	r, _ = newRegistry(&profileStore{err: apperror.NewNotFound("fiscal_profile", "t2")}, plainOpener{})
	_, err = r.Resolve(ctx, "t2")
	assert.True(t, apperror.IsNotFound(err))
}

func TestCredentials_Sandbox(t *testing.T) {
	assert.True(t, Credentials{}.Sandbox())
	assert.True(t, Credentials{Environment: "homologacao"}.Sandbox())
	assert.False(t, Credentials{Environment: "producao"}.Sandbox())
}
