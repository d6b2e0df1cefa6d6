package oauth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"fiscalhub/pkg/logger"
)

// MaxTokenTTL caps how long a token is cached, whatever the server grants.
const MaxTokenTTL = 50 * time.Minute

const tokenTimeout = 15 * time.Second

// Config identifies one OAuth2 client.
type Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// ClientCredentials fetches and caches bearer tokens. Concurrent callers that
// find the cache empty share one token request.
type ClientCredentials struct {
	cfg    Config
	key    string
	cache  TokenCache
	http   *http.Client
	group  singleflight.Group
	now    func() time.Time
	maxTTL time.Duration
}

// NewClientCredentials creates a token source. A nil cache gets a private
// MemoryCache; a nil httpClient gets a default one.
func NewClientCredentials(cfg Config, cache TokenCache, httpClient *http.Client) *ClientCredentials {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: tokenTimeout}
	}
	return &ClientCredentials{
		cfg:    cfg,
		key:    cfg.TokenURL + "|" + cfg.ClientID,
		cache:  cache,
		http:   httpClient,
		now:    time.Now,
		maxTTL: MaxTokenTTL,
	}
}

// Token returns a cached token or fetches a new one.
func (c *ClientCredentials) Token(ctx context.Context) (string, error) {
	if t, ok := c.cache.Get(c.key); ok {
		return t.AccessToken, nil
	}

	v, err, _ := c.group.Do(c.key, func() (any, error) {
		if t, ok := c.cache.Get(c.key); ok {
			return t, nil
		}
		t, err := c.fetch(ctx)
		if err != nil {
			return Token{}, err
		}
		c.cache.Set(c.key, t)
		return t, nil
	})
	if err != nil {
		return "", err
	}
	return v.(Token).AccessToken, nil
}

// Authorize sets a bearer token on req.
func (c *ClientCredentials) Authorize(ctx context.Context, req *http.Request) error {
	token, err := c.Token(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// Invalidate drops the cached token.
func (c *ClientCredentials) Invalidate() {
	c.cache.Invalidate(c.key)
}

func (c *ClientCredentials) fetch(ctx context.Context) (Token, error) {
	cc := clientcredentials.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		TokenURL:     c.cfg.TokenURL,
		Scopes:       c.cfg.Scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	ctx, cancel := context.WithTimeout(ctx, tokenTimeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)

	issued := c.now()
	started := time.Now()
	tok, err := cc.Token(ctx)
	if err != nil {
		return Token{}, fmt.Errorf("token request: %w", err)
	}

	// Expiry is stamped by the wall clock after the response arrives.
	ttl := c.maxTTL
	if !tok.Expiry.IsZero() {
		if granted := tok.Expiry.Sub(started).Truncate(time.Second); granted > 0 && granted < ttl {
			ttl = granted
		}
	}
	logger.Debug(ctx, "oauth token issued", "client_id", c.cfg.ClientID, "ttl", ttl)
	return Token{AccessToken: tok.AccessToken, ExpiresAt: issued.Add(ttl)}, nil
}
