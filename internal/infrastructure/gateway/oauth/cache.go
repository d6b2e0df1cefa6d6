// Package oauth implements the OAuth2 client-credentials grant with an
// injectable token cache.
package oauth

import (
	"sync"
	"time"
)

// Token is a bearer token with its local expiry.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Valid reports whether the token can still be used at now.
func (t Token) Valid(now time.Time) bool {
	return t.AccessToken != "" && now.Before(t.ExpiresAt)
}

// TokenCache stores tokens by credential key.
type TokenCache interface {
	Get(key string) (Token, bool)
	Set(key string, token Token)
	Invalidate(key string)
}

// MemoryCache is a process-local TokenCache. Expired entries are never returned.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]Token
	now     func() time.Time
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]Token), now: time.Now}
}

func (c *MemoryCache) Get(key string) (Token, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.entries[key]
	if !ok {
		return Token{}, false
	}
	if !t.Valid(c.now()) {
		delete(c.entries, key)
		return Token{}, false
	}
	return t, true
}

func (c *MemoryCache) Set(key string, token Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = token
}

func (c *MemoryCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}
