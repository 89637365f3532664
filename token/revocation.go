package token

import (
	"sync"
	"time"
)

// RevokedTokenCache remembers revoked token ids until the tokens would have
// expired anyway
type RevokedTokenCache interface {
	Revoke(jti string, expiresAt time.Time)
	IsRevoked(jti string, now time.Time) bool
	Len() int
}

type InMemoryRevokedTokenCache struct {
	mu      sync.Mutex
	revoked map[string]time.Time // jti to token expiry
}

var _ RevokedTokenCache = (*InMemoryRevokedTokenCache)(nil)

func NewInMemoryRevokedTokenCache() *InMemoryRevokedTokenCache {
	return &InMemoryRevokedTokenCache{
		revoked: make(map[string]time.Time),
	}
}

// Revoke records jti until expiresAt
func (c *InMemoryRevokedTokenCache) Revoke(jti string, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revoked[jti] = expiresAt
}

// IsRevoked reports whether jti was revoked and has not yet expired at now.
// Expired entries are pruned as they are found.
func (c *InMemoryRevokedTokenCache) IsRevoked(jti string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	expiresAt, ok := c.revoked[jti]
	if !ok {
		return false
	}
	if !now.Before(expiresAt) {
		delete(c.revoked, jti)
		return false
	}
	return true
}

func (c *InMemoryRevokedTokenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.revoked)
}
