// Package auth checks API keys presented on the HTTP endpoints
package auth

import (
	"crypto/subtle"
	"sync"
)

// APIKeyAuth provides a simple API key authentication. With no keys
// configured every request is allowed.
type APIKeyAuth struct {
	mu        sync.RWMutex
	validKeys map[string]struct{}
}

// NewAPIKeyAuth creates a new API key authentication middleware
func NewAPIKeyAuth(keys []string) *APIKeyAuth {
	a := &APIKeyAuth{validKeys: make(map[string]struct{})}
	for _, key := range keys {
		a.AddKey(key)
	}
	return a
}

// AddKey adds a new valid API key. Empty keys are ignored.
func (a *APIKeyAuth) AddKey(key string) {
	if key == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.validKeys[key] = struct{}{}
}

// RemoveKey removes a valid API key
func (a *APIKeyAuth) RemoveKey(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.validKeys, key)
}

// Enabled reports whether any key is configured
func (a *APIKeyAuth) Enabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.validKeys) > 0
}

// IsValidKey checks if a key is valid
func (a *APIKeyAuth) IsValidKey(key string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if len(a.validKeys) == 0 {
		return true
	}

	valid := false
	for k := range a.validKeys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			valid = true
		}
	}
	return valid
}
